package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"slotsync/internal/availability"
	"slotsync/internal/backend"
	"slotsync/internal/booking"
	"slotsync/internal/checkout"
	"slotsync/internal/config"
	"slotsync/internal/dashboard"
	"slotsync/internal/events"
	"slotsync/internal/httpapi"
	"slotsync/internal/metrics"
	"slotsync/internal/notify"
	"slotsync/internal/report"
	"slotsync/internal/session"
	"slotsync/internal/slots"
)

const usage = `usage: slotsync [serve | export -o file.xlsx | book -email E -date YYYY-MM-DD -time HH:MM]`

func main() {
	// Initialize logger
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	cfgPath := os.Getenv("SLOTSYNC_CONFIG_PATH")
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Log.Format == "json" {
		logger = zerolog.New(os.Stdout).With().Timestamp().Logger()
	}
	logger = logger.Level(cfg.LogLevel())

	cmd, args := "serve", os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		cmd, args = args[0], args[1:]
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a := newApp(cfg, &logger)
	defer a.close()

	switch cmd {
	case "serve":
		err = a.serve(ctx, cfgPath)
	case "export":
		err = a.export(ctx, args)
	case "book":
		err = a.book(ctx, args)
	default:
		err = errors.New(usage)
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", cmd).Msg("slotsync failed")
	}
}

// app holds the wired components shared by every command.
type app struct {
	cfg      *config.Config
	logger   *zerolog.Logger
	client   *backend.Client
	rdb      *redis.Client
	bus      *events.Bus
	views    *availability.Service
	sessions *session.Manager
	coord    *checkout.Coordinator
	svc      *dashboard.Service
}

func newApp(cfg *config.Config, logger *zerolog.Logger) *app {
	a := &app{cfg: cfg, logger: logger}
	a.client = backend.NewClient(cfg.Backend.BaseURL, cfg.Backend.AuthBaseURL, cfg.Backend.APIKey, cfg.FetchTimeout())
	a.bus = events.NewBus(logger)
	a.views = availability.NewService(a.client, cfg.FetchTimeout(), logger)

	var store session.Store = session.NewMemoryStore()
	if cfg.Redis.Address != "" {
		a.rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		store = session.NewFailoverStore(session.NewRedisStore(a.rdb, cfg.SessionTTL()), store, logger)
	} else {
		logger.Warn().Msg("redis.address not set; sessions are kept in memory")
	}
	a.sessions = session.NewManager(store, a.bus, a.client, logger)

	a.coord = checkout.New(a.client, a.views, a.client, a.sessions, a.bus, checkout.Options{
		Amount:     cfg.CheckoutAmount(),
		AttemptTTL: cfg.AttemptTTL(),
	}, logger)

	flows := booking.NewStore(cfg.FlowTimeout())
	a.svc = dashboard.New(a.views, a.client, a.sessions, a.coord, flows, a.bus, cfg.FetchTimeout(), logger)
	return a
}

func (a *app) close() {
	if a.rdb != nil {
		_ = a.rdb.Close()
	}
}

func (a *app) serve(ctx context.Context, cfgPath string) error {
	cfg, logger := a.cfg, a.logger

	if cfg.Telegram.Enabled {
		tg, err := notify.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID, logger)
		if err != nil {
			return err
		}
		tg.Attach(a.bus)
	}

	if err := config.Watch(ctx, cfgPath, 30*time.Second, logger, func(c *config.Config) {
		a.coord.SetAmount(c.CheckoutAmount())
		logger.Info().Int("amount", c.CheckoutAmount()).Msg("config applied")
	}); err != nil {
		logger.Warn().Err(err).Msg("config watch disabled")
	}

	rate, burst := cfg.RateLimit()
	limiter := httpapi.NewRateLimiter(rate, burst)

	checks := map[string]httpapi.Check{"backend": a.client.HealthCheck}
	if a.rdb != nil {
		checks["redis"] = func(ctx context.Context) error { return a.rdb.Ping(ctx).Err() }
	}

	opts := httpapi.Options{Limiter: limiter, Checks: checks, Logger: logger}
	if cfg.Checkout.DevGatewaySecret != "" {
		opts.Gateway = checkout.DevGateway{Secret: cfg.Checkout.DevGatewaySecret}
		logger.Warn().Msg("development payment gateway enabled")
	}
	handler := httpapi.New(a.svc, a.sessions, opts).Handler()

	if cfg.Monitoring.HealthCheckPort != 0 {
		go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, handler, logger)
	}
	if cfg.Monitoring.PrometheusEnabled {
		if cfg.Monitoring.PrometheusPort == 0 {
			cfg.Monitoring.PrometheusPort = 9090
		}
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
	}

	go a.cleanupLoop(ctx, limiter)

	srv := &http.Server{
		Addr:              cfg.HTTPAddress(),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()

	logger.Info().Str("address", srv.Addr).Int("amount", a.coord.Amount()).Msg("slotsync started")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	logger.Info().Msg("slotsync stopped")
	return nil
}

func (a *app) cleanupLoop(ctx context.Context, limiter *httpapi.RateLimiter) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			flows, attempts := a.svc.Cleanup()
			clients := limiter.Cleanup()
			if flows+attempts+clients > 0 {
				a.logger.Debug().
					Int("flows", flows).
					Int("attempts", attempts).
					Int("clients", clients).
					Msg("expired state removed")
			}
		}
	}
}

func (a *app) export(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("export", flag.ContinueOnError)
	out := fs.String("o", "availability.xlsx", "output file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	days, err := a.views.Booking(ctx)
	if err != nil {
		return err
	}
	summary, err := a.views.Summary(ctx)
	if err != nil {
		return err
	}

	wb, err := report.Availability(days, summary)
	if err != nil {
		return err
	}
	defer wb.Close()

	if err := wb.SaveToFile(*out); err != nil {
		return fmt.Errorf("save %s: %w", *out, err)
	}
	a.logger.Info().Str("file", *out).Int("days", len(days)).Msg("availability exported")
	return nil
}

// book runs a whole checkout through the development gateway.
func (a *app) book(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("book", flag.ContinueOnError)
	email := fs.String("email", "", "user email")
	dateArg := fs.String("date", "", "interview date, YYYY-MM-DD")
	timeArg := fs.String("time", "", "interview time, HH:MM")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if a.cfg.Checkout.DevGatewaySecret == "" {
		return errors.New("checkout.dev_gateway_secret is required to book from the command line")
	}

	date, err := slots.ParseDate(*dateArg)
	if err != nil {
		return err
	}
	at, err := slots.ParseClock(*timeArg)
	if err != nil {
		return err
	}

	profile, err := a.sessions.Current(ctx, session.NormalizeEmail(*email))
	if errors.Is(err, session.ErrNotFound) {
		profile, err = a.sessions.Login(ctx, session.Profile{Email: *email})
	}
	if err != nil {
		return err
	}

	res := a.coord.Run(ctx, checkout.DevGateway{Secret: a.cfg.Checkout.DevGatewaySecret}, *profile, date, at)
	if res.Err != nil {
		return fmt.Errorf("%s: %s: %w", res.Outcome, booking.UserMessage(res.Err), res.Err)
	}
	a.logger.Info().
		Str("payment", res.Receipt.PaymentID).
		Str("date", date.String()).
		Str("time", at.String()).
		Str("summary", res.Receipt.Summary.Title()).
		Msg("interview booked")
	return nil
}

func startHealthServer(ctx context.Context, port int, api http.Handler, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/healthz", api)
	mux.Handle("/readyz", api)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("health server error")
	}
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
