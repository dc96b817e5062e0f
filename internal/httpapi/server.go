// Package httpapi exposes the booking engine as a JSON API.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"slotsync/internal/checkout"
	"slotsync/internal/dashboard"
	"slotsync/internal/session"
)

// Check is a readiness probe of one dependency.
type Check func(ctx context.Context) error

type Options struct {
	// Gateway, when set, enables POST /api/checkout/{id}/pay.
	Gateway checkout.Gateway
	Limiter *RateLimiter
	Checks  map[string]Check
	Logger  *zerolog.Logger
}

type Server struct {
	svc      *dashboard.Service
	sessions *session.Manager
	gateway  checkout.Gateway
	limiter  *RateLimiter
	checks   map[string]Check
	logger   zerolog.Logger
}

func New(svc *dashboard.Service, sessions *session.Manager, opts Options) *Server {
	l := zerolog.Nop()
	if opts.Logger != nil {
		l = opts.Logger.With().Str("component", "http").Logger()
	}
	return &Server{
		svc:      svc,
		sessions: sessions,
		gateway:  opts.Gateway,
		limiter:  opts.Limiter,
		checks:   opts.Checks,
		logger:   l,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)

	r.Route("/api", func(api chi.Router) {
		if s.limiter != nil {
			api.Use(s.limiter.Middleware)
		}

		api.Get("/slots", s.handleSlots)
		api.Get("/slots/summary", s.handleSlotsSummary)
		api.Get("/slots/export.xlsx", s.handleExport)
		api.Get("/bookings/{email}/summary", s.handleBookingSummary)

		api.Post("/session", s.handleLogin)
		api.Route("/session/{email}", func(r chi.Router) {
			r.Get("/", s.handleGetSession)
			r.Patch("/", s.handleUpdateSession)
			r.Delete("/", s.handleLogout)
		})

		api.Route("/flow/{email}", func(r chi.Router) {
			r.Get("/", s.handleFlow)
			r.Post("/date", s.handleSelectDate)
			r.Post("/slot", s.handleToggleSlot)
		})

		api.Post("/checkout", s.handleStartCheckout)
		api.Route("/checkout/{id}", func(r chi.Router) {
			r.Post("/complete", s.handleCompleteCheckout)
			r.Post("/cancel", s.handleCancelCheckout)
			if s.gateway != nil {
				r.Post("/pay", s.handlePay)
			}
		})
	})
	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	status := http.StatusOK
	results := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(ctx); err != nil {
			status = http.StatusServiceUnavailable
			results[name] = err.Error()
			continue
		}
		results[name] = "ok"
	}

	state := "ready"
	if status != http.StatusOK {
		state = "not ready"
	}
	writeJSON(w, status, map[string]any{"status": state, "checks": results})
}
