package config

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
)

const defaultWatchInterval = 30 * time.Second

// Watch loads the config at path, hands it to onUpdate and then polls the
// file every interval, handing over each new version that loads. A version
// that fails to load is logged and the previous config stays in effect until
// the file changes again.
func Watch(ctx context.Context, path string, interval time.Duration, logger *zerolog.Logger, onUpdate func(*Config)) error {
	if interval <= 0 {
		interval = defaultWatchInterval
	}
	w, err := newWatcher(path, logger, onUpdate)
	if err != nil {
		return err
	}

	go w.run(ctx, interval)
	return nil
}

type watcher struct {
	path     string
	onUpdate func(*Config)
	logger   zerolog.Logger

	lastMod    time.Time
	statFailed bool
}

func newWatcher(path string, logger *zerolog.Logger, onUpdate func(*Config)) (*watcher, error) {
	if path == "" {
		path = DefaultPath
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "config").Str("path", path).Logger()
	}
	w := &watcher{path: path, onUpdate: onUpdate, logger: l}

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	w.lastMod = info.ModTime()
	w.apply(cfg)
	return w, nil
}

func (w *watcher) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll()
		}
	}
}

// poll reloads the file if it changed since the last look and reports
// whether a new config was applied.
func (w *watcher) poll() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		if !w.statFailed {
			w.logger.Warn().Err(err).Msg("config file unreadable, keeping current config")
		}
		w.statFailed = true
		return false
	}
	if w.statFailed {
		w.logger.Info().Msg("config file readable again")
		w.statFailed = false
	}
	if !info.ModTime().After(w.lastMod) {
		return false
	}
	w.lastMod = info.ModTime()

	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Msg("config reload failed, keeping current config")
		return false
	}
	w.logger.Debug().Time("modified", w.lastMod).Msg("config reloaded")
	w.apply(cfg)
	return true
}

func (w *watcher) apply(cfg *Config) {
	if w.onUpdate != nil {
		w.onUpdate(cfg)
	}
}
