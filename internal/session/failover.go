package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"slotsync/internal/metrics"
)

const primaryRetryInterval = time.Minute

// FailoverStore serves from primary and switches to fallback when primary
// errors. While primary is down it is retried at most once per minute.
type FailoverStore struct {
	primary  Store
	fallback Store
	logger   zerolog.Logger

	isDown    atomic.Bool
	mu        sync.Mutex
	lastCheck time.Time
}

func NewFailoverStore(primary, fallback Store, logger *zerolog.Logger) *FailoverStore {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "session_store").Logger()
	}
	return &FailoverStore{primary: primary, fallback: fallback, logger: l}
}

func (s *FailoverStore) usePrimary() bool {
	if !s.isDown.Load() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return time.Since(s.lastCheck) > primaryRetryInterval
}

func (s *FailoverStore) markDown(op string, err error) {
	s.mu.Lock()
	s.lastCheck = time.Now()
	s.mu.Unlock()

	if !s.isDown.Swap(true) {
		s.logger.Warn().Err(err).Str("op", op).Msg("primary session store failed, using fallback")
	}
}

func (s *FailoverStore) markUp() {
	if s.isDown.Swap(false) {
		s.logger.Info().Msg("primary session store recovered")
	}
}

// Load reads from primary. A profile written to fallback during an outage is
// still found after primary recovers and is copied back to it.
func (s *FailoverStore) Load(ctx context.Context, email string) (*Profile, error) {
	if s.usePrimary() {
		p, err := s.primary.Load(ctx, email)
		switch {
		case err == nil:
			s.markUp()
			return p, nil
		case errors.Is(err, ErrNotFound):
			s.markUp()
			return s.recoverFromFallback(ctx, email)
		default:
			s.markDown("load", err)
		}
	}

	metrics.IncSessionFallback("load")
	return s.fallback.Load(ctx, email)
}

func (s *FailoverStore) recoverFromFallback(ctx context.Context, email string) (*Profile, error) {
	p, err := s.fallback.Load(ctx, email)
	if err != nil {
		return nil, err
	}
	if err := s.primary.Save(ctx, p); err != nil {
		s.logger.Warn().Err(err).Msg("copy session back to primary failed")
		return p, nil
	}
	_ = s.fallback.Delete(ctx, email)
	return p, nil
}

func (s *FailoverStore) Save(ctx context.Context, p *Profile) error {
	if s.usePrimary() {
		err := s.primary.Save(ctx, p)
		if err == nil {
			s.markUp()
			return nil
		}
		s.markDown("save", err)
	}

	metrics.IncSessionFallback("save")
	return s.fallback.Save(ctx, p)
}

// Delete removes the profile from both stores. Primary is tried even while
// it is marked down so a profile saved before the outage does not come back
// after recovery.
func (s *FailoverStore) Delete(ctx context.Context, email string) error {
	if err := s.primary.Delete(ctx, email); err != nil {
		s.markDown("delete", err)
		s.logger.Warn().Err(err).Str("email", email).Msg("delete from primary session store failed")
	} else {
		s.markUp()
	}
	return s.fallback.Delete(ctx, email)
}
