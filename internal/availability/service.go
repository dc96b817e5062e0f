// Package availability fetches the slot catalog and serves its booking and
// summary views.
package availability

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"slotsync/internal/booking"
	"slotsync/internal/metrics"
	"slotsync/internal/slots"
)

// DefaultTimeout bounds a single catalog fetch.
const DefaultTimeout = 12 * time.Second

// Fetcher retrieves the raw slot catalog.
type Fetcher interface {
	FetchAvailability(ctx context.Context) ([]slots.Day, error)
}

// Service fetches on demand. Overlapping callers share one in-flight request.
type Service struct {
	fetcher Fetcher
	timeout time.Duration
	logger  zerolog.Logger
	now     func() time.Time

	group singleflight.Group

	mu        sync.RWMutex
	last      []slots.Day
	fetchedAt time.Time
}

// NewService creates a service. A non-positive timeout means DefaultTimeout.
func NewService(fetcher Fetcher, timeout time.Duration, logger *zerolog.Logger) *Service {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "availability").Logger()
	}
	return &Service{
		fetcher: fetcher,
		timeout: timeout,
		logger:  l,
		now:     time.Now,
	}
}

// Fetch returns the raw catalog. Every failure, including the timeout, is a
// fetch error.
func (s *Service) Fetch(ctx context.Context) ([]slots.Day, error) {
	ch := s.group.DoChan("availability", func() (interface{}, error) {
		return s.fetch(ctx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			metrics.IncAvailabilityShared()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.([]slots.Day), nil
	case <-ctx.Done():
		return nil, booking.Wrap(booking.KindFetch, "fetch availability", ctx.Err())
	}
}

func (s *Service) fetch(ctx context.Context) ([]slots.Day, error) {
	// The shared request must not die with the caller that happened to start it.
	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
	defer cancel()

	start := time.Now()
	days, err := s.fetcher.FetchAvailability(fctx)
	elapsed := time.Since(start)

	if err != nil {
		outcome := "error"
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(fctx.Err(), context.DeadlineExceeded) {
			outcome = "timeout"
			err = fmt.Errorf("no response within %s: %w", s.timeout, err)
		}
		metrics.ObserveAvailabilityFetch(outcome, elapsed)
		s.logger.Warn().Err(err).Str("outcome", outcome).Dur("elapsed", elapsed).Msg("availability fetch failed")
		return nil, booking.Wrap(booking.KindFetch, "fetch availability", err)
	}

	metrics.ObserveAvailabilityFetch("ok", elapsed)
	s.logger.Debug().Int("days", len(days)).Dur("elapsed", elapsed).Msg("availability fetched")

	s.mu.Lock()
	s.last = days
	s.fetchedAt = s.now()
	s.mu.Unlock()

	return days, nil
}

// Booking fetches and normalizes in booking mode.
func (s *Service) Booking(ctx context.Context) ([]slots.Day, error) {
	raw, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return slots.NormalizeForBooking(raw, s.now()), nil
}

// Summary fetches and normalizes in summary mode.
func (s *Service) Summary(ctx context.Context) ([]slots.SummaryDay, error) {
	raw, err := s.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	return slots.NormalizeForSummary(raw, s.now()), nil
}

// Last returns the most recent successful raw catalog and when it was fetched.
// The catalog is nil before the first success.
func (s *Service) Last() ([]slots.Day, time.Time) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.fetchedAt
}
