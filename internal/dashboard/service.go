// Package dashboard composes the availability views, per-user booking flows,
// sessions and checkout into the operations the API exposes.
package dashboard

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"slotsync/internal/booking"
	"slotsync/internal/bookings"
	"slotsync/internal/checkout"
	"slotsync/internal/events"
	"slotsync/internal/session"
	"slotsync/internal/slots"
)

// Views serves the normalized availability views.
type Views interface {
	Booking(ctx context.Context) ([]slots.Day, error)
	Summary(ctx context.Context) ([]slots.SummaryDay, error)
}

// History returns a user's confirmed bookings.
type History interface {
	FetchBookings(ctx context.Context, email string) ([]bookings.Record, error)
}

// Confirmation is the result of a completed checkout.
type Confirmation struct {
	Success bool              `json:"success"`
	Receipt *checkout.Receipt `json:"receipt"`
	Summary bookings.Summary  `json:"summary"`
	Flow    *booking.Snapshot `json:"flow,omitempty"`
}

// Started is the result of a begun checkout.
type Started struct {
	Attempt *checkout.Attempt `json:"attempt"`
	Flow    booking.Snapshot  `json:"flow"`
}

type Service struct {
	views        Views
	history      History
	sessions     *session.Manager
	checkout     *checkout.Coordinator
	flows        *booking.Store
	fetchTimeout time.Duration
	now          func() time.Time
	logger       zerolog.Logger

	mu      sync.Mutex
	pending map[string]string // email -> attempt id
}

// New wires the service and subscribes it to session logouts on bus.
func New(views Views, history History, sessions *session.Manager, coord *checkout.Coordinator, flows *booking.Store, bus *events.Bus, fetchTimeout time.Duration, logger *zerolog.Logger) *Service {
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "dashboard").Logger()
	}
	if fetchTimeout <= 0 {
		fetchTimeout = 12 * time.Second
	}

	s := &Service{
		views:        views,
		history:      history,
		sessions:     sessions,
		checkout:     coord,
		flows:        flows,
		fetchTimeout: fetchTimeout,
		now:          time.Now,
		logger:       l,
		pending:      make(map[string]string),
	}
	if bus != nil {
		bus.Subscribe(events.SessionLogout, s.onLogout)
	}
	return s
}

func (s *Service) onLogout(ev events.Event) error {
	var payload struct {
		Email string `json:"email"`
	}
	if err := ev.Decode(&payload); err != nil {
		return err
	}
	email := session.NormalizeEmail(payload.Email)
	s.flows.Delete(email)
	s.abandon(email)
	return nil
}

// Slots is the booking view.
func (s *Service) Slots(ctx context.Context) ([]slots.Day, error) {
	return s.views.Booking(ctx)
}

// Summary is the summary view.
func (s *Service) Summary(ctx context.Context) ([]slots.SummaryDay, error) {
	return s.views.Summary(ctx)
}

// BookingSummary projects the user's booking history.
func (s *Service) BookingSummary(ctx context.Context, email string) (bookings.Summary, error) {
	ctx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()

	records, err := s.history.FetchBookings(ctx, session.NormalizeEmail(email))
	if err != nil {
		return bookings.Summary{}, booking.Wrap(booking.KindFetch, "fetch bookings", err)
	}
	return bookings.Project(records, s.now()), nil
}

func (s *Service) refreshedFlow(ctx context.Context, email string) (*booking.Flow, error) {
	flow, _ := s.flows.GetOrCreate(session.NormalizeEmail(email))
	days, err := s.views.Booking(ctx)
	if err != nil {
		return nil, err
	}
	flow.Replace(days)
	return flow, nil
}

// Flow returns the user's flow over a fresh booking view.
func (s *Service) Flow(ctx context.Context, email string) (booking.Snapshot, error) {
	flow, err := s.refreshedFlow(ctx, email)
	if err != nil {
		return booking.Snapshot{}, err
	}
	return flow.Snapshot(), nil
}

// SelectDate selects a date in the user's flow.
func (s *Service) SelectDate(ctx context.Context, email string, date slots.Date) (booking.Snapshot, error) {
	flow, err := s.refreshedFlow(ctx, email)
	if err != nil {
		return booking.Snapshot{}, err
	}
	if err := flow.SelectDate(date); err != nil {
		return flow.Snapshot(), err
	}
	return flow.Snapshot(), nil
}

// ToggleSlot toggles a slot in the user's flow.
func (s *Service) ToggleSlot(ctx context.Context, email string, at slots.Clock) (booking.Snapshot, error) {
	flow, err := s.refreshedFlow(ctx, email)
	if err != nil {
		return booking.Snapshot{}, err
	}
	if err := flow.ToggleSlot(at); err != nil {
		return flow.Snapshot(), err
	}
	return flow.Snapshot(), nil
}

// StartCheckout selects date and time in the user's flow if they are not
// already selected and begins a checkout for them. A previous unfinished
// checkout of the same user is cancelled.
func (s *Service) StartCheckout(ctx context.Context, email string, date slots.Date, at slots.Clock) (*Started, error) {
	email = session.NormalizeEmail(email)
	if _, err := s.sessions.Current(ctx, email); err != nil {
		return nil, err
	}

	flow, err := s.refreshedFlow(ctx, email)
	if err != nil {
		return nil, err
	}

	s.abandon(email)
	if flow.State() == booking.StatePaymentPending {
		_ = flow.PaymentCancelled()
	}

	if err := selectInFlow(flow, date, at); err != nil {
		return nil, err
	}

	if _, err := flow.BeginCheckout(); err != nil {
		return nil, err
	}

	attempt, err := s.checkout.Begin(ctx, email, date, at)
	if err != nil {
		_ = flow.PaymentFailed(err)
		if booking.IsKind(err, booking.KindValidation) {
			if days, ferr := s.views.Booking(ctx); ferr == nil {
				flow.Replace(days)
			}
		}
		return nil, err
	}

	s.mu.Lock()
	s.pending[email] = attempt.ID
	s.mu.Unlock()

	return &Started{Attempt: attempt, Flow: flow.Snapshot()}, nil
}

func selectInFlow(flow *booking.Flow, date slots.Date, at slots.Clock) error {
	if sel, ok := flow.Selection(); ok && sel.Date == date && sel.Time == at {
		return nil
	}
	if err := flow.SelectDate(date); err != nil {
		return err
	}
	return flow.ToggleSlot(at)
}

// abandon cancels the user's unfinished checkout, if any.
func (s *Service) abandon(email string) {
	s.mu.Lock()
	id, ok := s.pending[email]
	delete(s.pending, email)
	s.mu.Unlock()

	if ok {
		if _, err := s.checkout.Cancel(id); err != nil && !errors.Is(err, checkout.ErrAttemptNotFound) {
			s.logger.Warn().Err(err).Str("attempt", id).Msg("cancel abandoned checkout")
		}
	}
}

// forget drops id from the pending checkouts if it is still the user's.
func (s *Service) forget(email, id string) {
	s.mu.Lock()
	if s.pending[email] == id {
		delete(s.pending, email)
	}
	s.mu.Unlock()
}

// CompleteCheckout verifies the payment proof and settles the user's flow.
func (s *Service) CompleteCheckout(ctx context.Context, attemptID string, proof checkout.Proof) (*Confirmation, error) {
	attempt, err := s.checkout.Attempt(attemptID)
	if err != nil {
		return nil, err
	}
	flow := s.flows.Get(attempt.Email)

	receipt, err := s.checkout.Complete(ctx, attemptID, proof)
	if err != nil {
		if errors.Is(err, checkout.ErrAttemptUsed) {
			return nil, err
		}
		// The attempt is spent; a retry begins a new one.
		s.forget(attempt.Email, attemptID)
		if flow != nil && flow.State() == booking.StatePaymentPending {
			_ = flow.PaymentFailed(err)
		}
		return nil, err
	}

	s.forget(attempt.Email, attemptID)

	conf := &Confirmation{Success: true, Receipt: receipt, Summary: receipt.Summary}
	if flow != nil {
		if err := settleBooked(flow, receipt.Days); err != nil {
			s.logger.Warn().Err(err).Str("email", attempt.Email).Msg("settle flow after booking")
		}
		snap := flow.Snapshot()
		conf.Flow = &snap
	}
	return conf, nil
}

// settleBooked moves the flow through booked back to idle over the fresh view.
// A flow that fell back to its selection after a failed try re-enters payment
// first.
func settleBooked(flow *booking.Flow, days []slots.Day) error {
	if flow.State() != booking.StatePaymentPending {
		if _, err := flow.BeginCheckout(); err != nil {
			return fmt.Errorf("resume payment: %w", err)
		}
	}
	if err := flow.PaymentSucceeded(); err != nil {
		return err
	}
	if days != nil {
		flow.Replace(days)
	}
	return flow.Reset()
}

// CancelCheckout drops the attempt and returns the user's flow to its
// selection.
func (s *Service) CancelCheckout(_ context.Context, attemptID string) (*booking.Snapshot, error) {
	attempt, err := s.checkout.Cancel(attemptID)
	if err != nil {
		return nil, err
	}

	s.forget(attempt.Email, attemptID)

	flow := s.flows.Get(attempt.Email)
	if flow == nil {
		return nil, nil
	}
	if flow.State() == booking.StatePaymentPending {
		_ = flow.PaymentCancelled()
	}
	snap := flow.Snapshot()
	return &snap, nil
}

// Pay collects the payment for a begun attempt through gw and completes it.
// A dismissed payment cancels the attempt.
func (s *Service) Pay(ctx context.Context, attemptID string, gw checkout.Gateway) (*Confirmation, error) {
	attempt, err := s.checkout.Attempt(attemptID)
	if err != nil {
		return nil, err
	}
	profile, err := s.sessions.Current(ctx, attempt.Email)
	if err != nil {
		return nil, err
	}

	proof, err := gw.Open(ctx, checkout.Prefill{
		Order:       attempt.Order,
		Description: fmt.Sprintf("Interview on %s at %s", attempt.Date, attempt.Time),
		Name:        profile.Name,
		Email:       profile.Email,
	})
	if err != nil {
		if errors.Is(err, booking.ErrPaymentCancelled) {
			if _, cerr := s.CancelCheckout(ctx, attemptID); cerr != nil {
				return nil, cerr
			}
			return nil, err
		}
		return nil, booking.Wrap(booking.KindPaymentInit, "open gateway", err)
	}
	return s.CompleteCheckout(ctx, attemptID, proof)
}

// Cleanup drops expired flows and checkout attempts.
func (s *Service) Cleanup() (flows, attempts int) {
	return s.flows.Cleanup(), s.checkout.Cleanup()
}
