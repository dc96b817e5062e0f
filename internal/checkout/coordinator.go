// Package checkout drives a booking payment from order creation to verified
// booking.
package checkout

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"slotsync/internal/backend"
	"slotsync/internal/booking"
	"slotsync/internal/bookings"
	"slotsync/internal/events"
	"slotsync/internal/metrics"
	"slotsync/internal/session"
	"slotsync/internal/slots"
)

const (
	DefaultAmount     = 49
	DefaultAttemptTTL = 30 * time.Minute
)

var (
	ErrAttemptNotFound = errors.New("checkout attempt not found")
	ErrAttemptUsed     = errors.New("checkout attempt already used")
)

// Backend creates and verifies payments.
type Backend interface {
	CreateOrder(ctx context.Context, amount int) (*backend.Order, error)
	VerifyPayment(ctx context.Context, req backend.VerifyRequest) (*backend.VerifyResponse, error)
}

// Availability returns the current booking view.
type Availability interface {
	Booking(ctx context.Context) ([]slots.Day, error)
}

// History returns a user's confirmed bookings.
type History interface {
	FetchBookings(ctx context.Context, email string) ([]bookings.Record, error)
}

// Recorder stores a confirmed booking on the user's session.
type Recorder interface {
	RecordBooking(ctx context.Context, email string, date slots.Date, at slots.Clock, paymentID string) (*session.Profile, error)
}

type Outcome string

const (
	OutcomeSucceeded Outcome = "succeeded"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeFailed    Outcome = "failed"
)

// Attempt is one payment try for a selected slot. Its ID is the single-use
// token that completes or cancels it.
type Attempt struct {
	ID        string        `json:"id"`
	Email     string        `json:"email"`
	Date      slots.Date    `json:"date"`
	Time      slots.Clock   `json:"time"`
	Order     backend.Order `json:"order"`
	CreatedAt time.Time     `json:"createdAt"`

	claimed   atomic.Bool
	completed atomic.Bool
	failed    atomic.Bool
}

// Receipt describes a confirmed booking and the views re-fetched after it.
type Receipt struct {
	AttemptID string           `json:"attemptId"`
	Email     string           `json:"email"`
	Date      slots.Date       `json:"date"`
	Time      slots.Clock      `json:"time"`
	OrderID   string           `json:"orderId"`
	PaymentID string           `json:"paymentId"`
	Days      []slots.Day      `json:"-"`
	Summary   bookings.Summary `json:"summary"`
}

// Result is the typed outcome of Run.
type Result struct {
	Outcome Outcome
	Attempt *Attempt
	Receipt *Receipt
	Err     error
}

// Options configures a Coordinator.
type Options struct {
	Amount     int
	AttemptTTL time.Duration
}

// Coordinator owns the registry of in-flight attempts.
type Coordinator struct {
	backend      Backend
	availability Availability
	history      History
	recorder     Recorder
	bus          *events.Bus
	logger       zerolog.Logger
	ttl          time.Duration
	amount       atomic.Int64
	now          func() time.Time

	mu       sync.Mutex
	attempts map[string]*Attempt
}

// New creates a coordinator. history, recorder and bus may be nil.
func New(b Backend, av Availability, history History, recorder Recorder, bus *events.Bus, opts Options, logger *zerolog.Logger) *Coordinator {
	if opts.Amount <= 0 {
		opts.Amount = DefaultAmount
	}
	if opts.AttemptTTL <= 0 {
		opts.AttemptTTL = DefaultAttemptTTL
	}
	l := zerolog.Nop()
	if logger != nil {
		l = logger.With().Str("component", "checkout").Logger()
	}
	if bus == nil {
		bus = events.NewBus(logger)
	}

	c := &Coordinator{
		backend:      b,
		availability: av,
		history:      history,
		recorder:     recorder,
		bus:          bus,
		logger:       l,
		ttl:          opts.AttemptTTL,
		now:          time.Now,
		attempts:     make(map[string]*Attempt),
	}
	c.amount.Store(int64(opts.Amount))
	return c
}

// Amount is the price charged per booking.
func (c *Coordinator) Amount() int {
	return int(c.amount.Load())
}

// SetAmount changes the price for attempts begun afterwards.
func (c *Coordinator) SetAmount(amount int) {
	if amount > 0 {
		c.amount.Store(int64(amount))
	}
}

// Begin re-validates the slot against a fresh booking view, creates an order
// and registers the attempt.
func (c *Coordinator) Begin(ctx context.Context, email string, date slots.Date, at slots.Clock) (*Attempt, error) {
	const op = "begin checkout"

	days, err := c.availability.Booking(ctx)
	if err != nil {
		return nil, err
	}
	day, ok := slots.Find(days, date)
	if !ok {
		return nil, booking.Wrap(booking.KindValidation, op, booking.ErrSlotUnavailable)
	}
	if slot, ok := day.Slot(at); !ok || slot.Status != slots.StatusAvailable {
		return nil, booking.Wrap(booking.KindValidation, op, booking.ErrSlotUnavailable)
	}

	order, err := c.backend.CreateOrder(ctx, c.Amount())
	if err != nil {
		metrics.IncCheckout("init_failed")
		c.logger.Error().Err(err).Str("email", email).Msg("create order failed")
		return nil, booking.Wrap(booking.KindPaymentInit, op, err)
	}

	a := &Attempt{
		ID:        uuid.NewString(),
		Email:     email,
		Date:      date,
		Time:      at,
		Order:     *order,
		CreatedAt: c.now(),
	}

	c.mu.Lock()
	c.attempts[a.ID] = a
	c.mu.Unlock()

	metrics.IncCheckout("begun")
	c.logger.Info().
		Str("attempt", a.ID).
		Str("order", order.ID).
		Str("email", email).
		Str("date", date.String()).
		Str("time", at.String()).
		Msg("checkout begun")
	return a, nil
}

// Attempt returns a live attempt.
func (c *Coordinator) Attempt(id string) (*Attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	if c.now().Sub(a.CreatedAt) > c.ttl {
		delete(c.attempts, id)
		return nil, ErrAttemptNotFound
	}
	return a, nil
}

// Complete verifies proof for the attempt. Only the first completion of an
// attempt reaches the backend, whatever its result. Later calls get
// ErrAttemptUsed; a retry after a failure needs a new attempt from Begin.
func (c *Coordinator) Complete(ctx context.Context, id string, proof Proof) (*Receipt, error) {
	const op = "complete checkout"

	a, err := c.Attempt(id)
	if err != nil {
		return nil, err
	}
	if !a.claimed.CompareAndSwap(false, true) {
		return nil, ErrAttemptUsed
	}

	if err := c.verify(ctx, a, proof); err != nil {
		a.failed.Store(true)
		metrics.IncCheckout("verify_failed")
		c.logger.Warn().Err(err).Str("attempt", a.ID).Msg("payment verification failed")
		return nil, booking.Wrap(booking.KindPaymentVerification, op, err)
	}
	a.completed.Store(true)

	receipt := &Receipt{
		AttemptID: a.ID,
		Email:     a.Email,
		Date:      a.Date,
		Time:      a.Time,
		OrderID:   a.Order.ID,
		PaymentID: proof.PaymentID,
	}

	if c.recorder != nil {
		if _, err := c.recorder.RecordBooking(ctx, a.Email, a.Date, a.Time, proof.PaymentID); err != nil {
			c.logger.Warn().Err(err).Str("email", a.Email).Msg("record booking on session")
		}
	}
	c.refresh(ctx, receipt)

	if err := c.bus.PublishJSON(events.BookingConfirmed, receipt); err != nil {
		c.logger.Error().Err(err).Msg("publish booking confirmation")
	}

	metrics.IncCheckout(string(OutcomeSucceeded))
	c.logger.Info().
		Str("attempt", a.ID).
		Str("payment", proof.PaymentID).
		Str("email", a.Email).
		Msg("booking confirmed")
	return receipt, nil
}

func (c *Coordinator) verify(ctx context.Context, a *Attempt, proof Proof) error {
	if proof.OrderID != a.Order.ID {
		return fmt.Errorf("proof is for order %q, attempt has %q", proof.OrderID, a.Order.ID)
	}
	if proof.PaymentID == "" || proof.Signature == "" {
		return errors.New("incomplete payment proof")
	}

	resp, err := c.backend.VerifyPayment(ctx, backend.VerifyRequest{
		OrderID:   proof.OrderID,
		PaymentID: proof.PaymentID,
		Signature: proof.Signature,
		UserEmail: a.Email,
		Date:      a.Date,
		Time:      a.Time,
	})
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Message != "" {
			return fmt.Errorf("payment rejected: %s", resp.Message)
		}
		return errors.New("payment rejected")
	}
	return nil
}

// refresh re-fetches the views that change after a booking. Failures leave
// the receipt without them.
func (c *Coordinator) refresh(ctx context.Context, r *Receipt) {
	days, err := c.availability.Booking(ctx)
	if err != nil {
		c.logger.Warn().Err(err).Msg("refresh availability after booking")
	}
	r.Days = days

	r.Summary = bookings.Summary{Kind: bookings.KindNone}
	if c.history == nil {
		return
	}
	records, err := c.history.FetchBookings(ctx, r.Email)
	if err != nil {
		c.logger.Warn().Err(err).Msg("refresh bookings after booking")
		return
	}
	r.Summary = bookings.Project(records, c.now())
}

// Cancel drops an attempt that was never submitted or whose verification
// failed.
func (c *Coordinator) Cancel(id string) (*Attempt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	a, ok := c.attempts[id]
	if !ok {
		return nil, ErrAttemptNotFound
	}
	if a.claimed.Load() && !a.failed.Load() {
		return nil, ErrAttemptUsed
	}
	delete(c.attempts, id)

	metrics.IncCheckout(string(OutcomeCancelled))
	c.logger.Info().Str("attempt", id).Msg("checkout cancelled")
	return a, nil
}

// Run drives Begin, the gateway and Complete or Cancel in one call.
func (c *Coordinator) Run(ctx context.Context, gw Gateway, profile session.Profile, date slots.Date, at slots.Clock) Result {
	a, err := c.Begin(ctx, profile.Email, date, at)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Err: err}
	}

	proof, err := gw.Open(ctx, Prefill{
		Order:       a.Order,
		Description: fmt.Sprintf("Interview on %s at %s", date, at),
		Name:        profile.Name,
		Email:       profile.Email,
	})
	if err != nil {
		_, _ = c.Cancel(a.ID)
		if errors.Is(err, booking.ErrPaymentCancelled) {
			return Result{Outcome: OutcomeCancelled, Attempt: a, Err: err}
		}
		return Result{Outcome: OutcomeFailed, Attempt: a, Err: booking.Wrap(booking.KindPaymentInit, "open gateway", err)}
	}

	receipt, err := c.Complete(ctx, a.ID, proof)
	if err != nil {
		return Result{Outcome: OutcomeFailed, Attempt: a, Err: err}
	}
	return Result{Outcome: OutcomeSucceeded, Attempt: a, Receipt: receipt}
}

// Cleanup removes expired attempts.
func (c *Coordinator) Cleanup() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	now := c.now()
	for id, a := range c.attempts {
		if now.Sub(a.CreatedAt) > c.ttl {
			delete(c.attempts, id)
			removed++
		}
	}
	return removed
}

// Pending counts attempts that can still be completed or are being verified.
func (c *Coordinator) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, a := range c.attempts {
		if !a.completed.Load() && !a.failed.Load() {
			n++
		}
	}
	return n
}
