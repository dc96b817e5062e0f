package checkout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotsync/internal/backend"
	"slotsync/internal/booking"
	"slotsync/internal/bookings"
	"slotsync/internal/events"
	"slotsync/internal/session"
	"slotsync/internal/slots"
)

var (
	testDate = slots.Date{Year: 2025, Month: time.March, Day: 12}
	openTime = slots.Clock{Hour: 10}
	busyTime = slots.Clock{Hour: 11}
)

type fakeBackend struct {
	orderErr    error
	verifyErr   error
	verifyOK    bool
	verifyCalls atomic.Int32
	verifyDelay time.Duration
	lastVerify  backend.VerifyRequest
	lastAmount  int
	mu          sync.Mutex
}

func (f *fakeBackend) CreateOrder(_ context.Context, amount int) (*backend.Order, error) {
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.mu.Lock()
	f.lastAmount = amount
	f.mu.Unlock()
	return &backend.Order{ID: "order_1", Amount: amount * 100, Currency: "INR"}, nil
}

func (f *fakeBackend) VerifyPayment(_ context.Context, req backend.VerifyRequest) (*backend.VerifyResponse, error) {
	f.verifyCalls.Add(1)
	time.Sleep(f.verifyDelay)
	f.mu.Lock()
	f.lastVerify = req
	f.mu.Unlock()
	if f.verifyErr != nil {
		return nil, f.verifyErr
	}
	return &backend.VerifyResponse{Success: f.verifyOK}, nil
}

type fakeAvailability struct {
	days  []slots.Day
	err   error
	calls atomic.Int32
}

func (f *fakeAvailability) Booking(context.Context) ([]slots.Day, error) {
	f.calls.Add(1)
	return f.days, f.err
}

type fakeHistory struct {
	records []bookings.Record
}

func (f *fakeHistory) FetchBookings(context.Context, string) ([]bookings.Record, error) {
	return f.records, nil
}

func bookingView() []slots.Day {
	return []slots.Day{{Date: testDate, Slots: []slots.TimeSlot{
		{Time: openTime, Status: slots.StatusAvailable},
		{Time: busyTime, Booked: true, Status: slots.StatusBooked},
	}}}
}

type fixture struct {
	backend   *fakeBackend
	avail     *fakeAvailability
	sessions  *session.Manager
	bus       *events.Bus
	confirmed []Receipt
	coord     *Coordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		backend: &fakeBackend{verifyOK: true},
		avail:   &fakeAvailability{days: bookingView()},
		bus:     events.NewBus(nil),
	}
	f.bus.Subscribe(events.BookingConfirmed, func(e events.Event) error {
		var r Receipt
		if err := e.Decode(&r); err != nil {
			return err
		}
		f.confirmed = append(f.confirmed, r)
		return nil
	})
	f.sessions = session.NewManager(session.NewMemoryStore(), f.bus, nil, nil)
	_, err := f.sessions.Login(context.Background(), session.Profile{Email: "a@b.c", Name: "Asha"})
	require.NoError(t, err)

	history := &fakeHistory{records: []bookings.Record{{Email: "a@b.c", Date: testDate, Time: openTime}}}
	f.coord = New(f.backend, f.avail, history, f.sessions, f.bus, Options{}, nil)
	f.coord.now = func() time.Time { return time.Date(2025, time.March, 10, 9, 0, 0, 0, slots.Location()) }
	return f
}

func validProof() Proof {
	return Proof{OrderID: "order_1", PaymentID: "pay_1", Signature: "sig"}
}

func TestBeginAndComplete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.coord.Begin(ctx, "a@b.c", testDate, openTime)
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "order_1", a.Order.ID)
	assert.Equal(t, DefaultAmount, f.backend.lastAmount)
	assert.Equal(t, 1, f.coord.Pending())

	receipt, err := f.coord.Complete(ctx, a.ID, validProof())
	require.NoError(t, err)
	assert.Equal(t, "pay_1", receipt.PaymentID)
	assert.Equal(t, bookings.KindUpcoming, receipt.Summary.Kind)
	assert.Len(t, receipt.Days, 1)
	assert.Equal(t, 0, f.coord.Pending())

	assert.Equal(t, backend.VerifyRequest{
		OrderID:   "order_1",
		PaymentID: "pay_1",
		Signature: "sig",
		UserEmail: "a@b.c",
		Date:      testDate,
		Time:      openTime,
	}, f.backend.lastVerify)

	profile, err := f.sessions.Current(ctx, "a@b.c")
	require.NoError(t, err)
	assert.Equal(t, session.StatusBooked, profile.InterviewStatus)
	assert.Equal(t, "2025-03-12", profile.InterviewDate)
	assert.Equal(t, "10:00", profile.InterviewTime)
	assert.Equal(t, "pay_1", profile.PaymentID)

	require.Len(t, f.confirmed, 1)
	assert.Equal(t, "a@b.c", f.confirmed[0].Email)
	assert.Equal(t, "pay_1", f.confirmed[0].PaymentID)

	// Begin and the post-booking refresh both re-fetched availability.
	assert.Equal(t, int32(2), f.avail.calls.Load())
}

func TestBeginRejectsStaleSlot(t *testing.T) {
	tests := []struct {
		name string
		date slots.Date
		at   slots.Clock
	}{
		{"booked meanwhile", testDate, busyTime},
		{"unknown time", testDate, slots.Clock{Hour: 7}},
		{"date gone", slots.Date{Year: 2025, Month: time.March, Day: 13}, openTime},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)

			_, err := f.coord.Begin(context.Background(), "a@b.c", tt.date, tt.at)
			assert.True(t, booking.IsKind(err, booking.KindValidation))
			assert.ErrorIs(t, err, booking.ErrSlotUnavailable)
			assert.Equal(t, "Slot no longer available", booking.UserMessage(err))
			assert.Equal(t, 0, f.coord.Pending())
		})
	}
}

func TestBeginFailures(t *testing.T) {
	t.Run("fetch", func(t *testing.T) {
		f := newFixture(t)
		f.avail.err = booking.Wrap(booking.KindFetch, "fetch availability", errors.New("timeout"))

		_, err := f.coord.Begin(context.Background(), "a@b.c", testDate, openTime)
		assert.True(t, booking.IsKind(err, booking.KindFetch))
	})

	t.Run("create order", func(t *testing.T) {
		f := newFixture(t)
		f.backend.orderErr = errors.New("http 500")

		_, err := f.coord.Begin(context.Background(), "a@b.c", testDate, openTime)
		assert.True(t, booking.IsKind(err, booking.KindPaymentInit))
		assert.Equal(t, "Payment failed", booking.UserMessage(err))
	})
}

func TestSetAmount(t *testing.T) {
	f := newFixture(t)
	f.coord.SetAmount(99)
	f.coord.SetAmount(0)

	_, err := f.coord.Begin(context.Background(), "a@b.c", testDate, openTime)
	require.NoError(t, err)
	assert.Equal(t, 99, f.backend.lastAmount)
}

func TestDuplicateCompletionVerifiesOnce(t *testing.T) {
	f := newFixture(t)
	f.backend.verifyDelay = 50 * time.Millisecond
	ctx := context.Background()

	a, err := f.coord.Begin(ctx, "a@b.c", testDate, openTime)
	require.NoError(t, err)

	const callers = 5
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.coord.Complete(ctx, a.ID, validProof())
		}(i)
	}
	wg.Wait()

	succeeded, used := 0, 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrAttemptUsed):
			used++
		default:
			t.Errorf("unexpected error %v", err)
		}
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, callers-1, used)
	assert.Equal(t, int32(1), f.backend.verifyCalls.Load())

	_, err = f.coord.Complete(ctx, a.ID, validProof())
	assert.ErrorIs(t, err, ErrAttemptUsed)
	assert.Len(t, f.confirmed, 1)
}

func TestVerificationFailureConsumesAttempt(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.backend.verifyOK = false

	a, err := f.coord.Begin(ctx, "a@b.c", testDate, openTime)
	require.NoError(t, err)

	_, err = f.coord.Complete(ctx, a.ID, validProof())
	assert.True(t, booking.IsKind(err, booking.KindPaymentVerification))
	assert.Equal(t, "Payment verification failed", booking.UserMessage(err))
	assert.Empty(t, f.confirmed)
	assert.Equal(t, 0, f.coord.Pending())

	f.backend.verifyOK = true
	_, err = f.coord.Complete(ctx, a.ID, validProof())
	assert.ErrorIs(t, err, ErrAttemptUsed)
	assert.Equal(t, int32(1), f.backend.verifyCalls.Load())

	// The failed attempt can still be dropped.
	_, err = f.coord.Cancel(a.ID)
	require.NoError(t, err)

	retry, err := f.coord.Begin(ctx, "a@b.c", testDate, openTime)
	require.NoError(t, err)
	assert.NotEqual(t, a.ID, retry.ID)

	receipt, err := f.coord.Complete(ctx, retry.ID, validProof())
	require.NoError(t, err)
	assert.Equal(t, retry.ID, receipt.AttemptID)
	assert.Equal(t, int32(2), f.backend.verifyCalls.Load())
	assert.Len(t, f.confirmed, 1)
}

func TestCancelDuringVerification(t *testing.T) {
	f := newFixture(t)
	f.backend.verifyDelay = 50 * time.Millisecond
	ctx := context.Background()

	a, err := f.coord.Begin(ctx, "a@b.c", testDate, openTime)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() {
		_, err := f.coord.Complete(ctx, a.ID, validProof())
		done <- err
	}()

	require.Eventually(t, func() bool { return f.backend.verifyCalls.Load() == 1 }, time.Second, time.Millisecond)
	_, err = f.coord.Cancel(a.ID)
	assert.ErrorIs(t, err, ErrAttemptUsed)
	require.NoError(t, <-done)
}

func TestVerificationTransportError(t *testing.T) {
	f := newFixture(t)
	f.backend.verifyErr = errors.New("connection reset")

	a, err := f.coord.Begin(context.Background(), "a@b.c", testDate, openTime)
	require.NoError(t, err)

	_, err = f.coord.Complete(context.Background(), a.ID, validProof())
	assert.True(t, booking.IsKind(err, booking.KindPaymentVerification))
}

func TestProofForOtherOrderIsRejected(t *testing.T) {
	f := newFixture(t)

	a, err := f.coord.Begin(context.Background(), "a@b.c", testDate, openTime)
	require.NoError(t, err)

	proof := validProof()
	proof.OrderID = "order_other"
	_, err = f.coord.Complete(context.Background(), a.ID, proof)
	assert.True(t, booking.IsKind(err, booking.KindPaymentVerification))
	assert.Equal(t, int32(0), f.backend.verifyCalls.Load())
}

func TestUnknownAndExpiredAttempts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Complete(ctx, "nope", validProof())
	assert.ErrorIs(t, err, ErrAttemptNotFound)
	_, err = f.coord.Cancel("nope")
	assert.ErrorIs(t, err, ErrAttemptNotFound)

	a, err := f.coord.Begin(ctx, "a@b.c", testDate, openTime)
	require.NoError(t, err)

	base := f.coord.now()
	f.coord.now = func() time.Time { return base.Add(DefaultAttemptTTL + time.Second) }

	_, err = f.coord.Complete(ctx, a.ID, validProof())
	assert.ErrorIs(t, err, ErrAttemptNotFound)
	assert.Equal(t, int32(0), f.backend.verifyCalls.Load())
}

func TestCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.coord.Begin(ctx, "a@b.c", testDate, openTime)
	require.NoError(t, err)
	assert.Equal(t, 0, f.coord.Cleanup())

	base := f.coord.now()
	f.coord.now = func() time.Time { return base.Add(time.Hour) }
	assert.Equal(t, 1, f.coord.Cleanup())
	assert.Equal(t, 0, f.coord.Pending())
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, err := f.coord.Begin(ctx, "a@b.c", testDate, openTime)
	require.NoError(t, err)

	cancelled, err := f.coord.Cancel(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.ID, cancelled.ID)

	_, err = f.coord.Complete(ctx, a.ID, validProof())
	assert.ErrorIs(t, err, ErrAttemptNotFound)
}

type cancellingGateway struct{}

func (cancellingGateway) Open(context.Context, Prefill) (Proof, error) {
	return Proof{}, booking.ErrPaymentCancelled
}

type brokenGateway struct{}

func (brokenGateway) Open(context.Context, Prefill) (Proof, error) {
	return Proof{}, errors.New("script failed to load")
}

func TestRun(t *testing.T) {
	profile := session.Profile{Email: "a@b.c", Name: "Asha"}

	t.Run("succeeded", func(t *testing.T) {
		f := newFixture(t)
		res := f.coord.Run(context.Background(), DevGateway{Secret: "s"}, profile, testDate, openTime)
		require.NoError(t, res.Err)
		assert.Equal(t, OutcomeSucceeded, res.Outcome)
		require.NotNil(t, res.Receipt)
		assert.True(t, VerifySignature("s", Proof{
			OrderID:   res.Receipt.OrderID,
			PaymentID: res.Receipt.PaymentID,
			Signature: f.backend.lastVerify.Signature,
		}))
	})

	t.Run("cancelled", func(t *testing.T) {
		f := newFixture(t)
		res := f.coord.Run(context.Background(), cancellingGateway{}, profile, testDate, openTime)
		assert.Equal(t, OutcomeCancelled, res.Outcome)
		assert.ErrorIs(t, res.Err, booking.ErrPaymentCancelled)
		assert.Equal(t, 0, f.coord.Pending())
	})

	t.Run("gateway failure", func(t *testing.T) {
		f := newFixture(t)
		res := f.coord.Run(context.Background(), brokenGateway{}, profile, testDate, openTime)
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.True(t, booking.IsKind(res.Err, booking.KindPaymentInit))
	})

	t.Run("stale slot", func(t *testing.T) {
		f := newFixture(t)
		res := f.coord.Run(context.Background(), DevGateway{}, profile, testDate, busyTime)
		assert.Equal(t, OutcomeFailed, res.Outcome)
		assert.Nil(t, res.Attempt)
		assert.True(t, booking.IsKind(res.Err, booking.KindValidation))
	})
}
