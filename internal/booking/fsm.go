// Package booking implements the slot selection and checkout state machine.
package booking

import (
	"fmt"
	"sync"
	"time"

	"slotsync/internal/slots"
)

// State represents the current state of a booking flow.
type State string

const (
	StateIdle             State = "idle"
	StateDateSelected     State = "date_selected"
	StateSlotSelected     State = "slot_selected"
	StatePaymentPending   State = "payment_pending"
	StateBooked           State = "booked"
	StatePaymentFailed    State = "payment_failed"
	StatePaymentCancelled State = "payment_cancelled"
)

// FSM holds the allowed state transitions.
type FSM struct {
	transitions map[State][]State
}

// NewFSM creates a new FSM with predefined transitions.
func NewFSM() *FSM {
	return &FSM{
		transitions: map[State][]State{
			StateIdle:             {StateDateSelected},
			StateDateSelected:     {StateDateSelected, StateSlotSelected, StateIdle},
			StateSlotSelected:     {StateDateSelected, StateSlotSelected, StatePaymentPending, StateIdle},
			StatePaymentPending:   {StateBooked, StatePaymentFailed, StatePaymentCancelled},
			StatePaymentFailed:    {StateSlotSelected},
			StatePaymentCancelled: {StateSlotSelected},
			StateBooked:           {StateIdle},
		},
	}
}

// CanTransition checks if transition is allowed.
func (f *FSM) CanTransition(from, to State) bool {
	for _, s := range f.transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Selection is a chosen date and time.
type Selection struct {
	Date slots.Date  `json:"date"`
	Time slots.Clock `json:"time"`
}

// Snapshot is a read-only copy of a flow.
type Snapshot struct {
	State       State        `json:"state"`
	Date        *slots.Date  `json:"date,omitempty"`
	Time        *slots.Clock `json:"time,omitempty"`
	LastOutcome State        `json:"lastOutcome,omitempty"`
	Message     string       `json:"message,omitempty"`
	Days        []slots.Day  `json:"days"`
}

// Flow is one user's selection and checkout progress over the booking view.
type Flow struct {
	fsm *FSM

	mu        sync.Mutex
	state     State
	days      []slots.Day
	date      *slots.Date
	slot      *slots.Clock
	outcome   State
	message   string
	updatedAt time.Time
}

// NewFlow creates an idle flow over days, which must be booking-mode output.
func NewFlow(fsm *FSM, days []slots.Day) *Flow {
	if fsm == nil {
		fsm = NewFSM()
	}
	return &Flow{
		fsm:       fsm,
		state:     StateIdle,
		days:      days,
		updatedAt: time.Now(),
	}
}

func (f *Flow) transition(to State) error {
	if !f.fsm.CanTransition(f.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, f.state, to)
	}
	f.state = to
	f.updatedAt = time.Now()
	return nil
}

// State returns current state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Selection returns the selected date and time, if both are set.
func (f *Flow) Selection() (Selection, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.date == nil || f.slot == nil {
		return Selection{}, false
	}
	return Selection{Date: *f.date, Time: *f.slot}, true
}

// SelectDate selects a date from the current day list and clears the slot.
func (f *Flow) SelectDate(date slots.Date) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, ok := slots.Find(f.days, date); !ok {
		return Wrap(KindValidation, "select date", ErrDateUnavailable)
	}
	if err := f.transition(StateDateSelected); err != nil {
		return err
	}
	f.date = &date
	f.slot = nil
	f.message = ""
	return nil
}

// ToggleSlot selects an available slot on the selected date. Toggling the
// already selected slot deselects it.
func (f *Flow) ToggleSlot(c slots.Clock) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state != StateDateSelected && f.state != StateSlotSelected {
		return fmt.Errorf("%w: toggle slot in %s", ErrInvalidTransition, f.state)
	}

	if f.slot != nil && *f.slot == c {
		if err := f.transition(StateDateSelected); err != nil {
			return err
		}
		f.slot = nil
		return nil
	}

	day, _ := slots.Find(f.days, *f.date)
	slot, ok := day.Slot(c)
	if !ok || slot.Status != slots.StatusAvailable {
		return Wrap(KindValidation, "toggle slot", ErrSlotUnavailable)
	}
	if err := f.transition(StateSlotSelected); err != nil {
		return err
	}
	f.slot = &c
	f.message = ""
	return nil
}

// BeginCheckout moves a complete selection into payment.
func (f *Flow) BeginCheckout() (Selection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.date == nil || f.slot == nil {
		return Selection{}, Wrap(KindValidation, "begin checkout", ErrNoSelection)
	}
	if err := f.transition(StatePaymentPending); err != nil {
		return Selection{}, err
	}
	f.message = ""
	return Selection{Date: *f.date, Time: *f.slot}, nil
}

// PaymentSucceeded marks the flow booked.
func (f *Flow) PaymentSucceeded() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.transition(StateBooked); err != nil {
		return err
	}
	f.outcome = StateBooked
	f.message = ""
	return nil
}

// PaymentFailed records err and returns to the kept selection.
func (f *Flow) PaymentFailed(err error) error {
	return f.settle(StatePaymentFailed, UserMessage(err))
}

// PaymentCancelled records the cancellation and returns to the kept selection.
func (f *Flow) PaymentCancelled() error {
	return f.settle(StatePaymentCancelled, UserMessage(ErrPaymentCancelled))
}

func (f *Flow) settle(via State, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.transition(via); err != nil {
		return err
	}
	if err := f.transition(StateSlotSelected); err != nil {
		return err
	}
	f.outcome = via
	f.message = message
	return nil
}

// Reset clears the selection and returns to idle.
func (f *Flow) Reset() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state == StateIdle {
		return nil
	}
	if err := f.transition(StateIdle); err != nil {
		return err
	}
	f.date = nil
	f.slot = nil
	f.message = ""
	return nil
}

// Replace swaps in a fresh day list. A selected slot that is no longer
// available is dropped, and a selected date that is gone resets the flow.
// Pending and booked flows keep their selection.
func (f *Flow) Replace(days []slots.Day) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.days = days
	if f.state == StatePaymentPending || f.state == StateBooked || f.date == nil {
		return
	}

	day, ok := slots.Find(days, *f.date)
	if !ok {
		_ = f.transition(StateIdle)
		f.date = nil
		f.slot = nil
		return
	}

	if f.slot == nil {
		return
	}
	if slot, ok := day.Slot(*f.slot); !ok || slot.Status != slots.StatusAvailable {
		_ = f.transition(StateDateSelected)
		f.slot = nil
	}
}

// Snapshot returns a copy of the flow.
func (f *Flow) Snapshot() Snapshot {
	f.mu.Lock()
	defer f.mu.Unlock()

	snap := Snapshot{
		State:       f.state,
		LastOutcome: f.outcome,
		Message:     f.message,
		Days:        f.days,
	}
	if snap.Days == nil {
		snap.Days = []slots.Day{}
	}
	if f.date != nil {
		d := *f.date
		snap.Date = &d
	}
	if f.slot != nil {
		c := *f.slot
		snap.Time = &c
	}
	return snap
}

// IsExpired checks if the flow has been idle longer than timeout.
func (f *Flow) IsExpired(timeout time.Duration) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return time.Since(f.updatedAt) > timeout
}
