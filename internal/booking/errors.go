package booking

import (
	"errors"
	"fmt"
)

// Kind classifies a booking failure.
type Kind string

const (
	KindFetch               Kind = "fetch"
	KindPaymentInit         Kind = "payment_init"
	KindPaymentVerification Kind = "payment_verification"
	KindValidation          Kind = "validation"
)

var (
	ErrSlotUnavailable   = errors.New("slot no longer available")
	ErrDateUnavailable   = errors.New("date not available")
	ErrNoSelection       = errors.New("no slot selected")
	ErrInvalidTransition = errors.New("invalid state transition")
	ErrPaymentCancelled  = errors.New("payment cancelled")
)

// Error is a classified booking failure. Op names the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s failed", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap classifies err. It returns nil for a nil err.
func Wrap(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	k, ok := KindOf(err)
	return ok && k == kind
}

// UserMessage maps err to the text shown to the user.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, ErrPaymentCancelled) {
		return "Payment cancelled"
	}
	if errors.Is(err, ErrSlotUnavailable) {
		return "Slot no longer available"
	}

	kind, _ := KindOf(err)
	switch kind {
	case KindFetch:
		return "Failed to load available slots"
	case KindPaymentVerification:
		return "Payment verification failed"
	case KindValidation:
		if errors.Is(err, ErrDateUnavailable) {
			return "Date not available"
		}
		if errors.Is(err, ErrNoSelection) {
			return "Please select a time slot"
		}
		return "Slot no longer available"
	default:
		return "Payment failed"
	}
}
