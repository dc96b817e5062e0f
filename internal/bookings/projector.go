// Package bookings derives a user's booking summary from their history.
package bookings

import (
	"sort"
	"time"

	"slotsync/internal/slots"
)

// Record is a confirmed booking as the backend reports it.
type Record struct {
	Email     string      `json:"email"`
	Date      slots.Date  `json:"date"`
	Time      slots.Clock `json:"time"`
	PaymentID string      `json:"paymentId,omitempty"`
}

// At returns the interview instant in the reference zone.
func (r Record) At() time.Time {
	return r.Date.At(r.Time)
}

type Kind string

const (
	KindNone         Kind = "none"
	KindUpcoming     Kind = "upcoming"
	KindLastAttended Kind = "last_attended"
)

// Summary is the projector output. Date and Time are nil for KindNone.
type Summary struct {
	Kind Kind         `json:"kind"`
	Date *slots.Date  `json:"date,omitempty"`
	Time *slots.Clock `json:"time,omitempty"`
}

// Title is the dashboard heading for the summary.
func (s Summary) Title() string {
	switch s.Kind {
	case KindUpcoming:
		return "Your Upcoming Interview"
	case KindLastAttended:
		return "Your Last Booked Interview"
	default:
		return "Book Your First Interview"
	}
}

// Project picks the record with the latest date (first one on ties) and
// classifies it against now. The input slice is not modified.
func Project(records []Record, now time.Time) Summary {
	if len(records) == 0 {
		return Summary{Kind: KindNone}
	}

	sorted := make([]Record, len(records))
	copy(sorted, records)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Date.After(sorted[j].Date)
	})

	latest := sorted[0]
	kind := KindLastAttended
	if latest.At().After(now) {
		kind = KindUpcoming
	}

	return Summary{Kind: kind, Date: &latest.Date, Time: &latest.Time}
}
