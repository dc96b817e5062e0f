// Package slots models the interview slot catalog and normalizes it against
// the reference time zone.
package slots

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	// The reference zone must resolve even on hosts without a zoneinfo database.
	_ "time/tzdata"
)

// ReferenceZone is the IANA zone every slot date and time is interpreted in.
const ReferenceZone = "Asia/Kolkata"

const dateLayout = "2006-01-02"

var reference = loadReference()

func loadReference() *time.Location {
	loc, err := time.LoadLocation(ReferenceZone)
	if err != nil {
		return time.FixedZone("IST", 5*60*60+30*60)
	}
	return loc
}

// Location returns the reference zone location.
func Location() *time.Location {
	return reference
}

// Status is the derived availability of a time slot.
type Status string

const (
	StatusAvailable Status = "available"
	StatusBooked    Status = "booked"
	StatusExpired   Status = "expired"
)

// Date is a civil date in the reference zone.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the civil date of t in the reference zone.
func DateOf(t time.Time) Date {
	y, m, d := t.In(reference).Date()
	return Date{Year: y, Month: m, Day: d}
}

// ParseDate accepts "YYYY-MM-DD" or an RFC 3339 timestamp. A timestamp is
// shifted into the reference zone before its date is taken.
func ParseDate(s string) (Date, error) {
	s = strings.TrimSpace(s)
	if t, err := time.ParseInLocation(dateLayout, s, reference); err == nil {
		return DateOf(t), nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: expected YYYY-MM-DD", s)
	}
	return DateOf(t), nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// IsZero reports whether d is the zero date.
func (d Date) IsZero() bool {
	return d == Date{}
}

// Before reports whether d is strictly earlier than other.
func (d Date) Before(other Date) bool {
	if d.Year != other.Year {
		return d.Year < other.Year
	}
	if d.Month != other.Month {
		return d.Month < other.Month
	}
	return d.Day < other.Day
}

// After reports whether d is strictly later than other.
func (d Date) After(other Date) bool {
	return other.Before(d)
}

// Midnight returns the start of d in the reference zone.
func (d Date) Midnight() time.Time {
	return time.Date(d.Year, d.Month, d.Day, 0, 0, 0, 0, reference)
}

// At combines d with a wall-clock time in the reference zone.
func (d Date) At(c Clock) time.Time {
	return time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, 0, 0, reference)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("date must be a string: %w", err)
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}

// Clock is a wall-clock time of day, 24-hour.
type Clock struct {
	Hour   int
	Minute int
}

// ParseClock parses "HH:MM".
func ParseClock(s string) (Clock, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 2 {
		return Clock{}, fmt.Errorf("invalid time format: %q", s)
	}

	hour, err := strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return Clock{}, fmt.Errorf("invalid hour in %q", s)
	}

	minute, err := strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return Clock{}, fmt.Errorf("invalid minute in %q", s)
	}

	return Clock{Hour: hour, Minute: minute}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Clock) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

func (c *Clock) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("time must be a string: %w", err)
	}
	parsed, err := ParseClock(s)
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// TimeSlot is one bookable interview time within a day. Status is empty on
// raw catalog entries and set by normalization.
type TimeSlot struct {
	Time   Clock  `json:"time"`
	Booked bool   `json:"booked"`
	Status Status `json:"status,omitempty"`
}

// Day is the set of time slots offered on one date.
type Day struct {
	Date  Date       `json:"date"`
	Slots []TimeSlot `json:"slots"`
}

// Slot returns the slot at c.
func (d Day) Slot(c Clock) (TimeSlot, bool) {
	for _, s := range d.Slots {
		if s.Time == c {
			return s, true
		}
	}
	return TimeSlot{}, false
}

// Open counts slots whose status is available.
func (d Day) Open() int {
	open := 0
	for _, s := range d.Slots {
		if s.Status == StatusAvailable {
			open++
		}
	}
	return open
}

// Find returns the day for date.
func Find(days []Day, date Date) (Day, bool) {
	for _, d := range days {
		if d.Date == date {
			return d, true
		}
	}
	return Day{}, false
}

// AvailableDates lists the dates of days in order. On booking-mode output
// these are exactly the selectable dates.
func AvailableDates(days []Day) []Date {
	dates := make([]Date, len(days))
	for i, d := range days {
		dates[i] = d.Date
	}
	return dates
}

// Validate checks catalog invariants: dates are unique, and times are unique
// within each day.
func Validate(days []Day) error {
	seenDates := make(map[Date]struct{}, len(days))
	for _, d := range days {
		if d.Date.IsZero() {
			return fmt.Errorf("slot day without date")
		}
		if _, dup := seenDates[d.Date]; dup {
			return fmt.Errorf("duplicate slot day %s", d.Date)
		}
		seenDates[d.Date] = struct{}{}

		seenTimes := make(map[Clock]struct{}, len(d.Slots))
		for _, s := range d.Slots {
			if _, dup := seenTimes[s.Time]; dup {
				return fmt.Errorf("duplicate time %s on %s", s.Time, d.Date)
			}
			seenTimes[s.Time] = struct{}{}
		}
	}
	return nil
}
