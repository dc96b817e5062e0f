package slots

import "time"

const (
	summaryDateLayout = "January 2, 2006"
)

// SummaryDay is a day of the summary view. Days without open slots never
// appear in it.
type SummaryDay struct {
	Label     string `json:"date"`
	Weekday   string `json:"day"`
	OpenSlots int    `json:"openSlots"`
	RawDate   Date   `json:"rawDate"`
}

// NormalizeForBooking drops days before today in the reference zone and
// annotates every remaining slot with its status. Day and slot order is kept,
// and days without available slots stay in the result.
func NormalizeForBooking(raw []Day, now time.Time) []Day {
	refNow := now.In(reference)
	today := DateOf(refNow)

	days := make([]Day, 0, len(raw))
	for _, day := range raw {
		if day.Date.Before(today) {
			continue
		}

		annotated := make([]TimeSlot, len(day.Slots))
		for i, slot := range day.Slots {
			slot.Status = statusOf(slot, day.Date, today, refNow)
			annotated[i] = slot
		}
		days = append(days, Day{Date: day.Date, Slots: annotated})
	}
	return days
}

// NormalizeForSummary applies the booking rules and keeps only days with at
// least one available slot, labelled for display.
func NormalizeForSummary(raw []Day, now time.Time) []SummaryDay {
	days := NormalizeForBooking(raw, now)

	summary := make([]SummaryDay, 0, len(days))
	for _, day := range days {
		open := day.Open()
		if open == 0 {
			continue
		}
		midnight := day.Date.Midnight()
		summary = append(summary, SummaryDay{
			Label:     midnight.Format(summaryDateLayout),
			Weekday:   midnight.Weekday().String(),
			OpenSlots: open,
			RawDate:   day.Date,
		})
	}
	return summary
}

// booked wins over expired.
func statusOf(slot TimeSlot, date, today Date, refNow time.Time) Status {
	switch {
	case slot.Booked:
		return StatusBooked
	case date == today && date.At(slot.Time).Before(refNow):
		return StatusExpired
	default:
		return StatusAvailable
	}
}
