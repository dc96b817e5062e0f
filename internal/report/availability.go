package report

import (
	"fmt"

	"slotsync/internal/slots"
)

const (
	SheetAvailability = "Availability"
	SheetSummary      = "Summary"
)

// Availability builds the workbook for a booking view and its summary. The
// caller owns the returned workbook and must Close it.
func Availability(days []slots.Day, summary []slots.SummaryDay) (*Workbook, error) {
	w := NewWorkbook()

	if err := writeSlots(w, days); err != nil {
		_ = w.Close()
		return nil, err
	}
	if err := writeSummary(w, summary); err != nil {
		_ = w.Close()
		return nil, err
	}
	return w, nil
}

func writeSlots(w *Workbook, days []slots.Day) error {
	if err := w.AddSheet(SheetAvailability); err != nil {
		return err
	}
	if err := w.WriteHeader([]string{"Date", "Weekday", "Time", "Status"}); err != nil {
		return err
	}

	for _, day := range days {
		weekday := day.Date.Midnight().Weekday().String()
		for _, slot := range day.Slots {
			row := []interface{}{day.Date.String(), weekday, slot.Time.String(), string(slot.Status)}
			if err := w.WriteRow(row); err != nil {
				return fmt.Errorf("write %s %s: %w", day.Date, slot.Time, err)
			}
		}
	}
	return nil
}

func writeSummary(w *Workbook, summary []slots.SummaryDay) error {
	if err := w.AddSheet(SheetSummary); err != nil {
		return err
	}
	if err := w.WriteHeader([]string{"Date", "Weekday", "Open slots"}); err != nil {
		return err
	}

	for _, day := range summary {
		if err := w.WriteRow([]interface{}{day.Label, day.Weekday, day.OpenSlots}); err != nil {
			return fmt.Errorf("write summary %s: %w", day.RawDate, err)
		}
	}
	return nil
}
