package bookings

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"slotsync/internal/slots"
)

func record(t *testing.T, date, clock string) Record {
	t.Helper()
	d, err := slots.ParseDate(date)
	require.NoError(t, err)
	c, err := slots.ParseClock(clock)
	require.NoError(t, err)
	return Record{Email: "a@b.c", Date: d, Time: c}
}

func TestProject(t *testing.T) {
	now := time.Date(2025, time.March, 10, 10, 30, 0, 0, slots.Location())

	tests := []struct {
		name     string
		records  []Record
		now      time.Time
		wantKind Kind
		wantDate string
		wantTime string
	}{
		{
			name:     "no bookings",
			records:  nil,
			wantKind: KindNone,
		},
		{
			name:     "future booking",
			records:  []Record{record(t, "2025-03-12", "11:00")},
			wantKind: KindUpcoming,
			wantDate: "2025-03-12",
			wantTime: "11:00",
		},
		{
			name:     "later today",
			records:  []Record{record(t, "2025-03-10", "10:31")},
			wantKind: KindUpcoming,
			wantDate: "2025-03-10",
			wantTime: "10:31",
		},
		{
			name:     "exactly now is attended",
			records:  []Record{record(t, "2025-03-10", "10:30")},
			wantKind: KindLastAttended,
			wantDate: "2025-03-10",
			wantTime: "10:30",
		},
		{
			name: "latest date wins regardless of order",
			records: []Record{
				record(t, "2025-02-01", "09:00"),
				record(t, "2025-03-01", "09:00"),
				record(t, "2025-01-15", "09:00"),
			},
			wantKind: KindLastAttended,
			wantDate: "2025-03-01",
			wantTime: "09:00",
		},
		{
			name: "ties keep input order",
			records: []Record{
				record(t, "2025-03-20", "09:00"),
				record(t, "2025-03-20", "18:00"),
			},
			wantKind: KindUpcoming,
			wantDate: "2025-03-20",
			wantTime: "09:00",
		},
		{
			name: "future booking after an attended one",
			records: []Record{
				record(t, "2025-01-10", "10:00"),
				record(t, "2025-06-01", "10:00"),
			},
			now:      time.Date(2025, time.March, 1, 0, 0, 0, 0, time.UTC),
			wantKind: KindUpcoming,
			wantDate: "2025-06-01",
			wantTime: "10:00",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			at := now
			if !tt.now.IsZero() {
				at = tt.now
			}
			got := Project(tt.records, at)
			assert.Equal(t, tt.wantKind, got.Kind)
			if tt.wantKind == KindNone {
				assert.Nil(t, got.Date)
				assert.Nil(t, got.Time)
				return
			}
			require.NotNil(t, got.Date)
			require.NotNil(t, got.Time)
			assert.Equal(t, tt.wantDate, got.Date.String())
			assert.Equal(t, tt.wantTime, got.Time.String())
		})
	}
}

func TestProjectComparesInReferenceZone(t *testing.T) {
	// 05:00 UTC is 10:30 in the reference zone.
	now := time.Date(2025, time.March, 10, 5, 0, 0, 0, time.UTC)

	assert.Equal(t, KindLastAttended, Project([]Record{record(t, "2025-03-10", "10:00")}, now).Kind)
	assert.Equal(t, KindUpcoming, Project([]Record{record(t, "2025-03-10", "11:00")}, now).Kind)
}

func TestProjectDoesNotReorderInput(t *testing.T) {
	now := time.Date(2025, time.March, 10, 10, 30, 0, 0, slots.Location())
	records := []Record{record(t, "2025-01-01", "09:00"), record(t, "2025-02-01", "09:00")}

	Project(records, now)
	assert.Equal(t, "2025-01-01", records[0].Date.String())
}

func TestSummaryJSONAndTitle(t *testing.T) {
	now := time.Date(2025, time.March, 10, 10, 30, 0, 0, slots.Location())

	none := Project(nil, now)
	data, err := json.Marshal(none)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"none"}`, string(data))
	assert.Equal(t, "Book Your First Interview", none.Title())

	upcoming := Project([]Record{record(t, "2025-03-12", "11:00")}, now)
	data, err = json.Marshal(upcoming)
	require.NoError(t, err)
	assert.JSONEq(t, `{"kind":"upcoming","date":"2025-03-12","time":"11:00"}`, string(data))
	assert.Equal(t, "Your Upcoming Interview", upcoming.Title())
}

func TestDecodeRecords(t *testing.T) {
	payload := `[{"email":"a@b.c","date":"2025-03-11T18:30:00.000Z","time":"09:00","paymentId":"pay_1"}]`

	var records []Record
	require.NoError(t, json.Unmarshal([]byte(payload), &records))
	require.Len(t, records, 1)
	assert.Equal(t, "2025-03-12", records[0].Date.String())
	assert.Equal(t, "pay_1", records[0].PaymentID)
}
