package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davexpro/archivist/internal/db"
)

func intp(i int) *int { return &i }

func TestNextRun(t *testing.T) {
	at := func(s string) time.Time {
		t, err := time.Parse("2006-01-02 15:04:05", s)
		if err != nil {
			panic(err)
		}
		return t
	}

	tests := []struct {
		name  string
		sched db.Schedule
		now   string
		want  string
	}{
		{"daily", db.Schedule{IntervalType: db.IntervalDaily, TimeOfDay: "03:00:00"}, "2024-01-01 10:00:00", "2024-01-02 03:00:00"},
		{"daily before time still tomorrow", db.Schedule{IntervalType: db.IntervalDaily, TimeOfDay: "23:30"}, "2024-01-01 10:00:00", "2024-01-02 23:30:00"},
		{"daily year rollover", db.Schedule{IntervalType: db.IntervalDaily, TimeOfDay: "00:15"}, "2024-12-31 23:59:00", "2025-01-01 00:15:00"},
		// 2024-01-03 is a Wednesday
		{"weekly upcoming monday", db.Schedule{IntervalType: db.IntervalWeekly, TimeOfDay: "03:00:00", DayOfWeek: intp(1)}, "2024-01-03 10:00:00", "2024-01-08 03:00:00"},
		{"weekly later this week", db.Schedule{IntervalType: db.IntervalWeekly, TimeOfDay: "08:00", DayOfWeek: intp(5)}, "2024-01-03 10:00:00", "2024-01-05 08:00:00"},
		{"weekly same weekday", db.Schedule{IntervalType: db.IntervalWeekly, TimeOfDay: "23:00", DayOfWeek: intp(3)}, "2024-01-03 10:00:00", "2024-01-10 23:00:00"},
		{"weekly sunday", db.Schedule{IntervalType: db.IntervalWeekly, TimeOfDay: "12:00", DayOfWeek: intp(0)}, "2024-01-03 10:00:00", "2024-01-07 12:00:00"},
		{"monthly", db.Schedule{IntervalType: db.IntervalMonthly, TimeOfDay: "04:00", DayOfMonth: intp(15)}, "2024-01-20 10:00:00", "2024-02-15 04:00:00"},
		{"monthly clamps to leap february", db.Schedule{IntervalType: db.IntervalMonthly, TimeOfDay: "04:00", DayOfMonth: intp(31)}, "2024-01-31 10:00:00", "2024-02-29 04:00:00"},
		{"monthly clamps to 30 days", db.Schedule{IntervalType: db.IntervalMonthly, TimeOfDay: "04:00", DayOfMonth: intp(31)}, "2024-03-05 10:00:00", "2024-04-30 04:00:00"},
		{"monthly december rollover", db.Schedule{IntervalType: db.IntervalMonthly, TimeOfDay: "04:00", DayOfMonth: intp(1)}, "2024-12-10 10:00:00", "2025-01-01 04:00:00"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NextRun(tt.sched, at(tt.now), time.UTC)
			require.NoError(t, err)
			assert.Equal(t, at(tt.want), got)
		})
	}
}

func TestNextRunLocation(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	now := time.Date(2024, 1, 1, 23, 0, 0, 0, time.UTC) // already Jan 2 in loc

	got, err := NextRun(db.Schedule{IntervalType: db.IntervalDaily, TimeOfDay: "03:00"}, now, loc)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 3, 1, 0, 0, 0, time.UTC), got)
	assert.Equal(t, time.UTC, got.Location())
}

func TestNextRunInvalid(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	bad := []db.Schedule{
		{IntervalType: db.IntervalDaily, TimeOfDay: "25:00"},
		{IntervalType: db.IntervalDaily, TimeOfDay: "noon"},
		{IntervalType: db.IntervalWeekly, TimeOfDay: "03:00"},
		{IntervalType: db.IntervalWeekly, TimeOfDay: "03:00", DayOfWeek: intp(7)},
		{IntervalType: db.IntervalMonthly, TimeOfDay: "03:00", DayOfMonth: intp(0)},
		{IntervalType: "hourly", TimeOfDay: "03:00"},
	}
	for _, s := range bad {
		_, err := NextRun(s, now, time.UTC)
		assert.Error(t, err, "%+v", s)
	}
}
