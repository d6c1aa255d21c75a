package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/davexpro/archivist/internal/db"
)

// ParseTimeOfDay accepts HH:MM:SS or HH:MM.
func ParseTimeOfDay(s string) (hour, min, sec int, err error) {
	for _, layout := range []string{"15:04:05", "15:04"} {
		if t, perr := time.Parse(layout, s); perr == nil {
			return t.Hour(), t.Minute(), t.Second(), nil
		}
	}
	return 0, 0, 0, fmt.Errorf("invalid time of day %q", s)
}

// NextRun computes the next fire time of sched after now, interpreting the time of day in loc.
// Daily fires tomorrow; weekly on the next occurrence of the weekday, a week out when today
// is that weekday; monthly on the configured day of next month, clamped to that month's last
// day. The result is in UTC.
func NextRun(sched db.Schedule, now time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	h, m, s, err := ParseTimeOfDay(sched.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	n := now.In(loc)

	switch sched.IntervalType {
	case db.IntervalDaily:
		return time.Date(n.Year(), n.Month(), n.Day()+1, h, m, s, 0, loc).UTC(), nil

	case db.IntervalWeekly:
		if sched.DayOfWeek == nil || *sched.DayOfWeek < 0 || *sched.DayOfWeek > 6 {
			return time.Time{}, errors.New("weekly schedule needs day_of_week between 0 and 6")
		}
		days := (*sched.DayOfWeek - int(n.Weekday()) + 7) % 7
		if days == 0 {
			days = 7
		}
		return time.Date(n.Year(), n.Month(), n.Day()+days, h, m, s, 0, loc).UTC(), nil

	case db.IntervalMonthly:
		if sched.DayOfMonth == nil || *sched.DayOfMonth < 1 || *sched.DayOfMonth > 31 {
			return time.Time{}, errors.New("monthly schedule needs day_of_month between 1 and 31")
		}
		year, month := n.Year(), n.Month()+1
		day := *sched.DayOfMonth
		if last := daysIn(year, month, loc); day > last {
			day = last
		}
		return time.Date(year, month, day, h, m, s, 0, loc).UTC(), nil

	default:
		return time.Time{}, fmt.Errorf("unknown interval type %q", sched.IntervalType)
	}
}

func daysIn(year int, month time.Month, loc *time.Location) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, loc).Day()
}
