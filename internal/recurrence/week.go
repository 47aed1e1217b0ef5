package recurrence

import (
	"fmt"
	"time"
)

// WeekStart returns Monday 00:00 of the week containing t, in t's location.
func WeekStart(t time.Time) time.Time {
	offset := (int(t.Weekday()) + 6) % 7
	day := t.AddDate(0, 0, -offset)
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, t.Location())
}

// ProgramWeek returns the 1-based program week of today relative to the
// group's schedule start date. The first seven days starting at start are
// week 1. ok is false when start is unset or the program has not started.
func ProgramWeek(start *time.Time, today time.Time) (int, bool) {
	if start == nil || start.IsZero() {
		return 0, false
	}
	s := dateOnly(*start)
	d := dateOnly(today)
	delta := int(d.Sub(s).Hours() / 24)
	if delta < 0 {
		return 0, false
	}
	return delta/7 + 1, true
}

// ISOWeekKey returns the canonical "{year}-W{week:02d}" signature for t
// computed in the given location. The location matters near midnight and
// year boundaries: a tick shortly after Sunday 23:59 local must already
// belong to the next week.
func ISOWeekKey(t time.Time, loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	year, week := t.In(loc).ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func dateOnly(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
