package recurrence

import (
	"fmt"
	"strings"
	"time"
)

var weekdayByName = map[string]time.Weekday{
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
	"sunday":    time.Sunday,
}

// ParseWeekday resolves a case-insensitive English weekday name.
func ParseWeekday(name string) (time.Weekday, error) {
	wd, ok := weekdayByName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return 0, fmt.Errorf("unknown weekday %q", name)
	}
	return wd, nil
}

// ParseTimeOfDay parses an "HH:MM" clock value.
func ParseTimeOfDay(value string) (hour, minute int, err error) {
	parts := strings.SplitN(strings.TrimSpace(value), ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("invalid time of day %q", value)
	}
	if _, err := fmt.Sscanf(parts[0]+" "+parts[1], "%d %d", &hour, &minute); err != nil {
		return 0, 0, fmt.Errorf("invalid time of day %q", value)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("time of day %q out of range", value)
	}
	return hour, minute, nil
}

// WeeklyRule describes a once-per-week occurrence: a weekday plus a local
// clock time. Rules are validated when a template is created or loaded, not
// on every projection tick.
type WeeklyRule struct {
	DayOfWeek string `json:"day_of_week"`
	TimeOfDay string `json:"time_of_day"`
}

// Validate checks the rule resolves to exactly one weekly occurrence.
func (r WeeklyRule) Validate() error {
	if _, err := ParseWeekday(r.DayOfWeek); err != nil {
		return err
	}
	if _, _, err := ParseTimeOfDay(r.TimeOfDay); err != nil {
		return err
	}
	return nil
}

// At returns the rule's occurrence within the week starting at weekStart
// (Monday 00:00 in the organization's location).
func (r WeeklyRule) At(weekStart time.Time) (time.Time, error) {
	wd, err := ParseWeekday(r.DayOfWeek)
	if err != nil {
		return time.Time{}, err
	}
	hour, minute, err := ParseTimeOfDay(r.TimeOfDay)
	if err != nil {
		return time.Time{}, err
	}
	day := weekStart.AddDate(0, 0, (int(wd)+6)%7)
	return time.Date(day.Year(), day.Month(), day.Day(), hour, minute, 0, 0, weekStart.Location()), nil
}

// DeadlineRule derives a due timestamp from an occurrence. All fields are
// optional; the application order is fixed: day/hour offsets first, then the
// weekday snap, then the time-of-day override.
type DeadlineRule struct {
	OffsetDays  *int    `json:"offset_days,omitempty"`
	OffsetHours *int    `json:"offset_hours,omitempty"`
	DayOfWeek   *string `json:"day_of_week,omitempty"`
	TimeOfDay   *string `json:"time_of_day,omitempty"`
}

// Validate rejects malformed weekday or clock values.
func (r DeadlineRule) Validate() error {
	if r.DayOfWeek != nil {
		if _, err := ParseWeekday(*r.DayOfWeek); err != nil {
			return err
		}
	}
	if r.TimeOfDay != nil {
		if _, _, err := ParseTimeOfDay(*r.TimeOfDay); err != nil {
			return err
		}
	}
	return nil
}

// Empty reports whether the rule carries no constraints at all.
func (r DeadlineRule) Empty() bool {
	return r.OffsetDays == nil && r.OffsetHours == nil && r.DayOfWeek == nil && r.TimeOfDay == nil
}

// Apply computes the due timestamp for an occurrence at base (organization
// local time). Offsets are added first. Then, if a weekday is set, the date
// rolls forward to that weekday: a target weekday strictly before the
// current one rolls into the next week, while the same weekday stays on the
// same day rather than jumping a full week. Finally the clock is overridden
// when a time of day is set. Reordering these steps changes results on
// boundary weeks, so the order is load-bearing.
func (r DeadlineRule) Apply(base time.Time) time.Time {
	due := base
	if r.OffsetDays != nil {
		due = due.AddDate(0, 0, *r.OffsetDays)
	}
	if r.OffsetHours != nil {
		due = due.Add(time.Duration(*r.OffsetHours) * time.Hour)
	}
	if r.DayOfWeek != nil {
		if wd, err := ParseWeekday(*r.DayOfWeek); err == nil {
			delta := (int(wd) - int(due.Weekday()) + 7) % 7
			due = due.AddDate(0, 0, delta)
		}
	}
	if r.TimeOfDay != nil {
		if hour, minute, err := ParseTimeOfDay(*r.TimeOfDay); err == nil {
			due = time.Date(due.Year(), due.Month(), due.Day(), hour, minute, 0, 0, due.Location())
		}
	}
	return due
}
