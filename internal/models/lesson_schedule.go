package models

import "time"

// DefaultLessonDurationMinutes applies when a slot carries no duration.
const DefaultLessonDurationMinutes = 60

// LessonSlot is one weekly class slot in a group's program schedule.
// Together with the group's schedule start date it defines the stream of
// projected "Group X: Lesson N" calendar entries.
type LessonSlot struct {
	ID              string    `db:"id" json:"id"`
	GroupID         string    `db:"group_id" json:"group_id"`
	DayOfWeek       string    `db:"day_of_week" json:"day_of_week"`
	TimeOfDay       string    `db:"time_of_day" json:"time_of_day"`
	DurationMinutes *int      `db:"duration_minutes" json:"duration_minutes,omitempty"`
	Active          bool      `db:"active" json:"active"`
	CreatedAt       time.Time `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time `db:"updated_at" json:"updated_at"`
}

// Duration returns the slot length, applying the default when unset.
func (s *LessonSlot) Duration() time.Duration {
	minutes := DefaultLessonDurationMinutes
	if s.DurationMinutes != nil && *s.DurationMinutes > 0 {
		minutes = *s.DurationMinutes
	}
	return time.Duration(minutes) * time.Minute
}
