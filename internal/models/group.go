package models

import "time"

// Group is a study group of students led by a teacher and, optionally,
// supervised by a curator.
type Group struct {
	ID        string  `db:"id" json:"id"`
	Name      string  `db:"name" json:"name"`
	TeacherID *string `db:"teacher_id" json:"teacher_id,omitempty"`
	CuratorID *string `db:"curator_id" json:"curator_id,omitempty"`
	Active    bool    `db:"active" json:"active"`

	// ScheduleStartDate anchors program-week numbering for the group.
	// Nil means the group has no configured program schedule.
	ScheduleStartDate *time.Time `db:"schedule_start_date" json:"schedule_start_date,omitempty"`
	LessonsCount      *int       `db:"lessons_count" json:"lessons_count,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}
