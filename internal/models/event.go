package models

import (
	"time"

	"github.com/noah-isme/lms-core-api/internal/recurrence"
)

// Event is a persisted calendar event. A recurring event row is the series
// anchor; its projected occurrences are virtual until materialized.
type Event struct {
	ID          string `db:"id" json:"id"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`
	EventType   string `db:"event_type" json:"event_type"`

	StartAt time.Time `db:"start_at" json:"start_at"`
	EndAt   time.Time `db:"end_at" json:"end_at"`

	Location   string `db:"location" json:"location"`
	IsOnline   bool   `db:"is_online" json:"is_online"`
	MeetingURL string `db:"meeting_url" json:"meeting_url"`

	IsRecurring       bool                      `db:"is_recurring" json:"is_recurring"`
	RecurrencePattern *recurrence.SeriesPattern `db:"recurrence_pattern" json:"recurrence_pattern,omitempty"`
	RecurrenceEndDate *time.Time                `db:"recurrence_end_date" json:"recurrence_end_date,omitempty"`

	CreatedBy string    `db:"created_by" json:"created_by"`
	Active    bool      `db:"active" json:"active"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`

	// GroupIDs is loaded from the event_groups link table.
	GroupIDs []string `db:"-" json:"group_ids"`
}

// Duration returns the event length, or zero for malformed rows.
func (e *Event) Duration() time.Duration {
	if e.EndAt.Before(e.StartAt) {
		return 0
	}
	return e.EndAt.Sub(e.StartAt)
}

// EventFilter describes query parameters for listing events.
type EventFilter struct {
	GroupIDs     []string
	EventType    string
	From         *time.Time
	To           *time.Time
	UpcomingOnly bool
	Limit        int
	Offset       int
}
