package models

import "time"

// CalendarEntryKind discriminates real rows from projected occurrences.
type CalendarEntryKind string

const (
	EntryReal    CalendarEntryKind = "real"
	EntryVirtual CalendarEntryKind = "virtual"
)

// VirtualSourceKind names what a virtual occurrence was projected from.
type VirtualSourceKind string

const (
	SourceRecurringEvent VirtualSourceKind = "recurring_event"
	SourceLessonSlot     VirtualSourceKind = "lesson_slot"
)

// VirtualOccurrence is a display-only projected event. It is never
// persisted; promoting one to a real row goes through materialization.
type VirtualOccurrence struct {
	SourceKind  VirtualSourceKind `json:"source_kind"`
	SourceID    string            `json:"source_id"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	EventType   string            `json:"event_type"`
	StartAt     time.Time         `json:"start_at"`
	EndAt       time.Time         `json:"end_at"`
	GroupID     string            `json:"group_id"`
	GroupName   string            `json:"group_name"`

	// LessonIndex is the 1-based chronological position of this occurrence
	// within its group's lesson stream. Zero for non-lesson sources.
	LessonIndex int `json:"lesson_index,omitempty"`
}

// CalendarEntry is either a persisted Event or a VirtualOccurrence. Exactly
// one of the two pointers is set, matching Kind. Downstream code
// discriminates by Kind, never by an id convention.
type CalendarEntry struct {
	Kind    CalendarEntryKind  `json:"kind"`
	Event   *Event             `json:"event,omitempty"`
	Virtual *VirtualOccurrence `json:"virtual,omitempty"`
}

// MaterializeRequest asks to promote one projected occurrence into a
// persisted event row.
type MaterializeRequest struct {
	SourceKind VirtualSourceKind `json:"source_kind" validate:"required,oneof=recurring_event lesson_slot"`
	SourceID   string            `json:"source_id" validate:"required"`
	GroupID    string            `json:"group_id" validate:"required"`
	StartAt    time.Time         `json:"start_at" validate:"required"`
}

// StartAt returns the entry's start timestamp regardless of kind.
func (e CalendarEntry) StartAt() time.Time {
	if e.Kind == EntryReal && e.Event != nil {
		return e.Event.StartAt
	}
	if e.Virtual != nil {
		return e.Virtual.StartAt
	}
	return time.Time{}
}
