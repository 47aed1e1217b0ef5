package recurrence

import "time"

// EventSignature identifies an event occurrence slot: a concrete group plus
// a start timestamp rounded to the minute. Rounding is mandatory — rows
// written by hand and rows produced by projection may differ by sub-minute
// jitter and must still collide.
type EventSignature struct {
	TargetID string
	StartAt  time.Time
}

// EventSignatureOf builds the canonical signature for a group/time slot.
func EventSignatureOf(targetID string, startAt time.Time) EventSignature {
	return EventSignature{TargetID: targetID, StartAt: startAt.UTC().Truncate(time.Minute)}
}

// EventSignatureSet is a lookup of occupied event slots.
type EventSignatureSet map[EventSignature]struct{}

// Add marks a slot as occupied.
func (s EventSignatureSet) Add(targetID string, startAt time.Time) {
	s[EventSignatureOf(targetID, startAt)] = struct{}{}
}

// Contains reports whether the slot is already occupied.
func (s EventSignatureSet) Contains(targetID string, startAt time.Time) bool {
	_, ok := s[EventSignatureOf(targetID, startAt)]
	return ok
}

// TaskSignature identifies a weekly task instance: which template, for
// which student or group, in which ISO week.
type TaskSignature struct {
	TemplateID string
	TargetID   string
	WeekKey    string
}

// TaskSignatureSet is a lookup of already-materialized task instances.
type TaskSignatureSet map[TaskSignature]struct{}

// Add marks an instance as existing.
func (s TaskSignatureSet) Add(sig TaskSignature) {
	s[sig] = struct{}{}
}

// FilterNew drops candidates whose signature is already present. Persisted
// instances always win: a projected occurrence never shadows or duplicates
// a real row at the same signature.
func (s TaskSignatureSet) FilterNew(candidates []Occurrence) []Occurrence {
	kept := make([]Occurrence, 0, len(candidates))
	for _, c := range candidates {
		sig := TaskSignature{TemplateID: c.TemplateID, TargetID: c.TargetID, WeekKey: c.WeekKey}
		if _, exists := s[sig]; exists {
			continue
		}
		kept = append(kept, c)
	}
	return kept
}
