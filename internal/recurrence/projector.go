package recurrence

import (
	"fmt"
	"sort"
	"time"
)

// Template is the projector's view of a recurring obligation. Concrete
// template kinds (curator task templates, group lesson slots) are adapted
// into this shape by their services.
type Template struct {
	ID       string
	Active   bool
	Rule     *WeeklyRule
	Deadline *DeadlineRule
}

// Occurrence is one projected (template, target, timestamp) instance.
// Occurrences are ephemeral values: they exist only until they are either
// materialized or discarded at the end of the request or tick.
type Occurrence struct {
	TemplateID string
	TargetID   string
	StartAt    time.Time // UTC
	DueAt      time.Time // UTC; zero when the template has no deadline rule
	WeekKey    string
}

// Projector expands weekly templates into concrete occurrences inside a
// window. All weekday/clock arithmetic happens in the organization's
// canonical location; emitted timestamps are UTC.
type Projector struct {
	loc *time.Location
}

// NewProjector builds a projector anchored to the organization timezone.
func NewProjector(loc *time.Location) *Projector {
	if loc == nil {
		loc = time.UTC
	}
	return &Projector{loc: loc}
}

// Location exposes the projector's canonical timezone.
func (p *Projector) Location() *time.Location { return p.loc }

// Project returns every occurrence of tpl for each target inside
// [windowStart, windowEnd). An inactive template or one without a rule
// produces nothing. At most one occurrence per (target, ISO week) is
// emitted even when the window straddles week boundaries oddly.
func (p *Projector) Project(tpl Template, windowStart, windowEnd time.Time, targets []string) ([]Occurrence, error) {
	if !tpl.Active || tpl.Rule == nil || len(targets) == 0 {
		return nil, nil
	}
	if err := tpl.Rule.Validate(); err != nil {
		return nil, fmt.Errorf("template %s: %w", tpl.ID, err)
	}
	if tpl.Deadline != nil {
		if err := tpl.Deadline.Validate(); err != nil {
			return nil, fmt.Errorf("template %s: %w", tpl.ID, err)
		}
	}

	start := windowStart.In(p.loc)
	end := windowEnd.In(p.loc)
	if !end.After(start) {
		return nil, nil
	}

	var starts []time.Time
	seenWeeks := make(map[string]struct{})
	for week := WeekStart(start); week.Before(end); week = week.AddDate(0, 0, 7) {
		at, err := tpl.Rule.At(week)
		if err != nil {
			return nil, fmt.Errorf("template %s: %w", tpl.ID, err)
		}
		if at.Before(start) || !at.Before(end) {
			continue
		}
		key := ISOWeekKey(at, p.loc)
		if _, dup := seenWeeks[key]; dup {
			continue
		}
		seenWeeks[key] = struct{}{}
		starts = append(starts, at)
	}
	sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })

	occurrences := make([]Occurrence, 0, len(starts)*len(targets))
	for _, at := range starts {
		var due time.Time
		if tpl.Deadline != nil && !tpl.Deadline.Empty() {
			due = tpl.Deadline.Apply(at).UTC()
		}
		weekKey := ISOWeekKey(at, p.loc)
		for _, target := range targets {
			occurrences = append(occurrences, Occurrence{
				TemplateID: tpl.ID,
				TargetID:   target,
				StartAt:    at.UTC(),
				DueAt:      due,
				WeekKey:    weekKey,
			})
		}
	}
	return occurrences, nil
}
