package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-core-api/internal/models"
	"github.com/noah-isme/lms-core-api/internal/recurrence"
)

func almatyLoc(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Almaty")
	require.NoError(t, err)
	return loc
}

func weeklyParent() *models.Event {
	pattern := recurrence.SeriesWeekly
	return &models.Event{
		ID:                "ev-1",
		Title:             "Weekly standup",
		EventType:         "meeting",
		StartAt:           time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC),
		EndAt:             time.Date(2026, 2, 2, 10, 0, 0, 0, time.UTC),
		IsRecurring:       true,
		RecurrencePattern: &pattern,
		Active:            true,
		GroupIDs:          []string{"g1"},
	}
}

func virtualEntries(entries []models.CalendarEntry) []models.CalendarEntry {
	var out []models.CalendarEntry
	for _, e := range entries {
		if e.Kind == models.EntryVirtual {
			out = append(out, e)
		}
	}
	return out
}

func TestExpandRealWinsOverVirtual(t *testing.T) {
	x := NewEventExpander(almatyLoc(t))

	// A persisted row at Feb 9 with sub-minute jitter must suppress the
	// projected occurrence at the same group/minute slot.
	real := &models.Event{
		ID:       "ev-real",
		Title:    "Weekly standup (moved room)",
		StartAt:  time.Date(2026, 2, 9, 9, 0, 30, 0, time.UTC),
		EndAt:    time.Date(2026, 2, 9, 10, 0, 30, 0, time.UTC),
		GroupIDs: []string{"g1"},
	}

	entries, err := x.Expand(ExpandInput{
		Groups:           []*models.Group{{ID: "g1", Name: "Group A", Active: true}},
		Events:           []*models.Event{real},
		RecurringParents: []*models.Event{weeklyParent()},
		WindowStart:      time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC),
		WindowEnd:        time.Date(2026, 2, 28, 23, 59, 0, 0, time.UTC),
	})
	require.NoError(t, err)

	// Anchor (real), Feb 9 (real), Feb 16 and Feb 23 (virtual).
	require.Len(t, entries, 4)
	assert.Equal(t, models.EntryReal, entries[0].Kind)
	assert.Equal(t, "ev-1", entries[0].Event.ID)
	assert.Equal(t, models.EntryReal, entries[1].Kind)
	assert.Equal(t, "ev-real", entries[1].Event.ID)

	virtuals := virtualEntries(entries)
	require.Len(t, virtuals, 2)
	assert.Equal(t, time.Date(2026, 2, 16, 9, 0, 0, 0, time.UTC), virtuals[0].Virtual.StartAt)
	assert.Equal(t, time.Date(2026, 2, 23, 9, 0, 0, 0, time.UTC), virtuals[1].Virtual.StartAt)
	for _, v := range virtuals {
		assert.Equal(t, models.SourceRecurringEvent, v.Virtual.SourceKind)
		assert.Equal(t, "ev-1", v.Virtual.SourceID)
		assert.Equal(t, "g1", v.Virtual.GroupID)
		assert.Equal(t, "Group A", v.Virtual.GroupName)
	}
}

func TestExpandLessonNumberingContinuesAcrossWindows(t *testing.T) {
	loc := almatyLoc(t)
	x := NewEventExpander(loc)

	start := time.Date(2026, 2, 2, 0, 0, 0, 0, loc)
	group := &models.Group{ID: "g1", Name: "Group A", Active: true, ScheduleStartDate: &start}
	slots := []*models.LessonSlot{
		{ID: "s-mon", GroupID: "g1", DayOfWeek: "monday", TimeOfDay: "10:00", Active: true},
		{ID: "s-thu", GroupID: "g1", DayOfWeek: "thursday", TimeOfDay: "15:00", Active: true},
	}

	// The window covers program weeks 3 and 4 only; numbering still counts
	// from the schedule start.
	entries, err := x.Expand(ExpandInput{
		Groups:      []*models.Group{group},
		LessonSlots: slots,
		WindowStart: time.Date(2026, 2, 16, 0, 0, 0, 0, loc),
		WindowEnd:   time.Date(2026, 3, 1, 0, 0, 0, 0, loc),
	})
	require.NoError(t, err)
	require.Len(t, entries, 4)

	assert.Equal(t, "Group A: Lesson 5", entries[0].Virtual.Title)
	assert.Equal(t, 5, entries[0].Virtual.LessonIndex)
	assert.Equal(t, time.Date(2026, 2, 16, 5, 0, 0, 0, time.UTC), entries[0].Virtual.StartAt)
	assert.Equal(t, 6, entries[1].Virtual.LessonIndex)
	assert.Equal(t, 7, entries[2].Virtual.LessonIndex)
	assert.Equal(t, 8, entries[3].Virtual.LessonIndex)
}

func TestExpandLessonDefaultDuration(t *testing.T) {
	loc := almatyLoc(t)
	x := NewEventExpander(loc)

	start := time.Date(2026, 2, 2, 0, 0, 0, 0, loc)
	ninety := 90
	group := &models.Group{ID: "g1", Name: "Group A", Active: true, ScheduleStartDate: &start}
	slots := []*models.LessonSlot{
		{ID: "s-mon", GroupID: "g1", DayOfWeek: "monday", TimeOfDay: "10:00", Active: true},
		{ID: "s-thu", GroupID: "g1", DayOfWeek: "thursday", TimeOfDay: "15:00", DurationMinutes: &ninety, Active: true},
	}

	entries, err := x.Expand(ExpandInput{
		Groups:      []*models.Group{group},
		LessonSlots: slots,
		WindowStart: time.Date(2026, 2, 2, 0, 0, 0, 0, loc),
		WindowEnd:   time.Date(2026, 2, 8, 0, 0, 0, 0, loc),
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)

	assert.Equal(t, time.Hour, entries[0].Virtual.EndAt.Sub(entries[0].Virtual.StartAt))
	assert.Equal(t, 90*time.Minute, entries[1].Virtual.EndAt.Sub(entries[1].Virtual.StartAt))
}

func TestExpandLessonCountCap(t *testing.T) {
	loc := almatyLoc(t)
	x := NewEventExpander(loc)

	start := time.Date(2026, 2, 2, 0, 0, 0, 0, loc)
	three := 3
	group := &models.Group{ID: "g1", Name: "Group A", Active: true, ScheduleStartDate: &start, LessonsCount: &three}
	slots := []*models.LessonSlot{
		{ID: "s-mon", GroupID: "g1", DayOfWeek: "monday", TimeOfDay: "10:00", Active: true},
		{ID: "s-thu", GroupID: "g1", DayOfWeek: "thursday", TimeOfDay: "15:00", Active: true},
	}

	entries, err := x.Expand(ExpandInput{
		Groups:      []*models.Group{group},
		LessonSlots: slots,
		WindowStart: time.Date(2026, 2, 2, 0, 0, 0, 0, loc),
		WindowEnd:   time.Date(2026, 3, 1, 0, 0, 0, 0, loc),
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, 3, entries[2].Virtual.LessonIndex)
}

func TestExpandLessonsSkipBeforeScheduleStart(t *testing.T) {
	loc := almatyLoc(t)
	x := NewEventExpander(loc)

	// Schedule starts Wednesday; that week's Monday slot never happened,
	// so the Thursday lesson is lesson 1.
	start := time.Date(2026, 2, 4, 0, 0, 0, 0, loc)
	group := &models.Group{ID: "g1", Name: "Group A", Active: true, ScheduleStartDate: &start}
	slots := []*models.LessonSlot{
		{ID: "s-mon", GroupID: "g1", DayOfWeek: "monday", TimeOfDay: "10:00", Active: true},
		{ID: "s-thu", GroupID: "g1", DayOfWeek: "thursday", TimeOfDay: "15:00", Active: true},
	}

	entries, err := x.Expand(ExpandInput{
		Groups:      []*models.Group{group},
		LessonSlots: slots,
		WindowStart: time.Date(2026, 2, 2, 0, 0, 0, 0, loc),
		WindowEnd:   time.Date(2026, 2, 10, 0, 0, 0, 0, loc),
	})
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "s-thu", entries[0].Virtual.SourceID)
	assert.Equal(t, 1, entries[0].Virtual.LessonIndex)
	assert.Equal(t, "s-mon", entries[1].Virtual.SourceID)
	assert.Equal(t, 2, entries[1].Virtual.LessonIndex)
}

func TestExpandLessonSuppressedByRealKeepsNumbering(t *testing.T) {
	loc := almatyLoc(t)
	x := NewEventExpander(loc)

	start := time.Date(2026, 2, 2, 0, 0, 0, 0, loc)
	group := &models.Group{ID: "g1", Name: "Group A", Active: true, ScheduleStartDate: &start}
	slots := []*models.LessonSlot{
		{ID: "s-mon", GroupID: "g1", DayOfWeek: "monday", TimeOfDay: "10:00", Active: true},
	}

	// Materialized lesson 2 exists as a persisted row.
	real := &models.Event{
		ID:       "ev-lesson-2",
		Title:    "Group A: Lesson 2",
		StartAt:  time.Date(2026, 2, 9, 5, 0, 0, 0, time.UTC),
		EndAt:    time.Date(2026, 2, 9, 6, 0, 0, 0, time.UTC),
		GroupIDs: []string{"g1"},
	}

	entries, err := x.Expand(ExpandInput{
		Groups:      []*models.Group{group},
		Events:      []*models.Event{real},
		LessonSlots: slots,
		WindowStart: time.Date(2026, 2, 2, 0, 0, 0, 0, loc),
		WindowEnd:   time.Date(2026, 2, 17, 0, 0, 0, 0, loc),
	})
	require.NoError(t, err)
	require.Len(t, entries, 3)

	virtuals := virtualEntries(entries)
	require.Len(t, virtuals, 2)
	assert.Equal(t, 1, virtuals[0].Virtual.LessonIndex)
	assert.Equal(t, 3, virtuals[1].Virtual.LessonIndex)
}

func TestSeriesOccurrenceAt(t *testing.T) {
	x := NewEventExpander(almatyLoc(t))
	parent := weeklyParent()

	occ, err := x.SeriesOccurrenceAt(parent, "g1", time.Date(2026, 2, 16, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, occ)
	assert.Equal(t, time.Date(2026, 2, 16, 9, 0, 0, 0, time.UTC), occ.StartAt)
	assert.Equal(t, time.Hour, occ.EndAt.Sub(occ.StartAt))

	// Off-grid timestamp resolves to nothing.
	occ, err = x.SeriesOccurrenceAt(parent, "g1", time.Date(2026, 2, 17, 9, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, occ)
}

func TestLessonOccurrenceAt(t *testing.T) {
	loc := almatyLoc(t)
	x := NewEventExpander(loc)

	start := time.Date(2026, 2, 2, 0, 0, 0, 0, loc)
	group := &models.Group{ID: "g1", Name: "Group A", Active: true, ScheduleStartDate: &start}
	slots := []*models.LessonSlot{
		{ID: "s-mon", GroupID: "g1", DayOfWeek: "monday", TimeOfDay: "10:00", Active: true},
	}

	occ, err := x.LessonOccurrenceAt(group, slots, time.Date(2026, 2, 16, 5, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.NotNil(t, occ)
	assert.Equal(t, 3, occ.LessonIndex)
	assert.Equal(t, "Group A: Lesson 3", occ.Title)

	occ, err = x.LessonOccurrenceAt(group, slots, time.Date(2026, 2, 16, 6, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	assert.Nil(t, occ)
}
