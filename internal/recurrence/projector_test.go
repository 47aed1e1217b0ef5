package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProjectWindowCoverage(t *testing.T) {
	loc := almaty(t)
	p := NewProjector(loc)

	tpl := Template{
		ID:     "tpl-1",
		Active: true,
		Rule:   &WeeklyRule{DayOfWeek: "monday", TimeOfDay: "09:00"},
	}

	windowStart := time.Date(2026, 2, 1, 0, 0, 0, 0, loc)
	windowEnd := time.Date(2026, 3, 1, 0, 0, 0, 0, loc)

	occurrences, err := p.Project(tpl, windowStart, windowEnd, []string{"group-1"})
	require.NoError(t, err)
	require.Len(t, occurrences, 4, "february 2026 contains four mondays")

	// 09:00 Almaty (UTC+5) is 04:00 UTC.
	wantDays := []int{2, 9, 16, 23}
	for i, occ := range occurrences {
		assert.Equal(t, "tpl-1", occ.TemplateID)
		assert.Equal(t, "group-1", occ.TargetID)
		want := time.Date(2026, 2, wantDays[i], 4, 0, 0, 0, time.UTC)
		assert.True(t, occ.StartAt.Equal(want), "occurrence %d: got %v", i, occ.StartAt)
		assert.Equal(t, time.UTC, occ.StartAt.Location())
	}
}

func TestProjectInactiveOrRulelessTemplate(t *testing.T) {
	p := NewProjector(time.UTC)
	window := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	occ, err := p.Project(Template{ID: "t", Active: false, Rule: &WeeklyRule{DayOfWeek: "monday", TimeOfDay: "09:00"}}, window, window.AddDate(0, 1, 0), []string{"g"})
	require.NoError(t, err)
	assert.Empty(t, occ)

	occ, err = p.Project(Template{ID: "t", Active: true}, window, window.AddDate(0, 1, 0), []string{"g"})
	require.NoError(t, err)
	assert.Empty(t, occ)
}

func TestProjectMalformedRule(t *testing.T) {
	p := NewProjector(time.UTC)
	window := time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC)

	_, err := p.Project(Template{ID: "t", Active: true, Rule: &WeeklyRule{DayOfWeek: "never", TimeOfDay: "09:00"}}, window, window.AddDate(0, 1, 0), []string{"g"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "t")
}

func TestProjectOnePerTargetPerWeek(t *testing.T) {
	loc := almaty(t)
	p := NewProjector(loc)

	tpl := Template{
		ID:     "tpl-1",
		Active: true,
		Rule:   &WeeklyRule{DayOfWeek: "wednesday", TimeOfDay: "10:00"},
	}

	// Window starting mid-week and ending mid-week still yields exactly
	// one occurrence per target per ISO week.
	windowStart := time.Date(2026, 2, 3, 12, 0, 0, 0, loc)
	windowEnd := time.Date(2026, 2, 17, 12, 0, 0, 0, loc)

	occurrences, err := p.Project(tpl, windowStart, windowEnd, []string{"s1", "s2"})
	require.NoError(t, err)
	require.Len(t, occurrences, 4, "two wednesdays x two targets")

	seen := map[TaskSignature]int{}
	for _, occ := range occurrences {
		seen[TaskSignature{TemplateID: occ.TemplateID, TargetID: occ.TargetID, WeekKey: occ.WeekKey}]++
	}
	for sig, count := range seen {
		assert.Equal(t, 1, count, "duplicate projection for %+v", sig)
	}
}

func TestProjectDeadlineComputation(t *testing.T) {
	loc := almaty(t)
	p := NewProjector(loc)

	tpl := Template{
		ID:       "tpl-due",
		Active:   true,
		Rule:     &WeeklyRule{DayOfWeek: "monday", TimeOfDay: "09:00"},
		Deadline: &DeadlineRule{DayOfWeek: strPtr("sunday"), TimeOfDay: strPtr("23:59")},
	}

	windowStart := time.Date(2026, 2, 2, 0, 0, 0, 0, loc)
	windowEnd := time.Date(2026, 2, 9, 0, 0, 0, 0, loc)

	occurrences, err := p.Project(tpl, windowStart, windowEnd, []string{"group-1"})
	require.NoError(t, err)
	require.Len(t, occurrences, 1)

	// Fires Monday 2026-02-02 09:00 local; due is next Sunday 23:59 local.
	wantDue := time.Date(2026, 2, 8, 23, 59, 0, 0, loc).UTC()
	assert.True(t, occurrences[0].DueAt.Equal(wantDue), "got %v", occurrences[0].DueAt)
	assert.Equal(t, "2026-W06", occurrences[0].WeekKey)
}

func TestProjectEmptyWindow(t *testing.T) {
	p := NewProjector(time.UTC)
	at := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)

	occ, err := p.Project(Template{ID: "t", Active: true, Rule: &WeeklyRule{DayOfWeek: "monday", TimeOfDay: "09:00"}}, at, at, []string{"g"})
	require.NoError(t, err)
	assert.Empty(t, occ)
}
