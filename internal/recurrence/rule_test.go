package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intPtr(v int) *int       { return &v }
func strPtr(v string) *string { return &v }

func almaty(t *testing.T) *time.Location {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Almaty")
	require.NoError(t, err)
	return loc
}

func TestParseWeekday(t *testing.T) {
	wd, err := ParseWeekday("Sunday")
	require.NoError(t, err)
	assert.Equal(t, time.Sunday, wd)

	wd, err = ParseWeekday("  friday ")
	require.NoError(t, err)
	assert.Equal(t, time.Friday, wd)

	_, err = ParseWeekday("someday")
	assert.Error(t, err)
}

func TestParseTimeOfDay(t *testing.T) {
	h, m, err := ParseTimeOfDay("09:05")
	require.NoError(t, err)
	assert.Equal(t, 9, h)
	assert.Equal(t, 5, m)

	_, _, err = ParseTimeOfDay("24:00")
	assert.Error(t, err)

	_, _, err = ParseTimeOfDay("0900")
	assert.Error(t, err)
}

func TestWeeklyRuleValidate(t *testing.T) {
	assert.NoError(t, WeeklyRule{DayOfWeek: "monday", TimeOfDay: "09:00"}.Validate())
	assert.Error(t, WeeklyRule{DayOfWeek: "mondays", TimeOfDay: "09:00"}.Validate())
	assert.Error(t, WeeklyRule{DayOfWeek: "monday", TimeOfDay: "9am"}.Validate())
}

func TestDeadlineRuleWeekdaySnap(t *testing.T) {
	loc := almaty(t)
	// Template fires Monday 2026-02-02 09:00 local.
	base := time.Date(2026, 2, 2, 9, 0, 0, 0, loc)

	// Deadline "sunday 23:59" lands on the NEXT Sunday, not the same day.
	rule := DeadlineRule{DayOfWeek: strPtr("sunday"), TimeOfDay: strPtr("23:59")}
	due := rule.Apply(base)
	assert.True(t, due.Equal(time.Date(2026, 2, 8, 23, 59, 0, 0, loc)), "got %v", due)
}

func TestDeadlineRuleSameWeekdayStaysSameDay(t *testing.T) {
	loc := almaty(t)
	base := time.Date(2026, 2, 2, 9, 0, 0, 0, loc) // Monday

	// Target weekday equal to the base weekday stays on the same day
	// (later that day), it does not jump a full week. A weekday strictly
	// before the base rolls into the next week.
	sameDay := DeadlineRule{DayOfWeek: strPtr("monday"), TimeOfDay: strPtr("18:00")}
	due := sameDay.Apply(base)
	assert.True(t, due.Equal(time.Date(2026, 2, 2, 18, 0, 0, 0, loc)), "got %v", due)

	tuesdayBase := time.Date(2026, 2, 3, 9, 0, 0, 0, loc)
	rolled := DeadlineRule{DayOfWeek: strPtr("monday"), TimeOfDay: strPtr("18:00")}.Apply(tuesdayBase)
	assert.True(t, rolled.Equal(time.Date(2026, 2, 9, 18, 0, 0, 0, loc)), "got %v", rolled)
}

func TestDeadlineRuleApplicationOrder(t *testing.T) {
	loc := almaty(t)
	base := time.Date(2026, 2, 2, 9, 0, 0, 0, loc) // Monday

	// Offsets apply before the weekday snap: +3 days puts us on Thursday,
	// then the snap to friday moves one day forward, then the clock is
	// overridden. Snapping first and offsetting after would land a week
	// later.
	rule := DeadlineRule{
		OffsetDays: intPtr(3),
		DayOfWeek:  strPtr("friday"),
		TimeOfDay:  strPtr("12:30"),
	}
	due := rule.Apply(base)
	assert.True(t, due.Equal(time.Date(2026, 2, 6, 12, 30, 0, 0, loc)), "got %v", due)
}

func TestDeadlineRuleOffsetsOnly(t *testing.T) {
	loc := almaty(t)
	base := time.Date(2026, 2, 2, 9, 0, 0, 0, loc)

	due := DeadlineRule{OffsetDays: intPtr(1), OffsetHours: intPtr(3)}.Apply(base)
	assert.True(t, due.Equal(time.Date(2026, 2, 3, 12, 0, 0, 0, loc)), "got %v", due)

	assert.True(t, DeadlineRule{}.Empty())
	assert.False(t, DeadlineRule{OffsetDays: intPtr(1)}.Empty())
}
