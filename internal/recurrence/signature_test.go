package recurrence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestEventSignatureRounding(t *testing.T) {
	set := EventSignatureSet{}
	set.Add("group-1", time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC))

	// Sub-minute jitter collapses onto the same signature.
	assert.True(t, set.Contains("group-1", time.Date(2026, 2, 2, 9, 0, 41, 0, time.UTC)))
	assert.True(t, set.Contains("group-1", time.Date(2026, 2, 2, 9, 0, 0, 999_000_000, time.UTC)))

	// One full minute apart is a different slot.
	assert.False(t, set.Contains("group-1", time.Date(2026, 2, 2, 9, 1, 0, 0, time.UTC)))
	assert.False(t, set.Contains("group-2", time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)))
}

func TestEventSignatureTimezoneNormalization(t *testing.T) {
	loc, err := time.LoadLocation("Asia/Almaty")
	assert.NoError(t, err)

	set := EventSignatureSet{}
	set.Add("group-1", time.Date(2026, 2, 2, 14, 0, 30, 0, loc))

	// The same instant expressed in UTC collides.
	assert.True(t, set.Contains("group-1", time.Date(2026, 2, 2, 9, 0, 12, 0, time.UTC)))
}

func TestTaskSignatureFilterNew(t *testing.T) {
	existing := TaskSignatureSet{}
	existing.Add(TaskSignature{TemplateID: "tpl-1", TargetID: "student-1", WeekKey: "2026-W06"})

	candidates := []Occurrence{
		{TemplateID: "tpl-1", TargetID: "student-1", WeekKey: "2026-W06"},
		{TemplateID: "tpl-1", TargetID: "student-2", WeekKey: "2026-W06"},
		{TemplateID: "tpl-1", TargetID: "student-1", WeekKey: "2026-W07"},
	}

	kept := existing.FilterNew(candidates)
	assert.Len(t, kept, 2)
	for _, occ := range kept {
		assert.False(t, occ.TargetID == "student-1" && occ.WeekKey == "2026-W06")
	}
}
