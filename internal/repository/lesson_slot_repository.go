package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-core-api/internal/models"
)

// LessonSlotRepository persists the weekly class slots of group schedules.
type LessonSlotRepository struct {
	db *sqlx.DB
}

// NewLessonSlotRepository constructs a lesson slot repository.
func NewLessonSlotRepository(db *sqlx.DB) *LessonSlotRepository {
	return &LessonSlotRepository{db: db}
}

const lessonSlotColumns = `id, group_id, day_of_week, time_of_day, duration_minutes, active, created_at, updated_at`

// ListActiveByGroups returns the active slots for a set of groups, ordered
// deterministically so projected lesson numbering is stable.
func (r *LessonSlotRepository) ListActiveByGroups(ctx context.Context, groupIDs []string) ([]models.LessonSlot, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT %s FROM lesson_slots
WHERE group_id = ANY($1) AND active = TRUE
ORDER BY group_id, day_of_week, time_of_day, id`, lessonSlotColumns)
	var slots []models.LessonSlot
	if err := r.db.SelectContext(ctx, &slots, query, pq.Array(groupIDs)); err != nil {
		return nil, fmt.Errorf("list lesson slots: %w", err)
	}
	return slots, nil
}

// GetByID fetches one slot.
func (r *LessonSlotRepository) GetByID(ctx context.Context, id string) (*models.LessonSlot, error) {
	query := fmt.Sprintf(`SELECT %s FROM lesson_slots WHERE id = $1`, lessonSlotColumns)
	var slot models.LessonSlot
	if err := r.db.GetContext(ctx, &slot, query, id); err != nil {
		return nil, err
	}
	return &slot, nil
}
