package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-core-api/internal/models"
)

// GroupRepository persists study groups and their membership.
type GroupRepository struct {
	db *sqlx.DB
}

// NewGroupRepository constructs a group repository.
func NewGroupRepository(db *sqlx.DB) *GroupRepository {
	return &GroupRepository{db: db}
}

const groupColumns = `id, name, teacher_id, curator_id, active, schedule_start_date, lessons_count, created_at, updated_at`

// GetByID fetches a group.
func (r *GroupRepository) GetByID(ctx context.Context, id string) (*models.Group, error) {
	query := fmt.Sprintf(`SELECT %s FROM groups WHERE id = $1`, groupColumns)
	var group models.Group
	if err := r.db.GetContext(ctx, &group, query, id); err != nil {
		return nil, err
	}
	return &group, nil
}

// ListAllActive returns every active group.
func (r *GroupRepository) ListAllActive(ctx context.Context) ([]models.Group, error) {
	query := fmt.Sprintf(`SELECT %s FROM groups WHERE active = TRUE ORDER BY name`, groupColumns)
	var groups []models.Group
	if err := r.db.SelectContext(ctx, &groups, query); err != nil {
		return nil, fmt.Errorf("list active groups: %w", err)
	}
	return groups, nil
}

// ListActiveWithCurator returns active groups that have a curator assigned,
// the population the task generator iterates over.
func (r *GroupRepository) ListActiveWithCurator(ctx context.Context) ([]models.Group, error) {
	query := fmt.Sprintf(`SELECT %s FROM groups WHERE active = TRUE AND curator_id IS NOT NULL ORDER BY name`, groupColumns)
	var groups []models.Group
	if err := r.db.SelectContext(ctx, &groups, query); err != nil {
		return nil, fmt.Errorf("list curated groups: %w", err)
	}
	return groups, nil
}

// ListForStudent returns the groups a student belongs to.
func (r *GroupRepository) ListForStudent(ctx context.Context, studentID string) ([]models.Group, error) {
	query := fmt.Sprintf(`SELECT %s FROM groups g
JOIN group_students gs ON gs.group_id = g.id
WHERE gs.student_id = $1 AND g.active = TRUE ORDER BY g.name`, groupColumnsPrefixed())
	var groups []models.Group
	if err := r.db.SelectContext(ctx, &groups, query, studentID); err != nil {
		return nil, fmt.Errorf("list groups for student: %w", err)
	}
	return groups, nil
}

// ListLedBy returns groups taught or curated by the given user.
func (r *GroupRepository) ListLedBy(ctx context.Context, userID string) ([]models.Group, error) {
	query := fmt.Sprintf(`SELECT %s FROM groups WHERE active = TRUE AND (teacher_id = $1 OR curator_id = $1) ORDER BY name`, groupColumns)
	var groups []models.Group
	if err := r.db.SelectContext(ctx, &groups, query, userID); err != nil {
		return nil, fmt.Errorf("list groups led by user: %w", err)
	}
	return groups, nil
}

// ListStudentIDs returns the ids of active students in a group.
// Resolution is as-of call time: a student added since the last generator
// run is included on the next one.
func (r *GroupRepository) ListStudentIDs(ctx context.Context, groupID string) ([]string, error) {
	const query = `SELECT u.id FROM users u
JOIN group_students gs ON gs.student_id = u.id
WHERE gs.group_id = $1 AND u.active = TRUE ORDER BY u.id`
	var ids []string
	if err := r.db.SelectContext(ctx, &ids, query, groupID); err != nil {
		return nil, fmt.Errorf("list group students: %w", err)
	}
	return ids, nil
}

func groupColumnsPrefixed() string {
	return `g.id, g.name, g.teacher_id, g.curator_id, g.active, g.schedule_start_date, g.lessons_count, g.created_at, g.updated_at`
}
