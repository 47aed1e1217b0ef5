package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/lms-core-api/internal/models"
	"github.com/noah-isme/lms-core-api/internal/recurrence"
)

// CuratorTaskRepository persists task templates and their weekly instances.
type CuratorTaskRepository struct {
	db *sqlx.DB
}

// NewCuratorTaskRepository constructs a curator task repository.
func NewCuratorTaskRepository(db *sqlx.DB) *CuratorTaskRepository {
	return &CuratorTaskRepository{db: db}
}

func (r *CuratorTaskRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// BeginTx opens a transaction for a per-template materialization batch.
func (r *CuratorTaskRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

const templateColumns = `id, title, description, task_type, scope, recurrence_rule, deadline_rule,
applicable_from_week, applicable_to_week, order_index, active, created_at, updated_at`

// ListActiveTemplates returns active templates in display order.
func (r *CuratorTaskRepository) ListActiveTemplates(ctx context.Context) ([]models.CuratorTaskTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM curator_task_templates WHERE active = TRUE ORDER BY order_index, created_at`, templateColumns)
	var templates []models.CuratorTaskTemplate
	if err := r.db.SelectContext(ctx, &templates, query); err != nil {
		return nil, fmt.Errorf("list active templates: %w", err)
	}
	return templates, nil
}

// ListTemplates returns every template.
func (r *CuratorTaskRepository) ListTemplates(ctx context.Context) ([]models.CuratorTaskTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM curator_task_templates ORDER BY order_index, created_at`, templateColumns)
	var templates []models.CuratorTaskTemplate
	if err := r.db.SelectContext(ctx, &templates, query); err != nil {
		return nil, fmt.Errorf("list templates: %w", err)
	}
	return templates, nil
}

// GetTemplateByID fetches one template.
func (r *CuratorTaskRepository) GetTemplateByID(ctx context.Context, id string) (*models.CuratorTaskTemplate, error) {
	query := fmt.Sprintf(`SELECT %s FROM curator_task_templates WHERE id = $1`, templateColumns)
	var tpl models.CuratorTaskTemplate
	if err := r.db.GetContext(ctx, &tpl, query, id); err != nil {
		return nil, err
	}
	return &tpl, nil
}

// CreateTemplate inserts a template.
func (r *CuratorTaskRepository) CreateTemplate(ctx context.Context, tpl *models.CuratorTaskTemplate) error {
	if tpl.ID == "" {
		tpl.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if tpl.CreatedAt.IsZero() {
		tpl.CreatedAt = now
	}
	tpl.UpdatedAt = now
	const query = `INSERT INTO curator_task_templates (id, title, description, task_type, scope, recurrence_rule, deadline_rule,
applicable_from_week, applicable_to_week, order_index, active, created_at, updated_at)
VALUES (:id, :title, :description, :task_type, :scope, :recurrence_rule, :deadline_rule,
:applicable_from_week, :applicable_to_week, :order_index, :active, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, tpl); err != nil {
		return fmt.Errorf("create template: %w", err)
	}
	return nil
}

// UpdateTemplate rewrites a template.
func (r *CuratorTaskRepository) UpdateTemplate(ctx context.Context, tpl *models.CuratorTaskTemplate) error {
	tpl.UpdatedAt = time.Now().UTC()
	const query = `UPDATE curator_task_templates SET title = :title, description = :description, task_type = :task_type,
scope = :scope, recurrence_rule = :recurrence_rule, deadline_rule = :deadline_rule,
applicable_from_week = :applicable_from_week, applicable_to_week = :applicable_to_week,
order_index = :order_index, active = :active, updated_at = :updated_at WHERE id = :id`
	res, err := r.db.NamedExecContext(ctx, query, tpl)
	if err != nil {
		return fmt.Errorf("update template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update template rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

// DeleteTemplate removes a template.
func (r *CuratorTaskRepository) DeleteTemplate(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM curator_task_templates WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete template: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete template rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}

const instanceColumns = `id, template_id, curator_id, student_id, group_id, status, due_date, week_reference, program_week, created_at, updated_at`

// ListSignaturesByWeek returns the dedup signatures of every instance
// already materialized for a week. Student-scoped instances key on the
// student, group-scoped ones on the group.
func (r *CuratorTaskRepository) ListSignaturesByWeek(ctx context.Context, exec sqlx.ExtContext, weekRef string) ([]recurrence.TaskSignature, error) {
	const query = `SELECT template_id, COALESCE(student_id, group_id, '') AS target_id, week_reference
FROM curator_task_instances WHERE week_reference = $1`
	type row struct {
		TemplateID string `db:"template_id"`
		TargetID   string `db:"target_id"`
		WeekRef    string `db:"week_reference"`
	}
	var rows []row
	if err := sqlx.SelectContext(ctx, r.exec(exec), &rows, query, weekRef); err != nil {
		return nil, fmt.Errorf("list week signatures: %w", err)
	}
	sigs := make([]recurrence.TaskSignature, len(rows))
	for i, rw := range rows {
		sigs[i] = recurrence.TaskSignature{TemplateID: rw.TemplateID, TargetID: rw.TargetID, WeekKey: rw.WeekRef}
	}
	return sigs, nil
}

// CountByWeek counts instances for a week, used for the startup check.
func (r *CuratorTaskRepository) CountByWeek(ctx context.Context, weekRef string) (int, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM curator_task_instances WHERE week_reference = $1`, weekRef); err != nil {
		return 0, fmt.Errorf("count week instances: %w", err)
	}
	return count, nil
}

// CreateInstance inserts a task instance, optionally inside a caller
// transaction.
func (r *CuratorTaskRepository) CreateInstance(ctx context.Context, exec sqlx.ExtContext, inst *models.CuratorTaskInstance) error {
	if inst.ID == "" {
		inst.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if inst.CreatedAt.IsZero() {
		inst.CreatedAt = now
	}
	inst.UpdatedAt = now
	const query = `INSERT INTO curator_task_instances (id, template_id, curator_id, student_id, group_id, status, due_date, week_reference, program_week, created_at, updated_at)
VALUES (:id, :template_id, :curator_id, :student_id, :group_id, :status, :due_date, :week_reference, :program_week, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, inst); err != nil {
		return fmt.Errorf("create task instance: %w", err)
	}
	return nil
}

// GetInstanceByID fetches one instance.
func (r *CuratorTaskRepository) GetInstanceByID(ctx context.Context, id string) (*models.CuratorTaskInstance, error) {
	query := fmt.Sprintf(`SELECT %s FROM curator_task_instances WHERE id = $1`, instanceColumns)
	var inst models.CuratorTaskInstance
	if err := r.db.GetContext(ctx, &inst, query, id); err != nil {
		return nil, err
	}
	return &inst, nil
}

// ListInstances returns instances matching the filter, soonest due first.
func (r *CuratorTaskRepository) ListInstances(ctx context.Context, filter models.CuratorTaskFilter) ([]models.CuratorTaskInstance, error) {
	where := []string{"1=1"}
	args := []interface{}{}

	if filter.CuratorID != "" {
		where = append(where, fmt.Sprintf("curator_id = $%d", len(args)+1))
		args = append(args, filter.CuratorID)
	}
	if filter.Status != "" {
		where = append(where, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.WeekRef != "" {
		where = append(where, fmt.Sprintf("week_reference = $%d", len(args)+1))
		args = append(args, filter.WeekRef)
	}
	if filter.GroupID != "" {
		where = append(where, fmt.Sprintf("group_id = $%d", len(args)+1))
		args = append(args, filter.GroupID)
	}
	if filter.StudentID != "" {
		where = append(where, fmt.Sprintf("student_id = $%d", len(args)+1))
		args = append(args, filter.StudentID)
	}

	limit := filter.Limit
	if limit <= 0 || limit > 500 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT %s FROM curator_task_instances WHERE %s
ORDER BY due_date ASC NULLS LAST, created_at DESC LIMIT %d OFFSET %d`,
		instanceColumns, strings.Join(where, " AND "), limit, filter.Offset)

	var instances []models.CuratorTaskInstance
	if err := r.db.SelectContext(ctx, &instances, query, args...); err != nil {
		return nil, fmt.Errorf("list task instances: %w", err)
	}
	return instances, nil
}

// UpdateInstanceStatus transitions an instance.
func (r *CuratorTaskRepository) UpdateInstanceStatus(ctx context.Context, id string, status models.TaskStatus) error {
	res, err := r.db.ExecContext(ctx, `UPDATE curator_task_instances SET status = $1, updated_at = $2 WHERE id = $3`,
		status, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update instance status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("instance status rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
