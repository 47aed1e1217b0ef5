package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-core-api/internal/models"
	"github.com/noah-isme/lms-core-api/internal/recurrence"
	appErrors "github.com/noah-isme/lms-core-api/pkg/errors"
)

type curatorTaskRepository interface {
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
	ListTemplates(ctx context.Context) ([]models.CuratorTaskTemplate, error)
	ListActiveTemplates(ctx context.Context) ([]models.CuratorTaskTemplate, error)
	GetTemplateByID(ctx context.Context, id string) (*models.CuratorTaskTemplate, error)
	CreateTemplate(ctx context.Context, tpl *models.CuratorTaskTemplate) error
	UpdateTemplate(ctx context.Context, tpl *models.CuratorTaskTemplate) error
	DeleteTemplate(ctx context.Context, id string) error
	CreateInstance(ctx context.Context, exec sqlx.ExtContext, inst *models.CuratorTaskInstance) error
	GetInstanceByID(ctx context.Context, id string) (*models.CuratorTaskInstance, error)
	ListInstances(ctx context.Context, filter models.CuratorTaskFilter) ([]models.CuratorTaskInstance, error)
	UpdateInstanceStatus(ctx context.Context, id string, status models.TaskStatus) error
}

type taskGroupRepository interface {
	GetByID(ctx context.Context, id string) (*models.Group, error)
}

// CuratorTaskService manages task templates and materialized instances.
// The weekly materialization itself lives in TaskGeneratorService; this
// service covers the API surface around it.
type CuratorTaskService struct {
	tasks    curatorTaskRepository
	groups   taskGroupRepository
	loc      *time.Location
	validate *validator.Validate
	logger   *zap.Logger
}

// NewCuratorTaskService constructs a CuratorTaskService.
func NewCuratorTaskService(tasks curatorTaskRepository, groups taskGroupRepository, loc *time.Location, validate *validator.Validate, logger *zap.Logger) *CuratorTaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if loc == nil {
		loc = time.UTC
	}
	return &CuratorTaskService{tasks: tasks, groups: groups, loc: loc, validate: validate, logger: logger}
}

// ListTemplates returns all templates, active or not.
func (s *CuratorTaskService) ListTemplates(ctx context.Context) ([]models.CuratorTaskTemplate, error) {
	templates, err := s.tasks.ListTemplates(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list templates")
	}
	return templates, nil
}

// GetTemplate returns one template by id.
func (s *CuratorTaskService) GetTemplate(ctx context.Context, id string) (*models.CuratorTaskTemplate, error) {
	tpl, err := s.tasks.GetTemplateByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load template")
	}
	return tpl, nil
}

// CreateTemplate validates and persists a new template. Rules are checked
// here, at write time, so the generator can trust stored templates.
func (s *CuratorTaskService) CreateTemplate(ctx context.Context, req models.TaskTemplateRequest) (*models.CuratorTaskTemplate, error) {
	if err := s.validateTemplateRequest(req); err != nil {
		return nil, err
	}

	tpl := templateFromRequest(req)
	if err := s.tasks.CreateTemplate(ctx, tpl); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create template")
	}
	s.logger.Info("created task template", zap.String("template_id", tpl.ID), zap.String("title", tpl.Title))
	return tpl, nil
}

// UpdateTemplate validates and rewrites an existing template.
func (s *CuratorTaskService) UpdateTemplate(ctx context.Context, id string, req models.TaskTemplateRequest) (*models.CuratorTaskTemplate, error) {
	if err := s.validateTemplateRequest(req); err != nil {
		return nil, err
	}

	tpl := templateFromRequest(req)
	tpl.ID = id
	if err := s.tasks.UpdateTemplate(ctx, tpl); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update template")
	}
	return tpl, nil
}

// DeleteTemplate removes a template. Already-materialized instances stay.
func (s *CuratorTaskService) DeleteTemplate(ctx context.Context, id string) error {
	if err := s.tasks.DeleteTemplate(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "template not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete template")
	}
	return nil
}

// MyTasks lists instances visible to the caller. Curators only ever see
// their own; elevated roles may filter freely.
func (s *CuratorTaskService) MyTasks(ctx context.Context, claims *models.JWTClaims, filter models.CuratorTaskFilter) ([]models.CuratorTaskInstance, error) {
	if claims.Role == models.RoleCurator {
		filter.CuratorID = claims.UserID
	}
	if filter.Status != "" && !models.ValidTaskStatus(filter.Status) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown task status")
	}

	instances, err := s.tasks.ListInstances(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list task instances")
	}
	return instances, nil
}

// UpdateStatus moves an instance through its lifecycle.
func (s *CuratorTaskService) UpdateStatus(ctx context.Context, claims *models.JWTClaims, id string, req models.UpdateTaskStatusRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid status payload")
	}
	if !models.ValidTaskStatus(req.Status) {
		return appErrors.Clone(appErrors.ErrValidation, "unknown task status")
	}

	inst, err := s.tasks.GetInstanceByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "task instance not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load task instance")
	}
	if claims.Role == models.RoleCurator && inst.CuratorID != claims.UserID {
		return appErrors.Clone(appErrors.ErrForbidden, "task belongs to another curator")
	}

	if err := s.tasks.UpdateInstanceStatus(ctx, id, req.Status); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "task instance not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update task status")
	}
	return nil
}

// CreateManual materializes a single instance outside the weekly pipeline.
func (s *CuratorTaskService) CreateManual(ctx context.Context, req models.ManualTaskRequest) (*models.CuratorTaskInstance, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid manual task payload")
	}
	if req.StudentID == nil && req.GroupID == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "a student or group target is required")
	}

	if _, err := s.GetTemplate(ctx, req.TemplateID); err != nil {
		return nil, err
	}

	now := time.Now().In(s.loc)
	inst := &models.CuratorTaskInstance{
		TemplateID:    req.TemplateID,
		CuratorID:     req.CuratorID,
		StudentID:     req.StudentID,
		GroupID:       req.GroupID,
		Status:        models.TaskStatusPending,
		DueDate:       req.DueDate,
		WeekReference: recurrence.ISOWeekKey(now, s.loc),
	}
	if err := s.tasks.CreateInstance(ctx, nil, inst); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create task instance")
	}
	return inst, nil
}

// Onboarding materializes all active onboarding templates for a newly
// added student, addressed to the group's curator. The whole set is
// written in one transaction.
func (s *CuratorTaskService) Onboarding(ctx context.Context, req models.OnboardingRequest) ([]models.CuratorTaskInstance, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid onboarding payload")
	}

	group, err := s.groups.GetByID(ctx, req.GroupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}
	if group.CuratorID == nil {
		return nil, appErrors.Clone(appErrors.ErrNotResolvable, "group has no curator")
	}

	templates, err := s.tasks.ListActiveTemplates(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list templates")
	}

	now := time.Now().In(s.loc)
	weekKey := recurrence.ISOWeekKey(now, s.loc)

	var instances []models.CuratorTaskInstance
	for _, tpl := range templates {
		if tpl.TaskType != models.TaskTypeOnboarding {
			continue
		}
		inst := models.CuratorTaskInstance{
			TemplateID:    tpl.ID,
			CuratorID:     *group.CuratorID,
			StudentID:     &req.StudentID,
			GroupID:       &group.ID,
			Status:        models.TaskStatusPending,
			WeekReference: weekKey,
		}
		if tpl.DeadlineRule.Valid && !tpl.DeadlineRule.Rule.Empty() {
			due := tpl.DeadlineRule.Rule.Apply(now).UTC()
			inst.DueDate = &due
		}
		instances = append(instances, inst)
	}
	if len(instances) == 0 {
		return []models.CuratorTaskInstance{}, nil
	}

	tx, err := s.tasks.BeginTx(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	for i := range instances {
		if err := s.tasks.CreateInstance(ctx, tx, &instances[i]); err != nil {
			_ = tx.Rollback()
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create onboarding task")
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit onboarding tasks")
	}

	s.logger.Info("generated onboarding tasks",
		zap.String("student_id", req.StudentID),
		zap.String("group_id", req.GroupID),
		zap.Int("count", len(instances)))
	return instances, nil
}

func (s *CuratorTaskService) validateTemplateRequest(req models.TaskTemplateRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid template payload")
	}
	if req.TaskType == models.TaskTypeRecurring && !req.RecurrenceRule.Valid {
		return appErrors.Clone(appErrors.ErrInvalidRule, "recurring templates require a recurrence rule")
	}
	if req.RecurrenceRule.Valid {
		if err := req.RecurrenceRule.Rule.Validate(); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInvalidRule.Code, appErrors.ErrInvalidRule.Status, "invalid recurrence rule")
		}
	}
	if req.DeadlineRule.Valid {
		if err := req.DeadlineRule.Rule.Validate(); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInvalidRule.Code, appErrors.ErrInvalidRule.Status, "invalid deadline rule")
		}
	}
	if req.ApplicableFromWeek != nil && req.ApplicableToWeek != nil && *req.ApplicableToWeek < *req.ApplicableFromWeek {
		return appErrors.Clone(appErrors.ErrValidation, "applicable week range is inverted")
	}
	return nil
}

func templateFromRequest(req models.TaskTemplateRequest) *models.CuratorTaskTemplate {
	active := true
	if req.Active != nil {
		active = *req.Active
	}
	return &models.CuratorTaskTemplate{
		Title:              req.Title,
		Description:        req.Description,
		TaskType:           req.TaskType,
		Scope:              req.Scope,
		RecurrenceRule:     req.RecurrenceRule,
		DeadlineRule:       req.DeadlineRule,
		ApplicableFromWeek: req.ApplicableFromWeek,
		ApplicableToWeek:   req.ApplicableToWeek,
		OrderIndex:         req.OrderIndex,
		Active:             active,
	}
}
