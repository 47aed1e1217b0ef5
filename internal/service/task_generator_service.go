package service

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-core-api/internal/models"
	"github.com/noah-isme/lms-core-api/internal/recurrence"
)

type generatorTaskRepository interface {
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
	ListActiveTemplates(ctx context.Context) ([]models.CuratorTaskTemplate, error)
	ListSignaturesByWeek(ctx context.Context, exec sqlx.ExtContext, weekRef string) ([]recurrence.TaskSignature, error)
	CountByWeek(ctx context.Context, weekRef string) (int, error)
	CreateInstance(ctx context.Context, exec sqlx.ExtContext, inst *models.CuratorTaskInstance) error
}

type generatorGroupRepository interface {
	ListActiveWithCurator(ctx context.Context) ([]models.Group, error)
	ListStudentIDs(ctx context.Context, groupID string) ([]string, error)
}

// TaskGeneratorService materializes curator task instances for a week.
// The pipeline is idempotent: existing instances are loaded as signatures
// first and projected occurrences that collide are dropped, so running it
// any number of times for the same week creates nothing twice.
type TaskGeneratorService struct {
	tasks     generatorTaskRepository
	groups    generatorGroupRepository
	projector *recurrence.Projector
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewTaskGeneratorService constructs a TaskGeneratorService.
func NewTaskGeneratorService(tasks generatorTaskRepository, groups generatorGroupRepository, projector *recurrence.Projector, metrics *MetricsService, logger *zap.Logger) *TaskGeneratorService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TaskGeneratorService{tasks: tasks, groups: groups, projector: projector, metrics: metrics, logger: logger}
}

// taskCandidate pairs a projected occurrence with its addressing, which
// the projector itself does not know about.
type taskCandidate struct {
	occ         recurrence.Occurrence
	curatorID   string
	scope       models.TaskScope
	groupID     string
	programWeek *int
}

// EnsureWeek generates any missing instances for the week containing now.
// It returns how many instances were created.
func (s *TaskGeneratorService) EnsureWeek(ctx context.Context) (int, error) {
	return s.GenerateForWeek(ctx, time.Now())
}

// GenerateForWeek runs the pipeline for the week containing at. Template
// level failures are isolated: a bad rule or a failed batch skips that
// template only. Infrastructure failures before any template work abort
// the whole run.
func (s *TaskGeneratorService) GenerateForWeek(ctx context.Context, at time.Time) (int, error) {
	loc := s.projector.Location()
	local := at.In(loc)
	weekStart := recurrence.WeekStart(local)
	weekEnd := weekStart.AddDate(0, 0, 7)
	weekKey := recurrence.ISOWeekKey(weekStart, loc)

	existing, err := s.tasks.CountByWeek(ctx, weekKey)
	if err != nil {
		return 0, err
	}

	groups, err := s.groups.ListActiveWithCurator(ctx)
	if err != nil {
		return 0, err
	}
	templates, err := s.tasks.ListActiveTemplates(ctx)
	if err != nil {
		return 0, err
	}
	sigs, err := s.tasks.ListSignaturesByWeek(ctx, nil, weekKey)
	if err != nil {
		return 0, err
	}
	seen := make(recurrence.TaskSignatureSet, len(sigs))
	for _, sig := range sigs {
		seen.Add(sig)
	}

	s.logger.Info("task generation started",
		zap.String("week", weekKey),
		zap.Int("templates", len(templates)),
		zap.Int("groups", len(groups)),
		zap.Int("existing_instances", existing))

	created := 0
	for i := range templates {
		tpl := &templates[i]
		if tpl.TaskType != models.TaskTypeRecurring {
			continue
		}

		candidates, err := s.projectTemplate(ctx, tpl, groups, local, weekStart, weekEnd)
		if err != nil {
			// Configuration or resolution problem: this template is
			// skipped, the rest of the run continues.
			s.logger.Warn("skipping template",
				zap.String("template_id", tpl.ID),
				zap.String("title", tpl.Title),
				zap.Error(err))
			continue
		}

		// Accepted candidates are recorded immediately: a student who
		// belongs to several curated groups projects once per group for a
		// student scoped template, and only the first projection may
		// survive.
		fresh := make([]taskCandidate, 0, len(candidates))
		for _, c := range candidates {
			sig := recurrence.TaskSignature{TemplateID: c.occ.TemplateID, TargetID: c.occ.TargetID, WeekKey: c.occ.WeekKey}
			if _, dup := seen[sig]; dup {
				continue
			}
			seen.Add(sig)
			fresh = append(fresh, c)
		}
		if len(fresh) == 0 {
			continue
		}

		n, err := s.persistBatch(ctx, weekKey, fresh)
		if err != nil {
			if s.metrics != nil {
				s.metrics.ObserveTemplateFailure()
			}
			s.logger.Error("template batch failed, rolled back",
				zap.String("template_id", tpl.ID),
				zap.Error(err))
			continue
		}
		created += n
	}

	s.logger.Info("task generation finished", zap.String("week", weekKey), zap.Int("created", created))
	return created, nil
}

func (s *TaskGeneratorService) projectTemplate(ctx context.Context, tpl *models.CuratorTaskTemplate, groups []models.Group, now, weekStart, weekEnd time.Time) ([]taskCandidate, error) {
	recTpl := recurrence.Template{ID: tpl.ID, Active: tpl.Active}
	if tpl.RecurrenceRule.Valid {
		recTpl.Rule = &tpl.RecurrenceRule.Rule
	}
	if tpl.DeadlineRule.Valid {
		recTpl.Deadline = &tpl.DeadlineRule.Rule
	}

	var candidates []taskCandidate
	for i := range groups {
		group := &groups[i]
		programWeek, known := recurrence.ProgramWeek(group.ScheduleStartDate, now)
		if !tpl.AppliesTo(programWeek, known) {
			continue
		}

		var targets []string
		switch tpl.Scope {
		case models.ScopeGroup:
			targets = []string{group.ID}
		case models.ScopeStudent:
			studentIDs, err := s.groups.ListStudentIDs(ctx, group.ID)
			if err != nil {
				return nil, err
			}
			targets = studentIDs
		}
		if len(targets) == 0 {
			continue
		}

		occurrences, err := s.projector.Project(recTpl, weekStart, weekEnd, targets)
		if err != nil {
			return nil, err
		}

		var pw *int
		if known {
			w := programWeek
			pw = &w
		}
		for _, occ := range occurrences {
			candidates = append(candidates, taskCandidate{
				occ:         occ,
				curatorID:   *group.CuratorID,
				scope:       tpl.Scope,
				groupID:     group.ID,
				programWeek: pw,
			})
		}
	}
	return candidates, nil
}

// persistBatch writes one template's instances in a single transaction.
// The week's signatures are re-read inside that transaction: the initial
// snapshot is stale by the time a batch commits, and a concurrent run may
// have persisted the same signature in between.
func (s *TaskGeneratorService) persistBatch(ctx context.Context, weekKey string, batch []taskCandidate) (int, error) {
	tx, err := s.tasks.BeginTx(ctx)
	if err != nil {
		return 0, err
	}
	sigs, err := s.tasks.ListSignaturesByWeek(ctx, tx, weekKey)
	if err != nil {
		_ = tx.Rollback()
		return 0, err
	}
	persisted := make(recurrence.TaskSignatureSet, len(sigs))
	for _, sig := range sigs {
		persisted.Add(sig)
	}
	created := 0
	for _, c := range batch {
		if _, dup := persisted[recurrence.TaskSignature{TemplateID: c.occ.TemplateID, TargetID: c.occ.TargetID, WeekKey: c.occ.WeekKey}]; dup {
			continue
		}
		inst := models.CuratorTaskInstance{
			TemplateID:    c.occ.TemplateID,
			CuratorID:     c.curatorID,
			Status:        models.TaskStatusPending,
			WeekReference: c.occ.WeekKey,
			ProgramWeek:   c.programWeek,
		}
		groupID := c.groupID
		inst.GroupID = &groupID
		if c.scope == models.ScopeStudent {
			studentID := c.occ.TargetID
			inst.StudentID = &studentID
		}
		if !c.occ.DueAt.IsZero() {
			due := c.occ.DueAt
			inst.DueDate = &due
		}
		if err := s.tasks.CreateInstance(ctx, tx, &inst); err != nil {
			_ = tx.Rollback()
			return 0, err
		}
		created++
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return created, nil
}
