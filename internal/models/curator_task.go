package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noah-isme/lms-core-api/internal/recurrence"
)

// TaskScope selects who a template addresses.
type TaskScope string

const (
	ScopeStudent TaskScope = "student"
	ScopeGroup   TaskScope = "group"
)

// TaskType classifies how instances come into existence.
type TaskType string

const (
	TaskTypeRecurring  TaskType = "recurring"
	TaskTypeOnboarding TaskType = "onboarding"
	TaskTypeManual     TaskType = "manual"
)

// TaskStatus tracks an instance through its lifecycle.
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusInProgress TaskStatus = "in_progress"
	TaskStatusDone       TaskStatus = "done"
)

// ValidTaskStatus reports whether s is a known status value.
func ValidTaskStatus(s TaskStatus) bool {
	switch s {
	case TaskStatusPending, TaskStatusInProgress, TaskStatusDone:
		return true
	}
	return false
}

// NullWeeklyRule is a nullable JSONB column holding a weekly recurrence rule.
type NullWeeklyRule struct {
	Rule  recurrence.WeeklyRule
	Valid bool
}

// Scan implements sql.Scanner.
func (n *NullWeeklyRule) Scan(src interface{}) error {
	if src == nil {
		*n = NullWeeklyRule{}
		return nil
	}
	raw, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("scan weekly rule: %w", err)
	}
	if err := json.Unmarshal(raw, &n.Rule); err != nil {
		return fmt.Errorf("scan weekly rule: %w", err)
	}
	n.Valid = true
	return nil
}

// Value implements driver.Valuer.
func (n NullWeeklyRule) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return json.Marshal(n.Rule)
}

// MarshalJSON renders the rule or null.
func (n NullWeeklyRule) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Rule)
}

// UnmarshalJSON accepts a rule object or null.
func (n *NullWeeklyRule) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = NullWeeklyRule{}
		return nil
	}
	if err := json.Unmarshal(data, &n.Rule); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

// NullDeadlineRule is a nullable JSONB column holding a deadline rule.
type NullDeadlineRule struct {
	Rule  recurrence.DeadlineRule
	Valid bool
}

// Scan implements sql.Scanner.
func (n *NullDeadlineRule) Scan(src interface{}) error {
	if src == nil {
		*n = NullDeadlineRule{}
		return nil
	}
	raw, err := jsonBytes(src)
	if err != nil {
		return fmt.Errorf("scan deadline rule: %w", err)
	}
	if err := json.Unmarshal(raw, &n.Rule); err != nil {
		return fmt.Errorf("scan deadline rule: %w", err)
	}
	n.Valid = true
	return nil
}

// Value implements driver.Valuer.
func (n NullDeadlineRule) Value() (driver.Value, error) {
	if !n.Valid {
		return nil, nil
	}
	return json.Marshal(n.Rule)
}

// MarshalJSON renders the rule or null.
func (n NullDeadlineRule) MarshalJSON() ([]byte, error) {
	if !n.Valid {
		return []byte("null"), nil
	}
	return json.Marshal(n.Rule)
}

// UnmarshalJSON accepts a rule object or null.
func (n *NullDeadlineRule) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*n = NullDeadlineRule{}
		return nil
	}
	if err := json.Unmarshal(data, &n.Rule); err != nil {
		return err
	}
	n.Valid = true
	return nil
}

func jsonBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	default:
		return nil, fmt.Errorf("unsupported source type %T", src)
	}
}

// CuratorTaskTemplate is a rule describing a recurring curator obligation,
// independent of any specific week or addressee.
type CuratorTaskTemplate struct {
	ID          string    `db:"id" json:"id"`
	Title       string    `db:"title" json:"title"`
	Description string    `db:"description" json:"description"`
	TaskType    TaskType  `db:"task_type" json:"task_type"`
	Scope       TaskScope `db:"scope" json:"scope"`

	RecurrenceRule NullWeeklyRule   `db:"recurrence_rule" json:"recurrence_rule"`
	DeadlineRule   NullDeadlineRule `db:"deadline_rule" json:"deadline_rule"`

	ApplicableFromWeek *int `db:"applicable_from_week" json:"applicable_from_week,omitempty"`
	ApplicableToWeek   *int `db:"applicable_to_week" json:"applicable_to_week,omitempty"`

	OrderIndex int       `db:"order_index" json:"order_index"`
	Active     bool      `db:"active" json:"active"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time `db:"updated_at" json:"updated_at"`
}

// AppliesTo reports whether the template is applicable at the given program
// week. Templates with week bounds require a known program week.
func (t *CuratorTaskTemplate) AppliesTo(programWeek int, known bool) bool {
	if !known {
		return t.ApplicableFromWeek == nil && t.ApplicableToWeek == nil
	}
	if t.ApplicableFromWeek != nil && programWeek < *t.ApplicableFromWeek {
		return false
	}
	if t.ApplicableToWeek != nil && programWeek > *t.ApplicableToWeek {
		return false
	}
	return true
}

// CuratorTaskInstance is one materialized task for a curator, scoped to a
// student and/or a group, within one ISO week.
type CuratorTaskInstance struct {
	ID         string     `db:"id" json:"id"`
	TemplateID string     `db:"template_id" json:"template_id"`
	CuratorID  string     `db:"curator_id" json:"curator_id"`
	StudentID  *string    `db:"student_id" json:"student_id,omitempty"`
	GroupID    *string    `db:"group_id" json:"group_id,omitempty"`
	Status     TaskStatus `db:"status" json:"status"`
	DueDate    *time.Time `db:"due_date" json:"due_date,omitempty"`

	// WeekReference is the ISO week signature ("2026-W09") used for
	// deduplication of weekly instances.
	WeekReference string `db:"week_reference" json:"week_reference"`
	ProgramWeek   *int   `db:"program_week" json:"program_week,omitempty"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// TaskTemplateRequest is the create/update payload for templates.
type TaskTemplateRequest struct {
	Title              string           `json:"title" validate:"required"`
	Description        string           `json:"description"`
	TaskType           TaskType         `json:"task_type" validate:"required,oneof=recurring onboarding manual"`
	Scope              TaskScope        `json:"scope" validate:"required,oneof=student group"`
	RecurrenceRule     NullWeeklyRule   `json:"recurrence_rule"`
	DeadlineRule       NullDeadlineRule `json:"deadline_rule"`
	ApplicableFromWeek *int             `json:"applicable_from_week" validate:"omitempty,min=1"`
	ApplicableToWeek   *int             `json:"applicable_to_week" validate:"omitempty,min=1"`
	OrderIndex         int              `json:"order_index"`
	Active             *bool            `json:"active"`
}

// ManualTaskRequest creates one instance outside the weekly pipeline.
type ManualTaskRequest struct {
	TemplateID string     `json:"template_id" validate:"required"`
	CuratorID  string     `json:"curator_id" validate:"required"`
	StudentID  *string    `json:"student_id"`
	GroupID    *string    `json:"group_id"`
	DueDate    *time.Time `json:"due_date"`
}

// OnboardingRequest generates onboarding tasks for a newly added student.
type OnboardingRequest struct {
	StudentID string `json:"student_id" validate:"required"`
	GroupID   string `json:"group_id" validate:"required"`
}

// UpdateTaskStatusRequest changes an instance's lifecycle status.
type UpdateTaskStatusRequest struct {
	Status TaskStatus `json:"status" validate:"required"`
}

// CuratorTaskFilter describes query params for listing instances.
type CuratorTaskFilter struct {
	CuratorID string
	Status    TaskStatus
	WeekRef   string
	GroupID   string
	StudentID string
	Limit     int
	Offset    int
}
