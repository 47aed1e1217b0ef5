package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/noah-isme/lms-core-api/internal/models"
)

// EventRepository persists calendar events and their group links.
type EventRepository struct {
	db *sqlx.DB
}

// NewEventRepository constructs an event repository.
func NewEventRepository(db *sqlx.DB) *EventRepository {
	return &EventRepository{db: db}
}

func (r *EventRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

// BeginTx starts a transaction for multi-statement writes.
func (r *EventRepository) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return r.db.BeginTxx(ctx, nil)
}

const eventColumns = `id, title, description, event_type, start_at, end_at, location, is_online, meeting_url,
is_recurring, recurrence_pattern, recurrence_end_date, created_by, active, created_at, updated_at`

// List returns non-recurring events matching the filter, with group ids
// attached.
func (r *EventRepository) List(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	where := []string{"e.active = TRUE", "e.is_recurring = FALSE"}
	args := []interface{}{}

	if len(filter.GroupIDs) > 0 {
		where = append(where, fmt.Sprintf("eg.group_id = ANY($%d)", len(args)+1))
		args = append(args, pq.Array(filter.GroupIDs))
	}
	if filter.EventType != "" {
		where = append(where, fmt.Sprintf("e.event_type = $%d", len(args)+1))
		args = append(args, filter.EventType)
	}
	if filter.From != nil {
		where = append(where, fmt.Sprintf("e.start_at >= $%d", len(args)+1))
		args = append(args, *filter.From)
	}
	if filter.To != nil {
		where = append(where, fmt.Sprintf("e.start_at < $%d", len(args)+1))
		args = append(args, *filter.To)
	}
	if filter.UpcomingOnly {
		where = append(where, fmt.Sprintf("e.start_at >= $%d", len(args)+1))
		args = append(args, time.Now().UTC())
	}

	limit := filter.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := fmt.Sprintf(`SELECT DISTINCT %s FROM events e
JOIN event_groups eg ON eg.event_id = e.id
WHERE %s ORDER BY e.start_at LIMIT %d OFFSET %d`,
		prefixEventColumns("e"), strings.Join(where, " AND "), limit, filter.Offset)

	var events []models.Event
	if err := r.db.SelectContext(ctx, &events, query, args...); err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	if err := r.attachGroupIDs(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

// ListRecurringParents returns active recurring series anchored before the
// window end whose series has not ended before the window start.
func (r *EventRepository) ListRecurringParents(ctx context.Context, groupIDs []string, windowStart, windowEnd time.Time) ([]models.Event, error) {
	if len(groupIDs) == 0 {
		return nil, nil
	}
	query := fmt.Sprintf(`SELECT DISTINCT %s FROM events e
JOIN event_groups eg ON eg.event_id = e.id
WHERE e.active = TRUE AND e.is_recurring = TRUE
  AND e.start_at <= $1
  AND (e.recurrence_end_date IS NULL OR e.recurrence_end_date >= $2)
  AND eg.group_id = ANY($3)
ORDER BY e.start_at`, prefixEventColumns("e"))

	var events []models.Event
	if err := r.db.SelectContext(ctx, &events, query, windowEnd, windowStart, pq.Array(groupIDs)); err != nil {
		return nil, fmt.Errorf("list recurring parents: %w", err)
	}
	if err := r.attachGroupIDs(ctx, events); err != nil {
		return nil, err
	}
	return events, nil
}

// GetByID fetches an event with its group links.
func (r *EventRepository) GetByID(ctx context.Context, id string) (*models.Event, error) {
	query := fmt.Sprintf(`SELECT %s FROM events WHERE id = $1`, eventColumns)
	var event models.Event
	if err := r.db.GetContext(ctx, &event, query, id); err != nil {
		return nil, err
	}
	events := []models.Event{event}
	if err := r.attachGroupIDs(ctx, events); err != nil {
		return nil, err
	}
	return &events[0], nil
}

// Create inserts an event and its group links, optionally inside a caller
// transaction.
func (r *EventRepository) Create(ctx context.Context, exec sqlx.ExtContext, event *models.Event, groupIDs []string) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if event.CreatedAt.IsZero() {
		event.CreatedAt = now
	}
	event.UpdatedAt = now

	target := r.exec(exec)

	const insertQuery = `INSERT INTO events (id, title, description, event_type, start_at, end_at, location, is_online, meeting_url,
is_recurring, recurrence_pattern, recurrence_end_date, created_by, active, created_at, updated_at)
VALUES (:id, :title, :description, :event_type, :start_at, :end_at, :location, :is_online, :meeting_url,
:is_recurring, :recurrence_pattern, :recurrence_end_date, :created_by, :active, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, target, insertQuery, event); err != nil {
		return fmt.Errorf("create event: %w", err)
	}

	for _, groupID := range groupIDs {
		if _, err := target.ExecContext(ctx, `INSERT INTO event_groups (event_id, group_id) VALUES ($1, $2)`, event.ID, groupID); err != nil {
			return fmt.Errorf("link event group: %w", err)
		}
	}
	event.GroupIDs = groupIDs
	return nil
}

func (r *EventRepository) attachGroupIDs(ctx context.Context, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	ids := make([]string, len(events))
	for i := range events {
		ids[i] = events[i].ID
	}
	type link struct {
		EventID string `db:"event_id"`
		GroupID string `db:"group_id"`
	}
	var links []link
	if err := r.db.SelectContext(ctx, &links, `SELECT event_id, group_id FROM event_groups WHERE event_id = ANY($1)`, pq.Array(ids)); err != nil {
		return fmt.Errorf("load event groups: %w", err)
	}
	byEvent := make(map[string][]string, len(events))
	for _, l := range links {
		byEvent[l.EventID] = append(byEvent[l.EventID], l.GroupID)
	}
	for i := range events {
		events[i].GroupIDs = byEvent[events[i].ID]
	}
	return nil
}

func prefixEventColumns(alias string) string {
	cols := strings.Split(strings.ReplaceAll(eventColumns, "\n", " "), ",")
	for i, c := range cols {
		cols[i] = alias + "." + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}
