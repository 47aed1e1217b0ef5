package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/lms-core-api/internal/models"
	appErrors "github.com/noah-isme/lms-core-api/pkg/errors"
)

type mockEventRepo struct {
	db       *sqlx.DB
	byID     map[string]*models.Event
	existing []models.Event
	parents  []models.Event
	created  []models.Event
}

func (m *mockEventRepo) List(ctx context.Context, filter models.EventFilter) ([]models.Event, error) {
	return m.existing, nil
}

func (m *mockEventRepo) ListRecurringParents(ctx context.Context, groupIDs []string, windowStart, windowEnd time.Time) ([]models.Event, error) {
	var out []models.Event
	for _, p := range m.parents {
		if !p.StartAt.After(windowEnd) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockEventRepo) GetByID(ctx context.Context, id string) (*models.Event, error) {
	if e, ok := m.byID[id]; ok {
		return e, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockEventRepo) Create(ctx context.Context, exec sqlx.ExtContext, event *models.Event, groupIDs []string) error {
	event.ID = "ev-new"
	event.GroupIDs = groupIDs
	m.created = append(m.created, *event)
	return nil
}

func (m *mockEventRepo) BeginTx(ctx context.Context) (*sqlx.Tx, error) {
	return m.db.BeginTxx(ctx, nil)
}

type mockEventGroupRepo struct {
	groups map[string]*models.Group
}

func (m *mockEventGroupRepo) ListForStudent(ctx context.Context, studentID string) ([]models.Group, error) {
	return nil, nil
}

func (m *mockEventGroupRepo) ListLedBy(ctx context.Context, userID string) ([]models.Group, error) {
	return nil, nil
}

func (m *mockEventGroupRepo) ListAllActive(ctx context.Context) ([]models.Group, error) {
	var out []models.Group
	for _, g := range m.groups {
		out = append(out, *g)
	}
	return out, nil
}

func (m *mockEventGroupRepo) GetByID(ctx context.Context, id string) (*models.Group, error) {
	if g, ok := m.groups[id]; ok {
		return g, nil
	}
	return nil, sql.ErrNoRows
}

type mockEventSlotRepo struct {
	slots []models.LessonSlot
}

func (m *mockEventSlotRepo) ListActiveByGroups(ctx context.Context, groupIDs []string) ([]models.LessonSlot, error) {
	return m.slots, nil
}

func (m *mockEventSlotRepo) GetByID(ctx context.Context, id string) (*models.LessonSlot, error) {
	for i := range m.slots {
		if m.slots[i].ID == id {
			return &m.slots[i], nil
		}
	}
	return nil, sql.ErrNoRows
}

type mockCalendarCache struct {
	invalidated []string
}

func (m *mockCalendarCache) Get(ctx context.Context, key string, dest interface{}) error {
	return appErrors.ErrCacheMiss
}

func (m *mockCalendarCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}

func (m *mockCalendarCache) DeleteByPattern(ctx context.Context, pattern string) error {
	m.invalidated = append(m.invalidated, pattern)
	return nil
}

func newEventService(t *testing.T, events *mockEventRepo, groups *mockEventGroupRepo, slots *mockEventSlotRepo, cache *mockCalendarCache) *EventService {
	t.Helper()
	return NewEventService(events, groups, slots, cache, NewEventExpander(almatyLoc(t)), nil, nil, EventServiceConfig{})
}

func adminClaims() *models.JWTClaims {
	return &models.JWTClaims{UserID: "admin-1", Role: models.RoleAdmin}
}

func TestMaterializeSeriesOccurrence(t *testing.T) {
	parent := weeklyParent()
	events := &mockEventRepo{
		db:      txOnlyDB(t),
		byID:    map[string]*models.Event{parent.ID: parent},
		parents: []models.Event{*parent},
	}
	cache := &mockCalendarCache{}
	svc := newEventService(t, events, &mockEventGroupRepo{}, &mockEventSlotRepo{}, cache)

	event, err := svc.Materialize(context.Background(), adminClaims(), models.MaterializeRequest{
		SourceKind: models.SourceRecurringEvent,
		SourceID:   parent.ID,
		GroupID:    "g1",
		StartAt:    time.Date(2026, 2, 9, 9, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.Len(t, events.created, 1)
	assert.Equal(t, time.Date(2026, 2, 9, 9, 0, 0, 0, time.UTC), event.StartAt)
	assert.Equal(t, time.Date(2026, 2, 9, 10, 0, 0, 0, time.UTC), event.EndAt)
	assert.Equal(t, []string{"g1"}, event.GroupIDs)
	assert.Equal(t, "admin-1", event.CreatedBy)
	assert.Contains(t, cache.invalidated, "calendar:*")
}

func TestMaterializeRejectsOffGridTimestamp(t *testing.T) {
	parent := weeklyParent()
	events := &mockEventRepo{
		db:   txOnlyDB(t),
		byID: map[string]*models.Event{parent.ID: parent},
	}
	svc := newEventService(t, events, &mockEventGroupRepo{}, &mockEventSlotRepo{}, &mockCalendarCache{})

	_, err := svc.Materialize(context.Background(), adminClaims(), models.MaterializeRequest{
		SourceKind: models.SourceRecurringEvent,
		SourceID:   parent.ID,
		GroupID:    "g1",
		StartAt:    time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
	assert.Empty(t, events.created)
}

func TestMaterializeRejectsSeriesAnchorSlot(t *testing.T) {
	// The anchor minute is on the projection grid, but the parent row
	// itself already occupies that slot. A second persisted event there
	// would show twice on the calendar.
	parent := weeklyParent()
	events := &mockEventRepo{
		db:      txOnlyDB(t),
		byID:    map[string]*models.Event{parent.ID: parent},
		parents: []models.Event{*parent},
	}
	svc := newEventService(t, events, &mockEventGroupRepo{}, &mockEventSlotRepo{}, &mockCalendarCache{})

	_, err := svc.Materialize(context.Background(), adminClaims(), models.MaterializeRequest{
		SourceKind: models.SourceRecurringEvent,
		SourceID:   parent.ID,
		GroupID:    "g1",
		StartAt:    parent.StartAt,
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, events.created)
}

func TestMaterializeRejectsOccupiedSlot(t *testing.T) {
	parent := weeklyParent()
	occupant := models.Event{
		ID:       "ev-held",
		StartAt:  time.Date(2026, 2, 9, 9, 0, 15, 0, time.UTC),
		EndAt:    time.Date(2026, 2, 9, 10, 0, 15, 0, time.UTC),
		GroupIDs: []string{"g1"},
	}
	events := &mockEventRepo{
		db:       txOnlyDB(t),
		byID:     map[string]*models.Event{parent.ID: parent},
		existing: []models.Event{occupant},
	}
	svc := newEventService(t, events, &mockEventGroupRepo{}, &mockEventSlotRepo{}, &mockCalendarCache{})

	_, err := svc.Materialize(context.Background(), adminClaims(), models.MaterializeRequest{
		SourceKind: models.SourceRecurringEvent,
		SourceID:   parent.ID,
		GroupID:    "g1",
		StartAt:    time.Date(2026, 2, 9, 9, 0, 0, 0, time.UTC),
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, events.created)
}
