package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/lms-core-api/internal/models"
	appErrors "github.com/noah-isme/lms-core-api/pkg/errors"
)

type eventRepository interface {
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, error)
	ListRecurringParents(ctx context.Context, groupIDs []string, windowStart, windowEnd time.Time) ([]models.Event, error)
	GetByID(ctx context.Context, id string) (*models.Event, error)
	Create(ctx context.Context, exec sqlx.ExtContext, event *models.Event, groupIDs []string) error
	BeginTx(ctx context.Context) (*sqlx.Tx, error)
}

type eventGroupRepository interface {
	ListForStudent(ctx context.Context, studentID string) ([]models.Group, error)
	ListLedBy(ctx context.Context, userID string) ([]models.Group, error)
	ListAllActive(ctx context.Context) ([]models.Group, error)
	GetByID(ctx context.Context, id string) (*models.Group, error)
}

type eventLessonSlotRepository interface {
	ListActiveByGroups(ctx context.Context, groupIDs []string) ([]models.LessonSlot, error)
	GetByID(ctx context.Context, id string) (*models.LessonSlot, error)
}

type calendarCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// EventServiceConfig tunes calendar windows and caching.
type EventServiceConfig struct {
	CacheTTL    time.Duration
	HorizonDays int
}

// EventService serves personal calendars: persisted events merged with
// projected occurrences, scoped to the caller's groups.
type EventService struct {
	events   eventRepository
	groups   eventGroupRepository
	slots    eventLessonSlotRepository
	cache    calendarCache
	expander *EventExpander
	validate *validator.Validate
	logger   *zap.Logger
	config   EventServiceConfig
}

// NewEventService constructs an EventService.
func NewEventService(events eventRepository, groups eventGroupRepository, slots eventLessonSlotRepository, cache calendarCache, expander *EventExpander, validate *validator.Validate, logger *zap.Logger, config EventServiceConfig) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.HorizonDays <= 0 {
		config.HorizonDays = 30
	}
	return &EventService{
		events:   events,
		groups:   groups,
		slots:    slots,
		cache:    cache,
		expander: expander,
		validate: validate,
		logger:   logger,
		config:   config,
	}
}

// MyEvents lists persisted events visible to the caller.
func (s *EventService) MyEvents(ctx context.Context, claims *models.JWTClaims, filter models.EventFilter) ([]models.Event, error) {
	groups, err := s.resolveGroups(ctx, claims)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return []models.Event{}, nil
	}
	filter.GroupIDs = groupIDsOf(groups)

	events, err := s.events.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
	}
	return events, nil
}

// Calendar returns the combined real and projected calendar for [from, to].
func (s *EventService) Calendar(ctx context.Context, claims *models.JWTClaims, from, to time.Time) ([]models.CalendarEntry, error) {
	if to.Before(from) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "calendar window end precedes start")
	}
	maxWindow := time.Duration(s.config.HorizonDays) * 24 * time.Hour
	if to.Sub(from) > maxWindow {
		to = from.Add(maxWindow)
	}

	cacheKey := fmt.Sprintf("calendar:%s:%d:%d", claims.UserID, from.Unix(), to.Unix())
	if s.cache != nil {
		var cached []models.CalendarEntry
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("calendar cache read failed", zap.Error(err))
		}
	}

	entries, err := s.buildCalendar(ctx, claims, from, to)
	if err != nil {
		return nil, err
	}

	if s.cache != nil && s.config.CacheTTL > 0 {
		if err := s.cache.Set(ctx, cacheKey, entries, s.config.CacheTTL); err != nil {
			s.logger.Warn("calendar cache write failed", zap.Error(err))
		}
	}
	return entries, nil
}

// Upcoming returns the next entries from now within the configured horizon.
func (s *EventService) Upcoming(ctx context.Context, claims *models.JWTClaims, limit int) ([]models.CalendarEntry, error) {
	now := time.Now().UTC()
	entries, err := s.Calendar(ctx, claims, now, now.AddDate(0, 0, s.config.HorizonDays))
	if err != nil {
		return nil, err
	}
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return entries, nil
}

// Materialize promotes one projected occurrence into a persisted event.
// The new row then wins over the projection at that slot on every
// subsequent expansion.
func (s *EventService) Materialize(ctx context.Context, claims *models.JWTClaims, req models.MaterializeRequest) (*models.Event, error) {
	if err := s.validate.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid materialize payload")
	}
	if err := s.authorizeGroup(ctx, claims, req.GroupID); err != nil {
		return nil, err
	}

	var event *models.Event
	var err error
	switch req.SourceKind {
	case models.SourceRecurringEvent:
		event, err = s.eventFromSeries(ctx, req)
	case models.SourceLessonSlot:
		event, err = s.eventFromLessonSlot(ctx, req)
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown source kind")
	}
	if err != nil {
		return nil, err
	}
	event.CreatedBy = claims.UserID
	event.Active = true

	if err := s.ensureSlotFree(ctx, req.GroupID, event.StartAt); err != nil {
		return nil, err
	}

	tx, err := s.events.BeginTx(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	if err := s.events.Create(ctx, tx, event, []string{req.GroupID}); err != nil {
		_ = tx.Rollback()
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist event")
	}
	if err := tx.Commit(); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit event")
	}

	if s.cache != nil {
		if err := s.cache.DeleteByPattern(ctx, "calendar:*"); err != nil {
			s.logger.Warn("calendar cache invalidation failed", zap.Error(err))
		}
	}

	s.logger.Info("materialized occurrence",
		zap.String("source_kind", string(req.SourceKind)),
		zap.String("source_id", req.SourceID),
		zap.String("event_id", event.ID))
	return event, nil
}

func (s *EventService) buildCalendar(ctx context.Context, claims *models.JWTClaims, from, to time.Time) ([]models.CalendarEntry, error) {
	groups, err := s.resolveGroups(ctx, claims)
	if err != nil {
		return nil, err
	}
	if len(groups) == 0 {
		return []models.CalendarEntry{}, nil
	}
	groupIDs := groupIDsOf(groups)

	events, err := s.events.List(ctx, models.EventFilter{GroupIDs: groupIDs, From: &from, To: &to})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list events")
	}
	parents, err := s.events.ListRecurringParents(ctx, groupIDs, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list recurring events")
	}
	slots, err := s.slots.ListActiveByGroups(ctx, groupIDs)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lesson slots")
	}

	entries, err := s.expander.Expand(ExpandInput{
		Groups:           toGroupPtrs(groups),
		Events:           toEventPtrs(events),
		RecurringParents: toEventPtrs(parents),
		LessonSlots:      toSlotPtrs(slots),
		WindowStart:      from,
		WindowEnd:        to,
	})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to expand calendar")
	}
	return entries, nil
}

func (s *EventService) eventFromSeries(ctx context.Context, req models.MaterializeRequest) (*models.Event, error) {
	parent, err := s.events.GetByID(ctx, req.SourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "recurring event not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recurring event")
	}
	if !parent.IsRecurring || parent.RecurrencePattern == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "source event is not recurring")
	}
	if !containsString(parent.GroupIDs, req.GroupID) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "group is not linked to the recurring event")
	}

	occ, err := s.expander.SeriesOccurrenceAt(parent, req.GroupID, req.StartAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve series occurrence")
	}
	if occ == nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "timestamp is not an occurrence of the series")
	}

	return &models.Event{
		Title:       parent.Title,
		Description: parent.Description,
		EventType:   parent.EventType,
		StartAt:     occ.StartAt,
		EndAt:       occ.EndAt,
		Location:    parent.Location,
		IsOnline:    parent.IsOnline,
		MeetingURL:  parent.MeetingURL,
	}, nil
}

func (s *EventService) eventFromLessonSlot(ctx context.Context, req models.MaterializeRequest) (*models.Event, error) {
	slot, err := s.slots.GetByID(ctx, req.SourceID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "lesson slot not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load lesson slot")
	}
	if slot.GroupID != req.GroupID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "lesson slot belongs to another group")
	}

	group, err := s.groups.GetByID(ctx, req.GroupID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "group not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load group")
	}

	groupSlots, err := s.slots.ListActiveByGroups(ctx, []string{group.ID})
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list lesson slots")
	}

	occ, err := s.expander.LessonOccurrenceAt(group, toSlotPtrs(groupSlots), req.StartAt)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve lesson occurrence")
	}
	if occ == nil || occ.SourceID != slot.ID {
		return nil, appErrors.Clone(appErrors.ErrValidation, "timestamp is not an occurrence of the lesson slot")
	}

	return &models.Event{
		Title:     occ.Title,
		EventType: occ.EventType,
		StartAt:   occ.StartAt,
		EndAt:     occ.EndAt,
	}, nil
}

// ensureSlotFree rejects materialization when a persisted row already
// occupies the group/minute slot. Recurring anchors count as persisted
// rows too: the anchor minute is itself an occurrence of the series, and
// materializing it would duplicate the parent on the calendar.
func (s *EventService) ensureSlotFree(ctx context.Context, groupID string, startAt time.Time) error {
	slotStart := startAt.UTC().Truncate(time.Minute)
	slotEnd := slotStart.Add(time.Minute)
	existing, err := s.events.List(ctx, models.EventFilter{GroupIDs: []string{groupID}, From: &slotStart, To: &slotEnd})
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check for duplicates")
	}
	if len(existing) > 0 {
		return appErrors.Clone(appErrors.ErrConflict, "an event already exists at this time")
	}
	parents, err := s.events.ListRecurringParents(ctx, []string{groupID}, slotStart, slotEnd)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check for duplicates")
	}
	for i := range parents {
		if parents[i].StartAt.UTC().Truncate(time.Minute).Equal(slotStart) {
			return appErrors.Clone(appErrors.ErrConflict, "an event already exists at this time")
		}
	}
	return nil
}

func (s *EventService) resolveGroups(ctx context.Context, claims *models.JWTClaims) ([]models.Group, error) {
	var groups []models.Group
	var err error
	switch claims.Role {
	case models.RoleStudent:
		groups, err = s.groups.ListForStudent(ctx, claims.UserID)
	case models.RoleTeacher, models.RoleCurator:
		groups, err = s.groups.ListLedBy(ctx, claims.UserID)
	case models.RoleHeadCurator, models.RoleAdmin:
		groups, err = s.groups.ListAllActive(ctx)
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "unknown role")
	}
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to resolve groups")
	}
	return groups, nil
}

func (s *EventService) authorizeGroup(ctx context.Context, claims *models.JWTClaims, groupID string) error {
	if claims.Role == models.RoleAdmin || claims.Role == models.RoleHeadCurator {
		return nil
	}
	groups, err := s.resolveGroups(ctx, claims)
	if err != nil {
		return err
	}
	if !containsString(groupIDsOf(groups), groupID) {
		return appErrors.Clone(appErrors.ErrForbidden, "no access to this group")
	}
	return nil
}

func groupIDsOf(groups []models.Group) []string {
	ids := make([]string, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.ID)
	}
	return ids
}

func containsString(values []string, v string) bool {
	for _, s := range values {
		if s == v {
			return true
		}
	}
	return false
}

func toEventPtrs(events []models.Event) []*models.Event {
	out := make([]*models.Event, len(events))
	for i := range events {
		out[i] = &events[i]
	}
	return out
}

func toGroupPtrs(groups []models.Group) []*models.Group {
	out := make([]*models.Group, len(groups))
	for i := range groups {
		out[i] = &groups[i]
	}
	return out
}

func toSlotPtrs(slots []models.LessonSlot) []*models.LessonSlot {
	out := make([]*models.LessonSlot, len(slots))
	for i := range slots {
		out[i] = &slots[i]
	}
	return out
}
