package service

import (
	"fmt"
	"sort"
	"time"

	"github.com/noah-isme/lms-core-api/internal/models"
	"github.com/noah-isme/lms-core-api/internal/recurrence"
)

// EventExpander merges persisted events with projected occurrences of
// recurring series and weekly lesson slots. It is a pure view builder: it
// never writes anything, and a persisted row always wins over a projection
// at the same group/minute slot.
type EventExpander struct {
	loc *time.Location
}

// NewEventExpander builds an expander anchored to the organization's
// canonical location. Lesson slot clock times are interpreted there.
func NewEventExpander(loc *time.Location) *EventExpander {
	if loc == nil {
		loc = time.UTC
	}
	return &EventExpander{loc: loc}
}

// ExpandInput carries everything the expander needs for one window.
type ExpandInput struct {
	Groups           []*models.Group
	Events           []*models.Event
	RecurringParents []*models.Event
	LessonSlots      []*models.LessonSlot
	WindowStart      time.Time
	WindowEnd        time.Time
}

// Expand builds the combined calendar for the window, sorted by start time.
func (x *EventExpander) Expand(in ExpandInput) ([]models.CalendarEntry, error) {
	groupsByID := make(map[string]*models.Group, len(in.Groups))
	for _, g := range in.Groups {
		groupsByID[g.ID] = g
	}

	occupied := make(recurrence.EventSignatureSet)
	entries := make([]models.CalendarEntry, 0, len(in.Events))

	for _, ev := range in.Events {
		for _, gid := range ev.GroupIDs {
			occupied.Add(gid, ev.StartAt)
		}
		entries = append(entries, models.CalendarEntry{Kind: models.EntryReal, Event: ev})
	}

	// Series anchors are persisted rows too. They occupy their slot and,
	// when inside the window, show up as real entries.
	for _, parent := range in.RecurringParents {
		for _, gid := range parent.GroupIDs {
			occupied.Add(gid, parent.StartAt)
		}
		if !parent.StartAt.Before(in.WindowStart) && !parent.StartAt.After(in.WindowEnd) {
			entries = append(entries, models.CalendarEntry{Kind: models.EntryReal, Event: parent})
		}
	}

	seriesEntries, err := x.expandSeries(in.RecurringParents, groupsByID, occupied, in.WindowStart, in.WindowEnd)
	if err != nil {
		return nil, err
	}
	entries = append(entries, seriesEntries...)

	lessonEntries, err := x.expandLessons(in.LessonSlots, groupsByID, occupied, in.WindowStart, in.WindowEnd)
	if err != nil {
		return nil, err
	}
	entries = append(entries, lessonEntries...)

	sort.SliceStable(entries, func(i, j int) bool {
		si, sj := entries[i].StartAt(), entries[j].StartAt()
		if si.Equal(sj) {
			return entries[i].Kind == models.EntryReal && entries[j].Kind == models.EntryVirtual
		}
		return si.Before(sj)
	})
	return entries, nil
}

func (x *EventExpander) expandSeries(parents []*models.Event, groupsByID map[string]*models.Group, occupied recurrence.EventSignatureSet, windowStart, windowEnd time.Time) ([]models.CalendarEntry, error) {
	var entries []models.CalendarEntry
	for _, parent := range parents {
		if parent.RecurrencePattern == nil {
			continue
		}
		starts, err := recurrence.ExpandSeries(parent.StartAt, *parent.RecurrencePattern, parent.RecurrenceEndDate, windowStart, windowEnd)
		if err != nil {
			return nil, fmt.Errorf("expand series for event %s: %w", parent.ID, err)
		}
		duration := parent.Duration()
		for _, gid := range parent.GroupIDs {
			groupName := ""
			if g, ok := groupsByID[gid]; ok {
				groupName = g.Name
			}
			for _, start := range starts {
				if occupied.Contains(gid, start) {
					continue
				}
				entries = append(entries, models.CalendarEntry{
					Kind: models.EntryVirtual,
					Virtual: &models.VirtualOccurrence{
						SourceKind:  models.SourceRecurringEvent,
						SourceID:    parent.ID,
						Title:       parent.Title,
						Description: parent.Description,
						EventType:   parent.EventType,
						StartAt:     start.UTC(),
						EndAt:       start.Add(duration).UTC(),
						GroupID:     gid,
						GroupName:   groupName,
					},
				})
			}
		}
	}
	return entries, nil
}

// expandLessons walks each group's weekly slot grid forward from its
// schedule start date, numbering occurrences chronologically. The number is
// a property of the stream, so the walk always begins at the schedule start
// even when the requested window lies far ahead.
func (x *EventExpander) expandLessons(slots []*models.LessonSlot, groupsByID map[string]*models.Group, occupied recurrence.EventSignatureSet, windowStart, windowEnd time.Time) ([]models.CalendarEntry, error) {
	slotsByGroup := make(map[string][]*models.LessonSlot)
	for _, s := range slots {
		if !s.Active {
			continue
		}
		slotsByGroup[s.GroupID] = append(slotsByGroup[s.GroupID], s)
	}

	var entries []models.CalendarEntry
	for gid, groupSlots := range slotsByGroup {
		group, ok := groupsByID[gid]
		if !ok || group.ScheduleStartDate == nil {
			continue
		}

		lessonsCap := 0
		if group.LessonsCount != nil {
			lessonsCap = *group.LessonsCount
		}

		scheduleStart := group.ScheduleStartDate.In(x.loc)
		weekStart := recurrence.WeekStart(scheduleStart)
		index := 0

	weeks:
		for !weekStart.After(windowEnd) {
			weekTimes, err := x.slotTimes(groupSlots, weekStart)
			if err != nil {
				return nil, fmt.Errorf("group %s lesson slots: %w", gid, err)
			}
			for _, wt := range weekTimes {
				if wt.at.Before(scheduleStart) {
					continue
				}
				index++
				if lessonsCap > 0 && index > lessonsCap {
					break weeks
				}
				if wt.at.Before(windowStart) || wt.at.After(windowEnd) {
					continue
				}
				if occupied.Contains(gid, wt.at) {
					continue
				}
				entries = append(entries, models.CalendarEntry{
					Kind: models.EntryVirtual,
					Virtual: &models.VirtualOccurrence{
						SourceKind:  models.SourceLessonSlot,
						SourceID:    wt.slot.ID,
						Title:       fmt.Sprintf("%s: Lesson %d", group.Name, index),
						EventType:   "lesson",
						StartAt:     wt.at.UTC(),
						EndAt:       wt.at.Add(wt.slot.Duration()).UTC(),
						GroupID:     gid,
						GroupName:   group.Name,
						LessonIndex: index,
					},
				})
			}
			weekStart = weekStart.AddDate(0, 0, 7)
		}
	}
	return entries, nil
}

// SeriesOccurrenceAt resolves the virtual occurrence of a recurring event
// at the given minute, or nil when the timestamp is not on the series grid.
func (x *EventExpander) SeriesOccurrenceAt(parent *models.Event, groupID string, at time.Time) (*models.VirtualOccurrence, error) {
	if parent.RecurrencePattern == nil {
		return nil, nil
	}
	slot := at.UTC().Truncate(time.Minute)
	entries, err := x.expandSeries([]*models.Event{parent}, map[string]*models.Group{}, make(recurrence.EventSignatureSet), slot, slot.Add(time.Minute-time.Nanosecond))
	if err != nil {
		return nil, err
	}
	for _, entry := range entries {
		if entry.Virtual.GroupID == groupID {
			return entry.Virtual, nil
		}
	}
	return nil, nil
}

// LessonOccurrenceAt resolves the numbered lesson occurrence of a group at
// the given minute, or nil when no slot fires then. slots must be the
// group's complete active slot set so the lesson number is correct.
func (x *EventExpander) LessonOccurrenceAt(group *models.Group, slots []*models.LessonSlot, at time.Time) (*models.VirtualOccurrence, error) {
	slot := at.UTC().Truncate(time.Minute)
	entries, err := x.expandLessons(slots, map[string]*models.Group{group.ID: group}, make(recurrence.EventSignatureSet), slot, slot.Add(time.Minute-time.Nanosecond))
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, nil
	}
	return entries[0].Virtual, nil
}

type slotTime struct {
	slot *models.LessonSlot
	at   time.Time
}

// slotTimes resolves each slot inside one week, sorted chronologically so
// lesson numbering does not depend on storage order.
func (x *EventExpander) slotTimes(slots []*models.LessonSlot, weekStart time.Time) ([]slotTime, error) {
	times := make([]slotTime, 0, len(slots))
	for _, s := range slots {
		rule := recurrence.WeeklyRule{DayOfWeek: s.DayOfWeek, TimeOfDay: s.TimeOfDay}
		at, err := rule.At(weekStart)
		if err != nil {
			return nil, fmt.Errorf("slot %s: %w", s.ID, err)
		}
		times = append(times, slotTime{slot: s, at: at})
	}
	sort.Slice(times, func(i, j int) bool {
		if times[i].at.Equal(times[j].at) {
			return times[i].slot.ID < times[j].slot.ID
		}
		return times[i].at.Before(times[j].at)
	})
	return times, nil
}
