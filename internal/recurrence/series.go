package recurrence

import (
	"fmt"
	"time"

	"github.com/teambition/rrule-go"
)

// SeriesPattern enumerates supported recurring-event cadences.
type SeriesPattern string

const (
	SeriesDaily    SeriesPattern = "daily"
	SeriesWeekly   SeriesPattern = "weekly"
	SeriesBiweekly SeriesPattern = "biweekly"
	SeriesMonthly  SeriesPattern = "monthly"
)

const seriesOccurrenceCap = 1000

// ExpandSeries returns the timestamps at which a recurring event series
// fires inside [windowStart, windowEnd]. start is the series anchor (its
// first occurrence); until, when set, bounds the series itself. The result
// is capped to guard against runaway expansions.
func ExpandSeries(start time.Time, pattern SeriesPattern, until *time.Time, windowStart, windowEnd time.Time) ([]time.Time, error) {
	opt := rrule.ROption{Dtstart: start}

	switch pattern {
	case SeriesDaily:
		opt.Freq = rrule.DAILY
	case SeriesWeekly:
		opt.Freq = rrule.WEEKLY
	case SeriesBiweekly:
		opt.Freq = rrule.WEEKLY
		opt.Interval = 2
	case SeriesMonthly:
		opt.Freq = rrule.MONTHLY
	default:
		return nil, fmt.Errorf("unknown recurrence pattern %q", pattern)
	}

	if until != nil {
		opt.Until = *until
	}

	rule, err := rrule.NewRRule(opt)
	if err != nil {
		return nil, fmt.Errorf("build rrule for pattern %q: %w", pattern, err)
	}

	times := rule.Between(windowStart, windowEnd, true)
	if len(times) > seriesOccurrenceCap {
		times = times[:seriesOccurrenceCap]
	}
	return times, nil
}
