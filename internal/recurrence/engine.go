// Package recurrence expands weekly recurrence rules into occurrence dates.
// The engine is pure; the series manager combines the produced dates with the
// template's seed times to materialize trip instances.
package recurrence

import (
	"errors"
	"time"
)

// Rule describes a weekly recurrence: every IntervalWeeks weeks, on the
// selected weekdays, beginning at StartDate.
type Rule struct {
	IntervalWeeks int
	Weekdays      []time.Weekday
	StartDate     time.Time
}

// Engine expands recurrence rules into calendar dates.
type Engine struct {
	location *time.Location
}

// NewEngine constructs an Engine that normalizes results to the provided
// location. If loc is nil, the local location is used.
func NewEngine(loc *time.Location) *Engine {
	if loc == nil {
		loc = time.Local
	}
	return &Engine{location: loc}
}

// ErrInvalidInterval indicates the rule's week interval is not positive.
var ErrInvalidInterval = errors.New("recurrence: interval must be at least one week")

// ErrInvalidWindow indicates the generation window is unbounded or inverted.
var ErrInvalidWindow = errors.New("recurrence: generation window is invalid")

// ErrNoWeekdays indicates the rule selects no weekday.
var ErrNoWeekdays = errors.New("recurrence: rule selects no weekday")

// Occurrences produces the occurrence dates (midnight in the engine's
// location) within [from, until], inclusive. Dates before the rule's start
// date are never produced. Week intervals count Monday-start weeks from the
// week containing StartDate.
func (e *Engine) Occurrences(rule Rule, from, until time.Time) ([]time.Time, error) {
	loc := e.location
	if loc == nil {
		loc = time.Local
	}

	if rule.IntervalWeeks < 1 {
		return nil, ErrInvalidInterval
	}
	if len(rule.Weekdays) == 0 {
		return nil, ErrNoWeekdays
	}
	if from.IsZero() || until.IsZero() || until.Before(from) {
		return nil, ErrInvalidWindow
	}

	weekdaySet := make(map[time.Weekday]struct{}, len(rule.Weekdays))
	for _, day := range rule.Weekdays {
		weekdaySet[day] = struct{}{}
	}

	start := midnight(rule.StartDate, loc)
	lower := midnight(from, loc)
	if lower.Before(start) {
		lower = start
	}
	upper := midnight(until, loc)
	if upper.Before(lower) {
		return nil, nil
	}

	anchor := weekStart(start, loc)

	var dates []time.Time
	for current := lower; !current.After(upper); current = current.AddDate(0, 0, 1) {
		if _, ok := weekdaySet[current.Weekday()]; !ok {
			continue
		}
		weeks := weeksBetween(anchor, weekStart(current, loc))
		if weeks%rule.IntervalWeeks != 0 {
			continue
		}
		dates = append(dates, current)
	}

	return dates, nil
}

func midnight(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, loc)
}

// weekStart returns midnight of the Monday beginning the week containing t.
func weekStart(t time.Time, loc *time.Location) time.Time {
	day := midnight(t, loc)
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// weeksBetween counts whole weeks from a to b using calendar arithmetic so
// that daylight-saving shifts cannot skew the count.
func weeksBetween(a, b time.Time) int {
	weeks := 0
	for current := a; current.Before(b); current = current.AddDate(0, 0, 7) {
		weeks++
	}
	return weeks
}
