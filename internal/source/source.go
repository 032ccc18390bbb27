// Package source implements the per-provider ingestion adapters. Each
// adapter fetches raw records for a date range from one external provider
// and emits them with stable natural keys, so repeated runs over
// overlapping ranges upsert idempotently.
package source

import (
	"context"
	"time"

	"github.com/sells-group/gasrisk-cli/internal/model"
)

// Cadence describes how often a source publishes new data.
type Cadence string

const (
	Daily  Cadence = "daily"
	Weekly Cadence = "weekly"
)

// EmitFunc receives one normalized record. Returning an error stops the
// fetch at that record boundary; adapters must not continue after it.
type EmitFunc func(model.RawRecord) error

// Source is the narrow contract every adapter implements. Adapters share no
// state; retry/backoff and rate limiting live inside each adapter's fetch.
type Source interface {
	// Name returns the unique source identifier.
	Name() model.SourceID

	// Cadence returns how often the provider publishes.
	Cadence() Cadence

	// ShouldRun decides whether a sync is due given the time of the last
	// successful run (nil if never).
	ShouldRun(now time.Time, lastSuccess *time.Time) bool

	// Fetch pulls records whose observation date falls in r and emits them
	// in the order produced. Errors are *SourceError.
	Fetch(ctx context.Context, r model.DateRange, emit EmitFunc) error
}

// DailySchedule returns true when a daily source has not yet synced today
// (UTC).
func DailySchedule(now time.Time, lastSuccess *time.Time) bool {
	if lastSuccess == nil {
		return true
	}
	return lastSuccess.UTC().Before(model.DayOf(now))
}

// WeeklySchedule returns true when a weekly source has not synced since the
// start of the current ISO week (Monday, UTC).
func WeeklySchedule(now time.Time, lastSuccess *time.Time) bool {
	if lastSuccess == nil {
		return true
	}
	now = now.UTC()
	weekday := int(now.Weekday())
	if weekday == 0 {
		weekday = 7
	}
	weekStart := time.Date(now.Year(), now.Month(), now.Day()-(weekday-1), 0, 0, 0, 0, time.UTC)
	return lastSuccess.UTC().Before(weekStart)
}
