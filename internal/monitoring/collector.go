package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/store"
)

// MetricsSnapshot holds a point-in-time view of pipeline health.
type MetricsSnapshot struct {
	// Ingestion runs within the lookback window.
	RunsTotal   int     `json:"runs_total"`
	RunsOK      int     `json:"runs_ok"`
	RunsPartial int     `json:"runs_partial"`
	RunsFailed  int     `json:"runs_failed"`
	FailureRate float64 `json:"failure_rate"`

	// Sources whose last successful pull is older than the staleness
	// threshold (or that have never succeeded).
	StaleSources []StaleSource `json:"stale_sources,omitempty"`

	// Latest emitted estimate, nil when none exists yet.
	LatestEstimate *model.RiskEstimate `json:"latest_estimate,omitempty"`

	// Metadata.
	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// StaleSource describes one source past its staleness threshold.
type StaleSource struct {
	SourceID    model.SourceID `json:"source_id"`
	LastSuccess *time.Time     `json:"last_success,omitempty"`
	AgeHours    float64        `json:"age_hours,omitempty"`
}

// Collector gathers health metrics from the run ledger and estimate
// history.
type Collector struct {
	store          store.Store
	stalenessHours int
	now            func() time.Time
}

// NewCollector creates a metrics collector. stalenessHours is the age
// past which a source's last success counts as stale.
func NewCollector(st store.Store, stalenessHours int) *Collector {
	return &Collector{store: st, stalenessHours: stalenessHours, now: time.Now}
}

// Collect gathers a snapshot of pipeline health over the given lookback
// window.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*MetricsSnapshot, error) {
	now := c.now().UTC()
	snap := &MetricsSnapshot{
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}
	cutoff := now.Add(-time.Duration(lookbackHours) * time.Hour)

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		StartedAfter: cutoff,
		Limit:        10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	for _, r := range runs {
		switch r.Status {
		case model.RunStatusOK:
			snap.RunsOK++
		case model.RunStatusPartial:
			snap.RunsPartial++
		case model.RunStatusFailed:
			snap.RunsFailed++
		case model.RunStatusRunning:
			continue // still in flight, not an outcome
		}
		snap.RunsTotal++
	}
	if finished := snap.RunsTotal; finished > 0 {
		snap.FailureRate = float64(snap.RunsFailed) / float64(finished)
	}

	threshold := time.Duration(c.stalenessHours) * time.Hour
	for _, id := range model.AllSources() {
		last, err := c.store.LastSuccess(ctx, id)
		if err != nil {
			return nil, eris.Wrapf(err, "monitoring: last success for %s", id)
		}
		switch {
		case last == nil:
			snap.StaleSources = append(snap.StaleSources, StaleSource{SourceID: id})
		case now.Sub(*last) > threshold:
			snap.StaleSources = append(snap.StaleSources, StaleSource{
				SourceID:    id,
				LastSuccess: last,
				AgeHours:    now.Sub(*last).Hours(),
			})
		}
	}

	est, err := c.store.LatestEstimate(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: latest estimate")
	}
	snap.LatestEstimate = est

	return snap, nil
}
