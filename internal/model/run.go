package model

import "time"

// RunStatus is the overall outcome of an ingestion run.
type RunStatus string

const (
	RunStatusRunning RunStatus = "running"
	RunStatusOK      RunStatus = "ok"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// SourceOutcome is the per-source outcome within a run.
type SourceOutcome string

const (
	SourceOK        SourceOutcome = "ok"
	SourceFailed    SourceOutcome = "failed"
	SourceCancelled SourceOutcome = "cancelled"
	SourceSkipped   SourceOutcome = "skipped"
)

// SourceStatus records how a single source fared during a run.
type SourceStatus struct {
	SourceID    SourceID      `json:"source_id"`
	Outcome     SourceOutcome `json:"outcome"`
	RecordCount int           `json:"record_count"`
	Error       string        `json:"error,omitempty"`
	ErrorKind   string        `json:"error_kind,omitempty"`
	Elapsed     time.Duration `json:"elapsed"`
}

// Run is one entry in the ingestion run ledger. Mutated while the run is
// active, immutable once FinishedAt is set.
type Run struct {
	ID         string                    `json:"id"`
	Status     RunStatus                 `json:"status"`
	Range      DateRange                 `json:"range"`
	DryRun     bool                      `json:"dry_run,omitempty"`
	StartedAt  time.Time                 `json:"started_at"`
	FinishedAt *time.Time                `json:"finished_at,omitempty"`
	Sources    map[SourceID]SourceStatus `json:"sources"`
}

// Succeeded counts sources that completed successfully.
func (r *Run) Succeeded() int {
	n := 0
	for _, s := range r.Sources {
		if s.Outcome == SourceOK {
			n++
		}
	}
	return n
}

// Attempted counts sources that actually ran (everything except skipped).
func (r *Run) Attempted() int {
	n := 0
	for _, s := range r.Sources {
		if s.Outcome != SourceSkipped {
			n++
		}
	}
	return n
}
