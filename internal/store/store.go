package store

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/gasrisk-cli/internal/config"
	"github.com/sells-group/gasrisk-cli/internal/model"
)

// RunFilter specifies criteria for listing ingestion runs.
type RunFilter struct {
	Status model.RunStatus `json:"status,omitempty"`
	// StartedAfter keeps only runs started at or after the given time.
	StartedAfter time.Time `json:"started_after,omitempty"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// Store defines the persistence interface for the ingestion and scoring
// pipeline: the raw-record table, the run ledger, and the append-only
// estimate history.
type Store interface {
	// Raw records. UpsertRecord is last-write-wins on (source_id,
	// natural_key): an existing row is replaced only when the incoming
	// fetched_at is newer. UpsertRecords is the batch path for backfills.
	UpsertRecord(ctx context.Context, rec model.RawRecord) error
	UpsertRecords(ctx context.Context, recs []model.RawRecord) (int64, error)
	QueryRecords(ctx context.Context, sourceID model.SourceID, r model.DateRange) ([]model.RawRecord, error)
	CountRecords(ctx context.Context, sourceID model.SourceID) (int64, error)

	// Run ledger
	CreateRun(ctx context.Context, run *model.Run) error
	RecordSourceStatus(ctx context.Context, runID string, st model.SourceStatus) error
	FinalizeRun(ctx context.Context, runID string, status model.RunStatus, finishedAt time.Time) error
	GetRun(ctx context.Context, runID string) (*model.Run, error)
	ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error)
	// LastSuccess returns the start time of the most recent non-dry run in
	// which the source completed, nil if it never has.
	LastSuccess(ctx context.Context, sourceID model.SourceID) (*time.Time, error)

	// Estimate history
	AppendEstimate(ctx context.Context, est model.RiskEstimate) error
	ListEstimates(ctx context.Context, limit int) ([]model.RiskEstimate, error)
	LatestEstimate(ctx context.Context) (*model.RiskEstimate, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

// Open creates the store backend named by the configuration.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{
			MaxConns: cfg.MaxConns,
			MinConns: cfg.MinConns,
		})
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}
