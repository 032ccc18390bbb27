package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/gasrisk-cli/internal/db"
	"github.com/sells-group/gasrisk-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hot paths: per-record upsert during ingestion
// and the scheduler's last-success lookup.
var preparedStatements = map[string]string{
	"upsert_record": `INSERT INTO raw_records (source_id, natural_key, observed_at, payload, fetched_at)
	 VALUES ($1, $2, $3, $4, $5)
	 ON CONFLICT (source_id, natural_key) DO UPDATE SET
	   observed_at = EXCLUDED.observed_at, payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at
	 WHERE EXCLUDED.fetched_at > raw_records.fetched_at`,
	"record_source_status": `INSERT INTO run_sources (run_id, source_id, outcome, record_count, error, error_kind, elapsed_ms)
	 VALUES ($1, $2, $3, $4, $5, $6, $7)
	 ON CONFLICT (run_id, source_id) DO UPDATE SET
	   outcome = EXCLUDED.outcome, record_count = EXCLUDED.record_count,
	   error = EXCLUDED.error, error_kind = EXCLUDED.error_kind, elapsed_ms = EXCLUDED.elapsed_ms`,
	"last_success": `SELECT r.started_at FROM run_sources rs
	 JOIN runs r ON r.id = rs.run_id
	 WHERE rs.source_id = $1 AND rs.outcome = 'ok' AND NOT r.dry_run
	 ORDER BY r.started_at DESC LIMIT 1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need
// direct query access (e.g., the feature snapshot builder's backfill path).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS raw_records (
	source_id   TEXT NOT NULL,
	natural_key TEXT NOT NULL,
	observed_at TIMESTAMPTZ NOT NULL,
	payload     JSONB NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (source_id, natural_key)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	range_start TIMESTAMPTZ NOT NULL,
	range_end   TIMESTAMPTZ NOT NULL,
	dry_run     BOOLEAN NOT NULL DEFAULT false,
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS run_sources (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	source_id    TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	record_count INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	error_kind   TEXT,
	elapsed_ms   BIGINT NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, source_id)
);

CREATE TABLE IF NOT EXISTS risk_estimates (
	id             TEXT PRIMARY KEY,
	as_of_date     TIMESTAMPTZ NOT NULL,
	horizon_days   INTEGER NOT NULL,
	probability    DOUBLE PRECISION NOT NULL,
	credible_low   DOUBLE PRECISION NOT NULL,
	credible_high  DOUBLE PRECISION NOT NULL,
	model_version  TEXT NOT NULL,
	snapshot_id    TEXT NOT NULL,
	low_confidence BOOLEAN NOT NULL DEFAULT false,
	created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_raw_records_observed ON raw_records(source_id, observed_at);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_sources_source ON run_sources(source_id, outcome);
CREATE INDEX IF NOT EXISTS idx_estimates_as_of ON risk_estimates(as_of_date DESC, created_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) UpsertRecord(ctx context.Context, rec model.RawRecord) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO raw_records (source_id, natural_key, observed_at, payload, fetched_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (source_id, natural_key) DO UPDATE SET
		   observed_at = EXCLUDED.observed_at, payload = EXCLUDED.payload, fetched_at = EXCLUDED.fetched_at
		 WHERE EXCLUDED.fetched_at > raw_records.fetched_at`,
		string(rec.SourceID), rec.NaturalKey, rec.ObservedAt.UTC(), []byte(rec.Payload), rec.FetchedAt.UTC(),
	)
	return eris.Wrapf(err, "postgres: upsert record %s/%s", rec.SourceID, rec.NaturalKey)
}

func (s *PostgresStore) UpsertRecords(ctx context.Context, recs []model.RawRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}

	rows := make([][]any, len(recs))
	for i, rec := range recs {
		rows[i] = []any{
			string(rec.SourceID), rec.NaturalKey, rec.ObservedAt.UTC(), []byte(rec.Payload), rec.FetchedAt.UTC(),
		}
	}

	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:           "raw_records",
		Columns:         []string{"source_id", "natural_key", "observed_at", "payload", "fetched_at"},
		ConflictKeys:    []string{"source_id", "natural_key"},
		UpdateCondition: "EXCLUDED.fetched_at > raw_records.fetched_at",
	}, rows)
}

func (s *PostgresStore) QueryRecords(ctx context.Context, sourceID model.SourceID, r model.DateRange) ([]model.RawRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT source_id, natural_key, observed_at, payload, fetched_at
		 FROM raw_records
		 WHERE source_id = $1 AND observed_at >= $2 AND observed_at < $3
		 ORDER BY observed_at, natural_key`,
		string(sourceID), model.DayOf(r.Start), model.DayOf(r.End).AddDate(0, 0, 1),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: query records for %s", sourceID)
	}
	defer rows.Close()

	var recs []model.RawRecord
	for rows.Next() {
		var rec model.RawRecord
		var sid string
		var payload []byte
		if err := rows.Scan(&sid, &rec.NaturalKey, &rec.ObservedAt, &payload, &rec.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		rec.SourceID = model.SourceID(sid)
		rec.Payload = payload
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "postgres: query records iterate")
}

func (s *PostgresStore) CountRecords(ctx context.Context, sourceID model.SourceID) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM raw_records WHERE source_id = $1`, string(sourceID),
	).Scan(&n)
	return n, eris.Wrapf(err, "postgres: count records for %s", sourceID)
}

func (s *PostgresStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, range_start, range_end, dry_run, started_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		run.ID, string(run.Status), run.Range.Start.UTC(), run.Range.End.UTC(), run.DryRun, run.StartedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert run")
}

func (s *PostgresStore) RecordSourceStatus(ctx context.Context, runID string, st model.SourceStatus) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO run_sources (run_id, source_id, outcome, record_count, error, error_kind, elapsed_ms)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 ON CONFLICT (run_id, source_id) DO UPDATE SET
		   outcome = EXCLUDED.outcome, record_count = EXCLUDED.record_count,
		   error = EXCLUDED.error, error_kind = EXCLUDED.error_kind, elapsed_ms = EXCLUDED.elapsed_ms`,
		runID, string(st.SourceID), string(st.Outcome), st.RecordCount,
		st.Error, st.ErrorKind, st.Elapsed.Milliseconds(),
	)
	return eris.Wrapf(err, "postgres: record source status for run %s", runID)
}

func (s *PostgresStore) FinalizeRun(ctx context.Context, runID string, status model.RunStatus, finishedAt time.Time) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET status = $1, finished_at = $2 WHERE id = $3`,
		string(status), finishedAt.UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finalize run %s", runID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("run not found: %s", runID)
	}
	return nil
}

func (s *PostgresStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	var r model.Run
	var status string
	var finishedAt *time.Time

	err := s.pool.QueryRow(ctx,
		`SELECT id, status, range_start, range_end, dry_run, started_at, finished_at
		 FROM runs WHERE id = $1`,
		runID,
	).Scan(&r.ID, &status, &r.Range.Start, &r.Range.End, &r.DryRun, &r.StartedAt, &finishedAt)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get run %s", runID)
	}
	r.Status = model.RunStatus(status)
	r.FinishedAt = finishedAt

	if err := s.loadRunSources(ctx, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func (s *PostgresStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, range_start, range_end, dry_run, started_at, finished_at
	          FROM runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if !filter.StartedAfter.IsZero() {
		query += fmt.Sprintf(` AND started_at >= $%d`, argIdx)
		args = append(args, filter.StartedAfter.UTC())
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var r model.Run
		var status string
		var finishedAt *time.Time
		if err := rows.Scan(&r.ID, &status, &r.Range.Start, &r.Range.End, &r.DryRun, &r.StartedAt, &finishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan run")
		}
		r.Status = model.RunStatus(status)
		r.FinishedAt = finishedAt
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: list runs iterate")
	}

	for i := range runs {
		if err := s.loadRunSources(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *PostgresStore) loadRunSources(ctx context.Context, run *model.Run) error {
	rows, err := s.pool.Query(ctx,
		`SELECT source_id, outcome, record_count, error, error_kind, elapsed_ms
		 FROM run_sources WHERE run_id = $1`,
		run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: load sources for run %s", run.ID)
	}
	defer rows.Close()

	run.Sources = make(map[model.SourceID]model.SourceStatus)
	for rows.Next() {
		var st model.SourceStatus
		var sid, outcome string
		var errMsg, errKind *string
		var elapsedMs int64
		if err := rows.Scan(&sid, &outcome, &st.RecordCount, &errMsg, &errKind, &elapsedMs); err != nil {
			return eris.Wrap(err, "postgres: scan source status")
		}
		st.SourceID = model.SourceID(sid)
		st.Outcome = model.SourceOutcome(outcome)
		if errMsg != nil {
			st.Error = *errMsg
		}
		if errKind != nil {
			st.ErrorKind = *errKind
		}
		st.Elapsed = time.Duration(elapsedMs) * time.Millisecond
		run.Sources[st.SourceID] = st
	}
	return eris.Wrap(rows.Err(), "postgres: load sources iterate")
}

func (s *PostgresStore) LastSuccess(ctx context.Context, sourceID model.SourceID) (*time.Time, error) {
	var t time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT r.started_at FROM run_sources rs
		 JOIN runs r ON r.id = rs.run_id
		 WHERE rs.source_id = $1 AND rs.outcome = 'ok' AND NOT r.dry_run
		 ORDER BY r.started_at DESC LIMIT 1`,
		string(sourceID),
	).Scan(&t)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrapf(err, "postgres: last success for %s", sourceID)
	}
	return &t, nil
}

func (s *PostgresStore) AppendEstimate(ctx context.Context, est model.RiskEstimate) error {
	if est.ID == "" {
		est.ID = uuid.New().String()
	}
	if est.CreatedAt.IsZero() {
		est.CreatedAt = time.Now().UTC()
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO risk_estimates
		 (id, as_of_date, horizon_days, probability, credible_low, credible_high,
		  model_version, snapshot_id, low_confidence, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		est.ID, model.DayOf(est.AsOfDate), est.HorizonDays, est.ShortfallProbability,
		est.CredibleLow, est.CredibleHigh, est.ModelVersion, est.SnapshotID,
		est.LowConfidence, est.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: append estimate")
}

func (s *PostgresStore) ListEstimates(ctx context.Context, limit int) ([]model.RiskEstimate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx,
		`SELECT id, as_of_date, horizon_days, probability, credible_low, credible_high,
		        model_version, snapshot_id, low_confidence, created_at
		 FROM risk_estimates ORDER BY as_of_date DESC, created_at DESC LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list estimates")
	}
	defer rows.Close()

	var ests []model.RiskEstimate
	for rows.Next() {
		var e model.RiskEstimate
		if err := rows.Scan(&e.ID, &e.AsOfDate, &e.HorizonDays, &e.ShortfallProbability,
			&e.CredibleLow, &e.CredibleHigh, &e.ModelVersion, &e.SnapshotID,
			&e.LowConfidence, &e.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan estimate")
		}
		ests = append(ests, e)
	}
	return ests, eris.Wrap(rows.Err(), "postgres: list estimates iterate")
}

func (s *PostgresStore) LatestEstimate(ctx context.Context) (*model.RiskEstimate, error) {
	var e model.RiskEstimate
	err := s.pool.QueryRow(ctx,
		`SELECT id, as_of_date, horizon_days, probability, credible_low, credible_high,
		        model_version, snapshot_id, low_confidence, created_at
		 FROM risk_estimates ORDER BY as_of_date DESC, created_at DESC LIMIT 1`,
	).Scan(&e.ID, &e.AsOfDate, &e.HorizonDays, &e.ShortfallProbability,
		&e.CredibleLow, &e.CredibleHigh, &e.ModelVersion, &e.SnapshotID,
		&e.LowConfidence, &e.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, eris.Wrap(err, "postgres: latest estimate")
	}
	return &e, nil
}
