package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/gasrisk-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS raw_records (
	source_id   TEXT NOT NULL,
	natural_key TEXT NOT NULL,
	observed_at DATETIME NOT NULL,
	payload     TEXT NOT NULL,
	fetched_at  DATETIME NOT NULL,
	PRIMARY KEY (source_id, natural_key)
);

CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	status      TEXT NOT NULL DEFAULT 'running',
	range_start DATETIME NOT NULL,
	range_end   DATETIME NOT NULL,
	dry_run     INTEGER NOT NULL DEFAULT 0,
	started_at  DATETIME NOT NULL,
	finished_at DATETIME
);

CREATE TABLE IF NOT EXISTS run_sources (
	run_id       TEXT NOT NULL REFERENCES runs(id),
	source_id    TEXT NOT NULL,
	outcome      TEXT NOT NULL,
	record_count INTEGER NOT NULL DEFAULT 0,
	error        TEXT,
	error_kind   TEXT,
	elapsed_ms   INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, source_id)
);

CREATE TABLE IF NOT EXISTS risk_estimates (
	id             TEXT PRIMARY KEY,
	as_of_date     DATETIME NOT NULL,
	horizon_days   INTEGER NOT NULL,
	probability    REAL NOT NULL,
	credible_low   REAL NOT NULL,
	credible_high  REAL NOT NULL,
	model_version  TEXT NOT NULL,
	snapshot_id    TEXT NOT NULL,
	low_confidence INTEGER NOT NULL DEFAULT 0,
	created_at     DATETIME NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_raw_records_observed ON raw_records(source_id, observed_at);
CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at DESC);
CREATE INDEX IF NOT EXISTS idx_run_sources_source ON run_sources(source_id, outcome);
CREATE INDEX IF NOT EXISTS idx_estimates_as_of ON risk_estimates(as_of_date DESC, created_at DESC);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) UpsertRecord(ctx context.Context, rec model.RawRecord) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO raw_records (source_id, natural_key, observed_at, payload, fetched_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (source_id, natural_key) DO UPDATE SET
		   observed_at = excluded.observed_at,
		   payload     = excluded.payload,
		   fetched_at  = excluded.fetched_at
		 WHERE excluded.fetched_at > raw_records.fetched_at`,
		string(rec.SourceID), rec.NaturalKey, rec.ObservedAt.UTC(), string(rec.Payload), rec.FetchedAt.UTC(),
	)
	return eris.Wrapf(err, "sqlite: upsert record %s/%s", rec.SourceID, rec.NaturalKey)
}

func (s *SQLiteStore) UpsertRecords(ctx context.Context, recs []model.RawRecord) (int64, error) {
	if len(recs) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin upsert tx")
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO raw_records (source_id, natural_key, observed_at, payload, fetched_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (source_id, natural_key) DO UPDATE SET
		   observed_at = excluded.observed_at,
		   payload     = excluded.payload,
		   fetched_at  = excluded.fetched_at
		 WHERE excluded.fetched_at > raw_records.fetched_at`,
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: prepare upsert")
	}
	defer stmt.Close() //nolint:errcheck

	var affected int64
	for _, rec := range recs {
		res, err := stmt.ExecContext(ctx,
			string(rec.SourceID), rec.NaturalKey, rec.ObservedAt.UTC(), string(rec.Payload), rec.FetchedAt.UTC(),
		)
		if err != nil {
			return 0, eris.Wrapf(err, "sqlite: upsert record %s/%s", rec.SourceID, rec.NaturalKey)
		}
		n, _ := res.RowsAffected()
		affected += n
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit upsert tx")
	}
	return affected, nil
}

func (s *SQLiteStore) QueryRecords(ctx context.Context, sourceID model.SourceID, r model.DateRange) ([]model.RawRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, natural_key, observed_at, payload, fetched_at
		 FROM raw_records
		 WHERE source_id = ? AND observed_at >= ? AND observed_at < ?
		 ORDER BY observed_at, natural_key`,
		string(sourceID), model.DayOf(r.Start), model.DayOf(r.End).AddDate(0, 0, 1),
	)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: query records for %s", sourceID)
	}
	defer rows.Close()

	var recs []model.RawRecord
	for rows.Next() {
		var rec model.RawRecord
		var sid, payload string
		if err := rows.Scan(&sid, &rec.NaturalKey, &rec.ObservedAt, &payload, &rec.FetchedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		rec.SourceID = model.SourceID(sid)
		rec.Payload = []byte(payload)
		recs = append(recs, rec)
	}
	return recs, eris.Wrap(rows.Err(), "sqlite: query records iterate")
}

func (s *SQLiteStore) CountRecords(ctx context.Context, sourceID model.SourceID) (int64, error) {
	var n int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM raw_records WHERE source_id = ?`, string(sourceID),
	).Scan(&n)
	return n, eris.Wrapf(err, "sqlite: count records for %s", sourceID)
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *model.Run) error {
	if run.ID == "" {
		run.ID = uuid.New().String()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now().UTC()
	}
	if run.Status == "" {
		run.Status = model.RunStatusRunning
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, status, range_start, range_end, dry_run, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, string(run.Status), run.Range.Start.UTC(), run.Range.End.UTC(), run.DryRun, run.StartedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert run")
}

func (s *SQLiteStore) RecordSourceStatus(ctx context.Context, runID string, st model.SourceStatus) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO run_sources (run_id, source_id, outcome, record_count, error, error_kind, elapsed_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (run_id, source_id) DO UPDATE SET
		   outcome = excluded.outcome, record_count = excluded.record_count,
		   error = excluded.error, error_kind = excluded.error_kind,
		   elapsed_ms = excluded.elapsed_ms`,
		runID, string(st.SourceID), string(st.Outcome), st.RecordCount,
		st.Error, st.ErrorKind, st.Elapsed.Milliseconds(),
	)
	return eris.Wrapf(err, "sqlite: record source status for run %s", runID)
}

func (s *SQLiteStore) FinalizeRun(ctx context.Context, runID string, status model.RunStatus, finishedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = ? WHERE id = ?`,
		string(status), finishedAt.UTC(), runID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finalize run %s", runID)
	}
	return checkRowsAffected(res, "run", runID)
}

func (s *SQLiteStore) GetRun(ctx context.Context, runID string) (*model.Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, range_start, range_end, dry_run, started_at, finished_at
		 FROM runs WHERE id = ?`,
		runID,
	)
	run, err := scanRun(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadRunSources(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, filter RunFilter) ([]model.Run, error) {
	query := `SELECT id, status, range_start, range_end, dry_run, started_at, finished_at
	          FROM runs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if !filter.StartedAfter.IsZero() {
		query += ` AND started_at >= ?`
		args = append(args, filter.StartedAfter.UTC())
	}
	query += ` ORDER BY started_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs")
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: list runs iterate")
	}

	for i := range runs {
		if err := s.loadRunSources(ctx, &runs[i]); err != nil {
			return nil, err
		}
	}
	return runs, nil
}

func (s *SQLiteStore) loadRunSources(ctx context.Context, run *model.Run) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT source_id, outcome, record_count, error, error_kind, elapsed_ms
		 FROM run_sources WHERE run_id = ?`,
		run.ID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: load sources for run %s", run.ID)
	}
	defer rows.Close()

	run.Sources = make(map[model.SourceID]model.SourceStatus)
	for rows.Next() {
		st, err := scanSourceStatus(rows)
		if err != nil {
			return err
		}
		run.Sources[st.SourceID] = st
	}
	return eris.Wrap(rows.Err(), "sqlite: load sources iterate")
}

func (s *SQLiteStore) LastSuccess(ctx context.Context, sourceID model.SourceID) (*time.Time, error) {
	var t time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT r.started_at FROM run_sources rs
		 JOIN runs r ON r.id = rs.run_id
		 WHERE rs.source_id = ? AND rs.outcome = ? AND r.dry_run = 0
		 ORDER BY r.started_at DESC LIMIT 1`,
		string(sourceID), string(model.SourceOK),
	).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: last success for %s", sourceID)
	}
	return &t, nil
}

func (s *SQLiteStore) AppendEstimate(ctx context.Context, est model.RiskEstimate) error {
	if est.ID == "" {
		est.ID = uuid.New().String()
	}
	if est.CreatedAt.IsZero() {
		est.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO risk_estimates
		 (id, as_of_date, horizon_days, probability, credible_low, credible_high,
		  model_version, snapshot_id, low_confidence, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		est.ID, model.DayOf(est.AsOfDate), est.HorizonDays, est.ShortfallProbability,
		est.CredibleLow, est.CredibleHigh, est.ModelVersion, est.SnapshotID,
		est.LowConfidence, est.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: append estimate")
}

func (s *SQLiteStore) ListEstimates(ctx context.Context, limit int) ([]model.RiskEstimate, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, as_of_date, horizon_days, probability, credible_low, credible_high,
		        model_version, snapshot_id, low_confidence, created_at
		 FROM risk_estimates ORDER BY as_of_date DESC, created_at DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list estimates")
	}
	defer rows.Close()

	var ests []model.RiskEstimate
	for rows.Next() {
		e, err := scanEstimate(rows)
		if err != nil {
			return nil, err
		}
		ests = append(ests, *e)
	}
	return ests, eris.Wrap(rows.Err(), "sqlite: list estimates iterate")
}

func (s *SQLiteStore) LatestEstimate(ctx context.Context) (*model.RiskEstimate, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, as_of_date, horizon_days, probability, credible_low, credible_high,
		        model_version, snapshot_id, low_confidence, created_at
		 FROM risk_estimates ORDER BY as_of_date DESC, created_at DESC LIMIT 1`,
	)
	e, err := scanEstimate(row)
	if err != nil {
		if errors.Is(err, errNoEstimate) {
			return nil, nil
		}
		return nil, err
	}
	return e, nil
}

// helpers

var errNoEstimate = eris.New("estimate not found")

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanRun(row scannable) (*model.Run, error) {
	var r model.Run
	var status string
	var finishedAt sql.NullTime

	err := row.Scan(&r.ID, &status, &r.Range.Start, &r.Range.End, &r.DryRun, &r.StartedAt, &finishedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, eris.New("run not found")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan run")
	}

	r.Status = model.RunStatus(status)
	if finishedAt.Valid {
		t := finishedAt.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

func scanSourceStatus(row scannable) (model.SourceStatus, error) {
	var st model.SourceStatus
	var sid, outcome string
	var errMsg, errKind sql.NullString
	var elapsedMs int64

	err := row.Scan(&sid, &outcome, &st.RecordCount, &errMsg, &errKind, &elapsedMs)
	if err != nil {
		return st, eris.Wrap(err, "sqlite: scan source status")
	}
	st.SourceID = model.SourceID(sid)
	st.Outcome = model.SourceOutcome(outcome)
	st.Error = errMsg.String
	st.ErrorKind = errKind.String
	st.Elapsed = time.Duration(elapsedMs) * time.Millisecond
	return st, nil
}

func scanEstimate(row scannable) (*model.RiskEstimate, error) {
	var e model.RiskEstimate
	err := row.Scan(&e.ID, &e.AsOfDate, &e.HorizonDays, &e.ShortfallProbability,
		&e.CredibleLow, &e.CredibleHigh, &e.ModelVersion, &e.SnapshotID,
		&e.LowConfidence, &e.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errNoEstimate
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan estimate")
	}
	return &e, nil
}
