package store

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gasrisk-cli/internal/model"
)

// newMockPostgresStore creates a PostgresStore backed by pgxmock for unit testing.
func newMockPostgresStore(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool(pgxmock.QueryMatcherOption(pgxmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { mock.Close() })

	s := &PostgresStore{pool: mock}
	return s, mock
}

func TestPostgresStore_UpsertRecord_ConditionalUpdate(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	rec := model.RawRecord{
		SourceID:   model.SourceSpot,
		NaturalKey: "RNGWHHD:2026-01-05",
		ObservedAt: day("2026-01-05"),
		Payload:    []byte(`{"price_usd_mmbtu":3.21}`),
		FetchedAt:  day("2026-01-06"),
	}

	mock.ExpectExec(`ON CONFLICT \(source_id, natural_key\) DO UPDATE`).
		WithArgs("spot", rec.NaturalKey, rec.ObservedAt, []byte(rec.Payload), rec.FetchedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, s.UpsertRecord(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, status, range_start, range_end, dry_run, started_at, finished_at`).
		WithArgs("nonexistent-run").
		WillReturnError(pgx.ErrNoRows)

	_, err := s.GetRun(context.Background(), "nonexistent-run")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "get run")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_GetRun_AssemblesSources(t *testing.T) {
	s, mock := newMockPostgresStore(t)
	started := day("2026-01-08")

	mock.ExpectQuery(`SELECT id, status, range_start, range_end, dry_run, started_at, finished_at`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"id", "status", "range_start", "range_end", "dry_run", "started_at", "finished_at"}).
			AddRow("run-1", "partial", day("2026-01-01"), day("2026-01-07"), false, started, (*time.Time)(nil)))

	errMsg := "list page returned 503"
	errKind := "network"
	mock.ExpectQuery(`SELECT source_id, outcome, record_count, error, error_kind, elapsed_ms`).
		WithArgs("run-1").
		WillReturnRows(pgxmock.NewRows([]string{"source_id", "outcome", "record_count", "error", "error_kind", "elapsed_ms"}).
			AddRow("spot", "ok", 5, (*string)(nil), (*string)(nil), int64(1500)).
			AddRow("notices", "failed", 0, &errMsg, &errKind, int64(30)))

	run, err := s.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusPartial, run.Status)
	require.Len(t, run.Sources, 2)
	assert.Equal(t, 5, run.Sources[model.SourceSpot].RecordCount)
	assert.Equal(t, "network", run.Sources[model.SourceNotices].ErrorKind)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LastSuccess_Never(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT r.started_at FROM run_sources rs`).
		WithArgs("weather").
		WillReturnError(pgx.ErrNoRows)

	ts, err := s.LastSuccess(context.Background(), model.SourceWeather)
	require.NoError(t, err)
	assert.Nil(t, ts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_FinalizeRun_NotFound(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectExec(`UPDATE runs SET status`).
		WithArgs("failed", pgxmock.AnyArg(), "no-such-run").
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := s.FinalizeRun(context.Background(), "no-such-run", model.RunStatusFailed, time.Now())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_LatestEstimate_Empty(t *testing.T) {
	s, mock := newMockPostgresStore(t)

	mock.ExpectQuery(`SELECT id, as_of_date, horizon_days`).
		WillReturnError(pgx.ErrNoRows)

	est, err := s.LatestEstimate(context.Background())
	require.NoError(t, err)
	assert.Nil(t, est)
	assert.NoError(t, mock.ExpectationsWereMet())
}
