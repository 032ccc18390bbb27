package main

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/store"
)

func newAPITestStore(t *testing.T) store.Store {
	t.Helper()
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func doGet(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAPI_Healthz(t *testing.T) {
	h := newAPIRouter(newAPITestStore(t), 48)

	rec := doGet(t, h, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestAPI_Runs(t *testing.T) {
	st := newAPITestStore(t)
	h := newAPIRouter(st, 48)
	ctx := context.Background()

	rec := doGet(t, h, "/api/runs")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	run := &model.Run{Range: model.DateRange{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 1, 7, 0, 0, 0, 0, time.UTC),
	}}
	require.NoError(t, st.CreateRun(ctx, run))
	require.NoError(t, st.FinalizeRun(ctx, run.ID, model.RunStatusOK, time.Now()))

	rec = doGet(t, h, "/api/runs")
	assert.Equal(t, http.StatusOK, rec.Code)
	var runs []model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &runs))
	require.Len(t, runs, 1)
	assert.Equal(t, run.ID, runs[0].ID)

	// Status filter excludes the ok run.
	rec = doGet(t, h, "/api/runs?status=failed")
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestAPI_RunByID(t *testing.T) {
	st := newAPITestStore(t)
	h := newAPIRouter(st, 48)
	ctx := context.Background()

	rec := doGet(t, h, "/api/runs/nope")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	run := &model.Run{Range: model.DateRange{Start: time.Now(), End: time.Now()}}
	require.NoError(t, st.CreateRun(ctx, run))
	require.NoError(t, st.RecordSourceStatus(ctx, run.ID, model.SourceStatus{
		SourceID: model.SourceNotices, Outcome: model.SourceOK, RecordCount: 12,
	}))

	rec = doGet(t, h, "/api/runs/"+run.ID)
	assert.Equal(t, http.StatusOK, rec.Code)
	var got model.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 12, got.Sources[model.SourceNotices].RecordCount)
}

func TestAPI_Sources(t *testing.T) {
	h := newAPIRouter(newAPITestStore(t), 48)

	rec := doGet(t, h, "/api/sources")
	assert.Equal(t, http.StatusOK, rec.Code)

	var out []struct {
		SourceID string `json:"source_id"`
		Stale    bool   `json:"stale"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	require.Len(t, out, len(model.AllSources()))
	for _, s := range out {
		assert.True(t, s.Stale, "source %s should be stale in an empty store", s.SourceID)
	}
}

func TestAPI_Estimates(t *testing.T) {
	st := newAPITestStore(t)
	h := newAPIRouter(st, 48)
	ctx := context.Background()

	rec := doGet(t, h, "/api/estimates/latest")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	require.NoError(t, st.AppendEstimate(ctx, model.RiskEstimate{
		AsOfDate:             time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		HorizonDays:          7,
		ShortfallProbability: 0.31,
		CredibleLow:          0.12,
		CredibleHigh:         0.55,
		ModelVersion:         "test",
		SnapshotID:           "deadbeef",
	}))

	rec = doGet(t, h, "/api/estimates/latest")
	assert.Equal(t, http.StatusOK, rec.Code)
	var est model.RiskEstimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &est))
	assert.InDelta(t, 0.31, est.ShortfallProbability, 1e-9)

	rec = doGet(t, h, "/api/estimates")
	assert.Equal(t, http.StatusOK, rec.Code)
	var ests []model.RiskEstimate
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &ests))
	assert.Len(t, ests, 1)
}
