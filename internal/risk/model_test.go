package risk

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gasrisk-cli/internal/config"
	"github.com/sells-group/gasrisk-cli/internal/feature"
	"github.com/sells-group/gasrisk-cli/internal/model"
)

func testCfg() config.ModelConfig {
	return config.ModelConfig{
		HorizonDays:         7,
		WindowDays:          60,
		MinHistoryDays:      14,
		Seed:                42,
		Draws:               300,
		BurnIn:              200,
		RhatLowConfidence:   1.1,
		CredibleMassPercent: 90,
	}
}

func f64(v float64) *float64 { return &v }

// frame builds a synthetic snapshot; fill mutates each day's row.
func frame(days int, fill func(t int, row *model.DailyFeatureRow)) *feature.Snapshot {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := make([]model.DailyFeatureRow, days)
	for t := range rows {
		rows[t].Date = start.AddDate(0, 0, t)
		if fill != nil {
			fill(t, &rows[t])
		}
	}
	return &feature.Snapshot{
		ID:    fmt.Sprintf("test-%d", days),
		Range: model.DateRange{Start: start, End: start.AddDate(0, 0, days-1)},
		Rows:  rows,
	}
}

func calmFill(t int, row *model.DailyFeatureRow) {
	row.CapacityUtilization = f64(0.7 + 0.01*float64(t%5))
	row.NoticeSeverity = f64(0)
	row.SpotPrice = f64(3.0 + 0.05*float64(t%7))
	row.StorageLevel = f64(3000 - 10*float64(t))
	row.WeatherAnomaly = f64(float64(t%3) - 1)
	row.ShortfallEvent = new(bool)
}

func TestEstimate_InsufficientData(t *testing.T) {
	m := New(testCfg())

	_, err := m.Estimate(context.Background(), frame(5, calmFill))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestEstimate_EmptyChannelsAreNotHistory(t *testing.T) {
	m := New(testCfg())

	// Thirty days but nothing observed on any of them.
	_, err := m.Estimate(context.Background(), frame(30, nil))
	assert.ErrorIs(t, err, ErrInsufficientData)
}

func TestEstimate_Reproducible(t *testing.T) {
	m := New(testCfg())
	snap := frame(30, calmFill)

	a, err := m.Estimate(context.Background(), snap)
	require.NoError(t, err)
	b, err := m.Estimate(context.Background(), snap)
	require.NoError(t, err)

	assert.Equal(t, a.ShortfallProbability, b.ShortfallProbability)
	assert.Equal(t, a.CredibleLow, b.CredibleLow)
	assert.Equal(t, a.CredibleHigh, b.CredibleHigh)
	assert.Equal(t, a.LowConfidence, b.LowConfidence)
	assert.NotEqual(t, a.ID, b.ID)
}

func TestEstimate_Fields(t *testing.T) {
	m := New(testCfg())
	snap := frame(30, calmFill)

	est, err := m.Estimate(context.Background(), snap)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, est.ShortfallProbability, 0.0)
	assert.LessOrEqual(t, est.ShortfallProbability, 1.0)
	assert.LessOrEqual(t, est.CredibleLow, est.ShortfallProbability)
	assert.GreaterOrEqual(t, est.CredibleHigh, est.ShortfallProbability)
	assert.Equal(t, 7, est.HorizonDays)
	assert.Equal(t, Version, est.ModelVersion)
	assert.Equal(t, snap.ID, est.SnapshotID)
	assert.Equal(t, time.Date(2026, 1, 30, 0, 0, 0, 0, time.UTC), est.AsOfDate)
	assert.NotEmpty(t, est.ID)
	assert.False(t, est.CreatedAt.IsZero())
}

func TestEstimate_StressedFrameScoresHigher(t *testing.T) {
	m := New(testCfg())

	calm, err := m.Estimate(context.Background(), frame(30, calmFill))
	require.NoError(t, err)

	stressed, err := m.Estimate(context.Background(), frame(30, func(t int, row *model.DailyFeatureRow) {
		calmFill(t, row)
		if t >= 20 {
			row.NoticeSeverity = f64(1.0)
			row.CapacityUtilization = f64(0.98)
			sf := true
			row.ShortfallEvent = &sf
		}
	}))
	require.NoError(t, err)

	assert.Greater(t, stressed.ShortfallProbability, calm.ShortfallProbability)
}

func TestEstimate_MissingChannelsTolerated(t *testing.T) {
	m := New(testCfg())

	// Only spot observed; every other channel missing on every day.
	snap := frame(20, func(t int, row *model.DailyFeatureRow) {
		row.SpotPrice = f64(3.0 + 0.1*float64(t))
		row.Missing = []string{
			model.ChannelCapacity, model.ChannelSeverity,
			model.ChannelStorage, model.ChannelWeather,
		}
	})

	est, err := m.Estimate(context.Background(), snap)
	require.NoError(t, err)
	assert.False(t, math.IsNaN(est.ShortfallProbability))
	assert.GreaterOrEqual(t, est.ShortfallProbability, 0.0)
	assert.LessOrEqual(t, est.ShortfallProbability, 1.0)
}

func TestEstimate_Cancelled(t *testing.T) {
	m := New(testCfg())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := m.Estimate(ctx, frame(30, calmFill))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBuildDataset_ConstantChannelDropped(t *testing.T) {
	snap := frame(20, func(t int, row *model.DailyFeatureRow) {
		row.SpotPrice = f64(3.5) // no spread
		row.StorageLevel = f64(3000 - float64(t))
	})

	ds := buildDataset(snap.Rows)
	assert.Equal(t, []string{model.ChannelStorage}, ds.channels)
	assert.Equal(t, 20, ds.usableDays())
}

func TestTauLogDensity_TracksWalkScale(t *testing.T) {
	st := &state{ds: &dataset{days: 50}, x: make([]float64, 50)}

	// Unit increments: a wide walk is far more plausible than a tight one.
	for i := range st.x {
		st.x[i] = float64(i)
	}
	assert.Greater(t, st.tauLogDensity(math.Log(1.0)), st.tauLogDensity(math.Log(0.1)))

	// Tiny increments flip the ordering.
	for i := range st.x {
		st.x[i] = 0.01 * float64(i)
	}
	assert.Greater(t, st.tauLogDensity(math.Log(0.05)), st.tauLogDensity(math.Log(1.0)))
}

func TestSigmaLogDensity_TracksResidualNoise(t *testing.T) {
	days := 40
	col := make([]float64, days)
	for i := range col {
		// Residuals of magnitude 2 around a flat latent path.
		col[i] = 2.0
		if i%2 == 0 {
			col[i] = -2.0
		}
	}
	st := &state{
		ds:     &dataset{days: days, channels: []string{model.ChannelSpot}, obs: [][]float64{col}},
		x:      make([]float64, days),
		beta:   []float64{0},
		logSig: []float64{0},
	}

	assert.Greater(t, st.sigmaLogDensity(0, math.Log(2.0)), st.sigmaLogDensity(0, math.Log(0.5)))
	assert.Greater(t, st.sigmaLogDensity(0, math.Log(2.0)), st.sigmaLogDensity(0, math.Log(8.0)))
}

func TestSplitRhat(t *testing.T) {
	t.Run("identical chains", func(t *testing.T) {
		chain := []float64{0.1, 0.2, 0.15, 0.12, 0.18, 0.11, 0.14, 0.16}
		r := splitRhat([][]float64{chain, chain})
		assert.InDelta(t, 1.0, r, 0.05)
	})

	t.Run("diverged chains", func(t *testing.T) {
		a := []float64{0.1, 0.11, 0.09, 0.1, 0.12, 0.1, 0.11, 0.09}
		b := []float64{0.9, 0.91, 0.89, 0.9, 0.92, 0.9, 0.91, 0.89}
		r := splitRhat([][]float64{a, b})
		assert.Greater(t, r, 1.5)
	})

	t.Run("too short", func(t *testing.T) {
		r := splitRhat([][]float64{{0.1, 0.2}, {0.1, 0.2}})
		assert.True(t, math.IsNaN(r))
	})
}

func TestQuantile(t *testing.T) {
	vals := []float64{0.5, 0.1, 0.3, 0.2, 0.4}
	assert.InDelta(t, 0.1, quantile(vals, 0), 1e-9)
	assert.InDelta(t, 0.3, quantile(vals, 0.5), 1e-9)
	assert.InDelta(t, 0.5, quantile(vals, 1), 1e-9)
	assert.InDelta(t, 0.46, quantile(vals, 0.9), 1e-9)
}
