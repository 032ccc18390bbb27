package source

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/gasrisk-cli/internal/config"
	"github.com/sells-group/gasrisk-cli/internal/model"
)

func noaaCfg() config.NOAAConfig {
	return config.NOAAConfig{BaseURL: "https://noaa.test/access"}
}

const stationCSV = `STATION,DATE,TAVG,TMIN,TMAX
ST1,2025-12-20,10,,
ST1,2026-01-05,-50,,
ST1,2026-01-06,,-100,0
ST1,2026-01-07,,,
`

func TestWeather_Fetch(t *testing.T) {
	f := &fakeFetcher{get: func(url string, _ map[string]string) (string, error) {
		assert.Equal(t, "https://noaa.test/access/ST1.csv", url)
		return stationCSV, nil
	}}

	w := NewWeather(noaaCfg(), []config.Station{{ID: "ST1"}}, f, nil, noRetry)
	var recs []model.RawRecord
	err := w.Fetch(context.Background(), testRange("2026-01-01", "2026-01-07"), func(r model.RawRecord) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err)

	// Out-of-range day and the all-blank day are dropped.
	require.Len(t, recs, 2)
	assert.Equal(t, "ST1:2026-01-05", recs[0].NaturalKey)

	// TAVG -50 tenths of °C is -5°C = 23°F, HDD 42 against the 65°F base.
	var p model.WeatherPayload
	require.NoError(t, json.Unmarshal(recs[0].Payload, &p))
	require.NotNil(t, p.TavgC)
	assert.InDelta(t, -5.0, *p.TavgC, 1e-9)
	require.NotNil(t, p.HDD)
	assert.InDelta(t, 42.0, *p.HDD, 1e-9)

	// No TAVG: falls back to the TMIN/TMAX midpoint.
	require.NoError(t, json.Unmarshal(recs[1].Payload, &p))
	require.NotNil(t, p.TavgC)
	assert.InDelta(t, -5.0, *p.TavgC, 1e-9)
}

func TestWeather_Fetch_FailedStationSkipped(t *testing.T) {
	f := &fakeFetcher{get: func(url string, _ map[string]string) (string, error) {
		if url == "https://noaa.test/access/BAD.csv" {
			return "", errors.New("connection refused")
		}
		return stationCSV, nil
	}}

	w := NewWeather(noaaCfg(), []config.Station{{ID: "BAD"}, {ID: "ST1"}}, f, nil, noRetry)
	var recs []model.RawRecord
	err := w.Fetch(context.Background(), testRange("2026-01-01", "2026-01-07"), func(r model.RawRecord) error {
		recs = append(recs, r)
		return nil
	})
	require.NoError(t, err, "one dead station must not fail the source")
	assert.Len(t, recs, 2)
}

func TestWeather_Fetch_AllStationsFail(t *testing.T) {
	f := &fakeFetcher{get: func(string, map[string]string) (string, error) {
		return "", errors.New("connection refused")
	}}

	w := NewWeather(noaaCfg(), []config.Station{{ID: "ST1"}, {ID: "ST2"}}, f, nil, noRetry)
	err := w.Fetch(context.Background(), testRange("2026-01-01", "2026-01-07"), nil)
	require.Error(t, err)
	assert.Equal(t, KindNetwork, AsSourceError(err).Kind)
}

func TestWeather_Fetch_NoStations(t *testing.T) {
	w := NewWeather(noaaCfg(), nil, &fakeFetcher{}, nil, noRetry)
	err := w.Fetch(context.Background(), testRange("2026-01-01", "2026-01-07"), nil)
	require.Error(t, err)
	assert.Equal(t, KindSchemaChange, AsSourceError(err).Kind)
}

func TestWeather_Fetch_MissingDateColumn(t *testing.T) {
	f := &fakeFetcher{get: func(string, map[string]string) (string, error) {
		return "STATION,TAVG\nST1,10\n", nil
	}}

	w := NewWeather(noaaCfg(), []config.Station{{ID: "ST1"}}, f, nil, noRetry)
	err := w.Fetch(context.Background(), testRange("2026-01-01", "2026-01-07"), nil)
	require.Error(t, err)
	assert.Equal(t, KindSchemaChange, AsSourceError(err).Kind)
}

func TestHDDFromTavgC(t *testing.T) {
	assert.InDelta(t, 42.0, hddFromTavgC(-5), 1e-9)
	assert.InDelta(t, 0.0, hddFromTavgC(30), 1e-9) // 86°F, no heating demand
	assert.InDelta(t, 33.0, hddFromTavgC(0), 1e-9)
}

func TestParseTenthsC(t *testing.T) {
	v := parseTenthsC("-50")
	require.NotNil(t, v)
	assert.InDelta(t, -5.0, *v, 1e-9)

	assert.Nil(t, parseTenthsC(""))
	assert.Nil(t, parseTenthsC("abc"))
}
