package source

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/gasrisk-cli/internal/config"
	"github.com/sells-group/gasrisk-cli/internal/fetcher"
	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/resilience"
)

// hddBaseF is the heating-degree-day base temperature.
const hddBaseF = 65.0

// Weather ingests daily GHCN-D station observations for the corridor's
// configured stations. Temperatures in the access files are tenths of °C;
// TAVG falls back to the TMIN/TMAX midpoint. Natural key is station + date.
type Weather struct {
	cfg      config.NOAAConfig
	stations []config.Station
	f        fetcher.Fetcher
	ftp      *fetcher.FTPFetcher
	retry    resilience.RetryConfig
	now      func() time.Time
}

// NewWeather creates the weather adapter for the corridor's station list.
func NewWeather(cfg config.NOAAConfig, stations []config.Station, f fetcher.Fetcher, ftp *fetcher.FTPFetcher, retry resilience.RetryConfig) *Weather {
	retry.OnRetry = resilience.RetryLogger(string(model.SourceWeather), "fetch")
	return &Weather{cfg: cfg, stations: stations, f: f, ftp: ftp, retry: retry, now: time.Now}
}

func (w *Weather) Name() model.SourceID { return model.SourceWeather }
func (w *Weather) Cadence() Cadence     { return Daily }

func (w *Weather) ShouldRun(now time.Time, lastSuccess *time.Time) bool {
	return DailySchedule(now, lastSuccess)
}

func (w *Weather) Fetch(ctx context.Context, r model.DateRange, emit EmitFunc) error {
	log := zap.L().With(zap.String("source", string(w.Name())))
	if len(w.stations) == 0 {
		return SchemaChange(w.Name(), "no corridor stations configured")
	}

	fetched := 0
	emitted := 0
	var lastErr error

	for _, st := range w.stations {
		select {
		case <-ctx.Done():
			return NewSourceError(w.Name(), KindCancelled, ctx.Err())
		default:
		}

		data, err := resilience.DoVal(ctx, w.retry, func(ctx context.Context) ([]byte, error) {
			return w.downloadStation(ctx, st.ID)
		})
		if err != nil {
			// A single unknown or unreachable station is dropped from the
			// aggregate, not fatal for the source.
			log.Warn("station skipped", zap.String("station", st.ID), zap.Error(err))
			lastErr = err
			continue
		}
		fetched++

		n, err := w.emitStation(ctx, st.ID, data, r, emit)
		if err != nil {
			return err
		}
		emitted += n
	}

	if fetched == 0 {
		return Classify(w.Name(), ctx.Err(), lastErr)
	}

	log.Debug("weather fetch complete",
		zap.Int("stations", fetched),
		zap.Int("records", emitted),
	)
	return nil
}

// downloadStation pulls one station's access CSV, falling back to the NCEI
// FTP archive when the HTTP endpoint is down and a fallback is configured.
func (w *Weather) downloadStation(ctx context.Context, stationID string) ([]byte, error) {
	httpURL := fmt.Sprintf("%s/%s.csv", strings.TrimSuffix(w.cfg.BaseURL, "/"), stationID)

	body, err := w.f.Download(ctx, httpURL)
	if err == nil {
		defer body.Close() //nolint:errcheck
		return io.ReadAll(body)
	}

	var st *fetcher.StatusError
	notFound := errors.As(err, &st) && st.StatusCode == http.StatusNotFound
	if notFound || w.ftp == nil || w.cfg.FTPAddr == "" {
		return nil, err
	}

	ftpBody, ftpErr := w.ftp.Retrieve(ctx, w.cfg.FTPAddr, fmt.Sprintf("%s/%s.csv", w.cfg.FTPPath, stationID))
	if ftpErr != nil {
		return nil, err // surface the primary transport's failure
	}
	defer ftpBody.Close() //nolint:errcheck
	return io.ReadAll(ftpBody)
}

// emitStation parses one station file and emits the rows inside the range.
func (w *Weather) emitStation(ctx context.Context, stationID string, data []byte, r model.DateRange, emit EmitFunc) (int, error) {
	header, rows, err := fetcher.ReadCSV(strings.NewReader(string(data)), fetcher.CSVOptions{LazyQuotes: true})
	if err != nil {
		return 0, SchemaChange(w.Name(), "station %s file not parseable as csv: %v", stationID, err)
	}

	idx := fetcher.HeaderIndex(header)
	dateCol, ok := idx["date"]
	if !ok {
		return 0, SchemaChange(w.Name(), "station %s file missing DATE column, headers: %v", stationID, header)
	}
	tavgCol, hasTavg := idx["tavg"]
	tminCol, hasTmin := idx["tmin"]
	tmaxCol, hasTmax := idx["tmax"]
	if !hasTavg && !(hasTmin && hasTmax) {
		return 0, SchemaChange(w.Name(), "station %s file has no usable temperature columns", stationID)
	}

	fetchedAt := w.now().UTC()
	emitted := 0
	for _, row := range rows {
		day, err := time.Parse("2006-01-02", fetcher.Field(row, dateCol))
		if err != nil || !r.Contains(day) {
			continue
		}

		var tavg, tmin, tmax *float64
		if hasTavg {
			tavg = parseTenthsC(fetcher.Field(row, tavgCol))
		}
		if hasTmin {
			tmin = parseTenthsC(fetcher.Field(row, tminCol))
		}
		if hasTmax {
			tmax = parseTenthsC(fetcher.Field(row, tmaxCol))
		}
		if tavg == nil && tmin != nil && tmax != nil {
			mid := (*tmin + *tmax) / 2
			tavg = &mid
		}
		if tavg == nil {
			continue
		}

		hdd := hddFromTavgC(*tavg)
		payload, _ := json.Marshal(model.WeatherPayload{
			StationID: stationID,
			TavgC:     tavg,
			TminC:     tmin,
			TmaxC:     tmax,
			HDD:       &hdd,
		})

		rec := model.RawRecord{
			SourceID:   w.Name(),
			NaturalKey: fmt.Sprintf("%s:%s", stationID, day.Format("2006-01-02")),
			ObservedAt: model.DayOf(day),
			Payload:    payload,
			FetchedAt:  fetchedAt,
		}
		if err := emit(rec); err != nil {
			return emitted, Classify(w.Name(), ctx.Err(), err)
		}
		emitted++
	}

	return emitted, nil
}

// parseTenthsC converts a tenths-of-°C field to °C, nil for blanks.
func parseTenthsC(s string) *float64 {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	c := v / 10.0
	return &c
}

func cToF(c float64) float64 {
	return c*9.0/5.0 + 32.0
}

// hddFromTavgC computes heating degree days against the 65°F base.
func hddFromTavgC(tavgC float64) float64 {
	hdd := hddBaseF - cToF(tavgC)
	if hdd < 0 {
		return 0
	}
	return hdd
}
