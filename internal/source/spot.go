package source

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/gasrisk-cli/internal/config"
	"github.com/sells-group/gasrisk-cli/internal/fetcher"
	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/resilience"
)

// Spot ingests daily Henry Hub spot prices from the EIA open-data API.
type Spot struct {
	cfg   config.EIAConfig
	f     fetcher.Fetcher
	retry resilience.RetryConfig
	now   func() time.Time
}

// NewSpot creates the spot price adapter.
func NewSpot(cfg config.EIAConfig, f fetcher.Fetcher, retry resilience.RetryConfig) *Spot {
	retry.OnRetry = resilience.RetryLogger(string(model.SourceSpot), "fetch")
	return &Spot{cfg: cfg, f: f, retry: retry, now: time.Now}
}

func (s *Spot) Name() model.SourceID { return model.SourceSpot }
func (s *Spot) Cadence() Cadence     { return Daily }

func (s *Spot) ShouldRun(now time.Time, lastSuccess *time.Time) bool {
	return DailySchedule(now, lastSuccess)
}

func (s *Spot) Fetch(ctx context.Context, r model.DateRange, emit EmitFunc) error {
	log := zap.L().With(zap.String("source", string(s.Name())))

	obs, err := fetchEIASeries(ctx, s.Name(), s.f, s.cfg, s.retry, s.cfg.SpotSeries, r)
	if err != nil {
		return err
	}

	fetchedAt := s.now().UTC()
	emitted := 0
	for _, o := range obs {
		price, ok, err := eiaValue(o.Value)
		if err != nil {
			return SchemaChange(s.Name(), "eia spot value %q not numeric: %v", string(o.Value), err)
		}
		if !ok {
			continue // holiday / no-trade marker
		}

		day, err := parseEIADate(o.Period)
		if err != nil {
			return SchemaChange(s.Name(), "eia spot period %q: %v", o.Period, err)
		}
		if !r.Contains(day) {
			continue
		}

		payload, _ := json.Marshal(model.SpotPayload{
			Series:     s.cfg.SpotSeries,
			PriceMMBtu: price,
			Units:      o.Units,
		})
		rec := model.RawRecord{
			SourceID:   s.Name(),
			NaturalKey: fmt.Sprintf("%s:%s", s.cfg.SpotSeries, day.Format("2006-01-02")),
			ObservedAt: day,
			Payload:    payload,
			FetchedAt:  fetchedAt,
		}
		if err := emit(rec); err != nil {
			return Classify(s.Name(), ctx.Err(), err)
		}
		emitted++
	}

	log.Debug("spot fetch complete", zap.Int("records", emitted))
	return nil
}
