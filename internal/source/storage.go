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

// Storage ingests weekly working-gas-in-storage levels from the EIA
// open-data API. The series is weekly; the feature builder forward-fills
// it to daily.
type Storage struct {
	cfg   config.EIAConfig
	f     fetcher.Fetcher
	retry resilience.RetryConfig
	now   func() time.Time
}

// NewStorage creates the storage level adapter.
func NewStorage(cfg config.EIAConfig, f fetcher.Fetcher, retry resilience.RetryConfig) *Storage {
	retry.OnRetry = resilience.RetryLogger(string(model.SourceStorage), "fetch")
	return &Storage{cfg: cfg, f: f, retry: retry, now: time.Now}
}

func (s *Storage) Name() model.SourceID { return model.SourceStorage }
func (s *Storage) Cadence() Cadence     { return Weekly }

func (s *Storage) ShouldRun(now time.Time, lastSuccess *time.Time) bool {
	return WeeklySchedule(now, lastSuccess)
}

func (s *Storage) Fetch(ctx context.Context, r model.DateRange, emit EmitFunc) error {
	log := zap.L().With(zap.String("source", string(s.Name())))

	// Widen the query so the most recent report before the range start is
	// always present; forward-fill needs a prior observation.
	widened := model.DateRange{Start: r.Start.AddDate(0, 0, -14), End: r.End}

	obs, err := fetchEIASeries(ctx, s.Name(), s.f, s.cfg, s.retry, s.cfg.StorageSeries, widened)
	if err != nil {
		return err
	}

	fetchedAt := s.now().UTC()
	emitted := 0
	for _, o := range obs {
		bcf, ok, err := eiaValue(o.Value)
		if err != nil {
			return SchemaChange(s.Name(), "eia storage value %q not numeric: %v", string(o.Value), err)
		}
		if !ok {
			continue
		}

		weekEnding, err := parseEIADate(o.Period)
		if err != nil {
			return SchemaChange(s.Name(), "eia storage period %q: %v", o.Period, err)
		}

		payload, _ := json.Marshal(model.StoragePayload{
			Series:        s.cfg.StorageSeries,
			Region:        s.cfg.StorageRegion,
			WorkingGasBcf: bcf,
		})
		rec := model.RawRecord{
			SourceID:   s.Name(),
			NaturalKey: fmt.Sprintf("%s:%s", s.cfg.StorageSeries, weekEnding.Format("2006-01-02")),
			ObservedAt: weekEnding,
			Payload:    payload,
			FetchedAt:  fetchedAt,
		}
		if err := emit(rec); err != nil {
			return Classify(s.Name(), ctx.Err(), err)
		}
		emitted++
	}

	log.Debug("storage fetch complete", zap.Int("records", emitted))
	return nil
}
