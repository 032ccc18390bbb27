package feature

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gasrisk-cli/internal/config"
	"github.com/sells-group/gasrisk-cli/internal/model"
)

// noticeLookbackDays widens the notices query so long-running notices
// posted before the frame window are still seen as active inside it.
const noticeLookbackDays = 60

// storageMaxFillDays bounds forward-fill of the weekly storage series; a
// staler observation is treated as missing rather than silently carried.
const storageMaxFillDays = 14

// RecordQuerier is the slice of the store the builder reads from.
type RecordQuerier interface {
	QueryRecords(ctx context.Context, sourceID model.SourceID, r model.DateRange) ([]model.RawRecord, error)
}

// Snapshot is an immutable feature frame: one row per day in Range. The
// ID is a content hash, so identical inputs always name the same
// snapshot in the estimate history.
type Snapshot struct {
	ID    string                 `json:"id"`
	Range model.DateRange        `json:"range"`
	Rows  []model.DailyFeatureRow `json:"rows"`
}

// Builder assembles daily feature rows from raw records.
type Builder struct {
	q   RecordQuerier
	cfg config.ModelConfig
}

// NewBuilder creates a feature builder.
func NewBuilder(q RecordQuerier, cfg config.ModelConfig) *Builder {
	return &Builder{q: q, cfg: cfg}
}

// Build produces the feature frame for the given day range.
func (b *Builder) Build(ctx context.Context, r model.DateRange) (*Snapshot, error) {
	log := zap.L().With(zap.String("component", "feature.builder"))

	sev, shortfall, hasNotices, err := b.noticeSignals(ctx, r)
	if err != nil {
		return nil, err
	}
	util, err := b.capacityUtilization(ctx, r)
	if err != nil {
		return nil, err
	}
	spot, err := b.spotPrices(ctx, r)
	if err != nil {
		return nil, err
	}
	storage, err := b.storageLevels(ctx, r)
	if err != nil {
		return nil, err
	}
	anomaly, err := b.weatherAnomalies(ctx, r)
	if err != nil {
		return nil, err
	}

	rows := make([]model.DailyFeatureRow, 0, r.Days())
	for day := model.DayOf(r.Start); !day.After(model.DayOf(r.End)); day = day.AddDate(0, 0, 1) {
		row := model.DailyFeatureRow{Date: day}

		if v, ok := util[day]; ok {
			row.CapacityUtilization = &v
		} else {
			row.Missing = append(row.Missing, model.ChannelCapacity)
		}

		if hasNotices {
			s := sev[day] // zero when nothing active, still an observation
			row.NoticeSeverity = &s
			active := shortfall[day]
			row.ShortfallEvent = &active
		} else {
			row.Missing = append(row.Missing, model.ChannelSeverity)
		}

		if v, ok := spot[day]; ok {
			row.SpotPrice = &v
		} else {
			row.Missing = append(row.Missing, model.ChannelSpot)
		}

		if lv, ok := storage.at(day); ok {
			row.StorageLevel = &lv.level
			if lv.filled {
				row.Filled = append(row.Filled, model.ChannelStorage)
			}
			if lv.delta != nil {
				row.StorageDelta = lv.delta
			}
		} else {
			row.Missing = append(row.Missing, model.ChannelStorage)
		}

		if v, ok := anomaly[day]; ok {
			row.WeatherAnomaly = &v
		} else {
			row.Missing = append(row.Missing, model.ChannelWeather)
		}

		rows = append(rows, row)
	}

	snap := &Snapshot{Range: r, Rows: rows}
	snap.ID = snapshotID(rows)

	log.Debug("feature frame built",
		zap.Int("days", len(rows)),
		zap.String("snapshot_id", snap.ID),
	)
	return snap, nil
}

// snapshotID hashes the frame content so reruns over unchanged records
// produce the same id.
func snapshotID(rows []model.DailyFeatureRow) string {
	raw, _ := json.Marshal(rows)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])[:16]
}

// noticeSignals expands notices into per-day max severity and the
// realized shortfall label (a critical notice active that day). The
// second map and severity are only meaningful when hasNotices is true:
// zero notices in the store means the channel is unobserved, not calm.
func (b *Builder) noticeSignals(ctx context.Context, r model.DateRange) (map[time.Time]float64, map[time.Time]bool, bool, error) {
	widened := model.DateRange{Start: r.Start.AddDate(0, 0, -noticeLookbackDays), End: r.End}
	recs, err := b.q.QueryRecords(ctx, model.SourceNotices, widened)
	if err != nil {
		return nil, nil, false, eris.Wrap(err, "feature: query notices")
	}

	sev := make(map[time.Time]float64)
	shortfall := make(map[time.Time]bool)
	for _, rec := range recs {
		var p model.NoticePayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			zap.L().Warn("skipping undecodable notice record",
				zap.String("natural_key", rec.NaturalKey), zap.Error(err))
			continue
		}
		start, end, ok := noticeWindow(p)
		if !ok {
			continue
		}
		score := NoticeSeverity(p)
		for day := start; !day.After(end); day = day.AddDate(0, 0, 1) {
			if !r.Contains(day) {
				continue
			}
			if score > sev[day] {
				sev[day] = score
			}
			if p.Critical {
				shortfall[day] = true
			}
		}
	}
	return sev, shortfall, len(recs) > 0, nil
}

// capacityUtilization computes the daily median scheduled/operating
// utilization across posting locations.
func (b *Builder) capacityUtilization(ctx context.Context, r model.DateRange) (map[time.Time]float64, error) {
	recs, err := b.q.QueryRecords(ctx, model.SourceCapacity, r)
	if err != nil {
		return nil, eris.Wrap(err, "feature: query capacity")
	}

	byDay := make(map[time.Time][]float64)
	for _, rec := range recs {
		var p model.CapacityPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			zap.L().Warn("skipping undecodable capacity record",
				zap.String("natural_key", rec.NaturalKey), zap.Error(err))
			continue
		}
		if p.OperatingCap <= 0 {
			continue
		}
		day := model.DayOf(rec.ObservedAt)
		byDay[day] = append(byDay[day], p.Utilization())
	}

	out := make(map[time.Time]float64, len(byDay))
	for day, vals := range byDay {
		out[day] = median(vals)
	}
	return out, nil
}

func (b *Builder) spotPrices(ctx context.Context, r model.DateRange) (map[time.Time]float64, error) {
	recs, err := b.q.QueryRecords(ctx, model.SourceSpot, r)
	if err != nil {
		return nil, eris.Wrap(err, "feature: query spot")
	}

	out := make(map[time.Time]float64, len(recs))
	for _, rec := range recs {
		var p model.SpotPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			zap.L().Warn("skipping undecodable spot record",
				zap.String("natural_key", rec.NaturalKey), zap.Error(err))
			continue
		}
		out[model.DayOf(rec.ObservedAt)] = p.PriceMMBtu
	}
	return out, nil
}

// storageSeries holds the weekly observations ordered by week ending.
type storageSeries struct {
	days   []time.Time
	levels []float64
}

type storageValue struct {
	level  float64
	delta  *float64
	filled bool
}

// at forward-fills the weekly series to the given day, bounded by
// storageMaxFillDays.
func (s storageSeries) at(day time.Time) (storageValue, bool) {
	idx := sort.Search(len(s.days), func(i int) bool { return s.days[i].After(day) }) - 1
	if idx < 0 {
		return storageValue{}, false
	}
	if day.Sub(s.days[idx]) > storageMaxFillDays*24*time.Hour {
		return storageValue{}, false
	}
	v := storageValue{level: s.levels[idx], filled: !s.days[idx].Equal(day)}
	if idx > 0 {
		d := s.levels[idx] - s.levels[idx-1]
		v.delta = &d
	}
	return v, true
}

func (b *Builder) storageLevels(ctx context.Context, r model.DateRange) (storageSeries, error) {
	widened := model.DateRange{Start: r.Start.AddDate(0, 0, -storageMaxFillDays), End: r.End}
	recs, err := b.q.QueryRecords(ctx, model.SourceStorage, widened)
	if err != nil {
		return storageSeries{}, eris.Wrap(err, "feature: query storage")
	}

	var s storageSeries
	for _, rec := range recs {
		var p model.StoragePayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			zap.L().Warn("skipping undecodable storage record",
				zap.String("natural_key", rec.NaturalKey), zap.Error(err))
			continue
		}
		// Records arrive ordered by observed_at.
		s.days = append(s.days, model.DayOf(rec.ObservedAt))
		s.levels = append(s.levels, p.WorkingGasBcf)
	}
	return s, nil
}

// weatherAnomalies computes the regional HDD anomaly per day: each
// station's deviation from its own trailing climatological baseline
// (same day-of-year ± window over the configured years), aggregated as
// the baseline-record-weighted mean. Stations without a valid baseline
// are dropped from the aggregate.
func (b *Builder) weatherAnomalies(ctx context.Context, r model.DateRange) (map[time.Time]float64, error) {
	baselineStart := r.Start.AddDate(-b.cfg.BaselineYears, 0, -b.cfg.BaselineWindowDays)
	recs, err := b.q.QueryRecords(ctx, model.SourceWeather, model.DateRange{Start: baselineStart, End: r.End})
	if err != nil {
		return nil, eris.Wrap(err, "feature: query weather")
	}

	// station -> day -> hdd
	hdd := make(map[string]map[time.Time]float64)
	for _, rec := range recs {
		var p model.WeatherPayload
		if err := json.Unmarshal(rec.Payload, &p); err != nil {
			zap.L().Warn("skipping undecodable weather record",
				zap.String("natural_key", rec.NaturalKey), zap.Error(err))
			continue
		}
		if p.HDD == nil {
			continue
		}
		day := model.DayOf(rec.ObservedAt)
		if hdd[p.StationID] == nil {
			hdd[p.StationID] = make(map[time.Time]float64)
		}
		hdd[p.StationID][day] = *p.HDD
	}

	out := make(map[time.Time]float64)
	for day := model.DayOf(r.Start); !day.After(model.DayOf(r.End)); day = day.AddDate(0, 0, 1) {
		var weightedSum, weightTotal float64
		for _, station := range sortedStations(hdd) {
			obs, ok := hdd[station][day]
			if !ok {
				continue
			}
			mean, count, years := b.stationBaseline(hdd[station], day)
			if years < b.cfg.MinBaselineYears {
				continue
			}
			w := float64(count)
			weightedSum += w * (obs - mean)
			weightTotal += w
		}
		if weightTotal > 0 {
			out[day] = weightedSum / weightTotal
		}
	}
	return out, nil
}

// stationBaseline averages a station's HDD over the same day-of-year ±
// window across the trailing baseline years. Returns the mean, the
// sample count, and how many distinct years contributed.
func (b *Builder) stationBaseline(obs map[time.Time]float64, day time.Time) (mean float64, count int, years int) {
	var sum float64
	for k := 1; k <= b.cfg.BaselineYears; k++ {
		center := day.AddDate(-k, 0, 0)
		yearHit := false
		for off := -b.cfg.BaselineWindowDays; off <= b.cfg.BaselineWindowDays; off++ {
			if v, ok := obs[center.AddDate(0, 0, off)]; ok {
				sum += v
				count++
				yearHit = true
			}
		}
		if yearHit {
			years++
		}
	}
	if count == 0 {
		return 0, 0, 0
	}
	return sum / float64(count), count, years
}

func sortedStations(m map[string]map[time.Time]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func median(vals []float64) float64 {
	sorted := append([]float64(nil), vals...)
	sort.Float64s(sorted)
	n := len(sorted)
	if n%2 == 1 {
		return sorted[n/2]
	}
	return (sorted[n/2-1] + sorted[n/2]) / 2
}
