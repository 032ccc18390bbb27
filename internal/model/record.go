package model

import (
	"encoding/json"
	"time"
)

// SourceID identifies one of the configured external data sources.
type SourceID string

const (
	SourceNotices  SourceID = "notices"
	SourceCapacity SourceID = "capacity"
	SourceSpot     SourceID = "spot"
	SourceStorage  SourceID = "storage"
	SourceWeather  SourceID = "weather"
)

// AllSources lists every configured source in a stable order.
func AllSources() []SourceID {
	return []SourceID{SourceNotices, SourceCapacity, SourceSpot, SourceStorage, SourceWeather}
}

// RawRecord is a single normalized observation from an external source.
// (SourceID, NaturalKey) is unique in the store; a re-fetch with the same
// key replaces the stored record only when FetchedAt is newer.
type RawRecord struct {
	SourceID   SourceID        `json:"source_id"`
	NaturalKey string          `json:"natural_key"`
	ObservedAt time.Time       `json:"observed_at"`
	Payload    json.RawMessage `json:"payload"`
	FetchedAt  time.Time       `json:"fetched_at"`
}

// DateRange is a closed interval of calendar days, UTC.
type DateRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the number of calendar days in the range, inclusive.
func (r DateRange) Days() int {
	return int(r.End.Sub(r.Start).Hours()/24) + 1
}

// Contains reports whether t falls on a day inside the range.
func (r DateRange) Contains(t time.Time) bool {
	d := DayOf(t)
	return !d.Before(DayOf(r.Start)) && !d.After(DayOf(r.End))
}

// LastNDays returns the range covering the n days ending at now's UTC date.
func LastNDays(now time.Time, n int) DateRange {
	end := DayOf(now)
	return DateRange{Start: end.AddDate(0, 0, -(n - 1)), End: end}
}

// DayOf truncates t to midnight UTC.
func DayOf(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// NoticePayload is the normalized payload for a pipeline notice record.
type NoticePayload struct {
	TSP         string     `json:"tsp"`
	NoticeID    string     `json:"notice_id"`
	Type        string     `json:"type"`
	Status      string     `json:"status"`
	Critical    bool       `json:"critical"`
	Subject     string     `json:"subject"`
	EffectiveAt *time.Time `json:"effective_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	PostedAt    *time.Time `json:"posted_at,omitempty"`
}

// CapacityPayload is one location row from an operationally-available
// capacity posting.
type CapacityPayload struct {
	Location      string  `json:"location"`
	PostingDate   string  `json:"posting_date"`
	DesignCap     float64 `json:"design_capacity"`
	OperatingCap  float64 `json:"operating_capacity"`
	ScheduledQty  float64 `json:"scheduled_qty"`
	AvailableQty  float64 `json:"available_qty"`
	FlowIndicator string  `json:"flow_indicator,omitempty"`
}

// Utilization returns scheduled quantity as a fraction of operating
// capacity, or 0 when operating capacity is unknown.
func (p CapacityPayload) Utilization() float64 {
	if p.OperatingCap <= 0 {
		return 0
	}
	u := p.ScheduledQty / p.OperatingCap
	if u < 0 {
		return 0
	}
	return u
}

// SpotPayload is a daily Henry Hub spot price observation.
type SpotPayload struct {
	Series     string  `json:"series"`
	PriceMMBtu float64 `json:"price_usd_per_mmbtu"`
	Units      string  `json:"units,omitempty"`
}

// StoragePayload is a weekly working-gas-in-storage observation.
type StoragePayload struct {
	Series        string  `json:"series"`
	Region        string  `json:"region"`
	WorkingGasBcf float64 `json:"working_gas_bcf"`
}

// WeatherPayload is one station-day temperature observation. Temperatures
// are °C; HDD uses a 65°F base.
type WeatherPayload struct {
	StationID string   `json:"station_id"`
	TavgC     *float64 `json:"tavg_c,omitempty"`
	TminC     *float64 `json:"tmin_c,omitempty"`
	TmaxC     *float64 `json:"tmax_c,omitempty"`
	HDD       *float64 `json:"hdd,omitempty"`
}
