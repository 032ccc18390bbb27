package model

import "time"

// Feature channel names used in DailyFeatureRow.Missing and by the risk
// model's likelihood assembly.
const (
	ChannelCapacity = "capacity_utilization"
	ChannelSeverity = "notice_severity"
	ChannelSpot     = "spot_price"
	ChannelStorage  = "storage_level"
	ChannelWeather  = "weather_anomaly"
)

// Channels lists the feature channels in the order the model consumes them.
func Channels() []string {
	return []string{ChannelCapacity, ChannelSeverity, ChannelSpot, ChannelStorage, ChannelWeather}
}

// DailyFeatureRow is one day of aligned corridor features. Derived from raw
// records and recomputable at any time; never authoritative.
type DailyFeatureRow struct {
	Date                time.Time `json:"date"`
	CapacityUtilization *float64  `json:"capacity_utilization,omitempty"`
	NoticeSeverity      *float64  `json:"notice_severity,omitempty"`
	SpotPrice           *float64  `json:"spot_price,omitempty"`
	StorageLevel        *float64  `json:"storage_level,omitempty"`
	StorageDelta        *float64  `json:"storage_delta,omitempty"`
	WeatherAnomaly      *float64  `json:"weather_anomaly,omitempty"`

	// Missing names channels with no usable observation for this day.
	Missing []string `json:"missing,omitempty"`
	// Filled names channels whose value was forward-filled from a prior day.
	Filled []string `json:"filled,omitempty"`

	// ShortfallEvent is the realized outcome label when known (backtests).
	ShortfallEvent *bool `json:"shortfall_event,omitempty"`
}

// Channel returns the value of the named channel, nil when unobserved.
func (r *DailyFeatureRow) Channel(name string) *float64 {
	switch name {
	case ChannelCapacity:
		return r.CapacityUtilization
	case ChannelSeverity:
		return r.NoticeSeverity
	case ChannelSpot:
		return r.SpotPrice
	case ChannelStorage:
		return r.StorageLevel
	case ChannelWeather:
		return r.WeatherAnomaly
	default:
		return nil
	}
}

// IsMissing reports whether the named channel is flagged missing.
func (r *DailyFeatureRow) IsMissing(name string) bool {
	for _, m := range r.Missing {
		if m == name {
			return true
		}
	}
	return false
}

// Observed counts channels with a usable value on this day.
func (r *DailyFeatureRow) Observed() int {
	n := 0
	for _, c := range Channels() {
		if r.Channel(c) != nil {
			n++
		}
	}
	return n
}
