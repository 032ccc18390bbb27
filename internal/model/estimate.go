package model

import "time"

// RiskEstimate is one emitted shortfall-risk estimate. Immutable once
// appended to the estimate history.
type RiskEstimate struct {
	ID                   string    `json:"id"`
	AsOfDate             time.Time `json:"as_of_date"`
	HorizonDays          int       `json:"horizon_days"`
	ShortfallProbability float64   `json:"shortfall_probability"`
	CredibleLow          float64   `json:"credible_low"`
	CredibleHigh         float64   `json:"credible_high"`
	ModelVersion         string    `json:"model_version"`
	SnapshotID           string    `json:"snapshot_id"`
	LowConfidence        bool      `json:"low_confidence,omitempty"`
	CreatedAt            time.Time `json:"created_at"`
}
