package monitoring

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gasrisk-cli/internal/config"
)

// AlertType identifies the kind of alert.
type AlertType string

const (
	AlertIngestFailureRate AlertType = "ingest_failure_rate"
	AlertSourceStale       AlertType = "source_stale"
	AlertLowConfidence     AlertType = "estimate_low_confidence"
)

// Alert represents a single alert to be sent.
type Alert struct {
	Type      AlertType      `json:"type"`
	Severity  string         `json:"severity"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Alerter evaluates a MetricsSnapshot against configured thresholds
// and sends alerts via webhook when thresholds are breached.
type Alerter struct {
	cfg    config.MonitoringConfig
	client *http.Client
}

// NewAlerter creates a new Alerter with the given monitoring config.
func NewAlerter(cfg config.MonitoringConfig) *Alerter {
	return &Alerter{
		cfg:    cfg,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

// Evaluate checks the snapshot against thresholds and returns any alerts.
func (a *Alerter) Evaluate(snap *MetricsSnapshot) []Alert {
	var alerts []Alert
	now := time.Now().UTC()

	// Run failure rate. A single bad run is noise; require a few
	// finished runs before judging the rate.
	if snap.RunsTotal >= 3 && snap.FailureRate > a.cfg.FailureRateThreshold {
		alerts = append(alerts, Alert{
			Type:     AlertIngestFailureRate,
			Severity: "high",
			Message: fmt.Sprintf(
				"Ingestion failure rate %.1f%% exceeds threshold %.1f%% (%d failed / %d finished in last %dh)",
				snap.FailureRate*100, a.cfg.FailureRateThreshold*100,
				snap.RunsFailed, snap.RunsTotal, snap.LookbackHours,
			),
			Details: map[string]any{
				"failure_rate": snap.FailureRate,
				"threshold":    a.cfg.FailureRateThreshold,
				"failed":       snap.RunsFailed,
				"finished":     snap.RunsTotal,
			},
			Timestamp: now,
		})
	}

	// Stale sources.
	if len(snap.StaleSources) > 0 {
		ids := make([]string, 0, len(snap.StaleSources))
		for _, s := range snap.StaleSources {
			ids = append(ids, string(s.SourceID))
		}
		alerts = append(alerts, Alert{
			Type:     AlertSourceStale,
			Severity: "high",
			Message: fmt.Sprintf(
				"%d source(s) past staleness threshold: %v",
				len(snap.StaleSources), ids,
			),
			Details: map[string]any{
				"stale_sources": snap.StaleSources,
			},
			Timestamp: now,
		})
	}

	// Low-confidence estimate.
	if snap.LatestEstimate != nil && snap.LatestEstimate.LowConfidence {
		alerts = append(alerts, Alert{
			Type:     AlertLowConfidence,
			Severity: "medium",
			Message: fmt.Sprintf(
				"Latest estimate (as of %s) is flagged low confidence",
				snap.LatestEstimate.AsOfDate.Format("2006-01-02"),
			),
			Details: map[string]any{
				"estimate_id":   snap.LatestEstimate.ID,
				"snapshot_id":   snap.LatestEstimate.SnapshotID,
				"model_version": snap.LatestEstimate.ModelVersion,
			},
			Timestamp: now,
		})
	}

	return alerts
}

// SendAlerts delivers alerts to the configured webhook URL.
// Returns the number of alerts successfully sent.
func (a *Alerter) SendAlerts(ctx context.Context, alerts []Alert) int {
	if a.cfg.WebhookURL == "" || len(alerts) == 0 {
		return 0
	}

	sent := 0
	for _, alert := range alerts {
		if err := a.sendWebhook(ctx, alert); err != nil {
			zap.L().Error("monitoring: failed to send alert",
				zap.String("type", string(alert.Type)),
				zap.Error(err),
			)
			continue
		}
		zap.L().Info("monitoring: alert sent",
			zap.String("type", string(alert.Type)),
			zap.String("severity", alert.Severity),
		)
		sent++
	}
	return sent
}

// sendWebhook posts a single alert to the webhook URL.
func (a *Alerter) sendWebhook(ctx context.Context, alert Alert) error {
	payload, err := json.Marshal(alert)
	if err != nil {
		return eris.Wrap(err, "monitoring: marshal alert")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.cfg.WebhookURL, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "monitoring: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "monitoring: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("monitoring: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
