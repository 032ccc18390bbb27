package monitoring

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/gasrisk-cli/internal/config"
)

// Checker drives the alert loop inside the long-running commands. A daily
// pipeline that silently stops ingesting is worse than one that fails
// loudly, so the checker evaluates once at startup and then on a fixed
// interval for as long as the process lives.
type Checker struct {
	collector *Collector
	alerter   *Alerter
	cfg       config.MonitoringConfig
}

// NewChecker creates a background alert checker.
func NewChecker(collector *Collector, alerter *Alerter, cfg config.MonitoringConfig) *Checker {
	return &Checker{
		collector: collector,
		alerter:   alerter,
		cfg:       cfg,
	}
}

// Run blocks until ctx is cancelled, checking immediately and then once
// per configured interval.
func (c *Checker) Run(ctx context.Context) {
	interval := time.Duration(c.cfg.CheckIntervalSecs) * time.Second
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	log := zap.L().With(zap.String("component", "monitoring.checker"))
	log.Info("alert checker started",
		zap.Duration("interval", interval),
		zap.Int("lookback_hours", c.cfg.LookbackWindowHours),
	)

	// Stale sources should surface as soon as the daemon comes up, not
	// an interval later.
	c.check(ctx, log)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("alert checker stopped")
			return
		case <-ticker.C:
			c.check(ctx, log)
		}
	}
}

func (c *Checker) check(ctx context.Context, log *zap.Logger) {
	snap, err := c.collector.Collect(ctx, c.cfg.LookbackWindowHours)
	if err != nil {
		log.Error("collect ingestion metrics", zap.Error(err))
		return
	}

	alerts := c.alerter.Evaluate(snap)
	if len(alerts) == 0 {
		log.Debug("ingestion healthy, no alerts")
		return
	}

	sent := c.alerter.SendAlerts(ctx, alerts)
	log.Info("alert check finished",
		zap.Int("triggered", len(alerts)),
		zap.Int("sent", sent),
	)
}
