package main

import (
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gasrisk-cli/internal/feature"
	"github.com/sells-group/gasrisk-cli/internal/ingest"
	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/monitoring"
	"github.com/sells-group/gasrisk-cli/internal/risk"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run the daily ingest-then-score cycle on a cron schedule",
	Long: "Stays resident: at each cron tick it runs an ingestion pass over " +
		"due sources and, when ingestion produced usable data, emits a fresh " +
		"estimate. The staleness/failure-rate monitor runs alongside.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg, err := initRegistry()
		if err != nil {
			return err
		}
		engine := ingest.NewEngine(st, reg, cfg.Ingest)

		log := zap.L().With(zap.String("component", "scheduler"))

		cycle := func() {
			run, err := engine.Run(ctx, ingest.Options{
				Range: model.LastNDays(time.Now().UTC(), cfg.Ingest.DateRangeDays),
			})
			if err != nil {
				log.Error("scheduled ingest failed", zap.Error(err))
				return
			}
			if run.Status == model.RunStatusFailed {
				log.Error("scheduled ingest: every source failed, skipping score",
					zap.String("run_id", run.ID))
				return
			}

			window := model.LastNDays(time.Now().UTC(), cfg.Model.WindowDays)
			snap, err := feature.NewBuilder(st, cfg.Model).Build(ctx, window)
			if err != nil {
				log.Error("scheduled score: feature build failed", zap.Error(err))
				return
			}
			est, err := risk.New(cfg.Model).Estimate(ctx, snap)
			if err != nil {
				if eris.Is(err, risk.ErrInsufficientData) {
					log.Warn("scheduled score skipped: not enough history yet")
					return
				}
				log.Error("scheduled score failed", zap.Error(err))
				return
			}
			if err := st.AppendEstimate(ctx, *est); err != nil {
				log.Error("scheduled score: append estimate failed", zap.Error(err))
				return
			}
			log.Info("scheduled cycle complete",
				zap.String("run_id", run.ID),
				zap.String("estimate_id", est.ID),
				zap.Float64("probability", est.ShortfallProbability),
				zap.Bool("low_confidence", est.LowConfidence),
			)
		}

		c := cron.New()
		if _, err := c.AddFunc(cfg.Schedule.Cron, cycle); err != nil {
			return eris.Wrapf(err, "invalid cron spec %q", cfg.Schedule.Cron)
		}

		// Health monitoring runs alongside the cron loop.
		checker := monitoring.NewChecker(
			monitoring.NewCollector(st, cfg.Ingest.StalenessHours),
			monitoring.NewAlerter(cfg.Monitoring),
			cfg.Monitoring,
		)
		go checker.Run(ctx)

		if runNow, _ := cmd.Flags().GetBool("now"); runNow {
			go cycle()
		}

		log.Info("scheduler started", zap.String("cron", cfg.Schedule.Cron))
		c.Start()
		<-ctx.Done()

		log.Info("scheduler stopping, waiting for in-flight jobs")
		stopCtx := c.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(30 * time.Second):
			log.Warn("gave up waiting for in-flight jobs")
		}
		return nil
	},
}

func init() {
	scheduleCmd.Flags().Bool("now", false, "run one cycle immediately on startup")
	rootCmd.AddCommand(scheduleCmd)
}
