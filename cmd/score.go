package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gasrisk-cli/internal/feature"
	"github.com/sells-group/gasrisk-cli/internal/model"
	"github.com/sells-group/gasrisk-cli/internal/risk"
	"github.com/sells-group/gasrisk-cli/internal/store"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Build the feature frame and emit a shortfall-risk estimate",
	Long: "Assembles the daily feature frame over the model window, fits the " +
		"risk model, appends the estimate to the history, and prints it.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		asOf := time.Now().UTC()
		if s, _ := cmd.Flags().GetString("as-of"); s != "" {
			asOf, err = time.Parse("2006-01-02", s)
			if err != nil {
				return eris.Wrapf(err, "invalid --as-of %q", s)
			}
		}

		recent, err := st.ListRuns(ctx, store.RunFilter{Limit: 1})
		if err != nil {
			return err
		}
		if msg := staleIngestWarning(recent); msg != "" {
			zap.L().Warn(msg)
			fmt.Fprintf(os.Stderr, "WARNING: %s\n", msg)
		}

		r := model.LastNDays(asOf, cfg.Model.WindowDays)
		snap, err := feature.NewBuilder(st, cfg.Model).Build(ctx, r)
		if err != nil {
			return err
		}

		est, err := risk.New(cfg.Model).Estimate(ctx, snap)
		if err != nil {
			if eris.Is(err, risk.ErrInsufficientData) {
				return eris.Wrapf(err,
					"not enough ingested history in %s .. %s; run `gasrisk ingest` first",
					r.Start.Format("2006-01-02"), r.End.Format("2006-01-02"))
			}
			return err
		}

		dryRun, _ := cmd.Flags().GetBool("dry-run")
		if !dryRun {
			if err := st.AppendEstimate(ctx, *est); err != nil {
				return err
			}
		}

		if est.LowConfidence {
			zap.L().Warn("estimate flagged low confidence",
				zap.String("estimate_id", est.ID))
		}

		if asJSON, _ := cmd.Flags().GetBool("json"); asJSON {
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(est)
		}

		formatEstimate(os.Stdout, est)
		return nil
	},
}

func init() {
	scoreCmd.Flags().String("as-of", "", "score as of this date (YYYY-MM-DD, default today)")
	scoreCmd.Flags().Bool("json", false, "print the estimate as JSON")
	scoreCmd.Flags().Bool("dry-run", false, "compute without appending to the estimate history")
	rootCmd.AddCommand(scoreCmd)
}

// staleIngestWarning flags scoring on top of a pipeline that is not
// feeding the store: no runs recorded yet, or the most recent run failed
// for every source. The estimate still proceeds; the minimum-history
// refusal decides whether enough data survives.
func staleIngestWarning(runs []model.Run) string {
	if len(runs) == 0 {
		return "no ingestion runs recorded; run `gasrisk ingest` first"
	}
	if runs[0].Status == model.RunStatusFailed {
		return fmt.Sprintf("latest ingestion run %s (started %s) failed for every source; the feature frame may be stale",
			runs[0].ID, runs[0].StartedAt.Format("2006-01-02 15:04"))
	}
	return ""
}

func formatEstimate(out io.Writer, est *model.RiskEstimate) {
	fmt.Fprintf(out, "Shortfall probability (%dd horizon, as of %s): %.1f%%\n",
		est.HorizonDays, est.AsOfDate.Format("2006-01-02"), est.ShortfallProbability*100)
	fmt.Fprintf(out, "  credible interval: %.1f%% .. %.1f%%\n",
		est.CredibleLow*100, est.CredibleHigh*100)
	fmt.Fprintf(out, "  model %s, snapshot %s\n", est.ModelVersion, est.SnapshotID)
	if est.LowConfidence {
		fmt.Fprintln(out, "  WARNING: low confidence (sampler did not converge)")
	}
}
