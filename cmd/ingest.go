package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/gasrisk-cli/internal/ingest"
	"github.com/sells-group/gasrisk-cli/internal/model"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Run one ingestion pass over the configured sources",
	Long: "Fetches each due source for the requested date range, upserts the " +
		"normalized records, and records per-source outcomes in the run ledger. " +
		"Exits 0 when every attempted source succeeded, 2 when some did, and " +
		"non-zero on total failure.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		reg, err := initRegistry()
		if err != nil {
			return err
		}

		r, err := parseRangeFlags(cmd)
		if err != nil {
			return err
		}

		sources, _ := cmd.Flags().GetStringSlice("sources")
		force, _ := cmd.Flags().GetBool("force")
		dryRun, _ := cmd.Flags().GetBool("dry-run")

		engine := ingest.NewEngine(st, reg, cfg.Ingest)
		run, err := engine.Run(ctx, ingest.Options{
			Range:   r,
			Sources: sources,
			Force:   force,
			DryRun:  dryRun,
		})
		if err != nil {
			return err
		}

		formatRunSummary(os.Stdout, run)

		switch run.Status {
		case model.RunStatusFailed:
			return eris.Errorf("ingestion run %s failed", run.ID)
		case model.RunStatusPartial:
			exitCode = 2
		}
		return nil
	},
}

func init() {
	ingestCmd.Flags().Int("days", 0, "number of days to ingest, ending today (default from config)")
	ingestCmd.Flags().String("start", "", "range start (YYYY-MM-DD, overrides --days)")
	ingestCmd.Flags().String("end", "", "range end (YYYY-MM-DD, defaults to today)")
	ingestCmd.Flags().StringSlice("sources", nil, "restrict to specific sources (notices, capacity, spot, storage, weather)")
	ingestCmd.Flags().Bool("force", false, "run sources even when their cadence says they are not due")
	ingestCmd.Flags().Bool("dry-run", false, "fetch and validate without persisting records")
	rootCmd.AddCommand(ingestCmd)
}

// parseRangeFlags resolves --start/--end/--days into a day range.
func parseRangeFlags(cmd *cobra.Command) (model.DateRange, error) {
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	days, _ := cmd.Flags().GetInt("days")

	now := time.Now().UTC()

	if startStr != "" {
		start, err := time.Parse("2006-01-02", startStr)
		if err != nil {
			return model.DateRange{}, eris.Wrapf(err, "invalid --start %q", startStr)
		}
		end := model.DayOf(now)
		if endStr != "" {
			end, err = time.Parse("2006-01-02", endStr)
			if err != nil {
				return model.DateRange{}, eris.Wrapf(err, "invalid --end %q", endStr)
			}
		}
		if end.Before(start) {
			return model.DateRange{}, eris.Errorf("range end %s before start %s",
				end.Format("2006-01-02"), start.Format("2006-01-02"))
		}
		return model.DateRange{Start: model.DayOf(start), End: model.DayOf(end)}, nil
	}

	if endStr != "" {
		return model.DateRange{}, eris.New("--end requires --start")
	}
	if days <= 0 {
		days = cfg.Ingest.DateRangeDays
	}
	return model.LastNDays(now, days), nil
}

// formatRunSummary writes a per-source outcome table.
func formatRunSummary(out io.Writer, run *model.Run) {
	fmt.Fprintf(out, "Run %s: %s (%s .. %s)\n",
		truncateID(run.ID), run.Status,
		run.Range.Start.Format("2006-01-02"), run.Range.End.Format("2006-01-02"))

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "SOURCE\tOUTCOME\tRECORDS\tELAPSED\tERROR")
	for _, id := range model.AllSources() {
		st, ok := run.Sources[id]
		if !ok {
			continue
		}
		errMsg := st.Error
		if len(errMsg) > 60 {
			errMsg = errMsg[:57] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			id, st.Outcome, st.RecordCount, st.Elapsed.Round(time.Millisecond), errMsg)
	}
	_ = w.Flush()
}

// truncateID returns the first 8 characters of a UUID for compact display.
func truncateID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
