package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sells-group/gasrisk-cli/internal/model"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show per-source sync state",
	Long: "Lists every configured source with its cadence, last successful " +
		"pull, and whether it is past the staleness threshold.",
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

		now := time.Now().UTC()
		threshold := time.Duration(cfg.Ingest.StalenessHours) * time.Hour

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "SOURCE\tCADENCE\tLAST SUCCESS\tRECORDS\tDUE\tSTALE")

		sources, err := reg.Select(nil)
		if err != nil {
			return err
		}
		for _, src := range sources {
			id := src.Name()
			last, err := st.LastSuccess(ctx, id)
			if err != nil {
				return err
			}
			count, err := st.CountRecords(ctx, id)
			if err != nil {
				return err
			}
			printSourceRow(w, id, string(src.Cadence()), last, count,
				src.ShouldRun(now, last), isStale(now, last, threshold))
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}

func isStale(now time.Time, last *time.Time, threshold time.Duration) bool {
	return last == nil || now.Sub(*last) > threshold
}

func printSourceRow(w io.Writer, id model.SourceID, cadence string, last *time.Time, count int64, due, stale bool) {
	lastStr := "never"
	if last != nil {
		lastStr = last.Format("2006-01-02 15:04")
	}
	_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
		id, cadence, lastStr, count, yesNo(due), yesNo(stale))
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return ""
}
