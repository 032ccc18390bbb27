package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var estimatesCmd = &cobra.Command{
	Use:   "estimates",
	Short: "Inspect the estimate history",
}

var estimatesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List emitted estimates, newest first",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		limit, _ := cmd.Flags().GetInt("limit")
		ests, err := st.ListEstimates(ctx, limit)
		if err != nil {
			return eris.Wrap(err, "estimates list")
		}
		if len(ests) == 0 {
			fmt.Fprintln(os.Stderr, "No estimates yet. Run `gasrisk score` first.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "AS OF\tHORIZON\tP(SHORTFALL)\tINTERVAL\tMODEL\tCONF")
		for _, e := range ests {
			conf := ""
			if e.LowConfidence {
				conf = "LOW"
			}
			_, _ = fmt.Fprintf(w, "%s\t%dd\t%.1f%%\t%.1f%%..%.1f%%\t%s\t%s\n",
				e.AsOfDate.Format("2006-01-02"), e.HorizonDays,
				e.ShortfallProbability*100, e.CredibleLow*100, e.CredibleHigh*100,
				e.ModelVersion, conf)
		}
		return w.Flush()
	},
}

var estimatesLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Print the most recent estimate as JSON",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		est, err := st.LatestEstimate(ctx)
		if err != nil {
			return eris.Wrap(err, "estimates latest")
		}
		if est == nil {
			return eris.New("no estimates yet; run `gasrisk score` first")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(est)
	},
}

func init() {
	estimatesListCmd.Flags().Int("limit", 30, "max number of estimates to display")
	estimatesCmd.AddCommand(estimatesListCmd)
	estimatesCmd.AddCommand(estimatesLatestCmd)
	rootCmd.AddCommand(estimatesCmd)
}
