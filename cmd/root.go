package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/gasrisk-cli/internal/config"
)

var cfg *config.Config

// exitCode lets commands signal a non-zero exit without abandoning
// deferred cleanup. A partial ingestion run exits 2.
var exitCode int

var rootCmd = &cobra.Command{
	Use:   "gasrisk",
	Short: "Daily supply-shortfall risk pipeline for the Algonquin corridor",
	Long: "Ingests pipeline notices, capacity postings, spot prices, storage " +
		"reports, and station weather; builds a daily feature frame; and emits " +
		"a probabilistic supply-shortfall estimate for the corridor.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
	os.Exit(exitCode)
}
