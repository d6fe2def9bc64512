package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/extraction/internal/admin"
)

var (
	sweepMinAge time.Duration
	sweepDryRun bool
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Drop tables left behind by interrupted executions",
	Long: `Drop execution and aggregation tables older than --min-age, and product
tables that no stored product references. Tables younger than --min-age may
belong to a running execution and are kept.

Examples:
  extractor sweep --dry-run        # List what would be dropped
  extractor sweep --min-age 48h`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		sweeper := a.sweeper(sweepMinAge)
		if sweepDryRun {
			tables, err := sweeper.Candidates(cmd.Context())
			if err != nil {
				return err
			}
			for _, t := range tables {
				fmt.Fprintln(cmd.OutOrStdout(), t)
			}
			return nil
		}

		result, err := sweeper.Sweep(cmd.Context())
		if result != nil {
			fmt.Fprintf(cmd.OutOrStdout(), "%d tables dropped\n", len(result.Dropped))
		}
		return err
	},
}

func init() {
	sweepCmd.Flags().DurationVar(&sweepMinAge, "min-age", 0, "Minimum table age (default: EXTRACTION_TIMEOUT)")
	sweepCmd.Flags().BoolVar(&sweepDryRun, "dry-run", false, "Only list the tables to drop")
}

// sweeper builds an admin.Sweeper. A zero minAge uses the execution
// timeout, the longest time an execution can hold its tables.
func (a *app) sweeper(minAge time.Duration) *admin.Sweeper {
	if minAge <= 0 {
		minAge = cfg.Extraction.ExecutionTimeout
	}
	return admin.NewSweeper(a.db, a.products.ReferencedTables, minAge)
}
