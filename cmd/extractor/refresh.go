package main

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/extraction/internal/extraction"
)

var refreshFrequency string

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh the products of a processing frequency now",
	Long: `Re-execute every enabled product whose processing frequency matches,
replacing its tables. This is what serve runs on schedule.

Examples:
  extractor refresh --frequency DAILY`,
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		freq := extraction.Frequency(strings.ToUpper(refreshFrequency))
		return a.service.RefreshProducts(cmd.Context(), freq, cfg.Scheduler.Parallelism)
	},
}

func init() {
	refreshCmd.Flags().StringVar(&refreshFrequency, "frequency", string(extraction.FrequencyDaily), "DAILY, WEEKLY or MONTHLY")
}
