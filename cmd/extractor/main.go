package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/JonMunkholm/extraction/internal/config"
	"github.com/JonMunkholm/extraction/internal/extraction"
	"github.com/JonMunkholm/extraction/internal/logging"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "extractor",
	Short: "Fisheries data extraction and aggregation",
	Long: `extractor materializes operational fishing data into exchange formats
(RDB, FREE), aggregates them by space, time and gear, and stores the results
as products refreshed on a schedule.

Examples:
  extractor migrate --seed                              # Create the schema and load sample data
  extractor types --category live                       # List available formats
  extractor read --format rdb --sheet HH -w "year = 2016"
  extractor dump --format free -w "year = 2016"         # Export a ZIP of CSV files
  extractor save --format agg_rdb --name "Cod 2016"     # Store an aggregation product
  extractor serve                                       # Run the refresh scheduler`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Overload lets a local .env win over the shell environment
		if err := godotenv.Overload(); err != nil {
			slog.Debug("no .env file found, using environment variables")
		}

		loaded, err := config.Load()
		if err != nil {
			return fmt.Errorf("load configuration: %w", err)
		}
		cfg = loaded
		// stdout carries command output
		logging.Setup(os.Stderr, cfg.Logging.Level, cfg.Logging.Format)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(typesCmd)
	rootCmd.AddCommand(readCmd)
	rootCmd.AddCommand(techCmd)
	rootCmd.AddCommand(dumpCmd)
	rootCmd.AddCommand(saveCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(sweepCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if extraction.IsUserFacing(err) {
			fmt.Fprintln(os.Stderr, extraction.FormatUserError(err))
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
