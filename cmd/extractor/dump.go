package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	dumpType   typeFlags
	dumpFilter filterFlags
	dumpStrata strataFlags
)

var dumpCmd = &cobra.Command{
	Use:   "dump",
	Short: "Export an extraction as CSV or ZIP",
	Long: `Execute a format and write its sheets to EXTRACTION_OUTPUT_DIR.
A single sheet is written as one CSV file, several sheets as a ZIP archive
with one CSV file per sheet. Hidden columns are never exported.

Examples:
  extractor dump --format rdb -w "year = 2016"
  extractor dump --format free --sheet TRIP --exclude landing_location`,
	RunE: runDump,
}

func init() {
	dumpType.register(dumpCmd)
	dumpFilter.register(dumpCmd)
	dumpStrata.register(dumpCmd)
}

func runDump(cmd *cobra.Command, args []string) error {
	example, err := dumpType.example()
	if err != nil {
		return err
	}
	filter, err := dumpFilter.filter()
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	path, err := a.service.ExecuteAndDump(cmd.Context(), example, filter, dumpStrata.strata(filter.SheetName))
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
