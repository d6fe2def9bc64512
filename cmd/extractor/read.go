package main

import (
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/extraction/internal/extraction"
)

var (
	readType   typeFlags
	readFilter filterFlags
	readStrata strataFlags
	readPage   struct {
		offset    int
		size      int
		sortBy    string
		direction string
	}
	readJSON bool
)

var readCmd = &cobra.Command{
	Use:   "read",
	Short: "Preview one page of an extraction",
	Long: `Execute a format in preview mode and print one page of a sheet.
Aggregations are read by space and time strata.

Examples:
  extractor read --format rdb --sheet HH -w "year = 2016"
  extractor read --format rdb --sheet SL --include species --size 10
  extractor read --format agg_rdb --sheet HH --space area --agg fishing_time`,
	RunE: runRead,
}

func init() {
	readType.register(readCmd)
	readFilter.register(readCmd)
	readStrata.register(readCmd)
	readCmd.Flags().IntVar(&readPage.offset, "offset", 0, "First row to return")
	readCmd.Flags().IntVar(&readPage.size, "size", 0, "Rows per page (default: EXTRACTION_PAGE_SIZE)")
	readCmd.Flags().StringVar(&readPage.sortBy, "sort", "", "Sort column")
	readCmd.Flags().StringVar(&readPage.direction, "direction", "asc", "Sort direction: asc or desc")
	readCmd.Flags().BoolVar(&readJSON, "json", false, "Print the result as JSON")
}

func runRead(cmd *cobra.Command, args []string) error {
	example, err := readType.example()
	if err != nil {
		return err
	}
	filter, err := readFilter.filter()
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.service.ExecuteAndRead(cmd.Context(), example, filter, readStrata.strata(filter.SheetName), &extraction.Page{
		Offset:        readPage.offset,
		Size:          readPage.size,
		SortBy:        readPage.sortBy,
		SortDirection: readPage.direction,
	})
	if err != nil {
		return err
	}

	if readJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	}
	return printResult(cmd, result)
}

func printResult(cmd *cobra.Command, result *extraction.Result) error {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	headers := make([]string, len(result.Columns))
	for i, c := range result.Columns {
		headers[i] = strings.ToUpper(c.Name)
	}
	fmt.Fprintln(w, strings.Join(headers, "\t"))

	cells := make([]string, len(result.Columns))
	for _, row := range result.Rows {
		for i, v := range row {
			if v == nil {
				cells[i] = ""
			} else {
				cells[i] = fmt.Sprint(v)
			}
		}
		fmt.Fprintln(w, strings.Join(cells, "\t"))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%d of %d rows\n", len(result.Rows), result.Total)
	if len(result.SpaceStrata) > 0 {
		fmt.Fprintf(cmd.OutOrStdout(), "space strata: %s\ntime strata: %s\ntech strata: %s\nmeasures: %s\n",
			strings.Join(result.SpaceStrata, ", "),
			strings.Join(result.TimeStrata, ", "),
			strings.Join(result.TechStrata, ", "),
			strings.Join(result.AggStrata, ", "))
	}
	return nil
}
