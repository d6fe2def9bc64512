package main

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/extraction/internal/extraction"
)

var typesFlags struct {
	category  string
	format    string
	status    []string
	frequency string
	search    string
}

var typesCmd = &cobra.Command{
	Use:   "types",
	Short: "List extraction formats and products",
	Long: `List the built-in formats and the stored products, optionally
restricted by category, format, status, frequency or a search text.

Examples:
  extractor types                          # Everything
  extractor types --category product       # Stored products only
  extractor types --search cod             # Label or name containing "cod"`,
	RunE: runTypes,
}

func init() {
	typesCmd.Flags().StringVar(&typesFlags.category, "category", "", "live, product or aggregation")
	typesCmd.Flags().StringVar(&typesFlags.format, "format", "", "Format name")
	typesCmd.Flags().StringSliceVar(&typesFlags.status, "status", nil, "Product statuses (ENABLED, DISABLED)")
	typesCmd.Flags().StringVar(&typesFlags.frequency, "frequency", "", "Processing frequency")
	typesCmd.Flags().StringVar(&typesFlags.search, "search", "", "Text searched in labels and names")
}

func runTypes(cmd *cobra.Command, args []string) error {
	kind, err := extraction.ParseKind(typesFlags.category)
	if err != nil {
		return err
	}
	filter := extraction.TypeFilter{
		Kind:       kind,
		Format:     typesFlags.format,
		Frequency:  extraction.Frequency(strings.ToUpper(typesFlags.frequency)),
		SearchText: typesFlags.search,
	}
	for _, s := range typesFlags.status {
		filter.Statuses = append(filter.Statuses, extraction.Status(strings.ToUpper(s)))
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	types, err := a.service.Resolver().FindTypes(cmd.Context(), filter)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tCATEGORY\tLABEL\tFORMAT\tVERSION\tNAME\tFREQUENCY\tSTATUS")
	for _, t := range types {
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			t.ID, t.Kind, t.Label, t.Format, t.Version, t.Name, t.ProcessingFrequency, t.Status)
	}
	return w.Flush()
}
