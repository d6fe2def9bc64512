package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

var (
	techType   typeFlags
	techFilter filterFlags
	techStrata strataFlags
	techSort   string
	techDir    string
	techMinMax bool
)

var techCmd = &cobra.Command{
	Use:   "tech",
	Short: "Aggregate a measure by technical stratum",
	Long: `Read an aggregation grouped by its technical column (gear, species,
vessel type), or print the bounds of its measure with --minmax.

Examples:
  extractor tech --format agg_rdb --sheet HH
  extractor tech --format agg_rdb --sheet SL --tech species --sort value --direction desc
  extractor tech --label COD-2016 --sheet SL --minmax`,
	RunE: runTech,
}

func init() {
	techType.register(techCmd)
	techFilter.register(techCmd)
	techStrata.register(techCmd)
	techCmd.Flags().StringVar(&techSort, "sort", "", "Sort by key or value (default: key)")
	techCmd.Flags().StringVar(&techDir, "direction", "asc", "Sort direction: asc or desc")
	techCmd.Flags().BoolVar(&techMinMax, "minmax", false, "Print the bounds of the measure instead")
}

func runTech(cmd *cobra.Command, args []string) error {
	example, err := techType.example()
	if err != nil {
		return err
	}
	filter, err := techFilter.filter()
	if err != nil {
		return err
	}
	strata := techStrata.strata(filter.SheetName)

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	if techMinMax {
		mm, err := a.service.GetTechMinMax(cmd.Context(), example, filter, strata)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "min: %g\nmax: %g\n", mm.Min, mm.Max)
		return nil
	}

	result, err := a.service.ReadByTech(cmd.Context(), example, filter, strata, techSort, techDir)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	for _, k := range result.Keys {
		fmt.Fprintf(w, "%s\t%g\n", k, result.Data[k])
	}
	return w.Flush()
}
