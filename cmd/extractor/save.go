package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/extraction/internal/extraction"
)

var (
	saveType      typeFlags
	saveFilter    filterFlags
	saveStrata    strataFlags
	saveName      string
	saveLabel     string
	saveFrequency string
	deleteID      int64
)

var saveCmd = &cobra.Command{
	Use:   "save",
	Short: "Store an extraction as a product",
	Long: `Execute a format and keep its tables as a product. The product can be
read later without recomputation, and is refreshed on its processing
frequency by the serve command.

Examples:
  extractor save --format rdb -w "year = 2016" --name "RDB 2016" --frequency DAILY
  extractor save --format agg_rdb --sheet SL --tech species --product-label COD-2016`,
	RunE: runSave,
}

var deleteCmd = &cobra.Command{
	Use:   "delete",
	Short: "Delete a product and its tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		if deleteID <= 0 {
			return fmt.Errorf("--id must be a product id")
		}
		a, err := openApp(cmd.Context())
		if err != nil {
			return err
		}
		defer a.Close()

		if err := a.service.DeleteProduct(cmd.Context(), deleteID); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "product %d deleted\n", deleteID)
		return nil
	},
}

func init() {
	saveType.register(saveCmd)
	saveFilter.register(saveCmd)
	saveStrata.register(saveCmd)
	saveCmd.Flags().StringVar(&saveName, "name", "", "Product name")
	saveCmd.Flags().StringVar(&saveLabel, "product-label", "", "Product label (default: generated)")
	saveCmd.Flags().StringVar(&saveFrequency, "frequency", "", "Processing frequency: MANUALLY, DAILY, WEEKLY or MONTHLY")

	deleteCmd.Flags().Int64Var(&deleteID, "id", 0, "Product id")
}

func runSave(cmd *cobra.Command, args []string) error {
	example, err := saveType.example()
	if err != nil {
		return err
	}
	filter, err := saveFilter.filter()
	if err != nil {
		return err
	}

	a, err := openApp(cmd.Context())
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	product, err := a.service.ExecuteAndSave(ctx, example, filter, saveStrata.strata(filter.SheetName))
	if err != nil {
		return err
	}

	if saveName != "" || saveLabel != "" || saveFrequency != "" {
		if saveName != "" {
			product.Name = saveName
		}
		if saveLabel != "" {
			product.Label = strings.ToUpper(saveLabel)
		}
		if saveFrequency != "" {
			product.ProcessingFrequency = extraction.Frequency(strings.ToUpper(saveFrequency))
		}
		if product, err = a.service.SaveProduct(ctx, product); err != nil {
			return err
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "product %d saved as %s (%d tables)\n", product.ID, product.Label, len(product.Tables))
	return nil
}
