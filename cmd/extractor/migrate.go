package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/extraction/internal/store"
)

var migrateSeed bool

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the product and operational schema",
	Long: `Apply the embedded schema files for the configured database driver.
Statements are idempotent, so migrate can run on every deployment.

With --seed, a small set of trips, stations and species lists is loaded
for trying out the formats.`,
	RunE: runMigrate,
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateSeed, "seed", false, "Load sample operational data")
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	db, err := openDB(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	if err := store.Migrate(ctx, db); err != nil {
		return err
	}
	slog.Info("schema migrated", "driver", db.Dialect.Name)

	if migrateSeed {
		if err := store.Seed(ctx, db); err != nil {
			return err
		}
		slog.Info("sample data loaded")
	}
	return nil
}
