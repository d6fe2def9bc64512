package extraction_test

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/extraction/internal/config"
	"github.com/JonMunkholm/extraction/internal/extraction"
	"github.com/JonMunkholm/extraction/internal/extraction/formats"
	"github.com/JonMunkholm/extraction/internal/sqldb"
	"github.com/JonMunkholm/extraction/internal/store"
)

type fixture struct {
	db      *sqldb.DB
	service *extraction.Service
	cfg     *config.Config
}

func testConfig(t *testing.T) *config.Config {
	return &config.Config{
		Extraction: config.ExtractionConfig{
			OutputDir:        t.TempDir(),
			TempDir:          t.TempDir(),
			CSVSeparator:     ",",
			ExecutionTimeout: time.Minute,
			MaxConcurrent:    2,
			MaxWaitTime:      5 * time.Second,
			CleanupWorkers:   1,
			CleanupRetries:   1,
			CleanupBackoff:   10 * time.Millisecond,
			AwaitCleanup:     true,
			PreviewLimit:     1000,
			DefaultPageSize:  100,
		},
		Cache: config.CacheConfig{
			Size:       32,
			ShortTTL:   time.Minute,
			DefaultTTL: time.Minute,
			LongTTL:    time.Minute,
			TypeTTL:    time.Minute,
		},
		Scheduler: config.SchedulerConfig{Parallelism: 1},
	}
}

// newFixture opens a seeded SQLite database and wires the engine with the
// built-in formats and the product store.
func newFixture(t *testing.T, tweak ...func(*config.Config)) *fixture {
	t.Helper()
	ctx := context.Background()

	db, err := sqldb.OpenSQLite(filepath.Join(t.TempDir(), "extraction.db"))
	require.NoError(t, err)
	require.NoError(t, store.Migrate(ctx, db))
	require.NoError(t, store.Seed(ctx, db))

	cfg := testConfig(t)
	for _, fn := range tweak {
		fn(cfg)
	}

	reg := extraction.NewRegistry()
	formats.RegisterAll(reg, cfg.Extraction.PreviewLimit)
	svc := extraction.NewService(db, reg, store.NewProductStore(db), cfg)

	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Shutdown(shutdownCtx)
		db.Close()
	})
	return &fixture{db: db, service: svc, cfg: cfg}
}

// workTables lists execution tables still present (ext_, agg_ and p_ prefixes).
func (f *fixture) workTables(t *testing.T, prefixes ...string) []string {
	t.Helper()
	if len(prefixes) == 0 {
		prefixes = []string{"ext_", "agg_"}
	}
	rows, err := f.db.QueryContext(context.Background(), "SELECT name FROM sqlite_master WHERE type = 'table' ORDER BY name")
	require.NoError(t, err)
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		require.NoError(t, rows.Scan(&name))
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				names = append(names, name)
				break
			}
		}
	}
	require.NoError(t, rows.Err())
	return names
}

func rdb() *extraction.Type {
	return &extraction.Type{Kind: extraction.KindLive, Format: "RDB"}
}

func aggRDB() *extraction.Type {
	return &extraction.Type{Kind: extraction.KindAggregation, Format: "AGG_RDB"}
}

func year(y string) extraction.Criterion {
	return extraction.Criterion{Name: "year", Operator: "=", Value: y}
}

func columnNames(cols []extraction.ColumnMeta) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}
