// Package admin provides maintenance operations on the extraction database.
package admin

import (
	"context"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/extraction/internal/sqldb"
)

// workTable matches the tables created by executions:
// {ext|agg|p}_{sheet}_{execution id}_{random}. The execution id is the
// creation time in Unix milliseconds.
var workTable = regexp.MustCompile(`^(ext|agg|p)_[a-z0-9_]+_([0-9]+)_[0-9a-f]{8}$`)

// ReferencedTables returns the product tables that must be kept.
type ReferencedTables func(ctx context.Context) (map[string]bool, error)

// Sweeper drops execution tables left behind by a crash or a killed
// process: execution and aggregation tables older than the minimum age,
// and product tables no product references.
type Sweeper struct {
	db         *sqldb.DB
	referenced ReferencedTables
	minAge     time.Duration
	now        func() time.Time
}

// NewSweeper creates a sweeper. minAge must exceed the longest execution so
// that tables of running executions are never dropped.
func NewSweeper(db *sqldb.DB, referenced ReferencedTables, minAge time.Duration) *Sweeper {
	return &Sweeper{db: db, referenced: referenced, minAge: minAge, now: time.Now}
}

// SweepResult lists the tables a sweep dropped or failed to drop.
type SweepResult struct {
	Dropped []string
	Failed  []string
}

// Candidates returns the tables Sweep would drop.
func (s *Sweeper) Candidates(ctx context.Context) ([]string, error) {
	tables, err := sqldb.ListTables(ctx, s.db, s.db.Dialect)
	if err != nil {
		return nil, err
	}
	keep, err := s.referenced(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "load referenced product tables")
	}

	cutoff := s.now().Add(-s.minAge).UnixMilli()
	var stale []string
	for _, name := range tables {
		m := workTable.FindStringSubmatch(name)
		if m == nil || keep[name] {
			continue
		}
		created, err := strconv.ParseInt(m[2], 10, 64)
		if err != nil || created > cutoff {
			continue
		}
		stale = append(stale, name)
	}
	return stale, nil
}

// Sweep drops every candidate table. A failed drop does not stop the sweep;
// the error returned summarizes the failures.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	stale, err := s.Candidates(ctx)
	if err != nil {
		return nil, err
	}

	result := &SweepResult{}
	for _, table := range stale {
		if err := sqldb.DropTable(ctx, s.db, table); err != nil {
			slog.Error("sweep: drop failed", "table", table, "error", err)
			result.Failed = append(result.Failed, table)
			continue
		}
		result.Dropped = append(result.Dropped, table)
	}

	slog.Info("sweep completed", "dropped", len(result.Dropped), "failed", len(result.Failed))
	if len(result.Failed) > 0 {
		return result, errors.Newf("sweep: %d tables could not be dropped", len(result.Failed))
	}
	return result, nil
}
