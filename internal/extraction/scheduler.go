package extraction

// scheduler.go refreshes persisted products by processing frequency.
//
// Each frequency label (DAILY, WEEKLY, MONTHLY) has a cron expression. When
// it fires, every enabled product with that label is re-executed from its
// source with its stored filter, and its tables are swapped for the new
// ones. Failures are logged per product and never stop the scheduler.

import (
	"context"
	"log/slog"
	"slices"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/JonMunkholm/extraction/internal/config"
)

// RefreshProducts refreshes every enabled product whose processing
// frequency is freq, at most parallelism at a time. It returns an error
// summarizing the products that failed.
func (s *Service) RefreshProducts(ctx context.Context, freq Frequency, parallelism int) error {
	if s.products == nil {
		return errors.New("no product repository configured")
	}
	products, err := s.products.FindByFrequency(ctx, freq)
	if err != nil {
		return err
	}
	if parallelism <= 0 {
		parallelism = 1
	}

	start := time.Now()
	var failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(parallelism)
	for _, p := range products {
		if p.Status == StatusDisabled {
			continue
		}
		g.Go(func() error {
			if _, err := s.RefreshProduct(ctx, p); err != nil {
				failed.Add(1)
				slog.Error("product refresh failed", "product", p.Label, "id", p.ID, "error", err)
			}
			return nil
		})
	}
	_ = g.Wait()

	slog.Info("product refresh completed",
		"frequency", freq,
		"products", len(products),
		"failed", failed.Load(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if n := failed.Load(); n > 0 {
		return errors.Newf("%d of %d %s products failed to refresh", n, len(products), freq)
	}
	return nil
}

// RefreshProduct re-executes product p and replaces its tables. The old
// tables are dropped once the product record points to the new ones.
func (s *Service) RefreshProduct(ctx context.Context, p *Type) (*Type, error) {
	if !p.IsPersisted() {
		return nil, integrityf("%s is not a stored product", describe(p))
	}

	source := &Type{Kind: KindLive, Format: p.Format, Version: p.Version}
	if p.IsAggregation() {
		source = p.Clone()
	}
	filter := normalize(p.Filter, false)

	resolved, err := s.prepare(ctx, source, filter, nil)
	if err != nil {
		return nil, err
	}
	if resolved.IsAggregation() {
		// recompute instead of reading the stored tables
		resolved.Tables = nil
	}

	var tables []ProductTable
	var strata []Strata
	err = s.withSlot(ctx, func(ctx context.Context) error {
		ectx, err := s.execute(ctx, resolved, filter, nil)
		if errors.Is(err, ErrNoData) {
			return nil
		}
		if err != nil {
			return err
		}
		defer s.release(ctx, ectx)

		strata = ectx.AllStrata()
		tables, err = s.persistTables(ctx, ectx)
		return err
	})
	if err != nil {
		return nil, err
	}

	updated := p.Clone()
	updated.Tables = tables
	if len(updated.Strata) == 0 {
		updated.Strata = strata
	}
	updated.UpdateDate = time.Now()

	saved, err := s.products.Save(ctx, updated)
	if err != nil {
		s.dropTables(ctx, tables)
		return nil, err
	}
	s.dropTables(ctx, p.Tables)
	s.caches.InvalidateTypes()

	slog.Info("product refreshed", "product", p.Label, "tables", len(tables))
	return saved, nil
}

// Refresher runs RefreshProducts on a cron schedule per frequency.
type Refresher struct {
	service     *Service
	cron        *cron.Cron
	parallelism int
}

// NewRefresher schedules one job per frequency label of cfg. Empty
// expressions disable a label.
func NewRefresher(service *Service, cfg config.SchedulerConfig) (*Refresher, error) {
	r := &Refresher{
		service:     service,
		parallelism: cfg.Parallelism,
		cron: cron.New(
			cron.WithLogger(cronLogger{}),
			cron.WithChain(cron.SkipIfStillRunning(cronLogger{})),
		),
	}

	schedules := cfg.Schedules()
	labels := make([]string, 0, len(schedules))
	for label := range schedules {
		labels = append(labels, label)
	}
	slices.Sort(labels)

	for _, label := range labels {
		spec := schedules[label]
		if spec == "" {
			continue
		}
		freq := Frequency(label)
		if _, err := r.cron.AddFunc(spec, func() { r.run(freq) }); err != nil {
			return nil, errors.Wrapf(err, "invalid %s schedule %q", label, spec)
		}
	}
	return r, nil
}

// Start runs the scheduler until ctx is cancelled, then waits for running
// refreshes to finish.
func (r *Refresher) Start(ctx context.Context) {
	slog.Info("refresh scheduler started", "jobs", len(r.cron.Entries()), "parallelism", r.parallelism)
	r.cron.Start()

	<-ctx.Done()
	<-r.cron.Stop().Done()
	slog.Info("refresh scheduler stopped")
}

// RunNow refreshes the products of freq immediately.
func (r *Refresher) RunNow(ctx context.Context, freq Frequency) error {
	return r.service.RefreshProducts(ctx, freq, r.parallelism)
}

func (r *Refresher) run(freq Frequency) {
	slog.Debug("refresh job started", "frequency", freq)
	if err := r.RunNow(context.Background(), freq); err != nil {
		slog.Error("refresh job failed", "frequency", freq, "error", err)
	}
}

// Entries returns the number of scheduled jobs.
func (r *Refresher) Entries() int {
	return len(r.cron.Entries())
}

// cronLogger routes cron's logs to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
