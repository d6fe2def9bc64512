package extraction

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/extraction/internal/config"
	"github.com/JonMunkholm/extraction/internal/logging"
	"github.com/JonMunkholm/extraction/internal/sqldb"
)

// Service drives extractions: it resolves types, executes them into
// tables, reads, saves or dumps the result and releases the tables.
type Service struct {
	db         *sqldb.DB
	registry   *Registry
	resolver   *Resolver
	products   ProductRepository
	caches     *Caches
	tables     *Tables
	aggregator *Aggregator
	cleanup    *CleanupPool
	limiter    *ExecutionLimiter
	cfg        config.ExtractionConfig

	lastID atomic.Int64
}

// NewService wires the engine. products may be nil when products are not
// used (live extractions only).
func NewService(db *sqldb.DB, registry *Registry, products ProductRepository, cfg *config.Config) *Service {
	caches := NewCaches(cfg.Cache)
	ext := cfg.Extraction
	if ext.ExecutionTimeout <= 0 {
		ext.ExecutionTimeout = 24 * time.Hour
	}

	return &Service{
		db:         db,
		registry:   registry,
		resolver:   NewResolver(registry, products, caches),
		products:   products,
		caches:     caches,
		tables:     NewTables(db, registry, ext),
		aggregator: NewAggregator(db, registry, ext),
		cleanup:    NewCleanupPool(db, ext.CleanupWorkers, ext.CleanupRetries, ext.CleanupBackoff),
		limiter:    NewExecutionLimiter(ext.MaxConcurrent, ext.MaxWaitTime),
		cfg:        ext,
	}
}

func (s *Service) Resolver() *Resolver { return s.resolver }
func (s *Service) Registry() *Registry { return s.registry }
func (s *Service) Caches() *Caches { return s.caches }
func (s *Service) Tables() *Tables { return s.tables }
func (s *Service) Aggregator() *Aggregator { return s.aggregator }
func (s *Service) Limiter() *ExecutionLimiter { return s.limiter }
func (s *Service) CleanupPool() *CleanupPool { return s.cleanup }

// nextID returns a unique, increasing execution id based on the clock.
func (s *Service) nextID() int64 {
	for {
		last := s.lastID.Load()
		id := time.Now().UnixMilli()
		if id <= last {
			id = last + 1
		}
		if s.lastID.CompareAndSwap(last, id) {
			return id
		}
	}
}

// normalize copies filter (nil becomes empty) and sets its preview flag.
func normalize(filter *Filter, preview bool) *Filter {
	f := filter.Clone()
	f.Preview = preview
	return f
}

// prepare validates the request and resolves the type with its whole parent
// chain. It does everything that can fail before any table is created.
func (s *Service) prepare(ctx context.Context, t *Type, filter *Filter, strata *Strata) (*Type, error) {
	if err := validateFilter(filter); err != nil {
		return nil, err
	}
	resolved, err := s.resolver.resolveChain(ctx, t)
	if err != nil {
		return nil, err
	}
	if strata != nil {
		if !resolved.IsAggregation() {
			return nil, integrityf("strata given for %s, which is not an aggregation", resolved.Label)
		}
		if err := s.aggregator.ValidateStrata(resolved.Format, resolved.Version, strata); err != nil {
			return nil, err
		}
	}
	return resolved, nil
}

// withSlot runs fn holding an execution slot, under the execution timeout.
func (s *Service) withSlot(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := s.limiter.Acquire(ctx); err != nil {
		return err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.cfg.ExecutionTimeout)
	defer cancel()
	return fn(ctx)
}

// Execute resolves t and materializes it. The caller owns the returned
// context and must release it with Clean.
func (s *Service) Execute(ctx context.Context, t *Type, filter *Filter, strata *Strata) (*Context, error) {
	filter = normalize(filter, false)
	resolved, err := s.prepare(ctx, t, filter, strata)
	if err != nil {
		return nil, err
	}

	var ectx *Context
	err = s.withSlot(ctx, func(ctx context.Context) error {
		var err error
		ectx, err = s.execute(ctx, resolved, filter, strata)
		return err
	})
	return ectx, err
}

// execute runs a resolved type. Stored products are wrapped without any
// computation; everything else runs in a single transaction that is
// committed before returning.
func (s *Service) execute(ctx context.Context, t *Type, filter *Filter, strata *Strata) (*Context, error) {
	if t.IsPersisted() && len(t.Tables) > 0 {
		return contextFromProduct(t), nil
	}
	if t.Kind == KindProduct {
		return nil, noDataf("product %s has no table", t.Label)
	}

	ectx := NewContext(s.nextID(), t)
	ctx = logging.ContextWith(ctx, "execution_id", ectx.ID, "format", t.Format, "version", t.Version)
	log := logging.FromContext(ctx)
	start := time.Now()
	log.Debug("execution started", "kind", t.Kind, "preview", filter.Preview)

	err := sqldb.WithTransaction(ctx, s.db.DB, sql.LevelDefault, func(tx *sql.Tx) error {
		return s.executeIn(ctx, tx, t, filter, strata, ectx)
	})
	if err != nil {
		// the rollback removed what the transaction created; drop anyway
		s.release(ctx, ectx)
		if errors.Is(err, context.DeadlineExceeded) {
			log.Error("execution timed out", "timeout", s.cfg.ExecutionTimeout)
		}
		return nil, err
	}

	log.Info("execution completed",
		"sheets", strings.Join(ectx.SheetNames(), ","),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	return ectx, nil
}

func (s *Service) executeIn(ctx context.Context, tx *sql.Tx, t *Type, filter *Filter, strata *Strata, ectx *Context) error {
	switch {
	case t.IsAggregation():
		format, ok := s.registry.AggregationFormat(t.Format, t.Version)
		if !ok {
			return notFoundf("unknown aggregation format %s-%s", t.Format, t.Version)
		}
		parent := t.Parent
		if parent == nil {
			return integrityf("aggregation %s has no source", t.Label)
		}
		ectx.Parent = parent

		var source *Context
		if parent.IsPersisted() && len(parent.Tables) > 0 {
			source = contextFromProduct(parent)
		} else {
			// ad-hoc product: lives as long as the aggregation context
			source = NewContext(s.nextID(), parent)
			ectx.setSource(source)
			// the source is aggregated in full; only the final read is capped
			sourceFilter := filter.Clone()
			sourceFilter.Preview = false
			if err := s.executeIn(ctx, tx, parent, sourceFilter, nil, source); err != nil {
				return err
			}
		}
		return s.aggregator.Aggregate(ctx, tx, format, source, filter, strata, ectx)

	case t.Kind == KindLive:
		exec, ok := s.registry.Executor(t.Format, t.Version)
		if !ok {
			return notFoundf("no executor for live format %s-%s", t.Format, t.Version)
		}
		return exec.Execute(ctx, tx, s.db.Dialect, ectx, filter)

	default:
		if t.IsPersisted() && len(t.Tables) > 0 {
			return integrityf("product %s cannot be re-executed in place", t.Label)
		}
		return noDataf("product %s has no table", t.Label)
	}
}

// Clean releases ectx and its source context. Safe to call more than once
// and from any goroutine; Wait on the handle for a deterministic teardown.
func (s *Service) Clean(ectx *Context) *CleanupHandle {
	if ectx == nil {
		return completedHandle()
	}
	return s.cleanup.Submit(ectx)
}

// release cleans ectx and, when configured, waits for it. Cleanup errors
// are logged only.
func (s *Service) release(ctx context.Context, ectx *Context) {
	h := s.Clean(ectx)
	if !s.cfg.AwaitCleanup {
		return
	}
	if err := h.Wait(context.WithoutCancel(ctx)); err != nil {
		logging.FromContext(ctx).Warn("cleanup incomplete", "execution_id", ectx.ID, "error", err)
	}
}

// sheetsOf returns the sheets t is expected to produce.
func (s *Service) sheetsOf(t *Type) []string {
	switch {
	case t.IsPersisted() && len(t.Tables) > 0:
		return t.SheetNames()
	case t.Kind == KindLive:
		if exec, ok := s.registry.Executor(t.Format, t.Version); ok {
			return exec.Sheets()
		}
	case t.IsAggregation():
		if f, ok := s.registry.AggregationFormat(t.Format, t.Version); ok {
			names := make([]string, len(f.Sheets))
			for i, sh := range f.Sheets {
				names[i] = sh.Name
			}
			return names
		}
	}
	return nil
}

// Read returns one page of the sheet named by filter. A multi-sheet live or
// product context requires a sheet name. An aggregation context lacking the
// sheet yields an empty result, any other context ErrNoData.
func (s *Service) Read(ctx context.Context, ectx *Context, filter *Filter, page *Page) (*Result, error) {
	if filter == nil {
		filter = &Filter{}
	}
	sheet := filter.SheetName
	if sheet == "" {
		sheets := ectx.SheetNames()
		switch {
		case len(sheets) > 1 && !ectx.IsAggregation():
			return nil, integrityf("sheet name required, %s has sheets %s", ectx.Format, strings.Join(sheets, ", "))
		case len(sheets) == 0 && ectx.IsAggregation():
			return emptyResult(), nil
		case len(sheets) == 0:
			return nil, noDataf("no table in %s", ectx.Format)
		}
		sheet = sheets[0]
	}

	table, ok := ectx.TableBySheet(sheet)
	if !ok {
		if ectx.IsAggregation() {
			return emptyResult(), nil
		}
		return nil, noDataf("no table for sheet %s", sheet)
	}
	return s.tables.ReadTable(ctx, ectx, table, filter, page)
}

// ExecuteAndRead executes t in preview mode, reads one page and releases the
// tables, whether the read succeeded or not. Aggregations are read by space;
// an aggregation without data yields an empty result.
func (s *Service) ExecuteAndRead(ctx context.Context, t *Type, filter *Filter, strata *Strata, page *Page) (*Result, error) {
	filter = normalize(filter, true)
	resolved, err := s.prepare(ctx, t, filter, strata)
	if err != nil {
		return nil, err
	}
	if !resolved.IsAggregation() && filter.SheetName == "" {
		if sheets := s.sheetsOf(resolved); len(sheets) > 1 {
			return nil, integrityf("sheet name required, %s has sheets %s", resolved.Label, strings.Join(sheets, ", "))
		}
	}

	var result *Result
	err = s.withSlot(ctx, func(ctx context.Context) error {
		ectx, err := s.execute(ctx, resolved, filter, strata)
		if err != nil {
			if resolved.IsAggregation() && errors.Is(err, ErrNoData) {
				result = emptyResult()
				return nil
			}
			return err
		}
		defer s.release(ctx, ectx)

		if ectx.IsAggregation() {
			result, err = s.aggregator.ReadBySpace(ctx, ectx, filter, strata, page)
		} else {
			result, err = s.Read(ctx, ectx, filter, page)
		}
		return err
	})
	return result, err
}

// ExecuteAndReadCached is ExecuteAndRead behind the result cache partition
// ttl. Only successful reads are cached.
func (s *Service) ExecuteAndReadCached(ctx context.Context, t *Type, filter *Filter, strata *Strata, page *Page, ttl TTLClass) (*Result, error) {
	resolved, err := s.resolver.GetByExample(ctx, t, FetchOptions{WithTables: true})
	if err != nil {
		return nil, err
	}
	key := CacheKey(resolved, normalize(filter, true), page, strata)
	return WithCache(s.caches, ttl, key, func() (*Result, error) {
		return s.ExecuteAndRead(ctx, resolved, filter, strata, page)
	})
}

// ExecuteAndDump executes t and exports the result (see Tables.DumpToFile).
// "No data" is returned as an error marked ErrNoData.
func (s *Service) ExecuteAndDump(ctx context.Context, t *Type, filter *Filter, strata *Strata) (string, error) {
	filter = normalize(filter, false)
	resolved, err := s.prepare(ctx, t, filter, strata)
	if err != nil {
		return "", err
	}

	var path string
	err = s.withSlot(ctx, func(ctx context.Context) error {
		ectx, err := s.execute(ctx, resolved, filter, strata)
		if err != nil {
			return err
		}
		defer s.release(ctx, ectx)

		path, err = s.tables.DumpToFile(ctx, ectx, filter)
		return err
	})
	if err == nil {
		logging.FromContext(ctx).Info("extraction dumped", "format", resolved.Format, "file", path)
	}
	return path, err
}

// ExecuteAndSave executes t and stores the result as a new product. The
// produced tables are renamed to product tables. When the execution yields
// no data an empty product is saved.
func (s *Service) ExecuteAndSave(ctx context.Context, t *Type, filter *Filter, strata *Strata) (*Type, error) {
	if s.products == nil {
		return nil, errors.New("no product repository configured")
	}
	filter = normalize(filter, false)
	resolved, err := s.prepare(ctx, t, filter, strata)
	if err != nil {
		return nil, err
	}
	if resolved.IsPersisted() {
		return nil, integrityf("%s is already a product, refresh it instead", resolved.Label)
	}

	product := &Type{
		Kind:                KindProduct,
		Format:              resolved.Format,
		Version:             resolved.Version,
		Name:                t.Name,
		Filter:              filter,
		ProcessingFrequency: FrequencyManual,
		Status:              StatusEnabled,
	}
	if resolved.IsAggregation() {
		product.Kind = KindAggregation
		product.ParentID = resolved.ParentID
	}

	err = s.withSlot(ctx, func(ctx context.Context) error {
		ectx, err := s.execute(ctx, resolved, filter, strata)
		if errors.Is(err, ErrNoData) {
			logging.FromContext(ctx).Info("no data, saving empty product", "format", resolved.Format)
			product.Label = DefaultLabel(resolved.Format, "") + fmt.Sprint(s.nextID())
			if strata != nil {
				product.Strata = []Strata{*strata}
			}
			return nil
		}
		if err != nil {
			return err
		}
		defer s.release(ctx, ectx)

		product.Label = DefaultLabel(resolved.Format, "") + fmt.Sprint(ectx.ID)
		product.Strata = ectx.AllStrata()
		product.Tables, err = s.persistTables(ctx, ectx)
		return err
	})
	if err != nil {
		return nil, err
	}
	if product.Name == "" {
		product.Name = product.Label
	}
	product.UpdateDate = time.Now()

	saved, err := s.products.Save(ctx, product)
	if err != nil {
		s.dropTables(ctx, product.Tables)
		return nil, err
	}
	s.caches.InvalidateTypes()
	return saved, nil
}

// persistTables renames the non-persistent tables of ectx to product tables
// and describes them. On failure the renamed tables are dropped.
func (s *Service) persistTables(ctx context.Context, ectx *Context) ([]ProductTable, error) {
	var tables []ProductTable
	for _, table := range ectx.TableNames() {
		if ectx.IsPersistent(table) {
			continue
		}
		sheet := ectx.SheetOf(table)
		name := TableName("p", sheet, ectx.ID)
		if err := sqldb.RenameTable(ctx, s.db, table, name); err != nil {
			s.dropTables(ctx, tables)
			return nil, technical(err, "rename product table")
		}
		ectx.RenameTable(table, name)
		ectx.MarkPersistent(name)

		cols, err := sqldb.Columns(ctx, s.db, name)
		if err != nil {
			s.dropTables(ctx, append(tables, ProductTable{TableName: name}))
			return nil, technical(err, "read product table columns")
		}
		pt := ProductTable{
			TableName:     name,
			Label:         sheet,
			Rank:          len(tables) + 1,
			IsSpatial:     ectx.IsSpatial(name),
			Distinct:      ectx.IsDistinct(name),
			HiddenColumns: ectx.HiddenColumns(name),
		}
		for i, c := range cols {
			pt.Columns = append(pt.Columns, ColumnMeta{Name: c.Name, Type: c.Type, Rank: i + 1})
		}
		tables = append(tables, pt)
	}
	return tables, nil
}

func (s *Service) dropTables(ctx context.Context, tables []ProductTable) {
	for _, pt := range tables {
		if err := sqldb.DropTable(context.WithoutCancel(ctx), s.db, pt.TableName); err != nil {
			slog.Error("failed to drop product table", "table", pt.TableName, "error", err)
		}
	}
}

// aggregationContext executes an aggregation type and runs fn on it. A
// no-data execution calls fn with a nil context.
func (s *Service) aggregationContext(ctx context.Context, t *Type, filter *Filter, strata *Strata, fn func(ctx context.Context, ectx *Context) error) error {
	filter = normalize(filter, false)
	resolved, err := s.prepare(ctx, t, filter, strata)
	if err != nil {
		return err
	}
	if !resolved.IsAggregation() {
		return integrityf("%s is not an aggregation", resolved.Label)
	}

	return s.withSlot(ctx, func(ctx context.Context) error {
		ectx, err := s.execute(ctx, resolved, filter, strata)
		if errors.Is(err, ErrNoData) {
			return fn(ctx, nil)
		}
		if err != nil {
			return err
		}
		defer s.release(ctx, ectx)
		return fn(ctx, ectx)
	})
}

// ReadBySpace reads an aggregation type grouped by its spatial and time
// strata. Missing data yields an empty result.
func (s *Service) ReadBySpace(ctx context.Context, t *Type, filter *Filter, strata *Strata, page *Page) (*Result, error) {
	var result *Result
	err := s.aggregationContext(ctx, t, filter, strata, func(ctx context.Context, ectx *Context) error {
		if ectx == nil {
			result = emptyResult()
			return nil
		}
		var err error
		result, err = s.aggregator.ReadBySpace(ctx, ectx, filter, strata, page)
		return err
	})
	return result, err
}

// ReadByTech reads an aggregation type grouped by its technical stratum.
func (s *Service) ReadByTech(ctx context.Context, t *Type, filter *Filter, strata *Strata, sortBy, direction string) (*TechResult, error) {
	var result *TechResult
	err := s.aggregationContext(ctx, t, filter, strata, func(ctx context.Context, ectx *Context) error {
		if ectx == nil {
			result = &TechResult{Keys: []string{}, Data: map[string]float64{}}
			return nil
		}
		var err error
		result, err = s.aggregator.ReadByTech(ctx, ectx, filter, strata, sortBy, direction)
		return err
	})
	return result, err
}

// GetTechMinMax returns the bounds of the aggregated measure of t.
func (s *Service) GetTechMinMax(ctx context.Context, t *Type, filter *Filter, strata *Strata) (*MinMax, error) {
	var result *MinMax
	err := s.aggregationContext(ctx, t, filter, strata, func(ctx context.Context, ectx *Context) error {
		if ectx == nil {
			result = &MinMax{}
			return nil
		}
		var err error
		result, err = s.aggregator.GetTechMinMax(ctx, ectx, filter, strata)
		return err
	})
	return result, err
}

// SaveProduct stores a product record and evicts the type caches.
func (s *Service) SaveProduct(ctx context.Context, t *Type) (*Type, error) {
	if s.products == nil {
		return nil, errors.New("no product repository configured")
	}
	if t.Kind != KindProduct && t.Kind != KindAggregation {
		return nil, integrityf("only products and aggregations can be saved, got %s", t.Kind)
	}
	saved, err := s.products.Save(ctx, t)
	if err != nil {
		return nil, err
	}
	s.caches.InvalidateTypes()
	return saved, nil
}

// DeleteProduct deletes a product and its tables and evicts the type caches.
func (s *Service) DeleteProduct(ctx context.Context, id int64) error {
	if s.products == nil {
		return errors.New("no product repository configured")
	}
	if err := s.products.Delete(ctx, id); err != nil {
		return err
	}
	s.caches.InvalidateTypes()
	return nil
}

// Shutdown waits for running executions and pending cleanups.
func (s *Service) Shutdown(ctx context.Context) error {
	if err := s.limiter.WaitForDrain(ctx); err != nil {
		return err
	}
	return s.cleanup.Wait(ctx)
}
