package extraction

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/JonMunkholm/extraction/internal/sqldb"
)

// Executor materializes the sheets of one live (format, version) into
// tables registered on the execution context.
type Executor interface {
	Format() string
	Version() string
	Sheets() []string

	// ColumnOrder returns the canonical column order of sheet.
	ColumnOrder(sheet string) []string

	// Execute runs inside the execution transaction. Sheets that produce no
	// rows must not be left registered; when no sheet has rows it returns
	// an error marked ErrNoData.
	Execute(ctx context.Context, db sqldb.DBTX, d sqldb.Dialect, ectx *Context, filter *Filter) error
}

// AggFunc is a SQL aggregate function name.
type AggFunc string

const (
	AggSum   AggFunc = "SUM"
	AggCount AggFunc = "COUNT"
	AggAvg   AggFunc = "AVG"
	AggMin   AggFunc = "MIN"
	AggMax   AggFunc = "MAX"
)

// ParseAggFunc validates an aggregate function name.
func ParseAggFunc(s string) (AggFunc, bool) {
	f := AggFunc(strings.ToUpper(strings.TrimSpace(s)))
	switch f {
	case AggSum, AggCount, AggAvg, AggMin, AggMax:
		return f, true
	}
	return "", false
}

// Measure is an aggregated column of an aggregation sheet.
type Measure struct {
	Name   string
	Source string // source column, empty for COUNT(*)

	// Materialize is applied when building the table, Read when regrouping
	// it (a materialized COUNT is re-read with SUM).
	Materialize AggFunc
	Read        AggFunc
}

// AggregationSheet declares the dimensions and measures of one sheet.
// Name is also the name of the source sheet it is computed from.
type AggregationSheet struct {
	Name     string
	Spatial  []string
	Time     []string
	Tech     []string
	Measures []Measure
	Default  Strata
}

// Dimensions returns spatial, time and tech columns in that order.
func (s *AggregationSheet) Dimensions() []string {
	dims := make([]string, 0, len(s.Spatial)+len(s.Time)+len(s.Tech))
	dims = append(dims, s.Spatial...)
	dims = append(dims, s.Time...)
	return append(dims, s.Tech...)
}

// ColumnOrder is the dimensions followed by the measures.
func (s *AggregationSheet) ColumnOrder() []string {
	cols := s.Dimensions()
	for _, m := range s.Measures {
		cols = append(cols, m.Name)
	}
	return cols
}

func (s *AggregationSheet) measure(name string) (Measure, bool) {
	for _, m := range s.Measures {
		if strings.EqualFold(m.Name, name) {
			return m, true
		}
	}
	return Measure{}, false
}

func (s *AggregationSheet) measureNames() []string {
	names := make([]string, len(s.Measures))
	for i, m := range s.Measures {
		names[i] = m.Name
	}
	return names
}

// AggregationFormat declares a built-in aggregation.
type AggregationFormat struct {
	Format  string
	Version string
	Sheets  []AggregationSheet
}

// aggregationPrefix marks aggregation formats: AGG_RDB aggregates RDB.
const aggregationPrefix = "AGG_"

// ParentFormat returns the live format an aggregation is computed from by
// default.
func (f *AggregationFormat) ParentFormat() string {
	return strings.TrimPrefix(strings.ToUpper(f.Format), aggregationPrefix)
}

// Sheet returns the sheet declaration by name (case-insensitive).
func (f *AggregationFormat) Sheet(name string) (*AggregationSheet, bool) {
	for i := range f.Sheets {
		if strings.EqualFold(f.Sheets[i].Name, name) {
			return &f.Sheets[i], true
		}
	}
	return nil, false
}

type formatKey struct {
	format  string
	version string
}

func keyOf(format, version string) formatKey {
	return formatKey{format: strings.ToUpper(strings.TrimSpace(format)), version: strings.TrimSpace(version)}
}

// Registry holds the built-in live executors and aggregation formats.
// It is filled at startup and read concurrently afterwards.
type Registry struct {
	mu           sync.RWMutex
	executors    map[formatKey]Executor
	aggregations map[formatKey]*AggregationFormat
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		executors:    make(map[formatKey]Executor),
		aggregations: make(map[formatKey]*AggregationFormat),
	}
}

// RegisterLive adds a live executor.
// Panics if the same (format, version) is already registered.
func (r *Registry) RegisterLive(e Executor) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := keyOf(e.Format(), e.Version())
	if _, exists := r.executors[k]; exists {
		panic(fmt.Sprintf("live format already registered: %s-%s", k.format, k.version))
	}
	r.executors[k] = e
}

// RegisterLiveTypes registers a batch of live executors.
func (r *Registry) RegisterLiveTypes(executors ...Executor) {
	for _, e := range executors {
		r.RegisterLive(e)
	}
}

// RegisterAggregation adds an aggregation format.
// Panics if the same (format, version) is already registered.
func (r *Registry) RegisterAggregation(f AggregationFormat) {
	r.mu.Lock()
	defer r.mu.Unlock()

	k := keyOf(f.Format, f.Version)
	if _, exists := r.aggregations[k]; exists {
		panic(fmt.Sprintf("aggregation format already registered: %s-%s", k.format, k.version))
	}
	f.Format = k.format
	r.aggregations[k] = &f
}

// Executor returns the live executor for (format, version).
func (r *Registry) Executor(format, version string) (Executor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.executors[keyOf(format, version)]
	return e, ok
}

// AggregationFormat returns the aggregation format for (format, version).
func (r *Registry) AggregationFormat(format, version string) (*AggregationFormat, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.aggregations[keyOf(format, version)]
	return f, ok
}

// ColumnOrder returns the canonical column order of a sheet, or nil.
func (r *Registry) ColumnOrder(format, version, sheet string) []string {
	if e, ok := r.Executor(format, version); ok {
		return e.ColumnOrder(sheet)
	}
	if f, ok := r.AggregationFormat(format, version); ok {
		if s, ok := f.Sheet(sheet); ok {
			return s.ColumnOrder()
		}
	}
	return nil
}

// BuiltinTypes returns a fresh copy of every registered type, live formats
// first. Sorted by format then version for consistent ordering.
func (r *Registry) BuiltinTypes() []*Type {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]*Type, 0, len(r.executors)+len(r.aggregations))
	for k := range r.executors {
		result = append(result, builtinType(KindLive, k.format, k.version))
	}
	for k := range r.aggregations {
		result = append(result, builtinType(KindAggregation, k.format, k.version))
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Kind != result[j].Kind {
			return result[i].Kind < result[j].Kind
		}
		if result[i].Format != result[j].Format {
			return result[i].Format < result[j].Format
		}
		return result[i].Version < result[j].Version
	})
	return result
}

// LiveTypes returns the registered live types only.
func (r *Registry) LiveTypes() []*Type {
	return slices.DeleteFunc(r.BuiltinTypes(), func(t *Type) bool { return t.Kind != KindLive })
}

// Count returns the number of registered formats.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.executors) + len(r.aggregations)
}

// Clear removes all registered formats.
// Primarily useful for testing.
func (r *Registry) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.executors = make(map[formatKey]Executor)
	r.aggregations = make(map[formatKey]*AggregationFormat)
}

func builtinType(kind Kind, format, version string) *Type {
	return &Type{
		ID:      SyntheticID(kind, format, version),
		Kind:    kind,
		Format:  format,
		Version: version,
		Label:   DefaultLabel(format, version),
		Name:    DefaultLabel(format, version),
		Status:  StatusEnabled,
	}
}

// SyntheticID returns the stable negative id of a built-in type. It never
// collides with the positive ids of persisted products.
func SyntheticID(kind Kind, format, version string) int64 {
	k := keyOf(format, version)
	h := xxhash.Sum64String(kind.String() + "|" + k.format + "|" + k.version)
	return -(int64(h%(1<<31)) + 1)
}
