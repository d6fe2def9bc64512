package extraction

import (
	"context"
	"strings"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/extraction/internal/sqldb"
)

type stubExecutor struct {
	format, version string
	sheets          []string
}

func (e *stubExecutor) Format() string { return e.format }
func (e *stubExecutor) Version() string { return e.version }
func (e *stubExecutor) Sheets() []string { return e.sheets }
func (e *stubExecutor) ColumnOrder(sheet string) []string { return nil }

func (e *stubExecutor) Execute(ctx context.Context, db sqldb.DBTX, d sqldb.Dialect, ectx *Context, filter *Filter) error {
	return nil
}

// memoryProducts is an in-memory ProductRepository.
type memoryProducts struct {
	mu       sync.Mutex
	products map[int64]*Type
	nextID   int64
	gets     int
}

func newMemoryProducts() *memoryProducts {
	return &memoryProducts{products: map[int64]*Type{}}
}

func (m *memoryProducts) Get(ctx context.Context, id int64, opts FetchOptions) (*Type, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	p, ok := m.products[id]
	if !ok {
		return nil, notFoundf("product %d", id)
	}
	return p.Clone(), nil
}

func (m *memoryProducts) GetByLabel(ctx context.Context, label string, opts FetchOptions) (*Type, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	for _, p := range m.products {
		if strings.EqualFold(p.Label, label) {
			return p.Clone(), nil
		}
	}
	return nil, notFoundf("product %s", label)
}

func (m *memoryProducts) FindAll(ctx context.Context, f TypeFilter) ([]*Type, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Type
	for _, p := range m.products {
		if kindMatches(f.Kind, p.Kind) {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (m *memoryProducts) FindByFrequency(ctx context.Context, freq Frequency) ([]*Type, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Type
	for _, p := range m.products {
		if p.ProcessingFrequency == freq {
			out = append(out, p.Clone())
		}
	}
	return out, nil
}

func (m *memoryProducts) Save(ctx context.Context, t *Type) (*Type, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c := t.Clone()
	if c.ID == 0 {
		m.nextID++
		c.ID = m.nextID
	}
	m.products[c.ID] = c
	return c.Clone(), nil
}

func (m *memoryProducts) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.products[id]; !ok {
		return notFoundf("product %d", id)
	}
	delete(m.products, id)
	return nil
}

func testRegistry() *Registry {
	reg := NewRegistry()
	reg.RegisterLiveTypes(
		&stubExecutor{format: "RDB", version: "1.3", sheets: []string{"TR", "HH"}},
		&stubExecutor{format: "FREE", version: "1.0", sheets: []string{"TRIP"}},
		&stubExecutor{format: "FREE", version: "2.0", sheets: []string{"TRIP"}},
	)
	reg.RegisterAggregation(AggregationFormat{
		Format:  "AGG_RDB",
		Version: "1.3",
		Sheets: []AggregationSheet{{
			Name:     "HH",
			Spatial:  []string{"area"},
			Time:     []string{"year"},
			Tech:     []string{"gear_type"},
			Measures: []Measure{{Name: "station_count", Materialize: AggCount, Read: AggSum}},
		}},
	})
	return reg
}

func TestResolver_GetByExample(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(testRegistry(), newMemoryProducts(), testCaches())

	got, err := r.GetByExample(ctx, &Type{Format: "rdb"}, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, KindLive, got.Kind)
	assert.Equal(t, "RDB", got.Format)
	assert.Equal(t, "1.3", got.Version)
	assert.Equal(t, "RDB-1.3", got.Label)
	assert.Less(t, got.ID, int64(0))

	again, err := r.GetByExample(ctx, &Type{Kind: KindLive, Format: "RDB", Version: "1.3"}, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, got.ID, again.ID)

	byID, err := r.GetByID(ctx, got.ID, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "RDB", byID.Format)

	byLabel, err := r.GetByExample(ctx, &Type{Label: "free-2.0"}, FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, "2.0", byLabel.Version)
}

func TestResolver_Errors(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(testRegistry(), newMemoryProducts(), testCaches())

	_, err := r.GetByExample(ctx, &Type{Format: "XYZ"}, FetchOptions{})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = r.GetByExample(ctx, &Type{Format: "FREE"}, FetchOptions{})
	assert.True(t, errors.Is(err, ErrAmbiguous))
	assert.Contains(t, err.Error(), "FREE-1.0")
	assert.Contains(t, err.Error(), "FREE-2.0")

	_, err = r.GetByExample(ctx, &Type{Kind: KindAggregation, Format: "RDB"}, FetchOptions{})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = r.GetByID(ctx, 0, FetchOptions{})
	assert.True(t, errors.Is(err, ErrNotFound))

	_, err = r.GetByExample(ctx, &Type{}, FetchOptions{})
	assert.True(t, errors.Is(err, ErrDataIntegrity))
}

func TestResolver_Products(t *testing.T) {
	ctx := context.Background()
	products := newMemoryProducts()
	r := NewResolver(testRegistry(), products, testCaches())

	saved, err := products.Save(ctx, &Type{
		Kind:    KindProduct,
		Format:  "RDB",
		Version: "1.3",
		Label:   "RDB-2016",
		Tables:  []ProductTable{{TableName: "p_hh_1_x", Label: "HH"}},
	})
	require.NoError(t, err)

	got, err := r.GetByExample(ctx, &Type{Label: "rdb-2016"}, FetchOptions{WithTables: true})
	require.NoError(t, err)
	assert.Equal(t, saved.ID, got.ID)

	// complete products are returned without a lookup
	before := products.gets
	same, err := r.GetByExample(ctx, got, FetchOptions{})
	require.NoError(t, err)
	assert.Same(t, got, same)
	assert.Equal(t, before, products.gets)

	// the label of a product does not match when a live type is asked for
	_, err = r.GetByExample(ctx, &Type{Kind: KindLive, Label: "RDB-2016"}, FetchOptions{})
	assert.True(t, errors.Is(err, ErrNotFound))

	types, err := r.FindTypes(ctx, TypeFilter{})
	require.NoError(t, err)
	assert.Len(t, types, 5)

	live, err := r.FindTypes(ctx, TypeFilter{Kind: KindLive})
	require.NoError(t, err)
	assert.Len(t, live, 3)
}

func TestResolver_ResolveChain(t *testing.T) {
	ctx := context.Background()
	r := NewResolver(testRegistry(), newMemoryProducts(), testCaches())

	agg, err := r.resolveChain(ctx, &Type{Kind: KindAggregation, Format: "AGG_RDB"})
	require.NoError(t, err)
	require.NotNil(t, agg.Parent)
	assert.Equal(t, "RDB", agg.Parent.Format)
	assert.Equal(t, KindLive, agg.Parent.Kind)
	assert.Equal(t, agg.Parent.ID, agg.ParentID)

	live, err := r.resolveChain(ctx, &Type{Format: "RDB"})
	require.NoError(t, err)
	assert.Nil(t, live.Parent)
}

func TestResolver_SelfParent(t *testing.T) {
	ctx := context.Background()
	products := newMemoryProducts()
	r := NewResolver(testRegistry(), products, testCaches())

	p, err := products.Save(ctx, &Type{Kind: KindAggregation, Format: "AGG_RDB", Version: "1.3", Label: "LOOP"})
	require.NoError(t, err)
	p.ParentID = p.ID
	_, err = products.Save(ctx, p)
	require.NoError(t, err)

	_, err = r.resolveChain(ctx, &Type{ID: p.ID})
	assert.True(t, errors.Is(err, ErrDataIntegrity))
}
