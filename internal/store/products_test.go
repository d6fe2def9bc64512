package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/extraction/internal/extraction"
	"github.com/JonMunkholm/extraction/internal/sqldb"
)

func newTestStore(t *testing.T) (*ProductStore, *sqldb.DB) {
	t.Helper()
	db, err := sqldb.OpenSQLite(filepath.Join(t.TempDir(), "store.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, Migrate(context.Background(), db))
	return NewProductStore(db), db
}

func sampleProduct(label string) *extraction.Type {
	return &extraction.Type{
		Kind:    extraction.KindAggregation,
		Format:  "AGG_RDB",
		Version: "1.3",
		Label:   label,
		Name:    "Rectangles 2016",
		Filter: &extraction.Filter{
			SheetName: "HH",
			Criteria:  []extraction.Criterion{{Name: "year", Operator: "=", Value: "2016"}},
		},
		Strata:              []extraction.Strata{{SheetName: "HH", SpatialColumnName: "area"}},
		ParentID:            -42,
		ProcessingFrequency: extraction.FrequencyWeekly,
		Tables: []extraction.ProductTable{
			{
				TableName:     "p_hh_1_abcd",
				Label:         "HH",
				IsSpatial:     true,
				Columns:       []extraction.ColumnMeta{{Name: "area", Type: "TEXT", Rank: 1}},
				HiddenColumns: []string{"station_id"},
			},
			{TableName: "p_sl_1_abcd", Label: "SL", Distinct: true},
		},
	}
}

func TestMigrate_Idempotent(t *testing.T) {
	_, db := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, Migrate(ctx, db))
	require.NoError(t, Seed(ctx, db))
	require.NoError(t, Seed(ctx, db))

	n, err := sqldb.CountRows(ctx, db, "fishing_station")
	require.NoError(t, err)
	assert.EqualValues(t, 4, n)
}

func TestProductStore_SaveAndGet(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, sampleProduct("AGG-2016"))
	require.NoError(t, err)
	require.Greater(t, saved.ID, int64(0))

	got, err := s.Get(ctx, saved.ID, extraction.FetchOptions{WithTables: true})
	require.NoError(t, err)
	assert.Equal(t, extraction.KindAggregation, got.Kind)
	assert.Equal(t, "AGG-2016", got.Label)
	assert.Equal(t, int64(-42), got.ParentID)
	assert.Equal(t, extraction.FrequencyWeekly, got.ProcessingFrequency)
	assert.Equal(t, extraction.StatusEnabled, got.Status)
	assert.WithinDuration(t, time.Now(), got.UpdateDate, time.Minute)
	require.NotNil(t, got.Filter)
	assert.Equal(t, "2016", got.Filter.Criteria[0].Value)
	assert.Equal(t, "area", got.Strata[0].SpatialColumnName)

	require.Len(t, got.Tables, 2)
	assert.Equal(t, "p_hh_1_abcd", got.Tables[0].TableName)
	assert.Equal(t, 1, got.Tables[0].Rank)
	assert.True(t, got.Tables[0].IsSpatial)
	assert.Equal(t, []string{"station_id"}, got.Tables[0].HiddenColumns)
	assert.Equal(t, "TEXT", got.Tables[0].Columns[0].Type)
	assert.True(t, got.Tables[1].Distinct)
	assert.Empty(t, got.Tables[1].Columns)

	light, err := s.GetByLabel(ctx, "agg-2016", extraction.FetchOptions{})
	require.NoError(t, err)
	assert.Equal(t, saved.ID, light.ID)
	assert.Empty(t, light.Tables)
}

func TestProductStore_Update(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	saved, err := s.Save(ctx, sampleProduct("AGG-2016"))
	require.NoError(t, err)

	saved.Status = extraction.StatusDisabled
	saved.Tables = saved.Tables[:1]
	updated, err := s.Save(ctx, saved)
	require.NoError(t, err)
	assert.Equal(t, saved.ID, updated.ID)
	assert.Equal(t, extraction.StatusDisabled, updated.Status)
	assert.Len(t, updated.Tables, 1)

	missing := sampleProduct("OTHER")
	missing.ID = 999
	_, err = s.Save(ctx, missing)
	assert.True(t, errors.Is(err, extraction.ErrNotFound))
}

func TestProductStore_DuplicateLabel(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	_, err := s.Save(ctx, sampleProduct("AGG-2016"))
	require.NoError(t, err)
	_, err = s.Save(ctx, sampleProduct("AGG-2016"))
	assert.True(t, errors.Is(err, extraction.ErrDataIntegrity), "got %v", err)

	live := sampleProduct("LIVE")
	live.Kind = extraction.KindLive
	_, err = s.Save(ctx, live)
	assert.True(t, errors.Is(err, extraction.ErrDataIntegrity))
}

func TestProductStore_Find(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	agg := sampleProduct("AGG-2016")
	_, err := s.Save(ctx, agg)
	require.NoError(t, err)

	daily := sampleProduct("RDB-DAILY")
	daily.Kind = extraction.KindProduct
	daily.Format = "RDB"
	daily.Name = "Daily trips"
	daily.ProcessingFrequency = extraction.FrequencyDaily
	daily.Tables = []extraction.ProductTable{{TableName: "p_tr_2_abcd", Label: "TR"}}
	_, err = s.Save(ctx, daily)
	require.NoError(t, err)

	tests := []struct {
		name   string
		filter extraction.TypeFilter
		want   []string
	}{
		{"all", extraction.TypeFilter{}, []string{"AGG-2016", "RDB-DAILY"}},
		{"by kind", extraction.TypeFilter{Kind: extraction.KindProduct}, []string{"RDB-DAILY"}},
		{"live never stored", extraction.TypeFilter{Kind: extraction.KindLive}, []string{}},
		{"by format", extraction.TypeFilter{Format: "agg_rdb"}, []string{"AGG-2016"}},
		{"by status", extraction.TypeFilter{Statuses: []extraction.Status{extraction.StatusDisabled}}, []string{}},
		{"by frequency", extraction.TypeFilter{Frequency: extraction.FrequencyDaily}, []string{"RDB-DAILY"}},
		{"by text", extraction.TypeFilter{SearchText: "trips"}, []string{"RDB-DAILY"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			types, err := s.FindAll(ctx, tt.filter)
			require.NoError(t, err)
			labels := []string{}
			for _, p := range types {
				labels = append(labels, p.Label)
			}
			assert.Equal(t, tt.want, labels)
		})
	}

	byFreq, err := s.FindByFrequency(ctx, extraction.FrequencyDaily)
	require.NoError(t, err)
	require.Len(t, byFreq, 1)
	assert.Len(t, byFreq[0].Tables, 1)
}

func TestProductStore_Delete(t *testing.T) {
	s, db := newTestStore(t)
	ctx := context.Background()

	_, err := db.ExecContext(ctx, `CREATE TABLE p_hh_1_abcd (area TEXT)`)
	require.NoError(t, err)
	saved, err := s.Save(ctx, sampleProduct("AGG-2016"))
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, saved.ID))

	exists, err := sqldb.TableExists(ctx, db, db.Dialect, "p_hh_1_abcd")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = s.Get(ctx, saved.ID, extraction.FetchOptions{})
	assert.True(t, errors.Is(err, extraction.ErrNotFound))
	assert.True(t, errors.Is(s.Delete(ctx, saved.ID), extraction.ErrNotFound))
}

func TestSplitStatements(t *testing.T) {
	stmts := splitStatements("CREATE TABLE a (x INT);\n\nCREATE INDEX i ON a (x);\n")
	assert.Equal(t, []string{"CREATE TABLE a (x INT)", "CREATE INDEX i ON a (x)"}, stmts)
}

func TestProductStore_ReferencedTables(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	refs, err := s.ReferencedTables(ctx)
	require.NoError(t, err)
	assert.Empty(t, refs)

	_, err = s.Save(ctx, sampleProduct("REF-1"))
	require.NoError(t, err)

	refs, err = s.ReferencedTables(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[string]bool{"p_hh_1_abcd": true, "p_sl_1_abcd": true}, refs)
}
