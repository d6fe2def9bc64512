package formats

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/extraction/internal/extraction"
	"github.com/JonMunkholm/extraction/internal/sqldb"
	"github.com/JonMunkholm/extraction/internal/store"
)

func seededDB(t *testing.T) *sqldb.DB {
	t.Helper()
	ctx := context.Background()
	db, err := sqldb.OpenSQLite(filepath.Join(t.TempDir(), "formats.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, store.Migrate(ctx, db))
	require.NoError(t, store.Seed(ctx, db))
	return db
}

func run(t *testing.T, db *sqldb.DB, e *SQLExecutor, filter *extraction.Filter) (*extraction.Context, error) {
	t.Helper()
	ectx := extraction.NewContext(42, &extraction.Type{Kind: extraction.KindLive, Format: e.Format(), Version: e.Version()})
	err := sqldb.WithTransaction(context.Background(), db.DB, sql.LevelDefault, func(tx *sql.Tx) error {
		return e.Execute(context.Background(), tx, db.Dialect, ectx, filter)
	})
	return ectx, err
}

func count(t *testing.T, db *sqldb.DB, table string) int64 {
	t.Helper()
	n, err := sqldb.CountRows(context.Background(), db, table)
	require.NoError(t, err)
	return n
}

func TestSpecs_ColumnsMatchQueries(t *testing.T) {
	db := seededDB(t)
	ctx := context.Background()

	for _, spec := range Specs() {
		for _, sheet := range spec.Sheets {
			t.Run(spec.Format+"/"+sheet.Name, func(t *testing.T) {
				rows, err := db.QueryContext(ctx, "SELECT * FROM ("+sheet.Query+") q WHERE 1 = 0")
				require.NoError(t, err)
				defer rows.Close()
				cols, err := rows.Columns()
				require.NoError(t, err)
				assert.Equal(t, sheet.Columns, cols)
				for _, h := range sheet.Hidden {
					assert.Contains(t, sheet.Columns, h)
				}
			})
		}
	}
}

func TestSQLExecutor_Execute(t *testing.T) {
	db := seededDB(t)
	e := NewSQLExecutor(RDB, 0)

	filter := &extraction.Filter{Criteria: []extraction.Criterion{{Name: "year", Operator: "=", Value: "2016"}}}
	ectx, err := run(t, db, e, filter)
	require.NoError(t, err)

	assert.Equal(t, []string{"TR", "HH", "SL", "HL"}, ectx.SheetNames())
	tr, _ := ectx.TableBySheet("TR")
	hh, _ := ectx.TableBySheet("HH")
	sl, _ := ectx.TableBySheet("SL")
	assert.Regexp(t, `^ext_hh_42_`, hh)
	assert.EqualValues(t, 2, count(t, db, tr))
	assert.EqualValues(t, 3, count(t, db, hh))
	assert.EqualValues(t, 4, count(t, db, sl))

	assert.Equal(t, []string{"trip_id", "station_id"}, ectx.HiddenColumns(hh))
	assert.True(t, ectx.IsSpatial(hh))
	assert.False(t, ectx.IsDistinct(hh))
	assert.True(t, ectx.IsDistinct(sl))
}

func TestSQLExecutor_Operators(t *testing.T) {
	db := seededDB(t)
	e := NewSQLExecutor(RDB, 0)

	tests := []struct {
		name      string
		criterion extraction.Criterion
		want      int64
	}{
		{"in", extraction.Criterion{Name: "gear_type", Operator: "IN", Values: []string{"GNS", "PTM"}}, 1},
		{"not equal", extraction.Criterion{Name: "gear_type", Operator: "!=", Value: "GNS"}, 3},
		{"between", extraction.Criterion{Name: "month", Operator: "BETWEEN", Values: []string{"1", "3"}}, 3},
		{"like", extraction.Criterion{Name: "statistical_rectangle", Operator: "LIKE", Value: "28E"}, 3},
		{"null", extraction.Criterion{Name: "sub_polygon", Operator: "NULL"}, 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := tt.criterion
			c.SheetName = "HH"
			ectx, err := run(t, db, e, &extraction.Filter{SheetName: "HH", Preview: true, Criteria: []extraction.Criterion{c}})
			require.NoError(t, err)
			assert.Equal(t, []string{"HH"}, ectx.SheetNames())
			hh, _ := ectx.TableBySheet("HH")
			assert.Equal(t, tt.want, count(t, db, hh))
		})
	}
}

func TestSQLExecutor_PreviewLimit(t *testing.T) {
	db := seededDB(t)

	ectx, err := run(t, db, NewSQLExecutor(Free, 1), &extraction.Filter{Preview: true})
	require.NoError(t, err)
	for _, table := range ectx.TableNames() {
		assert.EqualValues(t, 1, count(t, db, table))
	}
}

func TestSQLExecutor_NoData(t *testing.T) {
	db := seededDB(t)

	filter := &extraction.Filter{Criteria: []extraction.Criterion{{Name: "year", Operator: "<", Value: "2000"}}}
	ectx, err := run(t, db, NewSQLExecutor(RDB, 0), filter)
	assert.True(t, errors.Is(err, extraction.ErrNoData))
	assert.True(t, ectx.Empty())
}

func TestSQLExecutor_InvalidCriterion(t *testing.T) {
	db := seededDB(t)

	filter := &extraction.Filter{Criteria: []extraction.Criterion{{SheetName: "TR", Name: "species", Operator: "=", Value: "COD"}}}
	_, err := run(t, db, NewSQLExecutor(RDB, 0), filter)
	assert.True(t, errors.Is(err, extraction.ErrDataIntegrity))
}

func TestRegisterAll(t *testing.T) {
	reg := extraction.NewRegistry()
	RegisterAll(reg, 10)

	assert.Equal(t, 3, reg.Count())
	e, ok := reg.Executor("rdb", "1.3")
	require.True(t, ok)
	assert.Equal(t, []string{"TR", "HH", "SL", "HL"}, e.Sheets())

	f, ok := reg.AggregationFormat("AGG_RDB", "1.3")
	require.True(t, ok)
	assert.Equal(t, "RDB", f.ParentFormat())
	assert.Equal(t, []string{"project", "vessel_code", "year", "departure_date", "return_date", "country_code", "landing_location"},
		reg.ColumnOrder("FREE", "1.0", "trip"))
}
