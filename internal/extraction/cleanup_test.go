package extraction

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/JonMunkholm/extraction/internal/sqldb"
)

func cleanupDB(t *testing.T, tables ...string) *sqldb.DB {
	t.Helper()
	db, err := sqldb.OpenSQLite(filepath.Join(t.TempDir(), "cleanup.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, table := range tables {
		_, err := db.ExecContext(context.Background(), "CREATE TABLE "+sqldb.QuoteIdentifier(table)+" (id INTEGER)")
		require.NoError(t, err)
	}
	return db
}

func exists(t *testing.T, db *sqldb.DB, table string) bool {
	t.Helper()
	ok, err := sqldb.TableExists(context.Background(), db, db.Dialect, table)
	require.NoError(t, err)
	return ok
}

func TestCleanupPool_DropsEachTableOnce(t *testing.T) {
	db := cleanupDB(t, "agg_hh_1_aaaaaaaa", "p_hh_1_bbbbbbbb", "ext_hh_2_cccccccc")
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	pool := NewCleanupPool(db, 2, 1, time.Millisecond)
	ectx := NewContext(1, &Type{Kind: KindAggregation, Format: "AGG_RDB"})
	ectx.AddTable("agg_hh_1_aaaaaaaa", "HH")
	ectx.AddTable("p_hh_1_bbbbbbbb", "HH")
	ectx.MarkPersistent("p_hh_1_bbbbbbbb")

	source := NewContext(2, &Type{Kind: KindLive, Format: "RDB"})
	source.AddTable("ext_hh_2_cccccccc", "HH")
	ectx.setSource(source)

	h := pool.Submit(ectx)
	require.NoError(t, h.Wait(context.Background()))
	assert.ElementsMatch(t, []string{"agg_hh_1_aaaaaaaa", "ext_hh_2_cccccccc"}, h.Dropped())
	assert.True(t, ectx.Cleaned())
	assert.True(t, source.Cleaned())

	assert.False(t, exists(t, db, "agg_hh_1_aaaaaaaa"))
	assert.False(t, exists(t, db, "ext_hh_2_cccccccc"))
	assert.True(t, exists(t, db, "p_hh_1_bbbbbbbb"))

	again := pool.Submit(ectx)
	require.NoError(t, again.Wait(context.Background()))
	assert.Empty(t, again.Dropped())

	require.NoError(t, pool.Wait(context.Background()))
}

func TestCleanupPool_ConcurrentSubmit(t *testing.T) {
	db := cleanupDB(t, "ext_tr_3_dddddddd")
	pool := NewCleanupPool(db, 4, 0, 0)
	ectx := NewContext(3, &Type{Kind: KindLive, Format: "RDB"})
	ectx.AddTable("ext_tr_3_dddddddd", "TR")

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		dropped []string
	)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h := pool.Submit(ectx)
			assert.NoError(t, h.Wait(context.Background()))
			mu.Lock()
			dropped = append(dropped, h.Dropped()...)
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{"ext_tr_3_dddddddd"}, dropped)
}

func TestCleanupPool_MissingTableIsDropped(t *testing.T) {
	db := cleanupDB(t)
	pool := NewCleanupPool(db, 1, 3, time.Millisecond)

	ectx := NewContext(4, &Type{Kind: KindLive, Format: "FREE"})
	ectx.AddTable("ext_trip_4_eeeeeeee", "TRIP")

	h := pool.Submit(ectx)
	require.NoError(t, h.Wait(context.Background()))
	assert.Equal(t, []string{"ext_trip_4_eeeeeeee"}, h.Dropped())
}

func TestCleanupPool_NilAndEmpty(t *testing.T) {
	pool := NewCleanupPool(cleanupDB(t), 0, -1, 0)

	h := pool.Submit(NewContext(5, &Type{Kind: KindLive}))
	select {
	case <-h.Done():
	default:
		t.Fatal("empty context should complete immediately")
	}
	assert.NoError(t, pool.Wait(context.Background()))
}
