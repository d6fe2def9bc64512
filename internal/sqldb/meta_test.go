package sqldb

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
)

func openTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "meta.db"))
	if err != nil {
		t.Fatalf("OpenSQLite: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestTableLifecycle(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	if _, err := db.ExecContext(ctx, `CREATE TABLE station (year INTEGER, statistical_rectangle TEXT, fishing_time REAL)`); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := db.ExecContext(ctx, `INSERT INTO station VALUES (2016, '27E8', 1.5), (2017, '28E8', 2)`); err != nil {
		t.Fatalf("insert: %v", err)
	}

	cols, err := Columns(ctx, db, "station")
	if err != nil {
		t.Fatalf("Columns: %v", err)
	}
	names := ColumnNames(cols)
	if len(names) != 3 || names[0] != "year" || names[1] != "statistical_rectangle" || names[2] != "fishing_time" {
		t.Errorf("unexpected columns %v", names)
	}

	n, err := CountRows(ctx, db, "station")
	if err != nil || n != 2 {
		t.Errorf("CountRows = %d, %v; want 2", n, err)
	}

	if err := RenameTable(ctx, db, "station", "station_copy"); err != nil {
		t.Fatalf("RenameTable: %v", err)
	}
	exists, err := TableExists(ctx, db, db.Dialect, "station_copy")
	if err != nil || !exists {
		t.Errorf("TableExists(station_copy) = %v, %v", exists, err)
	}

	if err := DropTable(ctx, db, "station_copy"); err != nil {
		t.Fatalf("DropTable: %v", err)
	}
	// idempotent
	if err := DropTable(ctx, db, "station_copy"); err != nil {
		t.Fatalf("second DropTable: %v", err)
	}
	exists, _ = TableExists(ctx, db, db.Dialect, "station_copy")
	if exists {
		t.Error("table should be gone")
	}

	_, err = CountRows(ctx, db, "station_copy")
	if !IsUndefinedTable(err) {
		t.Errorf("IsUndefinedTable(%v) = false", err)
	}
}

func TestWithTransaction_Rollback(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)
	boom := errors.New("boom")

	err := WithTransaction(ctx, db.DB, sql.LevelDefault, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `CREATE TABLE tmp_rollback (id INTEGER)`); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	exists, err := TableExists(ctx, db, db.Dialect, "tmp_rollback")
	if err != nil {
		t.Fatal(err)
	}
	if exists {
		t.Error("table created in a rolled back transaction should not exist")
	}
}

func TestScanValues(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	rows, err := db.QueryContext(ctx, `SELECT 1, 'a', NULL, CAST('b' AS BLOB)`)
	if err != nil {
		t.Fatal(err)
	}
	defer rows.Close()

	if !rows.Next() {
		t.Fatal("expected a row")
	}
	values, err := ScanValues(rows, 4)
	if err != nil {
		t.Fatal(err)
	}
	if values[0] != int64(1) || values[1] != "a" || values[2] != nil || values[3] != "b" {
		t.Errorf("unexpected values %#v", values)
	}
}

func TestListTables(t *testing.T) {
	ctx := context.Background()
	db := openTestDB(t)

	for _, stmt := range []string{
		`CREATE TABLE trip (id INTEGER PRIMARY KEY AUTOINCREMENT)`,
		`CREATE TABLE ext_hh_1_abcdef12 (year INTEGER)`,
	} {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			t.Fatal(err)
		}
	}

	names, err := ListTables(ctx, db, db.Dialect)
	if err != nil {
		t.Fatalf("ListTables: %v", err)
	}
	// AUTOINCREMENT creates sqlite_sequence, which is not listed
	if len(names) != 2 || names[0] != "ext_hh_1_abcdef12" || names[1] != "trip" {
		t.Errorf("ListTables = %v", names)
	}
}
