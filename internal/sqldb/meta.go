package sqldb

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// Column describes one column of a physical table.
type Column struct {
	Name string
	Type string // engine type name, upper case, may be empty on SQLite
}

// ColumnNames returns the names of cols in order.
func ColumnNames(cols []Column) []string {
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

// Columns returns the columns of table in their physical order.
func Columns(ctx context.Context, db DBTX, table string) ([]Column, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("SELECT * FROM %s WHERE 1 = 0", QuoteIdentifier(table)))
	if err != nil {
		return nil, fmt.Errorf("read columns of %s: %w", table, err)
	}
	defer rows.Close()

	types, err := rows.ColumnTypes()
	if err != nil {
		return nil, fmt.Errorf("read column types of %s: %w", table, err)
	}

	cols := make([]Column, len(types))
	for i, ct := range types {
		cols[i] = Column{
			Name: strings.ToLower(ct.Name()),
			Type: strings.ToUpper(ct.DatabaseTypeName()),
		}
	}
	return cols, rows.Err()
}

// TableExists checks the catalog, so it is safe inside a PostgreSQL
// transaction (a failed probe query would abort it).
func TableExists(ctx context.Context, db DBTX, d Dialect, table string) (bool, error) {
	var query string
	if d.Name == Postgres.Name {
		query = "SELECT COUNT(*) FROM information_schema.tables WHERE table_schema = current_schema() AND table_name = $1"
	} else {
		query = "SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?"
	}

	var n int
	if err := db.QueryRowContext(ctx, query, table).Scan(&n); err != nil {
		return false, fmt.Errorf("check table %s: %w", table, err)
	}
	return n > 0, nil
}

// CountRows returns the number of rows of table.
func CountRows(ctx context.Context, db DBTX, table string) (int64, error) {
	var n int64
	err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+QuoteIdentifier(table)).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count rows of %s: %w", table, err)
	}
	return n, nil
}

// DropTable drops table if it exists.
func DropTable(ctx context.Context, db DBTX, table string) error {
	if _, err := db.ExecContext(ctx, "DROP TABLE IF EXISTS "+QuoteIdentifier(table)); err != nil {
		return fmt.Errorf("drop table %s: %w", table, err)
	}
	return nil
}

// RenameTable renames from to to.
func RenameTable(ctx context.Context, db DBTX, from, to string) error {
	query := fmt.Sprintf("ALTER TABLE %s RENAME TO %s", QuoteIdentifier(from), QuoteIdentifier(to))
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("rename table %s to %s: %w", from, to, err)
	}
	return nil
}

// ScanValues reads the current row into a slice of driver values.
// Byte slices are converted to strings so rows are safe to retain.
func ScanValues(rows *sql.Rows, n int) ([]any, error) {
	values := make([]any, n)
	ptrs := make([]any, n)
	for i := range values {
		ptrs[i] = &values[i]
	}
	if err := rows.Scan(ptrs...); err != nil {
		return nil, err
	}
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			values[i] = string(b)
		}
	}
	return values, nil
}

// ListTables returns the names of the tables of the current schema, sorted.
func ListTables(ctx context.Context, db DBTX, d Dialect) ([]string, error) {
	query := "SELECT name FROM sqlite_master WHERE type = 'table' AND name NOT LIKE 'sqlite_%' ORDER BY name"
	if d.Name == Postgres.Name {
		query = "SELECT table_name FROM information_schema.tables WHERE table_schema = current_schema() AND table_type = 'BASE TABLE' ORDER BY table_name"
	}

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("list tables: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}
