package sqldb

import (
	"errors"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Dialect captures the SQL differences between supported engines.
type Dialect struct {
	Name string

	// numbered placeholders ($1, $2) instead of ?
	numbered bool
}

var (
	Postgres = Dialect{Name: "postgres", numbered: true}
	SQLite   = Dialect{Name: "sqlite"}
)

// Placeholder returns the bind parameter for the n-th (1-based) argument.
func (d Dialect) Placeholder(n int) string {
	if d.numbered {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// CaseInsensitiveLike returns the operator used for case-insensitive LIKE.
func (d Dialect) CaseInsensitiveLike() string {
	if d.numbered {
		return "ILIKE"
	}
	// SQLite LIKE is case-insensitive for ASCII
	return "LIKE"
}

// undefinedTable is the SQLSTATE raised by PostgreSQL for a missing relation.
const undefinedTable = "42P01"

// IsUndefinedTable reports whether err means the table does not exist.
// Used by cleanup to treat "already absent" as success.
func IsUndefinedTable(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == undefinedTable
	}
	return strings.Contains(strings.ToLower(err.Error()), "no such table")
}

// IsTransient reports whether err is worth retrying (connection loss,
// serialization failure, lock contention).
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if len(pgErr.Code) < 2 {
			return false
		}
		switch pgErr.Code[:2] {
		case "08", "40", "53", "55", "57":
			return true
		}
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"database is locked", "busy", "connection reset", "connection refused", "bad connection"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// QuoteIdentifier quotes a SQL identifier to prevent injection.
func QuoteIdentifier(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// QuoteColumns quotes each column name in the slice.
func QuoteColumns(cols []string) []string {
	quoted := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = QuoteIdentifier(col)
	}
	return quoted
}
