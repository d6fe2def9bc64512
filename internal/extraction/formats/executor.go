// Package formats declares the built-in extraction formats and the SQL
// executor that materializes them.
//
// A live format is a list of sheets, each a SELECT over the operational
// tables. Executing a format creates one table per sheet:
//
//	CREATE TABLE ext_<sheet>_<execution>_<random> AS
//	SELECT * FROM (<sheet query>) q WHERE <criteria of the sheet> [LIMIT n]
//
// Call RegisterAll once at startup to make the built-ins known to a registry.
package formats

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/JonMunkholm/extraction/internal/extraction"
	"github.com/JonMunkholm/extraction/internal/sqldb"
)

// SheetSpec declares one sheet of a live format.
type SheetSpec struct {
	Name string

	// Query selects exactly Columns, in that order.
	Query   string
	Columns []string

	// Hidden columns are kept in the table (for joins) but never exported.
	Hidden []string

	// Distinct marks the query as distinct-sensitive: exporting a subset of
	// its columns may duplicate rows.
	Distinct bool
	Spatial  bool
}

// FormatSpec declares a live format.
type FormatSpec struct {
	Format  string
	Version string
	Sheets  []SheetSpec
}

// SQLExecutor materializes a FormatSpec.
type SQLExecutor struct {
	spec         FormatSpec
	previewLimit int
}

// NewSQLExecutor creates an executor. previewLimit caps the rows of each
// sheet in preview executions; zero means no cap.
func NewSQLExecutor(spec FormatSpec, previewLimit int) *SQLExecutor {
	return &SQLExecutor{spec: spec, previewLimit: previewLimit}
}

func (e *SQLExecutor) Format() string  { return e.spec.Format }
func (e *SQLExecutor) Version() string { return e.spec.Version }

func (e *SQLExecutor) Sheets() []string {
	names := make([]string, len(e.spec.Sheets))
	for i, s := range e.spec.Sheets {
		names[i] = s.Name
	}
	return names
}

func (e *SQLExecutor) sheet(name string) (SheetSpec, bool) {
	for _, s := range e.spec.Sheets {
		if strings.EqualFold(s.Name, name) {
			return s, true
		}
	}
	return SheetSpec{}, false
}

func (e *SQLExecutor) ColumnOrder(sheet string) []string {
	s, ok := e.sheet(sheet)
	if !ok {
		return nil
	}
	return s.Columns
}

// Execute creates one table per sheet. A preview execution with a sheet
// name only materializes that sheet. Empty tables are dropped.
func (e *SQLExecutor) Execute(ctx context.Context, db sqldb.DBTX, d sqldb.Dialect, ectx *extraction.Context, filter *extraction.Filter) error {
	if filter == nil {
		filter = &extraction.Filter{}
	}
	if filter.SheetName != "" {
		if _, ok := e.sheet(filter.SheetName); !ok {
			return errors.Wrapf(extraction.ErrDataIntegrity, "format %s has no sheet %s", e.spec.Format, filter.SheetName)
		}
	}

	for _, sheet := range e.spec.Sheets {
		if filter.Preview && filter.SheetName != "" && !strings.EqualFold(filter.SheetName, sheet.Name) {
			continue
		}
		if err := e.materialize(ctx, db, d, ectx, filter, sheet); err != nil {
			return errors.Wrapf(err, "sheet %s", sheet.Name)
		}
	}

	if ectx.Empty() {
		return errors.Wrapf(extraction.ErrNoData, "%s-%s produced no rows", e.spec.Format, e.spec.Version)
	}
	return nil
}

func (e *SQLExecutor) materialize(ctx context.Context, db sqldb.DBTX, d sqldb.Dialect, ectx *extraction.Context, filter *extraction.Filter, sheet SheetSpec) error {
	preds, err := extraction.SheetPredicates(filter, sheet.Name, sheet.Columns)
	if err != nil {
		return err
	}
	where, args, err := extraction.WhereClause(d, "q", preds)
	if err != nil {
		return err
	}

	limit := ""
	if filter.Preview && e.previewLimit > 0 {
		limit = fmt.Sprintf(" LIMIT %d", e.previewLimit)
	}

	table := extraction.TableName("ext", sheet.Name, ectx.ID)
	query := fmt.Sprintf("CREATE TABLE %s AS SELECT * FROM (%s) q%s%s",
		sqldb.QuoteIdentifier(table), sheet.Query, where, limit)
	if _, err := db.ExecContext(ctx, query, args...); err != nil {
		return errors.Mark(errors.Wrapf(err, "create %s", table), extraction.ErrTechnical)
	}
	ectx.AddTable(table, sheet.Name)

	n, err := sqldb.CountRows(ctx, db, table)
	if err != nil {
		return errors.Mark(err, extraction.ErrTechnical)
	}
	if n == 0 {
		ectx.RemoveTable(table)
		return errors.Mark(sqldb.DropTable(ctx, db, table), extraction.ErrTechnical)
	}

	ectx.SetHiddenColumns(table, sheet.Hidden)
	ectx.SetDistinct(table, sheet.Distinct)
	ectx.SetSpatial(table, sheet.Spatial)
	return nil
}
