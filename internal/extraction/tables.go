package extraction

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/JonMunkholm/extraction/internal/config"
	"github.com/JonMunkholm/extraction/internal/sqldb"
)

// Tables reads and exports the physical tables of a context.
type Tables struct {
	db       *sqldb.DB
	registry *Registry
	cfg      config.ExtractionConfig
}

// NewTables creates the table reader/exporter.
func NewTables(db *sqldb.DB, registry *Registry, cfg config.ExtractionConfig) *Tables {
	return &Tables{db: db, registry: registry, cfg: cfg}
}

// tableView is the resolved projection of one table for one filter.
type tableView struct {
	table    string
	sheet    string
	all      []string // physical columns
	columns  []ColumnMeta
	distinct bool
}

func (v *tableView) names() []string {
	names := make([]string, len(v.columns))
	for i, c := range v.columns {
		names[i] = c.Name
	}
	return names
}

// Columns returns the visible columns of table for filter, in canonical
// order, and whether reads must be DISTINCT.
//
// Columns listed in the canonical order of the format's sheet come first;
// the others keep their natural order. Columns outside a non-empty include
// set, excluded columns and hidden columns are removed. When anything was
// removed from a distinct-sensitive table, distinct is forced.
func (t *Tables) Columns(ctx context.Context, ectx *Context, table string, filter *Filter) ([]ColumnMeta, bool, error) {
	v, err := t.view(ctx, ectx, table, filter)
	if err != nil {
		return nil, false, err
	}
	return v.columns, v.distinct, nil
}

func (t *Tables) view(ctx context.Context, ectx *Context, table string, filter *Filter) (*tableView, error) {
	if filter == nil {
		filter = &Filter{}
	}
	physical, err := sqldb.Columns(ctx, t.db, table)
	if err != nil {
		return nil, technical(err, "read table columns")
	}

	sheet := ectx.SheetOf(table)
	ordered := orderColumns(physical, t.registry.ColumnOrder(ectx.Format, ectx.Version, sheet))

	include := lowerSet(filter.IncludeColumnNames)
	remove := lowerSet(filter.ExcludeColumnNames)
	for _, h := range ectx.HiddenColumns(table) {
		remove[strings.ToLower(h)] = true
	}

	v := &tableView{table: table, sheet: sheet, all: sqldb.ColumnNames(physical)}
	removed := false
	for _, c := range ordered {
		if (len(include) > 0 && !include[c.Name]) || remove[c.Name] {
			removed = true
			continue
		}
		v.columns = append(v.columns, ColumnMeta{Name: c.Name, Type: c.Type, Rank: len(v.columns) + 1})
	}
	v.distinct = filter.Distinct || (removed && ectx.IsDistinct(table))
	return v, nil
}

// orderColumns puts the columns named in order first, in that order.
func orderColumns(cols []sqldb.Column, order []string) []sqldb.Column {
	if len(order) == 0 {
		return cols
	}
	rank := make(map[string]int, len(order))
	for i, name := range order {
		rank[strings.ToLower(name)] = i
	}
	out := slices.Clone(cols)
	slices.SortStableFunc(out, func(a, b sqldb.Column) int {
		ra, oka := rank[a.Name]
		rb, okb := rank[b.Name]
		switch {
		case oka && okb:
			return ra - rb
		case oka:
			return -1
		case okb:
			return 1
		}
		return 0
	})
	return out
}

func lowerSet(names []string) map[string]bool {
	set := make(map[string]bool, len(names))
	for _, n := range names {
		if n = strings.ToLower(strings.TrimSpace(n)); n != "" {
			set[n] = true
		}
	}
	return set
}

// selectQuery builds the SELECT of a view, without paging.
func (t *Tables) selectQuery(v *tableView, filter *Filter) (string, []any, error) {
	if len(v.columns) == 0 {
		return "", nil, integrityf("no visible column left in sheet %s", v.sheet)
	}
	preds, err := SheetPredicates(filter, v.sheet, v.all)
	if err != nil {
		return "", nil, err
	}
	where, args, err := WhereClause(t.db.Dialect, "", preds)
	if err != nil {
		return "", nil, err
	}

	distinct := ""
	if v.distinct {
		distinct = "DISTINCT "
	}
	query := fmt.Sprintf("SELECT %s%s FROM %s%s",
		distinct, strings.Join(sqldb.QuoteColumns(v.names()), ", "), sqldb.QuoteIdentifier(v.table), where)
	return query, args, nil
}

// orderBy validates the sort of page against the table columns. The
// default sort key is dropped when the table has no such column.
func orderBy(v *tableView, page *Page) (string, error) {
	if page == nil || page.SortBy == "" {
		return "", nil
	}
	col := strings.ToLower(page.SortBy)
	sortable := v.all
	if v.distinct {
		// DISTINCT only sorts by selected columns
		sortable = v.names()
	}
	if !slices.Contains(sortable, col) {
		if strings.EqualFold(page.SortBy, SortByDefault) {
			return "", nil
		}
		return "", integrityf("cannot sort sheet %s by unknown column %s", v.sheet, page.SortBy)
	}

	dir := "ASC"
	switch strings.ToUpper(page.SortDirection) {
	case "", "ASC":
	case "DESC":
		dir = "DESC"
	default:
		return "", integrityf("unknown sort direction %q", page.SortDirection)
	}
	return fmt.Sprintf(" ORDER BY %s %s", sqldb.QuoteIdentifier(col), dir), nil
}

func (t *Tables) pageSize(page *Page) (limit, offset int) {
	limit = t.cfg.DefaultPageSize
	if limit <= 0 {
		limit = 100
	}
	if page != nil {
		if page.Size > 0 {
			limit = page.Size
		}
		if page.Offset > 0 {
			offset = page.Offset
		}
	}
	return limit, offset
}

// ReadTable returns one page of table along with the total row count.
func (t *Tables) ReadTable(ctx context.Context, ectx *Context, table string, filter *Filter, page *Page) (*Result, error) {
	v, err := t.view(ctx, ectx, table, filter)
	if err != nil {
		return nil, err
	}
	query, args, err := t.selectQuery(v, filter)
	if err != nil {
		return nil, err
	}
	order, err := orderBy(v, page)
	if err != nil {
		return nil, err
	}

	var total int64
	countQuery := "SELECT COUNT(*) FROM (" + query + ") c"
	if err := t.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, technical(err, "count rows")
	}

	limit, offset := t.pageSize(page)
	rows, err := t.db.QueryContext(ctx, fmt.Sprintf("%s%s LIMIT %d OFFSET %d", query, order, limit, offset), args...)
	if err != nil {
		return nil, technical(err, "read rows")
	}
	defer rows.Close()

	result := &Result{Columns: v.columns, Rows: [][]any{}, Total: total}
	for rows.Next() {
		values, err := sqldb.ScanValues(rows, len(v.columns))
		if err != nil {
			return nil, technical(err, "scan row")
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, technical(err, "read rows")
	}
	return result, nil
}
