package extraction

import (
	"context"
	"database/sql"
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/JonMunkholm/extraction/internal/config"
	"github.com/JonMunkholm/extraction/internal/logging"
	"github.com/JonMunkholm/extraction/internal/sqldb"
)

// Aggregator builds aggregation tables from a source context and reads them
// grouped by space, time and technical dimensions.
type Aggregator struct {
	db       *sqldb.DB
	registry *Registry
	cfg      config.ExtractionConfig
}

// NewAggregator creates the aggregation engine.
func NewAggregator(db *sqldb.DB, registry *Registry, cfg config.ExtractionConfig) *Aggregator {
	return &Aggregator{db: db, registry: registry, cfg: cfg}
}

// Aggregate materializes one aggregation table per sheet of format found in
// source, grouped by every dimension the source provides. Rows are limited
// by the criteria of filter scoped to each sheet. Tables that end up empty
// are dropped; when none is left the error is marked ErrNoData.
func (a *Aggregator) Aggregate(ctx context.Context, db sqldb.DBTX, format *AggregationFormat, source *Context, filter *Filter, strata *Strata, into *Context) error {
	if filter == nil {
		filter = &Filter{}
	}

	for i := range format.Sheets {
		sheet := &format.Sheets[i]
		srcTable, ok := source.TableBySheet(sheet.Name)
		if !ok {
			continue
		}

		physical, err := sqldb.Columns(ctx, db, srcTable)
		if err != nil {
			return technical(err, "read source columns")
		}
		present := sqldb.ColumnNames(physical)

		dims := intersect(sheet.Dimensions(), present)
		var measures []string
		for _, m := range sheet.Measures {
			expr, ok := materializeExpr(m, present)
			if ok {
				measures = append(measures, expr+" AS "+sqldb.QuoteIdentifier(m.Name))
			}
		}
		if len(dims) == 0 || len(measures) == 0 {
			logging.FromContext(ctx).Debug("sheet has nothing to aggregate", "sheet", sheet.Name, "table", srcTable)
			continue
		}

		preds, err := SheetPredicates(filter, sheet.Name, present)
		if err != nil {
			return err
		}
		where, args, err := WhereClause(a.db.Dialect, "q", preds)
		if err != nil {
			return err
		}

		qualified := make([]string, len(dims))
		for i, d := range dims {
			qualified[i] = "q." + sqldb.QuoteIdentifier(d)
		}

		table := TableName("agg", sheet.Name, into.ID)
		query := fmt.Sprintf("CREATE TABLE %s AS SELECT %s, %s FROM %s q%s GROUP BY %s",
			sqldb.QuoteIdentifier(table),
			strings.Join(qualified, ", "),
			strings.Join(measures, ", "),
			sqldb.QuoteIdentifier(srcTable),
			where,
			strings.Join(qualified, ", "))
		if _, err := db.ExecContext(ctx, query, args...); err != nil {
			return technical(err, "create aggregation table "+table)
		}
		into.AddTable(table, sheet.Name)

		n, err := sqldb.CountRows(ctx, db, table)
		if err != nil {
			return technical(err, "count aggregated rows")
		}
		if n == 0 {
			if err := sqldb.DropTable(ctx, db, table); err != nil {
				return technical(err, "drop empty aggregation table")
			}
			into.RemoveTable(table)
			continue
		}

		into.SetSpatial(table, len(intersect(sheet.Spatial, present)) > 0)
		s := sheet.Default
		if strata != nil && (strata.SheetName == "" || strings.EqualFold(strata.SheetName, sheet.Name)) {
			s = strata.merge(sheet.Default)
		}
		into.SetStrata(sheet.Name, s)
		logging.FromContext(ctx).Debug("aggregated sheet", "sheet", sheet.Name, "table", table, "rows", n)
	}

	if into.Empty() {
		return noDataf("aggregation %s produced no rows", format.Format)
	}
	return nil
}

func materializeExpr(m Measure, present []string) (string, bool) {
	if m.Source == "" {
		return string(AggCount) + "(*)", true
	}
	if !slices.Contains(present, strings.ToLower(m.Source)) {
		return "", false
	}
	return fmt.Sprintf("%s(q.%s)", m.Materialize, sqldb.QuoteIdentifier(strings.ToLower(m.Source))), true
}

func intersect(want, have []string) []string {
	var out []string
	for _, w := range want {
		if slices.Contains(have, strings.ToLower(w)) {
			out = append(out, strings.ToLower(w))
		}
	}
	return out
}

// aggView is a resolved read target: table, sheet declaration and strata.
type aggView struct {
	table   string
	sheet   *AggregationSheet
	columns []string
	strata  Strata
	fn      AggFunc
}

// ValidateStrata checks explicit strata against the declared dimensions of
// the aggregation format. It does no I/O.
func (a *Aggregator) ValidateStrata(format, version string, s *Strata) error {
	if s == nil {
		return nil
	}
	f, ok := a.registry.AggregationFormat(format, version)
	if !ok {
		return integrityf("%s-%s is not an aggregation format", format, version)
	}
	if s.SheetName != "" {
		sheet, ok := f.Sheet(s.SheetName)
		if !ok {
			return integrityf("aggregation %s has no sheet %s", f.Format, s.SheetName)
		}
		return checkStrata(sheet, *s)
	}
	for i := range f.Sheets {
		if err := checkStrata(&f.Sheets[i], *s); err != nil {
			return err
		}
	}
	return nil
}

func checkStrata(sheet *AggregationSheet, s Strata) error {
	check := func(kind, col string, allowed []string) error {
		if col != "" && !slices.ContainsFunc(allowed, func(a string) bool { return strings.EqualFold(a, col) }) {
			return integrityf("%s is not a %s column of sheet %s (allowed: %s)", col, kind, sheet.Name, strings.Join(allowed, ", "))
		}
		return nil
	}
	if err := check("spatial", s.SpatialColumnName, sheet.Spatial); err != nil {
		return err
	}
	if err := check("time", s.TimeColumnName, sheet.Time); err != nil {
		return err
	}
	if err := check("technical", s.TechColumnName, sheet.Tech); err != nil {
		return err
	}
	if err := check("aggregated", s.AggColumnName, sheet.measureNames()); err != nil {
		return err
	}
	if s.AggFunction != "" {
		if _, ok := ParseAggFunc(s.AggFunction); !ok {
			return integrityf("unknown aggregate function %s", s.AggFunction)
		}
	}
	return nil
}

// view resolves the sheet to read and its effective strata. It returns nil
// when the context has no table for the sheet.
func (a *Aggregator) view(ctx context.Context, ectx *Context, filter *Filter, strata *Strata) (*aggView, error) {
	if filter == nil {
		filter = &Filter{}
	}
	format, ok := a.registry.AggregationFormat(ectx.Format, ectx.Version)
	if !ok {
		return nil, integrityf("%s-%s is not an aggregation format", ectx.Format, ectx.Version)
	}

	sheetName := ""
	switch {
	case strata != nil && strata.SheetName != "":
		sheetName = strata.SheetName
	case filter.SheetName != "":
		sheetName = filter.SheetName
	default:
		if stored := ectx.AllStrata(); len(stored) > 0 {
			sheetName = stored[0].SheetName
		} else if sheets := ectx.SheetNames(); len(sheets) > 0 {
			sheetName = sheets[0]
		}
	}

	table, ok := ectx.TableBySheet(sheetName)
	if !ok {
		return nil, nil
	}
	sheet, ok := format.Sheet(sheetName)
	if !ok {
		return nil, nil
	}

	// explicit, then stored at aggregation time, then format default
	s := Strata{}
	if strata != nil {
		s = *strata
	}
	if stored, ok := ectx.Strata(sheet.Name); ok {
		s = s.merge(stored)
	}
	s = s.merge(sheet.Default)
	s.SheetName = sheet.Name
	if err := checkStrata(sheet, s); err != nil {
		return nil, err
	}

	physical, err := sqldb.Columns(ctx, a.db, table)
	if err != nil {
		return nil, technical(err, "read aggregation columns")
	}
	v := &aggView{table: table, sheet: sheet, columns: sqldb.ColumnNames(physical), strata: s}

	for _, col := range []string{s.SpatialColumnName, s.TimeColumnName, s.TechColumnName, s.AggColumnName} {
		if col != "" && !slices.Contains(v.columns, strings.ToLower(col)) {
			return nil, integrityf("sheet %s was aggregated without column %s", sheet.Name, col)
		}
	}
	if s.AggColumnName == "" {
		return nil, integrityf("no aggregated column for sheet %s", sheet.Name)
	}

	m, _ := sheet.measure(s.AggColumnName)
	v.fn = m.Read
	if s.AggFunction != "" {
		v.fn, _ = ParseAggFunc(s.AggFunction)
	}
	if v.fn == "" {
		v.fn = AggSum
	}
	return v, nil
}

// where applies the criteria on columns that survived aggregation. The
// others were applied when the table was built.
func (v *aggView) where(d sqldb.Dialect, filter *Filter) (string, []any, error) {
	kept := filter.Clone()
	kept.Criteria = slices.DeleteFunc(kept.Criteria, func(c Criterion) bool {
		return !slices.Contains(v.columns, strings.ToLower(strings.TrimSpace(c.Name)))
	})
	preds, err := SheetPredicates(kept, v.sheet.Name, v.columns)
	if err != nil {
		return "", nil, err
	}
	return WhereClause(d, "", preds)
}

func (v *aggView) measureExpr() string {
	return fmt.Sprintf("%s(%s)", v.fn, sqldb.QuoteIdentifier(strings.ToLower(v.strata.AggColumnName)))
}

// ReadBySpace returns the aggregated measure grouped by the spatial and time
// strata, one page at a time. A context without the requested sheet yields an
// empty result.
func (a *Aggregator) ReadBySpace(ctx context.Context, ectx *Context, filter *Filter, strata *Strata, page *Page) (*Result, error) {
	v, err := a.view(ctx, ectx, filter, strata)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return emptyResult(), nil
	}

	var groups []string
	for _, col := range []string{v.strata.SpatialColumnName, v.strata.TimeColumnName} {
		if col != "" {
			groups = append(groups, strings.ToLower(col))
		}
	}
	if len(groups) == 0 {
		return nil, integrityf("no spatial or time column for sheet %s", v.sheet.Name)
	}
	agg := strings.ToLower(v.strata.AggColumnName)

	where, args, err := v.where(a.db.Dialect, filter)
	if err != nil {
		return nil, err
	}
	groupBy := strings.Join(sqldb.QuoteColumns(groups), ", ")
	base := fmt.Sprintf("SELECT %s, %s AS %s FROM %s%s GROUP BY %s",
		groupBy, v.measureExpr(), sqldb.QuoteIdentifier(agg), sqldb.QuoteIdentifier(v.table), where, groupBy)

	order := " ORDER BY " + groupBy
	if page != nil && page.SortBy != "" {
		sortable := append(slices.Clone(groups), agg)
		col := strings.ToLower(page.SortBy)
		switch {
		case slices.Contains(sortable, col):
			dir := "ASC"
			if strings.EqualFold(page.SortDirection, "DESC") {
				dir = "DESC"
			}
			order = fmt.Sprintf(" ORDER BY %s %s", sqldb.QuoteIdentifier(col), dir)
		case strings.EqualFold(page.SortBy, SortByDefault):
		default:
			return nil, integrityf("cannot sort sheet %s by %s", v.sheet.Name, page.SortBy)
		}
	}

	var total int64
	if err := a.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM ("+base+") g", args...).Scan(&total); err != nil {
		return nil, technical(err, "count aggregated rows")
	}

	limit := a.cfg.DefaultPageSize
	offset := 0
	if page != nil {
		if page.Size > 0 {
			limit = page.Size
		}
		offset = max(page.Offset, 0)
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := a.db.QueryContext(ctx, fmt.Sprintf("%s%s LIMIT %d OFFSET %d", base, order, limit, offset), args...)
	if err != nil {
		return nil, technical(err, "read aggregated rows")
	}
	defer rows.Close()

	cols := append(slices.Clone(groups), agg)
	result := &Result{
		Columns:     make([]ColumnMeta, len(cols)),
		Rows:        [][]any{},
		Total:       total,
		SpaceStrata: intersect(v.sheet.Spatial, v.columns),
		TimeStrata:  intersect(v.sheet.Time, v.columns),
		TechStrata:  intersect(v.sheet.Tech, v.columns),
		AggStrata:   intersect(v.sheet.measureNames(), v.columns),
	}
	for i, c := range cols {
		result.Columns[i] = ColumnMeta{Name: c, Rank: i + 1}
	}
	for rows.Next() {
		values, err := sqldb.ScanValues(rows, len(cols))
		if err != nil {
			return nil, technical(err, "scan aggregated row")
		}
		result.Rows = append(result.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, technical(err, "read aggregated rows")
	}
	return result, nil
}

// ReadByTech returns the aggregated measure for each value of the technical
// column. sortBy "value" (or the measure name) orders keys by measure,
// anything else by key.
func (a *Aggregator) ReadByTech(ctx context.Context, ectx *Context, filter *Filter, strata *Strata, sortBy, direction string) (*TechResult, error) {
	result := &TechResult{Keys: []string{}, Data: map[string]float64{}}

	v, err := a.view(ctx, ectx, filter, strata)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return result, nil
	}
	if v.strata.TechColumnName == "" {
		return nil, integrityf("no technical column for sheet %s", v.sheet.Name)
	}
	tech := sqldb.QuoteIdentifier(strings.ToLower(v.strata.TechColumnName))

	where, args, err := v.where(a.db.Dialect, filter)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT %s, %s FROM %s%s GROUP BY %s",
		tech, v.measureExpr(), sqldb.QuoteIdentifier(v.table), where, tech)

	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, technical(err, "read technical aggregation")
	}
	defer rows.Close()

	for rows.Next() {
		var key any
		var value sql.NullFloat64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, technical(err, "scan technical aggregation")
		}
		k := formatCell(key)
		result.Keys = append(result.Keys, k)
		result.Data[k] = value.Float64
	}
	if err := rows.Err(); err != nil {
		return nil, technical(err, "read technical aggregation")
	}

	desc := strings.EqualFold(direction, "DESC")
	byValue := strings.EqualFold(sortBy, "value") || strings.EqualFold(sortBy, v.strata.AggColumnName)
	less := func(ki, kj string) bool {
		if byValue && result.Data[ki] != result.Data[kj] {
			return result.Data[ki] < result.Data[kj]
		}
		return ki < kj
	}
	sort.SliceStable(result.Keys, func(i, j int) bool {
		if desc {
			return less(result.Keys[j], result.Keys[i])
		}
		return less(result.Keys[i], result.Keys[j])
	})
	return result, nil
}

// GetTechMinMax returns the bounds of the aggregated measure over the cells
// of the space x time x tech grid.
func (a *Aggregator) GetTechMinMax(ctx context.Context, ectx *Context, filter *Filter, strata *Strata) (*MinMax, error) {
	v, err := a.view(ctx, ectx, filter, strata)
	if err != nil {
		return nil, err
	}
	if v == nil {
		return &MinMax{}, nil
	}

	var groups []string
	for _, col := range []string{v.strata.SpatialColumnName, v.strata.TimeColumnName, v.strata.TechColumnName} {
		if col != "" {
			groups = append(groups, strings.ToLower(col))
		}
	}
	if len(groups) == 0 {
		return nil, integrityf("no spatial, time or technical column for sheet %s", v.sheet.Name)
	}

	where, args, err := v.where(a.db.Dialect, filter)
	if err != nil {
		return nil, err
	}
	query := fmt.Sprintf("SELECT MIN(v), MAX(v) FROM (SELECT %s AS v FROM %s%s GROUP BY %s) g",
		v.measureExpr(), sqldb.QuoteIdentifier(v.table), where, strings.Join(sqldb.QuoteColumns(groups), ", "))

	var lo, hi sql.NullFloat64
	if err := a.db.QueryRowContext(ctx, query, args...).Scan(&lo, &hi); err != nil {
		return nil, technical(err, "read technical bounds")
	}
	return &MinMax{Min: lo.Float64, Max: hi.Float64}, nil
}
