package extraction

import (
	"strings"

	"github.com/JonMunkholm/extraction/internal/sqldb"
)

// validateFilter checks the parts of f that do not depend on table
// metadata. It runs before any I/O.
func validateFilter(f *Filter) error {
	for i, c := range f.Criteria {
		if strings.TrimSpace(c.Name) == "" {
			return integrityf("criterion %d has no column name", i)
		}
		op, ok := sqldb.ParseOperator(c.Operator)
		if !ok {
			return integrityf("criterion on %s: unknown operator %q", c.Name, c.Operator)
		}
		if _, err := criterionValues(c, op); err != nil {
			return err
		}
	}
	return nil
}

func criterionValues(c Criterion, op sqldb.Operator) ([]any, error) {
	raw := c.Values
	if len(raw) == 0 && c.Value != "" {
		raw = []string{c.Value}
	}

	want := -1
	switch op {
	case sqldb.OpNull, sqldb.OpNotNull:
		return nil, nil
	case sqldb.OpBetween:
		want = 2
	case sqldb.OpIn, sqldb.OpNotIn:
		if len(raw) == 0 {
			return nil, integrityf("criterion on %s: %s needs at least one value", c.Name, op)
		}
	default:
		want = 1
	}
	if want > 0 && len(raw) != want {
		return nil, integrityf("criterion on %s: %s needs %d value(s), got %d", c.Name, op, want, len(raw))
	}

	values := make([]any, len(raw))
	for i, v := range raw {
		values[i] = v
	}
	return values, nil
}

// SheetPredicates translates the criteria of f that apply to sheet.
//
// A criterion applies when its sheet (or the filter's sheet when it names
// none) equals sheet; criteria without any sheet apply to every sheet that
// has the column. A criterion explicitly scoped to sheet on a column the
// sheet lacks is an ErrDataIntegrity.
func SheetPredicates(f *Filter, sheet string, columns []string) ([]sqldb.Predicate, error) {
	if f == nil {
		return nil, nil
	}
	known := make(map[string]bool, len(columns))
	for _, c := range columns {
		known[strings.ToLower(c)] = true
	}

	var preds []sqldb.Predicate
	for _, c := range f.Criteria {
		scope := c.SheetName
		if scope == "" {
			scope = f.SheetName
		}
		if scope != "" && !strings.EqualFold(scope, sheet) {
			continue
		}

		name := strings.ToLower(strings.TrimSpace(c.Name))
		if !known[name] {
			if scope == "" {
				continue
			}
			return nil, integrityf("sheet %s has no column %s", sheet, c.Name)
		}

		op, ok := sqldb.ParseOperator(c.Operator)
		if !ok {
			return nil, integrityf("criterion on %s: unknown operator %q", c.Name, c.Operator)
		}
		values, err := criterionValues(c, op)
		if err != nil {
			return nil, err
		}
		preds = append(preds, sqldb.Predicate{Column: name, Operator: op, Values: values})
	}
	return preds, nil
}

// WhereClause builds the WHERE clause of preds, qualified with alias when
// not empty.
func WhereClause(d sqldb.Dialect, alias string, preds []sqldb.Predicate) (string, []any, error) {
	wb := sqldb.NewWhereBuilder(d)
	if alias != "" {
		wb.WithAlias(alias)
	}
	for _, p := range preds {
		if err := wb.AddPredicate(p); err != nil {
			return "", nil, integrityf("%v", err)
		}
	}
	clause, args := wb.Build()
	return clause, args, nil
}
