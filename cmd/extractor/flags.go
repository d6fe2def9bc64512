package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/extraction/internal/extraction"
	"github.com/JonMunkholm/extraction/internal/sqldb"
)

// typeFlags select an extraction type, by id, label or format.
type typeFlags struct {
	id       int64
	label    string
	format   string
	version  string
	category string
}

func (f *typeFlags) register(cmd *cobra.Command) {
	cmd.Flags().Int64Var(&f.id, "id", 0, "Type id (negative for built-in formats)")
	cmd.Flags().StringVar(&f.label, "label", "", "Type label, e.g. RDB-1.3")
	cmd.Flags().StringVar(&f.format, "format", "", "Format name, e.g. rdb, free, agg_rdb")
	cmd.Flags().StringVar(&f.version, "version", "", "Format version (default: the only one registered)")
	cmd.Flags().StringVar(&f.category, "category", "", "Type category: live, product or aggregation")
}

func (f *typeFlags) example() (*extraction.Type, error) {
	kind, err := extraction.ParseKind(f.category)
	if err != nil {
		return nil, err
	}
	t := &extraction.Type{
		ID:      f.id,
		Kind:    kind,
		Label:   f.label,
		Format:  f.format,
		Version: f.version,
	}
	if t.ID == 0 && t.Label == "" && t.Format == "" {
		return nil, fmt.Errorf("one of --id, --label or --format is required")
	}
	return t, nil
}

// filterFlags build the row and column filter of an extraction.
type filterFlags struct {
	sheet    string
	where    []string
	include  []string
	exclude  []string
	distinct bool
}

func (f *filterFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.sheet, "sheet", "", "Sheet to extract or read")
	cmd.Flags().StringArrayVarP(&f.where, "where", "w", nil, `Criterion "[SHEET.]column operator [value[,value]]" (repeatable)`)
	cmd.Flags().StringSliceVar(&f.include, "include", nil, "Columns to keep")
	cmd.Flags().StringSliceVar(&f.exclude, "exclude", nil, "Columns to drop")
	cmd.Flags().BoolVar(&f.distinct, "distinct", false, "Remove duplicate rows")
}

func (f *filterFlags) filter() (*extraction.Filter, error) {
	filter := &extraction.Filter{
		SheetName:          strings.ToUpper(f.sheet),
		IncludeColumnNames: f.include,
		ExcludeColumnNames: f.exclude,
		Distinct:           f.distinct,
	}
	for _, w := range f.where {
		c, err := parseCriterion(w)
		if err != nil {
			return nil, err
		}
		filter.Criteria = append(filter.Criteria, c)
	}
	return filter, nil
}

// parseCriterion reads "[SHEET.]column operator [value[,value]]". Operators
// may be two words ("not in", "is null"). IN, NOT IN and BETWEEN split their
// value on commas.
func parseCriterion(s string) (extraction.Criterion, error) {
	fields := strings.Fields(s)
	if len(fields) < 2 {
		return extraction.Criterion{}, fmt.Errorf("invalid criterion %q: expected column, operator and value", s)
	}

	var c extraction.Criterion
	c.Name = fields[0]
	if sheet, col, ok := strings.Cut(c.Name, "."); ok {
		c.SheetName, c.Name = strings.ToUpper(sheet), col
	}

	var (
		op   sqldb.Operator
		rest []string
	)
	for n := min(3, len(fields)-1); n >= 1; n-- {
		if parsed, ok := sqldb.ParseOperator(strings.Join(fields[1:1+n], " ")); ok {
			op, rest = parsed, fields[1+n:]
			break
		}
	}
	if op == "" {
		return extraction.Criterion{}, fmt.Errorf("invalid criterion %q: unknown operator %q", s, fields[1])
	}
	c.Operator = string(op)

	value := strings.Join(rest, " ")
	switch op {
	case sqldb.OpNull, sqldb.OpNotNull:
	case sqldb.OpIn, sqldb.OpNotIn, sqldb.OpBetween:
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				c.Values = append(c.Values, v)
			}
		}
	default:
		c.Value = value
	}
	return c, nil
}

// strataFlags override the default strata of an aggregation sheet.
type strataFlags struct {
	sheet    string
	space    string
	time     string
	tech     string
	agg      string
	function string
}

func (f *strataFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.space, "space", "", "Spatial stratum column")
	cmd.Flags().StringVar(&f.time, "time", "", "Time stratum column")
	cmd.Flags().StringVar(&f.tech, "tech", "", "Technical stratum column")
	cmd.Flags().StringVar(&f.agg, "agg", "", "Aggregated measure column")
	cmd.Flags().StringVar(&f.function, "agg-func", "", "Aggregate function: SUM, AVG, MIN, MAX or COUNT")
}

// strata returns nil when no stratum flag is set, so defaults apply.
func (f *strataFlags) strata(sheet string) *extraction.Strata {
	if f.space == "" && f.time == "" && f.tech == "" && f.agg == "" && f.function == "" {
		return nil
	}
	return &extraction.Strata{
		SheetName:         strings.ToUpper(sheet),
		SpatialColumnName: f.space,
		TimeColumnName:    f.time,
		TechColumnName:    f.tech,
		AggColumnName:     f.agg,
		AggFunction:       strings.ToUpper(f.function),
	}
}
