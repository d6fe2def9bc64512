package sqldb

import (
	"fmt"
	"strings"
)

// Operator is a comparison operator of a Predicate.
type Operator string

const (
	OpEquals    Operator = "="
	OpNotEquals Operator = "!="
	OpGreater   Operator = ">"
	OpGreaterEq Operator = ">="
	OpLess      Operator = "<"
	OpLessEq    Operator = "<="
	OpIn        Operator = "IN"
	OpNotIn     Operator = "NOT IN"
	OpBetween   Operator = "BETWEEN"
	OpNull      Operator = "NULL"
	OpNotNull   Operator = "NOT NULL"
	OpLike      Operator = "LIKE"
)

var operatorAliases = map[string]Operator{
	"=":           OpEquals,
	"==":          OpEquals,
	"eq":          OpEquals,
	"!=":          OpNotEquals,
	"<>":          OpNotEquals,
	"ne":          OpNotEquals,
	">":           OpGreater,
	"gt":          OpGreater,
	">=":          OpGreaterEq,
	"gte":         OpGreaterEq,
	"<":           OpLess,
	"lt":          OpLess,
	"<=":          OpLessEq,
	"lte":         OpLessEq,
	"in":          OpIn,
	"not in":      OpNotIn,
	"between":     OpBetween,
	"null":        OpNull,
	"is null":     OpNull,
	"not null":    OpNotNull,
	"is not null": OpNotNull,
	"like":        OpLike,
	"contains":    OpLike,
}

// ParseOperator resolves an operator symbol or keyword, case-insensitively.
func ParseOperator(s string) (Operator, bool) {
	op, ok := operatorAliases[strings.ToLower(strings.Join(strings.Fields(s), " "))]
	return op, ok
}

// Predicate is one column condition: Column Operator Values.
type Predicate struct {
	Column   string
	Operator Operator
	Values   []any
}

// WhereBuilder accumulates AND-ed conditions with bound arguments.
type WhereBuilder struct {
	dialect    Dialect
	alias      string
	conditions []string
	args       []any
	argIndex   int
}

// NewWhereBuilder creates an empty builder whose first argument is number 1.
func NewWhereBuilder(d Dialect) *WhereBuilder {
	return &WhereBuilder{dialect: d, argIndex: 1}
}

// WithAlias qualifies every column with the given table alias.
func (wb *WhereBuilder) WithAlias(alias string) *WhereBuilder {
	wb.alias = alias
	return wb
}

// WithArgOffset starts numbering after args already bound by the caller.
func (wb *WhereBuilder) WithArgOffset(n int) *WhereBuilder {
	wb.argIndex = n + 1
	return wb
}

func (wb *WhereBuilder) column(name string) string {
	if wb.alias == "" {
		return QuoteIdentifier(name)
	}
	return wb.alias + "." + QuoteIdentifier(name)
}

func (wb *WhereBuilder) bind(v any) string {
	ph := wb.dialect.Placeholder(wb.argIndex)
	wb.args = append(wb.args, v)
	wb.argIndex++
	return ph
}

// Add adds an equality condition.
func (wb *WhereBuilder) Add(column string, value any) {
	wb.conditions = append(wb.conditions, fmt.Sprintf("%s = %s", wb.column(column), wb.bind(value)))
}

// AddPredicate translates p into SQL. Returns an error when the operator
// does not accept the number of values given.
func (wb *WhereBuilder) AddPredicate(p Predicate) error {
	col := wb.column(p.Column)

	switch p.Operator {
	case OpEquals, OpNotEquals, OpGreater, OpGreaterEq, OpLess, OpLessEq:
		if len(p.Values) != 1 {
			return fmt.Errorf("operator %s on %s expects one value, got %d", p.Operator, p.Column, len(p.Values))
		}
		op := string(p.Operator)
		if p.Operator == OpNotEquals {
			op = "<>"
		}
		wb.conditions = append(wb.conditions, fmt.Sprintf("%s %s %s", col, op, wb.bind(p.Values[0])))

	case OpIn, OpNotIn:
		if len(p.Values) == 0 {
			return fmt.Errorf("operator %s on %s expects at least one value", p.Operator, p.Column)
		}
		placeholders := make([]string, len(p.Values))
		for i, v := range p.Values {
			placeholders[i] = wb.bind(v)
		}
		wb.conditions = append(wb.conditions,
			fmt.Sprintf("%s %s (%s)", col, p.Operator, strings.Join(placeholders, ", ")))

	case OpBetween:
		if len(p.Values) != 2 {
			return fmt.Errorf("operator BETWEEN on %s expects two values, got %d", p.Column, len(p.Values))
		}
		lo := wb.bind(p.Values[0])
		hi := wb.bind(p.Values[1])
		wb.conditions = append(wb.conditions, fmt.Sprintf("%s BETWEEN %s AND %s", col, lo, hi))

	case OpNull:
		wb.conditions = append(wb.conditions, col+" IS NULL")

	case OpNotNull:
		wb.conditions = append(wb.conditions, col+" IS NOT NULL")

	case OpLike:
		if len(p.Values) != 1 {
			return fmt.Errorf("operator LIKE on %s expects one value, got %d", p.Column, len(p.Values))
		}
		pattern := fmt.Sprint(p.Values[0])
		if !strings.ContainsAny(pattern, "%_") {
			pattern = "%" + pattern + "%"
		}
		wb.conditions = append(wb.conditions,
			fmt.Sprintf("%s %s %s", col, wb.dialect.CaseInsensitiveLike(), wb.bind(pattern)))

	default:
		return fmt.Errorf("unsupported operator %q on %s", p.Operator, p.Column)
	}
	return nil
}

// Build returns the WHERE clause (with a leading space) and its arguments.
// Returns "" and nil when no condition was added.
func (wb *WhereBuilder) Build() (string, []any) {
	if len(wb.conditions) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(wb.conditions, " AND "), wb.args
}

// NextArgIndex returns the number of the next bound argument.
func (wb *WhereBuilder) NextArgIndex() int {
	return wb.argIndex
}
