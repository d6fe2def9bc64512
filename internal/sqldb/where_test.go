package sqldb

import (
	"reflect"
	"testing"
)

func TestNewWhereBuilder(t *testing.T) {
	wb := NewWhereBuilder(Postgres)

	if wb.argIndex != 1 {
		t.Errorf("expected argIndex to be 1, got %d", wb.argIndex)
	}
	if len(wb.conditions) != 0 {
		t.Errorf("expected empty conditions, got %d", len(wb.conditions))
	}
}

func TestWhereBuilder_Build_Empty(t *testing.T) {
	whereClause, args := NewWhereBuilder(Postgres).Build()

	if whereClause != "" {
		t.Errorf("expected empty string for no conditions, got %q", whereClause)
	}
	if args != nil {
		t.Errorf("expected nil args for no conditions, got %v", args)
	}
}

func TestWhereBuilder_Add(t *testing.T) {
	wb := NewWhereBuilder(Postgres)
	wb.Add("status", "active")
	wb.Add("year", 2016)

	whereClause, args := wb.Build()

	if want := ` WHERE "status" = $1 AND "year" = $2`; whereClause != want {
		t.Errorf("expected %q, got %q", want, whereClause)
	}
	if !reflect.DeepEqual(args, []any{"active", 2016}) {
		t.Errorf("unexpected args %v", args)
	}
	if wb.NextArgIndex() != 3 {
		t.Errorf("expected NextArgIndex 3, got %d", wb.NextArgIndex())
	}
}

func TestWhereBuilder_AddPredicate(t *testing.T) {
	tests := []struct {
		name     string
		dialect  Dialect
		pred     Predicate
		wantSQL  string
		wantArgs []any
	}{
		{"equals", Postgres, Predicate{"year", OpEquals, []any{"2016"}}, ` WHERE q."year" = $1`, []any{"2016"}},
		{"not equals", SQLite, Predicate{"area", OpNotEquals, []any{"27.7"}}, ` WHERE q."area" <> ?`, []any{"27.7"}},
		{"in", Postgres, Predicate{"gear_type", OpIn, []any{"OTB", "PTM"}}, ` WHERE q."gear_type" IN ($1, $2)`, []any{"OTB", "PTM"}},
		{"not in", SQLite, Predicate{"gear_type", OpNotIn, []any{"OTB"}}, ` WHERE q."gear_type" NOT IN (?)`, []any{"OTB"}},
		{"between", Postgres, Predicate{"month", OpBetween, []any{1, 3}}, ` WHERE q."month" BETWEEN $1 AND $2`, []any{1, 3}},
		{"null", Postgres, Predicate{"mesh_size", OpNull, nil}, ` WHERE q."mesh_size" IS NULL`, nil},
		{"like pg", Postgres, Predicate{"species", OpLike, []any{"cod"}}, ` WHERE q."species" ILIKE $1`, []any{"%cod%"}},
		{"like explicit", SQLite, Predicate{"species", OpLike, []any{"Gad%"}}, ` WHERE q."species" LIKE ?`, []any{"Gad%"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wb := NewWhereBuilder(tt.dialect).WithAlias("q")
			if err := wb.AddPredicate(tt.pred); err != nil {
				t.Fatalf("AddPredicate: %v", err)
			}
			gotSQL, gotArgs := wb.Build()
			if gotSQL != tt.wantSQL {
				t.Errorf("sql = %q, want %q", gotSQL, tt.wantSQL)
			}
			if !reflect.DeepEqual(gotArgs, tt.wantArgs) {
				t.Errorf("args = %v, want %v", gotArgs, tt.wantArgs)
			}
		})
	}
}

func TestWhereBuilder_AddPredicate_Invalid(t *testing.T) {
	tests := []Predicate{
		{"year", OpEquals, nil},
		{"year", OpIn, nil},
		{"year", OpBetween, []any{1}},
		{"year", Operator("~"), []any{1}},
	}

	for _, p := range tests {
		if err := NewWhereBuilder(Postgres).AddPredicate(p); err == nil {
			t.Errorf("AddPredicate(%v) expected error", p)
		}
	}
}

func TestWhereBuilder_WithArgOffset(t *testing.T) {
	wb := NewWhereBuilder(Postgres).WithArgOffset(2)
	wb.Add("year", 2016)

	whereClause, _ := wb.Build()
	if want := ` WHERE "year" = $3`; whereClause != want {
		t.Errorf("expected %q, got %q", want, whereClause)
	}
}

func TestParseOperator(t *testing.T) {
	tests := []struct {
		in   string
		want Operator
		ok   bool
	}{
		{"=", OpEquals, true},
		{"<>", OpNotEquals, true},
		{"In", OpIn, true},
		{"not  in", OpNotIn, true},
		{"IS NULL", OpNull, true},
		{"between", OpBetween, true},
		{"~=", "", false},
	}

	for _, tt := range tests {
		got, ok := ParseOperator(tt.in)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ParseOperator(%q) = %q, %v; want %q, %v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}

func TestQuoteIdentifier(t *testing.T) {
	if got := QuoteIdentifier(`we"ird`); got != `"we""ird"` {
		t.Errorf("QuoteIdentifier = %s", got)
	}
}
