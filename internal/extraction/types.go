package extraction

import (
	"fmt"
	"strings"
	"time"
)

// Kind is the category of an extraction type.
type Kind int

const (
	// KindAny is only meaningful on an example passed to the resolver:
	// it places no constraint on the category.
	KindAny Kind = iota
	KindLive
	KindProduct
	KindAggregation
)

func (k Kind) String() string {
	switch k {
	case KindLive:
		return "LIVE"
	case KindProduct:
		return "PRODUCT"
	case KindAggregation:
		return "AGGREGATION"
	default:
		return "ANY"
	}
}

// ParseKind parses a category name, case-insensitively.
func ParseKind(s string) (Kind, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "", "ANY":
		return KindAny, nil
	case "LIVE":
		return KindLive, nil
	case "PRODUCT":
		return KindProduct, nil
	case "AGGREGATION", "AGG":
		return KindAggregation, nil
	}
	return KindAny, integrityf("unknown extraction category: %s", s)
}

// Frequency is the processing frequency label of a product.
type Frequency string

const (
	FrequencyNever   Frequency = "NEVER"
	FrequencyManual  Frequency = "MANUALLY"
	FrequencyDaily   Frequency = "DAILY"
	FrequencyWeekly  Frequency = "WEEKLY"
	FrequencyMonthly Frequency = "MONTHLY"
)

// Status of a persisted product.
type Status string

const (
	StatusEnabled  Status = "ENABLED"
	StatusDisabled Status = "DISABLED"
)

// Type identifies an extraction format or a persisted product.
//
// Built-in types (live formats and live aggregations) carry a synthetic
// negative ID. Persisted products carry the positive ID assigned by the
// product repository. Zero means "not identified yet".
type Type struct {
	ID       int64
	Kind     Kind
	Format   string
	Version  string
	Label    string
	Name     string
	ParentID int64
	Parent   *Type

	Tables              []ProductTable
	Filter              *Filter
	Strata              []Strata
	ProcessingFrequency Frequency
	Status              Status
	UpdateDate          time.Time
}

// IsPersisted reports whether t is a stored product.
func (t *Type) IsPersisted() bool {
	return t != nil && t.ID > 0
}

// IsAggregation reports whether t produces aggregation tables.
func (t *Type) IsAggregation() bool {
	return t != nil && t.Kind == KindAggregation
}

// IsLive reports whether t is computed from operational data on each
// execution rather than read from stored tables.
func (t *Type) IsLive() bool {
	return t != nil && !t.IsPersisted() && t.Kind != KindProduct
}

// SheetNames returns the sheet labels of a product's tables, in rank order.
func (t *Type) SheetNames() []string {
	names := make([]string, 0, len(t.Tables))
	for _, pt := range t.Tables {
		names = append(names, pt.Label)
	}
	return names
}

// StrataFor returns the stored strata of sheet, if any.
func (t *Type) StrataFor(sheet string) (Strata, bool) {
	for _, s := range t.Strata {
		if strings.EqualFold(s.SheetName, sheet) {
			return s, true
		}
	}
	return Strata{}, false
}

func (t *Type) String() string {
	return fmt.Sprintf("%s %s-%s (id=%d, label=%s)", t.Kind, t.Format, t.Version, t.ID, t.Label)
}

// DefaultLabel is the label given to built-in types: FORMAT-version.
func DefaultLabel(format, version string) string {
	return strings.ToUpper(format) + "-" + version
}

// ColumnMeta describes one column of a produced table.
type ColumnMeta struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Rank int    `json:"rank"`
}

// ProductTable describes a physical table belonging to a product.
type ProductTable struct {
	ID            int64
	TableName     string
	Label         string // sheet name
	Rank          int
	IsSpatial     bool
	Distinct      bool
	Columns       []ColumnMeta
	HiddenColumns []string
}

// Criterion is a single filter condition on one column of one sheet.
// An empty SheetName inherits the filter's sheet.
type Criterion struct {
	SheetName string   `json:"sheetName,omitempty"`
	Name      string   `json:"name"`
	Operator  string   `json:"operator"`
	Value     string   `json:"value,omitempty"`
	Values    []string `json:"values,omitempty"`
}

// Filter restricts the rows and columns of an extraction.
type Filter struct {
	SheetName          string      `json:"sheetName,omitempty"`
	Criteria           []Criterion `json:"criteria,omitempty"`
	IncludeColumnNames []string    `json:"includeColumnNames,omitempty"`
	ExcludeColumnNames []string    `json:"excludeColumnNames,omitempty"`
	Distinct           bool        `json:"distinct,omitempty"`
	Preview            bool        `json:"preview,omitempty"`
}

// Clone returns a deep copy of f. A nil filter clones to an empty one.
func (f *Filter) Clone() *Filter {
	if f == nil {
		return &Filter{}
	}
	c := *f
	c.Criteria = make([]Criterion, len(f.Criteria))
	for i, cr := range f.Criteria {
		cr.Values = append([]string(nil), cr.Values...)
		c.Criteria[i] = cr
	}
	c.IncludeColumnNames = append([]string(nil), f.IncludeColumnNames...)
	c.ExcludeColumnNames = append([]string(nil), f.ExcludeColumnNames...)
	return &c
}

// Strata names the dimension and measure columns used to group an
// aggregation sheet.
type Strata struct {
	SheetName         string `json:"sheetName,omitempty"`
	SpatialColumnName string `json:"spatialColumnName,omitempty"`
	TimeColumnName    string `json:"timeColumnName,omitempty"`
	TechColumnName    string `json:"techColumnName,omitempty"`
	AggColumnName     string `json:"aggColumnName,omitempty"`
	AggFunction       string `json:"aggFunction,omitempty"`
}

// merge fills the empty fields of s from def.
func (s Strata) merge(def Strata) Strata {
	if s.SheetName == "" {
		s.SheetName = def.SheetName
	}
	if s.SpatialColumnName == "" {
		s.SpatialColumnName = def.SpatialColumnName
	}
	if s.TimeColumnName == "" {
		s.TimeColumnName = def.TimeColumnName
	}
	if s.TechColumnName == "" {
		s.TechColumnName = def.TechColumnName
	}
	if s.AggColumnName == "" {
		s.AggColumnName = def.AggColumnName
	}
	if s.AggFunction == "" {
		s.AggFunction = def.AggFunction
	}
	return s
}

// SortByDefault is the sort key meaning "identity order". It is dropped when
// the table being read has no such column.
const SortByDefault = "id"

// Page selects a window of rows.
type Page struct {
	Offset        int
	Size          int
	SortBy        string
	SortDirection string
}

// Result holds the rows of one read. The strata lists are only set by
// space reads on aggregations.
type Result struct {
	Columns []ColumnMeta
	Rows    [][]any
	Total   int64

	SpaceStrata []string
	TimeStrata  []string
	TechStrata  []string
	AggStrata   []string
}

func emptyResult() *Result {
	return &Result{Columns: []ColumnMeta{}, Rows: [][]any{}}
}

// TechResult maps each value of the technical column to its aggregated
// measure. Keys holds the map keys in the requested order.
type TechResult struct {
	Keys []string
	Data map[string]float64
}

// MinMax bounds the aggregated measure over all space/time/tech cells.
type MinMax struct {
	Min float64
	Max float64
}

// FetchOptions controls what the product repository loads.
type FetchOptions struct {
	WithTables bool
}

// TypeFilter selects types returned by FindTypes.
type TypeFilter struct {
	Kind       Kind
	Format     string
	Statuses   []Status
	Frequency  Frequency
	SearchText string
}

// Clone returns a copy of t that shares no slices with it. The parent is
// cloned too.
func (t *Type) Clone() *Type {
	if t == nil {
		return nil
	}
	c := *t
	c.Parent = t.Parent.Clone()
	c.Tables = make([]ProductTable, len(t.Tables))
	for i, pt := range t.Tables {
		pt.Columns = append([]ColumnMeta(nil), pt.Columns...)
		pt.HiddenColumns = append([]string(nil), pt.HiddenColumns...)
		c.Tables[i] = pt
	}
	if t.Filter != nil {
		c.Filter = t.Filter.Clone()
	}
	c.Strata = append([]Strata(nil), t.Strata...)
	return &c
}
