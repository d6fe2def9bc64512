package extraction

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Context records the physical tables backing one execution and how they map
// to sheets. It is owned by the execution that created it and is released
// with Service.Clean.
//
// For aggregations (Kind == KindAggregation) it also carries the strata used
// per sheet, the parent type and the ad-hoc source context, which is cleaned
// together with it.
type Context struct {
	ID      int64
	Kind    Kind
	Format  string
	Version string
	Type    *Type
	Parent  *Type

	mu         sync.Mutex
	tables     []tableRef
	hidden     map[string][]string
	distinct   map[string]bool
	spatial    map[string]bool
	persistent map[string]bool
	strata     map[string]Strata
	source     *Context
	cleaned    bool
}

type tableRef struct {
	name  string
	sheet string
}

// NewContext creates an empty context for an execution of t.
func NewContext(id int64, t *Type) *Context {
	return &Context{
		ID:         id,
		Kind:       t.Kind,
		Format:     t.Format,
		Version:    t.Version,
		Type:       t,
		hidden:     make(map[string][]string),
		distinct:   make(map[string]bool),
		spatial:    make(map[string]bool),
		persistent: make(map[string]bool),
		strata:     make(map[string]Strata),
	}
}

// IsAggregation reports whether the context holds aggregation tables.
func (c *Context) IsAggregation() bool {
	return c.Kind == KindAggregation
}

// AddTable registers a physical table for sheet. Insertion order is the
// display order.
func (c *Context) AddTable(table, sheet string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tables {
		if t.name == table {
			return
		}
	}
	c.tables = append(c.tables, tableRef{name: table, sheet: sheet})
}

// RemoveTable forgets table (used when a sheet turned out empty and its
// table was dropped).
func (c *Context) RemoveTable(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tables = slices.DeleteFunc(c.tables, func(t tableRef) bool { return t.name == table })
	delete(c.hidden, table)
	delete(c.distinct, table)
	delete(c.spatial, table)
	delete(c.persistent, table)
}

// RenameTable replaces from by to, keeping the sheet and table metadata.
func (c *Context) RenameTable(from, to string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, t := range c.tables {
		if t.name == from {
			c.tables[i].name = to
		}
	}
	for _, m := range []map[string]bool{c.distinct, c.spatial, c.persistent} {
		if v, ok := m[from]; ok {
			m[to] = v
			delete(m, from)
		}
	}
	if v, ok := c.hidden[from]; ok {
		c.hidden[to] = v
		delete(c.hidden, from)
	}
}

// TableNames returns the physical table names in display order.
func (c *Context) TableNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.tables))
	for i, t := range c.tables {
		names[i] = t.name
	}
	return names
}

// SheetNames returns the sheet names in display order.
func (c *Context) SheetNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	names := make([]string, len(c.tables))
	for i, t := range c.tables {
		names[i] = t.sheet
	}
	return names
}

// TableBySheet returns the table backing sheet (case-insensitive).
func (c *Context) TableBySheet(sheet string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tables {
		if strings.EqualFold(t.sheet, sheet) {
			return t.name, true
		}
	}
	return "", false
}

// SheetOf returns the sheet name of table.
func (c *Context) SheetOf(table string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range c.tables {
		if t.name == table {
			return t.sheet
		}
	}
	return ""
}

// Empty reports whether no table is registered.
func (c *Context) Empty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tables) == 0
}

func (c *Context) SetHiddenColumns(table string, columns []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(columns) == 0 {
		delete(c.hidden, table)
		return
	}
	c.hidden[table] = append([]string(nil), columns...)
}

func (c *Context) HiddenColumns(table string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.hidden[table]...)
}

// SetDistinct declares the table's query as distinct-sensitive: removing
// columns from it forces DISTINCT on reads.
func (c *Context) SetDistinct(table string, distinct bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.distinct[table] = distinct
}

func (c *Context) IsDistinct(table string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.distinct[table]
}

func (c *Context) SetSpatial(table string, spatial bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.spatial[table] = spatial
}

func (c *Context) IsSpatial(table string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.spatial[table]
}

// MarkPersistent protects table from being dropped by Clean.
func (c *Context) MarkPersistent(table string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.persistent[table] = true
}

func (c *Context) IsPersistent(table string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.persistent[table]
}

// SetStrata records the strata an aggregation sheet was built with.
func (c *Context) SetStrata(sheet string, s Strata) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s.SheetName = sheet
	c.strata[strings.ToUpper(sheet)] = s
}

// Strata returns the strata recorded for sheet.
func (c *Context) Strata(sheet string) (Strata, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.strata[strings.ToUpper(sheet)]
	return s, ok
}

// AllStrata returns the recorded strata in sheet display order.
func (c *Context) AllStrata() []Strata {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Strata
	for _, t := range c.tables {
		if s, ok := c.strata[strings.ToUpper(t.sheet)]; ok {
			out = append(out, s)
		}
	}
	return out
}

func (c *Context) setSource(src *Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.source = src
}

// Source returns the ad-hoc context an aggregation was computed from.
func (c *Context) Source() *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.source
}

// detachCleanable returns the tables to drop and marks the context cleaned.
// Subsequent calls return nothing, so each table is handed out exactly once.
func (c *Context) detachCleanable() ([]string, *Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cleaned {
		return nil, nil
	}
	c.cleaned = true

	var drop []string
	for _, t := range c.tables {
		if !c.persistent[t.name] {
			drop = append(drop, t.name)
		}
	}
	return drop, c.source
}

// Cleaned reports whether Clean was already requested.
func (c *Context) Cleaned() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cleaned
}

// contextFromProduct wraps the stored tables of a persisted product. The
// tables are marked persistent.
func contextFromProduct(t *Type) *Context {
	c := NewContext(t.ID, t)
	for _, pt := range t.Tables {
		c.AddTable(pt.TableName, pt.Label)
		c.MarkPersistent(pt.TableName)
		c.SetHiddenColumns(pt.TableName, pt.HiddenColumns)
		c.SetDistinct(pt.TableName, pt.Distinct)
		c.SetSpatial(pt.TableName, pt.IsSpatial)
	}
	for _, s := range t.Strata {
		if s.SheetName != "" {
			c.SetStrata(s.SheetName, s)
		}
	}
	return c
}

// TableName returns a physical table name unique to one execution:
// {prefix}_{sheet}_{id}_{random}.
func TableName(prefix, sheet string, id int64) string {
	if id < 0 {
		id = -id
	}
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("%s_%s_%d_%s", prefix, identifierPart(sheet), id, suffix)
}

// identifierPart keeps the lower-cased letters, digits and underscores of s.
func identifierPart(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '_' {
			b.WriteRune(r)
		}
	}
	if b.Len() == 0 {
		return "sheet"
	}
	return b.String()
}
