package extraction

import (
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/JonMunkholm/extraction/internal/config"
)

// TTLClass names a result cache partition. Each partition expires
// independently.
type TTLClass string

const (
	TTLShort   TTLClass = "short"
	TTLDefault TTLClass = "default"
	TTLLong    TTLClass = "long"
)

// Caches holds the result partitions and the two type caches.
// All caches are safe for concurrent use; a miss is not single-flighted, so
// concurrent misses may compute the same value twice.
type Caches struct {
	results       map[TTLClass]*expirable.LRU[uint64, any]
	typeByExample *expirable.LRU[uint64, *Type]
	typeList      *expirable.LRU[uint64, []*Type]
}

// NewCaches creates the cache partitions sized and timed from cfg.
func NewCaches(cfg config.CacheConfig) *Caches {
	size := cfg.Size
	if size <= 0 {
		size = 500
	}
	return &Caches{
		results: map[TTLClass]*expirable.LRU[uint64, any]{
			TTLShort:   expirable.NewLRU[uint64, any](size, nil, cfg.ShortTTL),
			TTLDefault: expirable.NewLRU[uint64, any](size, nil, cfg.DefaultTTL),
			TTLLong:    expirable.NewLRU[uint64, any](size, nil, cfg.LongTTL),
		},
		typeByExample: expirable.NewLRU[uint64, *Type](size, nil, cfg.TypeTTL),
		typeList:      expirable.NewLRU[uint64, []*Type](size, nil, cfg.TypeTTL),
	}
}

func (c *Caches) partition(ttl TTLClass) *expirable.LRU[uint64, any] {
	if p, ok := c.results[ttl]; ok {
		return p
	}
	return c.results[TTLDefault]
}

// WithCache returns the cached value of key in the ttl partition, or
// computes it with fn. Only successful results are stored.
func WithCache[T any](c *Caches, ttl TTLClass, key uint64, fn func() (T, error)) (T, error) {
	p := c.partition(ttl)
	if v, ok := p.Get(key); ok {
		if typed, ok := v.(T); ok {
			slog.Debug("result cache hit", "ttl", ttl, "key", key)
			return typed, nil
		}
	}

	slog.Debug("result cache miss", "ttl", ttl, "key", key)
	v, err := fn()
	if err != nil {
		var zero T
		return zero, err
	}
	p.Add(key, v)
	return v, nil
}

// InvalidateTypes purges both type caches. Called on every product write.
func (c *Caches) InvalidateTypes() {
	c.typeByExample.Purge()
	c.typeList.Purge()
}

// ResultCount returns the number of live entries in a result partition.
func (c *Caches) ResultCount(ttl TTLClass) int {
	return c.partition(ttl).Len()
}

// keyBuilder feeds length-delimited fields to an xxhash digest.
type keyBuilder struct {
	d *xxhash.Digest
}

func newKeyBuilder(domain string) *keyBuilder {
	kb := &keyBuilder{d: xxhash.New()}
	kb.str(domain)
	return kb
}

func (kb *keyBuilder) str(s string) *keyBuilder {
	_, _ = kb.d.WriteString(strconv.Itoa(len(s)))
	_, _ = kb.d.WriteString(":")
	_, _ = kb.d.WriteString(s)
	return kb
}

func (kb *keyBuilder) num(n int64) *keyBuilder {
	return kb.str(strconv.FormatInt(n, 10))
}

func (kb *keyBuilder) flag(b bool) *keyBuilder {
	return kb.str(strconv.FormatBool(b))
}

func (kb *keyBuilder) strs(ss []string) *keyBuilder {
	kb.num(int64(len(ss)))
	for _, s := range ss {
		kb.str(s)
	}
	return kb
}

func (kb *keyBuilder) sum() uint64 {
	return kb.d.Sum64()
}

func (kb *keyBuilder) typeIdentity(t *Type) *keyBuilder {
	if t == nil {
		return kb.str("<nil>")
	}
	return kb.str(strings.ToUpper(t.Format)).str(t.Version).str(t.Label).num(t.ID).num(int64(t.Kind))
}

func (kb *keyBuilder) filter(f *Filter) *keyBuilder {
	if f == nil {
		f = &Filter{}
	}
	kb.str(strings.ToUpper(f.SheetName))
	kb.strs(canonicalCriteria(f))
	kb.strs(canonicalSet(f.IncludeColumnNames))
	kb.strs(canonicalSet(f.ExcludeColumnNames))
	return kb.flag(f.Distinct).flag(f.Preview)
}

func (kb *keyBuilder) page(p *Page) *keyBuilder {
	if p == nil {
		return kb.str("<nil>")
	}
	return kb.num(int64(p.Offset)).num(int64(p.Size)).
		str(strings.ToLower(p.SortBy)).str(strings.ToUpper(p.SortDirection))
}

func (kb *keyBuilder) strata(s *Strata) *keyBuilder {
	if s == nil {
		return kb.str("<nil>")
	}
	return kb.str(strings.ToUpper(s.SheetName)).
		str(strings.ToLower(s.SpatialColumnName)).
		str(strings.ToLower(s.TimeColumnName)).
		str(strings.ToLower(s.TechColumnName)).
		str(strings.ToLower(s.AggColumnName)).
		str(strings.ToUpper(s.AggFunction))
}

// CacheKey hashes the identity of a read. Filters that differ only in the
// order of their criteria or column sets produce the same key.
func CacheKey(t *Type, f *Filter, p *Page, s *Strata) uint64 {
	return newKeyBuilder("result").typeIdentity(t).filter(f).page(p).strata(s).sum()
}

func exampleKey(example *Type, opts FetchOptions) uint64 {
	return newKeyBuilder("type").typeIdentity(example).flag(opts.WithTables).sum()
}

func typeFilterKey(f TypeFilter) uint64 {
	statuses := make([]string, len(f.Statuses))
	for i, s := range f.Statuses {
		statuses[i] = string(s)
	}
	return newKeyBuilder("types").
		num(int64(f.Kind)).
		str(strings.ToUpper(f.Format)).
		strs(canonicalSet(statuses)).
		str(string(f.Frequency)).
		str(strings.ToLower(f.SearchText)).
		sum()
}

// canonicalCriteria serializes each criterion and sorts the result. IN
// value lists are order-insensitive, BETWEEN bounds are not.
func canonicalCriteria(f *Filter) []string {
	out := make([]string, 0, len(f.Criteria))
	for _, c := range f.Criteria {
		sheet := c.SheetName
		if sheet == "" {
			sheet = f.SheetName
		}
		op := strings.ToUpper(strings.Join(strings.Fields(c.Operator), " "))
		values := append([]string(nil), c.Values...)
		if op == "IN" || op == "NOT IN" {
			slices.Sort(values)
		}
		var sb strings.Builder
		for _, part := range append([]string{strings.ToUpper(sheet), strings.ToLower(c.Name), op, c.Value}, values...) {
			sb.WriteString(strconv.Itoa(len(part)))
			sb.WriteByte(':')
			sb.WriteString(part)
		}
		out = append(out, sb.String())
	}
	slices.Sort(out)
	return out
}

// canonicalSet lower-cases, sorts and deduplicates column names.
func canonicalSet(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		out = append(out, strings.ToLower(strings.TrimSpace(n)))
	}
	slices.Sort(out)
	return slices.Compact(out)
}
