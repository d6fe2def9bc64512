package extraction

import (
	"context"
	"log/slog"
	"strings"

	"github.com/cockroachdb/errors"
)

// ProductRepository persists product types. Lookups of a missing product
// return an error marked ErrNotFound.
type ProductRepository interface {
	Get(ctx context.Context, id int64, opts FetchOptions) (*Type, error)
	GetByLabel(ctx context.Context, label string, opts FetchOptions) (*Type, error)
	FindAll(ctx context.Context, filter TypeFilter) ([]*Type, error)
	FindByFrequency(ctx context.Context, freq Frequency) ([]*Type, error)
	Save(ctx context.Context, t *Type) (*Type, error)
	Delete(ctx context.Context, id int64) error
}

// Resolver turns loose type references into concrete types.
type Resolver struct {
	registry *Registry
	products ProductRepository
	caches   *Caches
}

// NewResolver creates a resolver. products may be nil when no product store
// is configured; persisted lookups then fail with ErrNotFound.
func NewResolver(registry *Registry, products ProductRepository, caches *Caches) *Resolver {
	return &Resolver{registry: registry, products: products, caches: caches}
}

// GetByID returns the type with the given id: a persisted product for a
// positive id, a built-in type for a synthetic negative one.
func (r *Resolver) GetByID(ctx context.Context, id int64, opts FetchOptions) (*Type, error) {
	switch {
	case id < 0:
		return r.builtinByID(id)
	case id > 0:
		if r.products == nil {
			return nil, notFoundf("extraction product %d", id)
		}
		return r.products.Get(ctx, id, opts)
	default:
		return nil, notFoundf("extraction type without id")
	}
}

// GetByExample resolves example to a concrete type.
//
// A persisted product that is already fully populated is returned as is.
// Otherwise products are looked up by id, then label; failing that the
// built-in types are searched by (format, version), case-insensitively on
// format. Zero candidates yield ErrNotFound and several ErrAmbiguous.
func (r *Resolver) GetByExample(ctx context.Context, example *Type, opts FetchOptions) (*Type, error) {
	if example == nil {
		return nil, integrityf("missing extraction type")
	}
	if isComplete(example) {
		return example, nil
	}

	key := exampleKey(example, opts)
	if t, ok := r.caches.typeByExample.Get(key); ok {
		slog.Debug("type cache hit", "format", example.Format, "label", example.Label)
		return t.Clone(), nil
	}

	t, err := r.resolve(ctx, example, opts)
	if err != nil {
		return nil, err
	}
	r.caches.typeByExample.Add(key, t)
	return t.Clone(), nil
}

func isComplete(t *Type) bool {
	return t.IsPersisted() &&
		(t.Kind == KindProduct || t.Kind == KindAggregation) &&
		t.Format != "" && t.Version != "" && t.Label != "" &&
		len(t.Tables) > 0
}

func (r *Resolver) resolve(ctx context.Context, example *Type, opts FetchOptions) (*Type, error) {
	if example.ID < 0 {
		return r.builtinByID(example.ID)
	}

	if example.Kind != KindLive && r.products != nil {
		if example.ID > 0 {
			return r.products.Get(ctx, example.ID, opts)
		}
		if example.Label != "" {
			t, err := r.products.GetByLabel(ctx, example.Label, opts)
			switch {
			case err == nil && kindMatches(example.Kind, t.Kind):
				return t, nil
			case err != nil && !errors.Is(err, ErrNotFound):
				return nil, err
			}
		}
	} else if example.ID > 0 {
		return nil, notFoundf("extraction product %d", example.ID)
	}

	return r.matchBuiltin(example)
}

func (r *Resolver) matchBuiltin(example *Type) (*Type, error) {
	if example.Format == "" && example.Label == "" {
		return nil, integrityf("extraction type needs a format or a label")
	}

	var candidates []*Type
	for _, t := range r.registry.BuiltinTypes() {
		if !kindMatches(example.Kind, t.Kind) {
			continue
		}
		if example.Format != "" {
			if !strings.EqualFold(t.Format, strings.TrimSpace(example.Format)) {
				continue
			}
		} else if !strings.EqualFold(t.Label, example.Label) {
			continue
		}
		if example.Version != "" && t.Version != strings.TrimSpace(example.Version) {
			continue
		}
		candidates = append(candidates, t)
	}

	switch len(candidates) {
	case 0:
		return nil, notFoundf("unknown extraction format %s", describe(example))
	case 1:
		return candidates[0], nil
	default:
		labels := make([]string, len(candidates))
		for i, c := range candidates {
			labels[i] = c.Kind.String() + " " + c.Label
		}
		return nil, ambiguousf("extraction format %s matches %s", describe(example), strings.Join(labels, ", "))
	}
}

func (r *Resolver) builtinByID(id int64) (*Type, error) {
	for _, t := range r.registry.BuiltinTypes() {
		if t.ID == id {
			return t, nil
		}
	}
	return nil, notFoundf("unknown extraction format id %d", id)
}

// kindMatches reports whether a type of kind got satisfies the constraint want.
func kindMatches(want, got Kind) bool {
	return want == KindAny || want == got
}

func describe(t *Type) string {
	parts := []string{}
	if t.Kind != KindAny {
		parts = append(parts, t.Kind.String())
	}
	if t.Format != "" {
		parts = append(parts, strings.ToUpper(t.Format))
	}
	if t.Version != "" {
		parts = append(parts, "v"+t.Version)
	}
	if t.Label != "" {
		parts = append(parts, "label="+t.Label)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

// FindTypes lists built-in and persisted types matching f.
func (r *Resolver) FindTypes(ctx context.Context, f TypeFilter) ([]*Type, error) {
	key := typeFilterKey(f)
	if types, ok := r.caches.typeList.Get(key); ok {
		return cloneTypes(types), nil
	}

	var result []*Type
	for _, t := range r.registry.BuiltinTypes() {
		if builtinMatches(t, f) {
			result = append(result, t)
		}
	}

	if f.Kind != KindLive && r.products != nil {
		products, err := r.products.FindAll(ctx, f)
		if err != nil {
			return nil, err
		}
		result = append(result, products...)
	}

	r.caches.typeList.Add(key, result)
	return cloneTypes(result), nil
}

func builtinMatches(t *Type, f TypeFilter) bool {
	if f.Kind == KindProduct || !kindMatches(f.Kind, t.Kind) {
		return false
	}
	if f.Format != "" && !strings.EqualFold(f.Format, t.Format) {
		return false
	}
	if f.Frequency != "" {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			found = found || s == t.Status
		}
		if !found {
			return false
		}
	}
	if f.SearchText != "" && !strings.Contains(strings.ToLower(t.Label), strings.ToLower(f.SearchText)) {
		return false
	}
	return true
}

func cloneTypes(types []*Type) []*Type {
	out := make([]*Type, len(types))
	for i, t := range types {
		out[i] = t.Clone()
	}
	return out
}

// ParentOf returns the source type of t: the explicit parent, the type
// referenced by ParentID, or for aggregations without either the live type
// AGG_<X> is computed from (format X, same version). Returns nil for types
// without a parent.
func (r *Resolver) ParentOf(ctx context.Context, t *Type) (*Type, error) {
	if t.Parent != nil {
		return r.GetByExample(ctx, t.Parent, FetchOptions{WithTables: true})
	}
	if t.ParentID != 0 {
		return r.GetByID(ctx, t.ParentID, FetchOptions{WithTables: true})
	}
	if !t.IsAggregation() {
		return nil, nil
	}

	parentFormat := strings.TrimPrefix(strings.ToUpper(t.Format), aggregationPrefix)
	if f, ok := r.registry.AggregationFormat(t.Format, t.Version); ok {
		parentFormat = f.ParentFormat()
	}
	parent, err := r.GetByExample(ctx, &Type{Kind: KindLive, Format: parentFormat, Version: t.Version}, FetchOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "default parent of %s", t.Label)
	}
	return parent, nil
}

const maxParentDepth = 8

// resolveChain resolves t and its parents so an execution needs no further
// repository access.
func (r *Resolver) resolveChain(ctx context.Context, t *Type) (*Type, error) {
	return r.resolveChainDepth(ctx, t, 0)
}

func (r *Resolver) resolveChainDepth(ctx context.Context, t *Type, depth int) (*Type, error) {
	if depth > maxParentDepth {
		return nil, integrityf("parent chain of %s is too deep", describe(t))
	}
	resolved, err := r.GetByExample(ctx, t, FetchOptions{WithTables: true})
	if err != nil {
		return nil, err
	}
	if resolved == t {
		resolved = t.Clone()
	}

	parent, err := r.ParentOf(ctx, resolved)
	if err != nil {
		return nil, err
	}
	if parent != nil {
		if parent.ID == resolved.ID {
			return nil, integrityf("type %s is its own parent", resolved.Label)
		}
		if resolved.Parent, err = r.resolveChainDepth(ctx, parent, depth+1); err != nil {
			return nil, err
		}
		resolved.ParentID = resolved.Parent.ID
	}
	return resolved, nil
}
