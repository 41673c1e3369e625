package engine

import (
	"context"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/filter"
	"github.com/syssam/lattice/schema"
)

// fieldRef is one (entity, field) pair referenced by a filter or
// order-by input, collected during traversal for authorization.
type fieldRef struct {
	ent      *schema.Entity
	fieldKey string
}

// resolveWhere recursively validates a caller filter against the
// entity's schema and produces the store-ready filter. Every referenced
// (entity, field) pair is accumulated into refs, keyed by
// "entity.field", so the authorization pass can check each pair once.
//
// Relation nodes recurse into the related entity's own schema; the
// AND/OR/NOT combinators recurse on the current entity, preserving the
// combinator structure in the output.
func (e *Engine) resolveWhere(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, where filter.Expr, refs map[string]fieldRef) (filter.Expr, error) {
	if where == nil {
		return nil, nil
	}
	switch w := where.(type) {
	case *filter.AndExpr:
		children, err := e.resolveChildren(ctx, rc, ent, w.Children, refs)
		if err != nil {
			return nil, err
		}
		return filter.And(children...), nil
	case *filter.OrExpr:
		children, err := e.resolveChildren(ctx, rc, ent, w.Children, refs)
		if err != nil {
			return nil, err
		}
		return filter.Or(children...), nil
	case *filter.NotExpr:
		children, err := e.resolveChildren(ctx, rc, ent, w.Children, refs)
		if err != nil {
			return nil, err
		}
		return filter.Not(children...), nil
	case *filter.Cond:
		return e.resolveCond(ctx, rc, ent, w, refs)
	case *filter.RelExpr:
		return e.resolveRel(ctx, rc, ent, w, refs)
	default:
		return nil, lattice.NewContractError("unknown filter node %T", where)
	}
}

func (e *Engine) resolveChildren(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, children []filter.Expr, refs map[string]fieldRef) ([]filter.Expr, error) {
	out := make([]filter.Expr, 0, len(children))
	for _, child := range children {
		resolved, err := e.resolveWhere(ctx, rc, ent, child, refs)
		if err != nil {
			return nil, err
		}
		if resolved != nil {
			out = append(out, resolved)
		}
	}
	return out, nil
}

func (e *Engine) resolveCond(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, c *filter.Cond, refs map[string]fieldRef) (filter.Expr, error) {
	f, ok := ent.Field(c.Field)
	if !ok {
		return nil, lattice.NewUserInputError("unknown field %q in filter on entity %q", c.Field, ent.Key)
	}
	refs[ent.Key+"."+f.Key] = fieldRef{ent: ent, fieldKey: f.Key}
	value := c.Value
	if f.ResolveWhere != nil {
		resolved, err := f.ResolveWhere(ctx, rc, value)
		if err != nil {
			return nil, err
		}
		value = resolved
	}
	switch f.DB.Kind {
	case schema.KindScalar:
		return filter.Where(f.Key, c.Op, value), nil
	case schema.KindMulti:
		// A multi-column field can only be filtered through its where
		// resolver, which must select exactly one inner column.
		inner, ok := value.(map[string]any)
		if !ok || len(inner) != 1 {
			return nil, lattice.NewContractError(
				"where input resolver for multi-column field %s.%s must return exactly one inner key",
				ent.Key, f.Key,
			)
		}
		for innerKey, innerValue := range inner {
			return filter.Where(multiColumn(f.Key, innerKey), c.Op, innerValue), nil
		}
		return nil, nil // unreachable
	case schema.KindRelation:
		return nil, lattice.NewUserInputError(
			"field %q on entity %q is a relation; filter it with a relation quantifier",
			c.Field, ent.Key,
		)
	default:
		return nil, lattice.NewContractError("field %s.%s has unknown kind", ent.Key, f.Key)
	}
}

func (e *Engine) resolveRel(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, r *filter.RelExpr, refs map[string]fieldRef) (filter.Expr, error) {
	f, ok := ent.Field(r.Field)
	if !ok {
		return nil, lattice.NewUserInputError("unknown field %q in filter on entity %q", r.Field, ent.Key)
	}
	if f.DB.Kind != schema.KindRelation {
		return nil, lattice.NewUserInputError("field %q on entity %q is not a relation", r.Field, ent.Key)
	}
	switch r.Quant {
	case filter.QuantIs:
		if f.DB.ToMany {
			return nil, lattice.NewUserInputError(
				"quantifier %q cannot be used on to-many relation %s.%s", r.Quant, ent.Key, f.Key)
		}
	case filter.QuantSome, filter.QuantNone, filter.QuantEvery:
		if !f.DB.ToMany {
			return nil, lattice.NewUserInputError(
				"quantifier %q cannot be used on to-one relation %s.%s", r.Quant, ent.Key, f.Key)
		}
	default:
		return nil, lattice.NewUserInputError("unknown relation quantifier %q", r.Quant)
	}
	refs[ent.Key+"."+f.Key] = fieldRef{ent: ent, fieldKey: f.Key}
	target, ok := e.reg.Entity(f.DB.Entity)
	if !ok {
		return nil, lattice.NewContractError("relation %s.%s targets unknown entity %q", ent.Key, f.Key, f.DB.Entity)
	}
	child, err := e.resolveWhere(ctx, rc, target, r.Child, refs)
	if err != nil {
		return nil, err
	}
	return &filter.RelExpr{Field: f.Key, Quant: r.Quant, Child: child}, nil
}

// UniqueWhere identifies exactly one record by a uniquely indexed
// field. The invariant is exactly one key, never zero or multiple.
type UniqueWhere map[string]any

// resolveUniqueWhere validates the strict unique-where shape and
// applies the field's unique-value resolver. It returns the matched
// field and the resolved value.
func (e *Engine) resolveUniqueWhere(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, where UniqueWhere) (*schema.Field, any, error) {
	if len(where) != 1 {
		return nil, nil, lattice.NewUserInputError(
			"exactly one key must be passed in a unique where input for entity %q", ent.Key)
	}
	var (
		fieldKey string
		value    any
	)
	for k, v := range where {
		fieldKey, value = k, v
	}
	f, ok := ent.Field(fieldKey)
	if !ok || !f.Unique {
		return nil, nil, lattice.NewUserInputError(
			"field %q is not a unique field on entity %q", fieldKey, ent.Key)
	}
	if value == nil {
		return nil, nil, lattice.NewUserInputError(
			"the unique value provided for field %q must not be null", fieldKey)
	}
	if f.ResolveUniqueWhere != nil {
		resolved, err := f.ResolveUniqueWhere(ctx, rc, value)
		if err != nil {
			return nil, nil, err
		}
		value = resolved
	}
	return f, value, nil
}

// mapUniqueWhereToWhere turns a resolved unique value into an equality
// filter. The value always goes through an equals condition rather than
// a raw pass-through, so unique resolvers cannot smuggle arbitrary
// filters.
func mapUniqueWhereToWhere(f *schema.Field, value any) filter.Expr {
	return filter.EQ(f.Key, value)
}

// mergeAccessFilter resolves a filter-level access result against the
// entity schema and ANDs it with the caller's resolved filter. The
// access filter is authored by the schema owner, so it is resolved for
// value transforms but not re-authorized per field.
func (e *Engine) mergeAccessFilter(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, resolved filter.Expr, af schema.AccessFilter) (filter.Expr, error) {
	accessWhere, ok := af.Where()
	if !ok {
		return resolved, nil
	}
	resolvedAccess, err := e.resolveWhere(ctx, rc, ent, accessWhere, map[string]fieldRef{})
	if err != nil {
		return nil, err
	}
	if resolved == nil {
		return resolvedAccess, nil
	}
	return filter.And(resolved, resolvedAccess), nil
}

// multiColumn builds the storage column name for an inner column of a
// multi-column field.
func multiColumn(fieldKey, innerKey string) string {
	return fieldKey + "_" + innerKey
}
