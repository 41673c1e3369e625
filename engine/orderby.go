package engine

import (
	"context"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/access"
	"github.com/syssam/lattice/schema"
)

// OrderBy is the caller-supplied ordering input: an ordered sequence of
// single-key mappings from field key to direction.
type OrderBy []map[string]any

// resolveOrderBy validates the order-by input shape, authorizes every
// referenced field, and resolves each element into a storage order
// term. A malformed element is a user-input error, never a silent drop.
func (e *Engine) resolveOrderBy(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, orderBy OrderBy) ([]lattice.OrderTerm, error) {
	for _, elem := range orderBy {
		if len(elem) != 1 {
			return nil, lattice.NewUserInputError(
				"only a single key must be passed to an order-by input for entity %q", ent.Key)
		}
		for fieldKey, value := range elem {
			if value == nil {
				return nil, lattice.NewUserInputError("null cannot be passed as an order direction")
			}
			if _, ok := ent.Field(fieldKey); !ok {
				return nil, lattice.NewUserInputError(
					"unknown field %q in order-by on entity %q", fieldKey, ent.Key)
			}
		}
	}

	refs := make(map[string]fieldRef, len(orderBy))
	for _, elem := range orderBy {
		for fieldKey := range elem {
			refs[ent.Key+"."+fieldKey] = fieldRef{ent: ent, fieldKey: fieldKey}
		}
	}
	if err := e.checkFilterOrderAccess(ctx, rc, refs, access.GateOrderBy); err != nil {
		return nil, err
	}

	terms := make([]lattice.OrderTerm, 0, len(orderBy))
	for _, elem := range orderBy {
		for fieldKey, value := range elem {
			f, _ := ent.Field(fieldKey)
			if f.ResolveOrderBy != nil {
				resolved, err := f.ResolveOrderBy(ctx, rc, value)
				if err != nil {
					return nil, err
				}
				value = resolved
			}
			switch f.DB.Kind {
			case schema.KindMulti:
				// No built-in field type supports ordering by a
				// multi-column field; this path exists for custom
				// fields whose resolver picks the inner column.
				inner, ok := value.(map[string]any)
				if !ok || len(inner) != 1 {
					return nil, lattice.NewContractError(
						"only a single key must be returned from an orderBy input resolver for multi-column field %s.%s",
						ent.Key, f.Key,
					)
				}
				for innerKey, innerValue := range inner {
					dir, err := orderDirection(innerValue)
					if err != nil {
						return nil, err
					}
					terms = append(terms, lattice.OrderTerm{
						Column:    multiColumn(f.Key, innerKey),
						Direction: dir,
					})
				}
			default:
				dir, err := orderDirection(value)
				if err != nil {
					return nil, err
				}
				terms = append(terms, lattice.OrderTerm{Column: f.Key, Direction: dir})
			}
		}
	}
	return terms, nil
}

func orderDirection(value any) (lattice.OrderDirection, error) {
	var dir lattice.OrderDirection
	switch v := value.(type) {
	case lattice.OrderDirection:
		dir = v
	case string:
		dir = lattice.OrderDirection(v)
	default:
		return "", lattice.NewUserInputError("invalid order direction %v", value)
	}
	if !dir.Valid() {
		return "", lattice.NewUserInputError("invalid order direction %q", dir)
	}
	return dir, nil
}
