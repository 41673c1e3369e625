package schema

import (
	"sort"

	"github.com/syssam/lattice"
)

// Registry holds every entity the data layer knows about. It is built
// once at startup, validated as a whole (so cross-entity relation
// targets can be checked), and is immutable and freely shared between
// concurrent requests afterwards.
type Registry struct {
	entities map[string]*Entity
	keys     []string
}

// NewRegistry validates the given entities and returns a registry over
// them. Validation covers entity and field key uniqueness, the presence
// of a unique scalar "id" field, relation targets and back-references,
// multi-column field shape, and the operation kinds access rules may be
// keyed by.
func NewRegistry(entities ...*Entity) (*Registry, error) {
	r := &Registry{entities: make(map[string]*Entity, len(entities))}
	for _, e := range entities {
		if e.Key == "" {
			return nil, lattice.NewContractError("entity with empty key")
		}
		if _, dup := r.entities[e.Key]; dup {
			return nil, lattice.NewContractError("duplicate entity key %q", e.Key)
		}
		if e.MaxResults < 0 {
			return nil, lattice.NewContractError("entity %q: negative maxResults", e.Key)
		}
		if e.MaxResults == 0 {
			e.MaxResults = DefaultMaxResults
		}
		e.fields = make(map[string]*Field, len(e.Fields))
		for _, f := range e.Fields {
			if f.Key == "" {
				return nil, lattice.NewContractError("entity %q: field with empty key", e.Key)
			}
			if _, dup := e.fields[f.Key]; dup {
				return nil, lattice.NewContractError("entity %q: duplicate field key %q", e.Key, f.Key)
			}
			e.fields[f.Key] = f
		}
		r.entities[e.Key] = e
		r.keys = append(r.keys, e.Key)
	}
	sort.Strings(r.keys)
	for _, e := range r.entities {
		if err := r.validateEntity(e); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// MustRegistry is like NewRegistry but panics on validation failure.
// Intended for statically known schemas wired at startup.
func MustRegistry(entities ...*Entity) *Registry {
	r, err := NewRegistry(entities...)
	if err != nil {
		panic(err)
	}
	return r
}

// Entity returns the entity with the given key.
func (r *Registry) Entity(key string) (*Entity, bool) {
	e, ok := r.entities[key]
	return e, ok
}

// Keys returns all entity keys in sorted order.
func (r *Registry) Keys() []string {
	keys := make([]string, len(r.keys))
	copy(keys, r.keys)
	return keys
}

func (r *Registry) validateEntity(e *Entity) error {
	id, ok := e.fields["id"]
	if !ok {
		return lattice.NewContractError("entity %q: missing id field", e.Key)
	}
	if id.DB.Kind != KindScalar || !id.Unique {
		return lattice.NewContractError("entity %q: id must be a unique scalar field", e.Key)
	}
	for _, f := range e.Fields {
		if err := r.validateField(e, f); err != nil {
			return err
		}
	}
	if _, ok := e.Access.Filter[lattice.OpCreate]; ok {
		return lattice.NewContractError("entity %q: filter access is not supported for create", e.Key)
	}
	if _, ok := e.Access.Item[lattice.OpQuery]; ok {
		return lattice.NewContractError("entity %q: item access is not supported for query", e.Key)
	}
	return nil
}

func (r *Registry) validateField(e *Entity, f *Field) error {
	switch f.DB.Kind {
	case KindScalar:
		if f.DB.Entity != "" {
			return lattice.NewContractError("entity %q: scalar field %q names a relation target", e.Key, f.Key)
		}
	case KindRelation:
		target, ok := r.entities[f.DB.Entity]
		if !ok {
			return lattice.NewContractError("entity %q: field %q relates to unknown entity %q", e.Key, f.Key, f.DB.Entity)
		}
		if f.DB.ToMany {
			ref, ok := target.fields[f.DB.Ref]
			if !ok {
				return lattice.NewContractError(
					"entity %q: field %q back-reference %q not found on entity %q",
					e.Key, f.Key, f.DB.Ref, f.DB.Entity,
				)
			}
			if ref.DB.Kind != KindRelation || ref.DB.ToMany {
				return lattice.NewContractError(
					"entity %q: field %q back-reference %q must be a to-one relation",
					e.Key, f.Key, f.DB.Ref,
				)
			}
		}
		if f.Unique {
			return lattice.NewContractError("entity %q: relation field %q cannot be unique", e.Key, f.Key)
		}
	case KindMulti:
		if len(f.DB.Columns) < 2 {
			return lattice.NewContractError(
				"entity %q: multi-column field %q needs at least two columns",
				e.Key, f.Key,
			)
		}
	default:
		return lattice.NewContractError("entity %q: field %q has unknown kind %d", e.Key, f.Key, f.DB.Kind)
	}
	if f.Unique && f.ResolveUniqueWhere == nil && f.DB.Kind != KindScalar {
		return lattice.NewContractError("entity %q: unique field %q must be scalar", e.Key, f.Key)
	}
	return nil
}
