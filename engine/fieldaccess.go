package engine

import (
	"context"
	"sort"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/access"
)

// checkFilterOrderAccess authorizes every (entity, field) pair a filter
// or order-by input references. Any single disallowed pair fails the
// whole operation; no partial filtering is ever applied.
func (e *Engine) checkFilterOrderAccess(ctx context.Context, rc *lattice.RequestContext, refs map[string]fieldRef, gate access.Gate) error {
	// Stable iteration so the reported field is deterministic.
	keys := make([]string, 0, len(refs))
	for k := range refs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		ref := refs[k]
		f, ok := ref.ent.Field(ref.fieldKey)
		if !ok {
			return lattice.NewContractError("referenced field %s.%s does not exist", ref.ent.Key, ref.fieldKey)
		}
		allowed, err := e.ac.FieldGate(ctx, rc, ref.ent, f, gate)
		if err != nil {
			return err
		}
		if !allowed {
			return lattice.NewFieldAccessDeniedError(ref.ent.Key, ref.fieldKey, string(gate))
		}
	}
	return nil
}

// singleRef builds the refs map for inputs that touch one field, such
// as a unique where.
func singleRef(ref fieldRef) map[string]fieldRef {
	return map[string]fieldRef{ref.ent.Key + "." + ref.fieldKey: ref}
}
