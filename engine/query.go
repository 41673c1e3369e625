package engine

import (
	"context"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/access"
	"github.com/syssam/lattice/filter"
	"github.com/syssam/lattice/store"
)

// FindManyArgs are the inputs to FindMany.
type FindManyArgs struct {
	Where   filter.Expr
	Take    int
	Skip    int
	OrderBy OrderBy
}

// FindOne returns the single record identified by the unique where, or
// nil if it does not exist or is access-filtered out. The two cases are
// observably identical to the caller: both return nil with no error.
func (e *Engine) FindOne(ctx context.Context, rc *lattice.RequestContext, entity string, where UniqueWhere) (lattice.Item, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return nil, err
	}

	allowed, err := e.ac.OperationAccess(ctx, rc, ent, lattice.OpQuery)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return nil, nil
	}

	af, err := e.ac.FilterAccess(ctx, rc, ent, lattice.OpQuery)
	if err != nil {
		return nil, err
	}
	if af.Denied() {
		return nil, nil
	}

	f, value, err := e.resolveUniqueWhere(ctx, rc, ent, where)
	if err != nil {
		return nil, err
	}
	if err := e.checkFilterOrderAccess(ctx, rc, singleRef(fieldRef{ent: ent, fieldKey: f.Key}), access.GateFilter); err != nil {
		return nil, err
	}

	merged, err := e.mergeAccessFilter(ctx, rc, ent, mapUniqueWhereToWhere(f, value), af)
	if err != nil {
		return nil, err
	}

	return store.Run(ctx, e.storage, ent.Key, func(m store.Model) (lattice.Item, error) {
		return m.FindFirst(ctx, store.Query{Where: merged})
	})
}

// FindMany returns the records matching the given filter, order and
// page. Operation or filter-level denial yields an empty result with no
// error; limit violations and malformed inputs are always surfaced.
func (e *Engine) FindMany(ctx context.Context, rc *lattice.RequestContext, entity string, args FindManyArgs) ([]lattice.Item, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return nil, err
	}

	// A malformed order-by fails before any access evaluation work.
	order, err := e.resolveOrderBy(ctx, rc, ent, args.OrderBy)
	if err != nil {
		return nil, err
	}

	allowed, err := e.ac.OperationAccess(ctx, rc, ent, lattice.OpQuery)
	if err != nil {
		return nil, err
	}
	if !allowed {
		return []lattice.Item{}, nil
	}

	af, err := e.ac.FilterAccess(ctx, rc, ent, lattice.OpQuery)
	if err != nil {
		return nil, err
	}
	if af.Denied() {
		return []lattice.Item{}, nil
	}

	if err := applyEarlyMaxResults(args.Take, ent); err != nil {
		return nil, err
	}

	refs := map[string]fieldRef{}
	resolved, err := e.resolveWhere(ctx, rc, ent, args.Where, refs)
	if err != nil {
		return nil, err
	}
	if err := e.checkFilterOrderAccess(ctx, rc, refs, access.GateFilter); err != nil {
		return nil, err
	}

	merged, err := e.mergeAccessFilter(ctx, rc, ent, resolved, af)
	if err != nil {
		return nil, err
	}

	q := store.Query{Where: merged, Order: order, Take: args.Take, Skip: args.Skip}

	if cached, ok := e.readCachedItems(ctx, rc, ent, q); ok {
		if err := applyMaxResults(rc, ent, len(cached)); err != nil {
			return nil, err
		}
		return cached, nil
	}

	results, err := store.Run(ctx, e.storage, ent.Key, func(m store.Model) ([]lattice.Item, error) {
		return m.FindMany(ctx, q)
	})
	if err != nil {
		return nil, err
	}

	if err := applyMaxResults(rc, ent, len(results)); err != nil {
		return nil, err
	}

	e.cacheItems(ctx, rc, ent, q, results)
	return results, nil
}

// Count returns the number of records matching the filter. Denial at
// the operation or filter tier returns zero, never an error; counting
// is always "successful" from the caller's perspective.
func (e *Engine) Count(ctx context.Context, rc *lattice.RequestContext, entity string, where filter.Expr) (int, error) {
	ent, err := e.entity(entity)
	if err != nil {
		return 0, err
	}

	allowed, err := e.ac.OperationAccess(ctx, rc, ent, lattice.OpQuery)
	if err != nil {
		return 0, err
	}
	if !allowed {
		return 0, nil
	}

	af, err := e.ac.FilterAccess(ctx, rc, ent, lattice.OpQuery)
	if err != nil {
		return 0, err
	}
	if af.Denied() {
		return 0, nil
	}

	refs := map[string]fieldRef{}
	resolved, err := e.resolveWhere(ctx, rc, ent, where, refs)
	if err != nil {
		return 0, err
	}
	if err := e.checkFilterOrderAccess(ctx, rc, refs, access.GateFilter); err != nil {
		return 0, err
	}

	merged, err := e.mergeAccessFilter(ctx, rc, ent, resolved, af)
	if err != nil {
		return 0, err
	}

	count, err := store.Run(ctx, e.storage, ent.Key, func(m store.Model) (int, error) {
		return m.Count(ctx, store.Query{Where: merged})
	})
	if err != nil {
		return 0, err
	}

	e.hintCount(ent, count)
	return count, nil
}
