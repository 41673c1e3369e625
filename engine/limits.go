package engine

import (
	"github.com/syssam/lattice"
	"github.com/syssam/lattice/schema"
)

// applyEarlyMaxResults fails fast when an explicit take exceeds the
// entity's per-call limit, before any storage call is issued. A query
// without a take cannot be judged until its results come back; that
// case is caught by applyMaxResults.
func applyEarlyMaxResults(take int, ent *schema.Entity) error {
	if take < 0 {
		take = -take
	}
	if take > 0 && take > ent.MaxResults {
		return lattice.NewLimitsExceededError(ent.Key, lattice.LimitMaxResults, ent.MaxResults)
	}
	return nil
}

// applyMaxResults checks a fetched result count against the entity's
// per-call limit, then accumulates it into the request's running total
// and checks the per-request ceiling. The cumulative check guards
// against amplification through nested relation queries within one
// request.
func applyMaxResults(rc *lattice.RequestContext, ent *schema.Entity, count int) error {
	if count > ent.MaxResults {
		return lattice.NewLimitsExceededError(ent.Key, lattice.LimitMaxResults, ent.MaxResults)
	}
	total := rc.AddResults(count)
	if max := rc.MaxTotalResults(); max > 0 && total > max {
		return lattice.NewLimitsExceededError(ent.Key, lattice.LimitMaxTotalResults, max)
	}
	return nil
}
