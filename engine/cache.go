package engine

import (
	"context"
	"strings"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/schema"
	"github.com/syssam/lattice/store"
)

// cacheKey builds the cache key for a resolved query. Results are only
// cacheable when a cache is configured, the entity declares a cache
// hint, and the session is either absent or can contribute a stable key
// component. The session component is always part of the key, so cached
// results can never leak across sessions.
func (e *Engine) cacheKey(rc *lattice.RequestContext, ent *schema.Entity, op string, q store.Query) (string, bool) {
	if e.cache == nil || ent.CacheHint == nil {
		return "", false
	}
	var session string
	switch s := rc.Session.(type) {
	case nil:
	case lattice.SessionKeyer:
		session = s.SessionKey()
	default:
		return "", false
	}
	if rc.IsSudo() {
		// Sudo reads bypass access filters; never mix them with
		// session-scoped entries.
		session = "sudo:" + session
	}
	var where string
	if q.Where != nil {
		where = q.Where.String()
	}
	order := make([]string, len(q.Order))
	for i, t := range q.Order {
		order[i] = t.Column + ":" + string(t.Direction)
	}
	key := lattice.CacheKey{
		Entity:    ent.Key,
		Operation: op,
		Session:   session,
		Filter:    where,
		OrderBy:   strings.Join(order, ","),
		Take:      q.Take,
		Skip:      q.Skip,
	}
	return key.String(), true
}

func (e *Engine) readCachedItems(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, q store.Query) ([]lattice.Item, bool) {
	key, ok := e.cacheKey(rc, ent, "findMany", q)
	if !ok {
		return nil, false
	}
	raw, err := e.cache.Get(ctx, key)
	if err != nil || raw == nil {
		return nil, false
	}
	var items []lattice.Item
	if err := msgpack.Unmarshal(raw, &items); err != nil {
		e.log.Debug("discarding undecodable cache entry", "key", key, "err", err)
		return nil, false
	}
	return items, true
}

func (e *Engine) cacheItems(ctx context.Context, rc *lattice.RequestContext, ent *schema.Entity, q store.Query, results []lattice.Item) {
	if ent.CacheHint == nil {
		return
	}
	hint := ent.CacheHint(lattice.CacheHintArgs{Results: results, Operation: "findMany", Meta: false})
	if e.cache == nil || hint.MaxAge <= 0 {
		return
	}
	key, ok := e.cacheKey(rc, ent, "findMany", q)
	if !ok {
		return
	}
	raw, err := msgpack.Marshal(results)
	if err != nil {
		e.log.Debug("skipping unencodable result set", "entity", ent.Key, "err", err)
		return
	}
	if err := e.cache.Set(ctx, key, raw, hint.MaxAge); err != nil {
		e.log.Debug("cache set failed", "key", key, "err", err)
	}
}

// hintCount invokes the entity's cache-hint callback for a count
// result. Counts are not stored; the hint exists for callers that relay
// it to an outer cache layer.
func (e *Engine) hintCount(ent *schema.Entity, count int) {
	if ent.CacheHint == nil {
		return
	}
	ent.CacheHint(lattice.CacheHintArgs{Results: count, Operation: "count", Meta: true})
}

// invalidateCache drops every cached result for an entity after a
// successful write.
func (e *Engine) invalidateCache(ctx context.Context, entity string) {
	if e.cache == nil {
		return
	}
	if err := e.cache.DeletePrefix(ctx, lattice.CachePrefix(entity)); err != nil {
		e.log.Debug("cache invalidation failed", "entity", entity, "err", err)
	}
}
