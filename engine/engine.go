// Package engine implements the resolution core of the data layer: it
// turns find/count/create/update/delete requests into storage calls,
// consulting the access-control evaluator and the filter and order-by
// resolvers before ever touching storage, and running validation and
// side-effect hooks deterministically around writes.
package engine

import (
	"log/slog"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/access"
	"github.com/syssam/lattice/schema"
	"github.com/syssam/lattice/store"
)

// Engine composes the schema registry, the access-control evaluator and
// a storage adapter into the operation surface exposed to callers. It
// is stateless apart from configuration and safe for concurrent use;
// all per-request state travels on the RequestContext.
type Engine struct {
	reg     *schema.Registry
	ac      *access.Evaluator
	storage store.Storage
	cache   lattice.Cache
	log     *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithCache enables result caching for entities that declare cache
// hints. Mutations invalidate the entity's cached results.
func WithCache(c lattice.Cache) Option {
	return func(e *Engine) { e.cache = c }
}

// WithLogger sets the logger used for denial and cache diagnostics.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New returns an engine over the given registry and storage adapter.
func New(reg *schema.Registry, storage store.Storage, opts ...Option) *Engine {
	e := &Engine{
		reg:     reg,
		ac:      access.NewEvaluator(reg),
		storage: storage,
		log:     slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// entity resolves an entity key, failing with a user-input error for
// unknown keys.
func (e *Engine) entity(key string) (*schema.Entity, error) {
	ent, ok := e.reg.Entity(key)
	if !ok {
		return nil, lattice.NewUserInputError("unknown entity %q", key)
	}
	return ent, nil
}
