// Package store defines the contract between the resolution engine and
// a backing store. The engine never depends on a concrete store API; it
// issues every storage operation through Storage.Run against the
// entity's model, and every write through the adapter's write gate.
package store

import (
	"context"

	"github.com/syssam/lattice"
	"github.com/syssam/lattice/filter"
)

// Query is a fully resolved read: the filter has passed schema
// validation and access control, order terms reference storage columns,
// and Take/Skip are plain offsets (0 means unset).
type Query struct {
	Where filter.Expr
	Order []lattice.OrderTerm
	Take  int
	Skip  int
}

// Model is the storage representation of one entity. FindFirst returns
// (nil, nil) when no record matches; the engine relies on absence being
// error-free to keep not-found indistinguishable from access-denied.
type Model interface {
	FindFirst(ctx context.Context, q Query) (lattice.Item, error)
	FindMany(ctx context.Context, q Query) ([]lattice.Item, error)
	Count(ctx context.Context, q Query) (int, error)
	Create(ctx context.Context, data lattice.Item) (lattice.Item, error)
	Update(ctx context.Context, id any, data lattice.Item) (lattice.Item, error)
	Delete(ctx context.Context, id any) (lattice.Item, error)
}

// Storage is a handle letting the engine issue storage operations.
type Storage interface {
	// Run invokes fn with the model for the given entity and returns
	// its result.
	Run(ctx context.Context, entity string, fn func(Model) (any, error)) (any, error)

	// Gate returns the write-serialization gate every write must pass
	// through. A nil gate means unbounded write concurrency.
	Gate() *WriteGate
}

// Run is a typed convenience wrapper around Storage.Run.
func Run[T any](ctx context.Context, s Storage, entity string, fn func(Model) (T, error)) (T, error) {
	var zero T
	v, err := s.Run(ctx, entity, func(m Model) (any, error) {
		return fn(m)
	})
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}
