package store

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// WriteGate bounds the number of writes in flight against a store.
// Single-writer embedded stores use limit 1 to strictly serialize
// writes; stores that support concurrent writers use a higher limit or
// no gate at all. Reads are never gated.
type WriteGate struct {
	sem *semaphore.Weighted
}

// NewWriteGate returns a gate admitting at most limit concurrent
// writes. A limit of zero or less returns an unbounded gate.
func NewWriteGate(limit int64) *WriteGate {
	if limit <= 0 {
		return &WriteGate{}
	}
	return &WriteGate{sem: semaphore.NewWeighted(limit)}
}

// Do runs fn once a write slot is available. Cancellation while waiting
// for a slot is returned to the caller, never swallowed.
func (g *WriteGate) Do(ctx context.Context, fn func() (any, error)) (any, error) {
	if g == nil || g.sem == nil {
		return fn()
	}
	if err := g.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer g.sem.Release(1)
	return fn()
}

// DoT is a typed convenience wrapper around Do.
func DoT[T any](ctx context.Context, g *WriteGate, fn func() (T, error)) (T, error) {
	var zero T
	v, err := g.Do(ctx, func() (any, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if v == nil {
		return zero, nil
	}
	return v.(T), nil
}
