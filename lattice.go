// Package lattice provides the core vocabulary for a schema-driven data
// layer that enforces access control and result-size limits on every
// read and write.
//
// The package itself holds only the shared value types: records, operation
// kinds, per-request contexts and the error taxonomy. The resolution
// engine lives in the engine package, schema definitions in the schema
// package, and storage adapters under store.
package lattice

import "time"

// Item is a single record as it moves through the data layer: a mapping
// of field key to value. Storage adapters produce Items from rows and
// accept them as write payloads.
type Item map[string]any

// Clone returns a shallow copy of the item.
func (it Item) Clone() Item {
	if it == nil {
		return nil
	}
	cp := make(Item, len(it))
	for k, v := range it {
		cp[k] = v
	}
	return cp
}

// Op is the kind of operation being performed against an entity.
type Op uint8

// Operation kinds, in the order access rules are keyed by.
const (
	OpQuery Op = iota
	OpCreate
	OpUpdate
	OpDelete
)

// Is reports whether o matches the given operation kind.
func (o Op) Is(op Op) bool { return o == op }

// IsWrite reports whether the operation mutates data.
func (o Op) IsWrite() bool { return o != OpQuery }

// String returns the lower-case name of the operation.
func (o Op) String() string {
	switch o {
	case OpQuery:
		return "query"
	case OpCreate:
		return "create"
	case OpUpdate:
		return "update"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// OrderDirection is a resolved ordering direction.
type OrderDirection string

// Ordering directions accepted by order-by inputs.
const (
	Asc  OrderDirection = "asc"
	Desc OrderDirection = "desc"
)

// Valid reports whether the direction is one of the accepted values.
func (d OrderDirection) Valid() bool { return d == Asc || d == Desc }

// OrderTerm is a single resolved ordering term. Column is the storage
// column to order by, already mapped from the schema field key.
type OrderTerm struct {
	Column    string
	Direction OrderDirection
}

// BatchResult is the outcome of one element of a batch mutation. Exactly
// one of Item and Err is set. A failed element never aborts its siblings.
type BatchResult struct {
	Item Item
	Err  error
}

// CacheHintArgs is passed to an entity's cache-hint function after a
// successful list read or count. Results holds the fetched items, or the
// count value when Meta is true.
type CacheHintArgs struct {
	Results   any
	Operation string
	Meta      bool
}

// CacheScope controls whether a cached result may be shared between
// sessions.
type CacheScope string

// Cache scopes.
const (
	CacheScopePublic  CacheScope = "public"
	CacheScopePrivate CacheScope = "private"
)

// CacheHint describes how a result set may be cached.
type CacheHint struct {
	// MaxAge is how long the result may be served from cache.
	// Zero disables caching for this result.
	MaxAge time.Duration
	Scope  CacheScope
}
