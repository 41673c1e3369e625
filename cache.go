package lattice

import (
	"context"
	"strconv"
	"strings"
	"time"
)

// Cache is the interface for caching query results. Users should
// implement this interface with their preferred caching solution
// (e.g., Redis, Memcached, in-memory).
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns nil, nil if the key doesn't exist.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value in the cache with an optional TTL.
	// If ttl is 0, the value should not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a value from the cache.
	Delete(ctx context.Context, key string) error

	// DeletePrefix removes all values with the given prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Clear removes all values from the cache.
	Clear(ctx context.Context) error
}

// CacheKey identifies one query result in the cache. Session partitions
// private results per caller; it is empty for public-scope hints.
type CacheKey struct {
	Entity    string
	Operation string
	Session   string
	Filter    string
	OrderBy   string
	Take      int
	Skip      int
}

// Prefix returns the key prefix shared by all cached results for an
// entity. Mutations invalidate by this prefix.
func CachePrefix(entity string) string {
	return entity + ":"
}

// String returns the string representation of the cache key.
func (k CacheKey) String() string {
	var sb strings.Builder
	sb.WriteString(k.Entity)
	sb.WriteByte(':')
	sb.WriteString(k.Operation)
	sb.WriteByte(':')
	sb.WriteString(k.Session)
	sb.WriteByte(':')
	sb.WriteString(k.Filter)
	sb.WriteByte(':')
	sb.WriteString(k.OrderBy)
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(k.Take))
	sb.WriteByte(':')
	sb.WriteString(strconv.Itoa(k.Skip))
	return sb.String()
}

// SessionKeyer is implemented by session values that can contribute a
// stable cache-key component. Sessions that do not implement it opt out
// of result caching for private-scope hints.
type SessionKeyer interface {
	SessionKey() string
}
