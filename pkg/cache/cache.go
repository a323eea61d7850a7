package cache

import "time"

// Cache is the interface for caching venue metadata: token order
// constraints, market descriptions, and other slow-moving lookups.
type Cache interface {
	// Get retrieves a value from the cache.
	// Returns (value, true) if found, (nil, false) if not found.
	Get(key string) (interface{}, bool)

	// Set stores a value in the cache with a TTL.
	Set(key string, value interface{}, ttl time.Duration) bool

	// Delete removes a value from the cache.
	Delete(key string)

	// Clear removes all values from the cache.
	Clear()

	// Close closes the cache and releases resources.
	Close()
}

// Typed is a typed view over a Cache for one value type with a fixed
// TTL. Several views can share one backing cache under disjoint key
// prefixes. A view over a nil backend is valid and always misses, so
// callers need no cache-present branches.
type Typed[V any] struct {
	backend Cache
	ttl     time.Duration
}

// NewTyped builds a typed view over backend; backend may be nil.
func NewTyped[V any](backend Cache, ttl time.Duration) *Typed[V] {
	return &Typed[V]{backend: backend, ttl: ttl}
}

// Enabled reports whether a backing cache exists.
func (t *Typed[V]) Enabled() bool {
	return t.backend != nil
}

// Get retrieves the value under key. An entry of a foreign type misses
// rather than panicking, so a key collision across views degrades to a
// refetch.
func (t *Typed[V]) Get(key string) (V, bool) {
	var zero V
	if t.backend == nil {
		return zero, false
	}
	raw, ok := t.backend.Get(key)
	if !ok {
		return zero, false
	}
	value, ok := raw.(V)
	if !ok {
		return zero, false
	}
	return value, true
}

// Set stores value under key with the view's TTL.
func (t *Typed[V]) Set(key string, value V) bool {
	if t.backend == nil {
		return false
	}
	return t.backend.Set(key, value, t.ttl)
}

// Delete removes the entry under key.
func (t *Typed[V]) Delete(key string) {
	if t.backend != nil {
		t.backend.Delete(key)
	}
}
