package cache

import "context"

// Cache defines the interface for resolver result caching.
// This abstraction allows swapping between the in-process LRU cache
// (default, process-local) and Redis (opt-in, shared across workers)
// without changing business logic.
type Cache interface {
	// Get retrieves a value by key. Returns ErrCacheMiss if not found.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value. Backends bound their own capacity/lifetime.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes a value by key.
	Delete(ctx context.Context, key string) error

	// Clear removes all entries from the cache.
	Clear(ctx context.Context) error
}

// Common cache errors
type CacheError string

func (e CacheError) Error() string { return string(e) }

const (
	// ErrCacheMiss indicates the key was not found in cache.
	ErrCacheMiss CacheError = "cache miss"
)
