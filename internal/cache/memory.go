package cache

import (
	"container/list"
	"context"
	"sync"
)

// lruEntry is the payload stored in the recency list.
type lruEntry struct {
	key   string
	value []byte
}

// LRUCache is a bounded in-memory cache with least-recently-used
// eviction. Resolved SKUs are stable facts, so entries never expire;
// capacity is the only pressure.
type LRUCache struct {
	mu       sync.Mutex
	maxSize  int
	entries  map[string]*list.Element
	recency  *list.List // front = most recently used
}

// NewLRUCache creates a bounded LRU cache. maxSize <= 0 falls back to 500.
func NewLRUCache(maxSize int) *LRUCache {
	if maxSize <= 0 {
		maxSize = 500
	}
	return &LRUCache{
		maxSize: maxSize,
		entries: make(map[string]*list.Element),
		recency: list.New(),
	}
}

// Get retrieves a value by key and marks it most recently used.
func (c *LRUCache) Get(ctx context.Context, key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, exists := c.entries[key]
	if !exists {
		return nil, ErrCacheMiss
	}
	c.recency.MoveToFront(elem)

	value := elem.Value.(*lruEntry).value
	result := make([]byte, len(value))
	copy(result, value)
	return result, nil
}

// Set stores a value, evicting the least recently used entry when full.
func (c *LRUCache) Set(ctx context.Context, key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	valueCopy := make([]byte, len(value))
	copy(valueCopy, value)

	if elem, exists := c.entries[key]; exists {
		elem.Value.(*lruEntry).value = valueCopy
		c.recency.MoveToFront(elem)
		return nil
	}

	c.entries[key] = c.recency.PushFront(&lruEntry{key: key, value: valueCopy})

	if c.recency.Len() > c.maxSize {
		oldest := c.recency.Back()
		if oldest != nil {
			c.recency.Remove(oldest)
			delete(c.entries, oldest.Value.(*lruEntry).key)
		}
	}
	return nil
}

// Delete removes a value by key.
func (c *LRUCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, exists := c.entries[key]; exists {
		c.recency.Remove(elem)
		delete(c.entries, key)
	}
	return nil
}

// Clear removes all entries from the cache.
func (c *LRUCache) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*list.Element)
	c.recency.Init()
	return nil
}

// Len returns the current number of entries.
func (c *LRUCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.recency.Len()
}

// Ensure LRUCache implements Cache
var _ Cache = (*LRUCache)(nil)
