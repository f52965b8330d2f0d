package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an LRU cache of embeddings with a TTL. Invalidate drops every
// entry, e.g. after the embedding model changed.
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*cacheEntry
	order      []string
	maxSize    int
	ttl        time.Duration
	generation uint64
}

type cacheEntry struct {
	vector     []float32
	timestamp  time.Time
	generation uint64
}

func NewMemoryCache(maxSize int, ttl time.Duration) *MemoryCache {
	if maxSize <= 0 {
		maxSize = 100
	}
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &MemoryCache{
		entries: make(map[string]*cacheEntry),
		order:   make([]string, 0, maxSize),
		maxSize: maxSize,
		ttl:     ttl,
	}
}

func (c *MemoryCache) Get(_ context.Context, key string) ([]float32, bool, error) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	currentGen := c.generation
	c.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}

	if time.Since(entry.timestamp) > c.ttl || entry.generation != currentGen {
		c.mu.Lock()
		delete(c.entries, key)
		c.removeFromOrder(key)
		c.mu.Unlock()
		return nil, false, nil
	}

	c.mu.Lock()
	c.moveToEnd(key)
	c.mu.Unlock()

	return copyVector(entry.vector), true, nil
}

func (c *MemoryCache) Set(_ context.Context, key string, vector []float32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry := &cacheEntry{
		vector:     copyVector(vector),
		timestamp:  time.Now(),
		generation: c.generation,
	}

	if _, exists := c.entries[key]; exists {
		c.entries[key] = entry
		c.moveToEnd(key)
		return nil
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	c.entries[key] = entry
	c.order = append(c.order, key)
	return nil
}

func (c *MemoryCache) Invalidate(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*cacheEntry)
	c.order = c.order[:0]
	c.generation++
	return nil
}

func (c *MemoryCache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) evictOldest() {
	if len(c.order) == 0 {
		return
	}
	oldest := c.order[0]
	c.order = c.order[1:]
	delete(c.entries, oldest)
}

func (c *MemoryCache) moveToEnd(key string) {
	c.removeFromOrder(key)
	c.order = append(c.order, key)
}

func (c *MemoryCache) removeFromOrder(key string) {
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			return
		}
	}
}

func copyVector(v []float32) []float32 {
	out := make([]float32, len(v))
	copy(out, v)
	return out
}
