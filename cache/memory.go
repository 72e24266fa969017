package cache

import (
	"context"
	"sync"
	"time"
)

// memoryItem is a single cached entry.
type memoryItem[T any] struct {
	data       T
	expiresAt  time.Time
	lastAccess time.Time
}

// MemoryCache implements the Cache interface using in-memory storage.
type MemoryCache[T any] struct {
	items   map[string]memoryItem[T]
	mu      sync.RWMutex
	options *Options
	done    chan struct{}
	closed  bool
}

// NewMemoryCache creates a new MemoryCache instance.
func NewMemoryCache[T any](options *Options) *MemoryCache[T] {
	if options == nil {
		options = DefaultOptions()
	}

	c := &MemoryCache[T]{
		items:   make(map[string]memoryItem[T]),
		options: options,
		done:    make(chan struct{}),
	}

	go c.cleanup()

	return c
}

// Get retrieves a document from the cache.
func (c *MemoryCache[T]) Get(ctx context.Context, key string) (T, error) {
	var empty T

	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return empty, ErrCacheClosed
	}
	item, ok := c.items[key]
	c.mu.RUnlock()

	if !ok {
		return empty, ErrCacheMiss
	}

	if !item.expiresAt.IsZero() && time.Now().After(item.expiresAt) {
		c.mu.Lock()
		delete(c.items, key)
		c.mu.Unlock()
		return empty, ErrCacheMiss
	}

	c.mu.Lock()
	item.lastAccess = time.Now()
	c.items[key] = item
	c.mu.Unlock()

	return item.data, nil
}

// Set stores a document in the cache with an optional TTL.
func (c *MemoryCache[T]) Set(ctx context.Context, key string, data T, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.options.DefaultTTL
	}

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}

	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}

	if c.options.MaxItems > 0 && len(c.items) >= c.options.MaxItems {
		if _, exists := c.items[key]; !exists {
			c.evictOldestLocked()
		}
	}

	c.items[key] = memoryItem[T]{
		data:       data,
		expiresAt:  expiresAt,
		lastAccess: now,
	}
	return nil
}

// evictOldestLocked removes the least recently accessed item.
// The caller must hold the write lock.
func (c *MemoryCache[T]) evictOldestLocked() {
	var oldestKey string
	var oldestTime time.Time
	first := true

	for k, v := range c.items {
		if first || v.lastAccess.Before(oldestTime) {
			oldestKey = k
			oldestTime = v.lastAccess
			first = false
		}
	}

	if oldestKey != "" {
		delete(c.items, oldestKey)
	}
}

// Delete removes a document from the cache.
func (c *MemoryCache[T]) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}

	delete(c.items, key)
	return nil
}

// Clear removes all documents from the cache.
func (c *MemoryCache[T]) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrCacheClosed
	}

	c.items = make(map[string]memoryItem[T])
	return nil
}

// Close closes the cache.
func (c *MemoryCache[T]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}

	c.closed = true
	close(c.done)
	c.items = nil
	return nil
}

// cleanup periodically removes expired items from the cache.
func (c *MemoryCache[T]) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.mu.Lock()
			now := time.Now()
			for key, item := range c.items {
				if !item.expiresAt.IsZero() && now.After(item.expiresAt) {
					delete(c.items, key)
				}
			}
			c.mu.Unlock()
		}
	}
}
