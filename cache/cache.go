// Package cache provides the read-through caching layer used by the document
// store adapter.
//
// Two implementations are provided:
//   - MemoryCache: an in-memory cache local to the process
//   - RedisCache: a distributed cache for deployments with several API nodes
//
// Basic usage:
//
//	memCache := cache.NewMemoryCache[docstore.Document](nil)
//	defer memCache.Close()
//
//	err := memCache.Set(ctx, id, doc, time.Hour)
//	doc, err := memCache.Get(ctx, id)
//	if errors.Is(err, cache.ErrCacheMiss) {
//	    // not cached
//	}
package cache

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrCacheMiss is returned when a document is not found in the cache.
	ErrCacheMiss = errors.New("cache miss")

	// ErrCacheClosed is returned when operating on a closed cache.
	ErrCacheClosed = errors.New("cache is closed")
)

// Cache is the interface for caching documents of type T.
// Implementations must be safe for concurrent use.
type Cache[T any] interface {
	// Get retrieves a cached document by key.
	// Returns ErrCacheMiss when the key is absent or expired.
	Get(ctx context.Context, key string) (T, error)

	// Set stores a document with the given TTL (0 uses the default TTL).
	Set(ctx context.Context, key string, data T, ttl time.Duration) error

	// Delete removes a document from the cache. Deleting an absent key is not
	// an error.
	Delete(ctx context.Context, key string) error

	// Clear removes all documents from the cache.
	Clear(ctx context.Context) error

	// Close releases any resources held by the cache.
	Close() error
}

// Options represents configuration shared by cache implementations.
type Options struct {
	// DefaultTTL is applied when Set is called with a TTL of 0.
	// A value of 0 means no expiration.
	DefaultTTL time.Duration

	// MaxItems bounds memory-based caches. When the limit is reached the
	// least recently accessed item is evicted. 0 means unbounded.
	MaxItems int
}

// DefaultOptions returns the default cache options.
func DefaultOptions() *Options {
	return &Options{
		DefaultTTL: time.Hour * 24,
		MaxItems:   10000,
	}
}
