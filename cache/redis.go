package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/bson"
)

// RedisCache implements the Cache interface using Redis. Values are stored as
// BSON so that bson.M documents round-trip without a custom codec.
type RedisCache[T any] struct {
	client  *redis.Client
	options *Options
	prefix  string
}

// RedisOptions represents additional options for RedisCache.
type RedisOptions struct {
	Options

	Username     string
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	KeyPrefix    string
}

// DefaultRedisOptions returns the default RedisCache options.
func DefaultRedisOptions() *RedisOptions {
	return &RedisOptions{
		Options:      *DefaultOptions(),
		PoolSize:     10,
		MinIdleConns: 2,
		KeyPrefix:    "caesium:",
	}
}

// NewRedisCache creates a new RedisCache instance and verifies connectivity.
func NewRedisCache[T any](redisAddr string, options *RedisOptions) (*RedisCache[T], error) {
	if options == nil {
		options = DefaultRedisOptions()
	}

	client := redis.NewClient(&redis.Options{
		Addr:         redisAddr,
		Username:     options.Username,
		Password:     options.Password,
		DB:           options.DB,
		PoolSize:     options.PoolSize,
		MinIdleConns: options.MinIdleConns,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisCache[T]{
		client:  client,
		options: &options.Options,
		prefix:  options.KeyPrefix,
	}, nil
}

// Get retrieves a document from the cache.
func (c *RedisCache[T]) Get(ctx context.Context, key string) (T, error) {
	var result T

	data, err := c.client.Get(ctx, c.getKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return result, ErrCacheMiss
		}
		return result, fmt.Errorf("failed to get from Redis: %w", err)
	}

	if err := bson.Unmarshal(data, &result); err != nil {
		return result, fmt.Errorf("failed to unmarshal data: %w", err)
	}

	return result, nil
}

// Set stores a document in the cache with an optional TTL.
func (c *RedisCache[T]) Set(ctx context.Context, key string, data T, ttl time.Duration) error {
	bytes, err := bson.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal data: %w", err)
	}

	if ttl <= 0 {
		ttl = c.options.DefaultTTL
	}

	if err := c.client.Set(ctx, c.getKey(key), bytes, ttl).Err(); err != nil {
		return fmt.Errorf("failed to set in Redis: %w", err)
	}

	return nil
}

// Delete removes a document from the cache.
func (c *RedisCache[T]) Delete(ctx context.Context, key string) error {
	if err := c.client.Del(ctx, c.getKey(key)).Err(); err != nil {
		return fmt.Errorf("failed to delete from Redis: %w", err)
	}
	return nil
}

// Clear removes all documents sharing this cache's key prefix.
func (c *RedisCache[T]) Clear(ctx context.Context) error {
	keys, err := c.client.Keys(ctx, c.prefix+"*").Result()
	if err != nil {
		return fmt.Errorf("failed to get keys from Redis: %w", err)
	}

	if len(keys) > 0 {
		if err := c.client.Del(ctx, keys...).Err(); err != nil {
			return fmt.Errorf("failed to delete keys from Redis: %w", err)
		}
	}

	return nil
}

// Close closes the cache.
func (c *RedisCache[T]) Close() error {
	return c.client.Close()
}

func (c *RedisCache[T]) getKey(key string) string {
	return c.prefix + key
}
