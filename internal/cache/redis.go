package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis caches feed pages in a shared redis instance. Any redis error is
// treated as a cache miss; the API always falls back to storage.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedis creates a redis-backed cache from a redis:// URL
func NewRedis(url string, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}
	return &Redis{
		client: redis.NewClient(opts),
		ttl:    ttl,
	}, nil
}

// Get returns a cached value if present
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	value, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return value, true
}

// Set stores a value under key for the cache TTL
func (r *Redis) Set(ctx context.Context, key string, value []byte) {
	r.client.Set(ctx, key, value, r.ttl)
}

// Close releases the redis connection
func (r *Redis) Close() error {
	return r.client.Close()
}
