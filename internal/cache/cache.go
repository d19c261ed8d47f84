package cache

import (
	"context"
	"fmt"

	"github.com/sandwichfarm/pulsr/internal/config"
)

// Cache is a small TTL cache for rendered feed pages. Misses are cheap:
// every entry can be recomputed from the current snapshot.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool)
	Set(ctx context.Context, key string, value []byte)
}

// New creates the configured cache engine
func New(cfg *config.Caching) (Cache, error) {
	switch cfg.Engine {
	case "memory":
		return NewMemory(cfg.TTL()), nil
	case "redis":
		return NewRedis(cfg.RedisURL, cfg.TTL())
	default:
		return nil, fmt.Errorf("unsupported caching engine: %s", cfg.Engine)
	}
}
