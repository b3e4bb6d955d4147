package cache

import (
	"context"
	"time"
)

// Cache is the read-through cache used by query paths. Implementations must
// treat a miss as (false, nil), never as an error.
type Cache interface {
	// Get unmarshals the cached value into dest and reports whether it was found.
	Get(ctx context.Context, key string, dest interface{}) (bool, error)

	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error

	// DeletePattern removes every key matching a glob pattern.
	DeletePattern(ctx context.Context, pattern string) error

	Ping(ctx context.Context) error
}

// NopCache never stores anything. Used when Redis is disabled.
type NopCache struct{}

func (NopCache) Get(ctx context.Context, key string, dest interface{}) (bool, error) {
	return false, nil
}

func (NopCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	return nil
}

func (NopCache) Delete(ctx context.Context, keys ...string) error { return nil }

func (NopCache) DeletePattern(ctx context.Context, pattern string) error { return nil }

func (NopCache) Ping(ctx context.Context) error { return nil }
