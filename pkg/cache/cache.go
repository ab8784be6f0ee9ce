// pkg/cache/cache.go
package cache

import (
	"context"
	"time"
)

// Cache is the collaborator contract consumed by org auth caching and the
// rate-limit counters. Get returns ok=false on miss; an error means the
// backend itself failed (callers decide whether that is fatal).
type Cache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	// Incr atomically increments key and returns the new value, setting the
	// key to expire after ttl when first created. Used for fixed windows.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}
