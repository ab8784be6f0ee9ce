// pkg/cache/memory.go
package cache

import (
	"context"
	"sync"
	"time"
)

type memEntry struct {
	value   string
	count   int64
	expires time.Time // zero means no expiry
}

type memCache struct {
	mu      sync.Mutex
	entries map[string]*memEntry
	now     func() time.Time
}

// NewMemory returns an in-process Cache for dev and tests. Expiry is checked
// lazily on access; there is no background sweeper.
func NewMemory() Cache {
	return &memCache{entries: map[string]*memEntry{}, now: time.Now}
}

func (c *memCache) live(key string) *memEntry {
	e, ok := c.entries[key]
	if !ok {
		return nil
	}
	if !e.expires.IsZero() && c.now().After(e.expires) {
		delete(c.entries, key)
		return nil
	}
	return e
}

func (c *memCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(key)
	if e == nil {
		return "", false, nil
	}
	return e.value, true, nil
}

func (c *memCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := &memEntry{value: value}
	if ttl > 0 {
		e.expires = c.now().Add(ttl)
	}
	c.entries[key] = e
	return nil
}

func (c *memCache) Delete(_ context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, key)
	return nil
}

func (c *memCache) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.live(key)
	if e == nil {
		e = &memEntry{}
		if ttl > 0 {
			e.expires = c.now().Add(ttl)
		}
		c.entries[key] = e
	}
	e.count++
	return e.count, nil
}
