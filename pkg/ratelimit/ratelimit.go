// pkg/ratelimit/ratelimit.go
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"clearbill/pkg/cache"
)

// Decision is the tri-state outcome of a limiter check. FailOpen means the
// counting backend errored and the operation was allowed anyway; callers are
// expected to audit that path rather than treat it as a clean pass.
type Decision int

const (
	Allowed Decision = iota
	Denied
	FailOpen
)

func (d Decision) String() string {
	switch d {
	case Allowed:
		return "allowed"
	case Denied:
		return "denied"
	}
	return "fail_open"
}

// FixedWindow counts events per identity in fixed (not sliding) time windows
// backed by the shared Cache. Availability wins over strictness: backend
// errors never block the caller.
type FixedWindow struct {
	cache  cache.Cache
	limit  int
	window time.Duration
	now    func() time.Time
}

func NewFixedWindow(c cache.Cache, limit int, window time.Duration) *FixedWindow {
	if limit <= 0 {
		limit = 5
	}
	if window <= 0 {
		window = time.Hour
	}
	return &FixedWindow{cache: c, limit: limit, window: window, now: time.Now}
}

// Allow consumes one slot for identity in the current window.
func (f *FixedWindow) Allow(ctx context.Context, identity string) Decision {
	if f.cache == nil {
		return FailOpen
	}
	bucket := f.now().Truncate(f.window).Unix()
	key := fmt.Sprintf("clearbill:rl:%s:%d", identity, bucket)
	n, err := f.cache.Incr(ctx, key, f.window)
	if err != nil {
		return FailOpen
	}
	if n > int64(f.limit) {
		return Denied
	}
	return Allowed
}
