// pkg/credstore/credstore.go
package credstore

import (
	"context"
)

// Health is the tri-state result of a storage self-test. Unknown means the
// check could not run at all (no backend configured); callers must branch on
// it explicitly instead of treating it as a boolean.
type Health int

const (
	Healthy Health = iota
	Unhealthy
	Unknown
)

func (h Health) String() string {
	switch h {
	case Healthy:
		return "healthy"
	case Unhealthy:
		return "unhealthy"
	}
	return "unknown"
}

// Storage persists one encrypted record per context id. Payloads are opaque
// to the store: callers hand over serialized context material and get the
// exact bytes back. Retrieve reports ok=false for absent records; a record
// that fails authentication on decrypt is purged and reported absent.
//
// The store is the only multi-process-visible resource in the client. Two
// processes writing the same id race last-write-wins; cross-process locking
// is out of scope.
type Storage interface {
	Store(ctx context.Context, id string, payload []byte) error
	Retrieve(ctx context.Context, id string) ([]byte, bool, error)
	Remove(ctx context.Context, id string) error
	Exists(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]string, error)
	HealthCheck(ctx context.Context) Health
}
