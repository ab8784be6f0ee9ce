// pkg/events/bus.go
package events

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types published by the API modules.
const (
	TypeContextSwitched  = "context.switched"
	TypeTenantCreated    = "tenant.created"
	TypeTenantUpdated    = "tenant.updated"
	TypeAPIKeyEnsured    = "tenant.api_key_ensured"
	TypeProductChanged   = "product.changed"
	TypeOfferChanged     = "offer.changed"
	TypeSubscriptionSync = "subscription.synced"
	TypeWebhookReceived  = "webhook.received"
)

// Event is a named occurrence with a loose payload.
type Event struct {
	Type    string
	At      time.Time
	Payload map[string]any
}

// Handler processes one event. Handlers should be idempotent; a returned
// error is logged but does not stop fan-out to other handlers.
type Handler func(ctx context.Context, ev Event) error

// Bus is a small in-process dispatcher keyed by event type.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
	log      *zap.SugaredLogger
}

func NewBus(log *zap.SugaredLogger) *Bus {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Bus{handlers: map[string][]Handler{}, log: log}
}

// Subscribe registers a handler for one event type.
func (b *Bus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers[eventType] = append(b.handlers[eventType], h)
}

// Publish delivers ev to every handler of its type, sequentially. The last
// handler error is returned after all handlers ran.
func (b *Bus) Publish(ctx context.Context, ev Event) error {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}
	b.mu.RLock()
	handlers := b.handlers[ev.Type]
	b.mu.RUnlock()
	var lastErr error
	for i, h := range handlers {
		if err := h(ctx, ev); err != nil {
			b.log.Warnw("event handler failed", "type", ev.Type, "handler", i, "err", err)
			lastErr = err
		}
	}
	return lastErr
}

// PublishAsync fires and forgets.
func (b *Bus) PublishAsync(ctx context.Context, ev Event) {
	go func() { _ = b.Publish(ctx, ev) }()
}

// HandlerCount reports registrations for a type. Test helper.
func (b *Bus) HandlerCount(eventType string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[eventType])
}
