// pkg/subscriptions/service.go
package subscriptions

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"clearbill/pkg/auth"
	"clearbill/pkg/autherr"
	"clearbill/pkg/cache"
	"clearbill/pkg/events"
	"clearbill/pkg/transport"

	"go.uber.org/zap"
)

const cacheTTL = 30 * time.Second

type Subscription struct {
	ID         string    `json:"id"`
	TenantID   string    `json:"tenant_id"`
	OfferID    string    `json:"offer_id"`
	CustomerID string    `json:"customer_id"`
	Status     string    `json:"status"` // active | past_due | canceled
	RenewsAt   time.Time `json:"renews_at"`
}

// Service is a thin pass-through over the subscription endpoints.
type Service struct {
	http  transport.Requester
	auth  *auth.Manager
	cache cache.Cache
	bus   *events.Bus
	log   *zap.SugaredLogger
}

func NewService(requester transport.Requester, am *auth.Manager, c cache.Cache, bus *events.Bus, log *zap.SugaredLogger) *Service {
	return &Service{http: requester, auth: am, cache: c, bus: bus, log: log}
}

func (s *Service) Get(ctx context.Context, id string) (Subscription, error) {
	const op = "subscriptions.Get"
	key := "clearbill:subscription:" + id
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var sub Subscription
			if json.Unmarshal([]byte(raw), &sub) == nil {
				return sub, nil
			}
		}
	}
	h, err := s.auth.AuthorizationHeader(ctx)
	if err != nil {
		return Subscription{}, err
	}
	resp, err := s.http.Do(ctx, http.MethodGet, "/v1/subscriptions/"+id, transport.Options{Headers: h})
	if err != nil || !resp.OK() {
		return Subscription{}, autherr.New(autherr.Authentication, op, "subscription fetch rejected", err)
	}
	var sub Subscription
	if err := resp.Decode(&sub); err != nil {
		return Subscription{}, autherr.New(autherr.Authentication, op, "decode subscription", err)
	}
	if s.cache != nil {
		if raw, err := json.Marshal(sub); err == nil {
			_ = s.cache.Set(ctx, key, string(raw), cacheTTL)
		}
	}
	return sub, nil
}

func (s *Service) List(ctx context.Context, customerID string) ([]Subscription, error) {
	const op = "subscriptions.List"
	h, err := s.auth.AuthorizationHeader(ctx)
	if err != nil {
		return nil, err
	}
	uri := "/v1/subscriptions"
	if customerID != "" {
		uri += "?customer_id=" + customerID
	}
	resp, err := s.http.Do(ctx, http.MethodGet, uri, transport.Options{Headers: h})
	if err != nil || !resp.OK() {
		return nil, autherr.New(autherr.Authentication, op, "subscription list rejected", err)
	}
	var out []Subscription
	if err := resp.Decode(&out); err != nil {
		return nil, autherr.New(autherr.Authentication, op, "decode subscriptions", err)
	}
	return out, nil
}

// Cancel ends a subscription, invalidates the cached copy and dispatches a
// sync event.
func (s *Service) Cancel(ctx context.Context, id string) error {
	const op = "subscriptions.Cancel"
	h, err := s.auth.AuthorizationHeader(ctx)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(ctx, http.MethodDelete, "/v1/subscriptions/"+id, transport.Options{Headers: h})
	if err != nil || !resp.OK() {
		return autherr.New(autherr.Authentication, op, "subscription cancel rejected", err)
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "clearbill:subscription:"+id)
	}
	if s.bus != nil {
		_ = s.bus.Publish(ctx, events.Event{Type: events.TypeSubscriptionSync, Payload: map[string]any{"subscription_id": id, "status": "canceled"}})
	}
	return nil
}
