// pkg/offers/service.go
package offers

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

const cacheTTL = 60 * time.Second

type Offer struct {
	ID        string `json:"id"`
	ProductID string `json:"product_id"`
	Name      string `json:"name"`
	Currency  string `json:"currency"`
	AmountCts int64  `json:"amount_cents"`
	Active    bool   `json:"active"`
}

// Service is a thin pass-through over the offer endpoints.
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

func (s *Service) Get(ctx context.Context, id string) (Offer, error) {
	const op = "offers.Get"
	key := "clearbill:offer:" + id
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var o Offer
			if json.Unmarshal([]byte(raw), &o) == nil {
				return o, nil
			}
		}
	}
	h, err := s.auth.AuthorizationHeader(ctx)
	if err != nil {
		return Offer{}, err
	}
	resp, err := s.http.Do(ctx, http.MethodGet, "/v1/offers/"+id, transport.Options{Headers: h})
	if err != nil || !resp.OK() {
		return Offer{}, autherr.New(autherr.Authentication, op, "offer fetch rejected", err)
	}
	var o Offer
	if err := resp.Decode(&o); err != nil {
		return Offer{}, autherr.New(autherr.Authentication, op, "decode offer", err)
	}
	if s.cache != nil {
		if raw, err := json.Marshal(o); err == nil {
			_ = s.cache.Set(ctx, key, string(raw), cacheTTL)
		}
	}
	return o, nil
}

func (s *Service) List(ctx context.Context, productID string) ([]Offer, error) {
	const op = "offers.List"
	h, err := s.auth.AuthorizationHeader(ctx)
	if err != nil {
		return nil, err
	}
	uri := "/v1/offers"
	if productID != "" {
		uri += "?product_id=" + productID
	}
	resp, err := s.http.Do(ctx, http.MethodGet, uri, transport.Options{Headers: h})
	if err != nil || !resp.OK() {
		return nil, autherr.New(autherr.Authentication, op, "offer list rejected", err)
	}
	var out []Offer
	if err := resp.Decode(&out); err != nil {
		return nil, autherr.New(autherr.Authentication, op, "decode offers", err)
	}
	return out, nil
}

// SetActive toggles an offer and dispatches a change event.
func (s *Service) SetActive(ctx context.Context, id string, active bool) error {
	const op = "offers.SetActive"
	h, err := s.auth.AuthorizationHeader(ctx)
	if err != nil {
		return err
	}
	resp, err := s.http.Do(ctx, http.MethodPatch, "/v1/offers/"+id, transport.Options{
		Headers: h, JSON: map[string]any{"active": active},
	})
	if err != nil || !resp.OK() {
		return autherr.New(autherr.Authentication, op, "offer update rejected", err)
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "clearbill:offer:"+id)
	}
	if s.bus != nil {
		_ = s.bus.Publish(ctx, events.Event{Type: events.TypeOfferChanged, Payload: map[string]any{"offer_id": id, "active": active}})
	}
	return nil
}
