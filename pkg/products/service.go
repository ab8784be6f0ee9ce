// pkg/products/service.go
package products

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

type Product struct {
	ID       string         `json:"id"`
	TenantID string         `json:"tenant_id"`
	Name     string         `json:"name"`
	Active   bool           `json:"active"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// Service is a thin pass-through over the product endpoints.
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

func (s *Service) Get(ctx context.Context, id string) (Product, error) {
	const op = "products.Get"
	key := "clearbill:product:" + id
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var p Product
			if json.Unmarshal([]byte(raw), &p) == nil {
				return p, nil
			}
		}
	}
	h, err := s.auth.AuthorizationHeader(ctx)
	if err != nil {
		return Product{}, err
	}
	resp, err := s.http.Do(ctx, http.MethodGet, "/v1/products/"+id, transport.Options{Headers: h})
	if err != nil || !resp.OK() {
		return Product{}, autherr.New(autherr.Authentication, op, "product fetch rejected", err)
	}
	var p Product
	if err := resp.Decode(&p); err != nil {
		return Product{}, autherr.New(autherr.Authentication, op, "decode product", err)
	}
	if s.cache != nil {
		if raw, err := json.Marshal(p); err == nil {
			_ = s.cache.Set(ctx, key, string(raw), cacheTTL)
		}
	}
	return p, nil
}

func (s *Service) List(ctx context.Context) ([]Product, error) {
	const op = "products.List"
	h, err := s.auth.AuthorizationHeader(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(ctx, http.MethodGet, "/v1/products", transport.Options{Headers: h})
	if err != nil || !resp.OK() {
		return nil, autherr.New(autherr.Authentication, op, "product list rejected", err)
	}
	var out []Product
	if err := resp.Decode(&out); err != nil {
		return nil, autherr.New(autherr.Authentication, op, "decode products", err)
	}
	return out, nil
}

// Update mutates a product, drops the stale cache entry and dispatches a
// change event.
func (s *Service) Update(ctx context.Context, id string, fields map[string]any) (Product, error) {
	const op = "products.Update"
	h, err := s.auth.AuthorizationHeader(ctx)
	if err != nil {
		return Product{}, err
	}
	resp, err := s.http.Do(ctx, http.MethodPatch, "/v1/products/"+id, transport.Options{Headers: h, JSON: fields})
	if err != nil || !resp.OK() {
		return Product{}, autherr.New(autherr.Authentication, op, "product update rejected", err)
	}
	var p Product
	if err := resp.Decode(&p); err != nil {
		return Product{}, autherr.New(autherr.Authentication, op, "decode product", err)
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "clearbill:product:"+id)
	}
	if s.bus != nil {
		_ = s.bus.Publish(ctx, events.Event{Type: events.TypeProductChanged, Payload: map[string]any{"product_id": id}})
	}
	return p, nil
}
