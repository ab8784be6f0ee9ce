// pkg/tenants/service.go
package tenants

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"clearbill/pkg/auth"
	"clearbill/pkg/autherr"
	"clearbill/pkg/cache"
	"clearbill/pkg/credentials"
	"clearbill/pkg/events"
	"clearbill/pkg/transport"

	"go.uber.org/zap"
)

const cacheTTL = 60 * time.Second

// Tenant mirrors the platform's tenant resource.
type Tenant struct {
	ID        string    `json:"id"`
	Slug      string    `json:"slug"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// apiKey is the provisioning-side view of a tenant key.
type apiKey struct {
	Key       string `json:"key"`
	Active    bool   `json:"active"`
	CreatedAt string `json:"created_at"`
}

// Service is a thin pass-through over the tenant endpoints with read caching
// and event dispatch.
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

func (s *Service) headers(ctx context.Context) (map[string]string, error) {
	return s.auth.AuthorizationHeader(ctx)
}

// Get fetches one tenant, serving repeat reads from cache.
func (s *Service) Get(ctx context.Context, id string) (Tenant, error) {
	const op = "tenants.Get"
	key := "clearbill:tenant:" + id
	if s.cache != nil {
		if raw, ok, err := s.cache.Get(ctx, key); err == nil && ok {
			var t Tenant
			if json.Unmarshal([]byte(raw), &t) == nil {
				return t, nil
			}
		}
	}
	h, err := s.headers(ctx)
	if err != nil {
		return Tenant{}, err
	}
	resp, err := s.http.Do(ctx, http.MethodGet, "/v1/tenants/"+id, transport.Options{Headers: h})
	if err != nil {
		return Tenant{}, autherr.New(autherr.Authentication, op, "request", err).WithTenant(id)
	}
	if !resp.OK() {
		return Tenant{}, autherr.New(autherr.Authorization, op, "tenant fetch rejected", nil).WithTenant(id)
	}
	var t Tenant
	if err := resp.Decode(&t); err != nil {
		return Tenant{}, autherr.New(autherr.Authentication, op, "decode tenant", err).WithTenant(id)
	}
	if s.cache != nil {
		if raw, err := json.Marshal(t); err == nil {
			_ = s.cache.Set(ctx, key, string(raw), cacheTTL)
		}
	}
	return t, nil
}

// List fetches every tenant visible to the session.
func (s *Service) List(ctx context.Context) ([]Tenant, error) {
	const op = "tenants.List"
	h, err := s.headers(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := s.http.Do(ctx, http.MethodGet, "/v1/tenants", transport.Options{Headers: h})
	if err != nil {
		return nil, autherr.New(autherr.Authentication, op, "request", err)
	}
	if !resp.OK() {
		return nil, autherr.New(autherr.Authorization, op, "tenant list rejected", nil)
	}
	var out []Tenant
	if err := resp.Decode(&out); err != nil {
		return nil, autherr.New(autherr.Authentication, op, "decode tenants", err)
	}
	return out, nil
}

// Create provisions a tenant and invalidates nothing (ids are new).
func (s *Service) Create(ctx context.Context, slug, name string) (Tenant, error) {
	const op = "tenants.Create"
	h, err := s.headers(ctx)
	if err != nil {
		return Tenant{}, err
	}
	resp, err := s.http.Do(ctx, http.MethodPost, "/v1/tenants", transport.Options{
		Headers: h, JSON: map[string]string{"slug": slug, "name": name},
	})
	if err != nil || !resp.OK() {
		return Tenant{}, autherr.New(autherr.Authentication, op, "tenant create rejected", err)
	}
	var t Tenant
	if err := resp.Decode(&t); err != nil {
		return Tenant{}, autherr.New(autherr.Authentication, op, "decode tenant", err)
	}
	if s.bus != nil {
		_ = s.bus.Publish(ctx, events.Event{Type: events.TypeTenantCreated, Payload: map[string]any{"tenant_id": t.ID}})
	}
	return t, nil
}

// Update patches tenant metadata, drops the cached copy and dispatches an
// update event.
func (s *Service) Update(ctx context.Context, id string, fields map[string]any) (Tenant, error) {
	const op = "tenants.Update"
	h, err := s.headers(ctx)
	if err != nil {
		return Tenant{}, err
	}
	resp, err := s.http.Do(ctx, http.MethodPatch, "/v1/tenants/"+id, transport.Options{Headers: h, JSON: fields})
	if err != nil || !resp.OK() {
		return Tenant{}, autherr.New(autherr.Authentication, op, "tenant update rejected", err).WithTenant(id)
	}
	var t Tenant
	if err := resp.Decode(&t); err != nil {
		return Tenant{}, autherr.New(autherr.Authentication, op, "decode tenant", err).WithTenant(id)
	}
	if s.cache != nil {
		_ = s.cache.Delete(ctx, "clearbill:tenant:"+id)
	}
	if s.bus != nil {
		_ = s.bus.Publish(ctx, events.Event{Type: events.TypeTenantUpdated, Payload: map[string]any{"tenant_id": id}})
	}
	return t, nil
}

// EnsureState tags the outcome of EnsureAPIKey.
type EnsureState int

const (
	StateAlreadyPresent EnsureState = iota
	StateCreated
	StateFailed
)

func (s EnsureState) String() string {
	switch s {
	case StateAlreadyPresent:
		return "already_present"
	case StateCreated:
		return "created"
	}
	return "failed"
}

// EnsureResult reports what EnsureAPIKey did. APIKey is populated only when a
// key was created in this call; existing keys are never echoed back.
type EnsureResult struct {
	State  EnsureState
	APIKey string
}

// EnsureAPIKey is the idempotent provisioning operation: a tenant that
// already holds an active well-formed key is left alone, otherwise one key is
// created. Calling it twice yields AlreadyPresent the second time.
func (s *Service) EnsureAPIKey(ctx context.Context, tenantID string) (EnsureResult, error) {
	const op = "tenants.EnsureAPIKey"
	h, err := s.headers(ctx)
	if err != nil {
		return EnsureResult{State: StateFailed}, err
	}
	resp, err := s.http.Do(ctx, http.MethodGet, "/v1/tenants/"+tenantID+"/api-keys", transport.Options{Headers: h})
	if err != nil {
		return EnsureResult{State: StateFailed}, autherr.New(autherr.Authentication, op, "list keys", err).WithTenant(tenantID)
	}
	if resp.OK() {
		var keys []apiKey
		if resp.Decode(&keys) == nil {
			for _, k := range keys {
				if k.Active && credentials.IsValidAPIKey(k.Key) {
					return EnsureResult{State: StateAlreadyPresent}, nil
				}
			}
		}
	}
	resp, err = s.http.Do(ctx, http.MethodPost, "/v1/tenants/"+tenantID+"/api-keys", transport.Options{Headers: h})
	if err != nil || !resp.OK() {
		return EnsureResult{State: StateFailed}, autherr.New(autherr.Authentication, op, "create key rejected", err).WithTenant(tenantID)
	}
	var created apiKey
	if err := resp.Decode(&created); err != nil {
		return EnsureResult{State: StateFailed}, autherr.New(autherr.Authentication, op, "decode created key", err).WithTenant(tenantID)
	}
	if s.bus != nil {
		_ = s.bus.Publish(ctx, events.Event{Type: events.TypeAPIKeyEnsured, Payload: map[string]any{"tenant_id": tenantID, "state": StateCreated.String()}})
	}
	return EnsureResult{State: StateCreated, APIKey: created.Key}, nil
}
