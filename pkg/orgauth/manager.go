// pkg/orgauth/manager.go
package orgauth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"clearbill/pkg/autherr"
	"clearbill/pkg/cache"
	"clearbill/pkg/credentials"
	"clearbill/pkg/metrics"
	"clearbill/pkg/transport"

	"go.uber.org/zap"
)

// refreshWindow mirrors the tenant-side safety margin.
const refreshWindow = 300 * time.Second

// Scope is the breadth of tenant access an organization API key grants.
type Scope string

const (
	ScopeTenant       Scope = "tenant"       // single bound tenant
	ScopeOrganization Scope = "organization" // every tenant under the org
	ScopeCrossTenant  Scope = "cross_tenant" // explicit allow-list
)

// Session is one authenticated organization identity. AccessibleTenants is
// meaningful only under ScopeCrossTenant.
type Session struct {
	OrganizationID    string    `json:"organization_id"`
	TenantID          string    `json:"tenant_id,omitempty"`
	Scope             Scope     `json:"scope"`
	AccessToken       string    `json:"access_token"`
	RefreshToken      string    `json:"refresh_token,omitempty"`
	ExpiresAt         time.Time `json:"expires_at"`
	Permissions       []string  `json:"permissions"`
	AccessibleTenants []string  `json:"accessible_tenants,omitempty"`
}

func (s *Session) expired(now time.Time) bool {
	return s.ExpiresAt.IsZero() || !now.Before(s.ExpiresAt)
}

type orgTokenResponse struct {
	AccessToken       string   `json:"access_token"`
	RefreshToken      string   `json:"refresh_token"`
	ExpiresIn         int64    `json:"expires_in"`
	Scope             string   `json:"scope"`
	Permissions       []string `json:"permissions"`
	AccessibleTenants []string `json:"accessible_tenants"`
}

// Manager authenticates organization-level API keys and answers scope and
// permission questions about the resulting session.
type Manager struct {
	http  transport.Requester
	cache cache.Cache
	log   *zap.SugaredLogger

	mu      sync.Mutex
	session *Session

	now func() time.Time
}

func New(requester transport.Requester, c cache.Cache, log *zap.SugaredLogger) (*Manager, error) {
	if requester == nil {
		return nil, autherr.New(autherr.Validation, "orgauth.New", "requester is required", nil)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{http: requester, cache: c, log: log, now: time.Now}, nil
}

// cacheKey is a one-way hash over the credential tuple; the raw key never
// becomes a cache key.
func cacheKey(orgID, apiKey, tenantID string) string {
	sum := sha256.Sum256([]byte(orgID + "\x00" + apiKey + "\x00" + tenantID))
	return "clearbill:orgauth:" + hex.EncodeToString(sum[:])
}

// Authenticate exchanges an organization API key for a scoped session. A
// fresh success is cached until 300s before token expiry; a cache hit
// restores the session without a network call.
func (m *Manager) Authenticate(ctx context.Context, orgID, apiKey, tenantID string) (*Session, error) {
	const op = "orgauth.Authenticate"
	if orgID == "" {
		return nil, autherr.New(autherr.Validation, op, "organization id is required", nil)
	}
	if err := credentials.ValidateAPIKey(apiKey); err != nil {
		return nil, err
	}

	key := cacheKey(orgID, apiKey, tenantID)
	if m.cache != nil {
		if raw, ok, err := m.cache.Get(ctx, key); err == nil && ok {
			var s Session
			if jerr := json.Unmarshal([]byte(raw), &s); jerr == nil && !s.expired(m.now()) {
				metrics.OrgAuthCacheHits.Inc()
				m.setSession(&s)
				return m.Session(), nil
			}
		}
	}

	body := map[string]string{"organization_id": orgID, "api_key": apiKey}
	if tenantID != "" {
		body["tenant_id"] = tenantID
	}
	resp, err := m.http.Do(ctx, http.MethodPost, "/v1/organizations/auth/token", transport.Options{JSON: body})
	if err != nil {
		return nil, autherr.New(autherr.Authentication, op, "token exchange", err).WithOrg(orgID).WithTenant(tenantID)
	}
	if !resp.OK() {
		return nil, autherr.New(autherr.Authentication, op, "organization api key rejected", nil).WithOrg(orgID).WithTenant(tenantID)
	}
	var tr orgTokenResponse
	if err := resp.Decode(&tr); err != nil {
		return nil, autherr.New(autherr.Authentication, op, "decode token response", err).WithOrg(orgID)
	}

	s := &Session{
		OrganizationID:    orgID,
		TenantID:          tenantID,
		Scope:             parseScope(tr.Scope),
		AccessToken:       tr.AccessToken,
		RefreshToken:      tr.RefreshToken,
		ExpiresAt:         m.now().Add(time.Duration(tr.ExpiresIn) * time.Second),
		Permissions:       tr.Permissions,
		AccessibleTenants: tr.AccessibleTenants,
	}
	m.setSession(s)

	if m.cache != nil {
		ttl := time.Duration(tr.ExpiresIn)*time.Second - refreshWindow
		if ttl > 0 {
			if raw, jerr := json.Marshal(s); jerr == nil {
				if cerr := m.cache.Set(ctx, key, string(raw), ttl); cerr != nil {
					m.log.Warnw("org auth cache write failed", "err", cerr)
				}
			}
		}
	}
	// Copy, like Session: callers never hold a pointer into manager state.
	return m.Session(), nil
}

func parseScope(s string) Scope {
	switch Scope(s) {
	case ScopeTenant, ScopeOrganization, ScopeCrossTenant:
		return Scope(s)
	}
	return ScopeTenant
}

// HasAccessToTenant answers the scope check; an expired or missing session
// grants nothing.
func (m *Manager) HasAccessToTenant(tenantID string) bool {
	s := m.Session()
	if s == nil || s.expired(m.now()) {
		return false
	}
	switch s.Scope {
	case ScopeOrganization:
		return true
	case ScopeCrossTenant:
		for _, t := range s.AccessibleTenants {
			if t == tenantID {
				return true
			}
		}
		return false
	case ScopeTenant:
		return s.TenantID == tenantID
	}
	return false
}

// HasPermission checks membership in the session's permission set.
func (m *Manager) HasPermission(permission string) bool {
	s := m.Session()
	if s == nil || s.expired(m.now()) {
		return false
	}
	for _, p := range s.Permissions {
		if p == permission {
			return true
		}
	}
	return false
}

// HasAnyPermission reports whether at least one permission is held.
func (m *Manager) HasAnyPermission(permissions []string) bool {
	for _, p := range permissions {
		if m.HasPermission(p) {
			return true
		}
	}
	return false
}

// RefreshIfNeeded proactively renews the session when its remaining lifetime
// drops under the safety window. A session without a refresh token is left
// alone until a full re-authentication.
func (m *Manager) RefreshIfNeeded(ctx context.Context) error {
	const op = "orgauth.RefreshIfNeeded"
	s := m.Session()
	if s == nil {
		return autherr.New(autherr.Authentication, op, "no organization session", nil)
	}
	if m.now().Add(refreshWindow).Before(s.ExpiresAt) {
		return nil
	}
	if s.RefreshToken == "" {
		return autherr.New(autherr.TokenRefresh, op, "", autherr.ErrNoRefreshToken).WithOrg(s.OrganizationID)
	}
	resp, err := m.http.Do(ctx, http.MethodPost, "/v1/organizations/auth/refresh", transport.Options{
		JSON: map[string]string{"refresh_token": s.RefreshToken},
	})
	if err != nil || !resp.OK() {
		return autherr.New(autherr.TokenRefresh, op, "refresh rejected", err).WithOrg(s.OrganizationID)
	}
	var tr orgTokenResponse
	if err := resp.Decode(&tr); err != nil {
		return autherr.New(autherr.TokenRefresh, op, "decode refresh response", err).WithOrg(s.OrganizationID)
	}
	m.mu.Lock()
	m.session.AccessToken = tr.AccessToken
	if tr.RefreshToken != "" {
		m.session.RefreshToken = tr.RefreshToken
	}
	m.session.ExpiresAt = m.now().Add(time.Duration(tr.ExpiresIn) * time.Second)
	m.mu.Unlock()
	return nil
}

// Session returns a copy of the current session, or nil.
func (m *Manager) Session() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return nil
	}
	cp := *m.session
	return &cp
}

func (m *Manager) setSession(s *Session) {
	m.mu.Lock()
	m.session = s
	m.mu.Unlock()
}
