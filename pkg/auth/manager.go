// pkg/auth/manager.go
package auth

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"sync"
	"time"

	"clearbill/pkg/audit"
	"clearbill/pkg/autherr"
	"clearbill/pkg/credentials"
	"clearbill/pkg/credstore"
	"clearbill/pkg/metrics"
	"clearbill/pkg/ratelimit"
	"clearbill/pkg/tokens"
	"clearbill/pkg/transport"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// refreshWindow is the safety margin before expiry inside which tokens are
// renewed proactively.
const refreshWindow = 300 * time.Second

// Assurance grades an authentication outcome. FormatOnly means the key shape
// checked out but the platform could not be reached to verify it; it is never
// presented as a verified result.
type Assurance int

const (
	AssuranceVerified Assurance = iota
	AssuranceFormatOnly
)

func (a Assurance) String() string {
	if a == AssuranceFormatOnly {
		return "format_only"
	}
	return "verified"
}

// Outcome is what Authenticate returns on any non-error path.
type Outcome struct {
	TenantID      string
	Assurance     Assurance
	RequiresLogin bool // set on the degraded path: a user login must follow
}

type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Config wires a Manager. Requester and Audit are mandatory collaborators.
type Config struct {
	Requester transport.Requester
	Storage   credstore.Storage // nil keeps contexts memory-only
	Audit     audit.Sink
	Logger    *zap.SugaredLogger
	Limiter   *ratelimit.FixedWindow // nil disables counting (treated as fail-open)
	AutoSync  bool
	OrgID     string // stamped into authorization headers when set
}

// Manager is a self-contained authentication session: it owns its token
// ledger and context catalog, so two Managers never share mutable state.
type Manager struct {
	http     transport.Requester
	tokens   *tokens.Store
	contexts *credentials.Manager
	aud      audit.Sink
	log      *zap.SugaredLogger
	limiter  *ratelimit.FixedWindow
	orgID    string

	// refreshMu serializes refresh against reads so AccessToken never hands
	// out a token while a renewal is pending.
	refreshMu sync.Mutex

	mu            sync.Mutex
	role          Role
	currentTenant string
	assurance     Assurance
	sessionID     string
}

func New(cfg Config) (*Manager, error) {
	if cfg.Requester == nil {
		return nil, autherr.New(autherr.Validation, "auth.New", "requester is required", nil)
	}
	if cfg.Audit == nil {
		return nil, autherr.New(autherr.Validation, "auth.New", "audit sink is required", nil)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Manager{
		http:      cfg.Requester,
		tokens:    tokens.New(),
		contexts:  credentials.NewManager(cfg.Storage, cfg.AutoSync, log),
		aud:       cfg.Audit,
		log:       log,
		limiter:   cfg.Limiter,
		orgID:     cfg.OrgID,
		role:      RoleTenantAdmin,
		sessionID: uuid.NewString(),
	}, nil
}

// Contexts exposes the session's context catalog.
func (m *Manager) Contexts() *credentials.Manager { return m.contexts }

// Tokens exposes the session's token ledger.
func (m *Manager) Tokens() *tokens.Store { return m.tokens }

// Role returns the session's current privilege level.
func (m *Manager) Role() Role {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.role
}

// Assurance reports the grade of the last successful Authenticate.
func (m *Manager) Assurance() Assurance {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.assurance
}

// Authenticate exchanges a tenant API key for tokens. When the exchange
// endpoint is unreachable it degrades to a format-only validation: the
// outcome is flagged, audited and requires a user login, never reported as
// verified.
func (m *Manager) Authenticate(ctx context.Context, tenantID, apiKey string) (Outcome, error) {
	const op = "auth.Authenticate"
	if tenantID == "" {
		return Outcome{}, autherr.New(autherr.Validation, op, "tenant id is required", nil)
	}
	if err := credentials.ValidateAPIKey(apiKey); err != nil {
		return Outcome{}, err
	}

	resp, err := m.http.Do(ctx, http.MethodPost, "/v1/auth/token", transport.Options{
		JSON: map[string]string{"grant_type": "api_key", "api_key": apiKey, "tenant_id": tenantID},
	})
	switch {
	case err != nil || resp.StatusCode >= 500:
		// Degraded fallback: the key already passed the format check, so the
		// session is usable for anonymous reads but must complete a login.
		metrics.AuthAttempts.WithLabelValues("api_key", "fallback").Inc()
		m.aud.Emit(ctx, audit.EventAuthFallback, map[string]any{
			"tenant_id": tenantID, "assurance": AssuranceFormatOnly.String(),
		})
		m.log.Warnw("token exchange unavailable, degrading to format-only validation", "tenant", tenantID, "err", err)
		if aerr := m.contexts.AddTenant(ctx, tenantID, credentials.Credentials{APIKey: apiKey}); aerr != nil {
			return Outcome{}, aerr
		}
		m.setState(RoleTenantAdmin, tenantID, AssuranceFormatOnly)
		return Outcome{TenantID: tenantID, Assurance: AssuranceFormatOnly, RequiresLogin: true}, nil
	case !resp.OK():
		metrics.AuthAttempts.WithLabelValues("api_key", "failure").Inc()
		return Outcome{}, autherr.New(autherr.Authentication, op, "api key rejected", nil).WithTenant(tenantID)
	}

	var tr tokenResponse
	if err := resp.Decode(&tr); err != nil {
		return Outcome{}, autherr.New(autherr.Authentication, op, "decode token response", err).WithTenant(tenantID)
	}
	m.tokens.StoreAccessToken(tr.AccessToken, time.Duration(tr.ExpiresIn)*time.Second)
	if tr.RefreshToken != "" {
		m.tokens.StoreRefreshToken(tr.RefreshToken)
	}
	if err := m.contexts.AddTenant(ctx, tenantID, credentials.Credentials{APIKey: apiKey}); err != nil {
		return Outcome{}, err
	}
	if err := m.contexts.SetTokens(ctx, tenantID, tr.AccessToken, tr.RefreshToken); err != nil {
		return Outcome{}, err
	}
	if _, err := m.contexts.Switch(ctx, tenantID); err != nil {
		return Outcome{}, err
	}
	m.setState(RoleTenantAdmin, tenantID, AssuranceVerified)
	metrics.AuthAttempts.WithLabelValues("api_key", "success").Inc()
	return Outcome{TenantID: tenantID, Assurance: AssuranceVerified}, nil
}

// Login performs the password grant and returns the raw server payload for
// caller inspection.
func (m *Manager) Login(ctx context.Context, email, password, tenantID, deviceFingerprint string) (map[string]any, error) {
	const op = "auth.Login"
	if email == "" || password == "" {
		return nil, autherr.New(autherr.Validation, op, "email and password are required", nil)
	}
	body := map[string]string{"email": email, "password": password, "tenant_id": tenantID}
	if deviceFingerprint != "" {
		body["device_fingerprint"] = deviceFingerprint
	}
	resp, err := m.http.Do(ctx, http.MethodPost, "/v1/auth/login", transport.Options{JSON: body})
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("password", "failure").Inc()
		return nil, autherr.New(autherr.Authentication, op, "login request", err).WithTenant(tenantID)
	}
	if !resp.OK() {
		metrics.AuthAttempts.WithLabelValues("password", "failure").Inc()
		return nil, autherr.New(autherr.Authentication, op, "credentials rejected", nil).WithTenant(tenantID)
	}
	var payload map[string]any
	if err := resp.Decode(&payload); err != nil {
		return nil, autherr.New(autherr.Authentication, op, "decode login response", err).WithTenant(tenantID)
	}
	var tr tokenResponse
	_ = resp.Decode(&tr)
	m.tokens.StoreAccessToken(tr.AccessToken, time.Duration(tr.ExpiresIn)*time.Second)
	if tr.RefreshToken != "" {
		m.tokens.StoreRefreshToken(tr.RefreshToken)
	}
	if tenantID != "" {
		if err := m.contexts.AddTenant(ctx, tenantID, credentials.Credentials{Email: email}); err != nil {
			return nil, err
		}
		_ = m.contexts.SetTokens(ctx, tenantID, tr.AccessToken, tr.RefreshToken)
		if _, err := m.contexts.Switch(ctx, tenantID); err != nil {
			return nil, err
		}
	}
	m.setState(RoleTenantAdmin, tenantID, AssuranceVerified)
	metrics.AuthAttempts.WithLabelValues("password", "success").Inc()
	return payload, nil
}

// Refresh exchanges the stored refresh token for fresh tokens. Called with no
// refresh token it fails immediately without touching the network. A server
// rejection clears all tokens: the session is logged out.
func (m *Manager) Refresh(ctx context.Context) error {
	const op = "auth.Refresh"
	refresh, ok := m.tokens.RefreshToken()
	if !ok {
		return autherr.New(autherr.TokenRefresh, op, "", autherr.ErrNoRefreshToken)
	}
	resp, err := m.http.Do(ctx, http.MethodPost, "/v1/auth/refresh", transport.Options{
		JSON: map[string]string{"refresh_token": refresh},
	})
	if err != nil || !resp.OK() {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		m.tokens.Clear()
		return autherr.New(autherr.TokenRefresh, op, "refresh rejected, session cleared", err)
	}
	var tr tokenResponse
	if err := resp.Decode(&tr); err != nil {
		metrics.TokenRefreshes.WithLabelValues("failure").Inc()
		m.tokens.Clear()
		return autherr.New(autherr.TokenRefresh, op, "decode refresh response", err)
	}
	m.tokens.StoreAccessToken(tr.AccessToken, time.Duration(tr.ExpiresIn)*time.Second)
	if tr.RefreshToken != "" {
		m.tokens.StoreRefreshToken(tr.RefreshToken)
	}
	if cur, ok := m.contexts.Current(); ok {
		_ = m.contexts.SetTokens(ctx, cur.ID, tr.AccessToken, tr.RefreshToken)
	}
	metrics.TokenRefreshes.WithLabelValues("success").Inc()
	return nil
}

// AccessToken returns a token guaranteed to outlive the safety window,
// refreshing first when the current one is invalid or about to expire. The
// refresh mutex ensures no token is handed out with a renewal pending.
func (m *Manager) AccessToken(ctx context.Context) (string, error) {
	m.refreshMu.Lock()
	defer m.refreshMu.Unlock()
	if !m.tokens.HasValidAccessToken() || m.tokens.WillExpireWithin(refreshWindow) {
		if err := m.Refresh(ctx); err != nil {
			return "", err
		}
	}
	tok, ok := m.tokens.AccessToken()
	if !ok {
		return "", autherr.New(autherr.Authentication, "auth.AccessToken", "no valid access token", nil)
	}
	return tok, nil
}

// AuthorizationHeader builds the header map for downstream API calls.
func (m *Manager) AuthorizationHeader(ctx context.Context) (map[string]string, error) {
	tok, err := m.AccessToken(ctx)
	if err != nil {
		return nil, err
	}
	h := map[string]string{"Authorization": "Bearer " + tok}
	m.mu.Lock()
	if m.currentTenant != "" {
		h["X-Tenant-Id"] = m.currentTenant
	}
	if m.orgID != "" {
		h["X-Organization-Id"] = m.orgID
	}
	m.mu.Unlock()
	return h, nil
}

// AuthenticateAsSuperAdmin validates the role transition, throttles it, then
// tries the admin API-key grant followed by the password grant. Success
// persists the dedicated super_admin context and emits an audited
// role_transition event.
func (m *Manager) AuthenticateAsSuperAdmin(ctx context.Context, creds credentials.Credentials) error {
	const op = "auth.AuthenticateAsSuperAdmin"
	from := m.Role()
	plan, err := planTransition(from, RoleSuperAdmin)
	if err != nil {
		return err
	}
	if plan.elevation {
		if err := m.allowElevation(ctx, m.limiterIdentity(creds)); err != nil {
			return err
		}
	}

	// Shape check before any network traffic.
	if creds.APIKey != "" {
		if err := credentials.ValidateAPIKey(creds.APIKey); err != nil {
			return err
		}
	} else if creds.Email == "" || creds.Password == "" {
		return autherr.New(autherr.Validation, op, "need an api key or email+password", nil)
	}

	tr, err := m.superAdminGrant(ctx, creds)
	if err != nil {
		metrics.AuthAttempts.WithLabelValues("super_admin", "failure").Inc()
		return err
	}

	m.tokens.StoreAccessToken(tr.AccessToken, time.Duration(tr.ExpiresIn)*time.Second)
	if tr.RefreshToken != "" {
		m.tokens.StoreRefreshToken(tr.RefreshToken)
	}
	if err := m.contexts.AddSuperAdmin(ctx, creds); err != nil {
		return err
	}
	if err := m.contexts.SetTokens(ctx, credentials.SuperAdminID, tr.AccessToken, tr.RefreshToken); err != nil {
		return err
	}
	if _, err := m.contexts.Switch(ctx, credentials.SuperAdminID); err != nil {
		return err
	}
	m.setState(RoleSuperAdmin, "", AssuranceVerified)
	metrics.AuthAttempts.WithLabelValues("super_admin", "success").Inc()
	m.aud.Emit(ctx, audit.EventRoleTransition, map[string]any{
		"from": from.String(), "to": RoleSuperAdmin.String(), "session": m.sessionID,
	})
	return nil
}

// superAdminGrant prefers the API-key grant and falls back to email/password.
func (m *Manager) superAdminGrant(ctx context.Context, creds credentials.Credentials) (tokenResponse, error) {
	const op = "auth.superAdminGrant"
	var tr tokenResponse
	if creds.APIKey != "" {
		resp, err := m.http.Do(ctx, http.MethodPost, "/v1/admin/auth/token", transport.Options{
			JSON: map[string]string{"api_key": creds.APIKey},
		})
		if err == nil && resp.OK() {
			if derr := resp.Decode(&tr); derr == nil {
				return tr, nil
			}
		}
		m.log.Warnw("admin api key grant failed, trying password grant", "err", err)
	}
	if creds.Email == "" || creds.Password == "" {
		return tr, autherr.New(autherr.Authentication, op, "super admin grant rejected", nil)
	}
	resp, err := m.http.Do(ctx, http.MethodPost, "/v1/admin/auth/login", transport.Options{
		JSON: map[string]string{"email": creds.Email, "password": creds.Password},
	})
	if err != nil {
		return tr, autherr.New(autherr.Authentication, op, "admin login request", err)
	}
	if !resp.OK() {
		return tr, autherr.New(autherr.Authentication, op, "admin credentials rejected", nil)
	}
	if err := resp.Decode(&tr); err != nil {
		return tr, autherr.New(autherr.Authentication, op, "decode admin token response", err)
	}
	return tr, nil
}

// allowElevation runs the fixed-window limiter. Denials are audited and
// counted; backend failures pass fail-open with a security_event so the
// weakened guarantee is visible.
func (m *Manager) allowElevation(ctx context.Context, identity string) error {
	if m.limiter == nil {
		return nil
	}
	switch m.limiter.Allow(ctx, identity) {
	case ratelimit.Denied:
		metrics.RateLimitDenials.Inc()
		m.aud.Emit(ctx, audit.EventSecurityEvent, map[string]any{
			"reason": "role_transition_rate_limited", "identity": identity,
		})
		return autherr.New(autherr.RateLimited, "auth.AuthenticateAsSuperAdmin", "too many super admin transitions", nil)
	case ratelimit.FailOpen:
		m.aud.Emit(ctx, audit.EventSecurityEvent, map[string]any{
			"reason": "rate_limit_backend_unavailable", "identity": identity,
		})
	}
	return nil
}

func (m *Manager) limiterIdentity(creds credentials.Credentials) string {
	if creds.Email != "" {
		return creds.Email
	}
	if creds.APIKey != "" {
		sum := sha256.Sum256([]byte(creds.APIKey))
		return hex.EncodeToString(sum[:8])
	}
	return m.sessionID
}

// SwitchToTenant activates a tenant context. Leaving SuperAdmin is never
// blocked but always leaves an audit trail.
func (m *Manager) SwitchToTenant(ctx context.Context, id string) error {
	from := m.Role()
	plan, err := planTransition(from, RoleTenantAdmin)
	if err != nil {
		return err
	}
	c, err := m.contexts.Switch(ctx, id)
	if err != nil {
		return err
	}
	m.adoptContextTokens(c)
	if plan.auditedDowngrade {
		m.aud.Emit(ctx, audit.EventSecurityEvent, map[string]any{
			"reason": "role_downgrade", "from": from.String(), "to": RoleTenantAdmin.String(), "tenant_id": id,
		})
	}
	m.setState(RoleTenantAdmin, id, AssuranceVerified)
	return nil
}

// SwitchToSuperAdmin reactivates an existing super_admin context. The
// transition is rate-limited like any elevation.
func (m *Manager) SwitchToSuperAdmin(ctx context.Context) error {
	from := m.Role()
	plan, err := planTransition(from, RoleSuperAdmin)
	if err != nil {
		return err
	}
	if plan.elevation {
		if err := m.allowElevation(ctx, m.sessionID); err != nil {
			return err
		}
	}
	c, err := m.contexts.Switch(ctx, credentials.SuperAdminID)
	if err != nil {
		return err
	}
	m.adoptContextTokens(c)
	m.setState(RoleSuperAdmin, "", AssuranceVerified)
	if plan.elevation {
		m.aud.Emit(ctx, audit.EventRoleTransition, map[string]any{
			"from": from.String(), "to": RoleSuperAdmin.String(), "session": m.sessionID,
		})
	}
	return nil
}

// adoptContextTokens loads a context's persisted tokens into the ledger; the
// access token's expiry is predicted from its own exp claim.
func (m *Manager) adoptContextTokens(c *credentials.Context) {
	m.tokens.Clear()
	if c.AccessToken != "" {
		m.tokens.StoreAccessToken(c.AccessToken, 0)
	}
	if c.RefreshToken != "" {
		m.tokens.StoreRefreshToken(c.RefreshToken)
	}
}

func (m *Manager) setState(role Role, tenant string, a Assurance) {
	m.mu.Lock()
	m.role = role
	m.currentTenant = tenant
	m.assurance = a
	m.mu.Unlock()
}
