// pkg/credentials/manager.go
package credentials

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"clearbill/pkg/autherr"
	"clearbill/pkg/credstore"

	"go.uber.org/zap"
)

// Manager is the in-memory catalog of authentication contexts, keyed by
// "super_admin" or a tenant id. Exactly one context is active at a time.
// When autoSync is on every mutation writes through to the encrypted store;
// otherwise callers batch durability with Sync.
type Manager struct {
	mu       sync.Mutex
	store    credstore.Storage // may be nil: memory-only catalog
	log      *zap.SugaredLogger
	contexts map[string]*Context
	active   string
	autoSync bool

	now func() time.Time
}

func NewManager(store credstore.Storage, autoSync bool, log *zap.SugaredLogger) *Manager {
	return &Manager{
		store:    store,
		log:      log,
		contexts: map[string]*Context{},
		autoSync: autoSync,
		now:      time.Now,
	}
}

// AddSuperAdmin registers the global identity. The credentials must supply
// either a well-formed API key or an email+password pair.
func (m *Manager) AddSuperAdmin(ctx context.Context, creds Credentials) error {
	const op = "credentials.AddSuperAdmin"
	if creds.APIKey != "" {
		if err := ValidateAPIKey(creds.APIKey); err != nil {
			return err
		}
	} else if creds.Email == "" || creds.Password == "" {
		return autherr.New(autherr.Validation, op, "need an api key or email+password", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(ctx, SuperAdminID, KindSuperAdmin, creds)
}

// AddTenant registers or merge-updates a tenant context. New fields overlay
// old ones so token material survives metadata refreshes.
func (m *Manager) AddTenant(ctx context.Context, id string, creds Credentials) error {
	const op = "credentials.AddTenant"
	if id == "" {
		return autherr.New(autherr.Validation, op, "tenant id is empty", nil)
	}
	if id == SuperAdminID {
		return autherr.New(autherr.Validation, op, "tenant id collides with the super admin context", nil)
	}
	if creds.APIKey != "" {
		if err := ValidateAPIKey(creds.APIKey); err != nil {
			return err
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.upsertLocked(ctx, id, KindTenantAdmin, creds)
}

func (m *Manager) upsertLocked(ctx context.Context, id string, kind Kind, creds Credentials) error {
	c, ok := m.contexts[id]
	if !ok {
		c = &Context{ID: id, Kind: kind, CreatedAt: m.now()}
		m.contexts[id] = c
	}
	c.merge(creds)
	return m.syncLocked(ctx, c)
}

// Switch makes id the active context, loading it from storage when it is not
// cached. Returns autherr.ErrContextNotFound when the context exists nowhere.
func (m *Manager) Switch(ctx context.Context, id string) (*Context, error) {
	const op = "credentials.Switch"
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok && m.store != nil {
		payload, found, err := m.store.Retrieve(ctx, id)
		if err != nil {
			return nil, autherr.New(autherr.Storage, op, "retrieve context", err).WithTenant(id)
		}
		if found {
			var loaded Context
			if err := json.Unmarshal(payload, &loaded); err != nil {
				return nil, autherr.New(autherr.Storage, op, "decode context", err).WithTenant(id)
			}
			c = &loaded
			m.contexts[id] = c
			ok = true
		}
	}
	if !ok {
		return nil, autherr.New(autherr.Authentication, op, "", autherr.ErrContextNotFound).WithTenant(id)
	}
	c.LastUsedAt = m.now()
	m.active = id
	if err := m.syncLocked(ctx, c); err != nil {
		return nil, err
	}
	return c.clone(), nil
}

// Current returns a copy of the active context.
func (m *Manager) Current() (*Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == "" {
		return nil, false
	}
	c, ok := m.contexts[m.active]
	if !ok {
		return nil, false
	}
	return c.clone(), true
}

// SetTokens records fresh token material on a context.
func (m *Manager) SetTokens(ctx context.Context, id, access, refresh string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return autherr.New(autherr.Authentication, "credentials.SetTokens", "", autherr.ErrContextNotFound).WithTenant(id)
	}
	if access != "" {
		c.AccessToken = access
	}
	if refresh != "" {
		c.RefreshToken = refresh
	}
	return m.syncLocked(ctx, c)
}

// Has reports whether the context exists in memory or in storage.
func (m *Manager) Has(ctx context.Context, id string) bool {
	m.mu.Lock()
	_, ok := m.contexts[id]
	m.mu.Unlock()
	if ok {
		return true
	}
	if m.store == nil {
		return false
	}
	exists, err := m.store.Exists(ctx, id)
	return err == nil && exists
}

// HasValidAPIKey reports whether the cached context carries a well-formed key.
func (m *Manager) HasValidAPIKey(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	return ok && IsValidAPIKey(c.APIKey)
}

// Remove drops the context from the catalog and storage.
func (m *Manager) Remove(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.contexts, id)
	if m.active == id {
		m.active = ""
	}
	if m.store != nil {
		if err := m.store.Remove(ctx, id); err != nil {
			return autherr.New(autherr.Storage, "credentials.Remove", "remove context", err).WithTenant(id)
		}
	}
	return nil
}

// Clear removes every context, including persisted records. Storage is the
// source of truth here: records written by a previous process are destroyed
// even when this catalog never loaded them.
func (m *Manager) Clear(ctx context.Context) error {
	const op = "credentials.Clear"
	m.mu.Lock()
	defer m.mu.Unlock()
	var firstErr error
	ids := map[string]struct{}{}
	for id := range m.contexts {
		ids[id] = struct{}{}
	}
	if m.store != nil {
		stored, err := m.store.List(ctx)
		if err != nil {
			firstErr = autherr.New(autherr.Storage, op, "list contexts", err)
		}
		for _, id := range stored {
			ids[id] = struct{}{}
		}
	}
	for id := range ids {
		if m.store != nil {
			if err := m.store.Remove(ctx, id); err != nil && firstErr == nil {
				firstErr = autherr.New(autherr.Storage, op, "remove context", err).WithTenant(id)
			}
		}
	}
	m.contexts = map[string]*Context{}
	m.active = ""
	return firstErr
}

// Sync writes every cached context to storage. No-op without a store.
func (m *Manager) Sync(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.contexts {
		if err := m.writeLocked(ctx, c); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) syncLocked(ctx context.Context, c *Context) error {
	if !m.autoSync {
		return nil
	}
	return m.writeLocked(ctx, c)
}

func (m *Manager) writeLocked(ctx context.Context, c *Context) error {
	if m.store == nil {
		return nil
	}
	payload, err := json.Marshal(c)
	if err != nil {
		return autherr.New(autherr.Storage, "credentials.Sync", "encode context", err).WithTenant(c.ID)
	}
	if err := m.store.Store(ctx, c.ID, payload); err != nil {
		return autherr.New(autherr.Storage, "credentials.Sync", "store context", err).WithTenant(c.ID)
	}
	return nil
}

// ContextSummary is one row of Stats.
type ContextSummary struct {
	ID         string
	Kind       string
	HasAPIKey  bool
	HasTokens  bool
	LastUsedAt time.Time
}

// Stats describes the catalog for diagnostics. No secrets are included.
type Stats struct {
	Total    int
	ActiveID string
	Contexts []ContextSummary
}

func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Stats{Total: len(m.contexts), ActiveID: m.active}
	for _, c := range m.contexts {
		st.Contexts = append(st.Contexts, ContextSummary{
			ID:         c.ID,
			Kind:       c.Kind.String(),
			HasAPIKey:  c.APIKey != "",
			HasTokens:  c.AccessToken != "" || c.RefreshToken != "",
			LastUsedAt: c.LastUsedAt,
		})
	}
	return st
}
