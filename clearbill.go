// clearbill.go
//
// Package clearbill is the Go client for the ClearBill checkout platform. It
// bundles credential management (multi-tenant contexts, encrypted at-rest
// storage), tenant and organization authentication with proactive token
// refresh, and thin services over the tenant, product, offer and subscription
// endpoints.
//
// The zero-dependency path is a memory-only client:
//
//	c, err := clearbill.New(clearbill.FromEnv())
//	out, err := c.Auth.Authenticate(ctx, "acme", apiKey)
//
// Setting CLEARBILL_MASTER_PASSPHRASE enables encrypted file storage so
// contexts survive restarts; DATABASE_URL moves the records into Postgres and
// REDIS_URL shares the auth cache and rate-limit counters across processes.
package clearbill

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"clearbill/pkg/audit"
	"clearbill/pkg/auth"
	"clearbill/pkg/cache"
	"clearbill/pkg/config"
	"clearbill/pkg/credstore"
	"clearbill/pkg/events"
	"clearbill/pkg/logger"
	"clearbill/pkg/offers"
	"clearbill/pkg/orgauth"
	"clearbill/pkg/products"
	"clearbill/pkg/ratelimit"
	"clearbill/pkg/subscriptions"
	"clearbill/pkg/tenants"
	"clearbill/pkg/transport"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Options assemble a Client. Every field has a sensible default; FromEnv
// fills them from the process environment and optional clearbill.yaml.
type Options struct {
	Config config.Config
	Logger *zap.SugaredLogger
	Audit  audit.Sink // defaults to a zap-backed sink

	// Requester overrides the HTTP layer, for tests and custom transports.
	Requester transport.Requester

	// OrgID is stamped into every authorization header when set.
	OrgID string

	// AutoSync writes every context mutation through to storage immediately.
	AutoSync bool
}

// FromEnv loads configuration the standard way.
func FromEnv() Options {
	return Options{Config: config.Load(), AutoSync: true}
}

// Client is the assembled ClearBill SDK surface.
type Client struct {
	Auth          *auth.Manager
	OrgAuth       *orgauth.Manager
	Tenants       *tenants.Service
	Products      *products.Service
	Offers        *offers.Service
	Subscriptions *subscriptions.Service
	Events        *events.Bus

	storage credstore.Storage
	cache   cache.Cache
	pool    *pgxpool.Pool
	log     *zap.SugaredLogger
}

// New wires the full client: transport, cache, encrypted storage, audit,
// rate limiting and the API services, all from one Options value.
func New(opts Options) (*Client, error) {
	cfg := opts.Config
	log := opts.Logger
	if log == nil {
		log = logger.New(cfg.Env)
	}
	aud := opts.Audit
	if aud == nil {
		aud = audit.NewZapSink(log)
	}

	rq := opts.Requester
	if rq == nil {
		rq = transport.NewClient(cfg.BaseURL, cfg.HTTPTimeout, log)
	}

	c := cache.MustRedis(cfg.RedisURL, log)
	if c == nil {
		c = cache.NewMemory()
	}

	var (
		storage credstore.Storage
		pool    *pgxpool.Pool
	)
	if cfg.MasterPassphrase != "" {
		if cfg.DatabaseURL != "" {
			p, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("clearbill: connect postgres %s: %w", cache.RedactDSN(cfg.DatabaseURL), err)
			}
			if err := credstore.EnsureSchema(context.Background(), p); err != nil {
				p.Close()
				return nil, fmt.Errorf("clearbill: credential schema: %w", err)
			}
			ps, err := credstore.NewPostgresStorage(p, cfg.MasterPassphrase, aud, log)
			if err != nil {
				p.Close()
				return nil, err
			}
			storage, pool = ps, p
			log.Infow("credential storage ready", "backend", "postgres")
		} else {
			fs, err := credstore.NewFileStorage(cfg.CredentialDir, cfg.MasterPassphrase, aud, log)
			if err != nil {
				return nil, err
			}
			storage = fs
			log.Infow("credential storage ready", "backend", "file", "dir", cfg.CredentialDir)
		}
	}

	limiter := ratelimit.NewFixedWindow(c, cfg.RoleTransitionLimit, cfg.RoleTransitionWindow)
	am, err := auth.New(auth.Config{
		Requester: rq,
		Storage:   storage,
		Audit:     aud,
		Logger:    log,
		Limiter:   limiter,
		AutoSync:  opts.AutoSync,
		OrgID:     opts.OrgID,
	})
	if err != nil {
		return nil, err
	}
	om, err := orgauth.New(rq, c, log)
	if err != nil {
		return nil, err
	}

	bus := events.NewBus(log)
	return &Client{
		Auth:          am,
		OrgAuth:       om,
		Tenants:       tenants.NewService(rq, am, c, bus, log),
		Products:      products.NewService(rq, am, c, bus, log),
		Offers:        offers.NewService(rq, am, c, bus, log),
		Subscriptions: subscriptions.NewService(rq, am, c, bus, log),
		Events:        bus,
		storage:       storage,
		cache:         c,
		pool:          pool,
		log:           log,
	}, nil
}

// SwitchContext activates a tenant context and announces the switch on the
// event bus.
func (c *Client) SwitchContext(ctx context.Context, tenantID string) error {
	if err := c.Auth.SwitchToTenant(ctx, tenantID); err != nil {
		return err
	}
	_ = c.Events.Publish(ctx, events.Event{
		Type:    events.TypeContextSwitched,
		Payload: map[string]any{"tenant_id": tenantID},
	})
	return nil
}

// StorageHealth probes the credential backend. Unknown when the client runs
// memory-only.
func (c *Client) StorageHealth(ctx context.Context) credstore.Health {
	if c.storage == nil {
		return credstore.Unknown
	}
	return c.storage.HealthCheck(ctx)
}

// Close releases pooled resources. Safe on a memory-only client.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}
