// pkg/credstore/postgres_test.go
package credstore

import (
	"context"
	"testing"
	"time"

	"clearbill/pkg/audit"
	"clearbill/pkg/logger"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// unreachablePool builds a lazy pool against a closed local port, so every
// query fails with a connection error instead of pgx.ErrNoRows.
func unreachablePool(t *testing.T) *pgxpool.Pool {
	t.Helper()
	cfg, err := pgxpool.ParseConfig("postgres://clearbill:x@127.0.0.1:1/clearbill?connect_timeout=1")
	require.NoError(t, err)
	cfg.ConnConfig.ConnectTimeout = time.Second
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func TestPostgresStorage_QueryFailureIsNotAbsent(t *testing.T) {
	ps, err := NewPostgresStorage(unreachablePool(t), "pass", &audit.Recorder{}, logger.Nop())
	require.NoError(t, err)
	ctx := context.Background()

	// A backend outage must never masquerade as a missing record.
	_, ok, err := ps.Retrieve(ctx, "acme")
	assert.False(t, ok)
	assert.Error(t, err)

	ok, err = ps.Exists(ctx, "acme")
	assert.False(t, ok)
	assert.Error(t, err)
}

func TestPostgresStorage_HealthCheckOnDeadBackend(t *testing.T) {
	ps, err := NewPostgresStorage(unreachablePool(t), "pass", &audit.Recorder{}, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, Unhealthy, ps.HealthCheck(context.Background()))
}

func TestNewPostgresStorage_RequiresPassphraseAndAudit(t *testing.T) {
	_, err := NewPostgresStorage(nil, "", &audit.Recorder{}, logger.Nop())
	assert.Error(t, err)
	_, err = NewPostgresStorage(nil, "pass", nil, logger.Nop())
	assert.Error(t, err)
}
