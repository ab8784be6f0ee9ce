// pkg/credstore/postgres.go
package credstore

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"clearbill/pkg/audit"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// PostgresStorage stores the same sealed blobs as FileStorage in a table,
// for deployments that already run Postgres and want credentials off the
// local filesystem. Blobs remain encrypted at rest; the database never sees
// plaintext.
type PostgresStorage struct {
	pool   *pgxpool.Pool
	sealer *sealer
	aud    audit.Sink
	log    *zap.SugaredLogger
}

func NewPostgresStorage(pool *pgxpool.Pool, passphrase string, aud audit.Sink, log *zap.SugaredLogger) (*PostgresStorage, error) {
	if aud == nil {
		return nil, fmt.Errorf("credstore: audit sink is required")
	}
	s, err := newSealer(passphrase, "")
	if err != nil {
		return nil, err
	}
	return &PostgresStorage{pool: pool, sealer: s, aud: aud, log: log}, nil
}

// EnsureSchema creates the credential table. Safe to call repeatedly.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS credential_records (
  context_id text PRIMARY KEY,
  blob text NOT NULL,
  updated_at timestamptz NOT NULL DEFAULT NOW()
);`)
	return err
}

func (p *PostgresStorage) Store(ctx context.Context, id string, payload []byte) error {
	blob, err := p.sealer.seal(payload)
	if err != nil {
		return fmt.Errorf("credstore: seal %q: %w", id, err)
	}
	_, err = p.pool.Exec(ctx, `INSERT INTO credential_records(context_id, blob, updated_at)
	  VALUES ($1,$2,NOW())
	  ON CONFLICT (context_id) DO UPDATE SET blob=EXCLUDED.blob, updated_at=NOW()`, id, blob)
	if err != nil {
		return fmt.Errorf("credstore: upsert %q: %w", id, err)
	}
	return nil
}

func (p *PostgresStorage) Retrieve(ctx context.Context, id string) ([]byte, bool, error) {
	var blob string
	row := p.pool.QueryRow(ctx, `SELECT blob FROM credential_records WHERE context_id=$1`, id)
	if err := row.Scan(&blob); err != nil {
		// Only a missing row is "absent"; query failures surface to the caller.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("credstore: query %q: %w", id, err)
	}
	plain, err := p.sealer.open(blob)
	if err != nil {
		p.log.Warnw("credential record failed decryption, purging", "id", id, "err", err)
		p.aud.Emit(ctx, audit.EventCredentialPurged, map[string]any{"context_id": id, "backend": "postgres"})
		_ = p.Remove(ctx, id)
		return nil, false, nil
	}
	return plain, true, nil
}

// Remove overwrites the row with random bytes before deleting it, mirroring
// the file backend's secure delete.
func (p *PostgresStorage) Remove(ctx context.Context, id string) error {
	junk := make([]byte, 64)
	if _, err := rand.Read(junk); err == nil {
		_, _ = p.pool.Exec(ctx, `UPDATE credential_records SET blob=$2, updated_at=NOW() WHERE context_id=$1`,
			id, base64.StdEncoding.EncodeToString(junk))
	}
	_, err := p.pool.Exec(ctx, `DELETE FROM credential_records WHERE context_id=$1`, id)
	return err
}

func (p *PostgresStorage) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	row := p.pool.QueryRow(ctx, `SELECT 1 FROM credential_records WHERE context_id=$1`, id)
	if err := row.Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("credstore: query %q: %w", id, err)
	}
	return true, nil
}

func (p *PostgresStorage) List(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT context_id FROM credential_records WHERE context_id<>$1`, healthProbeID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// HealthCheck round-trips a probe record. Unknown when no pool is attached.
func (p *PostgresStorage) HealthCheck(ctx context.Context) Health {
	if p.pool == nil {
		return Unknown
	}
	probe := make([]byte, 32)
	if _, err := rand.Read(probe); err != nil {
		return Unhealthy
	}
	if err := p.Store(ctx, healthProbeID, probe); err != nil {
		return Unhealthy
	}
	defer func() { _ = p.Remove(ctx, healthProbeID) }()
	got, ok, err := p.Retrieve(ctx, healthProbeID)
	if err != nil || !ok || string(got) != string(probe) {
		return Unhealthy
	}
	return Healthy
}
