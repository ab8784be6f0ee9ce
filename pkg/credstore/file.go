// pkg/credstore/file.go
package credstore

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"clearbill/pkg/audit"

	"go.uber.org/zap"
)

const fileExt = ".cred"

// healthProbeID is reserved for round-trip self-tests and filtered from List.
const healthProbeID = "health.probe"

// FileStorage keeps one encrypted record per context id under a directory
// restricted to the owning user (0700 dir, 0600 files). Filenames are the
// SHA-256 of the context id, so a directory listing reveals no tenant names;
// the id itself travels inside the sealed envelope.
type FileStorage struct {
	dir    string
	sealer *sealer
	aud    audit.Sink
	log    *zap.SugaredLogger
}

func NewFileStorage(dir, passphrase string, aud audit.Sink, log *zap.SugaredLogger) (*FileStorage, error) {
	if aud == nil {
		return nil, fmt.Errorf("credstore: audit sink is required")
	}
	s, err := newSealer(passphrase, "")
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("credstore: create dir: %w", err)
	}
	return &FileStorage{dir: dir, sealer: s, aud: aud, log: log}, nil
}

func (f *FileStorage) path(id string) string {
	sum := sha256.Sum256([]byte(id))
	return filepath.Join(f.dir, hex.EncodeToString(sum[:])+fileExt)
}

// envelope is the sealed on-disk form. Carrying the id here lets List recover
// it without encoding it into the filename.
type envelope struct {
	ID   string `json:"id"`
	Data []byte `json:"data"`
}

func (f *FileStorage) Store(_ context.Context, id string, payload []byte) error {
	raw, err := json.Marshal(envelope{ID: id, Data: payload})
	if err != nil {
		return fmt.Errorf("credstore: encode %q: %w", id, err)
	}
	blob, err := f.sealer.seal(raw)
	if err != nil {
		return fmt.Errorf("credstore: seal %q: %w", id, err)
	}
	if err := os.WriteFile(f.path(id), []byte(blob), 0o600); err != nil {
		return fmt.Errorf("credstore: write %q: %w", id, err)
	}
	return nil
}

func (f *FileStorage) Retrieve(ctx context.Context, id string) ([]byte, bool, error) {
	raw, err := os.ReadFile(f.path(id))
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("credstore: read %q: %w", id, err)
	}
	env, err := f.openEnvelope(raw)
	if err != nil || env.ID != id {
		// Undecryptable records are purged and reported absent. The purge is
		// audited so data loss is distinguishable from never-written.
		f.log.Warnw("credential record failed decryption, purging", "id", id, "err", err)
		f.aud.Emit(ctx, audit.EventCredentialPurged, map[string]any{"context_id": id, "backend": "file"})
		_ = f.secureRemove(id)
		return nil, false, nil
	}
	return env.Data, true, nil
}

func (f *FileStorage) openEnvelope(raw []byte) (envelope, error) {
	var env envelope
	plain, err := f.sealer.open(string(raw))
	if err != nil {
		return env, err
	}
	if err := json.Unmarshal(plain, &env); err != nil {
		return env, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return env, nil
}

func (f *FileStorage) Remove(_ context.Context, id string) error {
	return f.secureRemove(id)
}

// secureRemove overwrites the record with random bytes before unlinking to
// reduce forensic recoverability.
func (f *FileStorage) secureRemove(id string) error {
	p := f.path(id)
	info, err := os.Stat(p)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	junk := make([]byte, info.Size())
	if _, err := rand.Read(junk); err == nil {
		if fh, err := os.OpenFile(p, os.O_WRONLY, 0o600); err == nil {
			_, _ = fh.Write(junk)
			_ = fh.Sync()
			_ = fh.Close()
		}
	}
	return os.Remove(p)
}

func (f *FileStorage) Exists(_ context.Context, id string) (bool, error) {
	_, err := os.Stat(f.path(id))
	if os.IsNotExist(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (f *FileStorage) List(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(f.dir)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(f.dir, e.Name()))
		if err != nil {
			continue
		}
		env, err := f.openEnvelope(raw)
		if err != nil {
			// Corrupt records are left for Retrieve to purge under their id.
			f.log.Warnw("skipping unreadable credential record", "file", e.Name(), "err", err)
			continue
		}
		if env.ID == healthProbeID {
			continue
		}
		ids = append(ids, env.ID)
	}
	return ids, nil
}

// HealthCheck writes, reads back and deletes a probe record.
func (f *FileStorage) HealthCheck(ctx context.Context) Health {
	probe := make([]byte, 32)
	if _, err := rand.Read(probe); err != nil {
		return Unhealthy
	}
	if err := f.Store(ctx, healthProbeID, probe); err != nil {
		return Unhealthy
	}
	defer func() { _ = f.Remove(ctx, healthProbeID) }()
	got, ok, err := f.Retrieve(ctx, healthProbeID)
	if err != nil || !ok || string(got) != string(probe) {
		return Unhealthy
	}
	return Healthy
}
