// pkg/credstore/file_test.go
package credstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"testing"

	"clearbill/pkg/audit"
	"clearbill/pkg/logger"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileStore(t *testing.T, passphrase string) (*FileStorage, *audit.Recorder, string) {
	t.Helper()
	dir := t.TempDir()
	rec := &audit.Recorder{}
	fs, err := NewFileStorage(dir, passphrase, rec, logger.Nop())
	require.NoError(t, err)
	return fs, rec, dir
}

func TestFileStorage_RoundTrip(t *testing.T) {
	fs, _, _ := newFileStore(t, "correct horse battery staple")
	ctx := context.Background()

	payload := []byte(`{"id":"t1","api_key":"clb_test_0123"}`)
	require.NoError(t, fs.Store(ctx, "t1", payload))

	got, ok, err := fs.Retrieve(ctx, "t1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, payload, got)

	exists, err := fs.Exists(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, exists)

	ids, err := fs.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"t1"}, ids)
}

func TestFileStorage_WrongKeyYieldsAbsentAndPurges(t *testing.T) {
	fs, _, dir := newFileStore(t, "passphrase-one")
	ctx := context.Background()
	require.NoError(t, fs.Store(ctx, "t1", []byte("secret material")))

	other, err := NewFileStorage(dir, "passphrase-two", &audit.Recorder{}, logger.Nop())
	require.NoError(t, err)
	rec := other.aud.(*audit.Recorder)

	got, ok, err := other.Retrieve(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
	assert.True(t, rec.Has(audit.EventCredentialPurged))

	// The purge removed the record for everyone.
	exists, err := fs.Exists(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestFileStorage_SecureRemove(t *testing.T) {
	fs, _, dir := newFileStore(t, "pass")
	ctx := context.Background()
	require.NoError(t, fs.Store(ctx, "t1", []byte("payload")))
	require.NoError(t, fs.Remove(ctx, "t1"))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Empty(t, entries)

	// Removing an absent record is not an error.
	assert.NoError(t, fs.Remove(ctx, "t1"))
}

func TestFileStorage_FilenamesDoNotRevealContextIDs(t *testing.T) {
	fs, _, dir := newFileStore(t, "pass")
	ctx := context.Background()
	require.NoError(t, fs.Store(ctx, "tenant-alpha", []byte("payload")))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	sum := sha256.Sum256([]byte("tenant-alpha"))
	assert.Equal(t, hex.EncodeToString(sum[:])+".cred", entries[0].Name())
	assert.NotContains(t, entries[0].Name(), "tenant-alpha")

	// The id is still recoverable through the sealed envelope.
	ids, err := fs.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"tenant-alpha"}, ids)
}

func TestFileStorage_RetrieveAbsent(t *testing.T) {
	fs, _, _ := newFileStore(t, "pass")
	got, ok, err := fs.Retrieve(context.Background(), "nope")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, got)
}

func TestFileStorage_HealthCheck(t *testing.T) {
	fs, _, _ := newFileStore(t, "pass")
	ctx := context.Background()
	assert.Equal(t, Healthy, fs.HealthCheck(ctx))

	// The probe never lingers in the listing.
	ids, err := fs.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestNewFileStorage_RequiresPassphraseAndAudit(t *testing.T) {
	_, err := NewFileStorage(t.TempDir(), "", &audit.Recorder{}, logger.Nop())
	assert.Error(t, err)
	_, err = NewFileStorage(t.TempDir(), "pass", nil, logger.Nop())
	assert.Error(t, err)
}

func TestSealer_TamperedBlobFailsAuthentication(t *testing.T) {
	s, err := newSealer("pass", "")
	require.NoError(t, err)
	blob, err := s.seal([]byte("plaintext"))
	require.NoError(t, err)

	tampered := []byte(blob)
	tampered[len(tampered)-5] ^= 0x01
	_, err = s.open(string(tampered))
	assert.ErrorIs(t, err, ErrCorrupt)
}
