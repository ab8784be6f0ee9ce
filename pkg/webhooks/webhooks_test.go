// pkg/webhooks/webhooks_test.go
package webhooks

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	now := time.Now()
	body := []byte(`{"event":"subscription.synced","tenant_id":"acme"}`)
	header := Sign("whsec_abc", body, now)

	assert.NoError(t, Verify("whsec_abc", body, header, DefaultTolerance, now))
	// Receipt a little later is still inside tolerance.
	assert.NoError(t, Verify("whsec_abc", body, header, DefaultTolerance, now.Add(time.Minute)))
}

func TestVerify_TamperedBody(t *testing.T) {
	now := time.Now()
	header := Sign("whsec_abc", []byte(`{"amount":100}`), now)
	err := Verify("whsec_abc", []byte(`{"amount":999}`), header, DefaultTolerance, now)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_WrongSecret(t *testing.T) {
	now := time.Now()
	body := []byte(`{}`)
	header := Sign("whsec_abc", body, now)
	err := Verify("whsec_other", body, header, DefaultTolerance, now)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerify_StaleTimestamp(t *testing.T) {
	now := time.Now()
	body := []byte(`{}`)
	header := Sign("whsec_abc", body, now.Add(-10*time.Minute))
	err := Verify("whsec_abc", body, header, DefaultTolerance, now)
	assert.ErrorIs(t, err, ErrStaleTimestamp)

	// Timestamps from the future are replays too.
	header = Sign("whsec_abc", body, now.Add(10*time.Minute))
	err = Verify("whsec_abc", body, header, DefaultTolerance, now)
	assert.ErrorIs(t, err, ErrStaleTimestamp)
}

func TestVerify_MalformedHeader(t *testing.T) {
	now := time.Now()
	for _, header := range []string{"", "t=123", "v1=deadbeef", "garbage"} {
		err := Verify("whsec_abc", []byte(`{}`), header, DefaultTolerance, now)
		assert.ErrorIs(t, err, ErrBadSignature, header)
	}
}

func TestFilter(t *testing.T) {
	payload := []byte(`{"event":"tenant.created","data":{"plan":"pro","seats":4}}`)

	f, err := NewFilter("")
	require.NoError(t, err)
	ok, err := f.Match(payload)
	require.NoError(t, err)
	assert.True(t, ok)

	f, err = NewFilter(`event == 'tenant.created'`)
	require.NoError(t, err)
	ok, err = f.Match(payload)
	require.NoError(t, err)
	assert.True(t, ok)

	f, err = NewFilter(`event == 'tenant.deleted'`)
	require.NoError(t, err)
	ok, err = f.Match(payload)
	require.NoError(t, err)
	assert.False(t, ok)

	f, err = NewFilter(`data.seats`)
	require.NoError(t, err)
	ok, err = f.Match(payload)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestFilter_Errors(t *testing.T) {
	_, err := NewFilter(`event ==`)
	assert.Error(t, err)

	f, err := NewFilter(`event`)
	require.NoError(t, err)
	_, err = f.Match([]byte(`not json`))
	assert.Error(t, err)
}
