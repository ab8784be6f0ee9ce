// clearbill_test.go
package clearbill

import (
	"context"
	"testing"
	"time"

	"clearbill/pkg/audit"
	"clearbill/pkg/auth"
	"clearbill/pkg/config"
	"clearbill/pkg/credstore"
	"clearbill/pkg/events"
	"clearbill/pkg/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "clb_test_0123456789abcdef0123456789abcdef"

type fakeRequester struct {
	routes map[string]transport.Response
}

func (f *fakeRequester) Do(_ context.Context, method, uri string, _ transport.Options) (transport.Response, error) {
	if r, ok := f.routes[method+" "+uri]; ok {
		return r, nil
	}
	return transport.Response{StatusCode: 404}, nil
}

func testOptions(t *testing.T) Options {
	t.Helper()
	rq := &fakeRequester{routes: map[string]transport.Response{
		"POST /v1/auth/token":            {StatusCode: 200, Body: []byte(`{"access_token":"atk","refresh_token":"rtk","expires_in":3600}`)},
		"GET /v1/tenants/acme":           {StatusCode: 200, Body: []byte(`{"id":"acme","slug":"acme","name":"Acme Corp"}`)},
		"DELETE /v1/subscriptions/sub_1": {StatusCode: 200, Body: []byte(`{}`)},
	}}
	return Options{
		Config: config.Config{
			Env:                  "test",
			CredentialDir:        t.TempDir(),
			MasterPassphrase:     "unit-test-pass",
			RoleTransitionLimit:  5,
			RoleTransitionWindow: time.Hour,
			HTTPTimeout:          5 * time.Second,
		},
		Requester: rq,
		Audit:     &audit.Recorder{},
		AutoSync:  true,
	}
}

func TestNew_WiresFullClient(t *testing.T) {
	c, err := New(testOptions(t))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	out, err := c.Auth.Authenticate(ctx, "acme", testAPIKey)
	require.NoError(t, err)
	assert.Equal(t, auth.AssuranceVerified, out.Assurance)

	tenant, err := c.Tenants.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", tenant.Name)

	// File storage is live: the context persisted through AutoSync.
	assert.Equal(t, credstore.Healthy, c.StorageHealth(ctx))

	var synced []events.Event
	c.Events.Subscribe(events.TypeSubscriptionSync, func(_ context.Context, ev events.Event) error {
		synced = append(synced, ev)
		return nil
	})
	require.NoError(t, c.Subscriptions.Cancel(ctx, "sub_1"))
	require.Len(t, synced, 1)
	assert.Equal(t, "sub_1", synced[0].Payload["subscription_id"])
}

func TestSwitchContext_PublishesEvent(t *testing.T) {
	c, err := New(testOptions(t))
	require.NoError(t, err)
	defer c.Close()
	ctx := context.Background()

	_, err = c.Auth.Authenticate(ctx, "acme", testAPIKey)
	require.NoError(t, err)

	var switched []events.Event
	c.Events.Subscribe(events.TypeContextSwitched, func(_ context.Context, ev events.Event) error {
		switched = append(switched, ev)
		return nil
	})

	require.NoError(t, c.SwitchContext(ctx, "acme"))
	require.Len(t, switched, 1)
	assert.Equal(t, "acme", switched[0].Payload["tenant_id"])

	// The failure path publishes nothing.
	require.Error(t, c.SwitchContext(ctx, "ghost"))
	assert.Len(t, switched, 1)
}

func TestNew_MemoryOnlyWithoutPassphrase(t *testing.T) {
	opts := testOptions(t)
	opts.Config.MasterPassphrase = ""
	c, err := New(opts)
	require.NoError(t, err)
	defer c.Close()

	assert.Equal(t, credstore.Unknown, c.StorageHealth(context.Background()))

	// Contexts still work, they just do not survive the process.
	_, err = c.Auth.Authenticate(context.Background(), "acme", testAPIKey)
	require.NoError(t, err)
	assert.True(t, c.Auth.Contexts().HasValidAPIKey("acme"))
}
