// pkg/tenants/service_test.go
package tenants

import (
	"context"
	"testing"

	"clearbill/pkg/audit"
	"clearbill/pkg/auth"
	"clearbill/pkg/autherr"
	"clearbill/pkg/cache"
	"clearbill/pkg/events"
	"clearbill/pkg/transport"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tenantKey = "clb_test_0123456789abcdef0123456789abcdef"

type fakeRequester struct {
	calls    []string
	handlers map[string]func(opts transport.Options) (transport.Response, error)
}

func newFakeRequester() *fakeRequester {
	f := &fakeRequester{handlers: map[string]func(transport.Options) (transport.Response, error){}}
	f.on("POST /v1/auth/token", 200, `{"access_token":"atk","refresh_token":"rtk","expires_in":3600}`)
	return f
}

func (f *fakeRequester) on(route string, status int, body string) {
	f.handlers[route] = func(transport.Options) (transport.Response, error) {
		return transport.Response{StatusCode: status, Body: []byte(body)}, nil
	}
}

func (f *fakeRequester) Do(_ context.Context, method, uri string, opts transport.Options) (transport.Response, error) {
	route := method + " " + uri
	f.calls = append(f.calls, route)
	if h, ok := f.handlers[route]; ok {
		return h(opts)
	}
	return transport.Response{StatusCode: 404}, nil
}

func (f *fakeRequester) count(route string) int {
	n := 0
	for _, c := range f.calls {
		if c == route {
			n++
		}
	}
	return n
}

func newService(t *testing.T, rq *fakeRequester, c cache.Cache, bus *events.Bus) *Service {
	t.Helper()
	am, err := auth.New(auth.Config{Requester: rq, Audit: &audit.Recorder{}})
	require.NoError(t, err)
	_, err = am.Authenticate(context.Background(), "acme", tenantKey)
	require.NoError(t, err)
	return NewService(rq, am, c, bus, nil)
}

func TestGet_ServesRepeatReadsFromCache(t *testing.T) {
	rq := newFakeRequester()
	rq.on("GET /v1/tenants/acme", 200, `{"id":"acme","slug":"acme","name":"Acme Corp"}`)
	s := newService(t, rq, cache.NewMemory(), nil)
	ctx := context.Background()

	first, err := s.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", first.Name)

	second, err := s.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, rq.count("GET /v1/tenants/acme"))
}

func TestGet_Rejected(t *testing.T) {
	rq := newFakeRequester()
	rq.on("GET /v1/tenants/other", 403, `{"error":"forbidden"}`)
	s := newService(t, rq, nil, nil)

	_, err := s.Get(context.Background(), "other")
	assert.True(t, autherr.IsKind(err, autherr.Authorization))
}

func TestList(t *testing.T) {
	rq := newFakeRequester()
	rq.on("GET /v1/tenants", 200, `[{"id":"acme"},{"id":"globex"}]`)
	s := newService(t, rq, nil, nil)

	out, err := s.List(context.Background())
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "globex", out[1].ID)
}

func TestCreate_PublishesEvent(t *testing.T) {
	rq := newFakeRequester()
	rq.on("POST /v1/tenants", 201, `{"id":"globex","slug":"globex","name":"Globex"}`)
	bus := events.NewBus(nil)
	var published []events.Event
	bus.Subscribe(events.TypeTenantCreated, func(_ context.Context, ev events.Event) error {
		published = append(published, ev)
		return nil
	})
	s := newService(t, rq, nil, bus)

	tenant, err := s.Create(context.Background(), "globex", "Globex")
	require.NoError(t, err)
	assert.Equal(t, "globex", tenant.ID)
	require.Len(t, published, 1)
	assert.Equal(t, "globex", published[0].Payload["tenant_id"])
}

func TestUpdate_InvalidatesCacheAndPublishes(t *testing.T) {
	rq := newFakeRequester()
	rq.on("GET /v1/tenants/acme", 200, `{"id":"acme","slug":"acme","name":"Acme Corp"}`)
	rq.on("PATCH /v1/tenants/acme", 200, `{"id":"acme","slug":"acme","name":"Acme Inc"}`)
	bus := events.NewBus(nil)
	var published []events.Event
	bus.Subscribe(events.TypeTenantUpdated, func(_ context.Context, ev events.Event) error {
		published = append(published, ev)
		return nil
	})
	s := newService(t, rq, cache.NewMemory(), bus)
	ctx := context.Background()

	_, err := s.Get(ctx, "acme")
	require.NoError(t, err)

	updated, err := s.Update(ctx, "acme", map[string]any{"name": "Acme Inc"})
	require.NoError(t, err)
	assert.Equal(t, "Acme Inc", updated.Name)
	require.Len(t, published, 1)
	assert.Equal(t, "acme", published[0].Payload["tenant_id"])

	// The stale cached copy is gone: the next read goes to the network.
	_, err = s.Get(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, 2, rq.count("GET /v1/tenants/acme"))
}

func TestEnsureAPIKey_Idempotent(t *testing.T) {
	rq := newFakeRequester()
	// No keys yet, then one created; the listing reflects it afterwards.
	listed := `[]`
	rq.handlers["GET /v1/tenants/acme/api-keys"] = func(transport.Options) (transport.Response, error) {
		return transport.Response{StatusCode: 200, Body: []byte(listed)}, nil
	}
	rq.handlers["POST /v1/tenants/acme/api-keys"] = func(transport.Options) (transport.Response, error) {
		listed = `[{"key":"` + tenantKey + `","active":true}]`
		return transport.Response{StatusCode: 201, Body: []byte(`{"key":"` + tenantKey + `","active":true}`)}, nil
	}
	s := newService(t, rq, nil, nil)
	ctx := context.Background()

	res, err := s.EnsureAPIKey(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, StateCreated, res.State)
	assert.Equal(t, tenantKey, res.APIKey)

	// The second call finds the active key and creates nothing.
	res, err = s.EnsureAPIKey(ctx, "acme")
	require.NoError(t, err)
	assert.Equal(t, StateAlreadyPresent, res.State)
	assert.Empty(t, res.APIKey)
	assert.Equal(t, 1, rq.count("POST /v1/tenants/acme/api-keys"))
}

func TestEnsureAPIKey_InactiveOrMalformedKeysAreReplaced(t *testing.T) {
	rq := newFakeRequester()
	rq.on("GET /v1/tenants/acme/api-keys", 200, `[{"key":"`+tenantKey+`","active":false},{"key":"legacy-key","active":true}]`)
	rq.on("POST /v1/tenants/acme/api-keys", 201, `{"key":"`+tenantKey+`","active":true}`)
	s := newService(t, rq, nil, nil)

	res, err := s.EnsureAPIKey(context.Background(), "acme")
	require.NoError(t, err)
	assert.Equal(t, StateCreated, res.State)
}

func TestEnsureAPIKey_CreateRejected(t *testing.T) {
	rq := newFakeRequester()
	rq.on("GET /v1/tenants/acme/api-keys", 200, `[]`)
	rq.on("POST /v1/tenants/acme/api-keys", 403, `{"error":"quota"}`)
	s := newService(t, rq, nil, nil)

	res, err := s.EnsureAPIKey(context.Background(), "acme")
	require.Error(t, err)
	assert.Equal(t, StateFailed, res.State)
}
