// pkg/transport/transport.go
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"
)

// Options shape a single outbound request.
type Options struct {
	Headers map[string]string
	Query   url.Values
	JSON    any // marshalled as the request body when non-nil
}

// Response carries the status and raw body back to callers; business-level
// decoding stays with them.
type Response struct {
	StatusCode int
	Body       []byte
}

// OK reports a 2xx status.
func (r Response) OK() bool { return r.StatusCode >= 200 && r.StatusCode < 300 }

// Decode unmarshals the body into v.
func (r Response) Decode(v any) error {
	if len(r.Body) == 0 {
		return fmt.Errorf("empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Requester is the HTTP collaborator every API module consumes. The single
// production implementation is Client; tests substitute fakes.
type Requester interface {
	Do(ctx context.Context, method, uri string, opts Options) (Response, error)
}

// Client performs JSON round trips against the ClearBill API. Relative URIs
// are resolved against the configured base; the underlying transport is otel
// instrumented so spans line up with downstream services.
type Client struct {
	base string
	hc   *http.Client
	log  *zap.SugaredLogger
}

func NewClient(baseURL string, timeout time.Duration, log *zap.SugaredLogger) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		base: strings.TrimRight(baseURL, "/"),
		hc: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		log: log,
	}
}

func (c *Client) Do(ctx context.Context, method, uri string, opts Options) (Response, error) {
	full := uri
	if strings.HasPrefix(uri, "/") {
		full = c.base + uri
	}
	if enc := opts.Query.Encode(); enc != "" {
		if strings.Contains(full, "?") {
			full += "&" + enc
		} else {
			full += "?" + enc
		}
	}

	var body *bytes.Reader
	if opts.JSON != nil {
		b, err := json.Marshal(opts.JSON)
		if err != nil {
			return Response{}, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	} else {
		body = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, full, body)
	if err != nil {
		return Response{}, err
	}
	for k, v := range opts.Headers {
		req.Header.Set(k, v)
	}
	if opts.JSON != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.hc.Do(req)
	if err != nil {
		c.log.Warnw("request failed", "method", method, "uri", uri, "err", err)
		return Response{}, err
	}
	defer resp.Body.Close()

	out := Response{StatusCode: resp.StatusCode}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(resp.Body); err != nil {
		return Response{}, err
	}
	out.Body = buf.Bytes()
	c.log.Debugw("request", "method", method, "uri", uri, "status", resp.StatusCode, "dur_ms", time.Since(start).Milliseconds())
	return out, nil
}
