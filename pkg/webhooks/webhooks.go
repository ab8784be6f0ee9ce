// pkg/webhooks/webhooks.go
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmespath/go-jmespath"
)

// SignatureHeader carries "t=<unix>,v1=<hex hmac>" on every delivery.
const SignatureHeader = "Clearbill-Signature"

// DefaultTolerance bounds how stale a signed timestamp may be.
const DefaultTolerance = 5 * time.Minute

var (
	ErrBadSignature   = errors.New("webhook signature mismatch")
	ErrStaleTimestamp = errors.New("webhook timestamp outside tolerance")
)

// Verify checks the HMAC-SHA256 signature over "<t>.<body>" and rejects
// replays older than tolerance. Comparison is constant time.
func Verify(secret string, body []byte, header string, tolerance time.Duration, now time.Time) error {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	var ts int64
	var sig string
	for _, part := range strings.Split(header, ",") {
		k, v, ok := strings.Cut(strings.TrimSpace(part), "=")
		if !ok {
			continue
		}
		switch k {
		case "t":
			ts, _ = strconv.ParseInt(v, 10, 64)
		case "v1":
			sig = v
		}
	}
	if ts == 0 || sig == "" {
		return fmt.Errorf("%w: malformed header", ErrBadSignature)
	}
	at := time.Unix(ts, 0)
	if at.Before(now.Add(-tolerance)) || at.After(now.Add(tolerance)) {
		return ErrStaleTimestamp
	}
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", ts)
	mac.Write(body)
	want := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(want), []byte(sig)) {
		return ErrBadSignature
	}
	return nil
}

// Sign produces a header value for body at the given instant. Used by tests
// and the listener's replay tooling.
func Sign(secret string, body []byte, at time.Time) string {
	mac := hmac.New(sha256.New, []byte(secret))
	fmt.Fprintf(mac, "%d.", at.Unix())
	mac.Write(body)
	return fmt.Sprintf("t=%d,v1=%s", at.Unix(), hex.EncodeToString(mac.Sum(nil)))
}

// Filter matches webhook payloads against a JMESPath expression. An event
// passes when the expression yields a truthy value.
type Filter struct {
	expr *jmespath.JMESPath
}

// NewFilter compiles the expression; an empty expression matches everything.
func NewFilter(expression string) (*Filter, error) {
	if expression == "" {
		return &Filter{}, nil
	}
	expr, err := jmespath.Compile(expression)
	if err != nil {
		return nil, fmt.Errorf("compile filter: %w", err)
	}
	return &Filter{expr: expr}, nil
}

// Match evaluates the filter over a raw JSON payload.
func (f *Filter) Match(payload []byte) (bool, error) {
	if f.expr == nil {
		return true, nil
	}
	var doc any
	if err := json.Unmarshal(payload, &doc); err != nil {
		return false, fmt.Errorf("decode payload: %w", err)
	}
	out, err := f.expr.Search(doc)
	if err != nil {
		return false, err
	}
	return truthy(out), nil
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}
