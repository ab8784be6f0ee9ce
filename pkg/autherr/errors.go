// pkg/autherr/errors.go
package autherr

import (
	"errors"
	"fmt"
)

// Kind classifies an authentication failure. Every entry point of the client
// either returns an explicit success value or an *Error with one of these
// kinds; there is no false-as-success anywhere.
type Kind int

const (
	Authentication Kind = iota // bad credentials, missing tenant/key at call time
	TokenRefresh               // missing/invalid refresh token; forces full logout
	Storage                    // encrypt/decrypt/IO failure in the credential store
	Validation                 // malformed key or incomplete credentials, pre-network
	Authorization              // scope check rejected access to a tenant
	RateLimited                // privilege-transition throttling
)

func (k Kind) String() string {
	switch k {
	case Authentication:
		return "authentication"
	case TokenRefresh:
		return "token_refresh"
	case Storage:
		return "storage"
	case Validation:
		return "validation"
	case Authorization:
		return "authorization"
	case RateLimited:
		return "rate_limited"
	}
	return "unknown"
}

// Sentinels for precise branching with errors.Is.
var (
	ErrContextNotFound = errors.New("authentication context not found")
	ErrInvalidState    = errors.New("invalid role state")
	ErrNoRefreshToken  = errors.New("no refresh token stored")
)

// Error is the single typed failure wrapping network and storage causes with
// contextual metadata for audit trails.
type Error struct {
	Kind     Kind
	Op       string // e.g. "auth.Refresh"
	TenantID string
	OrgID    string
	Msg      string
	Err      error
}

func (e *Error) Error() string {
	s := e.Op + ": " + e.Kind.String()
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.TenantID != "" {
		s += fmt.Sprintf(" (tenant=%s)", e.TenantID)
	}
	if e.OrgID != "" {
		s += fmt.Sprintf(" (org=%s)", e.OrgID)
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *Error) Unwrap() error { return e.Err }

// New builds a typed failure. cause may be nil.
func New(kind Kind, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

// WithTenant attaches tenant metadata and returns the same error.
func (e *Error) WithTenant(id string) *Error { e.TenantID = id; return e }

// WithOrg attaches organization metadata and returns the same error.
func (e *Error) WithOrg(id string) *Error { e.OrgID = id; return e }

// IsKind reports whether err is (or wraps) an *Error of the given kind.
func IsKind(err error, kind Kind) bool {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind == kind
	}
	return false
}
