// pkg/credentials/context.go
package credentials

import (
	"regexp"
	"time"

	"clearbill/pkg/autherr"
)

// SuperAdminID is the reserved catalog key for the global identity.
const SuperAdminID = "super_admin"

// Kind tags what an authentication context represents.
type Kind int

const (
	KindTenantAdmin Kind = iota
	KindSuperAdmin
)

func (k Kind) String() string {
	if k == KindSuperAdmin {
		return "super_admin"
	}
	return "tenant_admin"
}

// Credentials is the caller-supplied material for creating a context.
type Credentials struct {
	APIKey   string
	Email    string
	Password string
}

// Context is one named authentication identity: the super admin or a tenant.
// Token material lives alongside the key so a context can resume after a
// process restart.
type Context struct {
	ID           string    `json:"id"`
	Kind         Kind      `json:"kind"`
	APIKey       string    `json:"api_key,omitempty"`
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
	LastUsedAt   time.Time `json:"last_used_at"`
}

// merge overlays non-empty fields of in onto c, preserving CreatedAt and any
// token material the update does not mention.
func (c *Context) merge(in Credentials) {
	if in.APIKey != "" {
		c.APIKey = in.APIKey
	}
	if in.Email != "" {
		c.Email = in.Email
	}
}

// clone returns a copy so callers cannot mutate catalog state.
func (c *Context) clone() *Context {
	cp := *c
	return &cp
}

// ClearBill API keys: clb_<env>_<32 hex>.
var apiKeyRe = regexp.MustCompile(`^clb_(test|live)_[0-9a-f]{32}$`)

// ValidateAPIKey checks presence, length and shape before any network call.
func ValidateAPIKey(key string) error {
	if key == "" {
		return autherr.New(autherr.Validation, "credentials.ValidateAPIKey", "api key is empty", nil)
	}
	if !apiKeyRe.MatchString(key) {
		return autherr.New(autherr.Validation, "credentials.ValidateAPIKey", "api key does not match clb_<env>_<hex32>", nil)
	}
	return nil
}

// IsValidAPIKey is the boolean form of ValidateAPIKey.
func IsValidAPIKey(key string) bool { return apiKeyRe.MatchString(key) }
