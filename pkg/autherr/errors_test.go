// pkg/autherr/errors_test.go
package autherr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsKind(t *testing.T) {
	err := New(Validation, "credentials.ValidateAPIKey", "api key is empty", nil)
	assert.True(t, IsKind(err, Validation))
	assert.False(t, IsKind(err, Authentication))
	assert.False(t, IsKind(errors.New("plain"), Validation))
	assert.False(t, IsKind(nil, Validation))

	// Kind survives wrapping.
	wrapped := fmt.Errorf("outer: %w", err)
	assert.True(t, IsKind(wrapped, Validation))
}

func TestSentinelsUnwrap(t *testing.T) {
	err := New(Authentication, "credentials.Switch", "", ErrContextNotFound).WithTenant("acme")
	assert.ErrorIs(t, err, ErrContextNotFound)
	assert.True(t, IsKind(err, Authentication))

	err = New(TokenRefresh, "auth.Refresh", "", ErrNoRefreshToken)
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestErrorFormatting(t *testing.T) {
	err := New(Authorization, "tenants.Get", "tenant fetch rejected", nil).WithTenant("acme").WithOrg("org-1")
	msg := err.Error()
	assert.Contains(t, msg, "tenants.Get")
	assert.Contains(t, msg, "authorization")
	assert.Contains(t, msg, "tenant=acme")
	assert.Contains(t, msg, "org=org-1")

	cause := errors.New("disk full")
	err = New(Storage, "credentials.Sync", "store context", cause)
	assert.Contains(t, err.Error(), "disk full")
	assert.ErrorIs(t, err, cause)
}

func TestKindString(t *testing.T) {
	assert.Equal(t, "authentication", Authentication.String())
	assert.Equal(t, "token_refresh", TokenRefresh.String())
	assert.Equal(t, "storage", Storage.String())
	assert.Equal(t, "validation", Validation.String())
	assert.Equal(t, "authorization", Authorization.String())
	assert.Equal(t, "rate_limited", RateLimited.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
