// pkg/tokens/store.go
package tokens

import (
	"sync"
	"time"

	"github.com/lestrrat-go/jwx/v2/jwt"
)

// Store tracks the current access/refresh token pair and the access token's
// expiry instant. It is process-local bookkeeping only: no network access, no
// persistence. A missing expiry means the token is treated as already expired.
type Store struct {
	mu      sync.Mutex
	access  string
	refresh string
	expiry  time.Time

	now func() time.Time
}

func New() *Store {
	return &Store{now: time.Now}
}

// StoreAccessToken records the token with expiry = now + ttl. When ttl <= 0
// the expiry is predicted from the token's own JWT exp claim; tokens that
// carry neither are considered expired on arrival.
func (s *Store) StoreAccessToken(token string, ttl time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access = token
	switch {
	case ttl > 0:
		s.expiry = s.now().Add(ttl)
	default:
		s.expiry = inferExpiry(token)
	}
}

func (s *Store) StoreRefreshToken(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.refresh = token
}

// AccessToken returns the stored token, or ok=false when absent or expired.
func (s *Store) AccessToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.access == "" || !s.validLocked() {
		return "", false
	}
	return s.access, true
}

func (s *Store) RefreshToken() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refresh == "" {
		return "", false
	}
	return s.refresh, true
}

// HasValidAccessToken reports token present and now < expiry.
func (s *Store) HasValidAccessToken() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access != "" && s.validLocked()
}

// WillExpireWithin reports whether the access token expires inside d. A
// missing token or expiry counts as expiring immediately.
func (s *Store) WillExpireWithin(d time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.access == "" || s.expiry.IsZero() {
		return true
	}
	return s.expiry.Before(s.now().Add(d))
}

// Clear drops all token state. Idempotent.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.access, s.refresh, s.expiry = "", "", time.Time{}
}

func (s *Store) validLocked() bool {
	return !s.expiry.IsZero() && s.now().Before(s.expiry)
}

// inferExpiry reads exp from a JWT without verifying the signature; the
// server already vouched for the token, we only need the instant.
func inferExpiry(token string) time.Time {
	t, err := jwt.ParseInsecure([]byte(token))
	if err != nil {
		return time.Time{}
	}
	return t.Expiration()
}
