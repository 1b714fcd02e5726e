package oauth

import (
	"context"
	"net/http"
	"time"
)

// DefaultExpiryBuffer is the safety margin subtracted from the access token
// lifetime: a token within this window of expiry is treated as invalid so
// callers never hand the provider a token about to lapse mid-request.
const DefaultExpiryBuffer = 300 * time.Second

// TokenTypeBearer is the only token type the provider issues.
const TokenTypeBearer = "Bearer"

// Token represents an access/refresh token pair. Tokens are immutable by
// replacement: each successful exchange or refresh produces a new value and
// the previous one is discarded, never mutated in place.
type Token struct {
	AccessToken           string    `json:"access_token"`
	RefreshToken          string    `json:"refresh_token,omitempty"`
	TokenType             string    `json:"token_type"`
	IssuedAt              time.Time `json:"issued_at"`
	AccessTokenExpiresAt  time.Time `json:"access_token_expires_at"`
	RefreshTokenExpiresAt time.Time `json:"refresh_token_expires_at,omitempty"`
}

// Valid reports whether the token can authenticate an API call right now,
// applying DefaultExpiryBuffer as the safety margin.
func (t *Token) Valid() bool {
	return t.ValidWithin(DefaultExpiryBuffer)
}

// ValidWithin reports whether the token is usable with the given safety
// buffer: the access token must be non-empty and expire later than now plus
// the buffer.
func (t *Token) ValidWithin(buffer time.Duration) bool {
	if t == nil || t.AccessToken == "" {
		return false
	}
	return time.Now().Add(buffer).Before(t.AccessTokenExpiresAt)
}

// Refreshable reports whether the token can be exchanged for a new access
// token: the refresh token must be non-empty and, when a refresh expiry is
// known, not past it.
func (t *Token) Refreshable() bool {
	if t == nil || t.RefreshToken == "" {
		return false
	}
	if t.RefreshTokenExpiresAt.IsZero() {
		return true
	}
	return time.Now().Before(t.RefreshTokenExpiresAt)
}

// TimeUntilExpiry returns the duration until the access token expires.
func (t *Token) TimeUntilExpiry() time.Duration {
	if t == nil || t.AccessTokenExpiresAt.IsZero() {
		return 0
	}
	return time.Until(t.AccessTokenExpiresAt)
}

// TokenStore caches the current token and tracks the realm identifier. The
// canonical implementation with disk persistence and encryption lives in the
// tokenstore package; MemoryTokenStore below covers in-process-only use.
type TokenStore interface {
	// Get returns the cached token if present and valid, or nil.
	Get(ctx context.Context) *Token

	// Save replaces the cached token. Tokens failing the validity invariant
	// are rejected (logged, not stored). Persistence failures degrade to
	// in-memory-only operation and are never surfaced to the caller.
	Save(ctx context.Context, t *Token)

	// Clear drops the cached token and any persisted copy.
	Clear(ctx context.Context)

	// SetRealmID records the company/account the token authorizes.
	SetRealmID(id string)

	// RealmID returns the recorded realm identifier, or "".
	RealmID() string
}

// HTTPClient is the subset of *http.Client the auth client needs; it exists
// so tests can substitute a stub transport.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// StateGenerator produces opaque single-use CSRF state values.
type StateGenerator interface {
	Generate() (string, error)
}
