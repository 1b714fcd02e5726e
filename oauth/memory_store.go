package oauth

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// MemoryTokenStore is an in-process TokenStore with no persistence. It is
// the default when no durable store is configured; tokens are lost on
// process exit and the next run starts from the authorization flow.
type MemoryTokenStore struct {
	mu      sync.RWMutex
	token   *Token
	realmID string
	buffer  time.Duration
	logger  *zap.Logger
}

// NewMemoryTokenStore creates an empty memory store using the given expiry
// buffer, or DefaultExpiryBuffer when buffer is non-positive. A nil logger
// defaults to a no-op logger.
func NewMemoryTokenStore(buffer time.Duration, logger *zap.Logger) *MemoryTokenStore {
	if buffer <= 0 {
		buffer = DefaultExpiryBuffer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MemoryTokenStore{buffer: buffer, logger: logger}
}

// Get returns the cached token if it is still valid, or nil.
func (s *MemoryTokenStore) Get(_ context.Context) *Token {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.token.ValidWithin(s.buffer) {
		return nil
	}
	return s.token
}

// Save replaces the cached token. Tokens failing the validity invariant are
// rejected: the call logs and leaves the current state untouched.
func (s *MemoryTokenStore) Save(_ context.Context, t *Token) {
	if !t.ValidWithin(s.buffer) {
		s.logger.Warn("rejecting invalid token, not saving")
		return
	}
	s.mu.Lock()
	s.token = t
	s.mu.Unlock()
}

// RefreshTokenValue returns the refresh token of the held pair when it is
// still refreshable, even if the access token has lapsed.
func (s *MemoryTokenStore) RefreshTokenValue(_ context.Context) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.token.Refreshable() {
		return ""
	}
	return s.token.RefreshToken
}

// Clear drops the cached token.
func (s *MemoryTokenStore) Clear(_ context.Context) {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()
}

// SetRealmID records the company/account identifier.
func (s *MemoryTokenStore) SetRealmID(id string) {
	s.mu.Lock()
	s.realmID = id
	s.mu.Unlock()
}

// RealmID returns the recorded realm identifier, or "".
func (s *MemoryTokenStore) RealmID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.realmID
}
