package tokenstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerdesk/authkit/krypto"
	"github.com/ledgerdesk/authkit/oauth"
	"github.com/ledgerdesk/authkit/secrets"
)

// DefaultEntropySecretName is the secret-store key consulted for additional
// encryption entropy.
const DefaultEntropySecretName = "oauth.token-entropy"

// Driver persists a single opaque payload. Read returns (nil, nil) when
// nothing is persisted; a missing record is not an error.
type Driver interface {
	Write(ctx context.Context, data []byte) error
	Read(ctx context.Context) ([]byte, error)
	Delete(ctx context.Context) error
}

// envelope is the persisted document. When Encrypted is true, Payload is the
// base64-encoded AES-GCM ciphertext of the token JSON; otherwise it is the
// token JSON itself.
type envelope struct {
	Version   int    `json:"version"`
	Encrypted bool   `json:"encrypted"`
	Payload   string `json:"payload"`
	RealmID   string `json:"realm_id,omitempty"`
}

const envelopeVersion = 1

// Options configures a Store.
type Options struct {
	// Driver persists the token. Nil disables persistence entirely.
	Driver Driver

	// Encryptor protects the persisted payload. Nil persists plaintext JSON.
	Encryptor krypto.Encryptor

	// Secrets supplies additional encryption entropy. Optional.
	Secrets secrets.Store

	// EntropySecretName overrides DefaultEntropySecretName.
	EntropySecretName string

	// ExpiryBuffer is the safety margin applied when judging token validity.
	// Defaults to oauth.DefaultExpiryBuffer.
	ExpiryBuffer time.Duration

	// Logger receives persistence-degradation and rejection events.
	Logger *zap.Logger
}

// Store holds the current token in memory and optionally persists it through
// a Driver, encrypted when an Encryptor is available. The in-memory token is
// replaced whole-value under a lock, so readers always see either the
// previous or the next fully-constructed token. It also owns the realm
// identifier, written once per successful code exchange and read by every
// subsequent API call.
type Store struct {
	mu      sync.RWMutex
	token   *oauth.Token
	realmID string

	driver      Driver
	encryptor   krypto.Encryptor
	secrets     secrets.Store
	entropyName string
	buffer      time.Duration
	logger      *zap.Logger
}

// New creates a Store from the given options.
func New(opts Options) *Store {
	if opts.EntropySecretName == "" {
		opts.EntropySecretName = DefaultEntropySecretName
	}
	if opts.ExpiryBuffer <= 0 {
		opts.ExpiryBuffer = oauth.DefaultExpiryBuffer
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Store{
		driver:      opts.Driver,
		encryptor:   opts.Encryptor,
		secrets:     opts.Secrets,
		entropyName: opts.EntropySecretName,
		buffer:      opts.ExpiryBuffer,
		logger:      opts.Logger,
	}
}

// Get returns the in-memory token if present and valid. When memory is
// empty it attempts to load and promote a persisted token. Returns nil when
// no valid token is available.
func (s *Store) Get(ctx context.Context) *oauth.Token {
	token := s.current(ctx)
	if !token.ValidWithin(s.buffer) {
		return nil
	}
	return token
}

// RefreshTokenValue returns the refresh token of the held pair when it is
// still refreshable, even if the access token has lapsed. Returns "" when
// nothing usable is held.
func (s *Store) RefreshTokenValue(ctx context.Context) string {
	token := s.current(ctx)
	if !token.Refreshable() {
		return ""
	}
	return token.RefreshToken
}

// current returns the in-memory token, consulting the driver when memory is
// empty or stale: another process sharing the driver may have refreshed in
// the meantime. The newer of the two tokens wins, so a failed persist never
// resurrects an already-rotated refresh token. The result may be expired;
// callers apply their own filter.
func (s *Store) current(ctx context.Context) *oauth.Token {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token.ValidWithin(s.buffer) {
		return token
	}

	loaded, realmID := s.load(ctx)
	if loaded == nil {
		return token
	}

	s.mu.Lock()
	if s.token != nil && s.token.IssuedAt.After(loaded.IssuedAt) {
		loaded = s.token
	} else {
		s.token = loaded
	}
	if s.realmID == "" && realmID != "" {
		s.realmID = realmID
	}
	s.mu.Unlock()

	return loaded
}

// Save replaces the in-memory token and persists it when a driver is
// configured. Tokens failing the validity invariant are rejected: the call
// logs and leaves the current state untouched. Persistence and encryption
// failures degrade to in-memory-only operation; a just-acquired token is
// never lost over a storage hiccup.
func (s *Store) Save(ctx context.Context, t *oauth.Token) {
	if !t.ValidWithin(s.buffer) {
		s.logger.Warn("rejecting invalid token, not saving")
		return
	}

	s.mu.Lock()
	s.token = t
	realmID := s.realmID
	s.mu.Unlock()

	if s.driver == nil {
		return
	}
	if err := s.persist(ctx, t, realmID); err != nil {
		s.logger.Warn("token persistence failed, continuing in-memory only", zap.Error(err))
	}
}

// Clear nulls the in-memory token and deletes the persisted record if
// present. Deletion failures are logged, not propagated.
func (s *Store) Clear(ctx context.Context) {
	s.mu.Lock()
	s.token = nil
	s.mu.Unlock()

	if s.driver == nil {
		return
	}
	if err := s.driver.Delete(ctx); err != nil {
		s.logger.Warn("failed to delete persisted token", zap.Error(err))
	}
}

// SetRealmID records the company/account identifier. Last write wins.
func (s *Store) SetRealmID(id string) {
	s.mu.Lock()
	s.realmID = id
	s.mu.Unlock()
}

// RealmID returns the recorded realm identifier, or "".
func (s *Store) RealmID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.realmID
}

func (s *Store) persist(ctx context.Context, t *oauth.Token, realmID string) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return fmt.Errorf("failed to marshal token: %w", err)
	}

	env := envelope{Version: envelopeVersion, RealmID: realmID}
	if s.encryptor != nil {
		ciphertext, err := s.encryptor.Encrypt(payload, s.entropy(ctx))
		if err != nil {
			return fmt.Errorf("failed to encrypt token: %w", err)
		}
		env.Encrypted = true
		env.Payload = base64.StdEncoding.EncodeToString(ciphertext)
	} else {
		env.Payload = string(payload)
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return s.driver.Write(ctx, data)
}

// load reads and decodes the persisted token. Corrupted or undecryptable
// records are treated as "no cached token" rather than fatal, so a
// foreign-machine or damaged file only forces re-authorization.
func (s *Store) load(ctx context.Context) (*oauth.Token, string) {
	if s.driver == nil {
		return nil, ""
	}

	data, err := s.driver.Read(ctx)
	if err != nil {
		s.logger.Warn("failed to read persisted token", zap.Error(err))
		return nil, ""
	}
	if len(data) == 0 {
		return nil, ""
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		s.logger.Warn("persisted token is not valid JSON, ignoring", zap.Error(err))
		return nil, ""
	}

	payload := []byte(env.Payload)
	if env.Encrypted {
		if s.encryptor == nil {
			s.logger.Warn("persisted token is encrypted but no encryptor is configured, ignoring")
			return nil, ""
		}
		ciphertext, err := base64.StdEncoding.DecodeString(env.Payload)
		if err != nil {
			s.logger.Warn("persisted token ciphertext is malformed, ignoring", zap.Error(err))
			return nil, ""
		}
		payload, err = s.encryptor.Decrypt(ciphertext, s.entropy(ctx))
		if err != nil {
			s.logger.Warn("failed to decrypt persisted token, ignoring", zap.Error(err))
			return nil, ""
		}
	}

	var token oauth.Token
	if err := json.Unmarshal(payload, &token); err != nil {
		s.logger.Warn("persisted token payload is malformed, ignoring", zap.Error(err))
		return nil, ""
	}

	return &token, env.RealmID
}

func (s *Store) entropy(ctx context.Context) []byte {
	if s.secrets == nil {
		return nil
	}
	v, ok, err := s.secrets.Get(ctx, s.entropyName)
	if err != nil {
		s.logger.Warn("failed to fetch encryption entropy", zap.Error(err))
		return nil
	}
	if !ok {
		return nil
	}
	return []byte(v)
}
