package oauth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerdesk/authkit/resilience"
	"github.com/ledgerdesk/authkit/secrets"
)

// ServiceOptions configures a Service.
type ServiceOptions struct {
	// Static supplies lowest-priority configuration values; environment
	// variables and the secret store override them.
	Static Config

	// Secrets supplies credentials and encryption entropy. Optional.
	Secrets secrets.Store

	// Store caches and persists tokens. Defaults to an in-process
	// MemoryTokenStore.
	Store TokenStore

	// HTTPClient issues provider requests. Defaults to a plain http.Client.
	HTTPClient HTTPClient

	// Pipeline overrides the default resilience pipeline wrapping refresh.
	Pipeline *resilience.Pipeline

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// Service is the facade tying the pieces together: credential resolution
// behind the initialization gate, the protocol client, the token store, and
// the optional background refresher. Construction is cheap and never fails;
// all fallible work is deferred to the first operation, and a failed
// initialization is retried on the next call rather than cached forever.
type Service struct {
	opts   ServiceOptions
	logger *zap.Logger

	resolver *Resolver
	gate     *initGate

	mu        sync.Mutex
	client    *Client
	refresher *autoRefresher

	// refreshMu serializes refresh attempts so concurrent expired callers
	// don't race to burn the same refresh token; rotation makes the old
	// value dead the moment the first attempt succeeds.
	refreshMu sync.Mutex
}

// NewService creates a Service. No credentials are resolved and no network
// traffic happens until the first operation.
func NewService(opts ServiceOptions) *Service {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	return &Service{
		opts:     opts,
		logger:   opts.Logger,
		resolver: NewResolver(opts.Secrets, opts.Static),
		gate:     newInitGate(),
	}
}

// Init forces credential resolution now instead of on first use. Safe to
// call concurrently and repeatedly; a failure here does not poison the
// service.
func (s *Service) Init(ctx context.Context) error {
	_, err := s.ensureClient(ctx)
	return err
}

// ensureClient resolves configuration through the gate and builds the
// protocol client on first success.
func (s *Service) ensureClient(ctx context.Context) (*Client, error) {
	cfg, err := s.gate.ensure(ctx, s.resolver.Resolve)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return s.client, nil
	}

	client, err := NewClient(cfg, ClientOptions{
		HTTPClient: s.opts.HTTPClient,
		Store:      s.opts.Store,
		Pipeline:   s.opts.Pipeline,
		Logger:     s.logger,
	})
	if err != nil {
		return nil, err
	}
	s.client = client
	s.logger.Info("oauth service initialized",
		zap.String("environment", cfg.Environment),
		zap.String("token_url", cfg.TokenURL))
	return client, nil
}

// AuthorizationURL returns the URL the user's browser must visit to start
// the authorization flow.
func (s *Service) AuthorizationURL(ctx context.Context) (string, error) {
	client, err := s.ensureClient(ctx)
	if err != nil {
		return "", err
	}
	return client.AuthorizationURL(ctx)
}

// HandleCallback completes the authorization flow: it validates the CSRF
// state from the callback, exchanges the code, and records the realm
// identifier the provider attached to the callback.
func (s *Service) HandleCallback(ctx context.Context, code, state, realmID string) (*Token, error) {
	client, err := s.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	if !client.ValidateState(state) {
		return nil, &Error{Kind: KindValidation, Op: "callback", Err: fmt.Errorf("state mismatch")}
	}

	token, err := client.Exchange(ctx, code)
	if err != nil {
		return nil, err
	}
	if realmID != "" {
		client.Store().SetRealmID(realmID)
	}
	return token, nil
}

// Token returns a token valid for at least the configured expiry buffer,
// refreshing the cached one when necessary. ErrNoToken is returned when
// nothing is cached and nothing can be refreshed; the caller must send the
// user through the authorization flow.
func (s *Service) Token(ctx context.Context) (*Token, error) {
	client, err := s.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	if token := client.Store().Get(ctx); token != nil {
		return token, nil
	}

	// The store rejects tokens inside the expiry buffer, but the refresh
	// token may still be live. Re-read through a refresh attempt.
	return s.refresh(ctx, client)
}

// Refresh forces a refresh of the cached token regardless of its remaining
// lifetime.
func (s *Service) Refresh(ctx context.Context) (*Token, error) {
	client, err := s.ensureClient(ctx)
	if err != nil {
		return nil, err
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	refreshToken := s.storedRefreshToken(ctx, client)
	if refreshToken == "" {
		return nil, &Error{Kind: KindValidation, Op: "refresh", Err: ErrNoRefreshToken}
	}
	return client.Refresh(ctx, refreshToken)
}

func (s *Service) refresh(ctx context.Context, client *Client) (*Token, error) {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()

	// A competing caller may have refreshed while this one waited.
	if token := client.Store().Get(ctx); token != nil {
		return token, nil
	}

	refreshToken := s.storedRefreshToken(ctx, client)
	if refreshToken == "" {
		return nil, &Error{Kind: KindValidation, Op: "token", Err: ErrNoToken}
	}

	return client.Refresh(ctx, refreshToken)
}

// storedRefreshToken digs the refresh token out of the store even when the
// access token has already lapsed. The tokenstore Store rejects expired
// tokens from Get, so the dedicated store-backed path keeps a side channel:
// the last token saved through this service.
func (s *Service) storedRefreshToken(ctx context.Context, client *Client) string {
	if rp, ok := client.Store().(refreshProvider); ok {
		return rp.RefreshTokenValue(ctx)
	}
	if token := client.Store().Get(ctx); token != nil && token.Refreshable() {
		return token.RefreshToken
	}
	return ""
}

// refreshProvider is implemented by stores that can surface the refresh
// token of an otherwise-expired pair.
type refreshProvider interface {
	RefreshTokenValue(ctx context.Context) string
}

// Revoke disconnects from the provider and clears local token state.
func (s *Service) Revoke(ctx context.Context) error {
	client, err := s.ensureClient(ctx)
	if err != nil {
		return err
	}
	return client.Revoke(ctx)
}

// RealmID returns the company/account identifier recorded at authorization
// time, or "".
func (s *Service) RealmID(ctx context.Context) string {
	client, err := s.ensureClient(ctx)
	if err != nil {
		return ""
	}
	return client.Store().RealmID()
}

// Stats returns the resilience pipeline counters for the refresh circuit.
func (s *Service) Stats(ctx context.Context) (resilience.Stats, error) {
	client, err := s.ensureClient(ctx)
	if err != nil {
		return resilience.Stats{}, err
	}
	return client.Pipeline().Stats(), nil
}

// StartAutoRefresh launches the background refresher. Calling it twice is a
// no-op until StopAutoRefresh runs.
func (s *Service) StartAutoRefresh(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refresher != nil {
		return
	}
	s.refresher = newAutoRefresher(s, interval, s.logger)
	s.refresher.start()
}

// StopAutoRefresh stops the background refresher and waits for any in-flight
// refresh attempt to finish.
func (s *Service) StopAutoRefresh() {
	s.mu.Lock()
	r := s.refresher
	s.refresher = nil
	s.mu.Unlock()
	if r != nil {
		r.halt()
	}
}

// Default service management

var (
	defaultMu      sync.Mutex
	defaultService *Service
)

// SetDefault installs the package-level default service used by Default.
func SetDefault(s *Service) {
	defaultMu.Lock()
	defaultService = s
	defaultMu.Unlock()
}

// Default returns the package-level service, creating one from environment
// configuration on first use.
func Default() *Service {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if defaultService == nil {
		defaultService = NewService(ServiceOptions{})
	}
	return defaultService
}
