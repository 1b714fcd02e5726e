package oauth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ledgerdesk/authkit/resilience"
)

// maxResponseBody caps how much of a provider response is read into memory.
const maxResponseBody = 1 << 20

// Client performs the OAuth protocol operations against the provider:
// building the authorization URL, exchanging the callback code, refreshing,
// and revoking. Refresh calls run through the resilience pipeline; the
// one-shot exchange and revoke calls do not, since the user is sitting in
// front of the browser and a failed exchange is cheaper to restart than to
// retry blind.
type Client struct {
	cfg      *Config
	http     HTTPClient
	store    TokenStore
	states   *StateTracker
	pipeline *resilience.Pipeline
	logger   *zap.Logger
}

// ClientOptions configures a Client. Zero values get sensible defaults.
type ClientOptions struct {
	// HTTPClient issues the provider requests. Defaults to a plain
	// http.Client with a 30s timeout.
	HTTPClient HTTPClient

	// Store caches tokens. Defaults to an in-process MemoryTokenStore.
	Store TokenStore

	// StateTracker owns CSRF state. Defaults to one using the generator
	// named in the configuration.
	StateTracker *StateTracker

	// Pipeline wraps refresh calls with timeout, circuit breaking, and
	// retry. Defaults to a pipeline with standard settings.
	Pipeline *resilience.Pipeline

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

// NewClient creates a Client for the given resolved configuration.
func NewClient(cfg *Config, opts ClientOptions) (*Client, error) {
	if cfg == nil {
		return nil, &Error{Kind: KindConfiguration, Op: "new_client", Err: fmt.Errorf("config is nil")}
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Store == nil {
		opts.Store = NewMemoryTokenStore(cfg.TokenExpiryBuffer, opts.Logger)
	}
	if opts.StateTracker == nil {
		gen, err := newStateGenerator(cfg.StateGenerator)
		if err != nil {
			return nil, err
		}
		opts.StateTracker = NewStateTracker(gen, opts.Logger)
	}
	if opts.Pipeline == nil {
		p, err := resilience.New("oauth-refresh", resilience.Options{
			ShouldRetry: IsRetryable,
			Logger:      opts.Logger,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to build resilience pipeline: %w", err)
		}
		opts.Pipeline = p
	}

	return &Client{
		cfg:      cfg,
		http:     opts.HTTPClient,
		store:    opts.Store,
		states:   opts.StateTracker,
		pipeline: opts.Pipeline,
		logger:   opts.Logger,
	}, nil
}

// Store returns the token store the client writes to.
func (c *Client) Store() TokenStore {
	return c.store
}

// Pipeline returns the resilience pipeline wrapping refresh calls.
func (c *Client) Pipeline() *resilience.Pipeline {
	return c.pipeline
}

// AuthorizationURL builds the provider authorization URL the user's browser
// must visit, generating and recording a fresh CSRF state value.
func (c *Client) AuthorizationURL(_ context.Context) (string, error) {
	state, err := c.states.Generate()
	if err != nil {
		return "", &Error{Kind: KindUnknown, Op: "authorization_url", Err: err}
	}

	q := url.Values{}
	q.Set("client_id", c.cfg.ClientID)
	q.Set("response_type", "code")
	q.Set("scope", strings.Join(c.cfg.Scopes, " "))
	q.Set("redirect_uri", c.cfg.RedirectURI)
	q.Set("state", state)

	return c.cfg.AuthorizationURL + "?" + q.Encode(), nil
}

// ValidateState consumes the pending CSRF state and compares it against the
// value returned on the callback.
func (c *Client) ValidateState(returned string) bool {
	return c.states.ValidateAndClear(returned)
}

// Exchange trades the authorization code from the callback for a token pair
// and saves it. The call goes straight to the provider without the
// resilience pipeline: the user is mid-flow in a browser and any failure
// should surface immediately rather than after a retry window.
func (c *Client) Exchange(ctx context.Context, code string) (*Token, error) {
	if strings.TrimSpace(code) == "" {
		return nil, &Error{Kind: KindValidation, Op: "exchange", Err: fmt.Errorf("authorization code is blank")}
	}

	form := url.Values{}
	form.Set("grant_type", "authorization_code")
	form.Set("code", code)
	form.Set("redirect_uri", c.cfg.RedirectURI)

	token, err := c.postToken(ctx, "exchange", form)
	if err != nil {
		return nil, err
	}
	if !token.ValidWithin(c.cfg.TokenExpiryBuffer) {
		return nil, &Error{Kind: KindPermanentProvider, Op: "exchange", Err: fmt.Errorf("provider returned unusable token")}
	}

	c.store.Save(ctx, token)
	if c.store.RealmID() == "" && c.cfg.RealmID != "" {
		c.store.SetRealmID(c.cfg.RealmID)
	}

	c.logger.Info("authorization code exchanged",
		zap.Time("access_expires_at", token.AccessTokenExpiresAt))
	return token, nil
}

// Refresh exchanges the given refresh token for a fresh token pair, running
// the call through the resilience pipeline. On a terminal provider
// rejection, or once the retry budget is exhausted on transient failures,
// the cached token is cleared so the next caller is routed back to the
// authorization flow instead of replaying a dead refresh token.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (*Token, error) {
	if strings.TrimSpace(refreshToken) == "" {
		return nil, &Error{Kind: KindValidation, Op: "refresh", Err: ErrNoRefreshToken}
	}

	var token *Token
	err := c.pipeline.Execute(ctx, func(ctx context.Context) error {
		form := url.Values{}
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refreshToken)

		t, err := c.postToken(ctx, "refresh", form)
		if err != nil {
			return err
		}
		if t.AccessToken == "" || !t.AccessTokenExpiresAt.After(t.IssuedAt) {
			return &Error{Kind: KindPermanentProvider, Op: "refresh", Err: fmt.Errorf("provider returned unusable token")}
		}
		// Rotation: a new refresh token replaces the old one; an absent one
		// means the current token stays live and is carried forward.
		if t.RefreshToken == "" {
			t.RefreshToken = refreshToken
		}
		token = t
		return nil
	})
	if err != nil {
		switch {
		case errors.Is(err, resilience.ErrCircuitOpen):
			return nil, &Error{Kind: KindCircuitOpen, Op: "refresh", Err: err}
		case errors.Is(err, resilience.ErrCanceled):
			return nil, &Error{Kind: KindCanceled, Op: "refresh", Err: err}
		case errors.Is(err, resilience.ErrTimeout):
			return nil, &Error{Kind: KindTransientNetwork, Op: "refresh", Err: err}
		}

		switch KindOf(err) {
		case KindPermanentProvider:
			c.logger.Warn("refresh rejected by provider, clearing cached token", zap.Error(err))
			c.store.Clear(ctx)
		case KindTransientNetwork:
			// The pipeline already burned the full retry budget.
			c.logger.Warn("refresh retries exhausted, clearing cached token", zap.Error(err))
			c.store.Clear(ctx)
		}
		return nil, err
	}

	c.store.Save(ctx, token)
	c.logger.Info("token refreshed",
		zap.Time("access_expires_at", token.AccessTokenExpiresAt))
	return token, nil
}

// Revoke invalidates the current refresh token at the provider and clears
// local state. Local state is cleared unconditionally: even when the remote
// revocation fails, the caller asked to disconnect and keeping a token they
// consider dead would be worse than an orphaned grant on the provider side.
func (c *Client) Revoke(ctx context.Context) error {
	token := c.store.Get(ctx)
	if token == nil {
		c.store.Clear(ctx)
		return nil
	}

	revoke := token.RefreshToken
	if revoke == "" {
		revoke = token.AccessToken
	}

	c.store.Clear(ctx)

	body, err := json.Marshal(map[string]string{"token": revoke})
	if err != nil {
		return &Error{Kind: KindUnknown, Op: "revoke", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.RevokeURL, bytes.NewReader(body))
	if err != nil {
		return &Error{Kind: KindUnknown, Op: "revoke", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+c.basicAuth())

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("remote revocation failed, local state already cleared", zap.Error(err))
		return &Error{Kind: KindTransientNetwork, Op: "revoke", Err: err}
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		c.logger.Warn("provider rejected revocation, local state already cleared",
			zap.Int("status", resp.StatusCode))
		return &Error{Kind: KindPermanentProvider, Op: "revoke", StatusCode: resp.StatusCode}
	}

	c.logger.Info("token revoked")
	return nil
}

// tokenResponse is the provider's token endpoint payload.
type tokenResponse struct {
	AccessToken            string `json:"access_token"`
	RefreshToken           string `json:"refresh_token"`
	TokenType              string `json:"token_type"`
	ExpiresIn              int64  `json:"expires_in"`
	XRefreshTokenExpiresIn int64  `json:"x_refresh_token_expires_in"`
}

// postToken issues a form POST to the token endpoint and classifies the
// outcome. Connection failures and 503/504 are transient; HTTP 400 and
// every other provider rejection are permanent.
func (c *Client) postToken(ctx context.Context, op string, form url.Values) (*Token, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Op: op, Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Basic "+c.basicAuth())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &Error{Kind: KindTransientNetwork, Op: op, Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return nil, &Error{Kind: KindTransientNetwork, Op: op, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		kind := KindPermanentProvider
		if resp.StatusCode == http.StatusServiceUnavailable || resp.StatusCode == http.StatusGatewayTimeout {
			kind = KindTransientNetwork
		}
		return nil, &Error{Kind: kind, Op: op, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}

	var tr tokenResponse
	if err := json.Unmarshal(body, &tr); err != nil {
		return nil, &Error{Kind: KindPermanentProvider, Op: op, Err: fmt.Errorf("failed to parse token response: %w", err)}
	}

	now := time.Now()
	token := &Token{
		AccessToken:          tr.AccessToken,
		RefreshToken:         tr.RefreshToken,
		// The provider only issues bearer tokens; normalize whatever casing
		// it spells the type with.
		TokenType:            TokenTypeBearer,
		IssuedAt:             now,
		AccessTokenExpiresAt: now.Add(time.Duration(tr.ExpiresIn) * time.Second),
	}
	if tr.XRefreshTokenExpiresIn > 0 {
		token.RefreshTokenExpiresAt = now.Add(time.Duration(tr.XRefreshTokenExpiresIn) * time.Second)
	}
	return token, nil
}

func (c *Client) basicAuth() string {
	return base64.StdEncoding.EncodeToString([]byte(c.cfg.ClientID + ":" + c.cfg.ClientSecret))
}
