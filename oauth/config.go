package oauth

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ledgerdesk/authkit/config"
	"github.com/ledgerdesk/authkit/secrets"
)

// Default provider endpoints.
const (
	DefaultAuthorizationURL = "https://appcenter.intuit.com/connect/oauth2"
	DefaultTokenURL         = "https://oauth.platform.intuit.com/oauth2/v1/tokens/bearer"
	DefaultRevokeURL        = "https://developer.api.intuit.com/v2/oauth2/tokens/revoke"
)

// Config holds the resolved OAuth configuration. It is produced once by the
// Resolver and treated as read-only afterwards; every operation receives it
// by value from the initialization gate rather than reading shared fields.
type Config struct {
	// ClientID is the OAuth application's client ID. Required.
	ClientID string `env:"CLIENT_ID,alias:BOOKS_CLIENT_ID"`

	// ClientSecret is the OAuth application's client secret. May be empty
	// for public clients.
	ClientSecret string `env:"CLIENT_SECRET,alias:BOOKS_CLIENT_SECRET"`

	// RedirectURI is the callback URL after authorization. Required.
	RedirectURI string `env:"REDIRECT_URI,alias:BOOKS_REDIRECT_URI"`

	// AuthorizationURL is the provider's browser-driven authorization endpoint.
	AuthorizationURL string `env:"AUTHORIZATION_URL"`

	// TokenURL is the provider's token endpoint for code exchange and refresh.
	TokenURL string `env:"TOKEN_URL"`

	// RevokeURL is the provider's token revocation endpoint.
	RevokeURL string `env:"REVOKE_URL"`

	// Scopes is the ordered list of OAuth scopes to request.
	Scopes []string `env:"SCOPES,default:com.intuit.quickbooks.accounting"`

	// RealmID identifies the remote company/account, when already known.
	RealmID string `env:"REALM_ID,alias:BOOKS_REALM_ID"`

	// Environment names the provider environment (production, sandbox).
	Environment string `env:"ENVIRONMENT,alias:BOOKS_ENVIRONMENT,default:production"`

	// TokenExpiryBuffer is the safety margin applied to access token expiry.
	TokenExpiryBuffer time.Duration `env:"TOKEN_EXPIRY_BUFFER,default:300s"`

	// StateGenerator selects how CSRF state values are generated (secure, uuid).
	StateGenerator string `env:"STATE_GENERATOR,default:secure"`
}

// credentialKeys maps Config fields to their secret-store lookup names.
// Canonical names are tried first, then the legacy aliases carried over from
// earlier releases.
var credentialKeys = []struct {
	canonical string
	legacy    string
	assign    func(*Config, string)
}{
	{"oauth.client-id", "OAuthClientId", func(c *Config, v string) { c.ClientID = v }},
	{"oauth.client-secret", "OAuthClientSecret", func(c *Config, v string) { c.ClientSecret = v }},
	{"oauth.redirect-uri", "OAuthRedirectUri", func(c *Config, v string) { c.RedirectURI = v }},
	{"oauth.realm-id", "OAuthRealmId", func(c *Config, v string) { c.RealmID = v }},
	{"oauth.environment", "OAuthEnvironment", func(c *Config, v string) { c.Environment = v }},
}

// Resolver assembles the OAuth configuration from the prioritized chain:
// secret store (canonical name, then legacy alias) over environment
// variables (primary name, then alias) over the static fallback. The first
// successful resolution is memoized; failures are not, so a later call can
// succeed once the environment is fixed.
type Resolver struct {
	mu       sync.Mutex
	secrets  secrets.Store
	static   Config
	prefix   string
	resolved *Config
}

// NewResolver creates a Resolver. store may be nil when no vault is
// available; static supplies the lowest-priority fallback values.
func NewResolver(store secrets.Store, static Config) *Resolver {
	return &Resolver{secrets: store, static: static, prefix: "AUTHKIT_"}
}

// Resolve runs the resolution chain once and validates the result. Repeat
// calls return the cached configuration.
func (r *Resolver) Resolve(ctx context.Context) (*Config, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.resolved != nil {
		return r.resolved, nil
	}

	cfg := r.static
	if err := config.Load(&cfg, config.LoadOptions{Prefix: r.prefix}); err != nil {
		return nil, &Error{Kind: KindConfiguration, Op: "resolve", Err: err}
	}

	// Secret store values take priority over everything else
	if r.secrets != nil {
		for _, key := range credentialKeys {
			v, ok, err := r.secrets.Get(ctx, key.canonical)
			if err != nil {
				return nil, &Error{Kind: KindConfiguration, Op: "resolve", Err: fmt.Errorf("secret %s: %w", key.canonical, err)}
			}
			if !ok {
				v, ok, err = r.secrets.Get(ctx, key.legacy)
				if err != nil {
					return nil, &Error{Kind: KindConfiguration, Op: "resolve", Err: fmt.Errorf("secret %s: %w", key.legacy, err)}
				}
			}
			if ok && v != "" {
				key.assign(&cfg, v)
			}
		}
	}

	applyEndpointDefaults(&cfg)

	if strings.TrimSpace(cfg.ClientID) == "" {
		return nil, &Error{Kind: KindConfiguration, Op: "resolve", Err: fmt.Errorf("client id missing after full resolution chain")}
	}
	if strings.TrimSpace(cfg.RedirectURI) == "" {
		return nil, &Error{Kind: KindConfiguration, Op: "resolve", Err: fmt.Errorf("redirect uri missing after full resolution chain")}
	}

	r.resolved = &cfg
	return r.resolved, nil
}

func applyEndpointDefaults(cfg *Config) {
	if cfg.AuthorizationURL == "" {
		cfg.AuthorizationURL = DefaultAuthorizationURL
	}
	if cfg.TokenURL == "" {
		cfg.TokenURL = DefaultTokenURL
	}
	if cfg.RevokeURL == "" {
		cfg.RevokeURL = DefaultRevokeURL
	}
	if len(cfg.Scopes) == 0 {
		cfg.Scopes = []string{"com.intuit.quickbooks.accounting"}
	}
	if cfg.TokenExpiryBuffer <= 0 {
		cfg.TokenExpiryBuffer = DefaultExpiryBuffer
	}
	if cfg.StateGenerator == "" {
		cfg.StateGenerator = "secure"
	}
}
