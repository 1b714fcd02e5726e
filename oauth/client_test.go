package oauth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ledgerdesk/authkit/resilience"
)

func newTestClient(t *testing.T, server *httptest.Server) *Client {
	t.Helper()

	cfg := &Config{
		ClientID:          "test-client-id",
		ClientSecret:      "test-client-secret",
		RedirectURI:       "http://localhost:8080/callback",
		AuthorizationURL:  "https://provider.example.com/connect/oauth2",
		TokenURL:          server.URL + "/tokens/bearer",
		RevokeURL:         server.URL + "/tokens/revoke",
		Scopes:            []string{"com.intuit.quickbooks.accounting"},
		RealmID:           "9341453",
		TokenExpiryBuffer: DefaultExpiryBuffer,
		StateGenerator:    "secure",
	}

	pipeline, err := resilience.New(t.Name(), resilience.Options{
		Timeout:       2 * time.Second,
		RetryInterval: time.Millisecond,
		ShouldRetry:   IsRetryable,
	})
	require.NoError(t, err)

	client, err := NewClient(cfg, ClientOptions{
		HTTPClient: server.Client(),
		Pipeline:   pipeline,
	})
	require.NoError(t, err)
	return client
}

func writeTokenResponse(w http.ResponseWriter, accessToken, refreshToken string) {
	w.Header().Set("Content-Type", "application/json")
	resp := map[string]any{
		"access_token": accessToken,
		"token_type":   "bearer",
		"expires_in":   3600,
	}
	if refreshToken != "" {
		resp["refresh_token"] = refreshToken
		resp["x_refresh_token_expires_in"] = 8726400
	}
	json.NewEncoder(w).Encode(resp)
}

func TestAuthorizationURL(t *testing.T) {
	client := newTestClient(t, httptest.NewServer(http.NotFoundHandler()))

	raw, err := client.AuthorizationURL(context.Background())
	require.NoError(t, err)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	q := u.Query()

	assert.Equal(t, "test-client-id", q.Get("client_id"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Equal(t, "com.intuit.quickbooks.accounting", q.Get("scope"))
	assert.Equal(t, "http://localhost:8080/callback", q.Get("redirect_uri"))
	assert.NotEmpty(t, q.Get("state"))

	// The state embedded in the URL is the one the callback must echo.
	assert.True(t, client.ValidateState(q.Get("state")))
}

func TestExchange(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "/tokens/bearer", r.URL.Path)
		assert.Equal(t, "authorization_code", r.PostForm.Get("grant_type"))
		assert.Equal(t, "abc123", r.PostForm.Get("code"))
		assert.Equal(t, "http://localhost:8080/callback", r.PostForm.Get("redirect_uri"))

		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "test-client-id", user)
		assert.Equal(t, "test-client-secret", pass)

		writeTokenResponse(w, "AT1", "RT1")
	}))
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	token, err := client.Exchange(ctx, "abc123")
	require.NoError(t, err)

	assert.Equal(t, "AT1", token.AccessToken)
	assert.Equal(t, "RT1", token.RefreshToken)
	assert.Equal(t, TokenTypeBearer, token.TokenType)
	assert.True(t, token.Valid())
	assert.True(t, token.Refreshable())

	// The exchanged token is cached and the realm mirrored from config.
	cached := client.Store().Get(ctx)
	require.NotNil(t, cached)
	assert.Equal(t, "AT1", cached.AccessToken)
	assert.Equal(t, "9341453", client.Store().RealmID())
}

func TestExchangeBlankCode(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer server.Close()

	client := newTestClient(t, server)

	_, err := client.Exchange(context.Background(), "   ")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.Zero(t, hits.Load())
}

func TestExchangeProviderRejection(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server)

	_, err := client.Exchange(context.Background(), "expired-code")
	require.Error(t, err)

	var oe *Error
	require.ErrorAs(t, err, &oe)
	assert.Equal(t, KindPermanentProvider, oe.Kind)
	assert.Equal(t, http.StatusBadRequest, oe.StatusCode)
	assert.Contains(t, oe.Body, "invalid_grant")
}

func TestRefreshRotation(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "RT1", r.PostForm.Get("refresh_token"))
		writeTokenResponse(w, "AT2", "RT2")
	}))
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	token, err := client.Refresh(ctx, "RT1")
	require.NoError(t, err)

	assert.Equal(t, "AT2", token.AccessToken)
	assert.Equal(t, "RT2", token.RefreshToken, "rotated refresh token replaces the old one")
	assert.Equal(t, TokenTypeBearer, token.TokenType, "provider casing is normalized")

	cached := client.Store().Get(ctx)
	require.NotNil(t, cached)
	assert.Equal(t, "RT2", cached.RefreshToken)
}

func TestRefreshCarriesTokenForward(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// No refresh_token in the response: the current one stays live.
		writeTokenResponse(w, "AT2", "")
	}))
	defer server.Close()

	client := newTestClient(t, server)

	token, err := client.Refresh(context.Background(), "RT1")
	require.NoError(t, err)

	assert.Equal(t, "AT2", token.AccessToken)
	assert.Equal(t, "RT1", token.RefreshToken, "absent refresh token carries the old one forward")
}

func TestRefreshTerminalRejectionClearsToken(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":"invalid_grant"}`, http.StatusBadRequest)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	// Seed a cached token that the failed refresh must clear.
	client.Store().Save(ctx, &Token{
		AccessToken:          "stale",
		RefreshToken:         "RT1",
		AccessTokenExpiresAt: time.Now().Add(time.Hour),
	})

	_, err := client.Refresh(ctx, "RT1")
	require.Error(t, err)
	assert.Equal(t, KindPermanentProvider, KindOf(err))

	assert.Equal(t, int32(1), hits.Load(), "HTTP 400 is terminal, never retried")
	assert.Nil(t, client.Store().Get(ctx), "terminal rejection clears the cached token")
}

func TestRefreshRetriesTransientFailures(t *testing.T) {
	var hits atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) <= 2 {
			http.Error(w, "upstream unavailable", http.StatusServiceUnavailable)
			return
		}
		writeTokenResponse(w, "AT2", "RT2")
	}))
	defer server.Close()

	client := newTestClient(t, server)

	token, err := client.Refresh(context.Background(), "RT1")
	require.NoError(t, err)
	assert.Equal(t, "AT2", token.AccessToken)
	assert.Equal(t, int32(3), hits.Load())
}

func TestRefreshBlankToken(t *testing.T) {
	client := newTestClient(t, httptest.NewServer(http.NotFoundHandler()))

	_, err := client.Refresh(context.Background(), "")
	require.Error(t, err)
	assert.Equal(t, KindValidation, KindOf(err))
	assert.ErrorIs(t, err, ErrNoRefreshToken)
}

func TestRevoke(t *testing.T) {
	var revoked atomic.Value
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/tokens/revoke", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		revoked.Store(body["token"])
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	client.Store().Save(ctx, &Token{
		AccessToken:          "AT1",
		RefreshToken:         "RT1",
		AccessTokenExpiresAt: time.Now().Add(time.Hour),
	})

	require.NoError(t, client.Revoke(ctx))
	assert.Equal(t, "RT1", revoked.Load())
	assert.Nil(t, client.Store().Get(ctx))
}

func TestRevokeClearsLocallyOnRemoteFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	client.Store().Save(ctx, &Token{
		AccessToken:          "AT1",
		RefreshToken:         "RT1",
		AccessTokenExpiresAt: time.Now().Add(time.Hour),
	})

	err := client.Revoke(ctx)
	require.Error(t, err)

	// The user asked to disconnect; local state goes regardless.
	assert.Nil(t, client.Store().Get(ctx))
}

func TestRevokeWithoutToken(t *testing.T) {
	client := newTestClient(t, httptest.NewServer(http.NotFoundHandler()))
	assert.NoError(t, client.Revoke(context.Background()))
}

func TestRefreshCircuitOpens(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := newTestClient(t, server)
	ctx := context.Background()

	// Burn enough failures to trip the breaker.
	for i := 0; i < 3; i++ {
		_, err := client.Refresh(ctx, "RT1")
		require.Error(t, err)
	}

	require.True(t, client.Pipeline().IsOpen())

	_, err := client.Refresh(ctx, "RT1")
	require.Error(t, err)
	assert.Equal(t, KindCircuitOpen, KindOf(err))
}
