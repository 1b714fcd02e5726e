package oauth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMemoryTokenStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTokenStore(0, nil)

	assert.Nil(t, store.Get(ctx))

	tok := &Token{
		AccessToken:          "AT1",
		RefreshToken:         "RT1",
		AccessTokenExpiresAt: time.Now().Add(time.Hour),
	}
	store.Save(ctx, tok)

	got := store.Get(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "AT1", got.AccessToken)

	store.Clear(ctx)
	assert.Nil(t, store.Get(ctx))
}

func TestMemoryTokenStoreRejectsAndLogsInvalidToken(t *testing.T) {
	ctx := context.Background()
	core, logs := observer.New(zap.WarnLevel)
	store := NewMemoryTokenStore(0, zap.New(core))

	good := &Token{
		AccessToken:          "AT1",
		AccessTokenExpiresAt: time.Now().Add(time.Hour),
	}
	store.Save(ctx, good)

	// An expired replacement is rejected, logged, and leaves the current
	// token untouched.
	store.Save(ctx, &Token{
		AccessToken:          "expired",
		AccessTokenExpiresAt: time.Now().Add(-time.Minute),
	})

	got := store.Get(ctx)
	require.NotNil(t, got)
	assert.Equal(t, "AT1", got.AccessToken)
	assert.Equal(t, 1, logs.FilterMessage("rejecting invalid token, not saving").Len())
}

func TestMemoryTokenStoreRefreshTokenValue(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryTokenStore(0, nil)

	assert.Empty(t, store.RefreshTokenValue(ctx))

	store.Save(ctx, &Token{
		AccessToken:          "AT1",
		RefreshToken:         "RT1",
		AccessTokenExpiresAt: time.Now().Add(time.Hour),
	})
	assert.Equal(t, "RT1", store.RefreshTokenValue(ctx))
}
