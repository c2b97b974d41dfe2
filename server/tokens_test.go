package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenGenerate(t *testing.T) {
	store := NewMemoryStore()
	tokens := NewTokenService(store, testLogger())
	client, user := testClientAndUser(t)

	token, err := tokens.Generate(client, user, "read")
	require.NoError(t, err)
	require.Len(t, token.AccessToken, 32)
	require.Len(t, token.RefreshToken, 32)
	require.Equal(t, client.UUID, token.ClientID)
	require.Equal(t, user.ID, token.ResourceOwnerID)
	require.Equal(t, "read", token.Scope)
	require.True(t, token.AccessTokenValid())

	resp := token.ToAPI()
	require.Equal(t, "bearer", resp.TokenType)
	require.InDelta(t, DefaultAccessTokenExpiresIn, resp.ExpiresIn, 5)
	require.NotEmpty(t, resp.ExpiresAt)
	require.NotEmpty(t, resp.CreatedAt)
	require.Equal(t, token.RefreshToken, resp.RefreshToken)
}

func TestTokenGenerateHonorsClientExpiresIn(t *testing.T) {
	store := NewMemoryStore()
	tokens := NewTokenService(store, testLogger())
	client := &Client{ID: "c1", UUID: "client-uuid", AccessTokenExpiresIn: 120}
	user := &User{ID: "u1"}

	token, err := tokens.Generate(client, user, "")
	require.NoError(t, err)
	require.WithinDuration(t, time.Now().Add(120*time.Second), token.ExpiresAt, 5*time.Second)
}

func TestRotateIsNoOpWhileFresh(t *testing.T) {
	store := NewMemoryStore()
	tokens := NewTokenService(store, testLogger())
	client, user := testClientAndUser(t)

	token, err := tokens.Generate(client, user, "")
	require.NoError(t, err)
	first := token.AccessToken

	require.NoError(t, tokens.Rotate(token, client.ExpiresIn()))
	require.Equal(t, first, token.AccessToken)

	require.NoError(t, tokens.Rotate(token, client.ExpiresIn()))
	require.Equal(t, first, token.AccessToken)
}

func TestRotateRegeneratesNearExpiry(t *testing.T) {
	store := NewMemoryStore()
	tokens := NewTokenService(store, testLogger())
	client, user := testClientAndUser(t)

	token, err := tokens.Generate(client, user, "")
	require.NoError(t, err)
	first := token.AccessToken

	// Persist a near-expiry state; Rotate re-reads before deciding.
	token.ExpiresAt = time.Now().Add(5 * time.Second)
	require.NoError(t, store.SaveToken(token))

	require.NoError(t, tokens.Rotate(token, client.ExpiresIn()))
	require.NotEqual(t, first, token.AccessToken)
	require.WithinDuration(t, time.Now().Add(time.Duration(client.ExpiresIn())*time.Second), token.ExpiresAt, 5*time.Second)
}

func TestRotateReloadsPersistedState(t *testing.T) {
	store := NewMemoryStore()
	tokens := NewTokenService(store, testLogger())
	client, user := testClientAndUser(t)

	token, err := tokens.Generate(client, user, "")
	require.NoError(t, err)

	// A stale in-memory copy claims the token is about to expire, but the
	// persisted record is still fresh; the rotation must observe the store.
	stale := *token
	stale.ExpiresAt = time.Now().Add(time.Second)
	require.NoError(t, tokens.Rotate(&stale, client.ExpiresIn()))
	require.Equal(t, token.AccessToken, stale.AccessToken)
}

func TestRefreshKeepsRefreshToken(t *testing.T) {
	store := NewMemoryStore()
	tokens := NewTokenService(store, testLogger())
	client, user := testClientAndUser(t)

	token, err := tokens.Generate(client, user, "read")
	require.NoError(t, err)
	refreshToken := token.RefreshToken
	accessToken := token.AccessToken

	// Inside the freshness window: access token unchanged too.
	refreshed, err := tokens.Refresh(client, refreshToken)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	require.Equal(t, refreshToken, refreshed.RefreshToken)
	require.Equal(t, accessToken, refreshed.AccessToken)

	// Near expiry: access token rotates, refresh token still stable.
	token.ExpiresAt = time.Now().Add(time.Second)
	require.NoError(t, store.SaveToken(token))
	refreshed, err = tokens.Refresh(client, refreshToken)
	require.NoError(t, err)
	require.NotNil(t, refreshed)
	require.Equal(t, refreshToken, refreshed.RefreshToken)
	require.NotEqual(t, accessToken, refreshed.AccessToken)
}

func TestRefreshUnknownTokenReturnsNil(t *testing.T) {
	tokens := NewTokenService(NewMemoryStore(), testLogger())
	client, _ := testClientAndUser(t)

	token, err := tokens.Refresh(client, "nope")
	require.NoError(t, err)
	require.Nil(t, token)
}

func TestRefreshScopedToClient(t *testing.T) {
	store := NewMemoryStore()
	tokens := NewTokenService(store, testLogger())
	client, user := testClientAndUser(t)

	token, err := tokens.Generate(client, user, "")
	require.NoError(t, err)

	other := &Client{ID: "c2", UUID: "other-uuid"}
	got, err := tokens.Refresh(other, token.RefreshToken)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestFindValidByAccessToken(t *testing.T) {
	store := NewMemoryStore()
	tokens := NewTokenService(store, testLogger())
	client, user := testClientAndUser(t)

	token, err := tokens.Generate(client, user, "")
	require.NoError(t, err)

	found, err := tokens.FindValidByAccessToken(token.AccessToken)
	require.NoError(t, err)
	require.NotNil(t, found)
	require.Equal(t, token.ID, found.ID)

	found, err = tokens.FindValidByAccessToken("unknown")
	require.NoError(t, err)
	require.Nil(t, found)

	found, err = tokens.FindValidByAccessToken("")
	require.NoError(t, err)
	require.Nil(t, found)

	token.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, store.SaveToken(token))
	found, err = tokens.FindValidByAccessToken(token.AccessToken)
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestCleanTokensRetentionBound(t *testing.T) {
	store := NewMemoryStore()
	tokens := NewTokenService(store, testLogger())
	client, user := testClientAndUser(t)

	var latest []string
	for i := 0; i < MaxTokensPerPair+5; i++ {
		token, err := tokens.Generate(client, user, "")
		require.NoError(t, err)
		latest = append(latest, token.ID)
	}
	latest = latest[len(latest)-MaxTokensPerPair:]

	remaining, err := store.TokensForPair(client.UUID, user.ID)
	require.NoError(t, err)
	require.Len(t, remaining, MaxTokensPerPair)

	ids := make([]string, len(remaining))
	for i, tok := range remaining {
		ids[i] = tok.ID
	}
	require.ElementsMatch(t, latest, ids)
}

func TestCleanTokensScopedToPair(t *testing.T) {
	store := NewMemoryStore()
	tokens := NewTokenService(store, testLogger())
	client, user := testClientAndUser(t)
	otherUser := &User{ID: "u2"}

	keep, err := tokens.Generate(client, otherUser, "")
	require.NoError(t, err)

	for i := 0; i < MaxTokensPerPair+5; i++ {
		_, err := tokens.Generate(client, user, "")
		require.NoError(t, err)
	}

	got, err := store.TokenByID(keep.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
}
