package server

import (
	"fmt"
	"log/slog"
	"time"
)

const (
	// DefaultAccessTokenExpiresIn is the access token lifetime in seconds
	// when the client carries no override.
	DefaultAccessTokenExpiresIn = 3600

	// RotateMargin is the freshness window: rotation regenerates the access
	// token only when expiry is unset or this close. Back-to-back refresh
	// calls inside the window are no-ops, so neither invalidates the
	// other's response.
	RotateMargin = 10 * time.Second

	// MaxTokensPerPair bounds how many tokens are retained per
	// (client, resource owner) pair.
	MaxTokensPerPair = 30
)

// TokenService owns the lifecycle of access/refresh token pairs.
type TokenService struct {
	store  TokenStore
	logger *slog.Logger
	events *EventReporter
}

// NewTokenService builds the service over a token store.
func NewTokenService(store TokenStore, logger *slog.Logger) *TokenService {
	return &TokenService{store: store, logger: logger, events: NewEventReporter(logger)}
}

// OnEvent registers a lifecycle event observer. Call before serving starts.
func (ts *TokenService) OnEvent(h EventHook) {
	ts.events.AddHook(h)
}

// Generate creates a token bound to the client and user, assigns a fresh
// refresh token, rotates in the initial access token and expiry, persists,
// then applies the retention sweep for the pair.
func (ts *TokenService) Generate(client *Client, user *User, scope string) (*Token, error) {
	token := &Token{
		ID:              RandomHex(12),
		ClientID:        client.UUID,
		ResourceOwnerID: user.ID,
		Scope:           scope,
		RefreshToken:    RandomHex(16),
		CreatedAt:       time.Now(),
	}
	if err := ts.Rotate(token, client.ExpiresIn()); err != nil {
		return nil, err
	}
	ts.events.Report("token", "generated", "client_uuid", client.UUID)

	ts.CleanTokens(client, user)
	return token, nil
}

// Rotate regenerates the access token and expiry when the token is about
// to expire, and is a no-op otherwise. The persisted state is re-read
// first so a concurrent refresh that already rotated is observed; the
// store offers no compare-and-swap, so under a true race the last write
// wins.
func (ts *TokenService) Rotate(token *Token, expiresIn int) error {
	if expiresIn <= 0 {
		expiresIn = DefaultAccessTokenExpiresIn
	}

	current, err := ts.store.TokenByID(token.ID)
	if err != nil {
		return fmt.Errorf("reload token: %w", err)
	}
	if current != nil {
		*token = *current
	}

	if token.ExpiresAt.IsZero() || time.Until(token.ExpiresAt) < RotateMargin {
		token.AccessToken = RandomHex(16)
		token.ExpiresAt = time.Now().Add(time.Duration(expiresIn) * time.Second)
		if err := ts.store.SaveToken(token); err != nil {
			return fmt.Errorf("save token: %w", err)
		}
	}
	return nil
}

// Refresh looks up the token for the client's presented refresh token and
// rotates its access token. It returns nil when no token matches; the
// refresh token itself is never regenerated.
func (ts *TokenService) Refresh(client *Client, refreshToken string) (*Token, error) {
	token, err := ts.store.TokenByRefreshToken(client.UUID, refreshToken)
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, nil
	}
	if err := ts.Rotate(token, client.ExpiresIn()); err != nil {
		return nil, err
	}
	ts.events.Report("token", "refreshed", "client_uuid", client.UUID)
	return token, nil
}

// FindValidByAccessToken resolves a bearer token. The store filters on
// expiry at query time and the result is re-checked against the clock, so
// a token sitting exactly on the boundary never resolves.
func (ts *TokenService) FindValidByAccessToken(accessToken string) (*Token, error) {
	if accessToken == "" {
		return nil, nil
	}
	token, err := ts.store.TokenByAccessToken(accessToken)
	if err != nil {
		return nil, err
	}
	if token == nil || !token.AccessTokenValid() {
		return nil, nil
	}
	return token, nil
}

// CleanTokens keeps only the most recent MaxTokensPerPair tokens for the
// (client, user) pair, deleting the rest oldest-first. Failures are logged
// and ignored.
func (ts *TokenService) CleanTokens(client *Client, user *User) {
	tokens, err := ts.store.TokensForPair(client.UUID, user.ID)
	if err != nil {
		ts.logger.Warn("clean tokens", "client_uuid", client.UUID, "error", err)
		return
	}
	if len(tokens) <= MaxTokensPerPair {
		return
	}
	for _, t := range tokens[:len(tokens)-MaxTokensPerPair] {
		if err := ts.store.DeleteToken(t.ID); err != nil {
			ts.logger.Warn("clean tokens delete", "token_id", t.ID, "error", err)
		}
	}
}
