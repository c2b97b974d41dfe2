package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type testEnv struct {
	app    *App
	srv    *httptest.Server
	client *Client
	user   *User
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := DefaultConfig()

	logger := testLogger()
	app, err := NewApp(cfg, logger)
	require.NoError(t, err)

	client, err := app.Clients.Register("app1")
	require.NoError(t, err)
	user, err := app.Users.Create("alice", "hunter2")
	require.NoError(t, err)

	srv := httptest.NewServer(app.Routes())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = app.Close() })

	return &testEnv{app: app, srv: srv, client: client, user: user}
}

func (e *testEnv) postToken(t *testing.T, form url.Values) (int, map[string]any) {
	t.Helper()
	resp, err := http.PostForm(e.srv.URL+"/token", form)
	require.NoError(t, err)
	defer resp.Body.Close()

	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestTokenEndpointInvalidClient(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.postToken(t, url.Values{
		"grant_type":    {"password"},
		"client_id":     {env.client.UUID},
		"client_secret": {"wrong"},
		"username":      {"alice"},
		"password":      {"hunter2"},
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, ErrCodeInvalidClient, body["error"])
	require.NotContains(t, body, "access_token")
}

func TestTokenEndpointPasswordGrant(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.postToken(t, url.Values{
		"grant_type":    {"password"},
		"client_id":     {env.client.UUID},
		"client_secret": {env.client.Secret},
		"username":      {"alice"},
		"password":      {"hunter2"},
		"scope":         {"read"},
	})
	require.Equal(t, http.StatusOK, status)
	require.Equal(t, "bearer", body["token_type"])
	require.NotEmpty(t, body["access_token"])
	require.NotEmpty(t, body["refresh_token"])
	require.NotEmpty(t, body["expires_at"])
	require.NotEmpty(t, body["created_at"])
	require.Equal(t, "read", body["scope"])
	require.InDelta(t, DefaultAccessTokenExpiresIn, body["expires_in"], 5)
}

func TestTokenEndpointPasswordGrantBadCredentials(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.postToken(t, url.Values{
		"grant_type":    {"password"},
		"client_id":     {env.client.UUID},
		"client_secret": {env.client.Secret},
		"username":      {"alice"},
		"password":      {"nope"},
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, ErrCodeInvalidGrant, body["error"])
}

func TestTokenEndpointBasicAuth(t *testing.T) {
	env := newTestEnv(t)

	form := url.Values{
		"grant_type": {"password"},
		"username":   {"alice"},
		"password":   {"hunter2"},
	}
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/token", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(env.client.UUID, env.client.Secret)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestTokenEndpointBasicAuthPrecedence(t *testing.T) {
	env := newTestEnv(t)

	// Valid form credentials must not rescue a bad Basic header.
	form := url.Values{
		"grant_type":    {"password"},
		"client_id":     {env.client.UUID},
		"client_secret": {env.client.Secret},
		"username":      {"alice"},
		"password":      {"hunter2"},
	}
	req, err := http.NewRequest(http.MethodPost, env.srv.URL+"/token", strings.NewReader(form.Encode()))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.SetBasicAuth(env.client.UUID, "wrong")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTokenEndpointRefreshGrant(t *testing.T) {
	env := newTestEnv(t)

	token, err := env.app.Tokens.Generate(env.client, env.user, "read")
	require.NoError(t, err)

	status, body := env.postToken(t, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {env.client.UUID},
		"client_secret": {env.client.Secret},
		"refresh_token": {token.RefreshToken},
	})
	require.Equal(t, http.StatusOK, status)
	// Fresh token: rotation is a no-op, both values unchanged.
	require.Equal(t, token.AccessToken, body["access_token"])
	require.Equal(t, token.RefreshToken, body["refresh_token"])

	status, body = env.postToken(t, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {env.client.UUID},
		"client_secret": {env.client.Secret},
		"refresh_token": {"bogus"},
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, ErrCodeInvalidGrant, body["error"])
}

func TestTokenEndpointAuthorizationCodeGrant(t *testing.T) {
	env := newTestEnv(t)

	grant, err := env.app.Grants.Generate(env.client, env.user, "read")
	require.NoError(t, err)

	form := url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {env.client.UUID},
		"client_secret": {env.client.Secret},
		"code":          {grant.Code},
	}
	status, body := env.postToken(t, form)
	require.Equal(t, http.StatusOK, status)
	require.NotEmpty(t, body["access_token"])
	require.Equal(t, "read", body["scope"])

	// The code is single-use: a replay fails and the grant is gone.
	status, body = env.postToken(t, form)
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, ErrCodeInvalidGrant, body["error"])

	found, err := env.app.Grants.FindWithCodeForClient(env.client, grant.Code)
	require.NoError(t, err)
	require.Nil(t, found)
}

func TestTokenEndpointAuthorizationCodeWrongClient(t *testing.T) {
	env := newTestEnv(t)

	other, err := env.app.Clients.Register("app2")
	require.NoError(t, err)
	grant, err := env.app.Grants.Generate(env.client, env.user, "")
	require.NoError(t, err)

	status, body := env.postToken(t, url.Values{
		"grant_type":    {"authorization_code"},
		"client_id":     {other.UUID},
		"client_secret": {other.Secret},
		"code":          {grant.Code},
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, ErrCodeInvalidGrant, body["error"])
}

func TestTokenEndpointUnsupportedGrantType(t *testing.T) {
	env := newTestEnv(t)

	status, body := env.postToken(t, url.Values{
		"grant_type":    {"client_credentials"},
		"client_id":     {env.client.UUID},
		"client_secret": {env.client.Secret},
	})
	require.Equal(t, http.StatusBadRequest, status)
	require.Equal(t, ErrCodeUnsupportedGrantType, body["error"])
}

func TestUserInfoBearerPath(t *testing.T) {
	env := newTestEnv(t)

	token, err := env.app.Tokens.Generate(env.client, env.user, "read")
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/userinfo", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var info UserInfo
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&info))
	require.Equal(t, env.user.ID, info.ID)
	require.Equal(t, "alice", info.Username)
	require.Equal(t, env.client.UUID, info.ClientID)
	require.Equal(t, "read", info.Scope)
}

func TestUserInfoInvalidAccessToken(t *testing.T) {
	env := newTestEnv(t)

	for _, header := range []string{"", "Bearer bogus", "Basic abc"} {
		req, err := http.NewRequest(http.MethodGet, env.srv.URL+"/userinfo", nil)
		require.NoError(t, err)
		if header != "" {
			req.Header.Set("Authorization", header)
		}

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		var body map[string]any
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
		resp.Body.Close()

		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		require.Equal(t, ErrCodeInvalidAccessToken, body["error"])
	}
}

func TestRegisterClientEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp, err := http.PostForm(env.srv.URL+"/clients", url.Values{"name": {"new-app"}})
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var body ClientResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	require.Len(t, body.UUID, 36)
	require.Len(t, body.Secret, 32)
	require.Equal(t, "new-app", body.Name)
}

func TestSeededClientsAndUsers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Clients = []ClientConfig{{UUID: "seeded-uuid", Secret: "seeded-secret", Name: "seeded", AccessTokenExpiresIn: 60}}
	cfg.Users = []UserConfig{{Username: "bob", Password: "pass123", PersistentToken: "keepme"}}

	app, err := NewApp(cfg, testLogger())
	require.NoError(t, err)
	defer app.Close()

	client, err := app.Clients.Authenticate("seeded-uuid", "seeded-secret")
	require.NoError(t, err)
	require.NotNil(t, client)
	require.Equal(t, 60, client.ExpiresIn())

	user, err := app.Users.Authenticate("bob", "pass123")
	require.NoError(t, err)
	require.NotNil(t, user)

	user, err = app.Users.Authenticate("bob", "keepme")
	require.NoError(t, err)
	require.NotNil(t, user)
}
