package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
)

// App bundles runtime dependencies for the HTTP service.
type App struct {
	Config  Config
	Logger  *slog.Logger
	Models  Models
	Clients *ClientRegistry
	Grants  *GrantService
	Tokens  *TokenService
	Users   *UserDirectory

	closer func() error
}

// NewApp wires together the application state from configuration.
func NewApp(cfg Config, logger *slog.Logger) (*App, error) {
	var models Models
	closer := func() error { return nil }

	switch cfg.Storage.Backend {
	case "", StorageMemory:
		models = NewMemoryStore().Stores()
	case StorageBolt:
		store, err := OpenBoltStore(cfg.Storage.Path)
		if err != nil {
			return nil, err
		}
		models = store.Stores()
		closer = store.Close
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Storage.Backend)
	}

	app := &App{
		Config:  cfg,
		Logger:  logger,
		Models:  models,
		Clients: NewClientRegistry(models.Clients, logger),
		Grants:  NewGrantService(models.Grants, logger),
		Tokens:  NewTokenService(models.Tokens, logger),
		Users:   NewUserDirectory(models.Users, logger),
		closer:  closer,
	}

	if err := app.seed(); err != nil {
		_ = closer()
		return nil, err
	}
	return app, nil
}

// Close releases storage resources.
func (a *App) Close() error {
	return a.closer()
}

// seed loads configured clients and users into the store. Existing records
// with the same storage key are overwritten, so config stays authoritative
// across restarts of persistent backends.
func (a *App) seed() error {
	for _, cc := range a.Config.Clients {
		client := &Client{
			ID:                   cc.UUID,
			UUID:                 cc.UUID,
			Secret:               cc.Secret,
			Name:                 cc.Name,
			AccessTokenExpiresIn: cc.AccessTokenExpiresIn,
			RedirectURI:          cc.RedirectURI,
		}
		if err := a.Models.Clients.SaveClient(client); err != nil {
			return fmt.Errorf("seed client %q: %w", cc.Name, err)
		}
	}
	for _, uc := range a.Config.Users {
		user := &User{ID: uc.ID, Username: uc.Username, PersistentToken: uc.PersistentToken}
		if user.ID == "" {
			user.ID = RandomHex(12)
		}
		if err := user.SetPassword(uc.Password); err != nil {
			return fmt.Errorf("seed user %q: %w", uc.Username, err)
		}
		if err := a.Models.Users.SaveUser(user); err != nil {
			return fmt.Errorf("seed user %q: %w", uc.Username, err)
		}
	}
	return nil
}

// handleToken runs the single-pass token state machine: authenticate the
// client, dispatch on grant_type, respond with the canonical payload or a
// structured error.
func (a *App) handleToken(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.renderError(w, &AuthError{Status: http.StatusBadRequest, Data: map[string]string{"error": "invalid_request"}})
		return
	}

	token, err := a.token(r)
	if err != nil {
		a.renderError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, token.ToAPI())
}

func (a *App) token(r *http.Request) (*Token, error) {
	client, err := a.authenticateClient(r)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, ErrInvalidClient()
	}

	switch grantType := r.FormValue("grant_type"); grantType {
	case "password":
		return a.passwordGrant(r, client)
	case "refresh_token":
		return a.refreshGrant(r, client)
	case "authorization_code":
		return a.authorizationCodeGrant(r, client)
	default:
		return nil, ErrUnsupportedGrantType()
	}
}

// authenticateClient accepts credentials via HTTP Basic or, when no Basic
// header is present, the client_id/client_secret form parameters.
func (a *App) authenticateClient(r *http.Request) (*Client, error) {
	id, secret, ok := r.BasicAuth()
	if !ok {
		id = r.FormValue("client_id")
		secret = r.FormValue("client_secret")
	}
	return a.Clients.Authenticate(id, secret)
}

func (a *App) passwordGrant(r *http.Request, client *Client) (*Token, error) {
	username := r.FormValue("username")
	password := r.FormValue("password")
	scope := r.FormValue("scope")

	user, err := a.Users.Authenticate(username, password)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidGrant()
	}
	return a.Tokens.Generate(client, user, scope)
}

func (a *App) refreshGrant(r *http.Request, client *Client) (*Token, error) {
	token, err := a.Tokens.Refresh(client, r.FormValue("refresh_token"))
	if err != nil {
		return nil, err
	}
	if token == nil {
		return nil, ErrInvalidGrant()
	}
	return token, nil
}

func (a *App) authorizationCodeGrant(r *http.Request, client *Client) (*Token, error) {
	grant, err := a.Grants.FindWithCodeForClient(client, r.FormValue("code"))
	if err != nil {
		return nil, err
	}
	if grant == nil {
		return nil, ErrInvalidGrant()
	}

	user, err := a.Users.FindByID(grant.ResourceOwnerID)
	if err != nil {
		return nil, err
	}
	if user == nil {
		return nil, ErrInvalidGrant()
	}

	token, err := a.Tokens.Generate(client, user, grant.Scope)
	if err != nil {
		return nil, err
	}
	if err := a.Grants.Redeem(grant); err != nil {
		return nil, err
	}
	return token, nil
}

// handleRegisterClient creates a client and returns it including the
// secret, which is shown exactly once.
func (a *App) handleRegisterClient(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		a.renderError(w, &AuthError{Status: http.StatusBadRequest, Data: map[string]string{"error": "invalid_request"}})
		return
	}
	name := r.FormValue("name")
	if name == "" {
		a.renderError(w, &AuthError{Status: http.StatusBadRequest, Data: map[string]string{"error": "invalid_request", "error_description": "name required"}})
		return
	}

	client, err := a.Clients.Register(name)
	if err != nil {
		a.renderError(w, err)
		return
	}
	resp := client.ToAPI()
	resp.Secret = client.Secret
	writeJSON(w, http.StatusCreated, resp)
}

// handleUserInfo renders the principal bound to the presented bearer
// token. It sits behind RequireBearer.
func (a *App) handleUserInfo(w http.ResponseWriter, r *http.Request) {
	token := TokenFromContext(r.Context())
	if token == nil {
		a.renderError(w, ErrInvalidAccessToken())
		return
	}

	info := UserInfo{
		ID:       token.ResourceOwnerID,
		ClientID: token.ClientID,
		Scope:    token.Scope,
	}
	user, err := a.Users.FindByID(token.ResourceOwnerID)
	if err != nil {
		a.renderError(w, err)
		return
	}
	if user != nil {
		info.Username = user.Username
	}
	writeJSON(w, http.StatusOK, info)
}

func (a *App) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// renderError translates an AuthError into its JSON payload and anything
// else into an opaque server_error. Internal detail never reaches the
// caller.
func (a *App) renderError(w http.ResponseWriter, err error) {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		writeJSON(w, authErr.Status, authErr.Data)
		return
	}
	a.Logger.Error("internal error", "error", err)
	writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func extractBearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
