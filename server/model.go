package server

import "time"

// Client records an API consumer and its token policy. The JSON tags are
// the storage encoding; responses go through ClientResponse, which never
// carries the secret.
type Client struct {
	ID                   string    `json:"id"`
	UUID                 string    `json:"uuid"`
	Secret               string    `json:"secret"`
	Name                 string    `json:"name"`
	RedirectURI          string    `json:"redirect_uri,omitempty"`
	AccessTokenExpiresIn int       `json:"access_token_expires_in"`
	CreatedAt            time.Time `json:"created_at"`
}

// ClientResponse is the API rendering of a client. Secret is set only in
// the registration response, where the caller sees it exactly once.
type ClientResponse struct {
	UUID                 string `json:"uuid"`
	Name                 string `json:"name"`
	Secret               string `json:"secret,omitempty"`
	AccessTokenExpiresIn int    `json:"access_token_expires_in"`
}

// ToAPI renders the client without its secret.
func (c *Client) ToAPI() ClientResponse {
	return ClientResponse{
		UUID:                 c.UUID,
		Name:                 c.Name,
		AccessTokenExpiresIn: c.ExpiresIn(),
	}
}

// ExpiresIn returns the client's access token lifetime in seconds,
// falling back to the default when unset.
func (c *Client) ExpiresIn() int {
	if c.AccessTokenExpiresIn <= 0 {
		return DefaultAccessTokenExpiresIn
	}
	return c.AccessTokenExpiresIn
}

// Grant is a short-lived, single-use authorization code bound to a
// (client, resource owner, scope) triple.
type Grant struct {
	Code            string    `json:"code"`
	ClientID        string    `json:"client_id"`
	ResourceOwnerID string    `json:"resource_owner_id"`
	Scope           string    `json:"scope"`
	CreatedAt       time.Time `json:"created_at"`
}

// Expired reports whether the grant is outside its redemption window.
func (g *Grant) Expired() bool {
	return time.Since(g.CreatedAt) > GrantTTL
}

// Token is an access/refresh token pair bound to a (client, resource owner)
// relationship. AccessToken and ExpiresAt change on rotation; RefreshToken
// is assigned once at creation and stays stable.
type Token struct {
	ID              string    `json:"id"`
	AccessToken     string    `json:"access_token"`
	RefreshToken    string    `json:"refresh_token"`
	ClientID        string    `json:"client_id"`
	ResourceOwnerID string    `json:"resource_owner_id"`
	Scope           string    `json:"scope"`
	ExpiresAt       time.Time `json:"expires_at"`
	CreatedAt       time.Time `json:"created_at"`
}

// AccessTokenValid reports whether the access token is unexpired right now.
func (t *Token) AccessTokenValid() bool {
	return t.ExpiresAt.After(time.Now())
}

// TokenResponse matches the OAuth token endpoint payload.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    string `json:"expires_at,omitempty"`
	CreatedAt    string `json:"created_at,omitempty"`
	RefreshToken string `json:"refresh_token"`
	Scope        string `json:"scope"`
}

// ToAPI renders the canonical token payload. ExpiresIn is computed at
// render time from the absolute expiry.
func (t *Token) ToAPI() TokenResponse {
	resp := TokenResponse{
		AccessToken:  t.AccessToken,
		TokenType:    "bearer",
		ExpiresIn:    int64(time.Until(t.ExpiresAt).Seconds()),
		RefreshToken: t.RefreshToken,
		Scope:        t.Scope,
	}
	if !t.ExpiresAt.IsZero() {
		resp.ExpiresAt = t.ExpiresAt.Format(time.RFC3339)
	}
	if !t.CreatedAt.IsZero() {
		resp.CreatedAt = t.CreatedAt.Format(time.RFC3339)
	}
	return resp
}

// User is the resource-owner principal. The credential fields support the
// three-way verification fallback: password digest (bcrypt, or the legacy
// iterated SHA-512 pair), persistent token, and time-boxed perishable
// token. JSON tags are the storage encoding; responses go through UserInfo.
type User struct {
	ID                       string    `json:"id"`
	Username                 string    `json:"username"`
	PasswordDigest           string    `json:"password_digest,omitempty"`
	CryptedPassword          string    `json:"crypted_password,omitempty"`
	PasswordSalt             string    `json:"password_salt,omitempty"`
	PersistentToken          string    `json:"persistent_token,omitempty"`
	PerishableToken          string    `json:"perishable_token,omitempty"`
	PerishableTokenExpiresAt time.Time `json:"perishable_token_expires_at,omitempty"`
	CreatedAt                time.Time `json:"created_at"`
}

// UserInfo is the API rendering of the principal resolved from a bearer
// token.
type UserInfo struct {
	ID       string `json:"id"`
	Username string `json:"username,omitempty"`
	ClientID string `json:"client_id"`
	Scope    string `json:"scope"`
}
