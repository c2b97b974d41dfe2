package server

import "net/http"

// Error codes returned by the token and resource endpoints.
const (
	ErrCodeInvalidClient        = "invalid_client"
	ErrCodeInvalidGrant         = "invalid_grant"
	ErrCodeUnsupportedGrantType = "unsupported_grant_type"
	ErrCodeInvalidAccessToken   = "invalid_access_token"
)

// AuthError is the distinguished protocol failure. It carries the
// key/value payload rendered verbatim to the caller; the HTTP layer
// translates it into a JSON response at the outermost boundary.
type AuthError struct {
	Status int
	Data   map[string]string
}

func (e *AuthError) Error() string {
	if code, ok := e.Data["error"]; ok {
		return code
	}
	return "auth error"
}

// NewAuthError builds a 400 AuthError with the given error code.
func NewAuthError(code string) *AuthError {
	return &AuthError{
		Status: http.StatusBadRequest,
		Data:   map[string]string{"error": code},
	}
}

// ErrInvalidClient signals failed client authentication.
func ErrInvalidClient() *AuthError { return NewAuthError(ErrCodeInvalidClient) }

// ErrInvalidGrant signals credentials, a refresh token, or an
// authorization code that did not resolve.
func ErrInvalidGrant() *AuthError { return NewAuthError(ErrCodeInvalidGrant) }

// ErrUnsupportedGrantType signals an unrecognized grant_type value.
func ErrUnsupportedGrantType() *AuthError { return NewAuthError(ErrCodeUnsupportedGrantType) }

// ErrInvalidAccessToken signals failed bearer-token resolution on a
// protected resource.
func ErrInvalidAccessToken() *AuthError { return NewAuthError(ErrCodeInvalidAccessToken) }
