package server

import (
	"fmt"
	"log/slog"
	"time"
)

// UserDirectory is the resource-owner collaborator consumed by the token
// endpoint: credential verification plus principal lookup.
type UserDirectory struct {
	store  UserStore
	logger *slog.Logger
}

// NewUserDirectory builds the directory over a user store.
func NewUserDirectory(store UserStore, logger *slog.Logger) *UserDirectory {
	return &UserDirectory{store: store, logger: logger}
}

// Create registers a user with the given password and persists it.
func (ud *UserDirectory) Create(username, password string) (*User, error) {
	user := &User{
		ID:        RandomHex(12),
		Username:  username,
		CreatedAt: time.Now(),
	}
	if err := user.SetPassword(password); err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	if err := ud.store.SaveUser(user); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	return user, nil
}

// Authenticate resolves a user by username and verifies the presented
// secret through the three-way credential fallback. Returns (nil, nil)
// when the user is unknown or the secret does not verify.
func (ud *UserDirectory) Authenticate(username, secret string) (*User, error) {
	user, err := ud.store.UserByUsername(username)
	if err != nil {
		return nil, err
	}
	if user == nil || !user.Authenticated(secret) {
		return nil, nil
	}
	return user, nil
}

// FindByID resolves a principal by its stable identifier.
func (ud *UserDirectory) FindByID(id string) (*User, error) {
	return ud.store.UserByID(id)
}

// FindByPerishableToken resolves a user holding an unexpired perishable
// token, for confirmation-link style flows.
func (ud *UserDirectory) FindByPerishableToken(token string) (*User, error) {
	if token == "" {
		return nil, nil
	}
	return ud.store.UserByPerishableToken(token)
}

// ResetPerishableToken assigns the user a fresh perishable token and
// persists it, returning the new token value.
func (ud *UserDirectory) ResetPerishableToken(user *User) (string, error) {
	user.ResetPerishableToken()
	if err := ud.store.SaveUser(user); err != nil {
		return "", fmt.Errorf("save user: %w", err)
	}
	return user.PerishableToken, nil
}
