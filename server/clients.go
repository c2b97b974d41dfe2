package server

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// ClientRegistry owns client identity and authentication.
type ClientRegistry struct {
	store  ClientStore
	logger *slog.Logger
}

// NewClientRegistry builds the registry over a client store.
func NewClientRegistry(store ClientStore, logger *slog.Logger) *ClientRegistry {
	return &ClientRegistry{store: store, logger: logger}
}

// Register creates a client with a fresh UUID and a fresh high-entropy
// secret and persists it. Names are not required to be unique.
func (cr *ClientRegistry) Register(name string) (*Client, error) {
	client := &Client{
		ID:                   RandomHex(12),
		UUID:                 uuid.NewString(),
		Secret:               RandomHex(16),
		Name:                 name,
		AccessTokenExpiresIn: DefaultAccessTokenExpiresIn,
		CreatedAt:            time.Now(),
	}
	if err := cr.store.SaveClient(client); err != nil {
		return nil, fmt.Errorf("save client: %w", err)
	}
	cr.logger.Info("client registered", "client_uuid", client.UUID, "name", name)
	return client, nil
}

// FindByUUID looks a client up by its public identifier, falling back to
// the storage key for legacy records that predate UUIDs.
func (cr *ClientRegistry) FindByUUID(id string) (*Client, error) {
	client, err := cr.store.ClientByUUID(id)
	if err != nil {
		return nil, err
	}
	if client != nil {
		return client, nil
	}
	return cr.store.ClientByID(id)
}

// Authenticate resolves a client by id and verifies its secret. It returns
// (nil, nil) on any mismatch; storage faults are the only error case.
func (cr *ClientRegistry) Authenticate(id, secret string) (*Client, error) {
	if id == "" {
		return nil, nil
	}
	client, err := cr.FindByUUID(id)
	if err != nil {
		return nil, err
	}
	if client == nil || !SecureCompare(client.Secret, secret) {
		return nil, nil
	}
	return client, nil
}
