package server

import (
	"fmt"
	"log/slog"
	"time"
)

// GrantTTL is the redemption window for authorization codes.
const GrantTTL = 10 * time.Minute

// GrantService owns the lifecycle of authorization codes.
type GrantService struct {
	store  GrantStore
	logger *slog.Logger
	events *EventReporter
}

// NewGrantService builds the service over a grant store.
func NewGrantService(store GrantStore, logger *slog.Logger) *GrantService {
	return &GrantService{store: store, logger: logger, events: NewEventReporter(logger)}
}

// OnEvent registers a lifecycle event observer. Call before serving starts.
func (gs *GrantService) OnEvent(h EventHook) {
	gs.events.AddHook(h)
}

// Generate creates a grant with a fresh opaque code bound to the client
// and user, persists it, then purges expired grants for the same pair.
func (gs *GrantService) Generate(client *Client, user *User, scope string) (*Grant, error) {
	grant := &Grant{
		Code:            RandomHex(16),
		ClientID:        client.UUID,
		ResourceOwnerID: user.ID,
		Scope:           scope,
		CreatedAt:       time.Now(),
	}
	if err := gs.store.SaveGrant(grant); err != nil {
		return nil, fmt.Errorf("save grant: %w", err)
	}

	gs.CleanGrants(client, user)
	return grant, nil
}

// CleanGrants deletes expired grants for the (client, user) pair. Failures
// are logged and ignored; this is housekeeping, not a security invariant.
func (gs *GrantService) CleanGrants(client *Client, user *User) {
	cutoff := time.Now().Add(-GrantTTL)
	if err := gs.store.DeleteExpiredGrants(client.UUID, user.ID, cutoff); err != nil {
		gs.logger.Warn("clean grants", "client_uuid", client.UUID, "error", err)
	}
}

// FindWithCodeForClient returns the grant matching the client and code, or
// nil when absent or expired.
func (gs *GrantService) FindWithCodeForClient(client *Client, code string) (*Grant, error) {
	grant, err := gs.store.GrantByCode(client.UUID, code)
	if err != nil {
		return nil, err
	}
	if grant == nil || grant.Expired() {
		return nil, nil
	}
	return grant, nil
}

// Redeem destroys a grant after a successful exchange so the code cannot
// be exchanged twice. A grant left behind here is a replay vulnerability,
// so a delete failure is a real error, not housekeeping.
func (gs *GrantService) Redeem(grant *Grant) error {
	if err := gs.store.DeleteGrant(grant.Code); err != nil {
		return fmt.Errorf("destroy grant: %w", err)
	}
	gs.events.Report("grant", "redeemed", "client_uuid", grant.ClientID)
	return nil
}
