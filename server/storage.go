package server

import (
	"sort"
	"sync"
	"time"
)

// Stores follow a shared convention: lookups return (nil, nil) when no
// record matches, and errors only for storage faults. Callers translate
// absent results into protocol errors.

// ClientStore persists API clients.
type ClientStore interface {
	SaveClient(c *Client) error
	ClientByUUID(uuid string) (*Client, error)
	ClientByID(id string) (*Client, error)
}

// GrantStore persists authorization codes.
type GrantStore interface {
	SaveGrant(g *Grant) error
	GrantByCode(clientUUID, code string) (*Grant, error)
	DeleteGrant(code string) error
	DeleteExpiredGrants(clientUUID, ownerID string, cutoff time.Time) error
}

// TokenStore persists access/refresh token pairs.
type TokenStore interface {
	SaveToken(t *Token) error
	TokenByID(id string) (*Token, error)
	// TokenByAccessToken returns only tokens whose expiry is in the future.
	TokenByAccessToken(accessToken string) (*Token, error)
	TokenByRefreshToken(clientUUID, refreshToken string) (*Token, error)
	// TokensForPair returns all tokens for a (client, owner) pair, oldest first.
	TokensForPair(clientUUID, ownerID string) ([]*Token, error)
	DeleteToken(id string) error
}

// UserStore persists resource-owner principals.
type UserStore interface {
	SaveUser(u *User) error
	UserByID(id string) (*User, error)
	UserByUsername(username string) (*User, error)
	UserByPerishableToken(token string) (*User, error)
}

// Models maps each logical role to its concrete store. It is built once at
// startup and read-only afterwards.
type Models struct {
	Clients ClientStore
	Grants  GrantStore
	Tokens  TokenStore
	Users   UserStore
}

// MemoryStore keeps all entities in process memory behind one lock.
// It is the default backend and the one used by most tests.
type MemoryStore struct {
	mu      sync.RWMutex
	clients map[string]*Client // keyed by ID
	grants  map[string]*Grant  // keyed by code
	tokens  map[string]*Token  // keyed by ID
	users   map[string]*User   // keyed by ID
	seq     map[string]int     // token ID -> insertion order, for stable retention sweeps
	nextSeq int
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		clients: make(map[string]*Client),
		grants:  make(map[string]*Grant),
		tokens:  make(map[string]*Token),
		users:   make(map[string]*User),
		seq:     make(map[string]int),
	}
}

// Stores returns the role mapping backed by this store.
func (s *MemoryStore) Stores() Models {
	return Models{Clients: s, Grants: s, Tokens: s, Users: s}
}

func (s *MemoryStore) SaveClient(c *Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *c
	s.clients[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) ClientByUUID(uuid string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, c := range s.clients {
		if c.UUID == uuid {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) ClientByID(id string) (*Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if c, ok := s.clients[id]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) SaveGrant(g *Grant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *g
	s.grants[cp.Code] = &cp
	return nil
}

func (s *MemoryStore) GrantByCode(clientUUID, code string) (*Grant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.grants[code]
	if !ok || g.ClientID != clientUUID {
		return nil, nil
	}
	cp := *g
	return &cp, nil
}

func (s *MemoryStore) DeleteGrant(code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.grants, code)
	return nil
}

func (s *MemoryStore) DeleteExpiredGrants(clientUUID, ownerID string, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for code, g := range s.grants {
		if g.ClientID == clientUUID && g.ResourceOwnerID == ownerID && g.CreatedAt.Before(cutoff) {
			delete(s.grants, code)
		}
	}
	return nil
}

func (s *MemoryStore) SaveToken(t *Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	if _, ok := s.seq[cp.ID]; !ok {
		s.nextSeq++
		s.seq[cp.ID] = s.nextSeq
	}
	s.tokens[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) TokenByID(id string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if t, ok := s.tokens[id]; ok {
		cp := *t
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) TokenByAccessToken(accessToken string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	for _, t := range s.tokens {
		if t.AccessToken == accessToken && t.ExpiresAt.After(now) {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) TokenByRefreshToken(clientUUID, refreshToken string) (*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, t := range s.tokens {
		if t.ClientID == clientUUID && t.RefreshToken == refreshToken {
			cp := *t
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) TokensForPair(clientUUID, ownerID string) ([]*Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Token
	for _, t := range s.tokens {
		if t.ClientID == clientUUID && t.ResourceOwnerID == ownerID {
			cp := *t
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return s.seq[out[i].ID] < s.seq[out[j].ID]
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *MemoryStore) DeleteToken(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, id)
	delete(s.seq, id)
	return nil
}

func (s *MemoryStore) SaveUser(u *User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *u
	s.users[cp.ID] = &cp
	return nil
}

func (s *MemoryStore) UserByID(id string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if u, ok := s.users[id]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

func (s *MemoryStore) UserByUsername(username string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, u := range s.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *MemoryStore) UserByPerishableToken(token string) (*User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := time.Now()
	for _, u := range s.users {
		if u.PerishableToken == token && u.PerishableTokenExpiresAt.After(now) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, nil
}
