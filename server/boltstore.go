package server

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	bolt "go.etcd.io/bbolt"
)

const (
	boltDirPerm  = fs.FileMode(0o700)
	boltFilePerm = fs.FileMode(0o600)

	// boltOpenTimeout is the maximum time to wait for the database lock.
	boltOpenTimeout = 5 * time.Second
)

var (
	clientsBucket = []byte("clients")
	grantsBucket  = []byte("grants")
	tokensBucket  = []byte("tokens")
	usersBucket   = []byte("users")
)

// BoltStore persists all entities in a bbolt database, one bucket per
// entity keyed by its storage key, with JSON-encoded values. Secondary
// lookups scan the bucket; table sizes are bounded by the inline retention
// sweeps, so scans stay cheap.
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if needed) the database at path and
// ensures all buckets exist.
func OpenBoltStore(path string) (*BoltStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), boltDirPerm); err != nil {
		return nil, fmt.Errorf("creating storage directory: %w", err)
	}

	db, err := bolt.Open(path, boltFilePerm, &bolt.Options{Timeout: boltOpenTimeout})
	if err != nil {
		return nil, fmt.Errorf("opening storage db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, name := range [][]byte{clientsBucket, grantsBucket, tokensBucket, usersBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("initializing storage db: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// Close closes the database.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Stores returns the role mapping backed by this store.
func (s *BoltStore) Stores() Models {
	return Models{Clients: s, Grants: s, Tokens: s, Users: s}
}

func putJSON(tx *bolt.Tx, bucket []byte, key string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Bucket(bucket).Put([]byte(key), b)
}

func (s *BoltStore) SaveClient(c *Client) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, clientsBucket, c.ID, c)
	})
}

func (s *BoltStore) ClientByID(id string) (*Client, error) {
	var out *Client
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(clientsBucket).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var c Client
		if err := json.Unmarshal(raw, &c); err != nil {
			return err
		}
		out = &c
		return nil
	})
	return out, err
}

func (s *BoltStore) ClientByUUID(uuid string) (*Client, error) {
	var out *Client
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(clientsBucket).ForEach(func(_, raw []byte) error {
			if out != nil {
				return nil
			}
			var c Client
			if err := json.Unmarshal(raw, &c); err != nil {
				return err
			}
			if c.UUID == uuid {
				out = &c
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) SaveGrant(g *Grant) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, grantsBucket, g.Code, g)
	})
}

func (s *BoltStore) GrantByCode(clientUUID, code string) (*Grant, error) {
	var out *Grant
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(grantsBucket).Get([]byte(code))
		if raw == nil {
			return nil
		}
		var g Grant
		if err := json.Unmarshal(raw, &g); err != nil {
			return err
		}
		if g.ClientID == clientUUID {
			out = &g
		}
		return nil
	})
	return out, err
}

func (s *BoltStore) DeleteGrant(code string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(grantsBucket).Delete([]byte(code))
	})
}

func (s *BoltStore) DeleteExpiredGrants(clientUUID, ownerID string, cutoff time.Time) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		bkt := tx.Bucket(grantsBucket)
		var stale [][]byte
		err := bkt.ForEach(func(k, raw []byte) error {
			var g Grant
			if err := json.Unmarshal(raw, &g); err != nil {
				return err
			}
			if g.ClientID == clientUUID && g.ResourceOwnerID == ownerID && g.CreatedAt.Before(cutoff) {
				key := make([]byte, len(k))
				copy(key, k)
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range stale {
			if err := bkt.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) SaveToken(t *Token) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, tokensBucket, t.ID, t)
	})
}

func (s *BoltStore) TokenByID(id string) (*Token, error) {
	var out *Token
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(tokensBucket).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var t Token
		if err := json.Unmarshal(raw, &t); err != nil {
			return err
		}
		out = &t
		return nil
	})
	return out, err
}

func (s *BoltStore) TokenByAccessToken(accessToken string) (*Token, error) {
	now := time.Now()
	var out *Token
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).ForEach(func(_, raw []byte) error {
			if out != nil {
				return nil
			}
			var t Token
			if err := json.Unmarshal(raw, &t); err != nil {
				return err
			}
			if t.AccessToken == accessToken && t.ExpiresAt.After(now) {
				out = &t
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) TokenByRefreshToken(clientUUID, refreshToken string) (*Token, error) {
	var out *Token
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).ForEach(func(_, raw []byte) error {
			if out != nil {
				return nil
			}
			var t Token
			if err := json.Unmarshal(raw, &t); err != nil {
				return err
			}
			if t.ClientID == clientUUID && t.RefreshToken == refreshToken {
				out = &t
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) TokensForPair(clientUUID, ownerID string) ([]*Token, error) {
	var out []*Token
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).ForEach(func(_, raw []byte) error {
			var t Token
			if err := json.Unmarshal(raw, &t); err != nil {
				return err
			}
			if t.ClientID == clientUUID && t.ResourceOwnerID == ownerID {
				out = append(out, &t)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *BoltStore) DeleteToken(id string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(tokensBucket).Delete([]byte(id))
	})
}

func (s *BoltStore) SaveUser(u *User) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx, usersBucket, u.ID, u)
	})
}

func (s *BoltStore) UserByID(id string) (*User, error) {
	var out *User
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(usersBucket).Get([]byte(id))
		if raw == nil {
			return nil
		}
		var u User
		if err := json.Unmarshal(raw, &u); err != nil {
			return err
		}
		out = &u
		return nil
	})
	return out, err
}

func (s *BoltStore) scanUser(match func(*User) bool) (*User, error) {
	var out *User
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(usersBucket).ForEach(func(_, raw []byte) error {
			if out != nil {
				return nil
			}
			var u User
			if err := json.Unmarshal(raw, &u); err != nil {
				return err
			}
			if match(&u) {
				out = &u
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) UserByUsername(username string) (*User, error) {
	return s.scanUser(func(u *User) bool { return u.Username == username })
}

func (s *BoltStore) UserByPerishableToken(token string) (*User, error) {
	now := time.Now()
	return s.scanUser(func(u *User) bool {
		return u.PerishableToken == token && u.PerishableTokenExpiresAt.After(now)
	})
}
