package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"

	"resitrack.org/internal/obs"
	"resitrack.org/internal/permission"
)

const sessionPrefix = "resitrack:session:"

// SessionEntry is what a bearer token resolved to.
type SessionEntry struct {
	Username string              `json:"username"`
	Service  string              `json:"service"`
	Snapshot permission.Snapshot `json:"snapshot"`
}

// SessionCache maps bearer tokens to sessions. Tokens are stored hashed.
type SessionCache struct {
	kv  KV
	ttl time.Duration
}

func NewSessionCache(kv KV, ttl time.Duration) *SessionCache {
	return &SessionCache{kv: kv, ttl: ttl}
}

func sessionKey(token string) string {
	sum := sha256.Sum256([]byte(token))
	return sessionPrefix + hex.EncodeToString(sum[:])
}

// Get returns ErrMiss when the token is unknown or its entry unreadable.
func (c *SessionCache) Get(ctx context.Context, token string) (SessionEntry, error) {
	raw, err := c.kv.Get(ctx, sessionKey(token))
	if err != nil {
		if errors.Is(err, ErrMiss) {
			obs.ObserveCache("session", false)
		}
		return SessionEntry{}, err
	}
	var e SessionEntry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		obs.ObserveCache("session", false)
		return SessionEntry{}, ErrMiss
	}
	obs.ObserveCache("session", true)
	return e, nil
}

func (c *SessionCache) Put(ctx context.Context, token string, e SessionEntry) error {
	raw, err := json.Marshal(e)
	if err != nil {
		return err
	}
	return c.kv.Set(ctx, sessionKey(token), string(raw), c.ttl)
}

func (c *SessionCache) Drop(ctx context.Context, token string) error {
	return c.kv.Del(ctx, sessionKey(token))
}
