// Package session keeps login sessions in Redis. A session exists from login
// until logout or expiry and is the server-side half of a token.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"backoffice/internal/auth"
)

var ErrNotFound = errors.New("session not found")

const defaultTimeout = 500 * time.Millisecond

// Record is the value stored under a session key.
type Record struct {
	Username     string    `json:"username"`
	Roles        []string  `json:"roles"`
	Permissions  []string  `json:"permissions"`
	LastActivity time.Time `json:"lastActivity"`
}

type Store struct {
	rdb     redis.UniversalClient
	ttl     time.Duration
	timeout time.Duration
	now     func() time.Time
}

func New(rdb redis.UniversalClient, ttl, timeout time.Duration) *Store {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Store{rdb: rdb, ttl: ttl, timeout: timeout, now: time.Now}
}

// Key builds the session key. System sessions are not namespaced by tenant.
func Key(tenantID, userID string, level auth.Level) string {
	if level == auth.LevelSystem {
		return "system:" + userID
	}
	return fmt.Sprintf("session:%s:%s:%s", tenantID, userID, level)
}

func KeyFor(u auth.AuthUser) string {
	return Key(u.TenantID, u.UserID, u.Level)
}

// Put writes the session for u, replacing any previous one.
func (s *Store) Put(ctx context.Context, u auth.AuthUser) error {
	rec := Record{
		Username:     u.Username,
		Roles:        u.Roles,
		Permissions:  u.Permissions,
		LastActivity: s.now().UTC(),
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	key := KeyFor(u)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.rdb.Set(ctx, key, b, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session %s: %w", key, err)
	}
	return nil
}

func (s *Store) Get(ctx context.Context, u auth.AuthUser) (Record, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	key := KeyFor(u)
	b, err := s.rdb.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("load session %s: %w", key, err)
	}
	var rec Record
	if err := json.Unmarshal(b, &rec); err != nil {
		return Record{}, fmt.Errorf("decode session %s: %w", key, err)
	}
	return rec, nil
}

// Touch refreshes lastActivity and the TTL of an existing session. The
// write only succeeds while the key exists, so a session deleted after the
// read stays deleted and Touch reports ErrNotFound.
func (s *Store) Touch(ctx context.Context, u auth.AuthUser) error {
	rec, err := s.Get(ctx, u)
	if err != nil {
		return err
	}
	rec.LastActivity = s.now().UTC()
	b, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}
	key := KeyFor(u)
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	err = s.rdb.SetArgs(ctx, key, b, redis.SetArgs{Mode: "XX", TTL: s.ttl}).Err()
	if errors.Is(err, redis.Nil) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("touch session %s: %w", key, err)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, u auth.AuthUser) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	if err := s.rdb.Del(ctx, KeyFor(u)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Active implements auth.SessionLookup. A live session is touched.
func (s *Store) Active(ctx context.Context, u auth.AuthUser) (bool, error) {
	err := s.Touch(ctx, u)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound):
		return false, nil
	default:
		return false, err
	}
}
