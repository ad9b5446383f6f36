package redis

// Package redis provides Redis-backed session and OAuth state stores shared across replicas.

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	domainauth "github.com/target/rolegate/internal/domain/auth"
	apperrors "github.com/target/rolegate/internal/errors"
	"github.com/target/rolegate/internal/util"
)

const (
	// DefaultSessionPrefix namespaces session keys.
	DefaultSessionPrefix = "rolegate:session:"
	// DefaultExpiredRetention keeps expired sessions long enough to report them as expired.
	DefaultExpiredRetention = 10 * time.Minute

	scanBatch = 200
	// minKeyTTL guards against a zero TTL, which Redis treats as "no expiry".
	minKeyTTL = time.Second
)

// SessionStore is a Redis-based session store. Each session is a JSON record
// whose Redis TTL is its lifetime plus a retention window, so a token that
// expired recently is reported as expired rather than unknown.
type SessionStore struct {
	client    redis.UniversalClient
	prefix    string
	retention time.Duration
	sliding   bool
	now       func() time.Time
	newToken  func() (string, error)
}

// SessionStoreOptions configures SessionStore.
type SessionStoreOptions struct {
	Prefix           string
	ExpiredRetention time.Duration
	Sliding          bool
	Now              func() time.Time
}

// NewSessionStore creates a new Redis-based session store.
func NewSessionStore(client redis.UniversalClient, opts SessionStoreOptions) *SessionStore {
	prefix := opts.Prefix
	if prefix == "" {
		prefix = DefaultSessionPrefix
	}
	retention := opts.ExpiredRetention
	if retention < 0 {
		retention = 0
	}
	nowFn := opts.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &SessionStore{
		client:    client,
		prefix:    prefix,
		retention: retention,
		sliding:   opts.Sliding,
		now:       nowFn,
		newToken:  util.NewSessionToken,
	}
}

func (s *SessionStore) key(token string) string { return s.prefix + token }

func (s *SessionStore) keyTTL(sess domainauth.Session) time.Duration {
	ttl := sess.ExpiresAt.Sub(s.now()) + s.retention
	if ttl < minKeyTTL {
		ttl = minKeyTTL
	}
	return ttl
}

func unavailable(err error) error {
	return apperrors.Wrap(err, apperrors.ErrCodeBackendUnavailable, "session store unavailable")
}

// Create issues a session for identity expiring ttl after now.
func (s *SessionStore) Create(
	ctx context.Context,
	identity domainauth.Identity,
	ttl time.Duration,
) (domainauth.Session, error) {
	if ttl < 0 {
		ttl = 0
	}
	now := s.now()
	sess := domainauth.Session{
		Identity:  identity.Clone(),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}

	for {
		tok, err := s.newToken()
		if err != nil {
			return domainauth.Session{}, err
		}
		sess.Token = tok

		data, err := json.Marshal(sess)
		if err != nil {
			return domainauth.Session{}, fmt.Errorf("marshal session: %w", err)
		}
		ok, err := s.client.SetNX(ctx, s.key(tok), data, s.keyTTL(sess)).Result()
		if err != nil {
			return domainauth.Session{}, unavailable(fmt.Errorf("redis setnx: %w", err))
		}
		if ok {
			return sess, nil
		}
	}
}

// Validate returns the live session for token.
func (s *SessionStore) Validate(ctx context.Context, token string) (domainauth.Session, error) {
	if token == "" {
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}

	data, err := s.client.Get(ctx, s.key(token)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domainauth.Session{}, domainauth.ErrSessionNotFound
		}
		return domainauth.Session{}, unavailable(fmt.Errorf("redis get: %w", err))
	}

	var sess domainauth.Session
	if unmarshalErr := json.Unmarshal(data, &sess); unmarshalErr != nil {
		return domainauth.Session{}, fmt.Errorf("unmarshal session: %w", unmarshalErr)
	}

	now := s.now()
	if sess.Expired(now) {
		return domainauth.Session{}, domainauth.ErrSessionExpired
	}
	if s.sliding {
		sess.ExpiresAt = now.Add(sess.ExpiresAt.Sub(sess.IssuedAt))
		sess.IssuedAt = now
		if refreshErr := s.refresh(ctx, sess); refreshErr != nil {
			return domainauth.Session{}, refreshErr
		}
	}
	return sess, nil
}

// refresh rewrites a slid session only if it still exists, so a concurrent
// Revoke is never undone.
func (s *SessionStore) refresh(ctx context.Context, sess domainauth.Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	ok, err := s.client.SetXX(ctx, s.key(sess.Token), data, s.keyTTL(sess)).Result()
	if err != nil {
		return unavailable(fmt.Errorf("redis setxx: %w", err))
	}
	if !ok {
		return domainauth.ErrSessionNotFound
	}
	return nil
}

// Revoke deletes the session. Unknown tokens are ignored.
func (s *SessionStore) Revoke(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.client.Del(ctx, s.key(token)).Err(); err != nil {
		return unavailable(fmt.Errorf("redis del: %w", err))
	}
	return nil
}

// Sweep deletes sessions past their expiry that are still inside the
// retention window and reports how many were removed. On a cluster every
// master is scanned.
func (s *SessionStore) Sweep(ctx context.Context) (int, error) {
	var removed atomic.Int64
	sweep := func(ctx context.Context, c redis.Cmdable) error {
		n, err := s.sweepNode(ctx, c)
		removed.Add(int64(n))
		return err
	}

	var err error
	if cc, ok := s.client.(*redis.ClusterClient); ok {
		err = cc.ForEachMaster(ctx, func(ctx context.Context, c *redis.Client) error {
			return sweep(ctx, c)
		})
	} else {
		err = sweep(ctx, s.client)
	}
	if err != nil {
		return int(removed.Load()), unavailable(err)
	}
	return int(removed.Load()), nil
}

func (s *SessionStore) sweepNode(ctx context.Context, c redis.Cmdable) (int, error) {
	now := s.now()
	removed := 0
	iter := c.Scan(ctx, 0, s.prefix+"*", scanBatch).Iterator()
	for iter.Next(ctx) {
		key := iter.Val()
		data, err := c.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return removed, fmt.Errorf("redis get %s: %w", key, err)
		}
		var sess domainauth.Session
		if json.Unmarshal(data, &sess) == nil && !sess.Expired(now) {
			continue
		}
		n, err := c.Del(ctx, key).Result()
		if err != nil {
			return removed, fmt.Errorf("redis del %s: %w", key, err)
		}
		removed += int(n)
	}
	if err := iter.Err(); err != nil {
		return removed, fmt.Errorf("redis scan: %w", err)
	}
	return removed, nil
}
