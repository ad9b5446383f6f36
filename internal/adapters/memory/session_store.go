package memory

// Package memory provides in-process adapters for single-replica deployments and tests.

import (
	"context"
	"sync"
	"time"

	domainauth "github.com/target/rolegate/internal/domain/auth"
	"github.com/target/rolegate/internal/util"
)

// SessionStore is an in-memory session store.
// Expired sessions stay in the map, reported as expired, until Sweep removes them.
// Concurrency: a single mutex guards the map; methods are safe for concurrent use.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]domainauth.Session
	now      func() time.Time
	sliding  bool
	newToken func() (string, error)
}

// SessionStoreConfig groups constructor options.
type SessionStoreConfig struct {
	// Sliding extends ExpiresAt by the session's original lifetime on each successful Validate.
	Sliding bool
	// Now is an injectable clock for tests.
	Now func() time.Time
}

// NewSessionStore creates an empty in-memory session store.
func NewSessionStore(cfg SessionStoreConfig) *SessionStore {
	nowFn := cfg.Now
	if nowFn == nil {
		nowFn = time.Now
	}
	return &SessionStore{
		sessions: make(map[string]domainauth.Session),
		now:      nowFn,
		sliding:  cfg.Sliding,
		newToken: util.NewSessionToken,
	}
}

// Create issues a session for identity. A zero or negative ttl yields a session
// that is already expired.
func (s *SessionStore) Create(
	_ context.Context,
	identity domainauth.Identity,
	ttl time.Duration,
) (domainauth.Session, error) {
	if ttl < 0 {
		ttl = 0
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var token string
	for {
		tok, err := s.newToken()
		if err != nil {
			return domainauth.Session{}, err
		}
		if _, taken := s.sessions[tok]; !taken {
			token = tok
			break
		}
	}

	now := s.now()
	sess := domainauth.Session{
		Token:     token,
		Identity:  identity.Clone(),
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	s.sessions[token] = sess
	return copySession(sess), nil
}

// Validate returns the live session for token.
func (s *SessionStore) Validate(_ context.Context, token string) (domainauth.Session, error) {
	if token == "" {
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sess, ok := s.sessions[token]
	if !ok {
		return domainauth.Session{}, domainauth.ErrSessionNotFound
	}
	now := s.now()
	if sess.Expired(now) {
		return domainauth.Session{}, domainauth.ErrSessionExpired
	}
	if s.sliding {
		sess.ExpiresAt = now.Add(sess.ExpiresAt.Sub(sess.IssuedAt))
		sess.IssuedAt = now
		s.sessions[token] = sess
	}
	return copySession(sess), nil
}

// Revoke removes the session for token. Unknown tokens are ignored.
func (s *SessionStore) Revoke(_ context.Context, token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}

// Sweep removes every expired session and returns the count removed.
func (s *SessionStore) Sweep(_ context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	removed := 0
	for tok, sess := range s.sessions {
		if sess.Expired(now) {
			delete(s.sessions, tok)
			removed++
		}
	}
	return removed, nil
}

// Len reports the number of stored sessions, expired ones included.
func (s *SessionStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func copySession(sess domainauth.Session) domainauth.Session {
	sess.Identity = sess.Identity.Clone()
	return sess
}
