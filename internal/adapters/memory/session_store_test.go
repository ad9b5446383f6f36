package memory

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	domainauth "github.com/target/rolegate/internal/domain/auth"
	"github.com/target/rolegate/internal/ports"
	"github.com/target/rolegate/internal/testutil"
)

var _ ports.SessionStore = (*SessionStore)(nil)

func testIdentity() domainauth.Identity {
	return domainauth.Identity{
		Principal: "admin",
		Roles:     []string{domainauth.RoleAdmin},
		Method:    domainauth.MethodStatic,
	}
}

func TestSessionStore_CreateAndValidate(t *testing.T) {
	clock := testutil.NewTestTimeProvider(testutil.TestTime())
	store := NewSessionStore(SessionStoreConfig{Now: clock.Now})
	ctx := context.Background()

	sess, err := store.Create(ctx, testIdentity(), 30*time.Minute)
	require.NoError(t, err)
	assert.Len(t, sess.Token, 43)
	assert.Equal(t, testutil.TestTime(), sess.IssuedAt)
	assert.Equal(t, testutil.TestTime().Add(30*time.Minute), sess.ExpiresAt)

	got, err := store.Validate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, sess, got)
}

func TestSessionStore_ZeroTTLIsExpired(t *testing.T) {
	store := NewSessionStore(SessionStoreConfig{})
	ctx := context.Background()

	sess, err := store.Create(ctx, testIdentity(), 0)
	require.NoError(t, err)

	_, err = store.Validate(ctx, sess.Token)
	assert.ErrorIs(t, err, domainauth.ErrSessionExpired)
}

func TestSessionStore_ExpiryAndSweep(t *testing.T) {
	clock := testutil.NewTestTimeProvider(testutil.TestTime())
	store := NewSessionStore(SessionStoreConfig{Now: clock.Now})
	ctx := context.Background()

	short, err := store.Create(ctx, testIdentity(), time.Minute)
	require.NoError(t, err)
	long, err := store.Create(ctx, testIdentity(), time.Hour)
	require.NoError(t, err)

	clock.AddTime(time.Minute)

	_, err = store.Validate(ctx, short.Token)
	assert.ErrorIs(t, err, domainauth.ErrSessionExpired)

	n, err := store.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 1, store.Len())

	_, err = store.Validate(ctx, short.Token)
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)

	_, err = store.Validate(ctx, long.Token)
	assert.NoError(t, err)
}

func TestSessionStore_Revoke(t *testing.T) {
	store := NewSessionStore(SessionStoreConfig{})
	ctx := context.Background()

	sess, err := store.Create(ctx, testIdentity(), time.Hour)
	require.NoError(t, err)

	require.NoError(t, store.Revoke(ctx, sess.Token))
	require.NoError(t, store.Revoke(ctx, sess.Token), "second revoke is a no-op")
	require.NoError(t, store.Revoke(ctx, "never-issued"))

	_, err = store.Validate(ctx, sess.Token)
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)
}

func TestSessionStore_ValidateUnknown(t *testing.T) {
	store := NewSessionStore(SessionStoreConfig{})

	_, err := store.Validate(context.Background(), "")
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)

	_, err = store.Validate(context.Background(), "nope")
	assert.ErrorIs(t, err, domainauth.ErrSessionNotFound)
}

func TestSessionStore_IdentityIsCopied(t *testing.T) {
	store := NewSessionStore(SessionStoreConfig{})
	ctx := context.Background()

	id := testIdentity()
	sess, err := store.Create(ctx, id, time.Hour)
	require.NoError(t, err)

	id.Roles[0] = "mutated"
	sess.Identity.Roles[0] = "mutated"

	got, err := store.Validate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, []string{domainauth.RoleAdmin}, got.Identity.Roles)
}

func TestSessionStore_Sliding(t *testing.T) {
	clock := testutil.NewTestTimeProvider(testutil.TestTime())
	store := NewSessionStore(SessionStoreConfig{Now: clock.Now, Sliding: true})
	ctx := context.Background()

	sess, err := store.Create(ctx, testIdentity(), 10*time.Minute)
	require.NoError(t, err)

	clock.AddTime(8 * time.Minute)
	got, err := store.Validate(ctx, sess.Token)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(10*time.Minute), got.ExpiresAt)

	clock.AddTime(8 * time.Minute)
	_, err = store.Validate(ctx, sess.Token)
	assert.NoError(t, err, "sliding window should have been extended")
}

func TestSessionStore_TokenSourceFailure(t *testing.T) {
	store := NewSessionStore(SessionStoreConfig{})
	store.newToken = func() (string, error) { return "", errors.New("entropy exhausted") }

	_, err := store.Create(context.Background(), testIdentity(), time.Hour)
	assert.Error(t, err)
	assert.Equal(t, 0, store.Len())
}

func TestSessionStore_RetriesTokenCollision(t *testing.T) {
	store := NewSessionStore(SessionStoreConfig{})
	ctx := context.Background()

	tokens := []string{"dup", "dup", "fresh"}
	store.newToken = func() (string, error) {
		tok := tokens[0]
		tokens = tokens[1:]
		return tok, nil
	}

	first, err := store.Create(ctx, testIdentity(), time.Hour)
	require.NoError(t, err)
	second, err := store.Create(ctx, testIdentity(), time.Hour)
	require.NoError(t, err)

	assert.Equal(t, "dup", first.Token)
	assert.Equal(t, "fresh", second.Token)
}

func TestSessionStore_ConcurrentUse(t *testing.T) {
	store := NewSessionStore(SessionStoreConfig{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			sess, err := store.Create(ctx, testIdentity(), time.Hour)
			if err != nil {
				t.Error(err)
				return
			}
			if _, err := store.Validate(ctx, sess.Token); err != nil {
				t.Error(err)
			}
			_, _ = store.Sweep(ctx)
			_ = store.Revoke(ctx, sess.Token)
		}()
	}
	wg.Wait()
	assert.Equal(t, 0, store.Len())
}
