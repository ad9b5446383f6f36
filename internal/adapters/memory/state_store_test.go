package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/target/rolegate/internal/ports"
	"github.com/target/rolegate/internal/testutil"
)

var _ ports.StateStore = (*StateStore)(nil)

func TestStateStore_ConsumeOnce(t *testing.T) {
	store := NewStateStore(nil)
	ctx := context.Background()
	rec := ports.OAuthState{Nonce: "n-1", Provider: "generic", RedirectURL: "/dashboard"}

	require.NoError(t, store.Put(ctx, "st-1", rec, 5*time.Minute))

	got, ok, err := store.Consume(ctx, "st-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec, got)

	_, ok, err = store.Consume(ctx, "st-1")
	require.NoError(t, err)
	assert.False(t, ok, "state must be single use")
}

func TestStateStore_Expiry(t *testing.T) {
	clock := testutil.NewTestTimeProvider(testutil.TestTime())
	store := NewStateStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "old", ports.OAuthState{Nonce: "a"}, 5*time.Minute))
	clock.AddTime(5 * time.Minute)

	_, ok, err := store.Consume(ctx, "old")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStateStore_LazyPurge(t *testing.T) {
	clock := testutil.NewTestTimeProvider(testutil.TestTime())
	store := NewStateStore(clock.Now)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "a", ports.OAuthState{}, time.Minute))
	require.NoError(t, store.Put(ctx, "b", ports.OAuthState{}, time.Minute))
	clock.AddTime(2 * time.Minute)
	require.NoError(t, store.Put(ctx, "c", ports.OAuthState{}, time.Minute))

	store.mu.Lock()
	assert.Len(t, store.entries, 1)
	store.mu.Unlock()
}

func TestStateStore_UnknownAndEmpty(t *testing.T) {
	store := NewStateStore(nil)

	_, ok, err := store.Consume(context.Background(), "")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = store.Consume(context.Background(), "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}
