package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/target/rolegate/internal/adapters/memory"
	domainauth "github.com/target/rolegate/internal/domain/auth"
	"github.com/target/rolegate/internal/mocks"
	"github.com/target/rolegate/internal/testutil"
)

func TestNewSessionSweeper_RequiresStore(t *testing.T) {
	_, err := NewSessionSweeper(SweeperOptions{})
	require.Error(t, err)
}

func TestSessionSweeper_SweepOnce(t *testing.T) {
	clock := testutil.NewTestTimeProvider(testutil.TestTime())
	store := memory.NewSessionStore(memory.SessionStoreConfig{Now: clock.Now})
	ctx := context.Background()

	_, err := store.Create(ctx, domainauth.Identity{Principal: "a"}, time.Minute)
	require.NoError(t, err)
	_, err = store.Create(ctx, domainauth.Identity{Principal: "b"}, time.Hour)
	require.NoError(t, err)

	sw, err := NewSessionSweeper(SweeperOptions{Store: store})
	require.NoError(t, err)

	assert.Equal(t, 0, sw.SweepOnce(ctx))
	clock.AddTime(2 * time.Minute)
	assert.Equal(t, 1, sw.SweepOnce(ctx))
	assert.Equal(t, 1, store.Len())
}

func TestSessionSweeper_SweepOnce_StoreError(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSessionStore(ctrl)
	store.EXPECT().Sweep(gomock.Any()).Return(0, errors.New("scan failed"))

	sw, err := NewSessionSweeper(SweeperOptions{Store: store})
	require.NoError(t, err)
	assert.Equal(t, 0, sw.SweepOnce(context.Background()))
}

func TestSessionSweeper_RunStopsOnCancel(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSessionStore(ctrl)
	store.EXPECT().Sweep(gomock.Any()).Return(0, nil).AnyTimes()

	sw, err := NewSessionSweeper(SweeperOptions{Store: store, Interval: 10 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sw.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestSessionSweeper_RunStopsCleanlyOnDeadline(t *testing.T) {
	ctrl := gomock.NewController(t)
	store := mocks.NewMockSessionStore(ctrl)
	store.EXPECT().Sweep(gomock.Any()).Return(0, nil).AnyTimes()

	sw, err := NewSessionSweeper(SweeperOptions{Store: store, Interval: time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, sw.Run(ctx))
}
