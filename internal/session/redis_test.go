package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisController(t *testing.T, clock *fakeClock) (*Controller, *RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	mr.SetTime(clock.Now())

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewRedisStore(client, "", time.Hour)
	ctrl := NewController(store, nil, Options{
		SessionTTL: 4 * time.Hour,
		CodeTTL:    30 * time.Second,
		Now:        clock.Now,
		Logger:     zerolog.Nop(),
	})
	return ctrl, store, mr
}

func TestRedisStoreRoundTrip(t *testing.T) {
	clock := newFakeClock()
	ctrl, store, mr := newRedisController(t, clock)
	ctx := context.Background()

	_, err := store.Get(ctx, testKey)
	assert.ErrorIs(t, err, ErrNotFound)

	snap, err := ctrl.Activate(ctx, testKey)
	require.NoError(t, err)

	stored, err := store.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, testKey, stored.Key)
	assert.Equal(t, snap.Code.Value, stored.Current.Value)
	assert.WithinDuration(t, snap.SessionExpiresAt, stored.ExpiresAt, 0)
	assert.Equal(t, []string{snap.Code.Value}, stored.History)

	assert.True(t, mr.Exists("attendance:session:course-1:2026-03-02"))
	assert.Equal(t, 5*time.Hour, mr.TTL("attendance:session:course-1:2026-03-02"))
}

func TestRedisStoreRotation(t *testing.T) {
	clock := newFakeClock()
	ctrl, _, _ := newRedisController(t, clock)
	ctx := context.Background()

	first, err := ctrl.Activate(ctx, testKey)
	require.NoError(t, err)

	clock.Advance(30 * time.Second)
	second, err := ctrl.Activate(ctx, testKey)
	require.NoError(t, err)
	assert.NotEqual(t, first.Code.Value, second.Code.Value)
	assert.WithinDuration(t, first.SessionExpiresAt, second.SessionExpiresAt, 0)

	ok, err := ctrl.Validate(ctx, testKey, first.Code.Value)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = ctrl.Validate(ctx, testKey, second.Code.Value)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStoreExpiredSessionIsReported(t *testing.T) {
	clock := newFakeClock()
	ctrl, _, _ := newRedisController(t, clock)
	ctx := context.Background()

	_, err := ctrl.Activate(ctx, testKey)
	require.NoError(t, err)

	clock.Advance(4 * time.Hour)
	_, err = ctrl.CurrentCode(ctx, testKey)
	assert.ErrorIs(t, err, ErrSessionExpired)
}

func TestRedisStoreRetentionElapses(t *testing.T) {
	clock := newFakeClock()
	ctrl, _, mr := newRedisController(t, clock)
	ctx := context.Background()

	_, err := ctrl.Activate(ctx, testKey)
	require.NoError(t, err)

	mr.FastForward(5 * time.Hour)
	_, err = ctrl.CurrentCode(ctx, testKey)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestRedisStoreStatus(t *testing.T) {
	clock := newFakeClock()
	ctrl, _, _ := newRedisController(t, clock)
	ctx := context.Background()

	st, err := ctrl.Status(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, StateInactive, st.State)

	snap, err := ctrl.Activate(ctx, testKey)
	require.NoError(t, err)
	clock.Advance(time.Hour)

	st, err = ctrl.Status(ctx, testKey)
	require.NoError(t, err)
	assert.Equal(t, StateActive, st.State)
	assert.Equal(t, 3*time.Hour, st.Remaining)
	assert.WithinDuration(t, snap.SessionExpiresAt, st.SessionExpiresAt, 0)
}

func TestRedisStoreClose(t *testing.T) {
	clock := newFakeClock()
	ctrl, store, _ := newRedisController(t, clock)
	ctx := context.Background()

	_, err := ctrl.Activate(ctx, testKey)
	require.NoError(t, err)
	require.NoError(t, ctrl.Close(ctx, testKey))

	_, err = store.Get(ctx, testKey)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStoreConcurrentRotation(t *testing.T) {
	clock := newFakeClock()
	ctrl, store, _ := newRedisController(t, clock)
	ctx := context.Background()

	_, err := ctrl.Activate(ctx, testKey)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 5; j++ {
				_, err := ctrl.Activate(ctx, testKey)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	stored, err := store.Get(ctx, testKey)
	require.NoError(t, err)
	assert.Len(t, stored.History, 21)

	seen := make(map[string]bool, len(stored.History))
	for _, code := range stored.History {
		assert.False(t, seen[code], "code %s issued twice", code)
		seen[code] = true
	}
}
