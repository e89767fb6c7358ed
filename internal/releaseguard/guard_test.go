package releaseguard

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRedisGuard(t *testing.T) (*miniredis.Miniredis, *RedisGuard) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, NewRedisGuard(client, "test:")
}

func TestRedisGuard_AcquireIsExclusive(t *testing.T) {
	mr, guard := setupRedisGuard(t)
	ctx := context.Background()

	ok, err := guard.Acquire(ctx, "feeder-1", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = guard.Acquire(ctx, "feeder-1", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "second acquire must fail while held")

	ok, err = guard.Acquire(ctx, "feeder-2", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "locks are per key")

	assert.True(t, mr.Exists("test:feeder-1"))
}

func TestRedisGuard_ExpiresAndReleases(t *testing.T) {
	mr, guard := setupRedisGuard(t)
	ctx := context.Background()

	ok, err := guard.Acquire(ctx, "feeder-1", 30*time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(31 * time.Second)
	ok, err = guard.Acquire(ctx, "feeder-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock should expire after its ttl")

	require.NoError(t, guard.Release(ctx, "feeder-1"))
	ok, err = guard.Acquire(ctx, "feeder-1", 30*time.Second)
	require.NoError(t, err)
	assert.True(t, ok, "lock should be free after release")
}

func TestRedisGuard_ReportsConnectionErrors(t *testing.T) {
	mr, guard := setupRedisGuard(t)
	mr.Close()

	_, err := guard.Acquire(context.Background(), "feeder-1", time.Second)
	assert.Error(t, err)
}

func TestMemoryGuard(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.March, 4, 9, 0, 0, 0, time.UTC)
	guard := NewMemoryGuard(func() time.Time { return now })
	ctx := context.Background()

	ok, _ := guard.Acquire(ctx, "feeder-1", time.Minute)
	if !ok {
		t.Fatal("expected first acquire to succeed")
	}
	if ok, _ := guard.Acquire(ctx, "feeder-1", time.Minute); ok {
		t.Fatal("expected second acquire to fail")
	}

	now = now.Add(time.Minute)
	if ok, _ := guard.Acquire(ctx, "feeder-1", time.Minute); !ok {
		t.Fatal("expected acquire to succeed once the lock expired")
	}

	if err := guard.Release(ctx, "feeder-1"); err != nil {
		t.Fatalf("Release returned error: %v", err)
	}
	if ok, _ := guard.Acquire(ctx, "feeder-1", time.Minute); !ok {
		t.Fatal("expected acquire to succeed after release")
	}
}
