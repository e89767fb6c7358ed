// Package releaseguard provides per-feeder mutual exclusion for manual feed
// releases.
package releaseguard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// Guard holds short lived per-key locks.
type Guard interface {
	// Acquire takes the lock for key unless it is already held. The lock
	// expires after ttl even if Release is never called.
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key string) error
}

// RedisGuard implements Guard with SET NX PX so every service instance sees
// the same locks.
type RedisGuard struct {
	client *redis.Client
	prefix string
}

// NewRedisGuard creates a RedisGuard storing locks under prefix.
func NewRedisGuard(client *redis.Client, prefix string) *RedisGuard {
	if prefix == "" {
		prefix = "smartfeeder:release:"
	}
	return &RedisGuard{client: client, prefix: prefix}
}

func (g *RedisGuard) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339Nano), ttl).Result()
	if err != nil {
		return false, fmt.Errorf("releaseguard: acquire %s: %w", key, err)
	}
	return ok, nil
}

func (g *RedisGuard) Release(ctx context.Context, key string) error {
	if err := g.client.Del(ctx, g.prefix+key).Err(); err != nil {
		return fmt.Errorf("releaseguard: release %s: %w", key, err)
	}
	return nil
}

// MemoryGuard implements Guard inside a single process.
type MemoryGuard struct {
	mu    sync.Mutex
	locks map[string]time.Time
	now   func() time.Time
}

// NewMemoryGuard creates a MemoryGuard. A nil clock uses time.Now.
func NewMemoryGuard(now func() time.Time) *MemoryGuard {
	if now == nil {
		now = time.Now
	}
	return &MemoryGuard{locks: make(map[string]time.Time), now: now}
}

func (g *MemoryGuard) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if expires, ok := g.locks[key]; ok && now.Before(expires) {
		return false, nil
	}
	g.locks[key] = now.Add(ttl)

	// Drop expired entries so the map does not grow without bound.
	for k, expires := range g.locks {
		if !now.Before(expires) {
			delete(g.locks, k)
		}
	}
	return true, nil
}

func (g *MemoryGuard) Release(_ context.Context, key string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.locks, key)
	return nil
}
