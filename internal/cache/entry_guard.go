package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// EntryGuard damps repeated recognitions of the same plate within a cooldown
// window. Acquire claims the window for a plate; it returns false while a
// previous claim is still live.
type EntryGuard interface {
	Acquire(ctx context.Context, plate string) (bool, error)
	Release(ctx context.Context, plate string) error
}

// RedisEntryGuard implements EntryGuard with SET NX EX keys, so multiple lane
// agents share one cooldown window per plate.
type RedisEntryGuard struct {
	client   *redis.Client
	cooldown time.Duration
}

// NewRedisEntryGuard returns a redis-backed guard.
func NewRedisEntryGuard(client *redis.Client, cooldown time.Duration) *RedisEntryGuard {
	return &RedisEntryGuard{client: client, cooldown: cooldown}
}

func guardKey(plate string) string {
	return fmt.Sprintf("plates:entry-guard:%s", plate)
}

// Acquire claims the cooldown window for plate.
func (g *RedisEntryGuard) Acquire(ctx context.Context, plate string) (bool, error) {
	return g.client.SetNX(ctx, guardKey(plate), 1, g.cooldown).Result()
}

// Release frees the window early, used when the entry it guarded failed.
func (g *RedisEntryGuard) Release(ctx context.Context, plate string) error {
	return g.client.Del(ctx, guardKey(plate)).Err()
}

// MemoryEntryGuard is the in-process fallback used when redis is not configured.
type MemoryEntryGuard struct {
	mu       sync.Mutex
	claims   map[string]time.Time
	cooldown time.Duration
	now      func() time.Time
}

// NewMemoryEntryGuard returns a map-backed guard.
func NewMemoryEntryGuard(cooldown time.Duration) *MemoryEntryGuard {
	return &MemoryEntryGuard{
		claims:   make(map[string]time.Time),
		cooldown: cooldown,
		now:      time.Now,
	}
}

// Acquire claims the cooldown window for plate.
func (g *MemoryEntryGuard) Acquire(_ context.Context, plate string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	now := g.now()
	if until, ok := g.claims[plate]; ok && now.Before(until) {
		return false, nil
	}
	g.claims[plate] = now.Add(g.cooldown)
	return true, nil
}

// Release frees the window early.
func (g *MemoryEntryGuard) Release(_ context.Context, plate string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.claims, plate)
	return nil
}
