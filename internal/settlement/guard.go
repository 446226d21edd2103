package settlement

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Guard hands out a key at most once.
type Guard interface {
	// Claim reports whether the caller is the first to claim key.
	Claim(ctx context.Context, key string) (bool, error)
}

// MemoryGuard dedupes within one process.
type MemoryGuard struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// NewMemoryGuard creates an empty guard.
func NewMemoryGuard() *MemoryGuard {
	return &MemoryGuard{seen: make(map[string]struct{})}
}

// Claim implements Guard.
func (g *MemoryGuard) Claim(_ context.Context, key string) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.seen[key]; ok {
		return false, nil
	}
	g.seen[key] = struct{}{}
	return true, nil
}

// RedisGuard dedupes across indexer replicas sharing one Redis.
type RedisGuard struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisGuard creates a guard whose claims expire after ttl.
func NewRedisGuard(client *redis.Client, ttl time.Duration) *RedisGuard {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisGuard{client: client, prefix: "settlement:trigger:", ttl: ttl}
}

// Claim implements Guard with SET NX.
func (g *RedisGuard) Claim(ctx context.Context, key string) (bool, error) {
	return g.client.SetNX(ctx, g.prefix+key, time.Now().UTC().Format(time.RFC3339), g.ttl).Result()
}
