package metrics

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// RollingCounter tracks a per-tenant request count over a fixed window,
// used to drive per-tenant rate observability independent of Prometheus's
// own (cluster-local) counters. Incr returns the count so far in the
// current window.
type RollingCounter interface {
	Incr(ctx context.Context, tenant string) (int64, error)
}

// RedisRollingCounter backs RollingCounter with Redis so the count is
// shared across every process serving a tenant, not just the local one.
// Each window is a distinct key (INCR, plus an EXPIRE of twice the window
// on the first increment), so counters reset cleanly at window boundaries
// without a background sweep.
type RedisRollingCounter struct {
	client redis.UniversalClient
	window time.Duration
	prefix string
}

// NewRedisRollingCounter builds a RedisRollingCounter. window must be > 0.
func NewRedisRollingCounter(client redis.UniversalClient, window time.Duration) *RedisRollingCounter {
	return &RedisRollingCounter{client: client, window: window, prefix: "rag:rolling"}
}

func (c *RedisRollingCounter) key(tenant string) string {
	bucket := time.Now().UTC().Truncate(c.window).Unix()
	return fmt.Sprintf("%s:%s:%d", c.prefix, tenant, bucket)
}

// Incr increments tenant's counter for the current window, setting the
// key's expiry on first use so abandoned windows are reclaimed by Redis.
func (c *RedisRollingCounter) Incr(ctx context.Context, tenant string) (int64, error) {
	key := c.key(tenant)
	count, err := c.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis rolling counter incr: %w", err)
	}
	if count == 1 {
		c.client.Expire(ctx, key, c.window*2)
	}
	return count, nil
}

var _ RollingCounter = (*RedisRollingCounter)(nil)

// InProcessRollingCounter is the in-process fallback used when no Redis
// deployment is configured; counts are per-process and lost on restart,
// but require no external dependency.
type InProcessRollingCounter struct {
	mu     sync.Mutex
	window time.Duration
	counts map[string]*bucket
}

type bucket struct {
	start time.Time
	count int64
}

// NewInProcessRollingCounter builds an InProcessRollingCounter.
func NewInProcessRollingCounter(window time.Duration) *InProcessRollingCounter {
	return &InProcessRollingCounter{window: window, counts: make(map[string]*bucket)}
}

// Incr increments tenant's in-process counter for the current window,
// starting a fresh bucket once the previous one has expired.
func (c *InProcessRollingCounter) Incr(ctx context.Context, tenant string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	b, ok := c.counts[tenant]
	if !ok || now.Sub(b.start) >= c.window {
		b = &bucket{start: now}
		c.counts[tenant] = b
	}
	b.count++
	return b.count, nil
}

var _ RollingCounter = (*InProcessRollingCounter)(nil)
