package quota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// WarnLatch remembers which tenants were already warned for a month and tier, so the near-limit
// notice fires at most once per crossing.
type WarnLatch interface {
	// Acquire returns true the first time it is called for the key.
	Acquire(ctx context.Context, tenantID string, month time.Time, tier Tier) (bool, error)
}

const latchTTL = 40 * 24 * time.Hour

func latchKey(tenantID string, month time.Time, tier Tier) string {
	return fmt.Sprintf("quota:warn:%s:%s:%s", tenantID, month.Format("2006-01"), tier)
}

type RedisLatch struct {
	rdb *redis.Client
}

func NewRedisLatch(rdb *redis.Client) *RedisLatch {
	return &RedisLatch{rdb: rdb}
}

func (l *RedisLatch) Acquire(ctx context.Context, tenantID string, month time.Time, tier Tier) (bool, error) {
	return l.rdb.SetNX(ctx, latchKey(tenantID, month, tier), time.Now().UTC().Format(time.RFC3339), latchTTL).Result()
}

// MemoryLatch is the single-process fallback when Redis is not configured.
type MemoryLatch struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryLatch() *MemoryLatch {
	return &MemoryLatch{seen: map[string]struct{}{}}
}

func (l *MemoryLatch) Acquire(_ context.Context, tenantID string, month time.Time, tier Tier) (bool, error) {
	key := latchKey(tenantID, month, tier)
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.seen[key]; ok {
		return false, nil
	}
	l.seen[key] = struct{}{}
	return true, nil
}
