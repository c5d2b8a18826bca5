package auth

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// AttemptLimiter counts failed authentication attempts per key within a window.
type AttemptLimiter interface {
	// Blocked reports whether key has exhausted its attempts.
	Blocked(ctx context.Context, key string) bool
	// RecordFailure counts one failed attempt for key.
	RecordFailure(ctx context.Context, key string)
}

// NoopLimiter never blocks.
type NoopLimiter struct{}

func (NoopLimiter) Blocked(context.Context, string) bool  { return false }
func (NoopLimiter) RecordFailure(context.Context, string) {}

// RedisLimiter keeps counters in Redis with a TTL so every replica shares them.
type RedisLimiter struct {
	rdb         *redis.Client
	maxAttempts int64
	window      time.Duration
	logger      *zap.Logger
}

func NewRedisLimiter(rdb *redis.Client, maxAttempts int, window time.Duration, logger *zap.Logger) *RedisLimiter {
	return &RedisLimiter{rdb: rdb, maxAttempts: int64(maxAttempts), window: window, logger: logger}
}

func (l *RedisLimiter) Blocked(ctx context.Context, key string) bool {
	count, err := l.rdb.Get(ctx, limiterKey(key)).Int64()
	if err == redis.Nil {
		return false
	}
	if err != nil {
		// Redis 不可用时不阻止请求
		l.logger.Warn("Attempt limiter unavailable", zap.String("key", key), zap.Error(err))
		return false
	}
	return count >= l.maxAttempts
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, key string) {
	k := limiterKey(key)
	count, err := l.rdb.Incr(ctx, k).Result()
	if err != nil {
		l.logger.Warn("Failed to record auth failure", zap.String("key", key), zap.Error(err))
		return
	}
	// 第一次失败时设置过期时间
	if count == 1 {
		l.rdb.Expire(ctx, k, l.window)
	}
}

func limiterKey(key string) string {
	return "auth:fail:" + key
}

// MemoryLimiter is a single-process limiter with the same semantics.
type MemoryLimiter struct {
	mu          sync.Mutex
	maxAttempts int
	window      time.Duration
	now         func() time.Time
	entries     map[string]*attempts
}

type attempts struct {
	count     int
	expiresAt time.Time
}

func NewMemoryLimiter(maxAttempts int, window time.Duration) *MemoryLimiter {
	return &MemoryLimiter{
		maxAttempts: maxAttempts,
		window:      window,
		now:         time.Now,
		entries:     map[string]*attempts{},
	}
}

func (l *MemoryLimiter) Blocked(_ context.Context, key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.live(key)
	return e != nil && e.count >= l.maxAttempts
}

func (l *MemoryLimiter) RecordFailure(_ context.Context, key string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e := l.live(key)
	if e == nil {
		e = &attempts{expiresAt: l.now().Add(l.window)}
		l.entries[key] = e
	}
	e.count++
}

// live returns the unexpired entry for key, dropping expired ones. Caller holds mu.
func (l *MemoryLimiter) live(key string) *attempts {
	e, ok := l.entries[key]
	if !ok {
		return nil
	}
	if !l.now().Before(e.expiresAt) {
		delete(l.entries, key)
		return nil
	}
	return e
}
