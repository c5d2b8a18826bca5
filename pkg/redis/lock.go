package redis

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// 只有持有者才能释放锁
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// Locker 基于 SET NX PX 的短期互斥锁
type Locker struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
	wait   time.Duration
	logger *zap.Logger
}

func NewLocker(rdb *redis.Client, prefix string, ttl, wait time.Duration, logger *zap.Logger) *Locker {
	return &Locker{
		rdb:    rdb,
		prefix: prefix,
		ttl:    ttl,
		wait:   wait,
		logger: logger,
	}
}

// Acquire 在 wait 时间内尝试获取 key 对应的锁。
// 返回的 release 总是可以调用；acquired 为 false 时表示未拿到锁（Redis 不可用或等待超时）。
func (l *Locker) Acquire(ctx context.Context, key string) (release func(), acquired bool) {
	fullKey := l.prefix + key
	token := uuid.NewString()
	deadline := time.Now().Add(l.wait)
	backoff := 20 * time.Millisecond

	for {
		ok, err := l.rdb.SetNX(ctx, fullKey, token, l.ttl).Result()
		if err != nil {
			// Redis 挂了：不阻止处理
			l.logger.Warn("Redis lock unavailable, proceeding without lock",
				zap.String("key", fullKey),
				zap.Error(err),
			)
			return func() {}, false
		}
		if ok {
			return func() {
				if err := releaseScript.Run(context.Background(), l.rdb, []string{fullKey}, token).Err(); err != nil {
					l.logger.Warn("Failed to release redis lock", zap.String("key", fullKey), zap.Error(err))
				}
			}, true
		}
		if time.Now().Add(backoff).After(deadline) {
			l.logger.Info("Lock busy, proceeding without lock", zap.String("key", fullKey))
			return func() {}, false
		}

		select {
		case <-ctx.Done():
			return func() {}, false
		case <-time.After(backoff):
		}
		if backoff < 200*time.Millisecond {
			backoff *= 2
		}
	}
}
