package locks

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/yungbote/coursebuilder-backend/internal/platform/logger"
)

// releaseScript deletes the key only while it still carries our token.
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker shares session locks across replicas with SET NX PX.
// The TTL bounds how long a crashed holder can block a session.
type RedisLocker struct {
	rdb    goredis.UniversalClient
	log    *logger.Logger
	prefix string
	ttl    time.Duration
}

func NewRedisLocker(log *logger.Logger, addr, prefix string, ttl time.Duration) (*RedisLocker, error) {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return nil, fmt.Errorf("missing redis addr")
	}
	rdb := goredis.NewClient(&goredis.Options{
		Addr:        addr,
		DialTimeout: 5 * time.Second,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return NewRedisLockerWithClient(log, rdb, prefix, ttl), nil
}

func NewRedisLockerWithClient(log *logger.Logger, rdb goredis.UniversalClient, prefix string, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	if strings.TrimSpace(prefix) == "" {
		prefix = "coursebuilder:lock:"
	}
	return &RedisLocker{rdb: rdb, log: log.With("component", "RedisLocker"), prefix: prefix, ttl: ttl}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string) (func(), bool, error) {
	token := uuid.NewString()
	full := l.prefix + key
	ok, err := l.rdb.SetNX(ctx, full, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("redis lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must happen even when the caller's ctx is already done.
			rctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			defer cancel()
			if err := releaseScript.Run(rctx, l.rdb, []string{full}, token).Err(); err != nil {
				l.log.Warn("redis lock release failed", "key", key, "error", err)
			}
		})
	}, true, nil
}

func (l *RedisLocker) IsHeld(ctx context.Context, key string) (bool, error) {
	n, err := l.rdb.Exists(ctx, l.prefix+key).Result()
	if err != nil {
		return false, fmt.Errorf("redis lock exists %s: %w", key, err)
	}
	return n > 0, nil
}

func (l *RedisLocker) Close() error {
	if l == nil || l.rdb == nil {
		return nil
	}
	return l.rdb.Close()
}
