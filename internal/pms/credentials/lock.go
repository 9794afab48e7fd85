package credentials

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Unlock releases a lock obtained from a Locker.
type Unlock func(ctx context.Context) error

// Locker serializes token refreshes across processes.
type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, bool, error)
}

// NoopLocker always grants the lock. Used when Redis is not configured.
type NoopLocker struct{}

func (NoopLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	return func(context.Context) error { return nil }, true, nil
}

// releaseScript deletes the key only if we still own it.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisLocker implements Locker with SET NX PX.
type RedisLocker struct {
	client redis.Cmdable
	prefix string
}

// NewRedisLocker creates a locker. prefix namespaces the lock keys.
func NewRedisLocker(client redis.Cmdable, prefix string) *RedisLocker {
	if client == nil {
		panic("credentials: redis client required")
	}
	if prefix == "" {
		prefix = "pms:refresh-lock:"
	}
	return &RedisLocker{client: client, prefix: prefix}
}

func (l *RedisLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (Unlock, bool, error) {
	fullKey := l.prefix + key
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, fullKey, token, ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("credentials: acquire lock %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}
	unlock := func(ctx context.Context) error {
		if err := releaseScript.Run(ctx, l.client, []string{fullKey}, token).Err(); err != nil && err != redis.Nil {
			return fmt.Errorf("credentials: release lock %s: %w", key, err)
		}
		return nil
	}
	return unlock, true, nil
}
