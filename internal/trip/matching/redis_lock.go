package matching

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultLockPrefix = "lock:location:"

const unlockLua = `
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`

// RedisLocationLock coordinates location locks across processes relying on
// Redis SET NX PX semantics. Release compares the token before deleting.
type RedisLocationLock struct {
	client    redis.Cmdable
	keyPrefix string
	unlock    *redis.Script
}

// NewRedisLocationLock constructs the lock helper.
func NewRedisLocationLock(client redis.Cmdable, prefix string) *RedisLocationLock {
	if prefix == "" {
		prefix = defaultLockPrefix
	}
	return &RedisLocationLock{client: client, keyPrefix: prefix, unlock: redis.NewScript(unlockLua)}
}

// TryLock attempts to acquire the location using SET NX PX.
func (r *RedisLocationLock) TryLock(ctx context.Context, location, token string, ttl time.Duration) (bool, error) {
	if ttl <= 0 {
		ttl = 5 * time.Second
	}
	ok, err := r.client.SetNX(ctx, r.keyPrefix+location, token, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("redis setnx: %w", err)
	}
	return ok, nil
}

// Unlock removes the lock if token still owns it.
func (r *RedisLocationLock) Unlock(ctx context.Context, location, token string) error {
	if err := r.unlock.Run(ctx, r.client, []string{r.keyPrefix + location}, token).Err(); err != nil {
		return fmt.Errorf("redis unlock: %w", err)
	}
	return nil
}
