package notify

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisReplayProtector implements ReplayProtector with SETNX semantics. A nil
// client disables the guard, which lets tests and single-node setups run
// without Redis.
type RedisReplayProtector struct {
	Client *redis.Client
}

// Acquire claims the delivery key for the TTL. False means another worker
// already sent this endpoint/event pair within the window.
func (r RedisReplayProtector) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.Client == nil {
		return true, nil
	}
	return r.Client.SetNX(ctx, key, "1", ttl).Result()
}

// Release drops the guard key so an admin replay can send again immediately.
func (r RedisReplayProtector) Release(ctx context.Context, key string) error {
	if r.Client == nil {
		return nil
	}
	return r.Client.Del(ctx, key).Err()
}
