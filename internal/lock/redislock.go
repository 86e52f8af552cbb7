package lock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unlockScript deletes the lock only while it still carries the holder's
// token. A lock that expired and was re-acquired by another worker must never
// be released from under the new holder.
var unlockScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
else
  return 0
end`)

// Locker is a Redis-backed mutual exclusion primitive. Delivery status
// transitions and webhook dispatches take one per aggregate so concurrent
// workers cannot interleave their writes.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
}

// Key builds a namespaced lock key, e.g. Key("delivery", id) -> "antar:lock:delivery:<id>".
func Key(parts ...string) string {
	return "antar:lock:" + strings.Join(parts, ":")
}

// WithLock runs fn while holding the key. Acquisition retries on RetryBackoff
// until the context ends; the lock is released afterwards even when fn fails.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if l.R == nil {
		return errors.New("lock: redis client not configured")
	}
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}

	token := uuid.NewString()
	for {
		acquired, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return err
		}
		if acquired {
			break
		}
		timer := time.NewTimer(retry)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}

	defer func() {
		// The release must still run when the request context is already done.
		_ = unlockScript.Run(context.Background(), l.R, []string{key}, token).Err()
	}()
	return fn(ctx)
}
