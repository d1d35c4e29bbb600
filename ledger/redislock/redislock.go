package redislock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrRedisUnavailable is returned when Redis cannot be reached.
	ErrRedisUnavailable = errors.New("redislock: redis unavailable")
	// ErrNotHeld is returned by unlock when the lock expired or was taken over.
	ErrNotHeld = errors.New("redislock: lock not held")
)

// Only the holder's token may delete the key.
const releaseScript = `
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`

var releaseLua = redis.NewScript(releaseScript)

// Locker implements a single-instance Redis lock with SET NX PX.
type Locker struct {
	redis redis.UniversalClient
	retry time.Duration
}

// New returns a Locker polling every retry while waiting. Zero uses 10ms.
func New(client redis.UniversalClient, retry time.Duration) *Locker {
	if retry <= 0 {
		retry = 10 * time.Millisecond
	}
	return &Locker{redis: client, retry: retry}
}

// Lock blocks until key is acquired or ctx is done. The lock expires after
// ttl even if never released.
func (l *Locker) Lock(ctx context.Context, key string, ttl time.Duration) (func(context.Context) error, error) {
	token := uuid.NewString()

	ticker := time.NewTicker(l.retry)
	defer ticker.Stop()

	for {
		ok, err := l.redis.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
		if ok {
			return func(ctx context.Context) error {
				return l.release(ctx, key, token)
			}, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (l *Locker) release(ctx context.Context, key, token string) error {
	n, err := releaseLua.Run(ctx, l.redis, []string{key}, token).Int64()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if n == 0 {
		return ErrNotHeld
	}
	return nil
}
