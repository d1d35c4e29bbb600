// Package namecache keeps a Redis set of taken usernames in front of the
// account store so signup can reject most clashes without a database read.
//
// The cache is advisory. A miss never proves a name is free; the store's
// unique index decides.
package namecache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// DefaultKey is the Redis set holding every known username.
const DefaultKey = "usernames"

// ErrRedisUnavailable wraps Redis command failures.
var ErrRedisUnavailable = errors.New("namecache: redis unavailable")

// Cache is a Redis-set backed username index.
type Cache struct {
	redis redis.UniversalClient
	key   string
}

// New returns a Cache storing names under key, or DefaultKey when empty.
func New(client redis.UniversalClient, key string) *Cache {
	if key == "" {
		key = DefaultKey
	}
	return &Cache{redis: client, key: key}
}

// IsTaken reports whether username is in the set.
func (c *Cache) IsTaken(ctx context.Context, username string) (bool, error) {
	ok, err := c.redis.SIsMember(ctx, c.key, normalize(username)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ok, nil
}

// Add records username as taken.
func (c *Cache) Add(ctx context.Context, username string) error {
	if err := c.redis.SAdd(ctx, c.key, normalize(username)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Remove frees username.
func (c *Cache) Remove(ctx context.Context, username string) error {
	if err := c.redis.SRem(ctx, c.key, normalize(username)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Seed adds every name in one round trip. Used at startup to warm the set
// from the store.
func (c *Cache) Seed(ctx context.Context, usernames []string) error {
	if len(usernames) == 0 {
		return nil
	}
	members := make([]any, 0, len(usernames))
	for _, u := range usernames {
		members = append(members, normalize(u))
	}
	if err := c.redis.SAdd(ctx, c.key, members...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
