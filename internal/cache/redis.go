package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned when no entry exists for the requested link.
var ErrCacheMiss = errors.New("cache miss")

// keyPrefix namespaces link entries inside the shared Redis keyspace.
const keyPrefix = "panel:link:"

// LinkCache is the ephemeral id → locator mapping. It only ever accelerates
// reads; the authoritative store decides existence and expiry.
type LinkCache struct {
	client *redis.Client
}

func NewLinkCache(client *redis.Client) *LinkCache {
	return &LinkCache{
		client: client,
	}
}

func key(id string) string {
	return keyPrefix + id
}

// Set stores the locator for a link with a server-side TTL. The caller is
// responsible for never passing a TTL that outlives the link's remaining lifetime.
func (c *LinkCache) Set(ctx context.Context, id, locator string, ttl time.Duration) error {
	const op = "cache.LinkCache.Set"

	if err := c.client.Set(ctx, key(id), locator, ttl).Err(); err != nil {
		return fmt.Errorf("%s: failed to set cache entry: %w", op, err)
	}

	return nil
}

func (c *LinkCache) Get(ctx context.Context, id string) (string, error) {
	const op = "cache.LinkCache.Get"

	locator, err := c.client.Get(ctx, key(id)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("%s: %w", op, ErrCacheMiss)
		}

		return "", fmt.Errorf("%s: failed to get cache entry: %w", op, err)
	}

	return locator, nil
}

func (c *LinkCache) Del(ctx context.Context, id string) error {
	const op = "cache.LinkCache.Del"

	if err := c.client.Del(ctx, key(id)).Err(); err != nil {
		return fmt.Errorf("%s: failed to delete cache entry: %w", op, err)
	}

	return nil
}

func (c *LinkCache) Exists(ctx context.Context, id string) (bool, error) {
	const op = "cache.LinkCache.Exists"

	n, err := c.client.Exists(ctx, key(id)).Result()
	if err != nil {
		return false, fmt.Errorf("%s: failed to check cache entry: %w", op, err)
	}

	return n > 0, nil
}
