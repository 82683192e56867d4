package elevatr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// A RedisCache is a TileStore in Redis, allowing several processes to share
// fetched tiles.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// A RedisCacheOption sets an option on a RedisCache.
type RedisCacheOption func(*RedisCache)

// NewRedisCache returns a new RedisCache storing keys under prefix.
func NewRedisCache(client *redis.Client, prefix string, options ...RedisCacheOption) *RedisCache {
	c := &RedisCache{
		client: client,
		prefix: prefix,
	}
	for _, option := range options {
		option(c)
	}
	return c
}

// WithRedisTTL sets the expiry of stored tiles. Zero means no expiry.
func WithRedisTTL(ttl time.Duration) RedisCacheOption {
	return func(c *RedisCache) {
		c.ttl = ttl
	}
}

func (c *RedisCache) Location() string {
	options := c.client.Options()
	return fmt.Sprintf("redis://%s/%d/%s", options.Addr, options.DB, c.prefix)
}

func (c *RedisCache) redisKey(key CacheKey) string {
	return c.prefix + key.Path()
}

func (c *RedisCache) Lookup(ctx context.Context, key CacheKey) ([]byte, bool, error) {
	switch data, err := c.client.Get(ctx, c.redisKey(key)).Bytes(); {
	case errors.Is(err, redis.Nil):
		return nil, false, nil
	case err != nil:
		return nil, false, err
	default:
		return data, true, nil
	}
}

// Store sets the key in a single command, so readers see either the old or
// the new value.
func (c *RedisCache) Store(ctx context.Context, key CacheKey, data []byte) error {
	return c.client.Set(ctx, c.redisKey(key), data, c.ttl).Err()
}

// Purge deletes every key under c's prefix.
func (c *RedisCache) Purge(ctx context.Context) error {
	iter := c.client.Scan(ctx, 0, c.prefix+"*", 256).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
		if len(keys) == 256 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return err
			}
			keys = keys[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return err
	}
	if len(keys) > 0 {
		return c.client.Del(ctx, keys...).Err()
	}
	return nil
}
