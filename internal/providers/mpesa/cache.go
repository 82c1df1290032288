package mpesa

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/redis/v8"
)

type redisCmdable interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// RedisTokenCache keeps the OAuth token in redis so every api instance
// shares one token until it expires.
type RedisTokenCache struct {
	rdb redisCmdable
	key string
}

func NewRedisTokenCache(rdb redisCmdable, shortCode string) *RedisTokenCache {
	return &RedisTokenCache{rdb: rdb, key: "mpesa:token:" + shortCode}
}

func (c *RedisTokenCache) Get(ctx context.Context) (string, bool, error) {
	tok, err := c.rdb.Get(ctx, c.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return tok, tok != "", nil
}

func (c *RedisTokenCache) Set(ctx context.Context, token string, ttl time.Duration) error {
	return c.rdb.Set(ctx, c.key, token, ttl).Err()
}
