package service

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisUnknownHWIDCache shares the negative cache across restarts. Cached
// hwids are stored hashed; an index set makes Flush cheap without SCAN.
type RedisUnknownHWIDCache struct {
	client redis.UniversalClient
	prefix string
}

func NewRedisUnknownHWIDCache(client redis.UniversalClient, prefix string) *RedisUnknownHWIDCache {
	if prefix == "" {
		prefix = "unknown_hwid"
	}
	return &RedisUnknownHWIDCache{client: client, prefix: prefix}
}

func (c *RedisUnknownHWIDCache) Seen(ctx context.Context, hwid string) (bool, error) {
	if c.client == nil {
		return false, nil
	}
	_, err := c.client.Get(ctx, c.dataKey(hwid)).Result()
	if err == redis.Nil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (c *RedisUnknownHWIDCache) Remember(ctx context.Context, hwid string, ttl time.Duration) error {
	if c.client == nil || ttl <= 0 {
		return nil
	}
	dataKey := c.dataKey(hwid)
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, dataKey, "1", ttl)
	pipe.SAdd(ctx, c.indexKey(), dataKey)
	pipe.Expire(ctx, c.indexKey(), ttl+time.Minute)
	_, err := pipe.Exec(ctx)
	return err
}

func (c *RedisUnknownHWIDCache) Flush(ctx context.Context) error {
	if c.client == nil {
		return nil
	}
	keys, err := c.client.SMembers(ctx, c.indexKey()).Result()
	if err != nil && err != redis.Nil {
		return err
	}
	pipe := c.client.TxPipeline()
	if len(keys) > 0 {
		pipe.Del(ctx, keys...)
	}
	pipe.Del(ctx, c.indexKey())
	_, err = pipe.Exec(ctx)
	return err
}

func (c *RedisUnknownHWIDCache) dataKey(hwid string) string {
	sum := sha256.Sum256([]byte(hwid))
	return fmt.Sprintf("%s:data:%s", c.prefix, hex.EncodeToString(sum[:16]))
}

func (c *RedisUnknownHWIDCache) indexKey() string {
	return c.prefix + ":index"
}
