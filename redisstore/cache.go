package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/timevault"
)

// Cache stores resolved values as JSON strings with a Redis TTL
type Cache struct {
	client *redis.Client
	prefix string
}

const cacheInfix = ":cache:"

var _ timevault.Cache = (*Cache)(nil)

// NewCache returns a Cache using an existing client. The Cache does not
// close the client
func NewCache(client *redis.Client, prefix string) *Cache {
	return &Cache{client: client, prefix: prefix}
}

func (c *Cache) Get(
	ctx context.Context, key string,
) (timevault.Value, bool, error) {
	data, err := c.client.Get(ctx, c.buildKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return timevault.Value{}, false, nil
	}
	if err != nil {
		return timevault.Value{}, false, err
	}

	var v timevault.Value
	if err := json.Unmarshal(data, &v); err != nil {
		return timevault.Value{}, false, err
	}
	return v, true, nil
}

func (c *Cache) Put(
	ctx context.Context, key string, v timevault.Value, ttl time.Duration,
) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.buildKey(key), data, ttl).Err()
}

func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.client.Del(ctx, c.buildKey(key)).Err()
}

func (c *Cache) buildKey(key string) string {
	return c.prefix + cacheInfix + key
}
