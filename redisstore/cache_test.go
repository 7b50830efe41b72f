package redisstore_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"

	"github.com/kode4food/timevault"
	"github.com/kode4food/timevault/redisstore"
)

func TestCacheRoundTrip(t *testing.T) {
	server, err := miniredis.Run()
	assert.NoError(t, err)
	defer server.Close()

	b := openBackend(t, server, "cache")
	defer func() { _ = b.Close() }()
	cache := redisstore.NewCache(b.Client(), "cache")

	ctx := context.Background()
	key := timevault.CacheKey("abc", at(150))

	_, ok, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.False(t, ok)

	v := timevault.Value{
		AsOf:      at(150),
		Timestamp: at(100),
		RecordID:  "abc",
		Payload:   json.RawMessage(`{"name":"John"}`),
		Sequence:  1,
		Version:   1,
		Exists:    true,
	}
	assert.NoError(t, cache.Put(ctx, key, v, time.Minute))
	assert.True(t, server.Exists("cache:cache:"+key))

	got, ok, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Equal(v))
	assert.True(t, got.AsOf.Equal(v.AsOf))
	assert.Equal(t, v.Sequence, got.Sequence)

	server.FastForward(time.Minute)
	_, ok, err = cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheDelete(t *testing.T) {
	server, err := miniredis.Run()
	assert.NoError(t, err)
	defer server.Close()

	b := openBackend(t, server, "del")
	defer func() { _ = b.Close() }()
	cache := redisstore.NewCache(b.Client(), "del")

	ctx := context.Background()
	key := timevault.CurrentCacheKey("abc")
	assert.NoError(t, cache.Put(ctx, key, timevault.Value{RecordID: "abc"}, 0))
	assert.True(t, server.Exists("del:cache:"+key))

	assert.NoError(t, cache.Delete(ctx, key))
	assert.False(t, server.Exists("del:cache:"+key))
	assert.NoError(t, cache.Delete(ctx, key))
}

func TestCacheAbsentValues(t *testing.T) {
	server, err := miniredis.Run()
	assert.NoError(t, err)
	defer server.Close()

	b := openBackend(t, server, "absent")
	defer func() { _ = b.Close() }()
	cache := redisstore.NewCache(b.Client(), "absent")

	ctx := context.Background()
	key := timevault.CacheKey("abc", at(50))
	assert.NoError(t, cache.Put(ctx, key, timevault.Value{
		RecordID: "abc", AsOf: at(50),
	}, 0))

	got, ok, err := cache.Get(ctx, key)
	assert.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, got.Absent())
	assert.Nil(t, got.Payload)
}

func TestCacheCorruptEntry(t *testing.T) {
	server, err := miniredis.Run()
	assert.NoError(t, err)
	defer server.Close()

	b := openBackend(t, server, "bad")
	defer func() { _ = b.Close() }()
	cache := redisstore.NewCache(b.Client(), "bad")

	assert.NoError(t, server.Set("bad:cache:k", "{"))
	_, ok, err := cache.Get(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, ok)
}

func TestCachedResolverOverRedis(t *testing.T) {
	server, err := miniredis.Run()
	assert.NoError(t, err)
	defer server.Close()

	ctx := context.Background()
	b := openBackend(t, server, "resolver")
	cfg := timevault.DefaultConfig()
	cfg.Clock = func() time.Time { return at(1000) }

	v, err := timevault.Open(ctx, b, cfg)
	assert.NoError(t, err)
	defer func() { _ = v.Close() }()

	_, err = v.WriteAt(ctx, "abc", json.RawMessage(`{"name":"John"}`), at(100))
	assert.NoError(t, err)

	cacheCfg := timevault.DefaultCacheConfig()
	cacheCfg.WorkerCount = 0
	cr := timevault.NewCachedResolver(
		v, redisstore.NewCache(b.Client(), "resolver"), cacheCfg,
	)
	defer cr.Close()

	first := cr.Resolve(ctx, "abc", at(150))
	assert.True(t, first.Exists)
	assert.True(t,
		server.Exists("resolver:cache:"+timevault.CacheKey("abc", at(150))),
	)

	second := cr.Resolve(ctx, "abc", at(150))
	assert.True(t, first.Equal(second))
}
