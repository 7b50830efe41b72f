// Package redisstore keeps a timevault event log in a Redis (or Valkey) list
// and provides a Redis-backed resolve cache. Durability of the log follows
// the server's persistence settings; run it with AOF enabled
package redisstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/kode4food/timevault"
)

// Backend stores events in a Redis list, one JSON entry per sequence
type Backend struct {
	client         *redis.Client
	prefix         string
	appendEventLua *redis.Script
	getEventsLua   *redis.Script
}

const eventsSuffix = ":events"

var (
	_ timevault.Backend = (*Backend)(nil)

	ErrUnexpectedLuaResult = errors.New("unexpected result from Lua script")
)

// Connect creates a client for the configured server and checks that it
// answers
func Connect(ctx context.Context, cfg Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, RedisConnectTimeout)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return client, nil
}

// Open connects to Redis and returns a Backend that owns the client
func Open(ctx context.Context, cfg Config) (*Backend, error) {
	client, err := Connect(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewBackend(client, cfg.Prefix), nil
}

// NewBackend returns a Backend using an existing client. Closing the
// Backend closes the client
func NewBackend(client *redis.Client, prefix string) *Backend {
	return &Backend{
		client:         client,
		prefix:         prefix,
		appendEventLua: redis.NewScript(luaAppendEvent),
		getEventsLua:   redis.NewScript(luaGetEvents),
	}
}

// Client returns the underlying client, for sharing with a Cache
func (b *Backend) Client() *redis.Client {
	return b.client
}

func (b *Backend) Append(ctx context.Context, ev *timevault.Event) error {
	data, err := timevault.EncodeEvent(ev)
	if err != nil {
		return err
	}

	keys := []string{b.eventsKey()}
	result, err := b.appendEventLua.Run(
		ctx, b.client, keys, ev.Sequence, string(data),
	).Result()
	if err != nil {
		return err
	}

	res, ok := result.([]any)
	if !ok || len(res) < 2 {
		return ErrUnexpectedLuaResult
	}
	success, _ := res[0].(int64)
	seq, _ := res[1].(int64)

	if success == 0 {
		return &timevault.ConflictError{
			ExpectedSequence: ev.Sequence,
			ActualSequence:   seq,
		}
	}
	return nil
}

func (b *Backend) ReadFrom(
	ctx context.Context, fromSeq int64,
) ([]*timevault.Event, error) {
	fromSeq = max(fromSeq, 1)
	keys := []string{b.eventsKey()}

	result, err := b.getEventsLua.Run(ctx, b.client, keys, fromSeq).Result()
	if err != nil {
		return nil, err
	}

	items, ok := result.([]any)
	if !ok {
		return nil, ErrUnexpectedLuaResult
	}
	return unmarshalEvents(fromSeq, items)
}

func (b *Backend) Head(ctx context.Context) (int64, error) {
	return b.client.LLen(ctx, b.eventsKey()).Result()
}

func (b *Backend) Close() error {
	return b.client.Close()
}

func (b *Backend) eventsKey() string {
	return b.prefix + eventsSuffix
}

func unmarshalEvents(startSeq int64, data []any) ([]*timevault.Event, error) {
	events := make([]*timevault.Event, 0, len(data))
	for i, item := range data {
		str, ok := item.(string)
		if !ok {
			return nil, ErrUnexpectedLuaResult
		}
		ev, err := timevault.DecodeEvent([]byte(str), startSeq+int64(i))
		if err != nil {
			return nil, fmt.Errorf("decode event %d: %w", startSeq+int64(i), err)
		}
		events = append(events, ev)
	}
	return events, nil
}
