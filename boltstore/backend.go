// Package boltstore keeps a timevault event log in an embedded bbolt file
package boltstore

import (
	"context"
	"encoding/binary"
	"fmt"
	"path/filepath"
	"strings"

	"go.etcd.io/bbolt"

	"github.com/kode4food/timevault"
)

// Backend stores events in a single bucket keyed by big-endian sequence, so
// that cursor order is sequence order. Every append is its own fsynced
// transaction
type Backend struct {
	db *bbolt.DB
}

const eventsBucket = "events"

var _ timevault.Backend = (*Backend)(nil)

// Open opens or creates the bbolt file at the configured path
func Open(cfg Config) (*Backend, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	db, err := bbolt.Open(
		filepath.Clean(cfg.Path), 0o600, &bbolt.Options{Timeout: cfg.Timeout},
	)
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	b := &Backend{db: db}
	if err := b.ensureBuckets(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return b, nil
}

func (b *Backend) Append(ctx context.Context, ev *timevault.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := timevault.EncodeEvent(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(eventsBucket))
		if bucket == nil {
			return fmt.Errorf("events bucket is missing")
		}
		next := lastSequence(bucket) + 1
		if ev.Sequence != next {
			return &timevault.ConflictError{
				ExpectedSequence: ev.Sequence,
				ActualSequence:   next,
			}
		}
		return bucket.Put(sequenceKey(ev.Sequence), data)
	})
}

func (b *Backend) ReadFrom(
	ctx context.Context, fromSeq int64,
) ([]*timevault.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fromSeq = max(fromSeq, 1)

	res := []*timevault.Event{}
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(eventsBucket))
		if bucket == nil {
			return fmt.Errorf("events bucket is missing")
		}
		c := bucket.Cursor()
		for k, v := c.Seek(sequenceKey(fromSeq)); k != nil; k, v = c.Next() {
			ev, err := timevault.DecodeEvent(v, decodeSequence(k))
			if err != nil {
				return fmt.Errorf("unmarshal event: %w", err)
			}
			res = append(res, ev)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (b *Backend) Head(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var head int64
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(eventsBucket))
		if bucket == nil {
			return fmt.Errorf("events bucket is missing")
		}
		head = lastSequence(bucket)
		return nil
	})
	return head, err
}

// Close closes the underlying bbolt database
func (b *Backend) Close() error {
	if b == nil || b.db == nil {
		return nil
	}
	return b.db.Close()
}

func (b *Backend) ensureBuckets() error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(eventsBucket))
		if err != nil {
			return fmt.Errorf("create events bucket: %w", err)
		}
		return nil
	})
}

func lastSequence(bucket *bbolt.Bucket) int64 {
	k, _ := bucket.Cursor().Last()
	if k == nil {
		return 0
	}
	return decodeSequence(k)
}

func sequenceKey(seq int64) []byte {
	key := make([]byte, 8)
	binary.BigEndian.PutUint64(key, uint64(seq))
	return key
}

func decodeSequence(key []byte) int64 {
	return int64(binary.BigEndian.Uint64(key))
}
