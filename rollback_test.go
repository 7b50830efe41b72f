package timevault_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/timevault"
)

func TestRollbackRejectsInvalidTargets(t *testing.T) {
	ctx := context.Background()
	v := openVault(t, timevault.NewMemoryBackend(), newTestClock(1000))

	_, err := v.Rollback(ctx, at(100))
	assert.ErrorIs(t, err, timevault.ErrInvalidArgument)
	assert.Equal(t, int64(0), v.Head())

	seedNames(t, v)

	_, err = v.Rollback(ctx, at(201))
	assert.ErrorIs(t, err, timevault.ErrInvalidArgument)

	_, err = v.Rollback(ctx, time.Time{})
	assert.ErrorIs(t, err, timevault.ErrInvalidArgument)

	assert.Equal(t, int64(2), v.Head())
	assert.Empty(t, v.Rollbacks(0))
	_, ok := v.Horizon()
	assert.False(t, ok)
}

func TestRollbackBeforeFirstWrite(t *testing.T) {
	ctx := context.Background()
	v := openVault(t, timevault.NewMemoryBackend(), newTestClock(1000))
	seedNames(t, v)

	_, err := v.Rollback(ctx, at(10))
	assert.NoError(t, err)
	assert.True(t, v.Current("abc").Absent())
	assert.Empty(t, v.CurrentState())
}

func TestRollbackAtLatestTimestamp(t *testing.T) {
	ctx := context.Background()
	v := openVault(t, timevault.NewMemoryBackend(), newTestClock(1000))
	seedNames(t, v)

	_, err := v.Rollback(ctx, at(200))
	assert.NoError(t, err)
	assert.JSONEq(t, `{"name":"Jane"}`, string(v.Current("abc").Payload))

	_, err = v.Rollback(ctx, at(1000))
	assert.ErrorIs(t, err, timevault.ErrInvalidArgument)
	_, err = v.Rollback(ctx, at(201))
	assert.ErrorIs(t, err, timevault.ErrInvalidArgument)
	assert.Len(t, v.Rollbacks(0), 1)
}

func TestRollbackAfterBackfilledWrite(t *testing.T) {
	ctx := context.Background()
	v := openVault(t, timevault.NewMemoryBackend(), newTestClock(1000))
	writeAt(t, v, "abc", `{"name":"Jane"}`, 200)
	writeAt(t, v, "xyz", `{"n":1}`, 100)

	_, err := v.Rollback(ctx, at(150))
	assert.NoError(t, err)
	assert.True(t, v.Current("abc").Absent())
	assert.JSONEq(t, `{"n":1}`, string(v.Current("xyz").Payload))

	_, err = v.Rollback(ctx, at(200))
	assert.NoError(t, err)
	assert.JSONEq(t, `{"name":"Jane"}`, string(v.Current("abc").Payload))
}

func TestRollbackIsNonDestructive(t *testing.T) {
	ctx := context.Background()
	v := openVault(t, timevault.NewMemoryBackend(), newTestClock(1000))
	seedNames(t, v)

	var before []*timevault.Event
	for ev := range v.Events(1) {
		before = append(before, ev)
	}

	seq, err := v.Rollback(ctx, at(100))
	assert.NoError(t, err)

	var after []*timevault.Event
	for ev := range v.Events(1) {
		after = append(after, ev)
	}
	assert.Len(t, after, len(before)+1)
	assert.Equal(t, before, after[:len(before)])

	marker := after[len(after)-1]
	assert.Equal(t, seq, marker.Sequence)
	assert.Equal(t, timevault.KindRollback, marker.Kind)
	assert.True(t, marker.Target.Equal(at(100)))
	assert.True(t, marker.Timestamp.Equal(at(1000)))
	assert.Empty(t, marker.Payload)
}

func TestLaterRollbackSupersedes(t *testing.T) {
	ctx := context.Background()
	v := openVault(t, timevault.NewMemoryBackend(), newTestClock(1000))
	seedNames(t, v)

	_, err := v.Rollback(ctx, at(100))
	assert.NoError(t, err)
	assert.JSONEq(t, `{"name":"John"}`, string(v.Current("abc").Payload))

	_, err = v.Rollback(ctx, at(200))
	assert.NoError(t, err)
	assert.JSONEq(t, `{"name":"Jane"}`, string(v.Current("abc").Payload))

	h, ok := v.Horizon()
	assert.True(t, ok)
	assert.True(t, h.Equal(at(200)))
}

func TestRollbackAffectsEveryRecord(t *testing.T) {
	ctx := context.Background()
	v := openVault(t, timevault.NewMemoryBackend(), newTestClock(1000))
	seedNames(t, v)
	writeAt(t, v, "def", `{"name":"Bob"}`, 150)
	writeAt(t, v, "ghi", `{"name":"Ann"}`, 50)

	_, err := v.Rollback(ctx, at(120))
	assert.NoError(t, err)

	assert.JSONEq(t, `{"name":"John"}`, string(v.Current("abc").Payload))
	assert.True(t, v.Current("def").Absent())
	assert.JSONEq(t, `{"name":"Ann"}`, string(v.Current("ghi").Payload))

	writeAt(t, v, "ghi", `{"name":"Amy"}`, 300)
	assert.JSONEq(t, `{"name":"Jane"}`, string(v.Current("abc").Payload))
	assert.JSONEq(t, `{"name":"Bob"}`, string(v.Current("def").Payload))
}

func TestRollbackHistory(t *testing.T) {
	ctx := context.Background()
	clock := newTestClock(1000)
	v := openVault(t, timevault.NewMemoryBackend(), clock)
	seedNames(t, v)
	writeAt(t, v, "def", `{"name":"Bob"}`, 150)

	_, err := v.Rollback(ctx, at(120))
	assert.NoError(t, err)
	clock.Set(1100)
	_, err = v.Rollback(ctx, at(50))
	assert.NoError(t, err)

	all := v.Rollbacks(0)
	assert.Len(t, all, 2)
	assert.True(t, all[0].Target.Equal(at(50)))
	assert.True(t, all[0].Timestamp.Equal(at(1100)))
	assert.Equal(t, int64(5), all[0].Sequence)
	assert.Equal(t,
		[]timevault.RecordID{"abc", "def"}, all[0].Affected,
	)
	assert.True(t, all[1].Target.Equal(at(120)))
	assert.Equal(t, []timevault.RecordID{"abc", "def"}, all[1].Affected)

	limited := v.Rollbacks(1)
	assert.Len(t, limited, 1)
	assert.Equal(t, all[0], limited[0])
}
