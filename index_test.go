package timevault_test

import (
	"encoding/json"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kode4food/timevault"
)

func writeEvent(seq int64, id timevault.RecordID, sec int64) *timevault.Event {
	return &timevault.Event{
		Sequence:  seq,
		Timestamp: at(sec),
		Kind:      timevault.KindWrite,
		RecordID:  id,
		Payload:   json.RawMessage(`{}`),
	}
}

func rollbackEvent(seq int64, sec, target int64) *timevault.Event {
	return &timevault.Event{
		Sequence:  seq,
		Timestamp: at(sec),
		Kind:      timevault.KindRollback,
		Target:    ptr(at(target)),
	}
}

func TestIndexLookupAt(t *testing.T) {
	idx := timevault.NewVersionIndex()
	idx.Record(writeEvent(1, "a", 200))
	idx.Record(writeEvent(2, "a", 100))
	idx.Record(writeEvent(3, "a", 300))

	_, ok := idx.LookupAt("a", at(99))
	assert.False(t, ok)

	e, ok := idx.LookupAt("a", at(100))
	assert.True(t, ok)
	assert.Equal(t, int64(2), e.Sequence)

	e, ok = idx.LookupAt("a", at(250))
	assert.True(t, ok)
	assert.Equal(t, int64(1), e.Sequence)

	e, ok = idx.LookupAt("a", at(1000))
	assert.True(t, ok)
	assert.Equal(t, int64(3), e.Sequence)

	_, ok = idx.LookupAt("missing", at(1000))
	assert.False(t, ok)
}

func TestIndexTiesFavorLaterSequence(t *testing.T) {
	idx := timevault.NewVersionIndex()
	idx.Record(writeEvent(1, "a", 100))
	idx.Record(writeEvent(2, "a", 100))

	e, ok := idx.LookupAt("a", at(100))
	assert.True(t, ok)
	assert.Equal(t, int64(2), e.Sequence)
	assert.Equal(t, int64(2), e.Version)
}

func TestIndexVersions(t *testing.T) {
	idx := timevault.NewVersionIndex()
	idx.Record(writeEvent(1, "a", 300))
	idx.Record(writeEvent(2, "b", 50))
	idx.Record(writeEvent(3, "a", 100))

	versions := idx.Versions("a")
	assert.Len(t, versions, 2)
	assert.Equal(t, int64(3), versions[0].Sequence)
	assert.Equal(t, int64(2), versions[0].Version)
	assert.Equal(t, int64(1), versions[1].Sequence)
	assert.Equal(t, int64(1), versions[1].Version)

	assert.Equal(t, []timevault.RecordID{"a", "b"}, idx.Keys())
	assert.Equal(t, 3, idx.WriteCount())
}

func TestIndexKeysWithActivityBetween(t *testing.T) {
	idx := timevault.NewVersionIndex()
	idx.Record(writeEvent(1, "c", 100))
	idx.Record(writeEvent(2, "a", 200))
	idx.Record(writeEvent(3, "b", 300))
	idx.Record(writeEvent(4, "a", 250))

	assert.Equal(t,
		[]timevault.RecordID{"a", "b"}, idx.KeysWithActivityBetween(at(100), at(300)),
	)
	assert.Equal(t,
		[]timevault.RecordID{"a", "c"}, idx.KeysWithActivityBetween(at(99), at(299)),
	)
	assert.Empty(t, idx.KeysWithActivityBetween(at(300), at(400)))
	assert.Empty(t, idx.KeysWithActivityBetween(at(200), at(200)))
	assert.Empty(t, idx.KeysWithActivityBetween(at(0), at(50)))
}

func TestIndexHorizon(t *testing.T) {
	idx := timevault.NewVersionIndex()
	idx.Record(writeEvent(1, "a", 100))
	idx.Record(writeEvent(2, "a", 200))

	_, ok := idx.Horizon()
	assert.False(t, ok)

	idx.Record(rollbackEvent(3, 500, 150))
	h, ok := idx.Horizon()
	assert.True(t, ok)
	assert.True(t, h.Equal(at(150)))

	e, ok := idx.LookupAsOf("a", at(500))
	assert.True(t, ok)
	assert.Equal(t, int64(1), e.Sequence)

	e, ok = idx.LookupAsOf("a", at(120))
	assert.True(t, ok)
	assert.Equal(t, int64(1), e.Sequence)

	e, ok = idx.LookupAt("a", at(500))
	assert.True(t, ok)
	assert.Equal(t, int64(2), e.Sequence)

	idx.Record(rollbackEvent(4, 510, 50))
	_, ok = idx.LookupAsOf("a", at(500))
	assert.False(t, ok)

	idx.Record(writeEvent(5, "b", 600))
	_, ok = idx.Horizon()
	assert.False(t, ok)

	e, ok = idx.LookupAsOf("a", at(500))
	assert.True(t, ok)
	assert.Equal(t, int64(2), e.Sequence)
}

func TestIndexAffected(t *testing.T) {
	idx := timevault.NewVersionIndex()
	idx.Record(writeEvent(1, "a", 100))
	idx.Record(writeEvent(2, "b", 200))
	idx.Record(writeEvent(3, "c", 300))
	idx.Record(rollbackEvent(4, 500, 150))
	idx.Record(writeEvent(5, "d", 400))

	rbs := idx.Rollbacks()
	assert.Len(t, rbs, 1)
	assert.Equal(t, []timevault.RecordID{"b", "c"}, idx.Affected(rbs[0]))
}

func TestRebuildIndexMatchesIncremental(t *testing.T) {
	events := []*timevault.Event{
		writeEvent(1, "a", 300),
		writeEvent(2, "b", 100),
		rollbackEvent(3, 400, 200),
		writeEvent(4, "a", 100),
		writeEvent(5, "c", 250),
		rollbackEvent(6, 500, 150),
	}

	incremental := timevault.NewVersionIndex()
	for _, ev := range events {
		incremental.Record(ev)
	}
	rebuilt := timevault.RebuildIndex(slices.Values(events))

	assert.Equal(t, incremental.Keys(), rebuilt.Keys())
	for _, id := range incremental.Keys() {
		assert.Equal(t, incremental.Versions(id), rebuilt.Versions(id))
	}
	assert.Equal(t, incremental.Rollbacks(), rebuilt.Rollbacks())

	h1, ok1 := incremental.Horizon()
	h2, ok2 := rebuilt.Horizon()
	assert.Equal(t, ok1, ok2)
	assert.True(t, h1.Equal(h2))
}

func TestIndexLatestWrite(t *testing.T) {
	idx := timevault.NewVersionIndex()
	_, ok := idx.LatestWrite()
	assert.False(t, ok)

	idx.Record(writeEvent(1, "a", 200))
	idx.Record(writeEvent(2, "b", 100))
	idx.Record(rollbackEvent(3, 900, 150))

	latest, ok := idx.LatestWrite()
	assert.True(t, ok)
	assert.True(t, latest.Equal(at(200)))

	idx.Record(writeEvent(4, "a", 300))
	latest, _ = idx.LatestWrite()
	assert.True(t, latest.Equal(at(300)))
}
