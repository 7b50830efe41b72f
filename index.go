package timevault

import (
	"iter"
	"maps"
	"slices"
	"sort"
	"time"
)

type (
	// VersionIndex is a point-in-time index derived from the event log. Each
	// record's writes are kept ordered by (Timestamp, Sequence), and a
	// store-wide timeline holds every write in the same order so that
	// activity between two instants can be found without scanning the log.
	//
	// A VersionIndex is not safe for concurrent use. The EventLog that owns
	// it serializes mutation against its readers
	VersionIndex struct {
		records    map[RecordID][]Entry
		counts     map[RecordID]int64
		timeline   []Entry
		rollbacks  []RollbackEntry
		latest     time.Time
		horizon    time.Time
		hasHorizon bool
	}

	// Entry locates a single write in the log
	Entry struct {
		Timestamp time.Time
		RecordID  RecordID
		Sequence  int64
		Version   int64
	}

	// RollbackEntry locates a rollback marker in the log
	RollbackEntry struct {
		Timestamp time.Time
		Target    time.Time
		Sequence  int64
	}
)

func NewVersionIndex() *VersionIndex {
	return &VersionIndex{
		records: map[RecordID][]Entry{},
		counts:  map[RecordID]int64{},
	}
}

// RebuildIndex derives a fresh index from a sequence of committed events
func RebuildIndex(events iter.Seq[*Event]) *VersionIndex {
	idx := NewVersionIndex()
	for ev := range events {
		idx.Record(ev)
	}
	return idx
}

// Record incorporates one committed event. A write adds an entry and ends
// any active rollback horizon; a rollback marker sets a new one
func (idx *VersionIndex) Record(ev *Event) {
	switch ev.Kind {
	case KindWrite:
		idx.counts[ev.RecordID]++
		e := Entry{
			Timestamp: ev.Timestamp,
			RecordID:  ev.RecordID,
			Sequence:  ev.Sequence,
			Version:   idx.counts[ev.RecordID],
		}
		idx.records[ev.RecordID] = insertOrdered(idx.records[ev.RecordID], e)
		idx.timeline = insertOrdered(idx.timeline, e)
		if ev.Timestamp.After(idx.latest) {
			idx.latest = ev.Timestamp
		}
		idx.hasHorizon = false
		idx.horizon = time.Time{}
	case KindRollback:
		if ev.Target == nil {
			return
		}
		idx.rollbacks = append(idx.rollbacks, RollbackEntry{
			Timestamp: ev.Timestamp,
			Target:    *ev.Target,
			Sequence:  ev.Sequence,
		})
		idx.horizon = *ev.Target
		idx.hasHorizon = true
	}
}

// LookupAsOf returns the latest write for the record with a timestamp at or
// before ts, where ts is first clamped to the active rollback horizon if the
// horizon is earlier
func (idx *VersionIndex) LookupAsOf(id RecordID, ts time.Time) (Entry, bool) {
	return idx.LookupAt(id, idx.clamp(ts))
}

// LookupAt returns the latest write for the record with a timestamp at or
// before ts, ignoring any rollback horizon. Writes sharing a timestamp are
// resolved in favor of the larger sequence
func (idx *VersionIndex) LookupAt(id RecordID, ts time.Time) (Entry, bool) {
	entries := idx.records[id]
	i := searchAfter(entries, ts)
	if i == 0 {
		return Entry{}, false
	}
	return entries[i-1], true
}

// KeysWithActivityBetween returns, sorted, every record with at least one
// write whose timestamp falls in (t1, t2]
func (idx *VersionIndex) KeysWithActivityBetween(t1, t2 time.Time) []RecordID {
	lo := searchAfter(idx.timeline, t1)
	hi := searchAfter(idx.timeline, t2)
	if hi <= lo {
		return []RecordID{}
	}
	seen := map[RecordID]struct{}{}
	for _, e := range idx.timeline[lo:hi] {
		seen[e.RecordID] = struct{}{}
	}
	return slices.Sorted(maps.Keys(seen))
}

// Horizon returns the active rollback horizon, if any
func (idx *VersionIndex) Horizon() (time.Time, bool) {
	return idx.horizon, idx.hasHorizon
}

// LatestWrite returns the largest write timestamp in the log. Writes may
// arrive out of timestamp order, so this is not necessarily the timestamp of
// the last write appended
func (idx *VersionIndex) LatestWrite() (time.Time, bool) {
	return idx.latest, len(idx.timeline) > 0
}

// Keys returns every record that has been written, sorted
func (idx *VersionIndex) Keys() []RecordID {
	return slices.Sorted(maps.Keys(idx.records))
}

// Versions returns a record's writes ordered by (Timestamp, Sequence)
func (idx *VersionIndex) Versions(id RecordID) []Entry {
	return slices.Clone(idx.records[id])
}

// Rollbacks returns every rollback marker in log order
func (idx *VersionIndex) Rollbacks() []RollbackEntry {
	return slices.Clone(idx.rollbacks)
}

// Affected returns, sorted, the records with a write committed before the
// marker whose timestamp is after the marker's target
func (idx *VersionIndex) Affected(rb RollbackEntry) []RecordID {
	lo := searchAfter(idx.timeline, rb.Target)
	seen := map[RecordID]struct{}{}
	for _, e := range idx.timeline[lo:] {
		if e.Sequence < rb.Sequence {
			seen[e.RecordID] = struct{}{}
		}
	}
	return slices.Sorted(maps.Keys(seen))
}

// WriteCount returns the number of indexed writes
func (idx *VersionIndex) WriteCount() int {
	return len(idx.timeline)
}

func (idx *VersionIndex) clamp(ts time.Time) time.Time {
	if idx.hasHorizon && idx.horizon.Before(ts) {
		return idx.horizon
	}
	return ts
}

func compareEntries(a, b Entry) int {
	if c := a.Timestamp.Compare(b.Timestamp); c != 0 {
		return c
	}
	switch {
	case a.Sequence < b.Sequence:
		return -1
	case a.Sequence > b.Sequence:
		return 1
	default:
		return 0
	}
}

func insertOrdered(entries []Entry, e Entry) []Entry {
	if n := len(entries); n == 0 || compareEntries(entries[n-1], e) < 0 {
		return append(entries, e)
	}
	i, _ := slices.BinarySearchFunc(entries, e, compareEntries)
	return slices.Insert(entries, i, e)
}

// searchAfter returns the position of the first entry later than ts
func searchAfter(entries []Entry, ts time.Time) int {
	return sort.Search(len(entries), func(i int) bool {
		return entries[i].Timestamp.After(ts)
	})
}
