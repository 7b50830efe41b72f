package timevault

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

type (
	// DiffEngine compares two time slices of the store
	DiffEngine struct {
		log      *EventLog
		resolver *Resolver
	}

	// Change reports a record whose value differs between two instants
	Change struct {
		RecordID RecordID `json:"record_id"`
		Before   Value    `json:"before"`
		After    Value    `json:"after"`
	}

	// RecordDiff compares one record between two instants, field by field
	// when both values are JSON objects
	RecordDiff struct {
		RecordID RecordID      `json:"record_id"`
		Start    Value         `json:"start"`
		End      Value         `json:"end"`
		Changes  []FieldChange `json:"changes"`
	}

	// FieldChange is one differing top-level field. Field is empty when the
	// values are not both objects and are compared whole. A nil From or To
	// means the field was missing on that side
	FieldChange struct {
		Field string          `json:"field"`
		From  json.RawMessage `json:"from"`
		To    json.RawMessage `json:"to"`
	}
)

func newDiffEngine(log *EventLog, resolver *Resolver) *DiffEngine {
	return &DiffEngine{log: log, resolver: resolver}
}

// Compare returns, ordered by record id, every record whose resolved value
// at t1 differs from its value at t2. Both instants are read through the
// rollback horizon, so only records written in the clamped window are
// candidates
func (d *DiffEngine) Compare(t1, t2 time.Time) ([]Change, error) {
	if t1.After(t2) {
		return nil, invalidArgument(
			"compare start %s is after end %s",
			t1.Format(time.RFC3339Nano), t2.Format(time.RFC3339Nano),
		)
	}

	res := []Change{}
	d.log.read(func() {
		idx := d.log.index
		from, to := idx.clamp(t1), idx.clamp(t2)
		for _, id := range idx.KeysWithActivityBetween(from, to) {
			before := d.resolver.resolveLocked(id, t1)
			after := d.resolver.resolveLocked(id, t2)
			if before.Equal(after) {
				continue
			}
			res = append(res, Change{
				RecordID: id,
				Before:   before,
				After:    after,
			})
		}
	})

	now := d.resolver.clock()
	for i := range res {
		res[i].Before.Volatile = res[i].Before.Volatile || t1.After(now)
		res[i].After.Volatile = res[i].After.Volatile || t2.After(now)
	}
	return res, nil
}

// CompareRecord compares one record between start and end. A nil start
// defaults to the record's first write and a nil end to its last. The record
// must exist at both instants
func (d *DiffEngine) CompareRecord(
	id RecordID, start, end *time.Time,
) (*RecordDiff, error) {
	var res *RecordDiff
	var err error
	d.log.read(func() {
		versions := d.log.index.records[id]
		if len(versions) == 0 {
			err = ErrNotFound
			return
		}
		from := versions[0].Timestamp
		if start != nil {
			from = *start
		}
		to := versions[len(versions)-1].Timestamp
		if end != nil {
			to = *end
		}

		s := d.resolver.resolveLocked(id, from)
		e := d.resolver.resolveLocked(id, to)
		if !s.Exists || !e.Exists {
			err = ErrNotFound
			return
		}
		res = &RecordDiff{
			RecordID: id,
			Start:    s,
			End:      e,
			Changes:  fieldChanges(s.Payload, e.Payload),
		}
	})
	return res, err
}

func fieldChanges(from, to json.RawMessage) []FieldChange {
	var fromObj, toObj map[string]json.RawMessage
	errFrom := json.Unmarshal(from, &fromObj)
	errTo := json.Unmarshal(to, &toObj)
	if errFrom != nil || errTo != nil || fromObj == nil || toObj == nil {
		if PayloadEqual(from, to) {
			return []FieldChange{}
		}
		return []FieldChange{{From: from, To: to}}
	}

	fields := maps.Clone(fromObj)
	maps.Copy(fields, toObj)

	res := []FieldChange{}
	for _, f := range slices.Sorted(maps.Keys(fields)) {
		a, inFrom := fromObj[f]
		b, inTo := toObj[f]
		if inFrom == inTo && PayloadEqual(a, b) {
			continue
		}
		res = append(res, FieldChange{Field: f, From: a, To: b})
	}
	return res
}
