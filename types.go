package timevault

import (
	"bytes"
	"encoding/json"
	"reflect"
	"slices"
	"time"
)

type (
	// RecordID identifies a record. It is opaque to the store
	RecordID string

	// EventKind distinguishes record writes from rollback markers
	EventKind string

	// Event is an immutable fact in the log. Sequence is assigned by the log
	// on append; Timestamp is the query key
	Event struct {
		Timestamp time.Time       `json:"timestamp"`
		Target    *time.Time      `json:"target,omitempty"`
		RecordID  RecordID        `json:"record_id,omitempty"`
		Kind      EventKind       `json:"kind"`
		Payload   json.RawMessage `json:"payload,omitempty"`
		Sequence  int64           `json:"sequence"`
	}

	// Value is a materialized record value. A Value that does not Exist
	// means the record had no write at or before the instant it was
	// resolved for
	Value struct {
		AsOf      time.Time       `json:"as_of"`
		Timestamp time.Time       `json:"timestamp,omitzero"`
		RecordID  RecordID        `json:"record_id"`
		Payload   json.RawMessage `json:"payload,omitempty"`
		Sequence  int64           `json:"sequence,omitempty"`
		Version   int64           `json:"version,omitempty"`
		Exists    bool            `json:"exists"`
		Volatile  bool            `json:"volatile,omitempty"`
	}
)

const (
	// KindWrite records a new value for a record
	KindWrite EventKind = "write"

	// KindRollback moves the store-wide horizon back to Event.Target
	KindRollback EventKind = "rollback-marker"
)

// Clone returns a deep copy of the Event
func (e *Event) Clone() *Event {
	res := *e
	res.Payload = slices.Clone(e.Payload)
	if e.Target != nil {
		t := *e.Target
		res.Target = &t
	}
	return &res
}

// Absent reports whether the record had no value
func (v Value) Absent() bool {
	return !v.Exists
}

// Cacheable reports whether the Value may be cached under the key of the
// instant it was resolved for. This holds as long as no write is later
// backfilled at or before that instant
func (v Value) Cacheable() bool {
	return !v.Volatile
}

// Equal compares two values structurally. Absent equals absent, and is never
// equal to a present payload
func (v Value) Equal(other Value) bool {
	if v.Exists != other.Exists {
		return false
	}
	if !v.Exists {
		return true
	}
	return PayloadEqual(v.Payload, other.Payload)
}

// Decode unmarshals the payload into target
func (v Value) Decode(target any) error {
	if !v.Exists {
		return ErrNotFound
	}
	return json.Unmarshal(v.Payload, target)
}

// PayloadEqual compares two JSON documents structurally, so key order and
// insignificant whitespace do not matter
func PayloadEqual(a, b json.RawMessage) bool {
	if bytes.Equal(a, b) {
		return true
	}
	av, err := decodeStructural(a)
	if err != nil {
		return false
	}
	bv, err := decodeStructural(b)
	if err != nil {
		return false
	}
	return reflect.DeepEqual(av, bv)
}

func decodeStructural(data json.RawMessage) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var res any
	if err := dec.Decode(&res); err != nil {
		return nil, err
	}
	return res, nil
}

func absentValue(id RecordID, asOf time.Time) Value {
	return Value{RecordID: id, AsOf: asOf}
}

func materialize(ev *Event, version int64, asOf time.Time) Value {
	return Value{
		AsOf:      asOf,
		Timestamp: ev.Timestamp,
		RecordID:  ev.RecordID,
		Payload:   slices.Clone(ev.Payload),
		Sequence:  ev.Sequence,
		Version:   version,
		Exists:    true,
	}
}
