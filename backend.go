package timevault

import (
	"context"
	"encoding/json"
)

// Backend is the durable medium behind an EventLog. Implementations must
// persist an event before Append returns, and must reject an event whose
// Sequence is not exactly one past their current head with a
// *ConflictError, leaving their contents untouched
type Backend interface {
	// Append durably stores one event
	Append(context.Context, *Event) error

	// ReadFrom returns every stored event with sequence >= the given one, in
	// sequence order
	ReadFrom(context.Context, int64) ([]*Event, error)

	// Head returns the highest stored sequence, or 0 when empty
	Head(context.Context) (int64, error)

	// Close releases the medium
	Close() error
}

// EncodeEvent is the JSON wire form shared by the bundled backends
func EncodeEvent(ev *Event) ([]byte, error) {
	return json.Marshal(ev)
}

// DecodeEvent parses an event written by EncodeEvent, forcing the sequence
// to the position it was stored at
func DecodeEvent(data []byte, seq int64) (*Event, error) {
	ev := &Event{}
	if err := json.Unmarshal(data, ev); err != nil {
		return nil, err
	}
	ev.Sequence = seq
	return ev, nil
}
