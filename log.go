package timevault

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"iter"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

type (
	// EventLog is the append-only source of truth. It mirrors the committed
	// contents of its Backend and owns the VersionIndex derived from them.
	// Appends are serialized; the mirror and the index are published together
	// under one lock, so readers see either all of an append or none of it
	EventLog struct {
		backend    Backend
		logger     *zap.Logger
		hub        atomic.Pointer[EventHub]
		index      *VersionIndex
		events     []*Event
		maxRetries int
		hubOnce    sync.Once
		appendMu   sync.Mutex
		mu         sync.RWMutex
	}

	// appendCheck is evaluated under the append lock against the index of
	// everything committed so far. The index only changes under that lock, so
	// it is stable while the check runs
	appendCheck func(idx *VersionIndex) error
)

func openEventLog(
	ctx context.Context, backend Backend, logger *zap.Logger, maxRetries int,
) (*EventLog, error) {
	l := &EventLog{
		backend:    backend,
		logger:     logger,
		index:      NewVersionIndex(),
		events:     []*Event{},
		maxRetries: maxRetries,
	}

	l.appendMu.Lock()
	defer l.appendMu.Unlock()
	if err := l.catchUp(ctx); err != nil {
		return nil, err
	}
	return l, nil
}

// Append validates and durably appends an event, returning its assigned
// sequence number. The event passed in is not modified
func (l *EventLog) Append(ctx context.Context, ev *Event) (int64, error) {
	return l.appendIf(ctx, ev, nil)
}

func (l *EventLog) appendIf(
	ctx context.Context, ev *Event, check appendCheck,
) (int64, error) {
	if err := validateEvent(ev); err != nil {
		return 0, err
	}

	rec := normalizeEvent(ev)

	l.appendMu.Lock()
	defer l.appendMu.Unlock()

	for range l.maxRetries {
		if check != nil {
			if err := check(l.index); err != nil {
				return 0, err
			}
		}

		rec.Sequence = int64(len(l.events)) + 1

		err := l.backend.Append(ctx, rec)
		if err == nil {
			l.publish(rec)
			l.logger.Debug("Event appended",
				zap.Int64("sequence", rec.Sequence),
				zap.String("kind", string(rec.Kind)),
				zap.String("record_id", string(rec.RecordID)),
				zap.Time("timestamp", rec.Timestamp),
			)
			return rec.Sequence, nil
		}

		var conflict *ConflictError
		if !errors.As(err, &conflict) {
			l.logger.Error("Failed to append event",
				zap.Int64("sequence", rec.Sequence),
				zap.String("kind", string(rec.Kind)),
				zap.Error(err),
			)
			return 0, &PersistenceError{
				Op:       "append",
				Sequence: rec.Sequence,
				Err:      err,
			}
		}

		l.logger.Warn("Append conflict, catching up with backend",
			zap.Int64("expected_sequence", conflict.ExpectedSequence),
			zap.Int64("actual_sequence", conflict.ActualSequence),
		)
		if err := l.catchUp(ctx); err != nil {
			return 0, err
		}
	}

	return 0, ErrMaxRetriesExceeded
}

// ReadFrom returns the committed events with sequence >= seq. The sequence
// ends at the head observed when iteration starts, and can be iterated again
// with the same result for the same range
func (l *EventLog) ReadFrom(seq int64) iter.Seq[*Event] {
	return func(yield func(*Event) bool) {
		head := l.Head()
		for s := max(seq, 1); s <= head; s++ {
			ev, ok := l.Event(s)
			if !ok || !yield(ev) {
				return
			}
		}
	}
}

// Event returns a copy of the committed event at seq
func (l *EventLog) Event(seq int64) (*Event, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	ev := l.eventLocked(seq)
	if ev == nil {
		return nil, false
	}
	return ev.Clone(), true
}

// Head returns the sequence of the latest committed event, or 0
func (l *EventLog) Head() int64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return int64(len(l.events))
}

// Refresh incorporates events appended to the Backend by other writers
func (l *EventLog) Refresh(ctx context.Context) error {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()
	return l.catchUp(ctx)
}

// Hub returns the EventHub that committed events are published on. The hub
// is created on first use; nothing is published before that
func (l *EventLog) Hub() *EventHub {
	l.hubOnce.Do(func() {
		l.hub.Store(newEventHub())
	})
	return l.hub.Load()
}

// read runs fn while holding the reader lock, giving it a consistent view of
// the mirror and the index
func (l *EventLog) read(fn func()) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	fn()
}

func (l *EventLog) eventLocked(seq int64) *Event {
	if seq < 1 || seq > int64(len(l.events)) {
		return nil
	}
	return l.events[seq-1]
}

// catchUp must be called with appendMu held
func (l *EventLog) catchUp(ctx context.Context) error {
	next := int64(len(l.events)) + 1
	evs, err := l.backend.ReadFrom(ctx, next)
	if err != nil {
		return &PersistenceError{Op: "read", Sequence: next, Err: err}
	}
	for i, ev := range evs {
		if ev.Sequence != next+int64(i) {
			return &PersistenceError{
				Op:       "read",
				Sequence: next + int64(i),
				Err: fmt.Errorf(
					"backend returned sequence %d out of order", ev.Sequence,
				),
			}
		}
	}
	if len(evs) > 0 {
		l.publish(evs...)
		l.logger.Info("Incorporated events from backend",
			zap.Int64("from_sequence", next),
			zap.Int("count", len(evs)),
		)
	}
	return nil
}

// publish must be called with appendMu held, which keeps hub delivery in log
// order
func (l *EventLog) publish(evs ...*Event) {
	l.mu.Lock()
	for _, ev := range evs {
		l.events = append(l.events, ev)
		l.index.Record(ev)
	}
	l.mu.Unlock()
	if h := l.hub.Load(); h != nil {
		h.publish(evs...)
	}
}

// close stops hub delivery. Appends already in flight finish first
func (l *EventLog) close() {
	l.appendMu.Lock()
	defer l.appendMu.Unlock()
	if h := l.hub.Load(); h != nil {
		h.close()
	}
}

// normalizeEvent returns a copy of ev in the form the backends persist it:
// compact JSON and UTC timestamps without a monotonic reading
func normalizeEvent(ev *Event) *Event {
	rec := ev.Clone()
	rec.Timestamp = rec.Timestamp.UTC()
	if rec.Target != nil {
		t := rec.Target.UTC()
		rec.Target = &t
	}
	if len(rec.Payload) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, rec.Payload); err == nil {
			rec.Payload = buf.Bytes()
		}
	}
	return rec
}

func validateEvent(ev *Event) error {
	if ev == nil {
		return &ValidationError{Field: "event", Reason: "is required"}
	}
	if ev.Timestamp.IsZero() {
		return &ValidationError{Field: "timestamp", Reason: "is required"}
	}

	switch ev.Kind {
	case KindWrite:
		if ev.RecordID == "" {
			return &ValidationError{
				Field: "record_id", Reason: "is required for write events",
			}
		}
		if len(ev.Payload) == 0 {
			return &ValidationError{
				Field: "payload", Reason: "is required for write events",
			}
		}
		if !json.Valid(ev.Payload) {
			return &ValidationError{Field: "payload", Reason: "is not valid JSON"}
		}
		if ev.Target != nil {
			return &ValidationError{
				Field: "target", Reason: "is only allowed on rollback markers",
			}
		}
	case KindRollback:
		if ev.Target == nil || ev.Target.IsZero() {
			return &ValidationError{
				Field: "target", Reason: "is required for rollback markers",
			}
		}
		if len(ev.Payload) != 0 {
			return &ValidationError{
				Field: "payload", Reason: "is not allowed on rollback markers",
			}
		}
	default:
		return &ValidationError{
			Field: "kind", Reason: fmt.Sprintf("%q is unknown", ev.Kind),
		}
	}
	return nil
}
