package timevault

import (
	"context"
	"encoding/json"
	"iter"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Vault is a temporal record store over a Backend. It is safe for concurrent
// use: writes are serialized, and reads run concurrently with each other and
// with writes
type Vault struct {
	config   Config
	backend  Backend
	log      *EventLog
	resolver *Resolver
	rollback *RollbackEngine
	diff     *DiffEngine
	logger   *zap.Logger
	metrics  *Metrics
	closed   atomic.Bool
}

const (
	opWrite         = "write"
	opResolve       = "resolve"
	opCurrent       = "current"
	opRollback      = "rollback"
	opCompare       = "compare"
	opCompareRecord = "compare_record"
	opQuery         = "query"
	opRefresh       = "refresh"
	opArchive       = "archive"
)

// Open replays the Backend into a new Vault, rebuilding the version index
// from the log
func Open(ctx context.Context, backend Backend, cfg Config) (*Vault, error) {
	cfg = cfg.withDefaults()

	log, err := openEventLog(ctx, backend, cfg.Logger, cfg.MaxRetries)
	if err != nil {
		return nil, err
	}

	resolver := newResolver(log, cfg.Clock)
	v := &Vault{
		config:   cfg,
		backend:  backend,
		log:      log,
		resolver: resolver,
		rollback: newRollbackEngine(log, cfg.Clock, cfg.Logger),
		diff:     newDiffEngine(log, resolver),
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
	}

	cfg.Logger.Info("Vault opened",
		zap.Int64("head", log.Head()),
	)
	return v, nil
}

// Write records a new value for the record at the clock's current time
func (v *Vault) Write(
	ctx context.Context, id RecordID, payload json.RawMessage,
) (int64, error) {
	return v.WriteAt(ctx, id, payload, v.config.Clock())
}

// WriteAt records a new value for the record at the given timestamp
func (v *Vault) WriteAt(
	ctx context.Context, id RecordID, payload json.RawMessage, ts time.Time,
) (seq int64, err error) {
	defer func(start time.Time) {
		v.metrics.observe(opWrite, start, err)
	}(time.Now())

	if v.closed.Load() {
		return 0, ErrClosed
	}
	return v.log.Append(ctx, &Event{
		Timestamp: ts,
		RecordID:  id,
		Kind:      KindWrite,
		Payload:   payload,
	})
}

// WriteValue marshals value to JSON and writes it at the current time
func (v *Vault) WriteValue(
	ctx context.Context, id RecordID, value any,
) (int64, error) {
	data, err := json.Marshal(value)
	if err != nil {
		return 0, &ValidationError{Field: "payload", Reason: err.Error()}
	}
	return v.Write(ctx, id, data)
}

// Resolve returns the value the record held at ts, seen through any active
// rollback horizon
func (v *Vault) Resolve(id RecordID, ts time.Time) Value {
	defer func(start time.Time) {
		v.metrics.observe(opResolve, start, nil)
	}(time.Now())
	return v.resolver.Resolve(id, ts)
}

// Current returns the record's value now, as seen through any active
// rollback horizon
func (v *Vault) Current(id RecordID) Value {
	defer func(start time.Time) {
		v.metrics.observe(opCurrent, start, nil)
	}(time.Now())
	return v.resolver.Current(id)
}

// Rollback makes target the store-wide horizon: reads for later instants
// answer as of target until the next write
func (v *Vault) Rollback(
	ctx context.Context, target time.Time,
) (seq int64, err error) {
	defer func(start time.Time) {
		v.metrics.observe(opRollback, start, err)
	}(time.Now())

	if v.closed.Load() {
		return 0, ErrClosed
	}
	return v.rollback.Rollback(ctx, target)
}

// Rollbacks returns up to limit rollback markers, most recent first
func (v *Vault) Rollbacks(limit int) []RollbackRecord {
	return v.rollback.History(limit)
}

// Horizon returns the active rollback horizon, if any
func (v *Vault) Horizon() (time.Time, bool) {
	var ts time.Time
	var ok bool
	v.log.read(func() {
		ts, ok = v.log.index.Horizon()
	})
	return ts, ok
}

// Compare returns the records whose values differ between t1 and t2
func (v *Vault) Compare(t1, t2 time.Time) (res []Change, err error) {
	defer func(start time.Time) {
		v.metrics.observe(opCompare, start, err)
	}(time.Now())
	return v.diff.Compare(t1, t2)
}

// CompareRecord compares one record field by field between two instants
func (v *Vault) CompareRecord(
	id RecordID, start, end *time.Time,
) (res *RecordDiff, err error) {
	defer func(begin time.Time) {
		v.metrics.observe(opCompareRecord, begin, err)
	}(time.Now())
	return v.diff.CompareRecord(id, start, end)
}

// StateAt returns every record present at ts
func (v *Vault) StateAt(ts time.Time) []Value {
	defer func(start time.Time) {
		v.metrics.observe(opQuery, start, nil)
	}(time.Now())
	return v.resolver.StateAt(ts)
}

// CurrentState returns every record present now, as seen through any active
// rollback horizon
func (v *Vault) CurrentState() []Value {
	defer func(start time.Time) {
		v.metrics.observe(opQuery, start, nil)
	}(time.Now())
	return v.resolver.CurrentState()
}

// History returns every version of the record
func (v *Vault) History(id RecordID) ([]Value, error) {
	return v.resolver.History(id)
}

// Keys returns every record that has been written
func (v *Vault) Keys() []RecordID {
	var res []RecordID
	v.log.read(func() {
		res = v.log.index.Keys()
	})
	return res
}

// Events returns the committed events with sequence >= from
func (v *Vault) Events(from int64) iter.Seq[*Event] {
	return v.log.ReadFrom(from)
}

// Event returns the committed event at seq
func (v *Vault) Event(seq int64) (*Event, bool) {
	return v.log.Event(seq)
}

// Head returns the sequence of the latest committed event
func (v *Vault) Head() int64 {
	return v.log.Head()
}

// GetHub returns the EventHub that committed events are published on,
// including events incorporated by Refresh
func (v *Vault) GetHub() *EventHub {
	return v.log.Hub()
}

// Log returns the underlying EventLog
func (v *Vault) Log() *EventLog {
	return v.log
}

// Refresh incorporates events appended to the Backend by other writers
func (v *Vault) Refresh(ctx context.Context) (err error) {
	defer func(start time.Time) {
		v.metrics.observe(opRefresh, start, err)
	}(time.Now())

	if v.closed.Load() {
		return ErrClosed
	}
	return v.log.Refresh(ctx)
}

// Close stops hub delivery and releases the Backend. Reads of already
// committed history keep working; writes fail with ErrClosed
func (v *Vault) Close() error {
	if !v.closed.CompareAndSwap(false, true) {
		return nil
	}
	v.log.close()
	v.logger.Info("Vault closed", zap.Int64("head", v.log.Head()))
	return v.backend.Close()
}
