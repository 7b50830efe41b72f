package timevault

import "time"

// Resolver materializes record values from an EventLog and its index. It
// never writes
type Resolver struct {
	log   *EventLog
	clock func() time.Time
}

func newResolver(log *EventLog, clock func() time.Time) *Resolver {
	return &Resolver{log: log, clock: clock}
}

// Resolve returns the value the record held at ts, where ts is pulled back
// to the active rollback horizon when the horizon is earlier. The Value is
// flagged Volatile when ts is after the clock's now or the horizon clamped it
func (r *Resolver) Resolve(id RecordID, ts time.Time) Value {
	now := r.clock()
	var res Value
	r.log.read(func() {
		res = r.resolveLocked(id, ts)
	})
	res.Volatile = res.Volatile || ts.After(now)
	return res
}

// Current returns the record's value as of now, where now is pulled back to
// the active rollback horizon when there is one. Current values are always
// Volatile
func (r *Resolver) Current(id RecordID) Value {
	now := r.clock()
	var res Value
	r.log.read(func() {
		res = r.resolveLocked(id, now)
	})
	res.Volatile = true
	return res
}

// Now returns the instant that Current reads resolve at
func (r *Resolver) Now() time.Time {
	now := r.clock()
	var res time.Time
	r.log.read(func() {
		res = r.log.index.clamp(now)
	})
	return res
}

// StateAt returns every record present at ts, sorted by record id
func (r *Resolver) StateAt(ts time.Time) []Value {
	now := r.clock()
	var res []Value
	r.log.read(func() {
		res = r.stateLocked(func(id RecordID) Value {
			return r.resolveLocked(id, ts)
		})
	})
	for i := range res {
		res[i].Volatile = res[i].Volatile || ts.After(now)
	}
	return res
}

// CurrentState returns every record present as of now, honoring the
// rollback horizon
func (r *Resolver) CurrentState() []Value {
	now := r.clock()
	var res []Value
	r.log.read(func() {
		res = r.stateLocked(func(id RecordID) Value {
			return r.resolveLocked(id, now)
		})
	})
	for i := range res {
		res[i].Volatile = true
	}
	return res
}

// History returns every version of the record ordered by (Timestamp,
// Sequence), each resolved as of its own timestamp
func (r *Resolver) History(id RecordID) ([]Value, error) {
	var res []Value
	r.log.read(func() {
		for _, e := range r.log.index.Versions(id) {
			res = append(res, r.materializeLocked(id, e, true, e.Timestamp))
		}
	})
	if len(res) == 0 {
		return nil, ErrNotFound
	}
	return res, nil
}

func (r *Resolver) stateLocked(resolve func(RecordID) Value) []Value {
	res := []Value{}
	for _, id := range r.log.index.Keys() {
		if v := resolve(id); v.Exists {
			res = append(res, v)
		}
	}
	return res
}

// resolveLocked answers through the rollback horizon. The result is flagged
// Volatile when the horizon clamped ts
func (r *Resolver) resolveLocked(id RecordID, ts time.Time) Value {
	asOf := r.log.index.clamp(ts)
	e, ok := r.log.index.LookupAt(id, asOf)
	res := r.materializeLocked(id, e, ok, asOf)
	res.Volatile = !asOf.Equal(ts)
	return res
}

func (r *Resolver) materializeLocked(
	id RecordID, e Entry, ok bool, asOf time.Time,
) Value {
	if !ok {
		return absentValue(id, asOf)
	}
	ev := r.log.eventLocked(e.Sequence)
	if ev == nil {
		return absentValue(id, asOf)
	}
	return materialize(ev, e.Version, asOf)
}
