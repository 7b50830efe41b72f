package timevault

import (
	"context"
	"time"

	"go.uber.org/zap"
)

type (
	// RollbackEngine moves the store-wide horizon by appending rollback
	// markers. It never deletes, reorders, or rewrites events
	RollbackEngine struct {
		log    *EventLog
		clock  func() time.Time
		logger *zap.Logger
	}

	// RollbackRecord describes one rollback marker in the log
	RollbackRecord struct {
		Timestamp time.Time  `json:"timestamp"`
		Target    time.Time  `json:"target"`
		Affected  []RecordID `json:"affected"`
		Sequence  int64      `json:"sequence"`
	}
)

func newRollbackEngine(
	log *EventLog, clock func() time.Time, logger *zap.Logger,
) *RollbackEngine {
	return &RollbackEngine{log: log, clock: clock, logger: logger}
}

// Rollback appends a marker making target the new horizon and returns its
// sequence. The target may not be later than the latest write timestamp in
// the log, and the log must hold at least one write
func (r *RollbackEngine) Rollback(
	ctx context.Context, target time.Time,
) (int64, error) {
	if target.IsZero() {
		return 0, invalidArgument("rollback target is required")
	}

	ev := &Event{
		Timestamp: r.clock(),
		Kind:      KindRollback,
		Target:    &target,
	}

	seq, err := r.log.appendIf(ctx, ev, func(idx *VersionIndex) error {
		latest, ok := idx.LatestWrite()
		if !ok {
			return invalidArgument("nothing to roll back in an empty log")
		}
		if target.After(latest) {
			return invalidArgument(
				"rollback target %s is after the latest write at %s",
				target.Format(time.RFC3339Nano),
				latest.Format(time.RFC3339Nano),
			)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	r.logger.Info("Rolled back",
		zap.Int64("sequence", seq),
		zap.Time("target", target),
	)
	return seq, nil
}

// History returns up to limit rollback markers, most recent first. A
// non-positive limit returns all of them
func (r *RollbackEngine) History(limit int) []RollbackRecord {
	res := []RollbackRecord{}
	r.log.read(func() {
		idx := r.log.index
		rbs := idx.Rollbacks()
		for i := len(rbs) - 1; i >= 0; i-- {
			if limit > 0 && len(res) >= limit {
				break
			}
			rb := rbs[i]
			res = append(res, RollbackRecord{
				Timestamp: rb.Timestamp,
				Target:    rb.Target,
				Affected:  idx.Affected(rb),
				Sequence:  rb.Sequence,
			})
		}
	})
	return res
}
