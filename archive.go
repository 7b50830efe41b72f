package timevault

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrArchiveDiverged indicates the destination backend holds a different
// history than the vault
var ErrArchiveDiverged = errors.New("archive destination has diverged")

// Archive copies the committed events that dst does not hold yet, keeping
// their sequence numbers, and returns how many were copied. It can be run
// repeatedly to keep a backup or to migrate a log between backends
func (v *Vault) Archive(ctx context.Context, dst Backend) (n int, err error) {
	defer func(start time.Time) {
		v.metrics.observe(opArchive, start, err)
	}(time.Now())

	head, err := dst.Head(ctx)
	if err != nil {
		return 0, &PersistenceError{Op: "archive head", Err: err}
	}
	if ours := v.log.Head(); head > ours {
		return 0, &ConflictError{
			ExpectedSequence: ours + 1,
			ActualSequence:   head + 1,
		}
	}
	if err := v.checkArchiveHead(ctx, dst, head); err != nil {
		return 0, err
	}

	for ev := range v.log.ReadFrom(head + 1) {
		if err := dst.Append(ctx, ev); err != nil {
			return n, &PersistenceError{
				Op:       "archive",
				Sequence: ev.Sequence,
				Err:      err,
			}
		}
		n++
	}

	v.logger.Info("Archived events",
		zap.Int64("from_sequence", head+1),
		zap.Int("count", n),
	)
	return n, nil
}

func (v *Vault) checkArchiveHead(
	ctx context.Context, dst Backend, head int64,
) error {
	if head == 0 {
		return nil
	}
	theirs, err := dst.ReadFrom(ctx, head)
	if err != nil {
		return &PersistenceError{Op: "archive read", Sequence: head, Err: err}
	}
	ours, ok := v.log.Event(head)
	if len(theirs) == 0 || !ok || !sameEvent(ours, theirs[0]) {
		return ErrArchiveDiverged
	}
	return nil
}

func sameEvent(a, b *Event) bool {
	if a.Sequence != b.Sequence || a.Kind != b.Kind ||
		a.RecordID != b.RecordID || !a.Timestamp.Equal(b.Timestamp) {
		return false
	}
	if (a.Target == nil) != (b.Target == nil) {
		return false
	}
	if a.Target != nil && !a.Target.Equal(*b.Target) {
		return false
	}
	if len(a.Payload) == 0 || len(b.Payload) == 0 {
		return len(a.Payload) == len(b.Payload)
	}
	return PayloadEqual(a.Payload, b.Payload)
}
