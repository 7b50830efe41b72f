package timevault

import (
	"context"
	"sync"
)

// MemoryBackend keeps encoded events in process memory. It satisfies the
// Backend contract but is only as durable as the process
type MemoryBackend struct {
	events [][]byte
	mu     sync.RWMutex
}

var _ Backend = (*MemoryBackend)(nil)

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

func (m *MemoryBackend) Append(ctx context.Context, ev *Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := EncodeEvent(ev)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	next := int64(len(m.events)) + 1
	if ev.Sequence != next {
		return &ConflictError{
			ExpectedSequence: ev.Sequence,
			ActualSequence:   next,
		}
	}
	m.events = append(m.events, data)
	return nil
}

func (m *MemoryBackend) ReadFrom(
	ctx context.Context, fromSeq int64,
) ([]*Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	fromSeq = max(fromSeq, 1)

	m.mu.RLock()
	defer m.mu.RUnlock()

	if fromSeq > int64(len(m.events)) {
		return []*Event{}, nil
	}
	res := make([]*Event, 0, int64(len(m.events))-fromSeq+1)
	for i, data := range m.events[fromSeq-1:] {
		ev, err := DecodeEvent(data, fromSeq+int64(i))
		if err != nil {
			return nil, err
		}
		res = append(res, ev)
	}
	return res, nil
}

func (m *MemoryBackend) Head(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return int64(len(m.events)), nil
}

func (m *MemoryBackend) Close() error {
	return nil
}
