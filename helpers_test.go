package timevault_test

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zaptest"

	"github.com/kode4food/timevault"
)

type (
	testClock struct {
		now time.Time
		mu  sync.Mutex
	}

	// failingBackend fails appends while fail is set
	failingBackend struct {
		*timevault.MemoryBackend
		fail atomic.Bool
	}

	// conflictingBackend rejects every append as a conflict
	conflictingBackend struct {
		*timevault.MemoryBackend
	}
)

var errDiskFull = errors.New("disk full")

func newTestClock(sec int64) *testClock {
	return &testClock{now: at(sec)}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Set(sec int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = at(sec)
}

func (f *failingBackend) Append(ctx context.Context, ev *timevault.Event) error {
	if f.fail.Load() {
		return errDiskFull
	}
	return f.MemoryBackend.Append(ctx, ev)
}

func (c *conflictingBackend) Append(
	_ context.Context, ev *timevault.Event,
) error {
	return &timevault.ConflictError{
		ExpectedSequence: ev.Sequence,
		ActualSequence:   ev.Sequence + 1,
	}
}

func at(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

func ptr[T any](v T) *T {
	return &v
}

func testConfig(t *testing.T, clock *testClock) timevault.Config {
	cfg := timevault.DefaultConfig()
	cfg.Clock = clock.Now
	cfg.Logger = zaptest.NewLogger(t)
	return cfg
}

func openVault(
	t *testing.T, backend timevault.Backend, clock *testClock,
) *timevault.Vault {
	v, err := timevault.Open(context.Background(), backend, testConfig(t, clock))
	assert.NoError(t, err)
	t.Cleanup(func() { _ = v.Close() })
	return v
}

func writeAt(
	t *testing.T, v *timevault.Vault, id timevault.RecordID, payload string,
	sec int64,
) int64 {
	seq, err := v.WriteAt(
		context.Background(), id, json.RawMessage(payload), at(sec),
	)
	assert.NoError(t, err)
	return seq
}

// seedNames writes the John/Jane history used throughout the tests
func seedNames(t *testing.T, v *timevault.Vault) {
	writeAt(t, v, "abc", `{"name":"John"}`, 100)
	writeAt(t, v, "abc", `{"name":"Jane"}`, 200)
}
