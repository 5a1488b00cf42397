package tasksched_test

import (
	"runtime"
	"sync"
	"testing"
	"time"

	ts "github.com/azargarov/tasksched"
)

var backends = []ts.Backend{
	ts.LockFreeBackend,
	ts.DualLockBackend,
}

func newTestOpQueue[T any](b ts.Backend, capacity int) *ts.OperationQueue[T] {
	return ts.NewOperationQueue[T](ts.OperationQueueOptions{
		Backend:      b,
		Capacity:     capacity,
		SegmentSize:  4,
		SegmentCount: 2,
	})
}

// fakeClock is a manually advanced clock for aging tests.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		runtime.Gosched()
	}
	t.Fatal("condition not satisfied before timeout")
}

func waitUntilB(b *testing.B, timeout time.Duration, cond func() bool) {
	b.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		runtime.Gosched()
	}
	b.Fatal("condition not satisfied before timeout")
}
