package tasksched

import (
	"sync/atomic"
)

// MetricsPolicy defines hooks used by the queues and the executor pool
// to report queueing and execution activity.
//
// Implementations must be safe for concurrent use.
// All methods are expected to be lightweight and non-blocking
type MetricsPolicy interface {

	// IncExecuted increments the executed tasks counter.
	IncExecuted()

	// IncQueued increments the queued items counter.
	IncQueued()

	// BatchDecQueued decrements the queued counter by n.
	//
	// Queues call it once per dequeue call, with the number of items
	// handed to the consumer, and once on a discarding Close.
	BatchDecQueued(n int64)
}

// AtomicMetrics is a lock-free metrics implementation backed by atomics.
//
// Writes are optimized for hot paths.
// Reads are intended for cold-path observation.
type AtomicMetrics struct {
	// executed is the total number of tasks processed.
	executed atomic.Uint64

	_ cachePad

	// queued is the current number of items enqueued.
	queued atomic.Int64
}

// Executed returns the total number of executed tasks.
func (m *AtomicMetrics) Executed() uint64 {
	return m.executed.Load()
}

// Queued returns the current number of queued items.
func (m *AtomicMetrics) Queued() int64 {
	return m.queued.Load()
}

func (m *AtomicMetrics) IncExecuted() {
	m.executed.Add(1)
}

func (m *AtomicMetrics) IncQueued() {
	m.queued.Add(1)
}

func (m *AtomicMetrics) BatchDecQueued(n int64) {
	m.queued.Add(-n)
}

//------------- NoopMetrics ----------------------------------

// NoopMetrics is a MetricsPolicy implementation that discards
// all metric updates.
type NoopMetrics struct{}

func (m *NoopMetrics) IncExecuted()           {}
func (m *NoopMetrics) IncQueued()             {}
func (m *NoopMetrics) BatchDecQueued(n int64) {}

func metricsOrNoop(m MetricsPolicy) MetricsPolicy {
	if m == nil {
		return &NoopMetrics{}
	}
	return m
}
