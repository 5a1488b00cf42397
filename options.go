package tasksched

import (
	"context"
	"runtime"
	"time"
)

const (
	DefaultLevels            = 8
	DefaultAgingFactor       = 0.5
	DefaultSmoothing         = 0.2
	DefaultFastTaskThreshold = time.Millisecond
	DefaultSegmentSize       = 1024
	DefaultSegmentCount      = 4
	DefaultUpdateInterval    = 100 * time.Millisecond
	DefaultCancelWait        = 5 * time.Second

	// starvationMultiplier derives MaxStarvation from AgingInterval
	// when the former is left unset.
	starvationMultiplier = 4
	submitBufRatio       = 2
)

// Backend selects the storage strategy of an OperationQueue.
type Backend int

const (
	// LockFreeBackend is a segmented lock-free list with recycled segments.
	LockFreeBackend Backend = iota

	// DualLockBackend is a linked list guarded by separate head and tail
	// locks, with a pooled node free-list.
	DualLockBackend
)

func (b Backend) String() string {
	switch b {
	case LockFreeBackend:
		return "LockFree"
	case DualLockBackend:
		return "DualLock"
	default:
		return "Unknown"
	}
}

// StarvationPolicy tunes the aging pass of a PriorityQueue.
// It is read on every dequeue or peek attempt.
type StarvationPolicy struct {
	// AgingInterval is both the minimum spacing between aging passes and
	// the wait a level must exceed before its items are aged.
	// Zero disables aging.
	AgingInterval time.Duration

	// AgingFactor scales how far an item moves toward priority 0
	// per aging pass.
	AgingFactor float64

	// MaxStarvation is the wait after which a level additionally gets
	// a one-step emergency boost on every pass.
	MaxStarvation time.Duration
}

// Enabled reports whether aging is active.
func (s StarvationPolicy) Enabled() bool { return s.AgingInterval > 0 }

func (s *StarvationPolicy) fillDefaults() {
	if s.AgingInterval <= 0 {
		s.AgingInterval = 0
		return
	}
	if s.AgingFactor <= 0 {
		s.AgingFactor = DefaultAgingFactor
	}
	if s.MaxStarvation <= s.AgingInterval {
		s.MaxStarvation = s.AgingInterval * starvationMultiplier
	}
}

// AdaptivePolicy configures the performance-feedback boost.
type AdaptivePolicy struct {
	Enabled bool

	// FastTaskThreshold is the rolling average execution time at or below
	// which a waiting level is boosted.
	FastTaskThreshold time.Duration

	// Smoothing is the EMA weight given to a new execution sample, in (0,1].
	Smoothing float64
}

func (a *AdaptivePolicy) fillDefaults() {
	if a.FastTaskThreshold <= 0 {
		a.FastTaskThreshold = DefaultFastTaskThreshold
	}
	if a.Smoothing <= 0 || a.Smoothing > 1 {
		a.Smoothing = DefaultSmoothing
	}
}

// PriorityQueueOptions configure a PriorityQueue.
//
// All zero values are replaced with sensible defaults in FillDefaults.
type PriorityQueueOptions struct {
	Levels int

	// Capacity bounds the total number of queued items. Zero is unbounded.
	Capacity int

	Starvation StarvationPolicy
	Adaptive   AdaptivePolicy

	Metrics MetricsPolicy

	// Context carries the logger (zlog.FromContext).
	Context context.Context

	// Clock overrides time.Now, mainly for tests.
	Clock func() time.Time
}

func (o *PriorityQueueOptions) FillDefaults() {
	if o.Levels <= 0 {
		o.Levels = DefaultLevels
	}
	if o.Capacity < 0 {
		o.Capacity = 0
	}
	o.Starvation.fillDefaults()
	o.Adaptive.fillDefaults()
	o.Metrics = metricsOrNoop(o.Metrics)
	if o.Context == nil {
		o.Context = context.Background()
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
}

// OperationQueueOptions configure an OperationQueue.
type OperationQueueOptions struct {
	Backend Backend

	// Capacity bounds the number of queued items. Zero is unbounded.
	Capacity int

	// SegmentSize and SegmentCount size the lock-free backend's segments
	// and its preallocated segment pool. The dual-lock backend preallocates
	// SegmentSize*SegmentCount nodes.
	SegmentSize  uint32
	SegmentCount uint32

	// PoolCapacity caps how many free segments (or nodes) are retained.
	PoolCapacity uint32

	Metrics MetricsPolicy
	Context context.Context
}

func (o *OperationQueueOptions) FillDefaults() {
	if o.Capacity < 0 {
		o.Capacity = 0
	}
	if o.SegmentSize == 0 {
		o.SegmentSize = DefaultSegmentSize
	}
	if o.SegmentCount == 0 {
		o.SegmentCount = DefaultSegmentCount
	}
	if o.PoolCapacity == 0 {
		o.PoolCapacity = o.SegmentCount * 2
	}
	o.Metrics = metricsOrNoop(o.Metrics)
	if o.Context == nil {
		o.Context = context.Background()
	}
}

// PoolOptions configure the executor Pool.
type PoolOptions struct {
	Workers int

	// QueueSize is the number of submitted tasks buffered ahead of the
	// workers.
	QueueSize int

	// PinWorkers locks each worker to an OS thread pinned to one CPU
	// (linux only).
	PinWorkers bool

	Metrics MetricsPolicy
	Context context.Context

	OnJobError      func(error)
	OnInternalError func(error)
}

func (o *PoolOptions) FillDefaults() {
	if o.Workers <= 0 {
		o.Workers = runtime.GOMAXPROCS(0)
	}
	if o.QueueSize <= 0 {
		o.QueueSize = o.Workers * submitBufRatio
	}
	o.Metrics = metricsOrNoop(o.Metrics)
	if o.Context == nil {
		o.Context = context.Background()
	}
}

// ManagerOptions configure a Manager.
type ManagerOptions struct {
	// UpdateInterval is the tick period used by Manager.Run.
	UpdateInterval time.Duration

	// CancelWaitTimeout bounds a blocking CancelOperation.
	CancelWaitTimeout time.Duration

	// Pool is used when the Manager builds its own executor.
	Pool PoolOptions
}

func (o *ManagerOptions) FillDefaults() {
	if o.UpdateInterval <= 0 {
		o.UpdateInterval = DefaultUpdateInterval
	}
	if o.CancelWaitTimeout <= 0 {
		o.CancelWaitTimeout = DefaultCancelWait
	}
	o.Pool.FillDefaults()
}
