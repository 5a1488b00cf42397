package tasksched

import (
	"math"
	"sync/atomic"
	"time"
)

const rateWindow = time.Second

// OperationQueueStats is a snapshot of an OperationQueue's counters.
type OperationQueueStats struct {
	Backend Backend

	Size     int
	PeakSize int

	Enqueued        uint64
	Dequeued        uint64
	EnqueueFailures uint64
	DequeueFailures uint64
	Batches         uint64

	// OpsPerSecond is the enqueue+dequeue rate over the last full
	// one-second window.
	OpsPerSecond float64

	AvgLatency time.Duration
	MaxLatency time.Duration

	// BatchCompatiblePct is the share of accepted items flagged
	// batch-compatible, in percent.
	BatchCompatiblePct float64

	// ContentionRate is the fraction of synchronization attempts in the
	// backend that had to retry (CAS misses) or wait for a lock.
	ContentionRate float64
}

// opCounters are the lock-free statistics of an OperationQueue. Producers
// and consumers update them with atomics right after the structural change
// they describe.
type opCounters struct {
	enqueued atomic.Uint64
	_        cachePad
	dequeued atomic.Uint64
	_        cachePad

	enqueueFailures atomic.Uint64
	dequeueFailures atomic.Uint64
	compatible      atomic.Uint64
	batches         atomic.Uint64
	peak            atomic.Int64

	latencyTotal atomic.Int64
	latencyMax   atomic.Int64

	windowStart atomic.Int64
	windowOps   atomic.Uint64
	lastRate    atomic.Uint64 // float64 bits
}

func (c *opCounters) init(now time.Time) {
	c.windowStart.Store(now.UnixNano())
}

func (c *opCounters) recordPeak(size int64) {
	for {
		p := c.peak.Load()
		if size <= p || c.peak.CompareAndSwap(p, size) {
			return
		}
	}
}

func (c *opCounters) recordLatency(d time.Duration) {
	c.latencyTotal.Add(int64(d))
	for {
		m := c.latencyMax.Load()
		if int64(d) <= m || c.latencyMax.CompareAndSwap(m, int64(d)) {
			return
		}
	}
}

// recordOps adds n operations to the current rate window and rolls the
// window over once it is older than rateWindow.
func (c *opCounters) recordOps(n uint64, now time.Time) {
	c.windowOps.Add(n)
	start := c.windowStart.Load()
	elapsed := now.UnixNano() - start
	if elapsed < int64(rateWindow) {
		return
	}
	if !c.windowStart.CompareAndSwap(start, now.UnixNano()) {
		return
	}
	ops := c.windowOps.Swap(0)
	rate := float64(ops) / (float64(elapsed) / float64(time.Second))
	c.lastRate.Store(math.Float64bits(rate))
}

func (c *opCounters) rate(now time.Time) float64 {
	if r := math.Float64frombits(c.lastRate.Load()); r > 0 {
		return r
	}
	elapsed := now.UnixNano() - c.windowStart.Load()
	if elapsed <= 0 {
		return 0
	}
	return float64(c.windowOps.Load()) / (float64(elapsed) / float64(time.Second))
}

func (c *opCounters) snapshot(now time.Time) OperationQueueStats {
	s := OperationQueueStats{
		PeakSize:        int(c.peak.Load()),
		Enqueued:        c.enqueued.Load(),
		Dequeued:        c.dequeued.Load(),
		EnqueueFailures: c.enqueueFailures.Load(),
		DequeueFailures: c.dequeueFailures.Load(),
		Batches:         c.batches.Load(),
		OpsPerSecond:    c.rate(now),
		MaxLatency:      time.Duration(c.latencyMax.Load()),
	}
	if s.Dequeued > 0 {
		s.AvgLatency = time.Duration(c.latencyTotal.Load() / int64(s.Dequeued))
	}
	if s.Enqueued > 0 {
		s.BatchCompatiblePct = float64(c.compatible.Load()) * 100 / float64(s.Enqueued)
	}
	return s
}

// SegmentStats counts segment traffic of a lock-free OperationQueue.
// It is populated only in builds with the debug tag.
type SegmentStats struct {
	Allocated int64
	Recycled  int64
	Reused    int64
	CASMiss   int64
}
