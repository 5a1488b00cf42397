package tasksched

import (
	"context"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
)

const discardChunk = 256

// OperationQueue is a strict FIFO queue of metadata-tagged items for any
// number of producers and consumers.
//
// Storage is delegated to a backend selected at construction; both
// backends give the same results and the same ordering. Capacity is
// enforced with an atomic reservation counter, and closing uses a
// reader/writer gate: producers share the read side, Close takes the write
// side, so no item can slip in after Close returns.
type OperationQueue[T any] struct {
	backend opBackend[T]
	kind    Backend

	size atomic.Int64
	_    cachePad

	capacity int64

	gate   sync.RWMutex
	closed atomic.Bool
	drain  atomic.Bool

	counters opCounters

	metrics MetricsPolicy
	ctx     context.Context
}

// NewOperationQueue creates an OperationQueue from opts.
func NewOperationQueue[T any](opts OperationQueueOptions) *OperationQueue[T] {
	opts.FillDefaults()
	q := &OperationQueue[T]{
		backend:  newBackend[T](opts),
		kind:     opts.Backend,
		capacity: int64(opts.Capacity),
		metrics:  opts.Metrics,
		ctx:      opts.Context,
	}
	q.counters.init(time.Now())
	return q
}

// Backend returns the storage strategy in use.
func (q *OperationQueue[T]) Backend() Backend { return q.kind }

// Enqueue appends v with default metadata.
func (q *OperationQueue[T]) Enqueue(v T, timeout time.Duration) error {
	return q.EnqueueWithMeta(v, ItemMeta{}, timeout)
}

// EnqueueWithMeta appends v tagged with meta.
//
// A bounded, full queue is polled until space frees up or timeout
// expires; a zero timeout fails immediately with ErrQueueFull and an
// expired positive timeout returns ErrTimeout.
func (q *OperationQueue[T]) EnqueueWithMeta(v T, meta ItemMeta, timeout time.Duration) error {
	if isNilItem(v) {
		q.counters.enqueueFailures.Add(1)
		return ErrInvalidArgument
	}

	var err error
	ok := pollUntil(timeout, func() bool {
		q.gate.RLock()
		defer q.gate.RUnlock()

		if q.closed.Load() {
			err = ErrQueueClosed
			return true
		}
		size, reserved := q.reserve()
		if !reserved {
			return false
		}
		now := time.Now()
		q.backend.push(Item[T]{Value: v, Meta: meta, EnqueuedAt: now})

		q.counters.enqueued.Add(1)
		if meta.BatchCompatible {
			q.counters.compatible.Add(1)
		}
		q.counters.recordPeak(size)
		q.counters.recordOps(1, now)
		err = nil
		return true
	})
	if !ok {
		err = ErrQueueFull
		if timeout != 0 {
			err = ErrTimeout
		}
	}
	if err != nil {
		q.counters.enqueueFailures.Add(1)
		return err
	}
	q.metrics.IncQueued()
	return nil
}

// reserve claims one slot of capacity and returns the new size.
func (q *OperationQueue[T]) reserve() (int64, bool) {
	for {
		s := q.size.Load()
		if q.capacity > 0 && s >= q.capacity {
			return s, false
		}
		if q.size.CompareAndSwap(s, s+1) {
			return s + 1, true
		}
	}
}

// Dequeue removes the oldest item.
//
// Errors: ErrQueueEmpty for a zero timeout on an empty queue, ErrTimeout
// when a positive timeout expires, ErrQueueClosed once the queue is closed
// (after draining, for Close(true)).
func (q *OperationQueue[T]) Dequeue(timeout time.Duration) (T, error) {
	it, err := q.DequeueItem(timeout)
	return it.Value, err
}

// DequeueItem is Dequeue returning the item's metadata as well.
func (q *OperationQueue[T]) DequeueItem(timeout time.Duration) (Item[T], error) {
	items, err := q.take(1, nil, timeout, false)
	if err != nil {
		return Item[T]{}, err
	}
	return items[0], nil
}

// DequeueBatch removes up to maxItems items in FIFO order. It waits like
// Dequeue for the first item and then takes whatever is available.
func (q *OperationQueue[T]) DequeueBatch(maxItems int, timeout time.Duration) ([]Item[T], error) {
	if maxItems <= 0 {
		q.counters.dequeueFailures.Add(1)
		return nil, ErrInvalidArgument
	}
	return q.take(maxItems, nil, timeout, true)
}

// DequeueCompatibleBatch removes the leading run of batch-compatible items,
// at most maxItems. A head item that is not batch-compatible is returned
// alone, so the queue always makes progress.
func (q *OperationQueue[T]) DequeueCompatibleBatch(maxItems int, timeout time.Duration) ([]Item[T], error) {
	if maxItems <= 0 {
		q.counters.dequeueFailures.Add(1)
		return nil, ErrInvalidArgument
	}
	return q.take(maxItems, compatibleRun[T], timeout, true)
}

// DequeueLocalityGroups removes up to maxItems items in FIFO order and
// groups them by locality hint. Groups are ordered largest first; equal
// sizes keep the order in which their first item was dequeued. Items
// without a hint form their own group.
func (q *OperationQueue[T]) DequeueLocalityGroups(maxItems int, timeout time.Duration) ([][]Item[T], error) {
	items, err := q.DequeueBatch(maxItems, timeout)
	if err != nil {
		return nil, err
	}
	return groupByLocality(items), nil
}

func groupByLocality[T any](items []Item[T]) [][]Item[T] {
	index := make(map[uint32]int)
	var groups [][]Item[T]
	for _, it := range items {
		g, ok := index[it.Meta.Locality]
		if !ok {
			g = len(groups)
			index[it.Meta.Locality] = g
			groups = append(groups, nil)
		}
		groups[g] = append(groups[g], it)
	}
	slices.SortStableFunc(groups, func(a, b []Item[T]) int {
		return len(b) - len(a)
	})
	return groups
}

func (q *OperationQueue[T]) take(limit int, accept acceptFunc[T], timeout time.Duration, batch bool) ([]Item[T], error) {
	var (
		out []Item[T]
		err error
	)
	ok := pollUntil(timeout, func() bool {
		if q.closed.Load() && !q.drain.Load() {
			err = ErrQueueClosed
			return true
		}
		out = q.backend.pop(out[:0], limit, accept)
		if len(out) > 0 {
			err = nil
			return true
		}
		if q.closed.Load() {
			err = ErrQueueClosed
			return true
		}
		return false
	})
	if !ok {
		err = ErrQueueEmpty
		if timeout != 0 {
			err = ErrTimeout
		}
	}
	if err != nil {
		q.counters.dequeueFailures.Add(1)
		return nil, err
	}

	n := int64(len(out))
	q.size.Add(-n)
	now := time.Now()
	for i := range out {
		q.counters.recordLatency(now.Sub(out[i].EnqueuedAt))
	}
	q.counters.dequeued.Add(uint64(n))
	if batch {
		q.counters.batches.Add(1)
	}
	q.counters.recordOps(uint64(n), now)
	q.metrics.BatchDecQueued(n)
	return out, nil
}

// Close marks the queue closed; further enqueues return ErrQueueClosed.
//
// With drain set, consumers keep receiving the remaining items and get
// ErrQueueClosed once the queue is empty. Without drain, pending items are
// discarded before Close returns. Close(false) after Close(true) discards
// whatever is left.
func (q *OperationQueue[T]) Close(drain bool) {
	q.gate.Lock()
	if q.closed.Load() && (q.drain.Load() == drain || drain) {
		q.gate.Unlock()
		return
	}
	q.drain.Store(drain)
	q.closed.Store(true)
	q.gate.Unlock()

	var discarded int64
	if !drain {
		buf := make([]Item[T], 0, discardChunk)
		for {
			buf = q.backend.pop(buf[:0], discardChunk, nil)
			if len(buf) == 0 {
				break
			}
			discarded += int64(len(buf))
			q.size.Add(-int64(len(buf)))
		}
		clear(buf[:cap(buf)])
		if discarded > 0 {
			q.metrics.BatchDecQueued(discarded)
		}
	}
	lg.FromContext(q.ctx).Info("operation queue closed",
		lg.String("backend", q.kind.String()),
		lg.Any("drain", drain),
		lg.Any("discarded", discarded),
	)
}

// IsClosed reports whether Close has been called.
func (q *OperationQueue[T]) IsClosed() bool { return q.closed.Load() }

// Len returns the number of queued items. Items being handed to a
// consumer at the same moment may still be counted.
func (q *OperationQueue[T]) Len() int { return int(q.size.Load()) }

// SegmentStats reports segment allocation and reuse of the lock-free
// backend. It is zero for the dual-lock backend and outside debug builds.
func (q *OperationQueue[T]) SegmentStats() SegmentStats {
	if sq, ok := q.backend.(*segmentedQ[T]); ok {
		return sq.stats.snapshot()
	}
	return SegmentStats{}
}

// Stats returns a snapshot of the queue counters. Individual counters are
// read atomically but not as one consistent cut.
func (q *OperationQueue[T]) Stats() OperationQueueStats {
	s := q.counters.snapshot(time.Now())
	s.Backend = q.kind
	s.Size = q.Len()
	attempts, misses := q.backend.contention()
	if attempts > 0 {
		s.ContentionRate = float64(misses) / float64(attempts)
	}
	return s
}
