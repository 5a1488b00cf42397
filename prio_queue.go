package tasksched

import (
	"context"
	"sync"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
)

// Dequeued is an item handed to a consumer by a PriorityQueue.
type Dequeued[T any] struct {
	Value T

	// Priority is the priority the item was enqueued with (after clamping).
	Priority int

	// Effective is the aged or inherited priority it was selected at.
	Effective int

	TaskID TaskID
	Wait   time.Duration
}

// PriorityQueueStats is a snapshot of a PriorityQueue's counters.
// All counters are mutated under the queue lock together with the
// structural change they describe.
type PriorityQueueStats struct {
	Size     int
	PeakSize int

	Enqueued        uint64
	Dequeued        uint64
	EnqueueFailures uint64
	DequeueFailures uint64
	Timeouts        uint64

	TotalWait time.Duration
	MaxWait   time.Duration

	AgingPasses       uint64
	EmergencyBoosts   uint64
	InheritanceBoosts uint64
	ReadyBoosts       uint64
	AdaptiveBoosts    uint64

	Levels []LevelStats
}

// AvgWait returns the mean time items spent queued before dequeue.
func (s PriorityQueueStats) AvgWait() time.Duration {
	if s.Dequeued == 0 {
		return 0
	}
	return s.TotalWait / time.Duration(s.Dequeued)
}

// PriorityQueue is a multi-level work queue with aging-based starvation
// prevention, dependency-driven priority inheritance and adaptive boosting.
//
// Priority 0 is the most urgent level. Selection picks the item with the
// lowest effective priority across all levels. Without aging, items are
// served level by level and FIFO within a level. When aging has brought
// items from different levels to the same effective priority, the item
// that was enqueued first wins.
//
// All state lives behind one mutex. Blocking calls poll: the mutex is
// released between attempts.
type PriorityQueue[T any] struct {
	mu sync.Mutex

	levels   []priorityLevel[T]
	size     int
	capacity int
	seq      uint64

	closed bool
	drain  bool

	policy    StarvationPolicy
	adaptive  AdaptivePolicy
	lastAging time.Time

	graph *DependencyGraph
	// queued maps a queued task id to its level.
	queued map[TaskID]int
	// running maps a dequeued, not yet completed task id to its level.
	running map[TaskID]int

	stats PriorityQueueStats

	metrics MetricsPolicy
	ctx     context.Context
	now     func() time.Time
}

// NewPriorityQueue creates a PriorityQueue from opts.
func NewPriorityQueue[T any](opts PriorityQueueOptions) *PriorityQueue[T] {
	opts.FillDefaults()
	q := &PriorityQueue[T]{
		levels:   make([]priorityLevel[T], opts.Levels),
		capacity: opts.Capacity,
		policy:   opts.Starvation,
		adaptive: opts.Adaptive,
		graph:    NewDependencyGraph(),
		queued:   make(map[TaskID]int),
		running:  make(map[TaskID]int),
		metrics:  opts.Metrics,
		ctx:      opts.Context,
		now:      opts.Clock,
	}
	q.lastAging = q.now()
	return q
}

// Levels returns the number of priority levels.
func (q *PriorityQueue[T]) Levels() int { return len(q.levels) }

func (q *PriorityQueue[T]) clamp(prio int) int {
	if prio < 0 {
		return 0
	}
	if prio >= len(q.levels) {
		return len(q.levels) - 1
	}
	return prio
}

// Enqueue adds item at prio, clamped to [0, Levels()-1].
//
// When the queue is bounded and full, Enqueue polls until space frees up
// or timeout expires. A zero timeout fails immediately with ErrQueueFull,
// an expired positive timeout returns ErrTimeout.
func (q *PriorityQueue[T]) Enqueue(item T, prio int, timeout time.Duration) error {
	return q.EnqueueTask(item, prio, 0, timeout)
}

// EnqueueTask is Enqueue for an item taking part in dependency tracking.
// Every queued transitive dependency of task is lifted to at least prio,
// and task itself is lifted to its most urgent queued dependent.
// A task id may be queued only once at a time.
//
// Once dequeued, task stays tracked as running until CompleteTask or
// RemoveTask is called for it, or the queue is closed without draining.
func (q *PriorityQueue[T]) EnqueueTask(item T, prio int, task TaskID, timeout time.Duration) error {
	if isNilItem(item) {
		q.countEnqueueFailure(false)
		return ErrInvalidArgument
	}
	prio = q.clamp(prio)

	var err error
	ok := pollUntil(timeout, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()

		if q.closed {
			err = ErrQueueClosed
			return true
		}
		if task != 0 {
			if _, dup := q.queued[task]; dup {
				err = ErrInvalidArgument
				return true
			}
		}
		if q.capacity > 0 && q.size >= q.capacity {
			return false
		}
		q.pushLocked(item, prio, task)
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
		q.countEnqueueFailure(err == ErrTimeout)
		return err
	}
	q.metrics.IncQueued()
	return nil
}

func (q *PriorityQueue[T]) countEnqueueFailure(timedOut bool) {
	q.mu.Lock()
	q.stats.EnqueueFailures++
	if timedOut {
		q.stats.Timeouts++
	}
	q.mu.Unlock()
}

func (q *PriorityQueue[T]) pushLocked(item T, prio int, task TaskID) {
	now := q.now()
	q.seq++
	q.levels[prio].push(workItem[T]{
		payload:  item,
		basePrio: prio,
		eff:      prio,
		seq:      q.seq,
		taskID:   task,
		queuedAt: now,
	}, now)
	q.size++
	q.stats.Enqueued++
	if q.size > q.stats.PeakSize {
		q.stats.PeakSize = q.size
	}
	if task != 0 {
		q.queued[task] = prio
		eff := q.inheritFromDependentsLocked(task, prio)
		q.inheritLocked(task, eff)
	}
}

// Dequeue removes the most urgent item and returns it with its original
// priority.
//
// Errors: ErrQueueEmpty for a zero timeout on an empty queue, ErrTimeout
// when a positive timeout expires, ErrQueueClosed once the queue is closed
// (after draining, for Close(true)).
func (q *PriorityQueue[T]) Dequeue(timeout time.Duration) (T, int, error) {
	d, err := q.DequeueItem(timeout)
	return d.Value, d.Priority, err
}

// DequeueItem is Dequeue returning the full selection record.
func (q *PriorityQueue[T]) DequeueItem(timeout time.Duration) (Dequeued[T], error) {
	batch, err := q.dequeue(1, timeout)
	if err != nil {
		return Dequeued[T]{}, err
	}
	return batch[0], nil
}

// DequeueBatch removes up to maxItems items, each chosen by the same rule
// as Dequeue. It waits like Dequeue until at least one item is available,
// then returns min(maxItems, Len()) items.
func (q *PriorityQueue[T]) DequeueBatch(maxItems int, timeout time.Duration) ([]Dequeued[T], error) {
	if maxItems <= 0 {
		q.mu.Lock()
		q.stats.DequeueFailures++
		q.mu.Unlock()
		return nil, ErrInvalidArgument
	}
	return q.dequeue(maxItems, timeout)
}

func (q *PriorityQueue[T]) dequeue(maxItems int, timeout time.Duration) ([]Dequeued[T], error) {
	var (
		out []Dequeued[T]
		err error
	)
	ok := pollUntil(timeout, func() bool {
		q.mu.Lock()
		defer q.mu.Unlock()

		if q.closed && !q.drain {
			err = ErrQueueClosed
			return true
		}
		now := q.now()
		q.ageLocked(now)
		if q.size == 0 {
			if q.closed {
				err = ErrQueueClosed
				return true
			}
			return false
		}
		n := min(maxItems, q.size)
		out = make([]Dequeued[T], 0, n)
		for range n {
			out = append(out, q.popLocked(now))
		}
		err = nil
		return true
	})
	if !ok {
		err = ErrQueueEmpty
		if timeout != 0 {
			err = ErrTimeout
		}
	}
	if err != nil {
		q.mu.Lock()
		q.stats.DequeueFailures++
		if err == ErrTimeout {
			q.stats.Timeouts++
		}
		q.mu.Unlock()
		return nil, err
	}
	q.metrics.BatchDecQueued(int64(len(out)))
	return out, nil
}

// selectLocked returns the position of the most urgent item.
// The queue must be non-empty.
func (q *PriorityQueue[T]) selectLocked() (level, index int) {
	level, index = -1, -1
	var best *workItem[T]
	for l := range q.levels {
		items := q.levels[l].items
		for i := range items {
			it := &items[i]
			if best == nil || it.eff < best.eff || (it.eff == best.eff && it.seq < best.seq) {
				best, level, index = it, l, i
			}
		}
	}
	return level, index
}

func (q *PriorityQueue[T]) popLocked(now time.Time) Dequeued[T] {
	l, i := q.selectLocked()
	it := q.levels[l].removeAt(i, now)
	q.size--

	wait := now.Sub(it.queuedAt)
	q.stats.Dequeued++
	q.stats.TotalWait += wait
	if wait > q.stats.MaxWait {
		q.stats.MaxWait = wait
	}
	if it.taskID != 0 {
		delete(q.queued, it.taskID)
		q.running[it.taskID] = it.basePrio
	}
	return Dequeued[T]{
		Value:     it.payload,
		Priority:  it.basePrio,
		Effective: it.eff,
		TaskID:    it.taskID,
		Wait:      wait,
	}
}

// Peek returns the item Dequeue would return next, without removing it.
// Like Dequeue it runs the aging pass first.
func (q *PriorityQueue[T]) Peek() (T, int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	var zero T
	if q.closed && !q.drain {
		return zero, 0, ErrQueueClosed
	}
	q.ageLocked(q.now())
	if q.size == 0 {
		if q.closed {
			return zero, 0, ErrQueueClosed
		}
		return zero, 0, ErrQueueEmpty
	}
	l, i := q.selectLocked()
	it := q.levels[l].items[i]
	return it.payload, it.basePrio, nil
}

// Close marks the queue closed. Further enqueues return ErrQueueClosed.
//
// With drain set, dequeues keep serving the remaining items and return
// ErrQueueClosed once the queue is empty. Without drain, pending items are
// discarded immediately. Close(false) after Close(true) discards whatever
// is left.
func (q *PriorityQueue[T]) Close(drain bool) {
	q.mu.Lock()
	if q.closed && (q.drain == drain || drain) {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.drain = drain
	discarded := 0
	if !drain {
		discarded = q.size
		for l := range q.levels {
			q.levels[l].clear()
		}
		q.size = 0
		clear(q.queued)
		clear(q.running)
	}
	q.mu.Unlock()

	if discarded > 0 {
		q.metrics.BatchDecQueued(int64(discarded))
	}
	lg.FromContext(q.ctx).Info("priority queue closed",
		lg.Any("drain", drain),
		lg.Int("discarded", discarded),
	)
}

// IsClosed reports whether Close has been called.
func (q *PriorityQueue[T]) IsClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// Len returns the number of queued items.
func (q *PriorityQueue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.size
}

// LevelLen returns the number of items queued at the clamped level prio.
func (q *PriorityQueue[T]) LevelLen(prio int) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.levels[q.clamp(prio)].items)
}

// Stats returns a consistent snapshot of the queue counters.
func (q *PriorityQueue[T]) Stats() PriorityQueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()

	s := q.stats
	s.Size = q.size
	s.Levels = make([]LevelStats, len(q.levels))
	for l := range q.levels {
		s.Levels[l] = q.levels[l].snapshot(l)
	}
	return s
}
