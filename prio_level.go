package tasksched

import (
	"slices"
	"time"
)

// TaskID identifies a work item in the dependency graph. Zero means the
// item takes no part in dependency tracking.
type TaskID uint64

// workItem is a queued payload stored inside one priority level.
//
// The item always stays in the level of its original priority; aging and
// inheritance only lower eff, the priority used for selection.
type workItem[T any] struct {
	// payload is handed to the consumer on dequeue.
	payload T

	// basePrio is the clamped priority supplied at enqueue time.
	basePrio int

	// eff is the current effective priority, 0 <= eff <= basePrio.
	eff int

	// seq is the queue-wide enqueue sequence number. It breaks ties
	// between equal effective priorities in favor of the older item.
	seq uint64

	taskID   TaskID
	queuedAt time.Time
}

// priorityLevel is a bucket of items sharing one nominal priority,
// together with the bucket's metrics.
type priorityLevel[T any] struct {
	// items is kept in FIFO order.
	items []workItem[T]

	// lastServed is the time of the last successful dequeue from this
	// level, or the time the level last became non-empty.
	lastServed time.Time

	// avgExec is the rolling execution-time average fed by CompleteTask
	// and RecordExecution.
	avgExec     time.Duration
	execSamples uint64

	enqueued  uint64
	dequeued  uint64
	totalWait time.Duration
}

func (l *priorityLevel[T]) push(it workItem[T], now time.Time) {
	if len(l.items) == 0 {
		l.lastServed = now
	}
	l.items = append(l.items, it)
	l.enqueued++
}

// removeAt takes the item at index i out of the level and accounts
// for it as served at now.
func (l *priorityLevel[T]) removeAt(i int, now time.Time) workItem[T] {
	it := l.items[i]
	l.items = slices.Delete(l.items, i, i+1)
	l.dequeued++
	l.totalWait += now.Sub(it.queuedAt)
	l.lastServed = now
	return it
}

func (l *priorityLevel[T]) find(id TaskID) int {
	for i := range l.items {
		if l.items[i].taskID == id {
			return i
		}
	}
	return -1
}

// recordExec folds a new execution sample into the rolling average.
func (l *priorityLevel[T]) recordExec(d time.Duration, smoothing float64) {
	if d < 0 {
		d = 0
	}
	if l.execSamples == 0 {
		l.avgExec = d
	} else {
		l.avgExec = time.Duration(smoothing*float64(d) + (1-smoothing)*float64(l.avgExec))
	}
	l.execSamples++
}

func (l *priorityLevel[T]) clear() {
	clear(l.items)
	l.items = l.items[:0]
}

// LevelStats is a snapshot of one priority level.
type LevelStats struct {
	Priority   int
	Size       int
	Enqueued   uint64
	Dequeued   uint64
	AvgWait    time.Duration
	AvgExec    time.Duration
	LastServed time.Time
}

func (l *priorityLevel[T]) snapshot(prio int) LevelStats {
	s := LevelStats{
		Priority:   prio,
		Size:       len(l.items),
		Enqueued:   l.enqueued,
		Dequeued:   l.dequeued,
		AvgExec:    l.avgExec,
		LastServed: l.lastServed,
	}
	if l.dequeued > 0 {
		s.AvgWait = l.totalWait / time.Duration(l.dequeued)
	}
	return s
}
