package tasksched

import (
	"golang.org/x/sys/cpu"
)

// cachePad is used to prevent false sharing between hot fields.
type cachePad = cpu.CacheLinePad

// acceptFunc decides whether next may join a batch that starts with first.
// A nil acceptFunc accepts everything.
type acceptFunc[T any] func(first, next *Item[T]) bool

// compatibleRun accepts a leading run of batch-compatible items.
func compatibleRun[T any](first, next *Item[T]) bool {
	return first.Meta.BatchCompatible && next.Meta.BatchCompatible
}

// opBackend is the storage strategy behind an OperationQueue.
//
// Implementations are safe for concurrent producers and consumers and keep
// strict FIFO order. Capacity, closing and statistics are handled by the
// OperationQueue, so backends only store and hand out items.
//
// The interface is intentionally small so that the lock-free and the
// dual-lock backend are interchangeable without affecting queue semantics.
type opBackend[T any] interface {
	// push appends an item. It never fails.
	push(it Item[T])

	// pop appends up to limit leading items to dst and returns it.
	// The first item is always taken when one is available; each further
	// item is taken only while accept approves it.
	pop(dst []Item[T], limit int, accept acceptFunc[T]) []Item[T]

	// contention reports synchronization attempts and how many of them
	// had to retry or wait.
	contention() (attempts, misses uint64)
}

func newBackend[T any](opts OperationQueueOptions) opBackend[T] {
	switch opts.Backend {
	case DualLockBackend:
		return newDualLockQ[T](opts)
	default:
		return newSegmentedQ[T](opts)
	}
}
