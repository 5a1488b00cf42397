package tasksched

import (
	"sync"
	"sync/atomic"
)

// dlNode is a list node of the dual-lock backend. next is atomic because
// the head and tail locks may both touch the same node when the list holds
// a single item.
type dlNode[T any] struct {
	item Item[T]
	next atomic.Pointer[dlNode[T]]
}

// nodePool is a free-list of list nodes so that steady-state operation
// does not allocate.
type nodePool[T any] struct {
	mu      sync.Mutex
	free    *dlNode[T]
	n       int
	maxKeep int
}

func (p *nodePool[T]) Get() *dlNode[T] {
	p.mu.Lock()
	nd := p.free
	if nd != nil {
		p.free = nd.next.Load()
		p.n--
	}
	p.mu.Unlock()
	if nd == nil {
		return &dlNode[T]{}
	}
	nd.next.Store(nil)
	return nd
}

func (p *nodePool[T]) Put(nd *dlNode[T]) {
	nd.item = Item[T]{}
	p.mu.Lock()
	if p.n < p.maxKeep {
		nd.next.Store(p.free)
		p.free = nd
		p.n++
	}
	p.mu.Unlock()
}

// dualLockQ is a two-lock linked list: producers serialize on the tail
// lock, consumers on the head lock, so one producer and one consumer never
// contend. head always points at a dummy node.
type dualLockQ[T any] struct {
	headMu sync.Mutex
	head   *dlNode[T]
	_      cachePad

	tailMu sync.Mutex
	tail   *dlNode[T]
	_      cachePad

	attempts atomic.Uint64
	_        cachePad
	misses   atomic.Uint64
	_        cachePad

	pool nodePool[T]
}

func newDualLockQ[T any](opts OperationQueueOptions) *dualLockQ[T] {
	prefill := int(opts.SegmentSize) * int(opts.SegmentCount)
	q := &dualLockQ[T]{}
	q.pool.maxKeep = int(opts.SegmentSize) * int(opts.PoolCapacity)
	for range prefill {
		q.pool.Put(&dlNode[T]{})
	}
	dummy := q.pool.Get()
	q.head = dummy
	q.tail = dummy
	return q
}

// lock acquires mu, counting acquisitions that had to wait.
func (q *dualLockQ[T]) lock(mu *sync.Mutex) {
	q.attempts.Add(1)
	if mu.TryLock() {
		return
	}
	q.misses.Add(1)
	mu.Lock()
}

func (q *dualLockQ[T]) push(it Item[T]) {
	nd := q.pool.Get()
	nd.item = it

	q.lock(&q.tailMu)
	q.tail.next.Store(nd)
	q.tail = nd
	q.tailMu.Unlock()
}

func (q *dualLockQ[T]) pop(dst []Item[T], limit int, accept acceptFunc[T]) []Item[T] {
	base := len(dst)
	var retired *dlNode[T]

	q.lock(&q.headMu)
	for len(dst)-base < limit {
		next := q.head.next.Load()
		if next == nil {
			break
		}
		if accept != nil && len(dst) > base && !accept(&dst[base], &next.item) {
			break
		}
		dst = append(dst, next.item)
		next.item = Item[T]{}

		old := q.head
		q.head = next
		old.next.Store(retired)
		retired = old
	}
	q.headMu.Unlock()

	for retired != nil {
		nd := retired
		retired = nd.next.Load()
		q.pool.Put(nd)
	}
	return dst
}

func (q *dualLockQ[T]) contention() (uint64, uint64) {
	return q.attempts.Load(), q.misses.Load()
}
