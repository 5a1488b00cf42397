package tasksched

import (
	"sync"
	"sync/atomic"
)

// reserveCursor is the next slot a producer may claim.
type reserveCursor struct {
	next uint32
	_    cachePad
}

// takeCursor is the first slot no consumer has claimed yet.
type takeCursor struct {
	next uint32
	_    cachePad
}

// segment holds a fixed number of item slots and links to its successor.
//
// A segment is live while it is reachable from the queue's head, detached
// once consumers have moved past it, and recycled into the pool when the
// last holder lets go. Slots are published by stamping ready[i] with the
// segment's current generation, so a recycled segment never exposes a
// stale item and its ready array never has to be cleared.
type segment[T any] struct {
	prod reserveCursor
	cons takeCursor

	// copying counts claimed runs not yet copied out.
	copying atomic.Int32

	gen atomic.Uint32

	// state is 0 while live, 1 once detached, 2 while being recycled.
	state atomic.Uint32
	_     cachePad

	// holders counts producers and consumers currently inside the segment.
	holders atomic.Int32
	_       cachePad

	buf   []Item[T]
	ready []uint32
	_     cachePad

	next atomic.Pointer[segment[T]]
}

// enter registers the caller as a holder unless seg is already detached.
func (seg *segment[T]) enter() bool {
	if seg.state.Load() != 0 {
		return false
	}
	seg.holders.Add(1)
	if seg.state.Load() != 0 {
		seg.holders.Add(-1)
		return false
	}
	return true
}

func (seg *segment[T]) leave() { seg.holders.Add(-1) }

// segmentPool retains up to maxKeep recycled segments.
type segmentPool[T any] struct {
	mu      sync.Mutex
	maxKeep int
	free    []*segment[T]
	size    uint32
	stats   *segCounters
}

func (p *segmentPool[T]) alloc() *segment[T] {
	seg := &segment[T]{
		buf:   make([]Item[T], p.size),
		ready: make([]uint32, p.size),
	}
	seg.gen.Store(1)
	p.stats.allocate()
	return seg
}

func (p *segmentPool[T]) put(seg *segment[T]) {
	p.mu.Lock()
	if len(p.free) < p.maxKeep {
		p.free = append(p.free, seg)
	}
	p.mu.Unlock()
	p.stats.recycle()
}

func (p *segmentPool[T]) get() *segment[T] {
	p.mu.Lock()
	n := len(p.free)
	if n == 0 {
		p.mu.Unlock()
		return p.alloc()
	}
	seg := p.free[n-1]
	p.free[n-1] = nil
	p.free = p.free[:n-1]
	p.mu.Unlock()
	p.stats.reuse()
	return seg
}

// segmentedQ is the lock-free OperationQueue backend: a linked list of
// segments where producers claim single slots and consumers claim whole
// runs of published slots, both with CAS on per-segment cursors.
type segmentedQ[T any] struct {
	head atomic.Pointer[segment[T]]
	_    cachePad

	tail atomic.Pointer[segment[T]]
	_    cachePad

	attempts atomic.Uint64
	_        cachePad
	misses   atomic.Uint64
	_        cachePad

	pool  segmentPool[T]
	stats segCounters

	segSize uint32
}

func newSegmentedQ[T any](opts OperationQueueOptions) *segmentedQ[T] {
	q := &segmentedQ[T]{segSize: opts.SegmentSize}
	q.pool.size = opts.SegmentSize
	q.pool.stats = &q.stats
	q.pool.maxKeep = int(opts.PoolCapacity)
	q.pool.free = make([]*segment[T], 0, opts.PoolCapacity)
	for range opts.SegmentCount {
		q.pool.free = append(q.pool.free, q.pool.alloc())
	}

	first := q.pool.get()
	q.head.Store(first)
	q.tail.Store(first)
	return q
}

func (q *segmentedQ[T]) push(v Item[T]) {
	for {
		seg := q.tail.Load()
		if !seg.enter() {
			q.miss()
			continue
		}
		gen := seg.gen.Load()
		if q.tail.Load() != seg {
			seg.leave()
			q.miss()
			continue
		}

		for {
			slot := atomic.LoadUint32(&seg.prod.next)
			if slot >= q.segSize {
				break
			}
			q.attempts.Add(1)
			if atomic.CompareAndSwapUint32(&seg.prod.next, slot, slot+1) {
				seg.buf[slot] = v
				atomic.StoreUint32(&seg.ready[slot], gen)
				seg.leave()
				return
			}
			q.misses.Add(1)
			q.stats.cas()
		}

		// Segment full: link a successor if nobody has yet, then help
		// move the tail forward.
		next := seg.next.Load()
		if next == nil {
			fresh := q.pool.get()
			if seg.next.CompareAndSwap(nil, fresh) {
				next = fresh
			} else {
				q.pool.put(fresh)
				next = seg.next.Load()
			}
		}
		q.tail.CompareAndSwap(seg, next)
		seg.leave()
	}
}

func (q *segmentedQ[T]) pop(dst []Item[T], limit int, accept acceptFunc[T]) []Item[T] {
	base := len(dst)
	for len(dst)-base < limit {
		var (
			got  int
			stop bool
		)
		dst, got, stop = q.claimRun(dst, base, limit-(len(dst)-base), accept)
		if got == 0 || stop {
			break
		}
	}
	return dst
}

// claimRun copies a run of at most want published items from the head
// segment into dst. stop reports that accept rejected the item after the
// run. dst[base] is the first item of the whole batch, if any.
func (q *segmentedQ[T]) claimRun(dst []Item[T], base, want int, accept acceptFunc[T]) ([]Item[T], int, bool) {
	for {
		seg := q.head.Load()
		if !seg.enter() {
			q.miss()
			continue
		}
		if q.head.Load() != seg {
			seg.leave()
			q.miss()
			continue
		}

		from := atomic.LoadUint32(&seg.cons.next)
		reserved := min(atomic.LoadUint32(&seg.prod.next), q.segSize)
		gen := seg.gen.Load()

		to := from
		stop := false
		for to < reserved && int(to-from) < want && atomic.LoadUint32(&seg.ready[to]) == gen {
			if accept != nil {
				var first *Item[T]
				switch {
				case len(dst) > base:
					first = &dst[base]
				case to > from:
					first = &seg.buf[from]
				}
				if first != nil && !accept(first, &seg.buf[to]) {
					stop = true
					break
				}
			}
			to++
		}

		if to > from {
			q.attempts.Add(1)
			if atomic.CompareAndSwapUint32(&seg.cons.next, from, to) {
				seg.copying.Add(1)
				dst = append(dst, seg.buf[from:to]...)
				seg.leave()
				q.runCopied(seg)
				return dst, int(to - from), stop
			}
			q.misses.Add(1)
			seg.leave()
			continue
		}
		if stop {
			seg.leave()
			return dst, 0, true
		}

		// Fully consumed and already linked: advance head and detach.
		if from == reserved {
			if next := seg.next.Load(); next != nil {
				if q.head.CompareAndSwap(seg, next) && seg.state.CompareAndSwap(0, 1) {
					seg.leave()
					q.recycle(seg)
					continue
				}
				seg.leave()
				continue
			}
		}

		seg.leave()
		return dst, 0, false
	}
}

func (q *segmentedQ[T]) runCopied(seg *segment[T]) {
	if seg.copying.Add(-1) < 0 {
		panic("tasksched: segment copy count went negative")
	}
	q.recycle(seg)
}

// recycle returns seg to the pool once it is detached, unreferenced and
// no longer the head or tail. Only one caller wins the 1 → 2 transition.
func (q *segmentedQ[T]) recycle(seg *segment[T]) {
	if seg.state.Load() != 1 || seg.copying.Load() != 0 || seg.holders.Load() != 0 {
		return
	}
	if q.head.Load() == seg || q.tail.Load() == seg {
		return
	}
	if !seg.state.CompareAndSwap(1, 2) {
		return
	}

	clear(seg.buf)
	atomic.StoreUint32(&seg.cons.next, 0)
	atomic.StoreUint32(&seg.prod.next, 0)
	seg.next.Store(nil)
	seg.copying.Store(0)
	if seg.gen.Add(1) == 0 {
		seg.gen.Store(1)
	}

	seg.state.Store(0)
	q.pool.put(seg)
}

func (q *segmentedQ[T]) miss() {
	q.attempts.Add(1)
	q.misses.Add(1)
}

func (q *segmentedQ[T]) contention() (uint64, uint64) {
	return q.attempts.Load(), q.misses.Load()
}
