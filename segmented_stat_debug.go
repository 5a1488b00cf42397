//go:build debug

package tasksched

import (
	"sync/atomic"
)

// segCounters tracks segment traffic of one lock-free backend.
type segCounters struct {
	allocated atomic.Int64
	recycled  atomic.Int64
	reused    atomic.Int64
	casMiss   atomic.Int64
}

func (c *segCounters) allocate() { c.allocated.Add(1) }
func (c *segCounters) recycle()  { c.recycled.Add(1) }
func (c *segCounters) reuse()    { c.reused.Add(1) }
func (c *segCounters) cas()      { c.casMiss.Add(1) }

func (c *segCounters) snapshot() SegmentStats {
	return SegmentStats{
		Allocated: c.allocated.Load(),
		Recycled:  c.recycled.Load(),
		Reused:    c.reused.Load(),
		CASMiss:   c.casMiss.Load(),
	}
}
