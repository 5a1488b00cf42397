//go:build !debug

package tasksched

// Segment accounting is compiled in only with the debug build tag.
type segCounters struct{}

func (*segCounters) allocate() {}
func (*segCounters) recycle()  {}
func (*segCounters) reuse()    {}
func (*segCounters) cas()      {}

func (*segCounters) snapshot() SegmentStats { return SegmentStats{} }
