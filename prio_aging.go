package tasksched

import (
	"math"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
)

// ageLocked runs one aging pass if the aging interval has elapsed since
// the previous one.
//
// For every non-empty level that has not been served for longer than the
// aging interval, each item's effective priority moves toward 0 by
// ceil(eff * AgingFactor * waited/AgingInterval), never below 0. Levels
// waiting longer than MaxStarvation additionally get a one-step emergency
// boost, and with adaptive boosting enabled, levels whose tasks run faster
// than FastTaskThreshold get one more step.
func (q *PriorityQueue[T]) ageLocked(now time.Time) {
	p := q.policy
	if !p.Enabled() || q.size == 0 {
		return
	}
	if now.Sub(q.lastAging) < p.AgingInterval {
		return
	}
	q.lastAging = now
	q.stats.AgingPasses++

	for l := range q.levels {
		lvl := &q.levels[l]
		if len(lvl.items) == 0 {
			continue
		}
		waited := now.Sub(lvl.lastServed)
		if waited <= p.AgingInterval {
			continue
		}
		ratio := float64(waited) / float64(p.AgingInterval)
		emergency := waited > p.MaxStarvation
		fast := q.adaptive.Enabled && lvl.execSamples > 0 && lvl.avgExec <= q.adaptive.FastTaskThreshold

		for i := range lvl.items {
			it := &lvl.items[i]
			if it.eff == 0 {
				continue
			}
			step := int(math.Ceil(float64(it.eff) * p.AgingFactor * ratio))
			if step > it.eff {
				step = it.eff
			}
			it.eff -= step
			if emergency && it.eff > 0 {
				it.eff--
				q.stats.EmergencyBoosts++
			}
			if fast && it.eff > 0 {
				it.eff--
				q.stats.AdaptiveBoosts++
			}
		}
		if emergency {
			lg.FromContext(q.ctx).Warn("priority level starving; emergency boost applied",
				lg.Int("level", l),
				lg.Int("queued", len(lvl.items)),
				lg.String("waited", waited.String()),
			)
		}
	}
}

// SetStarvationPolicy replaces the aging configuration. It takes effect
// on the next dequeue or peek.
func (q *PriorityQueue[T]) SetStarvationPolicy(p StarvationPolicy) {
	p.fillDefaults()
	q.mu.Lock()
	q.policy = p
	q.mu.Unlock()
}

// StarvationPolicy returns the active aging configuration.
func (q *PriorityQueue[T]) StarvationPolicy() StarvationPolicy {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.policy
}

// RecordExecution feeds an execution-time sample for level prio into the
// performance feedback loop.
func (q *PriorityQueue[T]) RecordExecution(prio int, d time.Duration) {
	q.mu.Lock()
	q.levels[q.clamp(prio)].recordExec(d, q.adaptive.Smoothing)
	q.mu.Unlock()
}
