package tasksched

import (
	"time"
)

// AddDependency records that task cannot finish before dependsOn.
// If task is queued, every queued transitive dependency is lifted to
// task's effective priority.
func (q *PriorityQueue[T]) AddDependency(task, dependsOn TaskID) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.graph.AddEdge(task, dependsOn); err != nil {
		return err
	}
	if l, ok := q.queued[task]; ok {
		if i := q.levels[l].find(task); i >= 0 {
			q.inheritLocked(task, q.levels[l].items[i].eff)
		}
	}
	return nil
}

// RemoveTask drops task from the dependency graph without recording
// an execution.
func (q *PriorityQueue[T]) RemoveTask(task TaskID) {
	q.mu.Lock()
	q.graph.Remove(task)
	delete(q.running, task)
	q.mu.Unlock()
}

// Dependencies returns the direct dependencies of task.
func (q *PriorityQueue[T]) Dependencies(task TaskID) []TaskID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.graph.Dependencies(task)
}

// Dependents returns the tasks directly depending on task.
func (q *PriorityQueue[T]) Dependents(task TaskID) []TaskID {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.graph.Dependents(task)
}

// CompleteTask reports that a dequeued task finished after execTime.
//
// The sample feeds the rolling execution average of the level the task was
// enqueued at, the task leaves the dependency graph, and each queued
// dependent that no longer waits for anything is boosted one step. It
// returns the dependents that became ready.
func (q *PriorityQueue[T]) CompleteTask(task TaskID, execTime time.Duration) []TaskID {
	q.mu.Lock()
	defer q.mu.Unlock()

	if l, ok := q.running[task]; ok {
		q.levels[l].recordExec(execTime, q.adaptive.Smoothing)
		delete(q.running, task)
	}

	ready := q.graph.Remove(task)
	for _, id := range ready {
		it := q.queuedItemLocked(id)
		if it != nil && it.eff > 0 {
			it.eff--
			q.stats.ReadyBoosts++
		}
	}
	return ready
}

// inheritLocked lifts every queued transitive dependency of task to
// at least prio.
func (q *PriorityQueue[T]) inheritLocked(task TaskID, prio int) {
	q.graph.WalkDependencies(task, func(dep TaskID) {
		it := q.queuedItemLocked(dep)
		if it != nil && it.eff > prio {
			it.eff = prio
			q.stats.InheritanceBoosts++
		}
	})
}

// inheritFromDependentsLocked lifts the freshly queued task to the most
// urgent effective priority among its queued transitive dependents and
// returns the task's resulting effective priority.
func (q *PriorityQueue[T]) inheritFromDependentsLocked(task TaskID, prio int) int {
	best := prio
	q.graph.WalkDependents(task, func(id TaskID) {
		if it := q.queuedItemLocked(id); it != nil && it.eff < best {
			best = it.eff
		}
	})
	if best < prio {
		if it := q.queuedItemLocked(task); it != nil {
			it.eff = best
			q.stats.InheritanceBoosts++
		}
	}
	return best
}

func (q *PriorityQueue[T]) queuedItemLocked(task TaskID) *workItem[T] {
	l, ok := q.queued[task]
	if !ok {
		return nil
	}
	i := q.levels[l].find(task)
	if i < 0 {
		return nil
	}
	return &q.levels[l].items[i]
}
