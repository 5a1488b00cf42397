package tasksched

import (
	"slices"
)

type taskSet map[TaskID]struct{}

// DependencyGraph records which tasks depend on which.
//
// deps maps a task to the tasks it waits for, dependents is the inverse.
// Every traversal carries a visited set, so a malformed graph can never
// cause unbounded recursion. AddEdge also refuses edges that would close a
// cycle.
//
// DependencyGraph is not safe for concurrent use; PriorityQueue guards its
// graph with the queue lock.
type DependencyGraph struct {
	deps       map[TaskID]taskSet
	dependents map[TaskID]taskSet
}

func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		deps:       make(map[TaskID]taskSet),
		dependents: make(map[TaskID]taskSet),
	}
}

// AddEdge records that task depends on dep.
func (g *DependencyGraph) AddEdge(task, dep TaskID) error {
	if task == 0 || dep == 0 || task == dep {
		return ErrInvalidArgument
	}
	if g.reaches(dep, task) {
		return ErrDependencyCycle
	}
	if g.deps[task] == nil {
		g.deps[task] = make(taskSet)
	}
	g.deps[task][dep] = struct{}{}
	if g.dependents[dep] == nil {
		g.dependents[dep] = make(taskSet)
	}
	g.dependents[dep][task] = struct{}{}
	return nil
}

// Remove deletes task from the graph and returns the dependents that
// were left without any remaining dependency, sorted by id.
func (g *DependencyGraph) Remove(task TaskID) []TaskID {
	for dep := range g.deps[task] {
		delete(g.dependents[dep], task)
		if len(g.dependents[dep]) == 0 {
			delete(g.dependents, dep)
		}
	}
	delete(g.deps, task)

	var ready []TaskID
	for child := range g.dependents[task] {
		set := g.deps[child]
		delete(set, task)
		if len(set) == 0 {
			delete(g.deps, child)
			ready = append(ready, child)
		}
	}
	delete(g.dependents, task)
	slices.Sort(ready)
	return ready
}

// Dependencies returns the direct dependencies of task, sorted.
func (g *DependencyGraph) Dependencies(task TaskID) []TaskID {
	return sortedIDs(g.deps[task])
}

// Dependents returns the tasks directly depending on task, sorted.
func (g *DependencyGraph) Dependents(task TaskID) []TaskID {
	return sortedIDs(g.dependents[task])
}

// HasDependencies reports whether task still waits for anything.
func (g *DependencyGraph) HasDependencies(task TaskID) bool {
	return len(g.deps[task]) > 0
}

// Len returns the number of tasks that have at least one edge.
func (g *DependencyGraph) Len() int {
	seen := make(taskSet, len(g.deps)+len(g.dependents))
	for id := range g.deps {
		seen[id] = struct{}{}
	}
	for id := range g.dependents {
		seen[id] = struct{}{}
	}
	return len(seen)
}

// WalkDependencies visits every transitive dependency of start once,
// breadth first. start itself is not visited.
func (g *DependencyGraph) WalkDependencies(start TaskID, fn func(TaskID)) {
	walk(g.deps, start, fn)
}

// WalkDependents visits every task that transitively depends on start
// once, breadth first. start itself is not visited.
func (g *DependencyGraph) WalkDependents(start TaskID, fn func(TaskID)) {
	walk(g.dependents, start, fn)
}

func walk(edges map[TaskID]taskSet, start TaskID, fn func(TaskID)) {
	visited := taskSet{start: {}}
	frontier := []TaskID{start}
	for len(frontier) > 0 {
		cur := frontier[0]
		frontier = frontier[1:]
		for next := range edges[cur] {
			if _, ok := visited[next]; ok {
				continue
			}
			visited[next] = struct{}{}
			fn(next)
			frontier = append(frontier, next)
		}
	}
}

// reaches reports whether target is a transitive dependency of from,
// or from itself.
func (g *DependencyGraph) reaches(from, target TaskID) bool {
	if from == target {
		return true
	}
	found := false
	g.WalkDependencies(from, func(id TaskID) {
		if id == target {
			found = true
		}
	})
	return found
}

func sortedIDs(set taskSet) []TaskID {
	if len(set) == 0 {
		return nil
	}
	out := make([]TaskID, 0, len(set))
	for id := range set {
		out = append(out, id)
	}
	slices.Sort(out)
	return out
}
