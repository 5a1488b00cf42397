// Package tasksched provides the task-scheduling substrate of a real-time
// simulation engine: ordered hand-off queues and a lifecycle manager for
// long-running asynchronous operations.
//
// Components
//
// The package is composed of loosely coupled pieces that can be used
// independently:
//
//   1. PriorityQueue
//      A multi-level work queue. Items are served most-urgent first
//      (priority 0 is the most urgent level). Aging prevents starvation of
//      lower levels, a dependency graph lets urgent tasks lift the tasks
//      they depend on, and per-level execution feedback can boost levels
//      that drain quickly.
//
//   2. OperationQueue
//      A strict FIFO queue carrying per-item metadata (kind, size hint,
//      batch compatibility, cache-locality hint). Consumers can pull plain
//      batches, runs of batch-compatible items, or locality groups.
//      Two interchangeable backends exist: a lock-free segmented list with
//      recycled segments and a dual-lock linked list with a pooled node
//      free-list. Both honor the same result and ordering contracts.
//
//   3. Operation, Factory and Manager
//      An Operation is a state machine wrapping one unit of long-running
//      work. The Factory maps type tags to constructors, and the Manager
//      creates, dispatches, tracks, cancels and reclaims operations on top
//      of an Executor (by default the package's own worker Pool).
//
// Priority convention
//
// Lower numbers are more urgent everywhere in this package.
//
// Blocking model
//
// Calls that take a timeout block by short-sleep polling: the lock is
// released between attempts and the sleep between attempts grows with a
// bounded backoff. A zero timeout never blocks, a negative timeout waits
// until the condition holds or the queue is closed. Timeouts are soft
// wall-clock deadlines.
//
// Cancellation
//
// Cancellation is cooperative. An operation body must observe its context
// or Operation.IsCancelled at safe points; the Manager never preempts a
// running worker.
//
// Errors
//
// Queue and factory calls never panic; failures are reported through the
// sentinel errors declared in errors.go. Execution failures are captured in
// the operation's Result.
package tasksched
