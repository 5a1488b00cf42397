package tasksched

import (
	"errors"
	"reflect"
)

var (
	// ErrQueueClosed is returned when a queue no longer accepts or serves items.
	ErrQueueClosed = errors.New("queue: queue is closed")

	// ErrQueueFull is returned when a bounded queue cannot accept more items
	// before the timeout expires.
	ErrQueueFull = errors.New("queue: queue is full")

	// ErrQueueEmpty is returned by a non-blocking dequeue on an empty queue.
	ErrQueueEmpty = errors.New("queue: queue is empty")

	// ErrTimeout is returned when a blocking call gave up waiting.
	ErrTimeout = errors.New("queue: timed out")

	// ErrInvalidArgument reports a nil item, a non-positive batch size,
	// a zero operation id and similar caller mistakes.
	ErrInvalidArgument = errors.New("tasksched: invalid argument")

	ErrUnknownType    = errors.New("factory: operation type is not registered")
	ErrDuplicateType  = errors.New("factory: operation type already registered")
	ErrNilConstructor = errors.New("factory: constructor is nil")

	// ErrDependencyCycle is returned when a dependency edge would close a cycle.
	ErrDependencyCycle = errors.New("dependency graph: edge would create a cycle")

	ErrPoolClosed = errors.New("pool: pool closed")
	ErrNilTask    = errors.New("pool: task func is nil")
)

// isNilItem reports whether v is nil: a nil interface, or a nil pointer,
// map, chan, func or slice. Other payload types always pass.
func isNilItem[T any](v T) bool {
	rv := reflect.ValueOf(any(v))
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func,
		reflect.Slice, reflect.Interface, reflect.UnsafePointer:
		return rv.IsNil()
	}
	return false
}
