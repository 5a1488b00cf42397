package tasksched

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Constructor builds the body of a new operation.
type Constructor func(id OperationID, name string) Body

// Factory maps operation type tags to constructors.
type Factory struct {
	mu    sync.RWMutex
	ctors map[string]Constructor
	now   func() time.Time
}

func NewFactory() *Factory {
	return &Factory{ctors: make(map[string]Constructor), now: time.Now}
}

// Register binds typeTag to ctor.
func (f *Factory) Register(typeTag string, ctor Constructor) error {
	if typeTag == "" {
		return ErrInvalidArgument
	}
	if ctor == nil {
		return ErrNilConstructor
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.ctors[typeTag]; ok {
		return fmt.Errorf("%w: %q", ErrDuplicateType, typeTag)
	}
	f.ctors[typeTag] = ctor
	return nil
}

// Unregister removes typeTag and reports whether it was registered.
func (f *Factory) Unregister(typeTag string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.ctors[typeTag]
	delete(f.ctors, typeTag)
	return ok
}

// Create builds a NotStarted operation of the given type.
func (f *Factory) Create(id OperationID, typeTag, name string) (*Operation, error) {
	if id == InvalidOperation {
		return nil, ErrInvalidArgument
	}
	f.mu.RLock()
	ctor, ok := f.ctors[typeTag]
	f.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, typeTag)
	}
	body := ctor(id, name)
	if body == nil {
		return nil, fmt.Errorf("%w: constructor for %q returned nil", ErrInvalidArgument, typeTag)
	}
	return newOperation(id, typeTag, name, body, f.now), nil
}

func (f *Factory) IsRegistered(typeTag string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.ctors[typeTag]
	return ok
}

// RegisteredTypes returns the registered type tags in sorted order.
func (f *Factory) RegisteredTypes() []string {
	f.mu.RLock()
	types := make([]string, 0, len(f.ctors))
	for t := range f.ctors {
		types = append(types, t)
	}
	f.mu.RUnlock()
	slices.Sort(types)
	return types
}
