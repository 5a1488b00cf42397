package tasksched

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	lg "github.com/Andrej220/go-utils/zlog"
)

// Manager creates, dispatches, tracks, cancels and reclaims operations.
//
// Operations run on an Executor. The Manager keeps every operation until
// CleanupCompletedOperations reclaims it, and maintains a type-indexed set
// of active (non-terminal) operations so that active queries never scan the
// full table.
type Manager struct {
	ctx     context.Context
	factory *Factory
	exec    Executor
	owned   *Pool
	opts    ManagerOptions

	nextID atomic.Uint64

	mu     sync.RWMutex
	ops    map[OperationID]*Operation
	active map[OperationID]*Operation
	byType map[string]map[OperationID]*Operation

	closed   atomic.Bool
	stopOnce sync.Once
	stopped  chan struct{}
}

// NewManager returns a Manager that builds operations with factory and runs
// them on exec. A nil exec makes the Manager start and own a Pool
// configured by opts.Pool; it is stopped by Shutdown.
func NewManager(ctx context.Context, factory *Factory, exec Executor, opts ManagerOptions) *Manager {
	if ctx == nil {
		ctx = context.Background()
	}
	if factory == nil {
		factory = NewFactory()
	}
	if opts.Pool.Context == nil {
		opts.Pool.Context = ctx
	}
	opts.FillDefaults()
	m := &Manager{
		ctx:     ctx,
		factory: factory,
		exec:    exec,
		opts:    opts,
		ops:     make(map[OperationID]*Operation),
		active:  make(map[OperationID]*Operation),
		byType:  make(map[string]map[OperationID]*Operation),
		stopped: make(chan struct{}),
	}
	if exec == nil {
		m.owned = NewPool(opts.Pool)
		m.exec = m.owned
	}
	return m
}

// CreateOperation builds a NotStarted operation of typeTag. It returns
// InvalidOperation if the type is unknown or the manager is shut down.
func (m *Manager) CreateOperation(typeTag, name string) OperationID {
	if m.closed.Load() {
		return InvalidOperation
	}
	id := OperationID(m.nextID.Add(1))
	op, err := m.factory.Create(id, typeTag, name)
	if err != nil {
		lg.FromContext(m.ctx).Warn("operation not created",
			lg.String("type", typeTag),
			lg.String("name", name),
			lg.Any("error", err),
		)
		return InvalidOperation
	}
	op.retire = m.retire

	m.mu.Lock()
	m.ops[id] = op
	m.mu.Unlock()
	return id
}

// StartOperation dispatches a NotStarted operation to the executor.
func (m *Manager) StartOperation(id OperationID, params map[string]any) bool {
	if m.closed.Load() {
		return false
	}
	op := m.lookup(id)
	if op == nil {
		return false
	}
	ctx, ok := op.begin(m.ctx, params)
	if !ok {
		return false
	}
	m.track(op)

	logger := lg.FromContext(m.ctx).With(lg.Any("operation", uint64(id)), lg.String("type", op.Type()))
	logger.Info("operation started")

	err := m.exec.Submit(Task{
		Run:     func(context.Context) { m.execute(ctx, op) },
		Abandon: func() { m.abandon(op) },
	})
	if err != nil {
		logger.Error("operation rejected by executor", lg.Any("error", err))
		op.reject(err)
		return false
	}
	return true
}

func (m *Manager) execute(ctx context.Context, op *Operation) {
	if !op.enterBody() {
		return
	}
	panicked, err := runBody(ctx, op)

	logger := lg.FromContext(m.ctx).With(lg.Any("operation", uint64(op.ID())), lg.String("type", op.Type()))
	if panicked != nil {
		logger.Error("operation panicked", lg.Any("panic", panicked))
	}
	if !op.exitBody(err, panicked) {
		logger.Warn("late operation outcome dropped",
			lg.String("status", op.Status().String()),
			lg.Any("error", err),
		)
		return
	}
	logger.Info("operation finished", lg.String("status", op.Status().String()))
}

func runBody(ctx context.Context, op *Operation) (panicked any, err error) {
	defer func() {
		if r := recover(); r != nil {
			panicked = r
		}
	}()
	return nil, op.body.Execute(ctx, op)
}

func (m *Manager) abandon(op *Operation) {
	if op.interrupt(StatusCancelled, cancelledResult(ErrPoolClosed)) {
		lg.FromContext(m.ctx).Warn("operation abandoned by executor", lg.Any("operation", uint64(op.ID())))
	}
}

// CancelOperation cancels a non-terminal operation. It returns false for
// unknown or already terminal operations. With wait set it also blocks,
// up to ManagerOptions.CancelWaitTimeout, until a running body returns.
func (m *Manager) CancelOperation(id OperationID, wait bool) bool {
	op := m.lookup(id)
	if op == nil {
		return false
	}
	if !op.cancel() {
		return false
	}
	lg.FromContext(m.ctx).Info("operation cancelled", lg.Any("operation", uint64(id)))
	if wait {
		if !pollUntil(m.opts.CancelWaitTimeout, func() bool { return !op.bodyActive() }) {
			lg.FromContext(m.ctx).Warn("operation body still running after cancel",
				lg.Any("operation", uint64(id)),
				lg.String("waited", m.opts.CancelWaitTimeout.String()),
			)
		}
	}
	return true
}

// Status returns StatusInvalid for unknown operations.
func (m *Manager) Status(id OperationID) Status {
	if op := m.lookup(id); op != nil {
		return op.Status()
	}
	return StatusInvalid
}

func (m *Manager) Progress(id OperationID) Progress {
	if op := m.lookup(id); op != nil {
		return op.Progress()
	}
	return Progress{}
}

func (m *Manager) Result(id OperationID) Result {
	if op := m.lookup(id); op != nil {
		return op.Result()
	}
	return Result{}
}

// Operation returns the tracked operation with id, or nil.
func (m *Manager) Operation(id OperationID) *Operation {
	return m.lookup(id)
}

// WaitForCompletion waits up to timeout for the operation to finish and
// reports whether it Completed. If the wait expires while the operation is
// in progress, the operation is moved to TimedOut and its cancellation flag
// is raised; a later outcome from the worker is discarded. Shutdown releases
// every waiter.
func (m *Manager) WaitForCompletion(id OperationID, timeout time.Duration) bool {
	op := m.lookup(id)
	if op == nil {
		return false
	}
	pollUntil(timeout, func() bool { return op.Status().IsTerminal() || m.closed.Load() })

	if op.timeOut() {
		lg.FromContext(m.ctx).Warn("operation timed out",
			lg.Any("operation", uint64(id)),
			lg.String("timeout", timeout.String()),
		)
		return false
	}
	return op.Status() == StatusCompleted
}

// RegisterProgressCallback subscribes cb to progress ticks driven by
// Update. It returns false for unknown or terminal operations.
func (m *Manager) RegisterProgressCallback(id OperationID, cb ProgressFunc, interval time.Duration) bool {
	op := m.lookup(id)
	if op == nil {
		return false
	}
	return op.OnProgress(cb, interval)
}

// RegisterCompletionCallback subscribes cb to the operation's completion.
// On an already terminal operation cb runs immediately.
func (m *Manager) RegisterCompletionCallback(id OperationID, cb CompletionFunc) bool {
	op := m.lookup(id)
	if op == nil || cb == nil {
		return false
	}
	op.OnComplete(cb)
	return true
}

// CleanupCompletedOperations forgets operations that have been terminal
// for at least maxAge and returns how many were removed.
func (m *Manager) CleanupCompletedOperations(maxAge time.Duration) int {
	cutoff := time.Now().Add(-maxAge)

	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, op := range m.ops {
		fin := op.FinishedAt()
		if fin.IsZero() || fin.After(cutoff) {
			continue
		}
		delete(m.ops, id)
		n++
	}
	if n > 0 {
		lg.FromContext(m.ctx).Info("operations reclaimed", lg.Int("count", n))
	}
	return n
}

func (m *Manager) ActiveOperationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.active)
}

// ActiveOperations returns the ids of in-progress operations in ascending
// order.
func (m *Manager) ActiveOperations() []OperationID {
	m.mu.RLock()
	ids := make([]OperationID, 0, len(m.active))
	for id := range m.active {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// OperationsOfType returns the ids of in-progress operations of typeTag in
// ascending order.
func (m *Manager) OperationsOfType(typeTag string) []OperationID {
	m.mu.RLock()
	set := m.byType[typeTag]
	ids := make([]OperationID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	m.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

// OperationCount returns the number of tracked operations, terminal ones
// included.
func (m *Manager) OperationCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.ops)
}

// Update fires the progress callbacks that are due. It returns the number
// of callbacks invoked.
func (m *Manager) Update() int {
	now := time.Now()
	fired := 0
	for _, op := range m.activeSnapshot() {
		fired += op.fireProgress(now)
	}
	return fired
}

// Run calls Update every UpdateInterval until ctx is done or the manager
// is shut down.
func (m *Manager) Run(ctx context.Context) {
	t := time.NewTicker(m.opts.UpdateInterval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopped:
			return
		case <-t.C:
			m.Update()
		}
	}
}

// Shutdown cancels every active operation without waiting for the bodies,
// forgets all tracked operations and stops the owned pool. Later calls are
// no-ops.
func (m *Manager) Shutdown() {
	m.stopOnce.Do(func() {
		m.closed.Store(true)
		close(m.stopped)

		active := m.activeSnapshot()
		for _, op := range active {
			op.cancel()
		}

		m.mu.Lock()
		clear(m.ops)
		clear(m.active)
		clear(m.byType)
		m.mu.Unlock()

		var err error
		if m.owned != nil {
			ctx, cancel := context.WithTimeout(context.Background(), m.opts.CancelWaitTimeout)
			err = m.owned.Shutdown(ctx)
			cancel()
		}
		logger := lg.FromContext(m.ctx)
		logger.Info("manager shut down", lg.Int("cancelled", len(active)))
		if err != nil {
			logger.Warn("executor did not stop in time", lg.Any("error", fmt.Errorf("shutdown: %w", err)))
		}
	})
}

func (m *Manager) lookup(id OperationID) *Operation {
	if id == InvalidOperation {
		return nil
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ops[id]
}

func (m *Manager) track(op *Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	// A concurrent cancel may already have retired it.
	if op.Status().IsTerminal() {
		return
	}
	m.active[op.ID()] = op
	set := m.byType[op.Type()]
	if set == nil {
		set = make(map[OperationID]*Operation)
		m.byType[op.Type()] = set
	}
	set[op.ID()] = op
}

// retire removes op from the active index once it is terminal.
func (m *Manager) retire(op *Operation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.active, op.ID())
	if set := m.byType[op.Type()]; set != nil {
		delete(set, op.ID())
		if len(set) == 0 {
			delete(m.byType, op.Type())
		}
	}
}

func (m *Manager) activeSnapshot() []*Operation {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Operation, 0, len(m.active))
	for _, op := range m.active {
		out = append(out, op)
	}
	return out
}

var _ Executor = (*Pool)(nil)
