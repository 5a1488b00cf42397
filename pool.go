package tasksched

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	lg "github.com/Andrej220/go-utils/zlog"
)

// Task is a unit of work run by a Pool.
//
// Run receives the pool context. Abandon, when set, is called instead of Run
// for tasks that were accepted but never started because the pool shut
// down.
type Task struct {
	Run     func(ctx context.Context)
	Abandon func()
}

// Executor runs submitted tasks on worker goroutines.
type Executor interface {
	Submit(t Task) error
}

// Pool is a fixed-size worker pool reading from a buffered task channel.
type Pool struct {
	tasks         chan Task
	wg            sync.WaitGroup
	workers       int
	activeWorkers atomic.Int32

	// mu orders submissions against close(tasks).
	mu       sync.RWMutex
	closed   bool
	stopOnce sync.Once
	done     chan struct{}

	ctx     context.Context
	metrics MetricsPolicy

	OnJobError      func(error)
	OnInternalError func(error)
}

// NewPool starts opts.Workers workers.
func NewPool(opts PoolOptions) *Pool {
	opts.FillDefaults()
	p := &Pool{
		tasks:           make(chan Task, opts.QueueSize),
		workers:         opts.Workers,
		done:            make(chan struct{}),
		ctx:             opts.Context,
		metrics:         opts.Metrics,
		OnJobError:      opts.OnJobError,
		OnInternalError: opts.OnInternalError,
	}
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(i, opts.PinWorkers)
	}
	return p
}

// Submit queues t, blocking while the buffer is full.
func (p *Pool) Submit(t Task) error {
	if t.Run == nil {
		return ErrNilTask
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.tasks <- t:
		p.metrics.IncQueued()
		return nil
	case <-p.done:
		return ErrPoolClosed
	}
}

// TrySubmit queues t only if buffer space is available right now.
func (p *Pool) TrySubmit(t Task) bool {
	if t.Run == nil {
		return false
	}
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}
	select {
	case p.tasks <- t:
		p.metrics.IncQueued()
		return true
	default:
		return false
	}
}

// Shutdown stops accepting tasks, abandons the ones still buffered and
// waits for running tasks to return or ctx to end. It is safe to call more
// than once.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.stopOnce.Do(func() {
		// Wakes submitters blocked on a full buffer before taking mu.
		close(p.done)
		p.mu.Lock()
		p.closed = true
		close(p.tasks)
		p.mu.Unlock()
		lg.FromContext(p.ctx).Info("pool shutting down", lg.Int("queued", len(p.tasks)))
	})

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		p.wg.Wait()
	}()
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop is a blocking Shutdown.
func (p *Pool) Stop() { _ = p.Shutdown(context.Background()) }

func (p *Pool) worker(id int, pin bool) {
	defer p.wg.Done()
	if pin {
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		if err := PinToCPU(id % runtime.NumCPU()); err != nil {
			p.reportInternalError(fmt.Errorf("pin worker %d: %w", id, err))
		}
	}

	for t := range p.tasks {
		p.metrics.BatchDecQueued(1)
		select {
		case <-p.done:
			p.abandon(t)
			continue
		default:
		}
		p.run(t)
	}
}

func (p *Pool) run(t Task) {
	p.activeWorkers.Add(1)
	defer p.activeWorkers.Add(-1)
	defer func() {
		if r := recover(); r != nil {
			lg.FromContext(p.ctx).Error("task panicked", lg.Any("panic", r))
			p.reportJobError(fmt.Errorf("task panicked: %v", r))
		}
		p.metrics.IncExecuted()
	}()
	t.Run(p.ctx)
}

func (p *Pool) abandon(t Task) {
	if t.Abandon == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			p.reportInternalError(fmt.Errorf("abandon panicked: %v", r))
		}
	}()
	t.Abandon()
}

func (p *Pool) Workers() int         { return p.workers }
func (p *Pool) ActiveWorkers() int32 { return p.activeWorkers.Load() }
func (p *Pool) QueueLength() int     { return len(p.tasks) }
