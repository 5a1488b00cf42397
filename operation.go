package tasksched

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"sync"
	"sync/atomic"
	"time"
)

// OperationID identifies an Operation. Zero is never assigned.
type OperationID uint64

// InvalidOperation is the sentinel returned when an operation could not be
// created.
const InvalidOperation OperationID = 0

// Status is the lifecycle state of an Operation.
//
//	NotStarted -> InProgress -> Completed | Failed | Cancelled | TimedOut
//	NotStarted -> Cancelled
//
// Terminal states are final.
type Status int

const (
	// StatusInvalid is reported for unknown operations. It is never the
	// state of a live Operation.
	StatusInvalid Status = iota
	StatusNotStarted
	StatusInProgress
	StatusCompleted
	StatusFailed
	StatusCancelled
	StatusTimedOut
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "NotStarted"
	case StatusInProgress:
		return "InProgress"
	case StatusCompleted:
		return "Completed"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	case StatusTimedOut:
		return "TimedOut"
	default:
		return "Invalid"
	}
}

// IsTerminal reports whether s is a final state.
func (s Status) IsTerminal() bool {
	return s >= StatusCompleted
}

// Result codes stored in Result.Code.
const (
	CodeOK = iota
	CodeExecutionFailed
	CodeCancelled
	CodeTimedOut
	CodePanic
	CodeRejected
)

// Result is the outcome of an Operation.
type Result struct {
	Success bool
	Code    int
	Message string
	Err     error
	Data    any
}

// Progress is a point-in-time view of an Operation. Elapsed and
// EstimatedRemaining are computed when the snapshot is taken.
type Progress struct {
	Fraction           float64
	Message            string
	Elapsed            time.Duration
	EstimatedRemaining time.Duration
	Status             Status
}

// Body is the work an Operation performs.
//
// Execute runs on a worker goroutine. It must return when ctx is done or
// op.IsCancelled reports true; nothing preempts it. A nil return means
// success. Returning an error wrapping context.Canceled reports a
// self-observed cancellation.
//
// Cancel is invoked once when the operation is cancelled or timed out, from
// the goroutine that requested it. It may run concurrently with Execute.
type Body interface {
	Execute(ctx context.Context, op *Operation) error
	Cancel(op *Operation)
}

// BodyFunc adapts a function to a Body with no cancel hook.
type BodyFunc func(ctx context.Context, op *Operation) error

func (f BodyFunc) Execute(ctx context.Context, op *Operation) error { return f(ctx, op) }
func (f BodyFunc) Cancel(*Operation)                                 {}

// ProgressFunc receives periodic progress snapshots.
type ProgressFunc func(id OperationID, p Progress)

// CompletionFunc is called exactly once when an operation becomes terminal.
type CompletionFunc func(id OperationID, status Status, r Result)

type progressSub struct {
	fn       ProgressFunc
	interval time.Duration
	last     time.Time
}

// body execution state
const (
	bodyIdle int32 = iota
	bodyRunning
	bodyReturned
)

// Operation is one unit of long-running asynchronous work.
//
// All mutators are safe for concurrent use. Callbacks are invoked after the
// operation lock has been released, so they may call back into the
// operation; mutators on a terminal operation are no-ops.
type Operation struct {
	id   OperationID
	typ  string
	name string
	body Body
	now  func() time.Time

	cancelled atomic.Bool
	bodyState atomic.Int32

	mu       sync.Mutex
	status   Status
	created  time.Time
	started  time.Time
	finished time.Time
	fraction float64
	message  string
	result   Result
	hasRes   bool
	params   map[string]any
	stop     context.CancelFunc

	completion []CompletionFunc
	progress   []*progressSub

	// retire is called once, after the completion callbacks.
	retire func(*Operation)
}

func newOperation(id OperationID, typ, name string, body Body, now func() time.Time) *Operation {
	if now == nil {
		now = time.Now
	}
	return &Operation{
		id:      id,
		typ:     typ,
		name:    name,
		body:    body,
		now:     now,
		status:  StatusNotStarted,
		created: now(),
	}
}

func (op *Operation) ID() OperationID { return op.id }
func (op *Operation) Type() string    { return op.typ }
func (op *Operation) Name() string    { return op.name }

// IsCancelled reports whether cancellation was requested, either directly
// or through a timed-out wait.
func (op *Operation) IsCancelled() bool { return op.cancelled.Load() }

func (op *Operation) Status() Status {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.status
}

func (op *Operation) CreatedAt() time.Time {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.created
}

func (op *Operation) StartedAt() time.Time {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.started
}

// FinishedAt returns when the operation became terminal, or the zero time.
func (op *Operation) FinishedAt() time.Time {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.finished
}

// Params returns a copy of the start parameters.
func (op *Operation) Params() map[string]any {
	op.mu.Lock()
	defer op.mu.Unlock()
	return maps.Clone(op.params)
}

func (op *Operation) Param(key string) (any, bool) {
	op.mu.Lock()
	defer op.mu.Unlock()
	v, ok := op.params[key]
	return v, ok
}

// ReportProgress records the completed fraction, clamped to [0,1], and a
// status message. It is ignored once the operation is terminal.
func (op *Operation) ReportProgress(fraction float64, message string) {
	fraction = min(max(fraction, 0), 1)
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.status.IsTerminal() {
		return
	}
	op.fraction = fraction
	op.message = message
}

// SetResult stores the result the body wants reported. The final status is
// still decided by Execute's return value. Ignored once terminal.
func (op *Operation) SetResult(r Result) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.status.IsTerminal() {
		return
	}
	op.result = r
	op.hasRes = true
}

func (op *Operation) Progress() Progress {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.progressLocked(op.now())
}

func (op *Operation) progressLocked(now time.Time) Progress {
	p := Progress{
		Fraction: op.fraction,
		Message:  op.message,
		Status:   op.status,
	}
	if op.started.IsZero() {
		return p
	}
	end := now
	if !op.finished.IsZero() {
		end = op.finished
	}
	p.Elapsed = end.Sub(op.started)
	if !op.status.IsTerminal() && p.Fraction > 0 && p.Fraction < 1 {
		p.EstimatedRemaining = time.Duration(float64(p.Elapsed) * (1 - p.Fraction) / p.Fraction)
	}
	return p
}

// Result returns the outcome. It is the zero Result until the operation is
// terminal.
func (op *Operation) Result() Result {
	op.mu.Lock()
	defer op.mu.Unlock()
	if !op.status.IsTerminal() {
		return Result{}
	}
	return op.result
}

// OnComplete registers fn. If the operation is already terminal fn is
// invoked immediately on the calling goroutine.
func (op *Operation) OnComplete(fn CompletionFunc) {
	if fn == nil {
		return
	}
	op.mu.Lock()
	if !op.status.IsTerminal() {
		op.completion = append(op.completion, fn)
		op.mu.Unlock()
		return
	}
	status, res := op.status, op.result
	op.mu.Unlock()
	fn(op.id, status, res)
}

// OnProgress registers fn to be called at most every interval while the
// operation is in progress. It reports false for a terminal operation.
func (op *Operation) OnProgress(fn ProgressFunc, interval time.Duration) bool {
	if fn == nil {
		return false
	}
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.status.IsTerminal() {
		return false
	}
	op.progress = append(op.progress, &progressSub{fn: fn, interval: interval})
	return true
}

// fireProgress calls every progress subscriber whose interval has elapsed.
func (op *Operation) fireProgress(now time.Time) int {
	op.mu.Lock()
	if op.status != StatusInProgress || len(op.progress) == 0 {
		op.mu.Unlock()
		return 0
	}
	snap := op.progressLocked(now)
	var due []ProgressFunc
	for _, s := range op.progress {
		if s.last.IsZero() || now.Sub(s.last) >= s.interval {
			s.last = now
			due = append(due, s.fn)
		}
	}
	op.mu.Unlock()

	for _, fn := range due {
		fn(op.id, snap)
	}
	return len(due)
}

// begin moves NotStarted to InProgress.
func (op *Operation) begin(parent context.Context, params map[string]any) (context.Context, bool) {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.status != StatusNotStarted {
		return nil, false
	}
	ctx, stop := context.WithCancel(parent)
	op.stop = stop
	op.params = maps.Clone(params)
	op.status = StatusInProgress
	op.started = op.now()
	return ctx, true
}

// enterBody claims the right to run Execute. It fails when the operation
// left InProgress while it was queued.
func (op *Operation) enterBody() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	if op.status != StatusInProgress {
		return false
	}
	op.bodyState.Store(bodyRunning)
	return true
}

// bodyActive reports whether Execute is currently running.
func (op *Operation) bodyActive() bool {
	return op.bodyState.Load() == bodyRunning
}

// exitBody finalizes the operation from Execute's outcome. It reports false
// when the operation had already reached a terminal state, in which case
// the outcome is dropped.
func (op *Operation) exitBody(err error, panicked any) bool {
	defer op.bodyState.Store(bodyReturned)

	op.mu.Lock()
	if op.status != StatusInProgress {
		op.mu.Unlock()
		return false
	}
	switch {
	case panicked != nil:
		op.status = StatusFailed
		op.result = Result{
			Code:    CodePanic,
			Message: fmt.Sprintf("operation panicked: %v", panicked),
			Err:     fmt.Errorf("operation %d panicked: %v", op.id, panicked),
		}
	case err == nil:
		op.status = StatusCompleted
		op.fraction = 1
		if !op.hasRes {
			op.result = Result{Success: true, Code: CodeOK}
		}
		op.result.Success = true
	case errors.Is(err, context.Canceled):
		op.status = StatusCancelled
		op.cancelled.Store(true)
		op.result = cancelledResult(err)
	default:
		op.status = StatusFailed
		if !op.hasRes || op.result.Success {
			op.result = Result{
				Code:    CodeExecutionFailed,
				Message: "operation failed: " + err.Error(),
			}
		}
		op.result.Success = false
		if op.result.Err == nil {
			op.result.Err = err
		}
	}
	op.terminateLocked()
	return true
}

func cancelledResult(err error) Result {
	if err == nil {
		err = context.Canceled
	}
	return Result{Code: CodeCancelled, Message: "operation cancelled", Err: err}
}

// cancel moves a non-terminal operation to Cancelled. The body's Cancel
// hook and the completion callbacks run before it returns.
func (op *Operation) cancel() bool {
	return op.interrupt(StatusCancelled, cancelledResult(nil))
}

// timeOut is the acknowledged-timeout transition: an InProgress operation
// becomes TimedOut and its cancellation flag is raised.
func (op *Operation) timeOut() bool {
	return op.interrupt(StatusTimedOut, Result{
		Code:    CodeTimedOut,
		Message: "operation timed out",
		Err:     ErrTimeout,
	})
}

// reject fails an InProgress operation that could not be dispatched.
func (op *Operation) reject(err error) bool {
	op.mu.Lock()
	if op.status != StatusInProgress {
		op.mu.Unlock()
		return false
	}
	op.status = StatusFailed
	op.result = Result{Code: CodeRejected, Message: "operation rejected: " + err.Error(), Err: err}
	op.terminateLocked()
	return true
}

func (op *Operation) interrupt(to Status, r Result) bool {
	op.mu.Lock()
	if op.status.IsTerminal() {
		op.mu.Unlock()
		return false
	}
	if to == StatusTimedOut && op.status != StatusInProgress {
		op.mu.Unlock()
		return false
	}
	op.cancelled.Store(true)
	op.status = to
	op.result = r
	op.terminateLocked()

	op.body.Cancel(op)
	return true
}

// terminateLocked stamps the finish time and fires completion. It is
// entered with op.mu held and returns with it released.
func (op *Operation) terminateLocked() {
	op.finished = op.now()
	if op.stop != nil {
		op.stop()
	}
	callbacks := op.completion
	op.completion = nil
	op.progress = nil
	status, res := op.status, op.result
	retire := op.retire
	op.mu.Unlock()

	for _, fn := range callbacks {
		fn(op.id, status, res)
	}
	if retire != nil {
		retire(op)
	}
}
