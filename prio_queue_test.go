package tasksched_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	ts "github.com/azargarov/tasksched"
)

func newPrioQueue(t *testing.T, opts ts.PriorityQueueOptions) *ts.PriorityQueue[string] {
	t.Helper()
	return ts.NewPriorityQueue[string](opts)
}

func TestPriorityQueueFillDefaults(t *testing.T) {
	var o ts.PriorityQueueOptions
	o.FillDefaults()

	if o.Levels != ts.DefaultLevels {
		t.Fatalf("Levels = %d; want %d", o.Levels, ts.DefaultLevels)
	}
	if o.Starvation.Enabled() {
		t.Fatal("aging must be disabled without an interval")
	}
	if o.Clock == nil || o.Metrics == nil || o.Context == nil {
		t.Fatal("expected clock, metrics and context to be set")
	}

	o = ts.PriorityQueueOptions{Starvation: ts.StarvationPolicy{AgingInterval: 10 * time.Millisecond}}
	o.FillDefaults()
	if o.Starvation.MaxStarvation <= o.Starvation.AgingInterval {
		t.Fatalf("MaxStarvation = %v; want > %v", o.Starvation.MaxStarvation, o.Starvation.AgingInterval)
	}
}

func TestPriorityQueueOrder(t *testing.T) {
	q := newPrioQueue(t, ts.PriorityQueueOptions{Levels: 3})

	for _, e := range []struct {
		v    string
		prio int
	}{{"A", 2}, {"B", 0}, {"C", 1}} {
		if err := q.Enqueue(e.v, e.prio, 0); err != nil {
			t.Fatalf("enqueue %s: %v", e.v, err)
		}
	}

	for _, want := range []string{"B", "C", "A"} {
		got, _, err := q.Dequeue(0)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if got != want {
			t.Fatalf("dequeue = %s; want %s", got, want)
		}
	}
}

func TestPriorityQueueFIFOWithinLevel(t *testing.T) {
	q := newPrioQueue(t, ts.PriorityQueueOptions{Levels: 2})
	for _, v := range []string{"a", "b", "c"} {
		_ = q.Enqueue(v, 1, 0)
	}
	for _, want := range []string{"a", "b", "c"} {
		got, prio, _ := q.Dequeue(0)
		if got != want || prio != 1 {
			t.Fatalf("dequeue = (%s,%d); want (%s,1)", got, prio, want)
		}
	}
}

func TestPriorityQueueClamp(t *testing.T) {
	q := newPrioQueue(t, ts.PriorityQueueOptions{Levels: 4})

	_ = q.Enqueue("low", 99, 0)
	_ = q.Enqueue("high", -5, 0)

	if q.LevelLen(3) != 1 || q.LevelLen(0) != 1 {
		t.Fatalf("level sizes = %d/%d; want 1/1", q.LevelLen(0), q.LevelLen(3))
	}
	d, err := q.DequeueItem(0)
	if err != nil || d.Value != "high" || d.Priority != 0 {
		t.Fatalf("got %+v, %v", d, err)
	}
}

func TestPriorityQueueEmptyAndTimeout(t *testing.T) {
	q := newPrioQueue(t, ts.PriorityQueueOptions{})

	if _, _, err := q.Dequeue(0); !errors.Is(err, ts.ErrQueueEmpty) {
		t.Fatalf("err = %v; want ErrQueueEmpty", err)
	}

	start := time.Now()
	if _, _, err := q.Dequeue(20 * time.Millisecond); !errors.Is(err, ts.ErrTimeout) {
		t.Fatalf("err = %v; want ErrTimeout", err)
	}
	if time.Since(start) < 20*time.Millisecond {
		t.Fatal("timed dequeue returned early")
	}

	st := q.Stats()
	if st.DequeueFailures != 2 || st.Timeouts != 1 {
		t.Fatalf("failures=%d timeouts=%d; want 2/1", st.DequeueFailures, st.Timeouts)
	}
}

func TestPriorityQueueBlockingDequeue(t *testing.T) {
	q := newPrioQueue(t, ts.PriorityQueueOptions{})

	got := make(chan string, 1)
	go func() {
		v, _, err := q.Dequeue(2 * time.Second)
		if err != nil {
			got <- err.Error()
			return
		}
		got <- v
	}()

	time.Sleep(10 * time.Millisecond)
	_ = q.Enqueue("late", 3, 0)

	select {
	case v := <-got:
		if v != "late" {
			t.Fatalf("got %q; want late", v)
		}
	case <-time.After(time.Second):
		t.Fatal("blocked dequeue was not woken")
	}
}

func TestPriorityQueueCapacity(t *testing.T) {
	q := newPrioQueue(t, ts.PriorityQueueOptions{Capacity: 1})

	if err := q.Enqueue("X", 0, 0); err != nil {
		t.Fatalf("enqueue X: %v", err)
	}
	if err := q.Enqueue("Y", 0, 0); !errors.Is(err, ts.ErrQueueFull) {
		t.Fatalf("err = %v; want ErrQueueFull", err)
	}
	if err := q.Enqueue("Y", 0, 10*time.Millisecond); !errors.Is(err, ts.ErrTimeout) {
		t.Fatalf("err = %v; want ErrTimeout", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.Enqueue("Y", 0, time.Second) }()
	time.Sleep(5 * time.Millisecond)
	if v, _, _ := q.Dequeue(0); v != "X" {
		t.Fatalf("dequeue = %q; want X", v)
	}
	if err := <-done; err != nil {
		t.Fatalf("blocked enqueue: %v", err)
	}
	if q.Len() != 1 {
		t.Fatalf("Len = %d; want 1", q.Len())
	}
}

func TestPriorityQueueInvalidArguments(t *testing.T) {
	q := ts.NewPriorityQueue[any](ts.PriorityQueueOptions{})

	if err := q.Enqueue(nil, 0, 0); !errors.Is(err, ts.ErrInvalidArgument) {
		t.Fatalf("nil item: err = %v", err)
	}
	if _, err := q.DequeueBatch(0, 0); !errors.Is(err, ts.ErrInvalidArgument) {
		t.Fatalf("zero batch: err = %v", err)
	}
	if err := q.EnqueueTask("a", 0, 7, 0); err != nil {
		t.Fatal(err)
	}
	if err := q.EnqueueTask("b", 0, 7, 0); !errors.Is(err, ts.ErrInvalidArgument) {
		t.Fatalf("duplicate task: err = %v", err)
	}

	var nilMap map[string]int
	if err := q.Enqueue(nilMap, 0, 0); !errors.Is(err, ts.ErrInvalidArgument) {
		t.Fatalf("nil map: err = %v", err)
	}

	type job struct{}
	jobs := ts.NewPriorityQueue[*job](ts.PriorityQueueOptions{})
	if err := jobs.Enqueue(nil, 0, 0); !errors.Is(err, ts.ErrInvalidArgument) {
		t.Fatalf("nil pointer: err = %v", err)
	}
	if st := jobs.Stats(); st.EnqueueFailures != 1 {
		t.Fatalf("enqueue failures = %d; want 1", st.EnqueueFailures)
	}
}

func TestPriorityQueueCloseForgetsRunningTasks(t *testing.T) {
	q := ts.NewPriorityQueue[string](ts.PriorityQueueOptions{Levels: 4})
	_ = q.EnqueueTask("job", 1, 5, 0)
	if _, err := q.DequeueItem(0); err != nil {
		t.Fatal(err)
	}

	q.Close(false)
	q.CompleteTask(5, 4*time.Millisecond)

	if got := q.Stats().Levels[1].AvgExec; got != 0 {
		t.Fatalf("avg exec = %v; want 0 after a discarding close", got)
	}
}

func TestPriorityQueueDequeueBatch(t *testing.T) {
	q := newPrioQueue(t, ts.PriorityQueueOptions{Levels: 4})
	for i, v := range []string{"d", "c", "b", "a", "e"} {
		_ = q.Enqueue(v, 3-min(i, 3), 0)
	}

	batch, err := q.DequeueBatch(3, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 3 || q.Len() != 2 {
		t.Fatalf("batch=%d len=%d; want 3/2", len(batch), q.Len())
	}
	for i := 1; i < len(batch); i++ {
		if batch[i-1].Effective > batch[i].Effective {
			t.Fatalf("batch not ordered by priority: %+v", batch)
		}
	}

	batch, err = q.DequeueBatch(10, 0)
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != 2 || q.Len() != 0 {
		t.Fatalf("batch=%d len=%d; want 2/0", len(batch), q.Len())
	}
}

func TestPriorityQueueClose(t *testing.T) {
	t.Run("discard", func(t *testing.T) {
		q := newPrioQueue(t, ts.PriorityQueueOptions{})
		_ = q.Enqueue("a", 1, 0)
		_ = q.Enqueue("b", 2, 0)

		q.Close(false)

		if q.Len() != 0 {
			t.Fatalf("Len = %d; want 0", q.Len())
		}
		if err := q.Enqueue("c", 0, 0); !errors.Is(err, ts.ErrQueueClosed) {
			t.Fatalf("enqueue err = %v; want ErrQueueClosed", err)
		}
		if _, _, err := q.Dequeue(0); !errors.Is(err, ts.ErrQueueClosed) {
			t.Fatalf("dequeue err = %v; want ErrQueueClosed", err)
		}
	})

	t.Run("drain", func(t *testing.T) {
		q := newPrioQueue(t, ts.PriorityQueueOptions{})
		for _, v := range []string{"a", "b", "c"} {
			_ = q.Enqueue(v, 1, 0)
		}
		q.Close(true)

		if err := q.Enqueue("d", 0, 0); !errors.Is(err, ts.ErrQueueClosed) {
			t.Fatalf("enqueue err = %v; want ErrQueueClosed", err)
		}
		for _, want := range []string{"a", "b", "c"} {
			v, _, err := q.Dequeue(time.Second)
			if err != nil || v != want {
				t.Fatalf("dequeue = (%q,%v); want %q", v, err, want)
			}
		}
		if _, _, err := q.Dequeue(time.Second); !errors.Is(err, ts.ErrQueueClosed) {
			t.Fatalf("err = %v; want ErrQueueClosed", err)
		}
	})

	t.Run("drain then discard", func(t *testing.T) {
		q := newPrioQueue(t, ts.PriorityQueueOptions{})
		_ = q.Enqueue("a", 1, 0)
		q.Close(true)
		q.Close(false)
		if q.Len() != 0 || !q.IsClosed() {
			t.Fatalf("Len=%d closed=%v", q.Len(), q.IsClosed())
		}
	})
}

func TestPriorityQueueRoundTripConcurrent(t *testing.T) {
	q := ts.NewPriorityQueue[int](ts.PriorityQueueOptions{Levels: 8, Capacity: 64})

	const producers = 4
	const perProducer = 500

	var wg sync.WaitGroup
	for p := range producers {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := range perProducer {
				if err := q.Enqueue(p*perProducer+i+1, i%8, -1); err != nil {
					t.Errorf("enqueue: %v", err)
					return
				}
			}
		}(p)
	}
	go func() {
		wg.Wait()
		q.Close(true)
	}()

	seen := make(map[int]bool, producers*perProducer)
	for {
		v, _, err := q.Dequeue(-1)
		if errors.Is(err, ts.ErrQueueClosed) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		if seen[v] {
			t.Fatalf("item %d delivered twice", v)
		}
		seen[v] = true
	}
	if len(seen) != producers*perProducer {
		t.Fatalf("received %d items; want %d", len(seen), producers*perProducer)
	}
}

func TestPriorityQueueStarvation(t *testing.T) {
	const interval = 10 * time.Millisecond

	run := func(policy ts.StarvationPolicy) bool {
		clk := newFakeClock()
		q := ts.NewPriorityQueue[string](ts.PriorityQueueOptions{
			Levels:     4,
			Starvation: policy,
			Clock:      clk.Now,
		})
		_ = q.Enqueue("parked", 3, 0)

		for range 20 {
			_ = q.Enqueue("urgent", 0, 0)
			clk.Advance(interval / 2)
			v, _, err := q.Dequeue(0)
			if err != nil {
				t.Fatal(err)
			}
			if v == "parked" {
				return true
			}
		}
		return false
	}

	if run(ts.StarvationPolicy{}) {
		t.Fatal("parked item served without aging")
	}
	if !run(ts.StarvationPolicy{AgingInterval: interval, AgingFactor: 0.5}) {
		t.Fatal("parked item starved with aging enabled")
	}
}

func TestPriorityQueueEmergencyBoost(t *testing.T) {
	clk := newFakeClock()
	q := ts.NewPriorityQueue[string](ts.PriorityQueueOptions{
		Levels: 8,
		Starvation: ts.StarvationPolicy{
			AgingInterval: 10 * time.Millisecond,
			AgingFactor:   0.01,
			MaxStarvation: 20 * time.Millisecond,
		},
		Clock: clk.Now,
	})
	_ = q.Enqueue("old", 7, 0)

	clk.Advance(30 * time.Millisecond)
	if _, _, err := q.Peek(); err != nil {
		t.Fatal(err)
	}

	st := q.Stats()
	if st.AgingPasses != 1 || st.EmergencyBoosts != 1 {
		t.Fatalf("passes=%d emergency=%d; want 1/1", st.AgingPasses, st.EmergencyBoosts)
	}
	d, _ := q.DequeueItem(0)
	if d.Priority != 7 || d.Effective >= 6 {
		t.Fatalf("got prio=%d eff=%d; want 7 and < 6", d.Priority, d.Effective)
	}
}

func TestPriorityQueueAdaptiveBoost(t *testing.T) {
	clk := newFakeClock()
	q := ts.NewPriorityQueue[string](ts.PriorityQueueOptions{
		Levels: 8,
		Starvation: ts.StarvationPolicy{
			AgingInterval: 10 * time.Millisecond,
			AgingFactor:   0.01,
		},
		Adaptive: ts.AdaptivePolicy{Enabled: true, FastTaskThreshold: time.Millisecond},
		Clock:    clk.Now,
	})
	q.RecordExecution(5, 100*time.Microsecond)
	q.RecordExecution(4, 50*time.Millisecond)
	_ = q.Enqueue("fast", 5, 0)
	_ = q.Enqueue("slow", 4, 0)

	clk.Advance(11 * time.Millisecond)
	_, _, _ = q.Peek()

	st := q.Stats()
	if st.AdaptiveBoosts != 1 {
		t.Fatalf("adaptive boosts = %d; want 1", st.AdaptiveBoosts)
	}
	if st.Levels[5].AvgExec != 100*time.Microsecond {
		t.Fatalf("level 5 avg exec = %v", st.Levels[5].AvgExec)
	}
}

func TestPriorityQueueStats(t *testing.T) {
	q := newPrioQueue(t, ts.PriorityQueueOptions{Levels: 2})
	_ = q.Enqueue("a", 0, 0)
	_ = q.Enqueue("b", 1, 0)
	_ = q.Enqueue("c", 1, 0)
	_, _, _ = q.Dequeue(0)

	st := q.Stats()
	if st.Enqueued != 3 || st.Dequeued != 1 || st.PeakSize != 3 || st.Size != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
	sum := 0
	for _, l := range st.Levels {
		sum += l.Size
	}
	if sum != st.Size {
		t.Fatalf("level sizes sum to %d; want %d", sum, st.Size)
	}
	if st.Levels[0].Dequeued != 1 {
		t.Fatalf("level 0 dequeued = %d; want 1", st.Levels[0].Dequeued)
	}
}
