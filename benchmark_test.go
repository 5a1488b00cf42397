package tasksched_test

import (
	"context"
	"os"
	"runtime"
	"slices"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	ts "github.com/azargarov/tasksched"
)

func getenvInt(name string, def int) int {
	if v := os.Getenv(name); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func percentile(samples []int64, q float64) time.Duration {
	pos := int(float64(len(samples)-1) * q)
	return time.Duration(samples[pos])
}

func benchOpQueue(b ts.Backend) *ts.OperationQueue[int] {
	return ts.NewOperationQueue[int](ts.OperationQueueOptions{
		Backend:      b,
		SegmentSize:  uint32(getenvInt("SEGSIZE", ts.DefaultSegmentSize)),
		SegmentCount: uint32(getenvInt("SEGCOUNT", 16)),
	})
}

func BenchmarkOperationQueue_PushPop(b *testing.B) {
	for _, backend := range backends {
		b.Run(backend.String(), func(b *testing.B) {
			q := benchOpQueue(backend)
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				_ = q.Enqueue(i, 0)
				if _, err := q.Dequeue(0); err != nil {
					b.Fatalf("dequeue: %v", err)
				}
			}
		})
	}
}

func BenchmarkOperationQueue_Parallel(b *testing.B) {
	for _, backend := range backends {
		b.Run(backend.String(), func(b *testing.B) {
			q := benchOpQueue(backend)
			b.ReportAllocs()
			b.RunParallel(func(pb *testing.PB) {
				i := 0
				for pb.Next() {
					_ = q.Enqueue(i, 0)
					_, _ = q.Dequeue(0)
					i++
				}
			})
			st := q.Stats()
			b.ReportMetric(st.ContentionRate*100, "contention%")
		})
	}
}

func BenchmarkOperationQueue_Batch(b *testing.B) {
	const batch = 64
	for _, backend := range backends {
		b.Run(backend.String(), func(b *testing.B) {
			q := benchOpQueue(backend)
			b.ReportAllocs()
			for b.Loop() {
				for i := range batch {
					_ = q.EnqueueWithMeta(i, ts.ItemMeta{BatchCompatible: true, Locality: uint32(i % 4)}, 0)
				}
				if _, err := q.DequeueLocalityGroups(batch, 0); err != nil {
					b.Fatalf("dequeue: %v", err)
				}
			}
		})
	}
}

func BenchmarkPriorityQueue_EnqueueDequeue(b *testing.B) {
	q := ts.NewPriorityQueue[int](ts.PriorityQueueOptions{
		Levels:     ts.DefaultLevels,
		Starvation: ts.StarvationPolicy{AgingInterval: time.Millisecond},
	})
	const prefill = 256
	for i := range prefill {
		_ = q.Enqueue(i, i%ts.DefaultLevels, 0)
	}

	b.ReportAllocs()
	i := 0
	for b.Loop() {
		_ = q.Enqueue(i, i%ts.DefaultLevels, 0)
		if _, _, err := q.Dequeue(0); err != nil {
			b.Fatalf("dequeue: %v", err)
		}
		i++
	}
}

func BenchmarkPool_Latency(b *testing.B) {
	workers := getenvInt("WORKERS", runtime.GOMAXPROCS(0))
	pinned := getenvInt("PINNED", 0) > 0

	pool := ts.NewPool(ts.PoolOptions{Workers: workers, QueueSize: 4096, PinWorkers: pinned})
	defer pool.Stop()

	latencies := make([]int64, b.N)
	var executed atomic.Int64

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		start := time.Now()
		slot := i
		err := pool.Submit(ts.Task{Run: func(context.Context) {
			latencies[slot] = time.Since(start).Nanoseconds()
			executed.Add(1)
		}})
		if err != nil {
			b.Fatalf("submit: %v", err)
		}
	}
	waitUntilB(b, 10*time.Second, func() bool { return executed.Load() == int64(b.N) })
	b.StopTimer()

	slices.Sort(latencies)
	b.ReportMetric(float64(percentile(latencies, 0.50).Nanoseconds()), "p50_ns")
	b.ReportMetric(float64(percentile(latencies, 0.99).Nanoseconds()), "p99_ns")
}
