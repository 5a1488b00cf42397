package tasksched

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusMetrics is a MetricsPolicy exporting counters through
// the Prometheus client library.
//
// Every queue or pool that should be observed separately needs its own
// instance, distinguished by the subsystem name.
type PrometheusMetrics struct {
	executed prometheus.Counter
	enqueued prometheus.Counter
	dequeued prometheus.Counter
	queued   prometheus.Gauge
}

// NewPrometheusMetrics creates the collectors under namespace/subsystem
// and registers them on reg. A nil reg uses prometheus.DefaultRegisterer.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace, subsystem string) (*PrometheusMetrics, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &PrometheusMetrics{
		executed: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "executed_total",
			Help:      "Number of tasks executed.",
		}),
		enqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "enqueued_total",
			Help:      "Number of items accepted by the queue.",
		}),
		dequeued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "dequeued_total",
			Help:      "Number of items removed from the queue.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: subsystem,
			Name:      "queued",
			Help:      "Number of items currently queued.",
		}),
	}
	for _, c := range []prometheus.Collector{m.executed, m.enqueued, m.dequeued, m.queued} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *PrometheusMetrics) IncExecuted() {
	m.executed.Inc()
}

func (m *PrometheusMetrics) IncQueued() {
	m.enqueued.Inc()
	m.queued.Inc()
}

func (m *PrometheusMetrics) BatchDecQueued(n int64) {
	if n <= 0 {
		return
	}
	m.dequeued.Add(float64(n))
	m.queued.Sub(float64(n))
}
