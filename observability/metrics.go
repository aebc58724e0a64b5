package observability

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PoolOperationMetrics records pool coordinator activity: one counter per
// operation/outcome pair, a latency histogram per operation, and a counter
// for snapshot persistence failures that need operator attention.
type PoolOperationMetrics struct {
	operations      *prometheus.CounterVec
	latency         *prometheus.HistogramVec
	persistFailures prometheus.Counter
}

var (
	poolMetricsOnce sync.Once
	poolRegistry    *PoolOperationMetrics
)

// PoolMetrics returns the lazily-initialised metrics registry shared by all
// coordinator instances in the process.
func PoolMetrics() *PoolOperationMetrics {
	poolMetricsOnce.Do(func() {
		poolRegistry = &PoolOperationMetrics{
			operations: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "sharepool",
				Subsystem: "coordinator",
				Name:      "operations_total",
				Help:      "Total pool operations segmented by operation and outcome.",
			}, []string{"operation", "outcome"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "sharepool",
				Subsystem: "coordinator",
				Name:      "operation_duration_seconds",
				Help:      "Latency distribution for pool operations including venue round-trips.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"operation"}),
			persistFailures: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "sharepool",
				Subsystem: "coordinator",
				Name:      "persist_failures_total",
				Help:      "Count of ledger snapshot writes that failed after a completed operation.",
			}),
		}
		prometheus.MustRegister(
			poolRegistry.operations,
			poolRegistry.latency,
			poolRegistry.persistFailures,
		)
	})
	return poolRegistry
}

// Register adds the pool collectors to reg so a scrape endpoint backed by
// its own registry exposes them alongside its own series. Registering the
// same collectors twice is a no-op.
func (m *PoolOperationMetrics) Register(reg prometheus.Registerer) {
	if m == nil || reg == nil {
		return
	}
	for _, collector := range []prometheus.Collector{m.operations, m.latency, m.persistFailures} {
		if err := reg.Register(collector); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				panic(err)
			}
		}
	}
}

// Observe records a completed operation attempt.
func (m *PoolOperationMetrics) Observe(operation, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.operations.WithLabelValues(operation, outcome).Inc()
	m.latency.WithLabelValues(operation).Observe(elapsed.Seconds())
}

// PersistFailure records a snapshot write failure.
func (m *PoolOperationMetrics) PersistFailure() {
	if m == nil {
		return
	}
	m.persistFailures.Inc()
}
