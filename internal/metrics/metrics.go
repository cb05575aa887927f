// Package metrics exposes the counters and gauges backing get_health
// and get_stats. Collectors are registered at construction time rather
// than via package-level globals.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collector owns every metric this service registers. A single instance
// is constructed at startup and threaded through the repository,
// tiering, and service packages via dependency injection.
type Collector struct {
	Registry *prometheus.Registry

	Migrations        *prometheus.CounterVec
	Evictions         prometheus.Counter
	Consolidations    prometheus.Counter
	TouchQueueDropped prometheus.Counter
	PendingEmbeddings prometheus.Gauge
	QuarantinedRows   prometheus.Gauge
	Operations        *prometheus.CounterVec
	SweepDuration     prometheus.Histogram
}

// New builds and registers every collector against a fresh registry.
func New() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		Registry: reg,
		Migrations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memoria",
			Name:      "tier_migrations_total",
			Help:      "Memories migrated between tiers, labeled by from/to tier.",
		}, []string{"from", "to"}),
		Evictions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memoria",
			Name:      "evictions_total",
			Help:      "Working-tier memories evicted for low importance and age.",
		}),
		Consolidations: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memoria",
			Name:      "consolidations_total",
			Help:      "Memories merged by the consolidator (dedup + near-duplicate passes).",
		}),
		TouchQueueDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "memoria",
			Name:      "touch_queue_dropped_total",
			Help:      "Touch events dropped because the bounded touch queue was full.",
		}),
		PendingEmbeddings: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "memoria",
			Name:      "pending_embeddings",
			Help:      "Rows currently awaiting a repaired vector write.",
		}),
		QuarantinedRows: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "memoria",
			Name:      "quarantined_rows",
			Help:      "Rows excluded from sweeps after repeated repair or sweep failures.",
		}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memoria",
			Name:      "operations_total",
			Help:      "Service operations, labeled by operation name and outcome.",
		}, []string{"operation", "outcome"}),
		SweepDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "memoria",
			Name:      "sweep_duration_seconds",
			Help:      "Wall-clock duration of a tier-manager sweep.",
			Buckets:   prometheus.DefBuckets,
		}),
	}

	reg.MustRegister(
		c.Migrations,
		c.Evictions,
		c.Consolidations,
		c.TouchQueueDropped,
		c.PendingEmbeddings,
		c.QuarantinedRows,
		c.Operations,
		c.SweepDuration,
	)

	return c
}

// RecordOperation increments the operations counter for op/outcome —
// "store"/"ok", "recall"/"degraded", and so on.
func (c *Collector) RecordOperation(op, outcome string) {
	c.Operations.WithLabelValues(op, outcome).Inc()
}
