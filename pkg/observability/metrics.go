package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// Global metrics instance for singleton pattern
	globalCollector *Collector
	collectorMutex  sync.Mutex
)

// Collector holds all Prometheus metrics for the graph persistence engine
type Collector struct {
	// Registry for this collector instance
	registry *prometheus.Registry

	// Query metrics
	QueryDuration  *prometheus.HistogramVec
	QueryResults   *prometheus.HistogramVec
	TraversalDepth prometheus.Histogram

	// Partition/hydration metrics
	PartitionHits     prometheus.Counter
	PartitionMisses   prometheus.Counter
	ColdStartDuration prometheus.Histogram

	// Write coordination metrics
	WriteLockWait     prometheus.Histogram
	WriteLockTimeouts prometheus.Counter
	WriteLockInflight prometheus.Gauge

	// Export metrics
	ExportDuration prometheus.Histogram
	ExportBytes    prometheus.Histogram

	// Integrity metrics
	OrphansDetected prometheus.Counter
	OrphansRepaired prometheus.Counter
}

// NewCollector creates a new metrics collector with the given namespace
func NewCollector(namespace string) *Collector {
	// Use singleton pattern to avoid duplicate registration in tests
	collectorMutex.Lock()
	defer collectorMutex.Unlock()

	if globalCollector != nil {
		return globalCollector
	}

	registry := prometheus.NewRegistry()

	queryDuration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_duration_seconds",
			Help:      "Graph query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"operation"},
	)

	queryResults := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "query_results",
			Help:      "Result row counts per graph query",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		},
		[]string{"operation"},
	)

	traversalDepth := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "traversal_depth",
			Help:      "Hop depth of traversal queries",
			Buckets:   []float64{1, 2, 3, 4, 5, 6, 8, 10},
		},
	)

	partitionHits := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partition_hits_total",
			Help:      "Queries served by an already-loaded partition",
		},
	)

	partitionMisses := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "partition_misses_total",
			Help:      "Queries against a partition still being hydrated",
		},
	)

	coldStartDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cold_start_duration_seconds",
			Help:      "Time from process start to graph readiness",
			Buckets:   []float64{0.25, 0.5, 1, 2, 3, 5, 10, 30},
		},
	)

	writeLockWait := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "write_lock_wait_seconds",
			Help:      "Time spent waiting for the tenant write lock",
			Buckets:   []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 5, 15, 30},
		},
	)

	writeLockTimeouts := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "write_lock_timeouts_total",
			Help:      "Write lock acquisitions that timed out",
		},
	)

	writeLockInflight := prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "write_lock_inflight",
			Help:      "Writes currently holding or waiting for a lock",
		},
	)

	exportDuration := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_duration_seconds",
			Help:      "Snapshot export duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
	)

	exportBytes := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "export_bytes",
			Help:      "Total bytes per snapshot export",
			Buckets:   prometheus.ExponentialBuckets(1024, 8, 8),
		},
	)

	orphansDetected := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_detected_total",
			Help:      "Orphaned rows found by the integrity scanner",
		},
	)

	orphansRepaired := prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "orphans_repaired_total",
			Help:      "Orphaned rows repaired by the integrity scanner",
		},
	)

	registry.MustRegister(
		queryDuration,
		queryResults,
		traversalDepth,
		partitionHits,
		partitionMisses,
		coldStartDuration,
		writeLockWait,
		writeLockTimeouts,
		writeLockInflight,
		exportDuration,
		exportBytes,
		orphansDetected,
		orphansRepaired,
	)

	globalCollector = &Collector{
		registry:          registry,
		QueryDuration:     queryDuration,
		QueryResults:      queryResults,
		TraversalDepth:    traversalDepth,
		PartitionHits:     partitionHits,
		PartitionMisses:   partitionMisses,
		ColdStartDuration: coldStartDuration,
		WriteLockWait:     writeLockWait,
		WriteLockTimeouts: writeLockTimeouts,
		WriteLockInflight: writeLockInflight,
		ExportDuration:    exportDuration,
		ExportBytes:       exportBytes,
		OrphansDetected:   orphansDetected,
		OrphansRepaired:   orphansRepaired,
	}

	return globalCollector
}

// ResetForTesting resets the global collector for testing purposes
func ResetForTesting() {
	collectorMutex.Lock()
	defer collectorMutex.Unlock()
	globalCollector = nil
}

// ObserveQuery records one query's duration and result count
func (c *Collector) ObserveQuery(operation string, duration time.Duration, results int) {
	c.QueryDuration.WithLabelValues(operation).Observe(duration.Seconds())
	c.QueryResults.WithLabelValues(operation).Observe(float64(results))
}

// GetRegistry returns the Prometheus registry for this collector
func (c *Collector) GetRegistry() *prometheus.Registry {
	return c.registry
}
