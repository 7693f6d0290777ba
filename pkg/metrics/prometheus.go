package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Recorder implements domain.repository.Metrics using Prometheus.
type Recorder struct {
	recordsWritten *prometheus.CounterVec
	storeErrors    *prometheus.CounterVec
	cacheHits      *prometheus.CounterVec
	cacheMisses    *prometheus.CounterVec
	errorsTotal    *prometheus.CounterVec
	latency        *prometheus.HistogramVec
}

// New creates a new Prometheus metrics recorder.
func New() *Recorder {
	return &Recorder{
		recordsWritten: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantiv_forecast_records_written_total",
				Help: "Total number of forecast records written per store",
			},
			[]string{"store"},
		),
		storeErrors: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantiv_store_errors_total",
				Help: "Total number of store operation failures",
			},
			[]string{"store", "op"},
		),
		cacheHits: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantiv_cache_hits_total",
				Help: "Total number of fresh cache hits",
			},
			[]string{"op"},
		),
		cacheMisses: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantiv_cache_misses_total",
				Help: "Total number of cache misses or stale entries",
			},
			[]string{"op"},
		),
		errorsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "quantiv_errors_total",
				Help: "Total number of errors encountered",
			},
			[]string{"type"},
		),
		latency: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "quantiv_operation_duration_seconds",
				Help:    "Duration of operations in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"operation"},
		),
	}
}

// RecordRecordsWritten records forecast records accepted by a store.
func (r *Recorder) RecordRecordsWritten(store string, n int) {
	r.recordsWritten.WithLabelValues(store).Add(float64(n))
}

// RecordStoreError records a failed store operation.
func (r *Recorder) RecordStoreError(store, op string) {
	r.storeErrors.WithLabelValues(store, op).Inc()
}

// RecordCacheHit records a fresh cache hit for an operation.
func (r *Recorder) RecordCacheHit(op string) {
	r.cacheHits.WithLabelValues(op).Inc()
}

// RecordCacheMiss records a cache miss or stale entry for an operation.
func (r *Recorder) RecordCacheMiss(op string) {
	r.cacheMisses.WithLabelValues(op).Inc()
}

// RecordError records an error occurrence.
func (r *Recorder) RecordError(kind string) {
	r.errorsTotal.WithLabelValues(kind).Inc()
}

// RecordLatency records operation latency in seconds.
func (r *Recorder) RecordLatency(op string, seconds float64) {
	r.latency.WithLabelValues(op).Observe(seconds)
}
