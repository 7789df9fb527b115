// Package metrics holds the process-wide Prometheus collectors.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ember_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	OperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_operations_total",
			Help: "Query surface operations by outcome (ok or error kind).",
		},
		[]string{"op", "outcome"},
	)

	OperationDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ember_operation_duration_seconds",
			Help:    "Query surface operation latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	BoostsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_boosts_total",
			Help: "Heat boosts applied, by kind.",
		},
		[]string{"kind"},
	)

	DecaySweepsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_decay_sweeps_total",
			Help: "Completed decay sweeps.",
		},
	)

	DecayedRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_decayed_records_total",
			Help: "Records whose heat was advanced by a decay sweep.",
		},
	)

	DecayFailuresTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_decay_failures_total",
			Help: "Per-record failures during decay sweeps.",
		},
	)

	DecayLastSweepSeconds = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ember_decay_last_sweep_seconds",
			Help: "Duration of the most recent decay sweep.",
		},
	)

	BackfilledRecordsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ember_backfilled_records_total",
			Help: "Legacy records seeded with heat.",
		},
	)

	IndexedDocuments = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ember_indexed_documents",
			Help: "Documents in the similarity index.",
		},
	)

	EmbedCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ember_embed_cache_total",
			Help: "Query embedding cache lookups, by result (hit or miss).",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		HTTPRequestsTotal,
		HTTPRequestDuration,
		OperationsTotal,
		OperationDuration,
		BoostsTotal,
		DecaySweepsTotal,
		DecayedRecordsTotal,
		DecayFailuresTotal,
		DecayLastSweepSeconds,
		BackfilledRecordsTotal,
		IndexedDocuments,
		EmbedCacheTotal,
	)
}
