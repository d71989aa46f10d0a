package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Tracks outbound catalog page requests by final result.
	CatalogRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_source_requests_total",
			Help: "Total number of catalog page requests (by result).",
		},
		[]string{"result"}, // items | exhausted | network_error | parse_error
	)

	// Measures duration of page fetches including retries.
	CatalogRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_source_request_duration_seconds",
			Help:    "Duration of catalog page fetches in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms → ~20s
		},
		[]string{"result"},
	)

	// Counts products handled by ingestion by outcome.
	IngestedProducts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_ingested_products_total",
			Help: "Products processed by ingestion (by outcome).",
		},
		[]string{"outcome"}, // stored | skipped | failed
	)

	// Counts finished ingestion runs by outcome.
	IngestionRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_ingestion_runs_total",
			Help: "Completed ingestion runs (by outcome).",
		},
		[]string{"outcome"},
	)

	// Measures store operation latency.
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "catalog_store_op_duration_seconds",
			Help:    "Duration of product store operations in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"op"},
	)

	// Tracks errors recorded by the error sink, and sink write failures.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "catalog_errors_total",
			Help: "Count of errors by component and reason.",
		},
		[]string{"component", "reason"},
	)

	// Gauges the last successful ingestion run (seconds since epoch).
	LastRunTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "catalog_last_ingestion_timestamp",
			Help: "Timestamp (unix seconds) of the last completed ingestion run.",
		},
	)

	// Tracks NATS messages published by subject and result.
	NATSMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages published.",
		},
		[]string{"subject", "result"}, // result = "ok" | "error"
	)
)

// ObserveDuration records the time since start on the given histogram.
func ObserveDuration(h *prometheus.HistogramVec, start time.Time, labels ...string) {
	h.WithLabelValues(labels...).Observe(time.Since(start).Seconds())
}

func IncCatalogRequest(result string) {
	CatalogRequestsTotal.WithLabelValues(result).Inc()
}

func IncIngested(outcome string, n int) {
	if n > 0 {
		IngestedProducts.WithLabelValues(outcome).Add(float64(n))
	}
}

func IncRun(outcome string) {
	IngestionRuns.WithLabelValues(outcome).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

func IncNATSMessage(subject, result string) {
	NATSMessageCount.WithLabelValues(subject, result).Inc()
}

func SetLastRun(t time.Time) {
	LastRunTimestamp.Set(float64(t.Unix()))
}
