// Package metrics provides Prometheus metrics for the Clover service.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SyncRecordsTotal tracks pulled records by outcome (created, updated, skipped, error)
	SyncRecordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "sync",
			Name:      "records_total",
			Help:      "Total number of pulled records by outcome",
		},
		[]string{"tenant_id", "provider", "entity_type", "outcome"},
	)

	// SyncRunsTotal tracks sync runs by final status
	SyncRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "sync",
			Name:      "runs_total",
			Help:      "Total number of sync runs by status",
		},
		[]string{"provider", "status"},
	)

	// SyncRunDuration tracks sync run duration in seconds
	SyncRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "sync",
			Name:      "run_duration_seconds",
			Help:      "Duration of sync runs in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120, 300},
		},
		[]string{"provider", "entity_type"},
	)

	// DedupRuns tracks duplicate groups by status
	DedupRuns = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "dedup",
			Name:      "runs",
			Help:      "Number of duplicate groups by status",
		},
		[]string{"tenant_id", "entity_type", "status"},
	)

	// DedupPairsCompared tracks pairwise comparisons made by detection
	DedupPairsCompared = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "dedup",
			Name:      "pairs_compared_total",
			Help:      "Total number of record pairs compared",
		},
		[]string{"entity_type"},
	)

	// MergesTotal tracks merges and rollbacks by result
	MergesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Name:      "merge_total",
			Help:      "Total number of merge operations by result",
		},
		[]string{"tenant_id", "entity_type", "result"},
	)

	// HTTPClientRequestsTotal tracks outbound provider requests
	HTTPClientRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "http_client",
			Name:      "requests_total",
			Help:      "Total number of outbound provider requests",
		},
		[]string{"provider", "method", "status_code"},
	)

	// HTTPClientRequestDuration tracks outbound request duration
	HTTPClientRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "clover",
			Subsystem: "http_client",
			Name:      "request_duration_seconds",
			Help:      "Duration of outbound provider requests in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	// QueueJobsProcessed tracks sync jobs consumed from the queue
	QueueJobsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "queue",
			Name:      "jobs_processed_total",
			Help:      "Total number of sync jobs processed from the queue",
		},
		[]string{"status"},
	)

	// QueueJobsInFlight tracks sync jobs currently being processed
	QueueJobsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "clover",
			Subsystem: "queue",
			Name:      "jobs_in_flight",
			Help:      "Number of sync jobs currently being processed",
		},
	)

	// KafkaMessagesPublished tracks published events
	KafkaMessagesPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "clover",
			Subsystem: "kafka",
			Name:      "messages_published_total",
			Help:      "Total number of events published to Kafka",
		},
		[]string{"topic", "status"},
	)
)

// RecordSyncRecords adds the per-outcome counts of one pull
func RecordSyncRecords(tenantID, provider, entityType string, created, updated, skipped, errors int) {
	SyncRecordsTotal.WithLabelValues(tenantID, provider, entityType, "created").Add(float64(created))
	SyncRecordsTotal.WithLabelValues(tenantID, provider, entityType, "updated").Add(float64(updated))
	SyncRecordsTotal.WithLabelValues(tenantID, provider, entityType, "skipped").Add(float64(skipped))
	SyncRecordsTotal.WithLabelValues(tenantID, provider, entityType, "error").Add(float64(errors))
}

// RecordSyncRun records a finished sync run
func RecordSyncRun(provider, entityType, status string, durationSeconds float64) {
	SyncRunsTotal.WithLabelValues(provider, status).Inc()
	SyncRunDuration.WithLabelValues(provider, entityType).Observe(durationSeconds)
}

// SetDedupRuns sets the duplicate group gauge for one status
func SetDedupRuns(tenantID, entityType, status string, count int) {
	DedupRuns.WithLabelValues(tenantID, entityType, status).Set(float64(count))
}

func RecordPairsCompared(entityType string, n int64) {
	DedupPairsCompared.WithLabelValues(entityType).Add(float64(n))
}

func RecordMerge(tenantID, entityType, result string) {
	MergesTotal.WithLabelValues(tenantID, entityType, result).Inc()
}

// RecordHTTPRequest records an outbound request
func RecordHTTPRequest(provider, method, statusCode string, durationSeconds float64) {
	HTTPClientRequestsTotal.WithLabelValues(provider, method, statusCode).Inc()
	HTTPClientRequestDuration.WithLabelValues(provider).Observe(durationSeconds)
}

func RecordQueueJob(status string) {
	QueueJobsProcessed.WithLabelValues(status).Inc()
}

func RecordKafkaPublish(topic, status string) {
	KafkaMessagesPublished.WithLabelValues(topic, status).Inc()
}
