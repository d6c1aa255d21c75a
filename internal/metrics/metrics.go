package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsFinished counts worker runs by job kind (backup, delete) and terminal status.
	JobsFinished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archivist_jobs_finished_total",
			Help: "Total number of jobs that reached a terminal or paused state",
		},
		[]string{"kind", "status"},
	)

	MessagesArchived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archivist_messages_archived_total",
			Help: "Total number of messages persisted by backup jobs",
		},
		[]string{"mode"},
	)

	MediaBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archivist_media_downloaded_bytes_total",
			Help: "Total bytes of media written to disk",
		},
	)

	MediaFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archivist_media_download_failures_total",
			Help: "Total number of attachment downloads that failed and were skipped",
		},
	)

	DeleteCalls = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archivist_delete_calls_total",
			Help: "Total number of message delete calls by result",
		},
		[]string{"result"}, // "deleted", "failed"
	)

	APIRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "archivist_platform_requests_total",
			Help: "Total number of chat platform API requests by method and status class",
		},
		[]string{"method", "status"},
	)

	RateLimited = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archivist_platform_rate_limited_total",
			Help: "Total number of HTTP 429 responses received from the chat platform",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "archivist_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	RetentionRemoved = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "archivist_retention_removed_backups_total",
			Help: "Total number of backups removed by the retention policy",
		},
	)
)

// StatusClass buckets an HTTP status code into "2xx", "4xx", ... for label cardinality.
func StatusClass(code int) string {
	switch {
	case code >= 500:
		return "5xx"
	case code == 429:
		return "429"
	case code >= 400:
		return "4xx"
	case code >= 300:
		return "3xx"
	case code >= 200:
		return "2xx"
	default:
		return "error"
	}
}
