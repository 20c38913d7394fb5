package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	DurableWritesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "durable_writes_total",
			Help:      "Durable writes by stream and outcome (primary, buffered, lost).",
		},
		[]string{"stream", "outcome"},
	)

	DurableFlushTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "durable_flush_entries_total",
			Help:      "Buffered entries processed by the flusher by stream and result.",
		},
		[]string{"stream", "result"},
	)

	WebhookAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "webhook_attempts_total",
			Help:      "Webhook delivery attempts by event type and success.",
		},
		[]string{"event", "success"},
	)

	WebhookAttemptDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "courier",
			Name:      "webhook_attempt_duration_seconds",
			Help:      "Duration of single webhook delivery attempts.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"event"},
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "courier",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	HTTPRequestDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "courier",
			Name:      "http_request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

var registerOnce sync.Once

// MustRegister registers all collectors with the default registry. Safe to
// call more than once.
func MustRegister() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			DurableWritesTotal,
			DurableFlushTotal,
			WebhookAttemptsTotal,
			WebhookAttemptDurationSeconds,
			HTTPRequestsTotal,
			HTTPRequestDurationSeconds,
		)
	})
}
