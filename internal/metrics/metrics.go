package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thesisflow",
			Subsystem: "api",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "thesisflow",
			Subsystem: "api",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method"},
	)

	// SubmissionsTotal counts draft submissions by kind (new, modified) and outcome.
	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thesisflow",
			Name:      "submissions_total",
			Help:      "Draft submissions by kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	CompensationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thesisflow",
			Name:      "blob_compensations_total",
			Help:      "Uploaded blobs removed after a failed submission",
		},
		[]string{"outcome"},
	)

	// BundleLoadsTotal counts conversation bundle loads by status
	// (complete, partial, timed_out).
	BundleLoadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thesisflow",
			Name:      "bundle_loads_total",
			Help:      "Conversation bundle loads by status",
		},
		[]string{"status"},
	)

	BundlePipelineErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thesisflow",
			Name:      "bundle_pipeline_errors_total",
			Help:      "Bundle pipelines that degraded to a neutral value",
		},
		[]string{"pipeline"},
	)

	BundleDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "thesisflow",
			Name:      "bundle_duration_seconds",
			Help:      "Conversation bundle load duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	FeedPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thesisflow",
			Name:      "feed_publish_total",
			Help:      "Notification feed publishes by outcome",
		},
		[]string{"outcome"},
	)

	SideEffectFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "thesisflow",
			Name:      "side_effect_failures_total",
			Help:      "Post-commit side effects that failed",
		},
		[]string{"effect"},
	)
)
