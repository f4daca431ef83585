package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Upload kinds used as label values.
const (
	KindVideo     = "video"
	KindThumbnail = "thumbnail"
	KindTrailer   = "trailer"
)

// Pipeline metrics
var (
	// UploadsProcessed counts finished uploads by kind and result.
	UploadsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "media",
			Name:      "uploads_processed_total",
			Help:      "Total number of media uploads processed",
		},
		[]string{"kind", "result"},
	)

	// PipelineDuration tracks the time from authorization to catalog patch.
	PipelineDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "catalog",
			Subsystem: "media",
			Name:      "pipeline_duration_seconds",
			Help:      "Time taken by the whole upload pipeline",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"kind"},
	)

	// ActivePipelines tracks uploads currently in flight.
	ActivePipelines = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "catalog",
			Subsystem: "media",
			Name:      "active_pipelines",
			Help:      "Number of upload pipelines currently running",
		},
	)

	// PersistDuration tracks the time taken to write the upload to disk.
	PersistDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "catalog",
			Subsystem: "media",
			Name:      "persist_source_duration_seconds",
			Help:      "Time taken to persist uploaded sources",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	// TranscodeDuration tracks the time taken for segmenting.
	TranscodeDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "catalog",
			Subsystem: "media",
			Name:      "transcode_duration_seconds",
			Help:      "Time taken for HLS segmenting",
			Buckets:   []float64{10, 30, 60, 120, 300, 600, 1200},
		},
	)

	// PublishDuration tracks the time taken to publish artifacts.
	PublishDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "catalog",
			Subsystem: "media",
			Name:      "publish_duration_seconds",
			Help:      "Time taken to publish artifacts to the media store",
			Buckets:   []float64{1, 5, 10, 30, 60, 120},
		},
	)

	// ObjectsPublished counts raw objects written to the media store.
	ObjectsPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "media",
			Name:      "objects_published_total",
			Help:      "Total number of raw objects published",
		},
	)

	// OrphanedObjects counts published objects left behind by a failed upload
	// whose cleanup also failed.
	OrphanedObjects = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "media",
			Name:      "orphaned_objects_total",
			Help:      "Total number of published objects that could not be cleaned up",
		},
	)
)

// API metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "catalog",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AuthFailures counts authentication failures by type.
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "catalog",
			Subsystem: "api",
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)
)

// RecordSuccess records a successful upload of the given kind.
func RecordSuccess(kind string) {
	UploadsProcessed.WithLabelValues(kind, "success").Inc()
}

// RecordFailure records a failed upload of the given kind.
func RecordFailure(kind string) {
	UploadsProcessed.WithLabelValues(kind, "failed").Inc()
}
