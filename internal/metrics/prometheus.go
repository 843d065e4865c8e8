package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcription service.
// A nil *Metrics is valid and records nothing, so tests can run components
// without touching the global registry.
type Metrics struct {
	// Segmentation metrics
	ChunksEmitted     prometheus.Counter
	ChunkDuration     prometheus.Histogram
	BoundaryRules     *prometheus.CounterVec
	CapturedSeconds   prometheus.Counter

	// Pipeline metrics
	ChunksCompleted prometheus.Counter
	ChunksErrored   prometheus.Counter
	StageDuration   *prometheus.HistogramVec
	StageErrors     *prometheus.CounterVec
	RetriesQueued   *prometheus.CounterVec

	// Session metrics
	SessionsStarted   prometheus.Counter
	SessionsCompleted prometheus.Counter
	CancelResolutions *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ChunksEmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_chunks_emitted_total",
			Help: "Total number of chunks emitted by the segmenter",
		}),
		ChunkDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "asr_chunk_duration_seconds",
			Help:    "Duration of emitted chunks in seconds",
			Buckets: prometheus.LinearBuckets(15, 15, 9), // 15s to 135s
		}),
		BoundaryRules: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_boundary_rules_total",
			Help: "Boundary detections by rule",
		}, []string{"rule"}),
		CapturedSeconds: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_captured_audio_seconds_total",
			Help: "Total seconds of audio appended to the capture buffer",
		}),

		ChunksCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_chunks_completed_total",
			Help: "Total number of chunks that completed all stages",
		}),
		ChunksErrored: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_chunks_errored_total",
			Help: "Total number of chunks that settled in error",
		}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_stage_duration_seconds",
			Help:    "Processing stage latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~51s
		}, []string{"stage"}),
		StageErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_stage_errors_total",
			Help: "Stage failures by stage and error kind",
		}, []string{"stage", "kind"}),
		RetriesQueued: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_retries_queued_total",
			Help: "Deferred retries scheduled by error kind",
		}, []string{"kind"}),

		SessionsStarted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_sessions_started_total",
			Help: "Total number of recording sessions started",
		}),
		SessionsCompleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "asr_sessions_completed_total",
			Help: "Total number of recording sessions completed",
		}),
		CancelResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_cancel_resolutions_total",
			Help: "Cancellation resolutions by choice",
		}, []string{"choice"}),

		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "asr_http_requests_total",
			Help: "HTTP requests by endpoint and status code",
		}, []string{"endpoint", "status"}),
		HTTPRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "asr_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"endpoint"}),
	}
}

// RecordChunkEmitted records a segmenter chunk emission
func (m *Metrics) RecordChunkEmitted(duration time.Duration, rule string) {
	if m == nil {
		return
	}
	m.ChunksEmitted.Inc()
	m.ChunkDuration.Observe(duration.Seconds())
	m.BoundaryRules.WithLabelValues(rule).Inc()
}

// RecordCapturedAudio records appended capture audio
func (m *Metrics) RecordCapturedAudio(duration time.Duration) {
	if m == nil {
		return
	}
	m.CapturedSeconds.Add(duration.Seconds())
}

// RecordChunkCompleted records a chunk settling as completed
func (m *Metrics) RecordChunkCompleted() {
	if m == nil {
		return
	}
	m.ChunksCompleted.Inc()
}

// RecordChunkError records a chunk settling in error
func (m *Metrics) RecordChunkError() {
	if m == nil {
		return
	}
	m.ChunksErrored.Inc()
}

// RecordStageDuration records processing stage latency
func (m *Metrics) RecordStageDuration(stage string, duration time.Duration) {
	if m == nil {
		return
	}
	m.StageDuration.WithLabelValues(stage).Observe(duration.Seconds())
}

// RecordStageError records a classified stage failure
func (m *Metrics) RecordStageError(stage, kind string) {
	if m == nil {
		return
	}
	m.StageErrors.WithLabelValues(stage, kind).Inc()
}

// RecordRetryScheduled records a deferred retry
func (m *Metrics) RecordRetryScheduled(kind string) {
	if m == nil {
		return
	}
	m.RetriesQueued.WithLabelValues(kind).Inc()
}

// RecordSessionStarted records a session start
func (m *Metrics) RecordSessionStarted() {
	if m == nil {
		return
	}
	m.SessionsStarted.Inc()
}

// RecordSessionCompleted records a session reaching its terminal state
func (m *Metrics) RecordSessionCompleted() {
	if m == nil {
		return
	}
	m.SessionsCompleted.Inc()
}

// RecordCancelResolution records a cancellation resolution choice
func (m *Metrics) RecordCancelResolution(choice string) {
	if m == nil {
		return
	}
	m.CancelResolutions.WithLabelValues(choice).Inc()
}

// RecordHTTPRequest records an HTTP API request
func (m *Metrics) RecordHTTPRequest(endpoint, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(endpoint, status).Inc()
	m.HTTPRequestDuration.WithLabelValues(endpoint).Observe(duration.Seconds())
}
