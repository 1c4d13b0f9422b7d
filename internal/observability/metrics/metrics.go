// Package metrics provides Prometheus metrics for observability.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "crm_insight"

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Capture metrics
	CaptureSessions     prometheus.Counter
	CaptureActive       prometheus.Gauge
	CaptureDuration     prometheus.Histogram
	CaptureBytes        prometheus.Counter
	CaptureStops        *prometheus.CounterVec
	DeviceUnavailable   prometheus.Counter
	FramesDropped       prometheus.Counter
	RecordingsAssembled *prometheus.CounterVec

	// Transcription metrics
	TranscriptionsTotal  *prometheus.CounterVec
	TranscriptionLatency *prometheus.HistogramVec
	CleanupFailures      *prometheus.CounterVec

	// Insight metrics
	InsightAttempts *prometheus.CounterVec
	InsightAnswers  *prometheus.CounterVec
	InsightLatency  *prometheus.HistogramVec

	// Chat metrics
	ChatSessionsActive prometheus.Gauge
	ChatMessages       *prometheus.CounterVec
	ChatTransitions    *prometheus.CounterVec

	// HTTP metrics
	HTTPRequests    *prometheus.CounterVec
	HTTPLatency     *prometheus.HistogramVec
	RateLimitDenied *prometheus.CounterVec

	// gRPC metrics
	GRPCRequests *prometheus.CounterVec
	GRPCLatency  *prometheus.HistogramVec

	// Kafka publish metrics
	KafkaPublishTotal   *prometheus.CounterVec
	KafkaPublishErrors  *prometheus.CounterVec
	KafkaPublishLatency *prometheus.HistogramVec
}

// DefaultMetrics is the global metrics instance.
var DefaultMetrics = NewMetrics()

// NewMetrics creates and registers all Prometheus metrics.
func NewMetrics() *Metrics {
	return &Metrics{
		// Capture metrics
		CaptureSessions: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_sessions_total",
			Help:      "Total number of audio capture sessions started",
		}),
		CaptureActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_sessions_active",
			Help:      "Number of capture sessions currently holding a device stream",
		}),
		CaptureDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_duration_seconds",
			Help:      "Duration of audio capture sessions in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 15, 30},
		}),
		CaptureBytes: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_bytes_total",
			Help:      "Total audio bytes captured",
		}),
		CaptureStops: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_stops_total",
			Help:      "Capture sessions stopped, by reason",
		}, []string{"reason"}),
		DeviceUnavailable: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_device_unavailable_total",
			Help:      "Capture attempts that failed to acquire a device",
		}),
		FramesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "capture_frames_dropped_total",
			Help:      "Audio frames dropped because no stream was open or the buffer was full",
		}),
		RecordingsAssembled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recordings_assembled_total",
			Help:      "Recordings assembled, by outcome",
		}, []string{"outcome"}),

		// Transcription metrics
		TranscriptionsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transcriptions_total",
			Help:      "Transcription attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		TranscriptionLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "transcription_latency_seconds",
			Help:      "End-to-end transcription latency in seconds",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30},
		}, []string{"provider"}),
		CleanupFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transient_cleanup_failures_total",
			Help:      "Failures deleting transient artifacts",
		}, []string{"location"}),

		// Insight metrics
		InsightAttempts: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insight_attempts_total",
			Help:      "Insight provider attempts by provider and outcome",
		}, []string{"provider", "outcome"}),
		InsightAnswers: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "insight_answers_total",
			Help:      "Insight answers delivered, by source",
		}, []string{"source"}),
		InsightLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "insight_latency_seconds",
			Help:      "Insight generation latency including retries",
			Buckets:   []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"provider"}),

		// Chat metrics
		ChatSessionsActive: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "chat_sessions_active",
			Help:      "Number of open chat sessions",
		}),
		ChatMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_messages_total",
			Help:      "Chat messages appended, by role and kind",
		}, []string{"role", "kind"}),
		ChatTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_state_transitions_total",
			Help:      "Chat state machine transitions",
		}, []string{"from", "to"}),

		// HTTP metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),
		RateLimitDenied: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rate_limit_denied_total",
			Help:      "Requests rejected by the rate limiter",
		}, []string{"route"}),

		// gRPC metrics
		GRPCRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "grpc_requests_total",
			Help:      "gRPC calls by method and status code",
		}, []string{"method", "code"}),
		GRPCLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "grpc_request_duration_seconds",
			Help:      "gRPC call latency in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}, []string{"method"}),

		// Kafka publish metrics
		KafkaPublishTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_total",
			Help:      "Total number of Kafka messages published",
		}, []string{"topic", "event_type"}),
		KafkaPublishErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "kafka_publish_errors_total",
			Help:      "Total number of Kafka publish errors",
		}, []string{"topic", "event_type"}),
		KafkaPublishLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "kafka_publish_latency_seconds",
			Help:      "Kafka publish latency in seconds",
			Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}, []string{"topic"}),
	}
}

// RecordCaptureStart records a capture session acquiring its device stream.
func (m *Metrics) RecordCaptureStart() {
	m.CaptureSessions.Inc()
	m.CaptureActive.Inc()
}

// RecordCaptureEnd records a capture session releasing its device stream.
func (m *Metrics) RecordCaptureEnd(reason string, bytes int, durationSeconds float64) {
	m.CaptureActive.Dec()
	m.CaptureStops.WithLabelValues(reason).Inc()
	m.CaptureBytes.Add(float64(bytes))
	m.CaptureDuration.Observe(durationSeconds)
}

// RecordDeviceUnavailable records a failed device acquisition.
func (m *Metrics) RecordDeviceUnavailable() {
	m.DeviceUnavailable.Inc()
}

// RecordFrameDropped records an audio frame that could not be delivered.
func (m *Metrics) RecordFrameDropped() {
	m.FramesDropped.Inc()
}

// RecordRecording records an assembled recording outcome (ok, too_short, empty).
func (m *Metrics) RecordRecording(outcome string) {
	m.RecordingsAssembled.WithLabelValues(outcome).Inc()
}

// RecordTranscription records a transcription attempt.
func (m *Metrics) RecordTranscription(provider, outcome string, latencySeconds float64) {
	m.TranscriptionsTotal.WithLabelValues(provider, outcome).Inc()
	m.TranscriptionLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordCleanupFailure records a failed transient artifact deletion.
func (m *Metrics) RecordCleanupFailure(location string) {
	m.CleanupFailures.WithLabelValues(location).Inc()
}

// RecordInsightAttempt records a single provider attempt.
func (m *Metrics) RecordInsightAttempt(provider, outcome string) {
	m.InsightAttempts.WithLabelValues(provider, outcome).Inc()
}

// RecordInsightAnswer records an answer delivered to a user.
func (m *Metrics) RecordInsightAnswer(source string) {
	m.InsightAnswers.WithLabelValues(source).Inc()
}

// RecordInsightLatency records the total time spent obtaining an insight.
func (m *Metrics) RecordInsightLatency(provider string, latencySeconds float64) {
	m.InsightLatency.WithLabelValues(provider).Observe(latencySeconds)
}

// RecordChatMessage records a message appended to a conversation.
func (m *Metrics) RecordChatMessage(role, kind string) {
	m.ChatMessages.WithLabelValues(role, kind).Inc()
}

// RecordChatTransition records a chat state machine transition.
func (m *Metrics) RecordChatTransition(from, to string) {
	m.ChatTransitions.WithLabelValues(from, to).Inc()
}

// RecordHTTPRequest records a served HTTP request.
func (m *Metrics) RecordHTTPRequest(route, code string, latencySeconds float64) {
	m.HTTPRequests.WithLabelValues(route, code).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(latencySeconds)
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *Metrics) RecordRateLimited(route string) {
	m.RateLimitDenied.WithLabelValues(route).Inc()
}

// RecordGRPCRequest records a completed gRPC call.
func (m *Metrics) RecordGRPCRequest(method, code string, latencySeconds float64) {
	m.GRPCRequests.WithLabelValues(method, code).Inc()
	m.GRPCLatency.WithLabelValues(method).Observe(latencySeconds)
}

// RecordKafkaPublish records a Kafka publish attempt.
func (m *Metrics) RecordKafkaPublish(topic, eventType string, err error, latencySeconds float64) {
	m.KafkaPublishTotal.WithLabelValues(topic, eventType).Inc()
	m.KafkaPublishLatency.WithLabelValues(topic).Observe(latencySeconds)
	if err != nil {
		m.KafkaPublishErrors.WithLabelValues(topic, eventType).Inc()
	}
}
