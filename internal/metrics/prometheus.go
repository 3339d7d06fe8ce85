// Package metrics defines the Prometheus metrics of the transcript relay.
// All Record/Set methods are safe to call on a nil *Metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the transcript relay
type Metrics struct {
	// Device ingest metrics
	DatagramsReceived prometheus.Counter
	BytesReceived     *prometheus.CounterVec
	SessionsAccepted  prometheus.Counter
	SessionsRefused   prometheus.Counter
	SegmentsQueued    prometheus.Counter
	SegmentsDropped   prometheus.Counter
	SegmentSize       prometheus.Histogram
	QueueSize         prometheus.Gauge

	// Device stream metrics
	ActiveStreams    prometheus.Gauge
	StreamsCreated   prometheus.Counter
	StreamsDestroyed prometheus.Counter
	StreamDuration   prometheus.Histogram

	// Recognition metrics
	RecognitionRequests prometheus.Counter
	RecognitionOutcomes *prometheus.CounterVec
	RecognitionDuration prometheus.Histogram

	// Fan-out metrics
	Broadcasts         prometheus.Counter
	Deliveries         *prometheus.CounterVec
	BridgeQueueSize    prometheus.Gauge
	BridgeTaskFailures prometheus.Counter

	// Viewer gateway metrics
	ViewersConnected  prometheus.Gauge
	ViewersSubscribed prometheus.Gauge
	ViewerMessages    *prometheus.CounterVec

	// HTTP API metrics
	HTTPRequests        *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
	HTTPErrors          *prometheus.CounterVec
}

// NewMetrics creates all metrics and registers them with reg
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		DatagramsReceived: factory.NewCounter(prometheus.CounterOpts{
			Name: "voz_datagrams_received_total",
			Help: "Total number of UDP audio datagrams received",
		}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voz_audio_bytes_received_total",
			Help: "Total number of raw audio bytes received from devices",
		}, []string{"transport"}),
		SessionsAccepted: factory.NewCounter(prometheus.CounterOpts{
			Name: "voz_sessions_accepted_total",
			Help: "Total number of push-to-talk TCP sessions accepted",
		}),
		SessionsRefused: factory.NewCounter(prometheus.CounterOpts{
			Name: "voz_sessions_refused_total",
			Help: "Total number of TCP sessions refused at the concurrency limit",
		}),
		SegmentsQueued: factory.NewCounter(prometheus.CounterOpts{
			Name: "voz_segments_queued_total",
			Help: "Total number of audio segments queued for recognition",
		}),
		SegmentsDropped: factory.NewCounter(prometheus.CounterOpts{
			Name: "voz_segments_dropped_total",
			Help: "Total number of audio segments dropped because the queue was full or closed",
		}),
		SegmentSize: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voz_segment_size_bytes",
			Help:    "Size of assembled audio segments in bytes",
			Buckets: prometheus.ExponentialBuckets(1000, 2, 8), // 1KB to ~128KB
		}),
		QueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voz_segment_queue_size",
			Help: "Current number of segments waiting for recognition",
		}),

		ActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voz_active_streams",
			Help: "Current number of active device streams",
		}),
		StreamsCreated: factory.NewCounter(prometheus.CounterOpts{
			Name: "voz_streams_created_total",
			Help: "Total number of device streams created",
		}),
		StreamsDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "voz_streams_destroyed_total",
			Help: "Total number of device streams destroyed",
		}),
		StreamDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voz_stream_duration_seconds",
			Help:    "Duration of device streams in seconds",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17 minutes
		}),

		RecognitionRequests: factory.NewCounter(prometheus.CounterOpts{
			Name: "voz_recognition_requests_total",
			Help: "Total number of segments sent for recognition",
		}),
		RecognitionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voz_recognition_outcomes_total",
			Help: "Recognition results by outcome",
		}, []string{"outcome"}),
		RecognitionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "voz_recognition_duration_seconds",
			Help:    "Duration of recognition calls",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 10), // 100ms to ~1 minute
		}),

		Broadcasts: factory.NewCounter(prometheus.CounterOpts{
			Name: "voz_broadcasts_total",
			Help: "Total number of transcripts fanned out to subscribers",
		}),
		Deliveries: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voz_deliveries_total",
			Help: "Per-subscriber delivery attempts by result",
		}, []string{"result"}),
		BridgeQueueSize: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voz_bridge_queue_size",
			Help: "Current number of tasks waiting on the broadcast loop",
		}),
		BridgeTaskFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "voz_bridge_task_failures_total",
			Help: "Total number of broadcast loop tasks that failed or panicked",
		}),

		ViewersConnected: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voz_viewers_connected",
			Help: "Current number of connected viewers",
		}),
		ViewersSubscribed: factory.NewGauge(prometheus.GaugeOpts{
			Name: "voz_viewers_subscribed",
			Help: "Current number of viewers subscribed to transcripts",
		}),
		ViewerMessages: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voz_viewer_messages_total",
			Help: "Inbound viewer messages by command",
		}, []string{"command"}),

		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voz_http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status_code"}),
		HTTPRequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "voz_http_request_duration_seconds",
			Help:    "Duration of HTTP requests",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		HTTPErrors: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "voz_http_errors_total",
			Help: "Total number of HTTP errors",
		}, []string{"method", "endpoint", "error_type"}),
	}
}

// RecordDatagram records one received datagram
func (m *Metrics) RecordDatagram(sizeBytes int) {
	if m == nil {
		return
	}
	m.DatagramsReceived.Inc()
	m.BytesReceived.WithLabelValues("udp").Add(float64(sizeBytes))
}

// RecordSessionBytes records bytes read from a TCP session
func (m *Metrics) RecordSessionBytes(sizeBytes int) {
	if m == nil {
		return
	}
	m.BytesReceived.WithLabelValues("tcp").Add(float64(sizeBytes))
}

// RecordSessionAccepted increments the sessions accepted counter
func (m *Metrics) RecordSessionAccepted() {
	if m == nil {
		return
	}
	m.SessionsAccepted.Inc()
}

// RecordSessionRefused increments the sessions refused counter
func (m *Metrics) RecordSessionRefused() {
	if m == nil {
		return
	}
	m.SessionsRefused.Inc()
}

// RecordSegmentQueued records a segment accepted by the queue
func (m *Metrics) RecordSegmentQueued(sizeBytes int) {
	if m == nil {
		return
	}
	m.SegmentsQueued.Inc()
	m.SegmentSize.Observe(float64(sizeBytes))
}

// RecordSegmentDropped increments the segments dropped counter
func (m *Metrics) RecordSegmentDropped() {
	if m == nil {
		return
	}
	m.SegmentsDropped.Inc()
}

// SetQueueSize sets the current queue size
func (m *Metrics) SetQueueSize(size int) {
	if m == nil {
		return
	}
	m.QueueSize.Set(float64(size))
}

// SetActiveStreams sets the current number of active streams
func (m *Metrics) SetActiveStreams(count int) {
	if m == nil {
		return
	}
	m.ActiveStreams.Set(float64(count))
}

// RecordStreamCreated increments the streams created counter
func (m *Metrics) RecordStreamCreated() {
	if m == nil {
		return
	}
	m.StreamsCreated.Inc()
}

// RecordStreamDestroyed increments the streams destroyed counter and records duration
func (m *Metrics) RecordStreamDestroyed(durationSeconds float64) {
	if m == nil {
		return
	}
	m.StreamsDestroyed.Inc()
	m.StreamDuration.Observe(durationSeconds)
}

// RecordRecognition records one recognition call and its outcome
func (m *Metrics) RecordRecognition(outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RecognitionRequests.Inc()
	m.RecognitionOutcomes.WithLabelValues(outcome).Inc()
	m.RecognitionDuration.Observe(durationSeconds)
}

// RecordBroadcast records one fan-out and its per-subscriber results
func (m *Metrics) RecordBroadcast(delivered, failed int) {
	if m == nil {
		return
	}
	m.Broadcasts.Inc()
	m.Deliveries.WithLabelValues("delivered").Add(float64(delivered))
	m.Deliveries.WithLabelValues("failed").Add(float64(failed))
}

// SetBridgeQueueSize sets the number of pending broadcast loop tasks
func (m *Metrics) SetBridgeQueueSize(size int) {
	if m == nil {
		return
	}
	m.BridgeQueueSize.Set(float64(size))
}

// RecordBridgeTaskFailure increments the failed task counter
func (m *Metrics) RecordBridgeTaskFailure() {
	if m == nil {
		return
	}
	m.BridgeTaskFailures.Inc()
}

// SetViewers sets the connected and subscribed viewer gauges
func (m *Metrics) SetViewers(connected, subscribed int) {
	if m == nil {
		return
	}
	m.ViewersConnected.Set(float64(connected))
	m.ViewersSubscribed.Set(float64(subscribed))
}

// RecordViewerMessage counts an inbound viewer message
func (m *Metrics) RecordViewerMessage(command string) {
	if m == nil {
		return
	}
	m.ViewerMessages.WithLabelValues(command).Inc()
}

// RecordHTTPRequest records an HTTP request
func (m *Metrics) RecordHTTPRequest(method, endpoint, statusCode string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.HTTPRequests.WithLabelValues(method, endpoint, statusCode).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(durationSeconds)
}

// RecordHTTPError records an HTTP error
func (m *Metrics) RecordHTTPError(method, endpoint, errorType string) {
	if m == nil {
		return
	}
	m.HTTPErrors.WithLabelValues(method, endpoint, errorType).Inc()
}
