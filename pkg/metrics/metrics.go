package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the realtime service
type Metrics struct {
	// HTTP request metrics
	httpRequestsTotal    *prometheus.CounterVec
	httpRequestDuration  *prometheus.HistogramVec
	httpRequestsInFlight prometheus.Gauge

	// WebSocket metrics
	wsConnections prometheus.Gauge
	wsEventsTotal *prometheus.CounterVec

	// Message fan-out metrics
	messagesSentTotal      *prometheus.CounterVec
	messagesDeliveredTotal prometheus.Counter
	messagesBlockedTotal   prometheus.Counter
	deliveryDuration       prometheus.Histogram

	// Call metrics
	callsInitiatedTotal  *prometheus.CounterVec
	callsTerminatedTotal *prometheus.CounterVec
	callDuration         prometheus.Histogram

	// Push metrics
	pushSentTotal   prometheus.Counter
	pushFailedTotal prometheus.Counter
}

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(serviceName string) *Metrics {
	labels := prometheus.Labels{"service": serviceName}

	return &Metrics{
		httpRequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "http_requests_total",
			Help:        "Total number of HTTP requests",
			ConstLabels: labels,
		}, []string{"method", "endpoint", "status"}),
		httpRequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:        "http_request_duration_seconds",
			Help:        "HTTP request latency in seconds",
			ConstLabels: labels,
			Buckets:     prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		httpRequestsInFlight: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "http_requests_in_flight",
			Help:        "Number of HTTP requests currently being processed",
			ConstLabels: labels,
		}),

		wsConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Name:        "ws_connections",
			Help:        "Number of live WebSocket connections on this instance",
			ConstLabels: labels,
		}),
		wsEventsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "ws_events_total",
			Help:        "Total number of inbound WebSocket events",
			ConstLabels: labels,
		}, []string{"event"}),

		messagesSentTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "messages_sent_total",
			Help:        "Total number of messages accepted by the fan-out pipeline",
			ConstLabels: labels,
		}, []string{"message_type"}),
		messagesDeliveredTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "messages_delivered_total",
			Help:        "Total number of messages handed to a live connection",
			ConstLabels: labels,
		}),
		messagesBlockedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "messages_blocked_total",
			Help:        "Total number of messages silently dropped by block lists",
			ConstLabels: labels,
		}),
		deliveryDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "message_delivery_duration_seconds",
			Help:        "Time from publish to live hand-off",
			ConstLabels: labels,
			Buckets:     []float64{0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),

		callsInitiatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "calls_initiated_total",
			Help:        "Total number of call sessions created",
			ConstLabels: labels,
		}, []string{"call_type"}),
		callsTerminatedTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name:        "calls_terminated_total",
			Help:        "Total number of call sessions reaching a terminal state",
			ConstLabels: labels,
		}, []string{"status"}),
		callDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:        "call_duration_seconds",
			Help:        "Duration of connected calls",
			ConstLabels: labels,
			Buckets:     []float64{5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		}),

		pushSentTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "push_notifications_sent_total",
			Help:        "Total number of push notifications sent",
			ConstLabels: labels,
		}),
		pushFailedTotal: promauto.NewCounter(prometheus.CounterOpts{
			Name:        "push_notifications_failed_total",
			Help:        "Total number of push notification failures",
			ConstLabels: labels,
		}),
	}
}

// RecordHTTPRequest records an HTTP request with its outcome
func (m *Metrics) RecordHTTPRequest(method, endpoint string, status int, duration time.Duration) {
	m.httpRequestsTotal.WithLabelValues(method, endpoint, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// IncrementHTTPRequestsInFlight increments the in-flight request gauge
func (m *Metrics) IncrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Inc() }

// DecrementHTTPRequestsInFlight decrements the in-flight request gauge
func (m *Metrics) DecrementHTTPRequestsInFlight() { m.httpRequestsInFlight.Dec() }

// ConnectionOpened records a new WebSocket connection
func (m *Metrics) ConnectionOpened() { m.wsConnections.Inc() }

// ConnectionClosed records a closed WebSocket connection
func (m *Metrics) ConnectionClosed() { m.wsConnections.Dec() }

// RecordWSEvent counts an inbound WebSocket event by name
func (m *Metrics) RecordWSEvent(event string) {
	m.wsEventsTotal.WithLabelValues(event).Inc()
}

// RecordMessageSent counts an accepted outbound message
func (m *Metrics) RecordMessageSent(messageType string) {
	m.messagesSentTotal.WithLabelValues(messageType).Inc()
}

// RecordMessageDelivered counts a live hand-off and its latency
func (m *Metrics) RecordMessageDelivered(sentAt time.Time) {
	m.messagesDeliveredTotal.Inc()
	m.deliveryDuration.Observe(time.Since(sentAt).Seconds())
}

// RecordMessageBlocked counts a silently dropped message
func (m *Metrics) RecordMessageBlocked() { m.messagesBlockedTotal.Inc() }

// RecordCallInitiated counts a created call session
func (m *Metrics) RecordCallInitiated(callType string) {
	m.callsInitiatedTotal.WithLabelValues(callType).Inc()
}

// RecordCallTerminated counts a terminal transition and, for connected calls,
// observes the call duration
func (m *Metrics) RecordCallTerminated(status string, duration time.Duration) {
	m.callsTerminatedTotal.WithLabelValues(status).Inc()
	if duration > 0 {
		m.callDuration.Observe(duration.Seconds())
	}
}

// RecordPushSent counts a delivered push notification
func (m *Metrics) RecordPushSent() { m.pushSentTotal.Inc() }

// RecordPushFailed counts a failed push notification
func (m *Metrics) RecordPushFailed() { m.pushFailedTotal.Inc() }
