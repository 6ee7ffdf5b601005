package goamqp

import "github.com/prometheus/client_golang/prometheus"

// MetricsCollector observes engine activity. Implementations must be safe
// for concurrent use; the engine calls these from its single event-loop
// goroutine but a custom collector may be shared across connections.
type MetricsCollector interface {
	FrameSent(frameType string)
	FrameReceived(frameType string)
	ReconnectAttempt()
	ProtocolViolation()
}

// PrometheusMetrics is a MetricsCollector backed by client_golang
// counters, registered against the given registerer.
type PrometheusMetrics struct {
	framesSent        *prometheus.CounterVec
	framesReceived    *prometheus.CounterVec
	reconnectAttempts prometheus.Counter
	protocolErrors    prometheus.Counter
}

// NewPrometheusMetrics builds and registers the collector's metrics
// against reg. Pass prometheus.DefaultRegisterer for the global registry.
func NewPrometheusMetrics(reg prometheus.Registerer, namespace string) *PrometheusMetrics {
	m := &PrometheusMetrics{
		framesSent: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_sent_total",
			Help:      "Number of AMQP frames written to the wire, by frame type.",
		}, []string{"type"}),
		framesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_received_total",
			Help:      "Number of AMQP frames read from the wire, by frame type.",
		}, []string{"type"}),
		reconnectAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reconnect_attempts_total",
			Help:      "Number of reconnect attempts made.",
		}),
		protocolErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "protocol_violations_total",
			Help:      "Number of malformed or out-of-sequence frames dropped.",
		}),
	}
	reg.MustRegister(m.framesSent, m.framesReceived, m.reconnectAttempts, m.protocolErrors)
	return m
}

// FrameSent implements MetricsCollector.
func (m *PrometheusMetrics) FrameSent(frameType string) { m.framesSent.WithLabelValues(frameType).Inc() }

// FrameReceived implements MetricsCollector.
func (m *PrometheusMetrics) FrameReceived(frameType string) {
	m.framesReceived.WithLabelValues(frameType).Inc()
}

// ReconnectAttempt implements MetricsCollector.
func (m *PrometheusMetrics) ReconnectAttempt() { m.reconnectAttempts.Inc() }

// ProtocolViolation implements MetricsCollector.
func (m *PrometheusMetrics) ProtocolViolation() { m.protocolErrors.Inc() }
