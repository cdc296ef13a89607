package soupbintcp

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsOpts names and labels the session metrics.
type MetricsOpts struct {
	Namespace   string // "soupbintcp" when empty
	ConstLabels prometheus.Labels
}

// Metrics counts session traffic. One Metrics may be shared by many
// sessions. A nil *Metrics records nothing.
//
// Metrics collected:
//   - soupbintcp_frames_received_total: frames read, by message type
//   - soupbintcp_frames_sent_total: frames written, by message type
//   - soupbintcp_bytes_received_total / soupbintcp_bytes_sent_total
//   - soupbintcp_heartbeats_sent_total
//   - soupbintcp_sequenced_sent_total: frames assigned a sequence number
//   - soupbintcp_active_sessions
//   - soupbintcp_errors_total: session errors by kind
type Metrics struct {
	framesReceived *prometheus.CounterVec
	framesSent     *prometheus.CounterVec
	bytesReceived  prometheus.Counter
	bytesSent      prometheus.Counter
	heartbeatsSent prometheus.Counter
	sequencedSent  prometheus.Counter
	activeSessions prometheus.Gauge
	errors         *prometheus.CounterVec
}

// NewMetrics creates the session metrics and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer, o MetricsOpts) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if o.Namespace == "" {
		o.Namespace = "soupbintcp"
	}
	factory := promauto.With(reg)

	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   o.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: o.ConstLabels,
		})
	}
	counterVec := func(name, help, label string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   o.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: o.ConstLabels,
		}, []string{label})
	}

	return &Metrics{
		framesReceived: counterVec("frames_received_total", "Total frames received by message type", "type"),
		framesSent:     counterVec("frames_sent_total", "Total frames sent by message type", "type"),
		bytesReceived:  counter("bytes_received_total", "Total bytes received"),
		bytesSent:      counter("bytes_sent_total", "Total bytes sent"),
		heartbeatsSent: counter("heartbeats_sent_total", "Total heartbeats sent"),
		sequencedSent:  counter("sequenced_sent_total", "Total frames sent with a sequence number"),
		activeSessions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   o.Namespace,
			Name:        "active_sessions",
			Help:        "Number of running sessions",
			ConstLabels: o.ConstLabels,
		}),
		errors: counterVec("errors_total", "Total session errors by kind", "kind"),
	}
}

func (m *Metrics) frameReceived(frame []byte) {
	if m == nil || len(frame) < HeaderSize {
		return
	}
	m.framesReceived.WithLabelValues(tagName(frame[2])).Inc()
	m.bytesReceived.Add(float64(len(frame)))
}

func (m *Metrics) frameSent(frame []byte) {
	if m == nil || len(frame) < HeaderSize {
		return
	}
	m.framesSent.WithLabelValues(tagName(frame[2])).Inc()
	m.bytesSent.Add(float64(len(frame)))
}

func (m *Metrics) heartbeat() {
	if m == nil {
		return
	}
	m.heartbeatsSent.Inc()
}

func (m *Metrics) sequenced() {
	if m == nil {
		return
	}
	m.sequencedSent.Inc()
}

func (m *Metrics) sessionStarted() {
	if m == nil {
		return
	}
	m.activeSessions.Inc()
}

func (m *Metrics) sessionEnded() {
	if m == nil {
		return
	}
	m.activeSessions.Dec()
}

func (m *Metrics) error(kind string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(kind).Inc()
}
