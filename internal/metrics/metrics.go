// Package metrics provides Prometheus instrumentation for the veil data
// plane: replay/auth-failure counters, retransmit/rekey counters, active
// session and PMTU gauges.
//
// Grounded on postalsys-Muti-Metroo/internal/metrics, which wires
// prometheus/client_golang + promauto behind a struct of pre-registered
// collectors and a sync.Once-guarded default instance; this package keeps
// that exact construction shape with a namespace ("veil") and field set
// matched to §4.5/§4.6/§4.7/§4.9's counters instead of the teacher's mesh
// metrics.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "veil"

// Metrics holds every Prometheus collector the data-plane engine updates.
type Metrics struct {
	SessionsActive prometheus.Gauge
	SessionsTotal  prometheus.Counter
	SessionsFatal  *prometheus.CounterVec

	ReplayDrops      prometheus.Counter
	AuthFailures     prometheus.Counter
	ProtocolDrops    *prometheus.CounterVec
	HandshakeRejects *prometheus.CounterVec

	HandshakeLatency prometheus.Histogram
	HandshakesOK     prometheus.Counter
	ResumptionsOK    prometheus.Counter
	ResumptionsFail  prometheus.Counter

	RetransmitsSent  prometheus.Counter
	RetransmitDrops  prometheus.Counter
	RekeysStarted    prometheus.Counter
	RekeysCompleted  prometheus.Counter

	PMTUCurrent    prometheus.Gauge
	PMTUBackoffs   prometheus.Counter

	BytesSent     *prometheus.CounterVec
	BytesReceived *prometheus.CounterVec

	PipelineRXDrops prometheus.Counter
	PipelineTXDrops prometheus.Counter
}

var (
	defaultMetrics *Metrics
	metricsOnce    sync.Once
)

// Default returns the process-wide default Metrics instance, created
// once on first call and registered against prometheus.DefaultRegisterer.
func Default() *Metrics {
	metricsOnce.Do(func() {
		defaultMetrics = NewMetrics()
	})
	return defaultMetrics
}

// NewMetrics builds a Metrics instance against the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry builds a Metrics instance against a caller-owned
// registry, so tests can register independent collectors per run.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "sessions_active",
			Help: "Number of currently established sessions.",
		}),
		SessionsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_total",
			Help: "Total sessions established since startup.",
		}),
		SessionsFatal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "sessions_fatal_total",
			Help: "Total sessions torn down by reason.",
		}, []string{"reason"}),

		ReplayDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "replay_drops_total",
			Help: "Total inbound datagrams dropped by the replay window.",
		}),
		AuthFailures: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "auth_failures_total",
			Help: "Total AEAD authentication failures.",
		}),
		ProtocolDrops: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "protocol_drops_total",
			Help: "Total datagrams dropped by reason.",
		}, []string{"reason"}),
		HandshakeRejects: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshake_rejects_total",
			Help: "Total rejected handshake attempts by reason.",
		}, []string{"reason"}),

		HandshakeLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "handshake_latency_seconds",
			Help:    "Histogram of successful handshake latency.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}),
		HandshakesOK: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "handshakes_completed_total",
			Help: "Total successful 1-RTT handshakes.",
		}),
		ResumptionsOK: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticket_resumptions_total",
			Help: "Total successful 0-RTT ticket resumptions.",
		}),
		ResumptionsFail: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "ticket_resumption_failures_total",
			Help: "Total rejected 0-RTT ticket resumption attempts.",
		}),

		RetransmitsSent: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retransmits_sent_total",
			Help: "Total datagrams resent by the retransmit timer.",
		}),
		RetransmitDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "retransmit_buffer_drops_total",
			Help: "Total entries dropped from a full retransmit buffer.",
		}),
		RekeysStarted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rekeys_started_total",
			Help: "Total rekey operations initiated.",
		}),
		RekeysCompleted: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rekeys_completed_total",
			Help: "Total rekeys whose new keys were installed (on sending or applying a rekey control frame).",
		}),

		PMTUCurrent: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pmtu_current_bytes",
			Help: "Current discovered path MTU.",
		}),
		PMTUBackoffs: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pmtu_backoffs_total",
			Help: "Total times PMTU probing backed off after a path failure signal.",
		}),

		BytesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_sent_total",
			Help: "Total bytes sent by frame kind.",
		}, []string{"frame_kind"}),
		BytesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "bytes_received_total",
			Help: "Total bytes received by frame kind.",
		}, []string{"frame_kind"}),

		PipelineRXDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pipeline_rx_drops_total",
			Help: "Total datagrams dropped because the RX queue was full.",
		}),
		PipelineTXDrops: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "pipeline_tx_drops_total",
			Help: "Total datagrams dropped because the TX queue was full.",
		}),
	}
}

// RecordSessionEstablished updates the active/total session gauges on
// handshake completion.
func (m *Metrics) RecordSessionEstablished() {
	m.SessionsActive.Inc()
	m.SessionsTotal.Inc()
}

// RecordSessionTornDown updates the active gauge and fatal-reason counter
// on session teardown.
func (m *Metrics) RecordSessionTornDown(reason string) {
	m.SessionsActive.Dec()
	m.SessionsFatal.WithLabelValues(reason).Inc()
}

// RecordProtocolDrop increments the protocol-drop counter for reason.
func (m *Metrics) RecordProtocolDrop(reason string) {
	m.ProtocolDrops.WithLabelValues(reason).Inc()
}

// RecordHandshakeReject increments the handshake-reject counter for reason.
func (m *Metrics) RecordHandshakeReject(reason string) {
	m.HandshakeRejects.WithLabelValues(reason).Inc()
}
