package client

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus metrics for a chat session. All record
// methods are nil-safe so a session without metrics pays no cost beyond a
// nil check.
type Metrics struct {
	envelopesReceived *prometheus.CounterVec
	envelopesSent     *prometheus.CounterVec
	decodeErrors      prometheus.Counter
	framesDropped     prometheus.Counter
	reconnects        prometheus.Counter
	connState         prometheus.Gauge
}

// MetricsOpts configures metric registration.
type MetricsOpts struct {
	// Namespace is the metrics namespace (default: "roomwire").
	Namespace string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer.
	Registry prometheus.Registerer
}

// NewMetrics registers and returns session metrics.
//
// Metrics collected:
//   - roomwire_envelopes_received_total: Counter of inbound envelopes by kind
//   - roomwire_envelopes_sent_total: Counter of outbound envelopes by kind
//   - roomwire_decode_errors_total: Counter of dropped malformed frames
//   - roomwire_frames_dropped_total: Counter of sends dropped while offline
//   - roomwire_reconnects_total: Counter of reconnect attempts
//   - roomwire_connection_state: Gauge of the connection state enum
func NewMetrics(opts MetricsOpts) *Metrics {
	if opts.Namespace == "" {
		opts.Namespace = "roomwire"
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.DefaultRegisterer
	}
	factory := promauto.With(opts.Registry)

	return &Metrics{
		envelopesReceived: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "envelopes_received_total",
			Help:        "Total inbound envelopes applied, by kind",
			ConstLabels: opts.ConstLabels,
		}, []string{"kind"}),

		envelopesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "envelopes_sent_total",
			Help:        "Total outbound envelopes transmitted, by kind",
			ConstLabels: opts.ConstLabels,
		}, []string{"kind"}),

		decodeErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "decode_errors_total",
			Help:        "Total malformed frames dropped by the codec",
			ConstLabels: opts.ConstLabels,
		}),

		framesDropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "frames_dropped_total",
			Help:        "Total outbound frames dropped because the connection was not open",
			ConstLabels: opts.ConstLabels,
		}),

		reconnects: factory.NewCounter(prometheus.CounterOpts{
			Namespace:   opts.Namespace,
			Name:        "reconnects_total",
			Help:        "Total reconnect attempts after transport faults",
			ConstLabels: opts.ConstLabels,
		}),

		connState: factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   opts.Namespace,
			Name:        "connection_state",
			Help:        "Current connection state (0=disconnected 1=connecting 2=open 3=reconnecting)",
			ConstLabels: opts.ConstLabels,
		}),
	}
}

func (m *Metrics) recordReceived(kind string) {
	if m != nil {
		m.envelopesReceived.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) recordSent(kind string) {
	if m != nil {
		m.envelopesSent.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) recordDecodeError() {
	if m != nil {
		m.decodeErrors.Inc()
	}
}

func (m *Metrics) recordDropped() {
	if m != nil {
		m.framesDropped.Inc()
	}
}

func (m *Metrics) recordReconnect() {
	if m != nil {
		m.reconnects.Inc()
	}
}

func (m *Metrics) recordState(s State) {
	if m != nil {
		m.connState.Set(float64(s))
	}
}
