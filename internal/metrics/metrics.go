// Package metrics defines the Prometheus collectors exported by the server.
package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/zsiec/sonar/internal/jitter"
	"github.com/zsiec/sonar/internal/protocol"
)

const namespace = "sonar"

// Metrics holds every collector. A zero-value pointer is not usable; create
// one with New.
type Metrics struct {
	PacketsReceived  *prometheus.CounterVec
	MalformedPackets *prometheus.CounterVec
	StreamsCreated   *prometheus.CounterVec
	StreamsRemoved   *prometheus.CounterVec
	ActiveSessions   prometheus.Gauge
	Ticks            prometheus.Counter
	TickDuration     prometheus.Histogram
	StatsPacketsSent prometheus.Counter
	MixedPacketsSent prometheus.Counter
	OutboundDropped  prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		PacketsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "packets_received_total",
			Help:      "Inbound packets by transport.",
		}, []string{"transport"}),
		MalformedPackets: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "malformed_packets_total",
			Help:      "Inbound packets rejected as malformed, by reason.",
		}, []string{"reason"}),
		StreamsCreated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_created_total",
			Help:      "Audio streams created, by kind.",
		}, []string{"kind"}),
		StreamsRemoved: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "streams_removed_total",
			Help:      "Audio streams removed, by kind.",
		}, []string{"kind"}),
		ActiveSessions: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_sessions",
			Help:      "Connected client sessions.",
		}),
		Ticks: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mixer_ticks_total",
			Help:      "Mixer frame ticks executed.",
		}),
		TickDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "mixer_tick_duration_seconds",
			Help:      "Time spent preparing, mixing and committing one frame.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12),
		}),
		StatsPacketsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stats_packets_sent_total",
			Help:      "Audio stream stats packets sent to clients.",
		}),
		MixedPacketsSent: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "mixed_packets_sent_total",
			Help:      "Mixed audio packets sent to clients.",
		}),
		OutboundDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "outbound_dropped_total",
			Help:      "Outbound packets dropped because a client's send queue was full.",
		}),
	}
}

// StreamAdded records a created stream.
func (m *Metrics) StreamAdded(k jitter.Kind) {
	m.StreamsCreated.WithLabelValues(k.String()).Inc()
}

// StreamRemoved records a removed stream.
func (m *Metrics) StreamRemoved(k jitter.Kind) {
	m.StreamsRemoved.WithLabelValues(k.String()).Inc()
}

// Malformed records a rejected packet, labelled by the most specific
// sentinel err matches.
func (m *Metrics) Malformed(err error) {
	m.MalformedPackets.WithLabelValues(MalformedReason(err)).Inc()
}

// MalformedReason maps a decode error to a metric label.
func MalformedReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrUnknownStreamType):
		return "unknown_stream_type"
	case errors.Is(err, protocol.ErrVersionMismatch):
		return "version_mismatch"
	case errors.Is(err, protocol.ErrMalformedPacket):
		return "truncated"
	default:
		return "other"
	}
}
