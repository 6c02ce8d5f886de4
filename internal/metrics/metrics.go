// Package metrics provides Prometheus metrics for the chat relay.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the relay.
type Metrics struct {
	// StreamsTotal counts relayed streams by outcome: completed, failed, rejected, or
	// disconnected.
	StreamsTotal *prometheus.CounterVec

	// FramesTotal counts emitted frames by kind: role, content, terminal, or error.
	FramesTotal *prometheus.CounterVec

	// StreamsInFlight tracks streams currently being relayed.
	StreamsInFlight prometheus.Gauge

	// StreamDuration observes how long each relayed stream stayed open.
	StreamDuration prometheus.Histogram
}

// New creates and registers all relay metrics on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		StreamsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_relay_streams_total",
				Help: "Total number of relayed completion streams",
			},
			[]string{"status"},
		),
		FramesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "chat_relay_frames_total",
				Help: "Total number of frames emitted to clients",
			},
			[]string{"kind"},
		),
		StreamsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "chat_relay_streams_in_flight",
				Help: "Number of streams currently being relayed",
			},
		),
		StreamDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "chat_relay_stream_duration_seconds",
				Help:    "Duration of relayed streams in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
}
