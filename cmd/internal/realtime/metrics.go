package realtime

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for realtime fan-out. A nil *Metrics records nothing.
type Metrics struct {
	subscriptions prometheus.Gauge
	deliveries    prometheus.Counter
	drops         prometheus.Counter
	connections   prometheus.Gauge
	bridgeErrors  *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		subscriptions: f.NewGauge(prometheus.GaugeOpts{
			Name: "picked_realtime_subscriptions",
			Help: "Current number of conversation subscriptions on this instance.",
		}),
		deliveries: f.NewCounter(prometheus.CounterOpts{
			Name: "picked_realtime_deliveries_total",
			Help: "Messages queued to subscribers.",
		}),
		drops: f.NewCounter(prometheus.CounterOpts{
			Name: "picked_realtime_drops_total",
			Help: "Messages dropped because a subscriber queue was full.",
		}),
		connections: f.NewGauge(prometheus.GaugeOpts{
			Name: "picked_realtime_ws_connections",
			Help: "Open WebSocket connections.",
		}),
		bridgeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "picked_realtime_bridge_errors_total",
			Help: "Redis bridge failures by stage.",
		}, []string{"stage"}),
	}
}

func (m *Metrics) subscribed() {
	if m != nil {
		m.subscriptions.Inc()
	}
}

func (m *Metrics) unsubscribed() {
	if m != nil {
		m.subscriptions.Dec()
	}
}

func (m *Metrics) delivered(n int) {
	if m != nil && n > 0 {
		m.deliveries.Add(float64(n))
	}
}

func (m *Metrics) dropped(n int) {
	if m != nil && n > 0 {
		m.drops.Add(float64(n))
	}
}

func (m *Metrics) connOpened() {
	if m != nil {
		m.connections.Inc()
	}
}

func (m *Metrics) connClosed() {
	if m != nil {
		m.connections.Dec()
	}
}

func (m *Metrics) bridgeError(stage string) {
	if m != nil {
		m.bridgeErrors.WithLabelValues(stage).Inc()
	}
}
