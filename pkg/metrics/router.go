package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// RouterMetrics instruments the message router (C5). A nil
// *RouterMetrics is valid and every method becomes a no-op.
type RouterMetrics struct {
	connections    *prometheus.CounterVec
	envelopesIn    *prometheus.CounterVec
	envelopesOut   *prometheus.CounterVec
	chunkFramesIn  prometheus.Counter
	chunkFramesOut prometheus.Counter
	connectedPeers prometheus.Gauge
}

// NewRouterMetrics returns nil if metrics are disabled.
func NewRouterMetrics() *RouterMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := Registry()
	return &RouterMetrics{
		connections: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "remotebroker_router_connections_total",
			Help: "Total websocket connections accepted, by role",
		}, []string{"role"}),
		envelopesIn: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "remotebroker_router_envelopes_received_total",
			Help: "Total control envelopes received, by type",
		}, []string{"type"}),
		envelopesOut: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "remotebroker_router_envelopes_sent_total",
			Help: "Total control envelopes sent, by type",
		}, []string{"type"}),
		chunkFramesIn: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "remotebroker_router_chunk_frames_received_total",
			Help: "Total binary chunk frames received",
		}),
		chunkFramesOut: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "remotebroker_router_chunk_frames_sent_total",
			Help: "Total binary chunk frames sent",
		}),
		connectedPeers: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "remotebroker_router_connected_peers",
			Help: "Currently registered websocket peers",
		}),
	}
}

func (m *RouterMetrics) ObserveConnection(role string) {
	if m != nil {
		m.connections.WithLabelValues(role).Inc()
	}
}

func (m *RouterMetrics) ObserveEnvelopeIn(typ string) {
	if m != nil {
		m.envelopesIn.WithLabelValues(typ).Inc()
	}
}

func (m *RouterMetrics) ObserveEnvelopeOut(typ string) {
	if m != nil {
		m.envelopesOut.WithLabelValues(typ).Inc()
	}
}

func (m *RouterMetrics) ObserveChunkFrameIn() {
	if m != nil {
		m.chunkFramesIn.Inc()
	}
}

func (m *RouterMetrics) ObserveChunkFrameOut() {
	if m != nil {
		m.chunkFramesOut.Inc()
	}
}

func (m *RouterMetrics) SetConnectedPeers(n int) {
	if m != nil {
		m.connectedPeers.Set(float64(n))
	}
}
