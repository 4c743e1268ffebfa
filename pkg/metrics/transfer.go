package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// TransferMetrics instruments the transfer engine (C3). A nil
// *TransferMetrics is valid and every method becomes a no-op, so
// transfer.Manager can hold one unconditionally.
type TransferMetrics struct {
	requested   *prometheus.CounterVec
	completed   prometheus.Counter
	failed      *prometheus.CounterVec
	bytesMoved  *prometheus.CounterVec
	chunkRetry  prometheus.Counter
	duration    prometheus.Histogram
	activeGauge prometheus.Gauge
}

// NewTransferMetrics returns nil if metrics are disabled.
func NewTransferMetrics() *TransferMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := Registry()
	return &TransferMetrics{
		requested: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "remotebroker_transfers_requested_total",
			Help: "Total file transfer requests by direction",
		}, []string{"direction"}),
		completed: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "remotebroker_transfers_completed_total",
			Help: "Total transfers that reached the completed state",
		}),
		failed: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "remotebroker_transfers_failed_total",
			Help: "Total transfers that reached a failed/cancelled/rejected state",
		}, []string{"reason"}),
		bytesMoved: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "remotebroker_transfer_bytes_total",
			Help: "Bytes moved through the transfer engine by direction",
		}, []string{"direction"}),
		chunkRetry: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "remotebroker_chunk_retries_total",
			Help: "Total chunk send/write retries across all transfers",
		}),
		duration: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "remotebroker_transfer_duration_seconds",
			Help:    "Wall-clock duration from approval to completion",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s..~1h
		}),
		activeGauge: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "remotebroker_transfers_active",
			Help: "Transfers currently holding a concurrency slot",
		}),
	}
}

func (m *TransferMetrics) ObserveRequested(direction string) {
	if m != nil {
		m.requested.WithLabelValues(direction).Inc()
	}
}

func (m *TransferMetrics) ObserveCompleted(bytes int64, direction string, d time.Duration) {
	if m == nil {
		return
	}
	m.completed.Inc()
	m.bytesMoved.WithLabelValues(direction).Add(float64(bytes))
	m.duration.Observe(d.Seconds())
}

func (m *TransferMetrics) ObserveFailed(reason string) {
	if m != nil {
		m.failed.WithLabelValues(reason).Inc()
	}
}

func (m *TransferMetrics) ObserveChunkRetry() {
	if m != nil {
		m.chunkRetry.Inc()
	}
}

func (m *TransferMetrics) SetActive(n int) {
	if m != nil {
		m.activeGauge.Set(float64(n))
	}
}
