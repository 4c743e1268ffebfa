package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// SessionMetrics instruments the session manager (C4). A nil
// *SessionMetrics is valid and every method becomes a no-op.
type SessionMetrics struct {
	created        prometheus.Counter
	terminated     *prometheus.CounterVec
	privRequested  prometheus.Counter
	privApproved   *prometheus.CounterVec
	privDenied     prometheus.Counter
	privRevoked    prometheus.Counter
	activeSessions prometheus.Gauge
}

// NewSessionMetrics returns nil if metrics are disabled.
func NewSessionMetrics() *SessionMetrics {
	if !IsEnabled() {
		return nil
	}
	reg := Registry()
	return &SessionMetrics{
		created: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "remotebroker_sessions_created_total",
			Help: "Total remote-access sessions created",
		}),
		terminated: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "remotebroker_sessions_terminated_total",
			Help: "Total sessions reaching terminated, by reason",
		}, []string{"reason"}),
		privRequested: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "remotebroker_privilege_requests_total",
			Help: "Total privilege escalation requests",
		}),
		privApproved: promauto.With(reg).NewCounterVec(prometheus.CounterOpts{
			Name: "remotebroker_privilege_grants_total",
			Help: "Total privilege grants by type",
		}, []string{"type"}),
		privDenied: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "remotebroker_privilege_denied_total",
			Help: "Total privilege requests denied",
		}),
		privRevoked: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "remotebroker_privilege_revoked_total",
			Help: "Total active privilege grants revoked",
		}),
		activeSessions: promauto.With(reg).NewGauge(prometheus.GaugeOpts{
			Name: "remotebroker_sessions_active",
			Help: "Sessions currently pending, active or disconnected",
		}),
	}
}

func (m *SessionMetrics) ObserveCreated() {
	if m != nil {
		m.created.Inc()
	}
}

func (m *SessionMetrics) ObserveTerminated(reason string) {
	if m != nil {
		m.terminated.WithLabelValues(reason).Inc()
	}
}

func (m *SessionMetrics) ObservePrivilegeRequested() {
	if m != nil {
		m.privRequested.Inc()
	}
}

func (m *SessionMetrics) ObservePrivilegeApproved(privType string) {
	if m != nil {
		m.privApproved.WithLabelValues(privType).Inc()
	}
}

func (m *SessionMetrics) ObservePrivilegeDenied() {
	if m != nil {
		m.privDenied.Inc()
	}
}

func (m *SessionMetrics) ObservePrivilegeRevoked() {
	if m != nil {
		m.privRevoked.Inc()
	}
}

func (m *SessionMetrics) SetActive(n int) {
	if m != nil {
		m.activeSessions.Set(float64(n))
	}
}
