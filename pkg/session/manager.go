package session

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onlitec/remotebroker/internal/brokererr"
	"github.com/onlitec/remotebroker/pkg/audit"
	"github.com/onlitec/remotebroker/pkg/config"
	"github.com/onlitec/remotebroker/pkg/metrics"
	"github.com/onlitec/remotebroker/pkg/session/privtoken"
)

// Manager is the session manager (spec §4.4, C4): owns every Session's
// state machine, connection registry and privilege grants.
type Manager struct {
	cfg     config.RemoteAccessConfig
	auditor *audit.Log
	issuer  *privtoken.Issuer
	metrics *metrics.SessionMetrics

	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewManager builds a Manager from a (static, not live-reloaded)
// RemoteAccessConfig snapshot taken at startup.
func NewManager(cfg config.RemoteAccessConfig, auditor *audit.Log, issuer *privtoken.Issuer) *Manager {
	return &Manager{cfg: cfg, auditor: auditor, issuer: issuer, sessions: make(map[string]*Session)}
}

func (m *Manager) emit(e audit.Event) {
	if m.auditor != nil {
		m.auditor.Log(e)
	}
}

// SetMetrics attaches Prometheus instrumentation. A nil metrics (the
// default) leaves every observation a no-op.
func (m *Manager) SetMetrics(mt *metrics.SessionMetrics) { m.metrics = mt }

func (m *Manager) refreshActiveGauge() {
	m.mu.RLock()
	n := m.activeCount()
	m.mu.RUnlock()
	m.metrics.SetActive(n)
}

func (m *Manager) activeCount() int {
	n := 0
	for _, s := range m.sessions {
		switch s.snapshotStatus() {
		case StatusPending, StatusActive, StatusDisconnected:
			n++
		}
	}
	return n
}

// CreateSession creates a new session in pending (spec §4.4.1).
func (m *Manager) CreateSession(clientID, technicianID string, info ClientInfo) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeCount() >= m.cfg.MaxConcurrentSessions {
		return "", brokererr.New(brokererr.LimitExceeded, "CreateSession", "active sessions at limit (%d)", m.cfg.MaxConcurrentSessions)
	}

	id := uuid.NewString()
	s := newSession(id, clientID, technicianID, info)
	m.sessions[id] = s

	m.emit(audit.Event{Type: audit.EventSessionCreated, SessionID: id, ClientID: clientID, Technician: technicianID})
	m.metrics.ObserveCreated()
	m.metrics.SetActive(m.activeCount())
	return id, nil
}

// GetSession returns the session or NotFound.
func (m *Manager) GetSession(sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, brokererr.New(brokererr.NotFound, "GetSession", "session %s not found", sessionID)
	}
	return s, nil
}

// ListByClient returns every non-deleted session for clientID.
func (m *Manager) ListByClient(clientID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.ClientID == clientID {
			out = append(out, s)
		}
	}
	return out
}

// ListByTechnician returns every non-deleted session for technicianID.
func (m *Manager) ListByTechnician(technicianID string) []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*Session
	for _, s := range m.sessions {
		if s.TechnicianID == technicianID {
			out = append(out, s)
		}
	}
	return out
}

// RegisterConnection attaches conn for role, displacing any existing
// registration for (session_id, role), updates last_activity, and
// transitions to active once the client role is present (spec §4.4.1).
func (m *Manager) RegisterConnection(sessionID string, role Role, conn Connection) error {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Status.terminal() {
		return brokererr.New(brokererr.InvalidState, "RegisterConnection", "session %s is %s", sessionID, s.Status)
	}

	var displaced Connection
	switch role {
	case RoleClient:
		displaced = s.clientConn
		s.clientConn = conn
	case RoleTechnician:
		displaced = s.technicianConn
		s.technicianConn = conn
	}
	if displaced != nil {
		displaced.Close()
	}

	s.LastActivity = time.Now()
	if s.clientConn != nil {
		s.Status = StatusActive
	}
	return nil
}

// UnregisterConnection drops the registration for role. Client loss
// transitions active→disconnected; portal (technician) loss leaves
// status unchanged (spec §4.4.1).
func (m *Manager) UnregisterConnection(sessionID string, role Role) error {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch role {
	case RoleClient:
		s.clientConn = nil
		if s.Status == StatusActive {
			s.Status = StatusDisconnected
		}
	case RoleTechnician:
		s.technicianConn = nil
	}
	return nil
}

// Terminate transitions a session to terminated with reason, closing
// both connections if present (spec §4.4.1).
func (m *Manager) Terminate(sessionID, reason string) error {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.Status.terminal() {
		s.mu.Unlock()
		return nil
	}
	s.Status = StatusTerminated
	s.TerminateReason = reason
	s.TerminatedAt = time.Now()
	client, tech := s.clientConn, s.technicianConn
	s.clientConn, s.technicianConn = nil, nil
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if tech != nil {
		tech.Close()
	}

	m.emit(audit.Event{Type: audit.EventSessionTerminated, SessionID: sessionID, Message: reason})
	m.metrics.ObserveTerminated(reason)
	m.refreshActiveGauge()
	return nil
}

// Remove deletes a terminal session from the registry (used by the
// sweeper's grace-window cleanup).
func (m *Manager) Remove(sessionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, sessionID)
}

// Snapshot returns every tracked session, for the sweeper and admin CLI.
func (m *Manager) Snapshot() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

func allowedPrivilege(privType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if a == privType {
			return true
		}
	}
	return false
}

func privilegeSeverity(privType string) audit.Severity {
	if privType == "admin" {
		return audit.SeverityHigh
	}
	return audit.SeverityMedium
}
