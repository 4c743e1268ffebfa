package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/onlitec/remotebroker/internal/brokererr"
	"github.com/onlitec/remotebroker/pkg/audit"
)

// RequestPrivilege records a pending privilege request, clamping the
// effective duration and validating type/justification against live
// policy (spec §4.4.1).
func (m *Manager) RequestPrivilege(sessionID, privType, justification string, requestedDuration time.Duration) (string, error) {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return "", err
	}

	pe := m.cfg.PrivilegeEscalation
	if !pe.Enabled {
		return "", brokererr.New(brokererr.Blocked, "RequestPrivilege", "privilege escalation is disabled")
	}
	if !allowedPrivilege(privType, pe.AllowedPrivileges) {
		m.emit(audit.Event{Type: audit.EventSecurityViolation, SessionID: sessionID,
			Message: "privilege type not allowed: " + privType})
		return "", brokererr.New(brokererr.Blocked, "RequestPrivilege", "privilege type %q is not allowed", privType)
	}
	if pe.RequireJustification && len(justification) < pe.MinJustificationLength {
		return "", brokererr.New(brokererr.InvalidState, "RequestPrivilege", "justification shorter than minimum length %d", pe.MinJustificationLength)
	}

	effective := pe.DefaultPrivilegeDur
	if requestedDuration > 0 {
		effective = requestedDuration
	}
	if effective > pe.MaxPrivilegeDuration {
		effective = pe.MaxPrivilegeDuration
	}

	req := &PrivilegeRequest{
		ID:                uuid.NewString(),
		Type:              privType,
		Justification:      justification,
		EffectiveDuration:  effective,
		Status:             PrivilegePending,
		RequestedAt:        time.Now(),
	}

	s.mu.Lock()
	s.privilegeRequests[req.ID] = req
	s.mu.Unlock()

	m.emit(audit.Event{Type: audit.EventPrivilegeRequested, SessionID: sessionID, Message: privType})
	m.metrics.ObservePrivilegeRequested()
	return req.ID, nil
}

// ApprovePrivilege mints an ActivePrivilege for a pending request (spec
// §4.4.1). Approval severity is high for the "admin" privilege type and
// medium otherwise.
func (m *Manager) ApprovePrivilege(sessionID, requestID, approver string) error {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	req, ok := s.privilegeRequests[requestID]
	if !ok {
		s.mu.Unlock()
		return brokererr.New(brokererr.NotFound, "ApprovePrivilege", "privilege request %s not found", requestID)
	}
	if req.Status != PrivilegePending {
		s.mu.Unlock()
		return brokererr.New(brokererr.InvalidState, "ApprovePrivilege", "privilege request %s is %s, not pending", requestID, req.Status)
	}

	expiresAt := time.Now().Add(req.EffectiveDuration)
	var token string
	if m.issuer != nil {
		token, err = m.issuer.Mint(sessionID, req.Type, approver, expiresAt)
		if err != nil {
			s.mu.Unlock()
			return brokererr.Wrap(brokererr.Encryption, "ApprovePrivilege", err, "mint privilege token")
		}
	}

	req.Status = PrivilegeApproved
	s.activePrivileges[req.Type] = &ActivePrivilege{
		Type:      req.Type,
		Approver:  approver,
		GrantedAt: time.Now(),
		ExpiresAt: expiresAt,
		Token:     token,
	}
	s.mu.Unlock()

	m.emit(audit.Event{Type: audit.EventPrivilegeApproved, SessionID: sessionID, Technician: approver,
		Severity: privilegeSeverity(req.Type), Message: req.Type})
	m.metrics.ObservePrivilegeApproved(req.Type)
	return nil
}

// DenyPrivilege marks a pending request denied without minting a grant.
func (m *Manager) DenyPrivilege(sessionID, requestID, approver, reason string) error {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	req, ok := s.privilegeRequests[requestID]
	if !ok {
		s.mu.Unlock()
		return brokererr.New(brokererr.NotFound, "DenyPrivilege", "privilege request %s not found", requestID)
	}
	if req.Status != PrivilegePending {
		s.mu.Unlock()
		return brokererr.New(brokererr.InvalidState, "DenyPrivilege", "privilege request %s is %s, not pending", requestID, req.Status)
	}
	req.Status = PrivilegeDenied
	s.mu.Unlock()

	m.emit(audit.Event{Type: audit.EventPrivilegeDenied, SessionID: sessionID, Technician: approver, Message: reason})
	m.metrics.ObservePrivilegeDenied()
	return nil
}

// RevokePrivilege removes an ActivePrivilege immediately (spec §4.4.1).
func (m *Manager) RevokePrivilege(sessionID, privType string) error {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return err
	}

	s.mu.Lock()
	_, existed := s.activePrivileges[privType]
	delete(s.activePrivileges, privType)
	s.mu.Unlock()

	if !existed {
		return brokererr.New(brokererr.NotFound, "RevokePrivilege", "no active privilege %q on session %s", privType, sessionID)
	}

	m.emit(audit.Event{Type: audit.EventPrivilegeRevoked, SessionID: sessionID, Message: privType})
	m.metrics.ObservePrivilegeRevoked()
	return nil
}

// HasActivePrivilege reports whether privType is currently granted on
// sessionID and unexpired.
func (m *Manager) HasActivePrivilege(sessionID, privType string) bool {
	s, err := m.GetSession(sessionID)
	if err != nil {
		return false
	}
	return s.HasActivePrivilege(privType, time.Now())
}
