// Package session implements the session manager (spec §4.4, C4): the
// per-session state machine, role/connection registration, bounded
// privilege elevation and the cleanup sweeper.
package session

import (
	"sync"
	"time"
)

// Status is one of the session state machine's states (spec §4.4.2).
type Status string

const (
	StatusPending      Status = "pending"
	StatusActive       Status = "active"
	StatusDisconnected Status = "disconnected"
	StatusTerminated   Status = "terminated"
	StatusExpired      Status = "expired"
)

func (s Status) terminal() bool {
	return s == StatusTerminated || s == StatusExpired
}

// Role identifies which side of the triangle a connection belongs to.
type Role string

const (
	RoleClient     Role = "client"
	RoleTechnician Role = "technician"
)

// Connection is the minimal surface the router's peer connection must
// satisfy for the session manager to track liveness; the router's
// actual websocket wrapper implements this.
type Connection interface {
	Close() error
}

// ClientInfo is client-supplied metadata captured at session creation
// (hostname, OS, client version — informational, not validated here).
type ClientInfo map[string]string

// PrivilegeRequestStatus is the lifecycle of one RequestPrivilege call.
type PrivilegeRequestStatus string

const (
	PrivilegePending  PrivilegeRequestStatus = "pending"
	PrivilegeApproved PrivilegeRequestStatus = "approved"
	PrivilegeDenied   PrivilegeRequestStatus = "denied"
)

// PrivilegeRequest is one request_privilege call awaiting approval.
type PrivilegeRequest struct {
	ID                string
	Type              string
	Justification     string
	EffectiveDuration time.Duration
	Status            PrivilegeRequestStatus
	RequestedAt       time.Time
}

// ActivePrivilege is a minted, time-bounded grant. At most one
// ActivePrivilege exists per (session_id, type) at any time.
type ActivePrivilege struct {
	Type      string
	Approver  string
	GrantedAt time.Time
	ExpiresAt time.Time
	Token     string // signed privtoken, opaque to this package's callers
}

// Session is one remote-support session (spec §4.4). Exported fields
// are read under Manager's session-level lock; callers must not mutate
// a Session directly.
type Session struct {
	ID            string
	ClientID      string
	TechnicianID  string
	ClientInfo    ClientInfo
	Status        Status
	StartTime     time.Time
	LastActivity  time.Time
	TerminatedAt  time.Time
	TerminateReason string

	mu sync.RWMutex

	clientConn     Connection
	technicianConn Connection

	privilegeRequests map[string]*PrivilegeRequest
	activePrivileges  map[string]*ActivePrivilege // keyed by privilege type
}

func newSession(id, clientID, technicianID string, info ClientInfo) *Session {
	now := time.Now()
	return &Session{
		ID:                id,
		ClientID:          clientID,
		TechnicianID:      technicianID,
		ClientInfo:        info,
		Status:            StatusPending,
		StartTime:         now,
		LastActivity:      now,
		privilegeRequests: make(map[string]*PrivilegeRequest),
		activePrivileges:  make(map[string]*ActivePrivilege),
	}
}

// IsExpired reports whether now has crossed SessionTimeout or
// IdleTimeout (spec §4.4.2).
func (s *Session) IsExpired(now time.Time, sessionTimeout, idleTimeout time.Duration) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if now.After(s.StartTime.Add(sessionTimeout)) {
		return true
	}
	return now.After(s.LastActivity.Add(idleTimeout))
}

// HasActivePrivilege reports whether privType is currently granted and
// unexpired.
func (s *Session) HasActivePrivilege(privType string, now time.Time) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.activePrivileges[privType]
	if !ok {
		return false
	}
	return now.Before(p.ExpiresAt)
}

func (s *Session) snapshotStatus() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Status
}
