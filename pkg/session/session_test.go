package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/onlitec/remotebroker/pkg/audit"
	"github.com/onlitec/remotebroker/pkg/config"
	"github.com/onlitec/remotebroker/pkg/session/privtoken"
)

type fakeConn struct {
	closed bool
}

func (c *fakeConn) Close() error {
	c.closed = true
	return nil
}

func testSetup(t *testing.T) (*Manager, *audit.Log) {
	t.Helper()
	auditLog, err := audit.New(t.TempDir(), 90, nil, 0)
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	cfg := config.RemoteAccessConfig{
		MaxConcurrentSessions: 2,
		SessionTimeout:        4 * time.Hour,
		IdleTimeout:           30 * time.Minute,
		PrivilegeEscalation: config.PrivilegeEscalationConfig{
			Enabled:                true,
			RequireApproval:        true,
			MaxPrivilegeDuration:   2 * time.Hour,
			DefaultPrivilegeDur:    30 * time.Minute,
			MinJustificationLength: 10,
			AllowedPrivileges:      []string{"elevated", "admin"},
			RequireJustification:   true,
		},
	}
	issuer := privtoken.NewIssuer([]byte("test-signing-key-not-for-production"))
	return NewManager(cfg, auditLog, issuer), auditLog
}

func TestCreateSession_EnforcesConcurrencyLimit(t *testing.T) {
	m, _ := testSetup(t)

	_, err := m.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)
	_, err = m.CreateSession("client-2", "tech-1", nil)
	require.NoError(t, err)

	_, err = m.CreateSession("client-3", "tech-1", nil)
	require.Error(t, err)
}

func TestRegisterConnection_ClientPresenceActivatesSession(t *testing.T) {
	m, _ := testSetup(t)
	id, err := m.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)

	require.NoError(t, m.RegisterConnection(id, RoleTechnician, &fakeConn{}))
	s, err := m.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, s.snapshotStatus())

	require.NoError(t, m.RegisterConnection(id, RoleClient, &fakeConn{}))
	assert.Equal(t, StatusActive, s.snapshotStatus())
}

func TestRegisterConnection_DisplacesPriorConnection(t *testing.T) {
	m, _ := testSetup(t)
	id, err := m.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)

	first := &fakeConn{}
	require.NoError(t, m.RegisterConnection(id, RoleClient, first))
	second := &fakeConn{}
	require.NoError(t, m.RegisterConnection(id, RoleClient, second))

	assert.True(t, first.closed)
	assert.False(t, second.closed)
}

func TestUnregisterConnection_ClientLossDisconnectsNotTechnician(t *testing.T) {
	m, _ := testSetup(t)
	id, err := m.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)
	require.NoError(t, m.RegisterConnection(id, RoleClient, &fakeConn{}))

	require.NoError(t, m.UnregisterConnection(id, RoleClient))
	s, err := m.GetSession(id)
	require.NoError(t, err)
	assert.Equal(t, StatusDisconnected, s.snapshotStatus())

	require.NoError(t, m.RegisterConnection(id, RoleClient, &fakeConn{}))
	require.NoError(t, m.UnregisterConnection(id, RoleTechnician))
	assert.Equal(t, StatusActive, s.snapshotStatus())
}

func TestRequestPrivilege_ClampsDurationAndRejectsDisallowedType(t *testing.T) {
	m, _ := testSetup(t)
	id, err := m.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)

	_, err = m.RequestPrivilege(id, "root", "1234567890", time.Hour)
	require.Error(t, err)

	reqID, err := m.RequestPrivilege(id, "elevated", "1234567890", 10*time.Hour)
	require.NoError(t, err)

	s, err := m.GetSession(id)
	require.NoError(t, err)
	s.mu.RLock()
	req := s.privilegeRequests[reqID]
	s.mu.RUnlock()
	assert.Equal(t, 2*time.Hour, req.EffectiveDuration) // clamped to MaxPrivilegeDuration
}

func TestRequestPrivilege_RejectsShortJustification(t *testing.T) {
	m, _ := testSetup(t)
	id, err := m.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)

	_, err = m.RequestPrivilege(id, "elevated", "short", time.Minute)
	require.Error(t, err)
}

func TestApproveThenRevokePrivilege(t *testing.T) {
	m, _ := testSetup(t)
	id, err := m.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)

	reqID, err := m.RequestPrivilege(id, "elevated", "valid justification", time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.ApprovePrivilege(id, reqID, "tech-1"))

	assert.True(t, m.HasActivePrivilege(id, "elevated"))
	require.NoError(t, m.RevokePrivilege(id, "elevated"))
	assert.False(t, m.HasActivePrivilege(id, "elevated"))
}

func TestDenyPrivilege(t *testing.T) {
	m, _ := testSetup(t)
	id, err := m.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)

	reqID, err := m.RequestPrivilege(id, "elevated", "valid justification", time.Minute)
	require.NoError(t, err)
	require.NoError(t, m.DenyPrivilege(id, reqID, "tech-1", "not warranted"))

	assert.False(t, m.HasActivePrivilege(id, "elevated"))
	err = m.ApprovePrivilege(id, reqID, "tech-1")
	require.Error(t, err) // already denied, not pending
}

func TestSweeper_ExpiresPrivilegeAndEmitsAudit(t *testing.T) {
	m, auditLog := testSetup(t)
	id, err := m.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)

	reqID, err := m.RequestPrivilege(id, "elevated", "valid justification", 10*time.Millisecond)
	require.NoError(t, err)
	require.NoError(t, m.ApprovePrivilege(id, reqID, "tech-1"))

	sw := NewSweeper(m, auditLog, m.cfg.SessionTimeout, m.cfg.IdleTimeout, time.Hour, "", nil)
	time.Sleep(20 * time.Millisecond)
	sw.sweep()

	assert.False(t, m.HasActivePrivilege(id, "elevated"))
}

func TestTerminate_ClosesConnectionsAndIsIdempotent(t *testing.T) {
	m, _ := testSetup(t)
	id, err := m.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)

	conn := &fakeConn{}
	require.NoError(t, m.RegisterConnection(id, RoleClient, conn))

	require.NoError(t, m.Terminate(id, "operator requested"))
	assert.True(t, conn.closed)

	require.NoError(t, m.Terminate(id, "again")) // no-op on terminal session
}
