package router

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/onlitec/remotebroker/internal/protocol"
	"github.com/onlitec/remotebroker/pkg/audit"
	"github.com/onlitec/remotebroker/pkg/config"
	"github.com/onlitec/remotebroker/pkg/security"
	"github.com/onlitec/remotebroker/pkg/session"
	"github.com/onlitec/remotebroker/pkg/session/privtoken"
	"github.com/onlitec/remotebroker/pkg/storage"
	"github.com/onlitec/remotebroker/pkg/transfer"
)

var testUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(*http.Request) bool { return true },
}

type testHarness struct {
	router   *Router
	sessions *session.Manager
	server   *httptest.Server
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	dir := t.TempDir()

	backend, err := storage.NewLocalBackend(dir)
	require.NoError(t, err)
	validator, err := security.NewValidator(security.Config{MaxFilenameLength: 255}, nil, nil)
	require.NoError(t, err)
	auditLog, err := audit.New(t.TempDir(), 90, nil, 0)
	require.NoError(t, err)
	t.Cleanup(func() { auditLog.Close() })

	snapshot := config.NewTransferSnapshot(config.TransferConfig{
		MaxFileSize:   10 * 1024 * 1024,
		TempDir:       dir,
		MaxConcurrent: 4,
		ChunkSize:     16,
		RetryAttempts: 3,
	})
	transfers := transfer.NewManager(snapshot, backend, validator, nil, auditLog)

	issuer := privtoken.NewIssuer([]byte("test-signing-key-not-for-production"))
	sessions := session.NewManager(config.RemoteAccessConfig{
		MaxConcurrentSessions: 10,
		SessionTimeout:        time.Hour,
		IdleTimeout:           time.Hour,
		PrivilegeEscalation: config.PrivilegeEscalationConfig{
			Enabled:                true,
			MaxPrivilegeDuration:   time.Hour,
			DefaultPrivilegeDur:    time.Minute,
			MinJustificationLength: 1,
			AllowedPrivileges:      []string{"elevated"},
		},
	}, auditLog, issuer)

	r := New(sessions, transfers, auditLog, 2*time.Second, time.Second)

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, req *http.Request) {
		conn, err := testUpgrader.Upgrade(w, req, nil)
		if err != nil {
			return
		}
		sessionID := req.URL.Query().Get("session_id")
		role := session.Role(req.URL.Query().Get("role"))
		r.HandleConnection(conn, sessionID, role)
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &testHarness{router: r, sessions: sessions, server: server}
}

func (h *testHarness) dial(t *testing.T, sessionID string, role session.Role) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(h.server.URL, "http") + "/ws?session_id=" + sessionID + "&role=" + string(role)
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn, timeout time.Duration) protocol.Envelope {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(timeout))
	var env protocol.Envelope
	require.NoError(t, conn.ReadJSON(&env))
	return env
}

func TestPing_RepliesWithPong(t *testing.T) {
	h := newTestHarness(t)
	sessionID, err := h.sessions.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)

	client := h.dial(t, sessionID, session.RoleClient)
	require.NoError(t, client.WriteJSON(protocol.Envelope{Type: protocol.TypePing, SessionID: sessionID}))

	env := readEnvelope(t, client, 2*time.Second)
	require.Equal(t, protocol.TypePong, env.Type)
}

func TestFileTransferRequest_MirroredToTechnician(t *testing.T) {
	h := newTestHarness(t)
	sessionID, err := h.sessions.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)

	client := h.dial(t, sessionID, session.RoleClient)
	tech := h.dial(t, sessionID, session.RoleTechnician)

	req := protocol.FileTransferRequestPayload{Filename: "notes.txt", FileSize: 0, Direction: "upload"}
	require.NoError(t, client.WriteJSON(protocol.Envelope{Type: protocol.TypeFileTransferRequest, SessionID: sessionID, Payload: mustJSON(t, req)}))

	ack := readEnvelope(t, client, 2*time.Second)
	require.Equal(t, protocol.TypeTransferStatusUpdate, ack.Type)
	require.NotEmpty(t, ack.TransferID)

	mirrored := readEnvelope(t, tech, 2*time.Second)
	require.Equal(t, protocol.TypeFileTransferRequest, mirrored.Type)
	require.Equal(t, ack.TransferID, mirrored.TransferID)
}

func TestTransferApproval_ZeroByteCompletesAndBroadcasts(t *testing.T) {
	h := newTestHarness(t)
	sessionID, err := h.sessions.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)

	client := h.dial(t, sessionID, session.RoleClient)
	tech := h.dial(t, sessionID, session.RoleTechnician)

	req := protocol.FileTransferRequestPayload{Filename: "notes.txt", FileSize: 0, Direction: "upload"}
	require.NoError(t, client.WriteJSON(protocol.Envelope{Type: protocol.TypeFileTransferRequest, SessionID: sessionID, Payload: mustJSON(t, req)}))
	ack := readEnvelope(t, client, 2*time.Second)
	readEnvelope(t, tech, 2*time.Second) // mirrored request

	approval := protocol.TransferApprovalPayload{Approved: true}
	require.NoError(t, tech.WriteJSON(protocol.Envelope{
		Type: protocol.TypeTransferApproval, SessionID: sessionID, TransferID: ack.TransferID, Payload: mustJSON(t, approval),
	}))

	// both peers receive the post-approval status broadcast
	clientUpdate := readEnvelope(t, client, 2*time.Second)
	require.Equal(t, protocol.TypeTransferStatusUpdate, clientUpdate.Type)
	var p protocol.ProgressPayload
	require.NoError(t, clientUpdate.Decode(&p))
	require.Equal(t, "completed", p.Status)

	techUpdate := readEnvelope(t, tech, 2*time.Second)
	require.Equal(t, protocol.TypeTransferStatusUpdate, techUpdate.Type)
}

func TestPrivilegeRequestAndApproval_MirroredToBothPeers(t *testing.T) {
	h := newTestHarness(t)
	sessionID, err := h.sessions.CreateSession("client-1", "tech-1", nil)
	require.NoError(t, err)

	client := h.dial(t, sessionID, session.RoleClient)
	tech := h.dial(t, sessionID, session.RoleTechnician)

	reqPayload := protocol.PrivilegeRequestPayload{Type: "elevated", Justification: "need it", RequestedSeconds: 60}
	require.NoError(t, client.WriteJSON(protocol.Envelope{Type: protocol.TypePrivilegeRequest, SessionID: sessionID, Payload: mustJSON(t, reqPayload)}))

	ownAck := readEnvelope(t, client, 2*time.Second)
	require.Equal(t, protocol.TypePrivilegeRequested, ownAck.Type)
	mirrored := readEnvelope(t, tech, 2*time.Second)
	require.Equal(t, protocol.TypePrivilegeRequested, mirrored.Type)

	var body struct {
		RequestID string `json:"request_id"`
	}
	require.NoError(t, mirrored.Decode(&body))

	resp := protocol.PrivilegeResponsePayload{RequestID: body.RequestID, Approved: true}
	require.NoError(t, tech.WriteJSON(protocol.Envelope{Type: protocol.TypePrivilegeResponse, SessionID: sessionID, Payload: mustJSON(t, resp)}))

	techResult := readEnvelope(t, tech, 2*time.Second)
	require.Equal(t, protocol.TypePrivilegeApproved, techResult.Type)
	clientResult := readEnvelope(t, client, 2*time.Second)
	require.Equal(t, protocol.TypePrivilegeApproved, clientResult.Type)

	require.True(t, h.sessions.HasActivePrivilege(sessionID, "elevated"))
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}
