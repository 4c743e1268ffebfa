package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"

	"github.com/onlitec/remotebroker/internal/brokererr"
	"github.com/onlitec/remotebroker/internal/logger"
	"github.com/onlitec/remotebroker/internal/protocol"
	"github.com/onlitec/remotebroker/pkg/audit"
	"github.com/onlitec/remotebroker/pkg/metrics"
	"github.com/onlitec/remotebroker/pkg/session"
	"github.com/onlitec/remotebroker/pkg/transfer"
)

// progressInterval is the minimum gap between progress_response
// emissions for a single transfer (spec §4.5.4: "rate-limited to one
// update per second per transfer regardless of chunk rate").
const progressInterval = time.Second

// Router is the message router (spec §4.5, C5): it owns the connection
// registry, dispatches inbound envelopes to the session manager and
// transfer engine, and mirrors peer-relevant events to the other role
// on the same session.
type Router struct {
	sessions  *session.Manager
	transfers *transfer.Manager
	registry  *Registry
	auditor   *audit.Log
	metrics   *metrics.RouterMetrics

	readTimeout  time.Duration
	writeTimeout time.Duration

	progressLock      chanMutex
	progressLastBytes map[string]int64 // transfer_id -> bytes at last broadcast tick
}

// chanMutex is a trivial channel-based mutex used only to guard the
// progress rate-limit map without pulling in sync for a single field;
// kept separate from Manager's own locking so a progress emission never
// contends with a state-changing operation.
type chanMutex chan struct{}

func newChanMutex() chanMutex {
	m := make(chanMutex, 1)
	m <- struct{}{}
	return m
}

func (m chanMutex) lock()   { <-m }
func (m chanMutex) unlock() { m <- struct{}{} }

// New builds a Router over the given session and transfer managers.
func New(sessions *session.Manager, transfers *transfer.Manager, auditor *audit.Log, readTimeout, writeTimeout time.Duration) *Router {
	r := &Router{
		sessions:          sessions,
		transfers:         transfers,
		registry:          NewRegistry(),
		auditor:           auditor,
		readTimeout:       readTimeout,
		writeTimeout:      writeTimeout,
		progressLock:      newChanMutex(),
		progressLastBytes: make(map[string]int64),
	}
	transfers.SetSender(r)
	return r
}

// SetMetrics attaches Prometheus instrumentation. A nil metrics (the
// default) leaves every observation a no-op.
func (r *Router) SetMetrics(m *metrics.RouterMetrics) { r.metrics = m }

// HandleConnection upgrades and drives one websocket connection for
// sessionID/role until it closes. Call from the HTTP handler that
// performs the websocket.Upgrader.Upgrade call.
func (r *Router) HandleConnection(conn *websocket.Conn, sessionID string, role session.Role) error {
	peer := NewPeer(conn, sessionID, role, r.readTimeout, r.writeTimeout)

	if displaced := r.registry.Register(sessionID, role, peer); displaced != nil {
		displaced.Close()
	}
	if err := r.sessions.RegisterConnection(sessionID, role, peer); err != nil {
		r.registry.Unregister(sessionID, role, peer)
		peer.Close()
		return err
	}
	r.metrics.ObserveConnection(string(role))
	r.metrics.SetConnectedPeers(r.registry.Count())

	go peer.writePump()
	peer.readPump(func(msgType int, data []byte) {
		r.handleFrame(peer, msgType, data)
	})

	r.registry.Unregister(sessionID, role, peer)
	r.sessions.UnregisterConnection(sessionID, role)
	r.metrics.SetConnectedPeers(r.registry.Count())
	return nil
}

func (r *Router) handleFrame(peer *Peer, msgType int, data []byte) {
	ctx := context.Background()
	switch msgType {
	case websocket.BinaryMessage:
		r.handleChunkFrame(ctx, peer, data)
	case websocket.TextMessage:
		r.handleEnvelope(ctx, peer, data)
	}
}

func (r *Router) handleChunkFrame(ctx context.Context, peer *Peer, frame []byte) {
	r.metrics.ObserveChunkFrameIn()
	hdr, payload, err := protocol.DecodeChunkFrame(frame)
	if err != nil {
		logger.Warn("router: malformed chunk frame", logger.SessionID(peer.sessionID), logger.Err(err))
		return
	}
	if err := r.transfers.WriteChunk(ctx, hdr.TransferID, hdr, payload); err != nil {
		logger.Warn("router: write chunk failed", logger.TransferID(hdr.TransferID), logger.ChunkIndex(hdr.ChunkIndex), logger.Err(err))
		return
	}
	r.sendEnvelope(peer, protocol.TypeChunkAck, peer.sessionID, hdr.TransferID, protocol.ChunkAckPayload{ChunkIndex: hdr.ChunkIndex})
}

func (r *Router) handleEnvelope(ctx context.Context, peer *Peer, data []byte) {
	var env protocol.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warn("router: malformed envelope", logger.SessionID(peer.sessionID), logger.Err(err))
		return
	}
	r.metrics.ObserveEnvelopeIn(string(env.Type))

	switch env.Type {
	case protocol.TypePing:
		r.sendEnvelope(peer, protocol.TypePong, peer.sessionID, "", nil)
	case protocol.TypeHeartbeat:
		r.sendEnvelope(peer, protocol.TypeHeartbeatResponse, peer.sessionID, "", nil)
	case protocol.TypeFileTransferRequest:
		r.handleFileTransferRequest(ctx, peer, env)
	case protocol.TypeTransferApproval, protocol.TypeFileTransferResponse:
		r.handleTransferApproval(ctx, peer, env)
	case protocol.TypeTransferControl:
		r.handleTransferControl(ctx, peer, env)
	case protocol.TypeProgressRequest:
		r.handleProgressRequest(peer, env)
	case protocol.TypeChunkRetransmitRequest:
		r.handleChunkRetransmitRequest(ctx, peer, env)
	case protocol.TypePrivilegeRequest:
		r.handlePrivilegeRequest(peer, env)
	case protocol.TypePrivilegeResponse:
		r.handlePrivilegeResponse(peer, env)
	case protocol.TypePrivilegeRevoke:
		r.handlePrivilegeRevoke(peer, env)
	case protocol.TypeSessionTerminate:
		r.handleSessionTerminate(peer, env)
	default:
		logger.Warn("router: unknown envelope type, dropping", logger.SessionID(peer.sessionID), logger.Envelope(string(env.Type)))
	}
}

// sendEnvelope marshals and queues an envelope to peer, logging and
// dropping on a marshal failure (never fatal to the connection).
func (r *Router) sendEnvelope(peer *Peer, typ protocol.EnvelopeType, sessionID, transferID string, v any) {
	env, err := protocol.NewEnvelope(typ, sessionID, transferID, v)
	if err != nil {
		logger.Warn("router: failed to build envelope", logger.Envelope(string(typ)), logger.Err(err))
		return
	}
	b, err := json.Marshal(env)
	if err != nil {
		logger.Warn("router: failed to marshal envelope", logger.Envelope(string(typ)), logger.Err(err))
		return
	}
	r.metrics.ObserveEnvelopeOut(string(typ))
	peer.SendText(b)
}

// sendError queues a generic error envelope (spec §7).
func (r *Router) sendError(peer *Peer, sessionID string, err error) {
	r.sendEnvelope(peer, protocol.TypeError, sessionID, "", protocol.ErrorPayload{
		Error:   string(brokererr.KindOf(err)),
		Message: err.Error(),
	})
}

// SendChunk implements transfer.Sender: download chunks always flow
// broker→client (spec §1: download = technician→client), so the target
// role is always the client.
func (r *Router) SendChunk(_ context.Context, sessionID string, frame []byte) error {
	peer, ok := r.registry.Get(sessionID, session.RoleClient)
	if !ok {
		return brokererr.New(brokererr.NotFound, "SendChunk", "no client peer registered for session %s", sessionID)
	}
	if !peer.SendBinary(frame) {
		return brokererr.New(brokererr.IOFailure, "SendChunk", "client send queue full for session %s", sessionID)
	}
	r.metrics.ObserveChunkFrameOut()
	return nil
}

// SendRetransmitRequest implements transfer.Sender: a checksum failure
// on an uploaded chunk is reported back to the client, which is the
// upload's source.
func (r *Router) SendRetransmitRequest(_ context.Context, sessionID, transferID string, index uint32) error {
	peer, ok := r.registry.Get(sessionID, session.RoleClient)
	if !ok {
		return brokererr.New(brokererr.NotFound, "SendRetransmitRequest", "no client peer registered for session %s", sessionID)
	}
	r.sendEnvelope(peer, protocol.TypeChunkRetransmitRequest, sessionID, transferID, protocol.ChunkRetransmitPayload{ChunkIndex: index})
	return nil
}
