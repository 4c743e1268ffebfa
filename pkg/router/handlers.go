package router

import (
	"context"
	"time"

	"github.com/onlitec/remotebroker/internal/brokererr"
	"github.com/onlitec/remotebroker/internal/logger"
	"github.com/onlitec/remotebroker/internal/protocol"
	"github.com/onlitec/remotebroker/pkg/session"
	"github.com/onlitec/remotebroker/pkg/transfer"
)

// handleFileTransferRequest creates a pending transfer for the
// requesting peer's proposal and forwards the same request to the
// other role, who is the one expected to approve it (spec §4.5.3: route
// by transfer_id once one exists, mirror the proposal before then).
func (r *Router) handleFileTransferRequest(_ context.Context, peer *Peer, env protocol.Envelope) {
	var payload protocol.FileTransferRequestPayload
	if err := env.Decode(&payload); err != nil {
		r.sendError(peer, env.SessionID, brokererr.Wrap(brokererr.Protocol, "handleFileTransferRequest", err, "decode payload"))
		return
	}

	req := transfer.Request{
		Filename:         payload.Filename,
		FileSize:         payload.FileSize,
		Direction:        transfer.Direction(payload.Direction),
		ExpectedChecksum: payload.ExpectedChecksum,
	}

	transferID, err := r.transfers.CreateTransfer(env.SessionID, req)
	if err != nil {
		r.sendError(peer, env.SessionID, err)
		return
	}

	r.sendEnvelope(peer, protocol.TypeTransferStatusUpdate, env.SessionID, transferID, protocol.ProgressPayload{
		Total: payload.FileSize, Status: "pending",
	})

	if other, ok := r.registry.Other(env.SessionID, peer.role); ok {
		r.sendEnvelope(other, protocol.TypeFileTransferRequest, env.SessionID, transferID, payload)
	}
}

// handleTransferApproval applies an approve/reject decision and mirrors
// the resulting status to both peers on the session.
func (r *Router) handleTransferApproval(ctx context.Context, peer *Peer, env protocol.Envelope) {
	var payload protocol.TransferApprovalPayload
	if err := env.Decode(&payload); err != nil {
		r.sendError(peer, env.SessionID, brokererr.Wrap(brokererr.Protocol, "handleTransferApproval", err, "decode payload"))
		return
	}

	if err := r.transfers.Approve(ctx, env.TransferID, payload.Approved, payload.Message); err != nil {
		r.sendError(peer, env.SessionID, err)
		return
	}

	r.broadcastProgress(env.SessionID, env.TransferID)
}

// handleTransferControl applies a pause/resume/cancel action.
func (r *Router) handleTransferControl(ctx context.Context, peer *Peer, env protocol.Envelope) {
	var payload protocol.TransferControlPayload
	if err := env.Decode(&payload); err != nil {
		r.sendError(peer, env.SessionID, brokererr.Wrap(brokererr.Protocol, "handleTransferControl", err, "decode payload"))
		return
	}

	var err error
	switch payload.Action {
	case protocol.ControlPause:
		err = r.transfers.Pause(env.TransferID)
	case protocol.ControlResume:
		err = r.transfers.Resume(env.TransferID)
	case protocol.ControlCancel:
		err = r.transfers.Cancel(ctx, env.TransferID)
	default:
		err = brokererr.New(brokererr.Protocol, "handleTransferControl", "unknown control action %q", payload.Action)
	}

	type controlResponse struct {
		Action string `json:"action"`
		Ok     bool   `json:"ok"`
		Error  string `json:"error,omitempty"`
	}
	resp := controlResponse{Action: string(payload.Action), Ok: err == nil}
	if err != nil {
		resp.Error = err.Error()
	}
	r.sendEnvelope(peer, protocol.TypeControlResponse, env.SessionID, env.TransferID, resp)
	if err == nil {
		r.broadcastProgress(env.SessionID, env.TransferID)
	}
}

// handleProgressRequest replies to the requester only; the periodic
// broadcaster (progress.go) handles the unsolicited 1 Hz push.
func (r *Router) handleProgressRequest(peer *Peer, env protocol.Envelope) {
	p, err := r.transfers.Progress(env.TransferID)
	if err != nil {
		r.sendError(peer, env.SessionID, err)
		return
	}
	r.sendEnvelope(peer, protocol.TypeProgressResponse, env.SessionID, env.TransferID, progressToPayload(p))
}

// handleChunkRetransmitRequest re-sends a single chunk of a download
// transfer in response to a receiver-initiated request (spec §4.3.2).
func (r *Router) handleChunkRetransmitRequest(ctx context.Context, peer *Peer, env protocol.Envelope) {
	var payload protocol.ChunkRetransmitPayload
	if err := env.Decode(&payload); err != nil {
		r.sendError(peer, env.SessionID, brokererr.Wrap(brokererr.Protocol, "handleChunkRetransmitRequest", err, "decode payload"))
		return
	}
	if err := r.transfers.ResendChunk(ctx, env.TransferID, payload.ChunkIndex); err != nil {
		logger.Warn("router: resend chunk failed", logger.TransferID(env.TransferID), logger.ChunkIndex(payload.ChunkIndex), logger.Err(err))
	}
}

// handlePrivilegeRequest records the request and forwards it to the
// technician for approval (spec §4.4.1/§4.5.3).
func (r *Router) handlePrivilegeRequest(peer *Peer, env protocol.Envelope) {
	var payload protocol.PrivilegeRequestPayload
	if err := env.Decode(&payload); err != nil {
		r.sendError(peer, env.SessionID, brokererr.Wrap(brokererr.Protocol, "handlePrivilegeRequest", err, "decode payload"))
		return
	}

	requestID, err := r.sessions.RequestPrivilege(env.SessionID, payload.Type, payload.Justification,
		time.Duration(payload.RequestedSeconds)*time.Second)
	if err != nil {
		r.sendError(peer, env.SessionID, err)
		return
	}

	type requestedPayload struct {
		RequestID     string `json:"request_id"`
		Type          string `json:"type"`
		Justification string `json:"justification"`
	}
	body := requestedPayload{RequestID: requestID, Type: payload.Type, Justification: payload.Justification}
	r.sendEnvelope(peer, protocol.TypePrivilegeRequested, env.SessionID, "", body)
	if other, ok := r.registry.Other(env.SessionID, peer.role); ok {
		r.sendEnvelope(other, protocol.TypePrivilegeRequested, env.SessionID, "", body)
	}
}

// handlePrivilegeResponse applies a technician's approve/deny decision
// and mirrors the outcome to both peers.
func (r *Router) handlePrivilegeResponse(peer *Peer, env protocol.Envelope) {
	var payload protocol.PrivilegeResponsePayload
	if err := env.Decode(&payload); err != nil {
		r.sendError(peer, env.SessionID, brokererr.Wrap(brokererr.Protocol, "handlePrivilegeResponse", err, "decode payload"))
		return
	}

	s, err := r.sessions.GetSession(env.SessionID)
	if err != nil {
		r.sendError(peer, env.SessionID, err)
		return
	}

	var respType protocol.EnvelopeType
	if payload.Approved {
		err = r.sessions.ApprovePrivilege(env.SessionID, payload.RequestID, s.TechnicianID)
		respType = protocol.TypePrivilegeApproved
	} else {
		err = r.sessions.DenyPrivilege(env.SessionID, payload.RequestID, s.TechnicianID, "")
		respType = protocol.TypePrivilegeDenied
	}
	if err != nil {
		r.sendError(peer, env.SessionID, err)
		return
	}

	body := protocol.PrivilegeResponsePayload{RequestID: payload.RequestID, Approved: payload.Approved}
	r.sendEnvelope(peer, respType, env.SessionID, "", body)
	if other, ok := r.registry.Other(env.SessionID, peer.role); ok {
		r.sendEnvelope(other, respType, env.SessionID, "", body)
	}
}

// handlePrivilegeRevoke immediately revokes an active privilege grant.
func (r *Router) handlePrivilegeRevoke(peer *Peer, env protocol.Envelope) {
	type revokePayload struct {
		Type string `json:"type"`
	}
	var payload revokePayload
	if err := env.Decode(&payload); err != nil {
		r.sendError(peer, env.SessionID, brokererr.Wrap(brokererr.Protocol, "handlePrivilegeRevoke", err, "decode payload"))
		return
	}
	if err := r.sessions.RevokePrivilege(env.SessionID, payload.Type); err != nil {
		r.sendError(peer, env.SessionID, err)
		return
	}

	r.sendEnvelope(peer, protocol.TypePrivilegeRevoked, env.SessionID, "", payload)
	if other, ok := r.registry.Other(env.SessionID, peer.role); ok {
		r.sendEnvelope(other, protocol.TypePrivilegeRevoked, env.SessionID, "", payload)
	}
}

// handleSessionTerminate notifies both peers, then tears the session
// down. Notification happens first because Terminate closes both
// connections as part of the state transition.
func (r *Router) handleSessionTerminate(peer *Peer, env protocol.Envelope) {
	body := struct {
		Reason string `json:"reason"`
	}{Reason: "peer requested termination"}

	r.sendEnvelope(peer, protocol.TypeSessionTerminated, env.SessionID, "", body)
	if other, ok := r.registry.Other(env.SessionID, peer.role); ok {
		r.sendEnvelope(other, protocol.TypeSessionTerminated, env.SessionID, "", body)
	}

	if err := r.sessions.Terminate(env.SessionID, body.Reason); err != nil {
		logger.Warn("router: session terminate failed", logger.SessionID(env.SessionID), logger.Err(err))
	}
}

// broadcastProgress sends an immediate, unrated status snapshot to
// both peers on the session; used right after a state-changing action
// so the UI doesn't wait for the next periodic tick.
func (r *Router) broadcastProgress(sessionID, transferID string) {
	p, err := r.transfers.Progress(transferID)
	if err != nil {
		return
	}
	payload := progressToPayload(p)
	for _, role := range []session.Role{session.RoleClient, session.RoleTechnician} {
		if peer, ok := r.registry.Get(sessionID, role); ok {
			r.sendEnvelope(peer, protocol.TypeTransferStatusUpdate, sessionID, transferID, payload)
		}
	}
}

func progressToPayload(p transfer.Progress) protocol.ProgressPayload {
	return protocol.ProgressPayload{
		Bytes:    p.Bytes,
		Total:    p.Total,
		Pct:      p.Pct,
		SpeedBps: p.SpeedBps,
		ETASec:   p.ETASec,
		Status:   string(p.Status),
	}
}
