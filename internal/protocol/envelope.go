package protocol

import (
	"encoding/json"
	"time"
)

// EnvelopeType enumerates the authoritative control envelope catalogue
// from spec §4.5.2. Unknown types are logged and dropped (never cause a
// disconnect), per spec §6.
type EnvelopeType string

const (
	// Session plane
	TypeSessionRegister   EnvelopeType = "session_register"
	TypeSessionCreate     EnvelopeType = "session_create"
	TypeSessionJoin       EnvelopeType = "session_join"
	TypeSessionTerminate  EnvelopeType = "session_terminate"
	TypeSessionInfo       EnvelopeType = "session_info"
	TypeSessionRegistered EnvelopeType = "session_registered"
	TypeSessionCreated    EnvelopeType = "session_created"
	TypeSessionJoined     EnvelopeType = "session_joined"
	TypeSessionTerminated EnvelopeType = "session_terminated"
	TypeSessionExpired    EnvelopeType = "session_expired"

	// Privilege plane
	TypePrivilegeRequest  EnvelopeType = "privilege_request"
	TypePrivilegeResponse EnvelopeType = "privilege_response"
	TypePrivilegeRevoke   EnvelopeType = "privilege_revoke"
	TypePrivilegeRequested EnvelopeType = "privilege_requested"
	TypePrivilegeApproved  EnvelopeType = "privilege_approved"
	TypePrivilegeDenied    EnvelopeType = "privilege_denied"
	TypePrivilegeRevoked   EnvelopeType = "privilege_revoked"
	TypePrivilegeExpired   EnvelopeType = "privilege_expired"

	// Transfer plane
	TypeFileTransferRequest     EnvelopeType = "file_transfer_request"
	TypeFileTransferResponse    EnvelopeType = "file_transfer_response"
	TypeTransferApproval        EnvelopeType = "transfer_approval"
	TypeTransferStatusUpdate    EnvelopeType = "transfer_status_update"
	TypeTransferControl         EnvelopeType = "transfer_control"
	TypeControlResponse         EnvelopeType = "control_response"
	TypeProgressRequest         EnvelopeType = "progress_request"
	TypeProgressResponse        EnvelopeType = "progress_response"
	TypeChunkAck                EnvelopeType = "chunk_ack"
	TypeChunkRetransmitRequest  EnvelopeType = "chunk_retransmission_request"

	// Liveness
	TypePing              EnvelopeType = "ping"
	TypePong               EnvelopeType = "pong"
	TypeHeartbeat          EnvelopeType = "heartbeat"
	TypeHeartbeatResponse  EnvelopeType = "heartbeat_response"

	// Generic
	TypeError EnvelopeType = "error"
)

// Envelope is the generic shape of every control-plane message: a
// required `type` plus a free-form payload. Handlers decode Payload into
// the concrete type matching Type.
type Envelope struct {
	Type      EnvelopeType    `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	SessionID string          `json:"session_id,omitempty"`
	TransferID string         `json:"transfer_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope builds an Envelope with payload marshaled from v.
func NewEnvelope(typ EnvelopeType, sessionID, transferID string, v any) (Envelope, error) {
	var raw json.RawMessage
	if v != nil {
		b, err := json.Marshal(v)
		if err != nil {
			return Envelope{}, err
		}
		raw = b
	}
	return Envelope{
		Type:       typ,
		Timestamp:  time.Now().UTC(),
		SessionID:  sessionID,
		TransferID: transferID,
		Payload:    raw,
	}, nil
}

// Decode unmarshals e.Payload into v.
func (e Envelope) Decode(v any) error {
	if len(e.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(e.Payload, v)
}

// ErrorPayload is the body of a generic `error` envelope (spec §7).
type ErrorPayload struct {
	Error   string `json:"error"`   // brokererr.Kind string
	Message string `json:"message"`
}

// TransferControlAction enumerates the actions accepted by a
// `transfer_control` envelope (spec §4.5.2).
type TransferControlAction string

const (
	ControlPause  TransferControlAction = "pause"
	ControlResume TransferControlAction = "resume"
	ControlCancel TransferControlAction = "cancel"
)

// TransferControlPayload is the body of a `transfer_control` envelope.
type TransferControlPayload struct {
	Action TransferControlAction `json:"action"`
}

// FileTransferRequestPayload is the body of a `file_transfer_request`
// envelope.
type FileTransferRequestPayload struct {
	Filename         string `json:"filename"`
	FileSize         int64  `json:"file_size"`
	Direction        string `json:"direction"` // upload | download
	ExpectedChecksum string `json:"expected_checksum,omitempty"`
}

// TransferApprovalPayload is the body of a `transfer_approval` /
// `file_transfer_response` envelope.
type TransferApprovalPayload struct {
	Approved bool   `json:"approved"`
	Message  string `json:"message,omitempty"`
}

// PrivilegeRequestPayload is the body of a `privilege_request` envelope.
type PrivilegeRequestPayload struct {
	Type             string `json:"type"`
	Justification    string `json:"justification"`
	RequestedSeconds int64  `json:"requested_duration_s"`
}

// PrivilegeResponsePayload is the body of a `privilege_response` envelope.
type PrivilegeResponsePayload struct {
	RequestID string `json:"request_id"`
	Approved  bool   `json:"approved"`
}

// ProgressPayload is the body of a `progress_response` envelope.
type ProgressPayload struct {
	Bytes    int64   `json:"bytes"`
	Total    int64   `json:"total"`
	Pct      float64 `json:"pct"`
	SpeedBps float64 `json:"speed_bps"`
	ETASec   float64 `json:"eta_s"`
	Status   string  `json:"status"`
}

// ChunkAckPayload is the body of a `chunk_ack` envelope.
type ChunkAckPayload struct {
	ChunkIndex uint32 `json:"chunk_index"`
}

// ChunkRetransmitPayload is the body of a `chunk_retransmission_request`
// envelope.
type ChunkRetransmitPayload struct {
	ChunkIndex uint32 `json:"chunk_index"`
	Reason     string `json:"reason,omitempty"`
}
