package telemetry

// Common attribute keys used across broker spans, grouped by the
// component that sets them.
const (
	// Session attributes (C4).
	AttrSessionID    = "broker.session_id"
	AttrClientID     = "broker.client_id"
	AttrTechnicianID = "broker.technician_id"
	AttrSessionState = "broker.session_state"

	// Privilege attributes (C4).
	AttrPrivilegeType     = "broker.privilege_type"
	AttrPrivilegeApprover = "broker.privilege_approver"

	// Transfer attributes (C3).
	AttrTransferID  = "broker.transfer_id"
	AttrDirection   = "broker.direction"
	AttrFilename    = "broker.filename"
	AttrFileSize    = "broker.file_size"
	AttrChunkIndex  = "broker.chunk_index"
	AttrTransferStat = "broker.transfer_status"

	// Router attributes (C5).
	AttrRole         = "broker.role"
	AttrEnvelopeType = "broker.envelope_type"

	// Audit attributes (C1).
	AttrAuditEventType = "broker.audit_event_type"
	AttrAuditSeverity  = "broker.audit_severity"
)

// Span names for broker operations.
const (
	SpanSessionCreate       = "session.create"
	SpanSessionRegisterConn = "session.register_connection"
	SpanSessionTerminate    = "session.terminate"
	SpanPrivilegeRequest    = "session.privilege_request"
	SpanPrivilegeApprove    = "session.privilege_approve"
	SpanPrivilegeDeny       = "session.privilege_deny"
	SpanPrivilegeRevoke     = "session.privilege_revoke"

	SpanTransferCreate  = "transfer.create"
	SpanTransferApprove = "transfer.approve"
	SpanTransferChunk   = "transfer.chunk"
	SpanTransferCancel  = "transfer.cancel"

	SpanRouterConnection = "router.connection"
	SpanRouterEnvelope   = "router.envelope"

	SpanValidateFile = "security.validate_file"
	SpanScanFile     = "security.scan_file"
)
