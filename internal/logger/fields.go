package logger

import "log/slog"

// Standard field keys for structured logging. Use these consistently so
// log lines stay queryable across the session, transfer and router
// packages.
const (
	KeyTraceID     = "trace_id"
	KeySpanID      = "span_id"
	KeySessionID   = "session_id"
	KeyTransferID  = "transfer_id"
	KeyRole        = "role"
	KeyPeerAddr    = "peer_addr"
	KeyClientID    = "client_id"
	KeyTechnician  = "technician_id"
	KeyEventType   = "event_type"
	KeySeverity    = "severity"
	KeyDirection   = "direction"
	KeyFilename    = "filename"
	KeyFileSize    = "file_size"
	KeyChunkIndex  = "chunk_index"
	KeyPrivilege   = "privilege_type"
	KeyStatus      = "status"
	KeyDurationMs  = "duration_ms"
	KeyError       = "error"
	KeyBytes       = "bytes"
	KeyAttempt     = "attempt"
	KeyEnvelope    = "envelope_type"
)

func SessionID(id string) slog.Attr    { return slog.String(KeySessionID, id) }
func TransferID(id string) slog.Attr   { return slog.String(KeyTransferID, id) }
func Role(role string) slog.Attr       { return slog.String(KeyRole, role) }
func PeerAddr(addr string) slog.Attr   { return slog.String(KeyPeerAddr, addr) }
func ClientID(id string) slog.Attr     { return slog.String(KeyClientID, id) }
func Technician(id string) slog.Attr   { return slog.String(KeyTechnician, id) }
func EventType(t string) slog.Attr     { return slog.String(KeyEventType, t) }
func Severity(s string) slog.Attr      { return slog.String(KeySeverity, s) }
func Direction(d string) slog.Attr     { return slog.String(KeyDirection, d) }
func Filename(name string) slog.Attr   { return slog.String(KeyFilename, name) }
func FileSize(n int64) slog.Attr       { return slog.Int64(KeyFileSize, n) }
func ChunkIndex(idx uint32) slog.Attr  { return slog.Any(KeyChunkIndex, idx) }
func Privilege(p string) slog.Attr     { return slog.String(KeyPrivilege, p) }
func Status(s string) slog.Attr        { return slog.String(KeyStatus, s) }
func DurationMs(ms float64) slog.Attr  { return slog.Float64(KeyDurationMs, ms) }
func Envelope(t string) slog.Attr      { return slog.String(KeyEnvelope, t) }
func Attempt(n int) slog.Attr          { return slog.Int(KeyAttempt, n) }
func Bytes(n int64) slog.Attr          { return slog.Int64(KeyBytes, n) }

// Err returns a slog.Attr for an error, or a zero Attr (dropped by the
// handler) if err is nil.
func Err(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String(KeyError, err.Error())
}
