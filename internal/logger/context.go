package logger

import (
	"context"
	"time"
)

type contextKey struct{}

var logContextKey = contextKey{}

// LogContext carries request-scoped logging fields through a call chain:
// which session/transfer/peer role a log line belongs to, for correlation
// across the router, session manager and transfer engine.
type LogContext struct {
	TraceID    string    // OpenTelemetry trace ID
	SpanID     string    // OpenTelemetry span ID
	SessionID  string    // broker session UUID
	TransferID string    // broker transfer UUID
	Role       string    // client | portal | server
	PeerAddr   string    // remote address of the peer connection
	StartTime  time.Time // for duration calculation
}

// WithContext returns a context carrying lc.
func WithContext(ctx context.Context, lc *LogContext) context.Context {
	return context.WithValue(ctx, logContextKey, lc)
}

// FromContext retrieves the LogContext previously attached with
// WithContext, or nil if none is present.
func FromContext(ctx context.Context) *LogContext {
	if ctx == nil {
		return nil
	}
	lc, _ := ctx.Value(logContextKey).(*LogContext)
	return lc
}

// NewLogContext creates a LogContext for a freshly accepted peer connection.
func NewLogContext(peerAddr string) *LogContext {
	return &LogContext{PeerAddr: peerAddr, StartTime: time.Now()}
}

// Clone returns a copy of lc, or nil if lc is nil.
func (lc *LogContext) Clone() *LogContext {
	if lc == nil {
		return nil
	}
	clone := *lc
	return &clone
}

// WithSession returns a copy with SessionID set.
func (lc *LogContext) WithSession(sessionID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.SessionID = sessionID
	}
	return clone
}

// WithTransfer returns a copy with TransferID set.
func (lc *LogContext) WithTransfer(transferID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TransferID = transferID
	}
	return clone
}

// WithRole returns a copy with Role set.
func (lc *LogContext) WithRole(role string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.Role = role
	}
	return clone
}

// WithTrace returns a copy with trace/span IDs set.
func (lc *LogContext) WithTrace(traceID, spanID string) *LogContext {
	clone := lc.Clone()
	if clone != nil {
		clone.TraceID, clone.SpanID = traceID, spanID
	}
	return clone
}

// DurationMs returns the elapsed time since StartTime in milliseconds.
func (lc *LogContext) DurationMs() float64 {
	if lc == nil || lc.StartTime.IsZero() {
		return 0
	}
	return float64(time.Since(lc.StartTime).Microseconds()) / 1000.0
}
