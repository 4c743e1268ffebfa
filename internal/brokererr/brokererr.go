// Package brokererr implements the broker's error taxonomy (spec §7): a
// fixed set of error kinds shared by the session manager, transfer engine
// and router, wrapped with enough operational context (session/transfer
// id, the failing operation) to log and to surface to the requesting peer
// as an `error` control envelope without tearing down the connection.
package brokererr

import (
	"errors"
	"fmt"
)

// Kind is one of the error categories named in spec §7. Kinds are not
// meant to be exhaustive of every possible Go error in the codebase —
// only of the ones that cross a peer-facing or state-machine boundary
// and need a stable wire-visible name.
type Kind string

const (
	NotFound      Kind = "not_found"
	AlreadyExists Kind = "already_exists"
	InvalidState  Kind = "invalid_state"
	LimitExceeded Kind = "limit_exceeded"
	Unauthorized  Kind = "unauthorized"
	Blocked       Kind = "blocked"
	Integrity     Kind = "integrity_error"
	Timeout       Kind = "timeout"
	IOFailure     Kind = "io_failure"
	Encryption    Kind = "encryption_error"
	Protocol      Kind = "protocol_error"
)

// Error wraps a Kind with a message and, when available, the underlying
// cause, so that both errors.Is(err, brokererr.Blocked-shaped-sentinel)
// style checks (via Kind()) and %w-wrapped causes keep working.
type Error struct {
	Kind    Kind
	Op      string // operation name, e.g. "CreateTransfer", "ApprovePrivilege"
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %s: %v", e.Op, e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an *Error with the given kind, operation and formatted message.
func New(kind Kind, op, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error around cause, preserving it for errors.Is/As.
func Wrap(kind Kind, op string, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Op: op, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error; otherwise it returns the empty Kind.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return ""
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
