package config

import (
	"sync/atomic"

	"github.com/onlitec/remotebroker/internal/brokererr"
)

// TransferSnapshot publishes *TransferConfig via copy-on-write so that
// in-flight transfers keep whatever policy they captured at approval
// time (spec §9 "Dynamic config updates"): a config update never flips
// policy under a transfer already running.
type TransferSnapshot struct {
	current atomic.Pointer[TransferConfig]
}

// NewTransferSnapshot publishes an initial snapshot.
func NewTransferSnapshot(initial TransferConfig) *TransferSnapshot {
	s := &TransferSnapshot{}
	s.current.Store(&initial)
	return s
}

// Load returns the currently published snapshot. Callers must treat
// the returned value as immutable and capture it once per transfer
// rather than re-reading Load mid-transfer.
func (s *TransferSnapshot) Load() TransferConfig {
	return *s.current.Load()
}

// Update validates next and, if valid, atomically swaps it in. Existing
// holders of a prior Load() result are unaffected.
func (s *TransferSnapshot) Update(next TransferConfig) error {
	if err := validateTransferConfig(next); err != nil {
		return err
	}
	s.current.Store(&next)
	return nil
}

func validateTransferConfig(t TransferConfig) error {
	if t.MaxFileSize <= 0 {
		return brokererr.New(brokererr.InvalidState, "UpdateTransferConfig", "max_file_size must be positive")
	}
	if t.MaxConcurrent <= 0 {
		return brokererr.New(brokererr.InvalidState, "UpdateTransferConfig", "max_concurrent must be positive")
	}
	if t.ChunkSize <= 0 {
		return brokererr.New(brokererr.InvalidState, "UpdateTransferConfig", "chunk_size must be positive")
	}
	if t.RetryAttempts < 0 {
		return brokererr.New(brokererr.InvalidState, "UpdateTransferConfig", "retry_attempts must not be negative")
	}
	return nil
}
