package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"github.com/onlitec/remotebroker/internal/brokererr"
	"github.com/onlitec/remotebroker/internal/logger"
	"github.com/onlitec/remotebroker/internal/protocol"
	"github.com/onlitec/remotebroker/pkg/audit"
)

// MaxChunkRetries bounds per-chunk retransmission before a transfer is
// failed outright (spec §4.3.1, §4.3.5).
const MaxChunkRetries = 3

// WriteChunk applies one inbound chunk for an upload transfer (spec
// §4.3.1, §4.3.2). It is idempotent on hdr.ChunkIndex: a duplicate,
// already-received index is acknowledged but not reapplied. A checksum
// mismatch increments failed_chunks[index] and asks for retransmission
// rather than failing the transfer, unless MaxChunkRetries is exceeded.
func (m *Manager) WriteChunk(ctx context.Context, transferID string, hdr protocol.ChunkHeader, payload []byte) error {
	t, err := m.get(transferID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.Status != StatusInProgress {
		t.mu.Unlock()
		logger.Warn("transfer: chunk received outside in_progress", logger.TransferID(transferID), logger.Status(string(t.Status)))
		return brokererr.New(brokererr.InvalidState, "WriteChunk", "transfer %s is %s, not in_progress", transferID, t.Status)
	}
	if t.receivedChunks[hdr.ChunkIndex] {
		t.mu.Unlock()
		return nil // already applied, ack without reapplying
	}
	t.mu.Unlock()

	if cancelled := t.WaitWhilePaused(); cancelled {
		return brokererr.New(brokererr.InvalidState, "WriteChunk", "transfer %s cancelled", transferID)
	}

	if !checksumMatches(payload, hdr.Checksum) {
		return m.handleChunkChecksumFailure(ctx, t, hdr.ChunkIndex)
	}

	offset := int64(hdr.ChunkIndex) * int64(t.ChunkSize)
	if err := m.storage.WriteAt(ctx, t.TempPath, offset, payload); err != nil {
		m.failTransfer(ctx, t, "chunk write I/O error")
		return brokererr.Wrap(brokererr.IOFailure, "WriteChunk", err, "write chunk %d of transfer %s", hdr.ChunkIndex, transferID)
	}

	t.mu.Lock()
	t.receivedChunks[hdr.ChunkIndex] = true
	delete(t.failedChunks, hdr.ChunkIndex)
	t.bytesWritten += int64(len(payload))
	received := len(t.receivedChunks)
	total := t.TotalChunks
	t.mu.Unlock()

	if received >= total {
		m.completeTransfer(ctx, t)
	}
	return nil
}

func (m *Manager) handleChunkChecksumFailure(ctx context.Context, t *Transfer, index uint32) error {
	t.mu.Lock()
	t.failedChunks[index]++
	attempts := t.failedChunks[index]
	t.mu.Unlock()

	m.emit(audit.Event{Type: audit.EventChunkIntegrityFailed, SessionID: t.SessionID, TransferID: t.ID,
		Message: "per-chunk checksum mismatch", Status: "retransmission_requested"})
	m.metrics.ObserveChunkRetry()

	if attempts > MaxChunkRetries {
		m.failTransfer(ctx, t, "chunk checksum retries exhausted")
		return brokererr.New(brokererr.Integrity, "WriteChunk", "chunk %d of transfer %s exceeded %d retries", index, t.ID, MaxChunkRetries)
	}

	if m.sender != nil {
		if err := m.sender.SendRetransmitRequest(ctx, t.SessionID, t.ID, index); err != nil {
			logger.Warn("transfer: failed to send retransmit request", logger.TransferID(t.ID), logger.ChunkIndex(index), logger.Err(err))
		}
	}
	return nil
}

func checksumMatches(payload []byte, expected string) bool {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]) == expected
}
