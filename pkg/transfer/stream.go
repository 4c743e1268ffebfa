package transfer

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"time"

	"github.com/onlitec/remotebroker/internal/logger"
	"github.com/onlitec/remotebroker/internal/protocol"
)

// retryBackoff is the linear per-retry delay for a download chunk send
// (spec §4.3.2: "retry ... with linear back-off of 1 s per retry").
const retryBackoff = time.Second

// runDownload reads the source file at t.TempPath sequentially and
// frames+sends each ChunkSize slice to the client via m.sender (spec
// §4.3.2). It checks the pause/cancel flags only at chunk boundaries,
// per spec §4.3.4, and retries a send up to RetryAttempts times.
func (m *Manager) runDownload(ctx context.Context, t *Transfer) {
	cfg := m.snapshot.Load()

	r, err := m.storage.Open(ctx, t.TempPath)
	if err != nil {
		m.failTransfer(ctx, t, "source file unavailable for download")
		return
	}
	defer r.Close()

	buf := make([]byte, t.ChunkSize)
	var index uint32

	for {
		if cancelled := t.WaitWhilePaused(); cancelled {
			return
		}

		n, readErr := io.ReadFull(r, buf)
		if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
			m.failTransfer(ctx, t, "source file read error")
			return
		}
		if n == 0 {
			break
		}

		payload := buf[:n]
		isLast := uint32(index)+1 >= uint32(t.TotalChunks) || errors.Is(readErr, io.ErrUnexpectedEOF) || errors.Is(readErr, io.EOF)
		sum := sha256.Sum256(payload)
		hdr := protocol.ChunkHeader{
			TransferID: t.ID,
			ChunkIndex: index,
			Checksum:   hex.EncodeToString(sum[:]),
			IsLast:     isLast,
		}

		if err := m.sendChunkWithRetry(ctx, t, hdr, payload, cfg.RetryAttempts); err != nil {
			m.failTransfer(ctx, t, "chunk send retries exhausted")
			return
		}

		t.mu.Lock()
		t.receivedChunks[index] = true
		t.bytesWritten += int64(n)
		t.mu.Unlock()

		index++
		if isLast {
			break
		}
	}

	m.completeTransfer(ctx, t)
}

func (m *Manager) sendChunkWithRetry(ctx context.Context, t *Transfer, hdr protocol.ChunkHeader, payload []byte, maxAttempts int) error {
	if m.sender == nil {
		return nil // no router attached yet (unit tests exercising the engine alone)
	}

	frame, err := protocol.EncodeChunkFrame(hdr, payload)
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if cancelled := t.IsCancelled(); cancelled {
			return nil
		}
		lastErr = m.sender.SendChunk(ctx, t.SessionID, frame)
		if lastErr == nil {
			return nil
		}
		logger.Warn("transfer: chunk send failed, retrying", logger.TransferID(t.ID), logger.ChunkIndex(hdr.ChunkIndex),
			logger.Attempt(attempt), logger.Err(lastErr))
		m.metrics.ObserveChunkRetry()
		if attempt < maxAttempts {
			time.Sleep(retryBackoff)
		}
	}
	return lastErr
}

// ResendChunk re-reads and re-sends a single chunk of a download
// transfer in response to a receiver-initiated chunk_retransmission_request
// (spec §4.3.2: "receiver-initiated requests take precedence").
func (m *Manager) ResendChunk(ctx context.Context, transferID string, index uint32) error {
	t, err := m.get(transferID)
	if err != nil {
		return err
	}
	if t.Request.Direction != DirectionDownload {
		return nil // retransmission for uploads is driven by the sender peer, not here
	}

	offset := int64(index) * int64(t.ChunkSize)
	length := t.ChunkSize
	if remaining := t.Request.FileSize - offset; remaining < int64(length) {
		length = int(remaining)
	}

	payload, err := m.storage.ReadAt(ctx, t.TempPath, offset, length)
	if err != nil {
		return err
	}
	sum := sha256.Sum256(payload)
	hdr := protocol.ChunkHeader{
		TransferID: transferID,
		ChunkIndex: index,
		Checksum:   hex.EncodeToString(sum[:]),
		IsLast:     index+1 >= uint32(t.TotalChunks),
	}
	cfg := m.snapshot.Load()
	return m.sendChunkWithRetry(ctx, t, hdr, payload, cfg.RetryAttempts)
}
