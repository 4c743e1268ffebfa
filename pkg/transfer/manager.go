package transfer

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onlitec/remotebroker/internal/brokererr"
	"github.com/onlitec/remotebroker/internal/logger"
	"github.com/onlitec/remotebroker/pkg/audit"
	"github.com/onlitec/remotebroker/pkg/config"
	"github.com/onlitec/remotebroker/pkg/metrics"
	"github.com/onlitec/remotebroker/pkg/security"
	"github.com/onlitec/remotebroker/pkg/storage"
)

// Sender is how the engine hands outbound chunks to the router for a
// download (technician→client) transfer. The router implements it over
// the websocket connection registered for the transfer's session.
type Sender interface {
	SendChunk(ctx context.Context, sessionID string, frame []byte) error
	SendRetransmitRequest(ctx context.Context, sessionID, transferID string, index uint32) error
}

// Manager is the transfer engine (spec §4.3, C3): owns every Transfer's
// state machine and chunk I/O, bounded to MaxConcurrent simultaneous
// in_progress transfers via a semaphore.
type Manager struct {
	snapshot  *config.TransferSnapshot
	storage   storage.Backend
	validator *security.Validator
	cryptor   *security.Cryptor // nil disables at-rest chunk encryption
	auditor   *audit.Log
	sender    Sender
	metrics   *metrics.TransferMetrics

	mu        sync.RWMutex
	transfers map[string]*Transfer

	sem chan struct{} // bounded to cfg.MaxConcurrent, acquired while in_progress
}

// NewManager builds a Manager. cryptor may be nil if encrypt_files is
// disabled. sender may be nil until the router attaches itself via
// SetSender (broken dependency cycle: router needs Manager to deliver
// WriteChunk, Manager needs router to push outbound download chunks).
func NewManager(snapshot *config.TransferSnapshot, backend storage.Backend, validator *security.Validator, cryptor *security.Cryptor, auditor *audit.Log) *Manager {
	cfg := snapshot.Load()
	return &Manager{
		snapshot:  snapshot,
		storage:   backend,
		validator: validator,
		cryptor:   cryptor,
		auditor:   auditor,
		transfers: make(map[string]*Transfer),
		sem:       make(chan struct{}, cfg.MaxConcurrent),
	}
}

// SetSender attaches the router's outbound chunk sender. Must be called
// before any download transfer is approved.
func (m *Manager) SetSender(s Sender) { m.sender = s }

// SetMetrics attaches Prometheus instrumentation. A nil metrics (the
// default) leaves every observation a no-op.
func (m *Manager) SetMetrics(mt *metrics.TransferMetrics) { m.metrics = mt }

// refreshActiveGauge republishes the current active-transfer count.
func (m *Manager) refreshActiveGauge() {
	m.mu.RLock()
	n := m.activeCount()
	m.mu.RUnlock()
	m.metrics.SetActive(n)
}

func (m *Manager) emit(e audit.Event) {
	if m.auditor != nil {
		m.auditor.Log(e)
	}
}

// activeCount returns the number of transfers currently occupying a
// concurrency slot (approved or in_progress or paused).
func (m *Manager) activeCount() int {
	n := 0
	for _, t := range m.transfers {
		switch t.snapshotStatus() {
		case StatusApproved, StatusInProgress, StatusPaused:
			n++
		}
	}
	return n
}

// CreateTransfer validates req against live policy and creates the
// transfer record in pending (spec §4.3.1).
func (m *Manager) CreateTransfer(sessionID string, req Request) (string, error) {
	req.SessionID = sessionID
	cfg := m.snapshot.Load()

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.activeCount() >= cfg.MaxConcurrent {
		return "", brokererr.New(brokererr.LimitExceeded, "CreateTransfer", "active transfers at limit (%d)", cfg.MaxConcurrent)
	}
	if req.FileSize > cfg.MaxFileSize {
		m.emit(audit.Event{Type: audit.EventSecurityViolation, SessionID: sessionID, Filename: req.Filename,
			Message: fmt.Sprintf("file_size %d exceeds max_file_size %d", req.FileSize, cfg.MaxFileSize)})
		return "", brokererr.New(brokererr.LimitExceeded, "CreateTransfer", "file_size %d exceeds max_file_size %d", req.FileSize, cfg.MaxFileSize)
	}
	if !extensionAllowed(req.Filename, cfg.AllowedTypes) {
		m.emit(audit.Event{Type: audit.EventSecurityViolation, SessionID: sessionID, Filename: req.Filename,
			Message: fmt.Sprintf("extension of %q is not in the allow-list", req.Filename)})
		return "", brokererr.New(brokererr.Blocked, "CreateTransfer", "extension of %q is blocked", req.Filename)
	}

	id := uuid.NewString()
	t := newTransfer(id, req, cfg.ChunkSize)
	m.transfers[id] = t

	m.emit(audit.Event{Type: audit.EventTransferRequested, SessionID: sessionID, TransferID: id,
		Filename: req.Filename, FileSize: req.FileSize, Status: string(StatusPending)})
	m.metrics.ObserveRequested(string(req.Direction))
	return id, nil
}

func extensionAllowed(filename string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	ext := strings.ToLower(extOf(filename))
	for _, a := range allowed {
		if strings.ToLower(a) == ext {
			return true
		}
	}
	return false
}

func extOf(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 {
		return ""
	}
	return filename[i:]
}

// get returns the transfer or a NotFound error.
func (m *Manager) get(transferID string) (*Transfer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.transfers[transferID]
	if !ok {
		return nil, brokererr.New(brokererr.NotFound, "Manager", "transfer %s not found", transferID)
	}
	return t, nil
}

// Approve transitions a pending transfer to approved or rejected (spec
// §4.3.1). On approve it allocates the temp path, starts the stream,
// and for a zero-byte file completes immediately with no chunk traffic
// (spec §8 boundary behaviour).
func (m *Manager) Approve(ctx context.Context, transferID string, approved bool, message string) error {
	t, err := m.get(transferID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.Status != StatusPending {
		t.mu.Unlock()
		return brokererr.New(brokererr.InvalidState, "Approve", "transfer %s is %s, not pending", transferID, t.Status)
	}
	if !approved {
		t.Status = StatusRejected
		t.CompletedAt = time.Now()
		t.mu.Unlock()
		m.emit(audit.Event{Type: audit.EventTransferRejected, SessionID: t.SessionID, TransferID: transferID, Message: message})
		m.metrics.ObserveFailed("rejected")
		return nil
	}

	t.Status = StatusApproved
	t.ApprovedAt = time.Now()
	t.TempPath = tempFileName(transferID, t.Request.Filename)
	t.mu.Unlock()

	m.emit(audit.Event{Type: audit.EventTransferApproved, SessionID: t.SessionID, TransferID: transferID})

	if t.Request.FileSize == 0 {
		return m.completeZeroByteTransfer(ctx, t)
	}

	select {
	case m.sem <- struct{}{}:
	default:
		return brokererr.New(brokererr.LimitExceeded, "Approve", "concurrency slot unavailable for transfer %s", transferID)
	}

	t.mu.Lock()
	t.Status = StatusInProgress
	t.slotAcquired = true
	t.mu.Unlock()
	m.refreshActiveGauge()

	switch t.Request.Direction {
	case DirectionUpload:
		if err := m.storage.Remove(ctx, t.TempPath); err != nil {
			logger.Warn("transfer: failed to clear stale temp file before upload", logger.TransferID(transferID), logger.Err(err))
		}
	case DirectionDownload:
		go m.runDownload(ctx, t)
	}

	return nil
}

func (m *Manager) completeZeroByteTransfer(ctx context.Context, t *Transfer) error {
	t.mu.Lock()
	t.Status = StatusCompleted
	t.CompletedAt = time.Now()
	t.mu.Unlock()

	if _, err := m.storage.Create(ctx, t.TempPath); err == nil {
		// nothing to write; an empty object at temp_path matches the
		// "file at temp_path" contract for zero-byte transfers
	}
	m.emit(audit.Event{Type: audit.EventTransferCompleted, SessionID: t.SessionID, TransferID: t.ID, FileSize: 0})
	m.metrics.ObserveCompleted(0, string(t.Request.Direction), time.Since(t.ApprovedAt))
	return nil
}

func (m *Manager) release(t *Transfer) {
	t.mu.Lock()
	acquired := t.slotAcquired
	t.slotAcquired = false
	t.mu.Unlock()
	if !acquired {
		return
	}
	select {
	case <-m.sem:
	default:
	}
}

// Pause is idempotent: pausing a paused transfer is a no-op (spec
// §4.3.1).
func (m *Manager) Pause(transferID string) error {
	t, err := m.get(transferID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status == StatusPaused {
		return nil
	}
	if t.Status != StatusInProgress {
		return brokererr.New(brokererr.InvalidState, "Pause", "transfer %s is %s, not in_progress", transferID, t.Status)
	}
	t.Status = StatusPaused
	t.paused = true
	return nil
}

// Resume is idempotent: resuming a non-paused transfer is a no-op.
func (m *Manager) Resume(transferID string) error {
	t, err := m.get(transferID)
	if err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.Status == StatusInProgress {
		return nil
	}
	if t.Status != StatusPaused {
		return brokererr.New(brokererr.InvalidState, "Resume", "transfer %s is %s, not paused", transferID, t.Status)
	}
	t.Status = StatusInProgress
	t.paused = false
	t.pauseCond.Broadcast()
	return nil
}

// Cancel is idempotent: cancelling a terminal transfer is a no-op. It
// removes the temp file and, for downloads, attempts SecureDelete
// best-effort (spec §4.3.1).
func (m *Manager) Cancel(ctx context.Context, transferID string) error {
	t, err := m.get(transferID)
	if err != nil {
		return err
	}

	t.mu.Lock()
	if t.Status.terminal() {
		t.mu.Unlock()
		return nil
	}
	wasDownload := t.Request.Direction == DirectionDownload
	t.Status = StatusCancelled
	t.cancelled = true
	t.CompletedAt = time.Now()
	t.pauseCond.Broadcast()
	tempPath := t.TempPath
	t.mu.Unlock()

	m.release(t)
	m.refreshActiveGauge()

	if tempPath != "" {
		if wasDownload {
			if err := m.storage.SecureDelete(ctx, tempPath); err != nil {
				logger.Warn("transfer: secure delete failed on cancel", logger.TransferID(transferID), logger.Err(err))
			}
		} else if err := m.storage.Remove(ctx, tempPath); err != nil {
			logger.Warn("transfer: temp file removal failed on cancel", logger.TransferID(transferID), logger.Err(err))
		}
	}

	m.emit(audit.Event{Type: audit.EventTransferCancelled, SessionID: t.SessionID, TransferID: transferID})
	m.metrics.ObserveFailed("cancelled")
	return nil
}

// Progress reports the current progress snapshot (spec §4.3.1).
func (m *Manager) Progress(transferID string) (Progress, error) {
	t, err := m.get(transferID)
	if err != nil {
		return Progress{}, err
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	p := Progress{Bytes: t.bytesWritten, Total: t.Request.FileSize, Status: t.Status}
	if t.Request.FileSize > 0 {
		p.Pct = float64(t.bytesWritten) / float64(t.Request.FileSize) * 100
	} else {
		p.Pct = 100
	}

	elapsed := time.Since(t.ApprovedAt).Seconds()
	if elapsed > 0 {
		p.SpeedBps = float64(t.bytesWritten) / elapsed
	}
	if p.SpeedBps > 0 {
		remaining := float64(t.Request.FileSize - t.bytesWritten)
		p.ETASec = remaining / p.SpeedBps
	}
	return p, nil
}

// failTransfer transitions t to failed, removes its temp file and
// emits the audit event, from any lock context (it takes the lock
// itself).
func (m *Manager) failTransfer(ctx context.Context, t *Transfer, reason string) {
	t.mu.Lock()
	if t.Status.terminal() {
		t.mu.Unlock()
		return
	}
	t.Status = StatusFailed
	t.CompletedAt = time.Now()
	tempPath := t.TempPath
	t.mu.Unlock()

	m.release(t)
	m.refreshActiveGauge()

	if tempPath != "" {
		if err := m.storage.Remove(ctx, tempPath); err != nil {
			logger.Warn("transfer: temp file removal failed after failure", logger.TransferID(t.ID), logger.Err(err))
		}
	}
	m.emit(audit.Event{Type: audit.EventTransferFailed, SessionID: t.SessionID, TransferID: t.ID, Message: reason})
	m.metrics.ObserveFailed("failed")
}

// completeTransfer transitions t to completed, verifying the whole-file
// checksum when the request carried one (spec §4.3.5).
func (m *Manager) completeTransfer(ctx context.Context, t *Transfer) {
	if t.Request.ExpectedChecksum != "" {
		ok, err := m.verifyWholeFile(ctx, t)
		if err != nil || !ok {
			m.emit(audit.Event{Type: audit.EventChunkIntegrityFailed, SessionID: t.SessionID, TransferID: t.ID,
				Message: "whole-file checksum mismatch"})
			m.failTransfer(ctx, t, "whole-file checksum mismatch")
			return
		}
	}

	t.mu.Lock()
	t.Status = StatusCompleted
	t.CompletedAt = time.Now()
	t.mu.Unlock()

	m.release(t)
	m.refreshActiveGauge()
	m.emit(audit.Event{Type: audit.EventTransferCompleted, SessionID: t.SessionID, TransferID: t.ID, FileSize: t.Request.FileSize})
	m.metrics.ObserveCompleted(t.Request.FileSize, string(t.Request.Direction), time.Since(t.ApprovedAt))
}

func (m *Manager) verifyWholeFile(ctx context.Context, t *Transfer) (bool, error) {
	size, err := m.storage.Stat(ctx, t.TempPath)
	if err != nil {
		return false, err
	}
	r, err := m.storage.Open(ctx, t.TempPath)
	if err != nil {
		return false, err
	}
	defer r.Close()

	sum, err := security.ChecksumReader(r)
	if err != nil {
		return false, err
	}
	_ = size
	return strings.EqualFold(sum, t.Request.ExpectedChecksum), nil
}

// Snapshot returns every tracked transfer, for the progress broadcaster
// and admin CLI.
func (m *Manager) Snapshot() []*Transfer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Transfer, 0, len(m.transfers))
	for _, t := range m.transfers {
		out = append(out, t)
	}
	return out
}

// LiveTempFiles implements session.TempFileLister: every non-terminal
// transfer's temp path is still in use and must survive the sweeper's
// dangling-file reap.
func (m *Manager) LiveTempFiles() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	live := make(map[string]bool, len(m.transfers))
	for _, t := range m.transfers {
		if t.snapshotStatus().terminal() {
			continue
		}
		if t.TempPath != "" {
			live[filepath.Base(t.TempPath)] = true
		}
	}
	return live
}
