// Package transfer implements the transfer engine (spec §4.3, C3): the
// per-transfer state machine, chunked upload/download, retransmission
// and pause/resume/cancel discipline.
package transfer

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"
)

// Status is one of the transfer state machine's states (spec §4.3.3).
type Status string

const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusInProgress Status = "in_progress"
	StatusPaused     Status = "paused"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

// terminal reports whether a status has no outgoing transitions.
func (s Status) terminal() bool {
	switch s {
	case StatusRejected, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	default:
		return false
	}
}

// Direction is the data flow direction relative to the broker.
type Direction string

const (
	DirectionUpload   Direction = "upload"
	DirectionDownload Direction = "download"
)

// Request is the client-supplied transfer proposal (spec §4.3.1).
type Request struct {
	SessionID        string
	Filename         string
	FileSize         int64
	Direction        Direction
	ExpectedChecksum string
	Technician       string
	ClientID         string
}

// Progress is the response shape of Progress() (spec §4.3.1).
type Progress struct {
	Bytes    int64
	Total    int64
	Pct      float64
	SpeedBps float64
	ETASec   float64
	Status   Status
}

// Transfer is one in-flight or completed transfer record. Exported
// fields are snapshotted by Progress/Snapshot; callers must not mutate
// a Transfer directly — use Manager's methods, which hold mu for the
// duration of any state change.
type Transfer struct {
	ID         string
	SessionID  string
	Request    Request
	Status     Status
	TempPath   string
	ChunkSize  int
	TotalChunks int

	CreatedAt   time.Time
	ApprovedAt  time.Time
	CompletedAt time.Time

	mu             sync.Mutex
	receivedChunks map[uint32]bool
	failedChunks   map[uint32]int
	bytesWritten   int64

	paused       bool
	cancelled    bool
	slotAcquired bool
	pauseCond    *sync.Cond

	lastActivity time.Time
}

func newTransfer(id string, req Request, chunkSize int) *Transfer {
	t := &Transfer{
		ID:             id,
		SessionID:      req.SessionID,
		Request:        req,
		Status:         StatusPending,
		ChunkSize:      chunkSize,
		CreatedAt:      time.Now(),
		receivedChunks: make(map[uint32]bool),
		failedChunks:   make(map[uint32]int),
		lastActivity:   time.Now(),
	}
	t.pauseCond = sync.NewCond(&t.mu)
	if chunkSize > 0 {
		t.TotalChunks = int((req.FileSize + int64(chunkSize) - 1) / int64(chunkSize))
		if req.FileSize == 0 {
			t.TotalChunks = 0
		}
	}
	return t
}

func tempFileName(id, filename string) string {
	return fmt.Sprintf("transfer_%s_%s", id, filepath.Base(filename))
}

// snapshotStatus returns the current status under lock.
func (t *Transfer) snapshotStatus() Status {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.Status
}

// IsPaused reports the paused flag (spec §4.3.4): checked by send/
// receive loops only at chunk boundaries.
func (t *Transfer) IsPaused() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.paused
}

// IsCancelled reports the cancelled flag, which takes precedence over
// paused.
func (t *Transfer) IsCancelled() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

// WaitWhilePaused blocks the calling loop at a chunk boundary while
// paused is set, waking immediately if cancelled is raised so the loop
// can exit deterministically (spec §4.3.4).
func (t *Transfer) WaitWhilePaused() (cancelled bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for t.paused && !t.cancelled {
		t.pauseCond.Wait()
	}
	return t.cancelled
}
