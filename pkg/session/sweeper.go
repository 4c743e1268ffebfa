package session

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/onlitec/remotebroker/internal/logger"
	"github.com/onlitec/remotebroker/pkg/audit"
)

// terminalGracePeriod is how long a terminated/expired session is kept
// in the registry before the sweeper removes it (spec §4.4.3).
const terminalGracePeriod = time.Hour

// TempFileLister reports the on-disk names the transfer engine still
// considers live, so the sweeper doesn't delete a temp file belonging
// to an in-progress transfer whose session has gone idle.
type TempFileLister interface {
	LiveTempFiles() map[string]bool
}

// Sweeper periodically walks the Manager's sessions, expiring stale
// ones, expiring privileges and reaping terminal sessions plus dangling
// temp files (spec §4.4.3). Grounded on the background-sweeper shape
// used elsewhere in the broker for the audit writer and cache flusher:
// a context.WithCancel goroutine woken by a ticker.
type Sweeper struct {
	manager        *Manager
	auditor        *audit.Log
	sessionTimeout time.Duration
	idleTimeout    time.Duration
	interval       time.Duration
	tempDir        string
	liveTempFiles  TempFileLister

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewSweeper builds a Sweeper. liveTempFiles may be nil, in which case
// temp file cleanup is skipped (used when no transfer engine is wired,
// e.g. in session-only tests).
func NewSweeper(manager *Manager, auditor *audit.Log, sessionTimeout, idleTimeout, interval time.Duration, tempDir string, liveTempFiles TempFileLister) *Sweeper {
	return &Sweeper{
		manager:        manager,
		auditor:        auditor,
		sessionTimeout: sessionTimeout,
		idleTimeout:    idleTimeout,
		interval:       interval,
		tempDir:        tempDir,
		liveTempFiles:  liveTempFiles,
	}
}

// Start runs the sweep loop in a background goroutine.
func (sw *Sweeper) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	sw.cancel = cancel
	sw.wg.Add(1)
	go sw.run(ctx)
}

// Stop cancels the sweep loop and waits for it to exit.
func (sw *Sweeper) Stop() {
	if sw.cancel != nil {
		sw.cancel()
	}
	sw.wg.Wait()
}

func (sw *Sweeper) run(ctx context.Context) {
	defer sw.wg.Done()
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			sw.sweep()
		case <-ctx.Done():
			return
		}
	}
}

func (sw *Sweeper) sweep() {
	now := time.Now()

	for _, s := range sw.manager.Snapshot() {
		sw.expireSessionIfStale(s, now)
		sw.expirePrivileges(s, now)
	}
	sw.reapTerminalSessions(now)
	if sw.tempDir != "" {
		sw.reapDanglingTempFiles(now)
	}
}

func (sw *Sweeper) expireSessionIfStale(s *Session, now time.Time) {
	s.mu.Lock()
	if s.Status.terminal() {
		s.mu.Unlock()
		return
	}
	expired := now.After(s.StartTime.Add(sw.sessionTimeout)) || now.After(s.LastActivity.Add(sw.idleTimeout))
	if !expired {
		s.mu.Unlock()
		return
	}
	s.Status = StatusExpired
	s.TerminatedAt = now
	client, tech := s.clientConn, s.technicianConn
	s.clientConn, s.technicianConn = nil, nil
	s.mu.Unlock()

	if client != nil {
		client.Close()
	}
	if tech != nil {
		tech.Close()
	}
	if sw.auditor != nil {
		sw.auditor.Log(audit.Event{Type: audit.EventSessionExpired, SessionID: s.ID})
	}
}

func (sw *Sweeper) expirePrivileges(s *Session, now time.Time) {
	s.mu.Lock()
	var expiredTypes []string
	for privType, p := range s.activePrivileges {
		if now.After(p.ExpiresAt) {
			expiredTypes = append(expiredTypes, privType)
		}
	}
	for _, t := range expiredTypes {
		delete(s.activePrivileges, t)
	}
	s.mu.Unlock()

	if sw.auditor == nil {
		return
	}
	for _, t := range expiredTypes {
		sw.auditor.Log(audit.Event{Type: audit.EventPrivilegeExpired, SessionID: s.ID, Message: t})
	}
}

func (sw *Sweeper) reapTerminalSessions(now time.Time) {
	for _, s := range sw.manager.Snapshot() {
		s.mu.RLock()
		terminal := s.Status.terminal()
		terminatedAt := s.TerminatedAt
		s.mu.RUnlock()

		if terminal && !terminatedAt.IsZero() && now.After(terminatedAt.Add(terminalGracePeriod)) {
			sw.manager.Remove(s.ID)
		}
	}
}

func (sw *Sweeper) reapDanglingTempFiles(now time.Time) {
	var live map[string]bool
	if sw.liveTempFiles != nil {
		live = sw.liveTempFiles.LiveTempFiles()
	}

	entries, err := os.ReadDir(sw.tempDir)
	if err != nil {
		logger.Warn("session: sweeper failed to list temp dir", logger.Err(err))
		return
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "transfer_") {
			continue
		}
		if live[entry.Name()] {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if now.Sub(info.ModTime()) < terminalGracePeriod {
			continue
		}
		path := filepath.Join(sw.tempDir, entry.Name())
		if err := os.Remove(path); err != nil {
			logger.Warn("session: sweeper failed to remove dangling temp file", "path", path, logger.Err(err))
		}
	}
}
