package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/onlitec/remotebroker/internal/logger"
)

// queueDepth bounds the event channel. A full queue means Log drops the
// event and reports it to stderr instead of blocking the caller — the
// audit log must never slow down a transfer or session operation.
const queueDepth = 1024

// defaultMaxFileSize is used when New is called with rotateSize <= 0
// (spec §4.1's RotateSize default).
const defaultMaxFileSize = 100 * 1024 * 1024

// Log is the append-only JSON-lines audit sink (spec §4.1, C1). Log
// owns a single background goroutine that drains the event channel and
// is the only writer to the active file, so no write-side locking is
// needed beyond the channel itself.
type Log struct {
	dir           string
	retentionDays int

	maxFileSize int64

	mu          sync.Mutex // guards file, currentSize, rotation
	file        *os.File
	currentSize int64

	events chan Event

	mirror Mirror

	wg     sync.WaitGroup
	cancel context.CancelFunc

	disabled bool // set true if the directory becomes unwritable
}

// Mirror is implemented by pkg/audit/sqlstore; nil means no SQL mirror
// is configured. Mirroring is best-effort: a Mirror error is logged and
// otherwise ignored, never surfaced to the caller of Log.
type Mirror interface {
	Insert(ctx context.Context, e Event) error
}

// New opens (creating if needed) the audit directory and starts the
// background writer. Call Close to flush and stop it. rotateSize is the
// file size in bytes that triggers rotation; <= 0 falls back to
// defaultMaxFileSize.
func New(dir string, retentionDays int, mirror Mirror, rotateSize int64) (*Log, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}

	if rotateSize <= 0 {
		rotateSize = defaultMaxFileSize
	}

	l := &Log{
		dir:           dir,
		retentionDays: retentionDays,
		events:        make(chan Event, queueDepth),
		mirror:        mirror,
		maxFileSize:   rotateSize,
	}

	if err := l.openCurrentFile(); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	l.cancel = cancel
	l.wg.Add(1)
	go l.run(ctx)

	return l, nil
}

func (l *Log) currentFilePath() string {
	return filepath.Join(l.dir, fmt.Sprintf("audit-%s.jsonl", time.Now().UTC().Format("20060102")))
}

func (l *Log) openCurrentFile() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		l.file.Close()
	}

	path := l.currentFilePath()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open audit file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat audit file: %w", err)
	}

	l.file = f
	l.currentSize = info.Size()
	l.disabled = false
	return nil
}

// Log enqueues e for writing. It never blocks: if the queue is full the
// event is dropped and reported to stderr (spec §7, "I/O errors on the
// audit log disable logging, not the flow").
func (l *Log) Log(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	if e.Severity == "" {
		e.Severity = defaultSeverity(e.Type)
	}

	select {
	case l.events <- e:
	default:
		fmt.Fprintf(os.Stderr, "audit: queue full, dropping event %s (session=%s transfer=%s)\n", e.Type, e.SessionID, e.TransferID)
	}
}

func (l *Log) run(ctx context.Context) {
	defer l.wg.Done()
	for {
		select {
		case e := <-l.events:
			l.write(e)
		case <-ctx.Done():
			// Drain whatever is already queued before exiting.
			for {
				select {
				case e := <-l.events:
					l.write(e)
				default:
					return
				}
			}
		}
	}
}

func (l *Log) write(e Event) {
	l.mu.Lock()
	if l.disabled {
		l.mu.Unlock()
		return
	}

	line, err := json.Marshal(e)
	if err != nil {
		l.mu.Unlock()
		logger.Error("audit: failed to marshal event", logger.EventType(string(e.Type)), logger.Err(err))
		return
	}
	line = append(line, '\n')

	if l.currentSize+int64(len(line)) > l.maxFileSize {
		l.mu.Unlock()
		if err := l.openCurrentFile(); err != nil {
			l.mu.Lock()
			l.disabled = true
			l.mu.Unlock()
			logger.Error("audit: disabling log, failed to rotate", logger.Err(err))
			return
		}
		l.mu.Lock()
	}

	n, err := l.file.Write(line)
	if err != nil {
		l.disabled = true
		l.mu.Unlock()
		logger.Error("audit: disabling log, write failed", logger.Err(err))
		return
	}
	l.currentSize += int64(n)

	if e.Severity == SeverityMedium || e.Severity == SeverityHigh {
		if err := l.file.Sync(); err != nil {
			logger.Warn("audit: fsync failed for medium/high severity event", logger.EventType(string(e.Type)), logger.Err(err))
		}
	}
	l.mu.Unlock()

	if l.mirror != nil && (e.Severity == SeverityMedium || e.Severity == SeverityHigh) {
		if err := l.mirror.Insert(context.Background(), e); err != nil {
			logger.Warn("audit: sql mirror insert failed", logger.EventType(string(e.Type)), logger.Err(err))
		}
	}
}

// Rotate forces a rotation to a fresh file regardless of size, mainly
// useful around a date boundary or for operator-triggered log rolling.
func (l *Log) Rotate() error {
	return l.openCurrentFile()
}

// Cleanup deletes audit files older than retentionDays. Call
// periodically (see pkg/broker's sweeper).
func (l *Log) Cleanup() error {
	if l.retentionDays <= 0 {
		return nil
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -l.retentionDays)

	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return fmt.Errorf("read audit dir: %w", err)
	}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), "audit-") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(l.dir, entry.Name())); err != nil {
				logger.Warn("audit: failed to remove expired log file", "file", entry.Name(), logger.Err(err))
			}
		}
	}
	return nil
}

// Tail returns the most recent events across on-disk log files, newest
// last, up to limit. Used by the CLI's `brokerd audit tail` command.
func (l *Log) Tail(limit int) ([]Event, error) {
	entries, err := os.ReadDir(l.dir)
	if err != nil {
		return nil, fmt.Errorf("read audit dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "audit-") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	var out []Event
	for i := len(files) - 1; i >= 0 && len(out) < limit; i-- {
		data, err := os.ReadFile(filepath.Join(l.dir, files[i]))
		if err != nil {
			continue
		}
		lines := strings.Split(strings.TrimSpace(string(data)), "\n")
		for j := len(lines) - 1; j >= 0 && len(out) < limit; j-- {
			if lines[j] == "" {
				continue
			}
			var e Event
			if err := json.Unmarshal([]byte(lines[j]), &e); err == nil {
				out = append(out, e)
			}
		}
	}
	// out was assembled newest-first per file; reverse to oldest-first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// Close stops the background writer, flushing any queued events, and
// closes the current file.
func (l *Log) Close() error {
	l.cancel()
	l.wg.Wait()

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}
