package audit

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func waitForEventCount(t *testing.T, dir string, want int) []Event {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		entries, _ := os.ReadDir(dir)
		var total int
		var all []Event
		for _, e := range entries {
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			require.NoError(t, err)
			for _, line := range splitNonEmptyLines(string(data)) {
				var ev Event
				require.NoError(t, json.Unmarshal([]byte(line), &ev))
				all = append(all, ev)
				total++
			}
		}
		if total >= want {
			return all
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d audit events in %s", want, dir)
	return nil
}

func splitNonEmptyLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}

func TestLog_WriteAndReadBack(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 90, nil)
	require.NoError(t, err)
	defer l.Close()

	l.Log(Event{Type: EventTransferRequested, TransferID: "xfer-1", Filename: "notes.txt"})

	events := waitForEventCount(t, dir, 1)
	require.Len(t, events, 1)
	assert.Equal(t, EventTransferRequested, events[0].Type)
	assert.Equal(t, SeverityLow, events[0].Severity)
}

func TestLog_AutoSeverity(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 90, nil)
	require.NoError(t, err)
	defer l.Close()

	l.Log(Event{Type: EventSecurityViolation, TransferID: "xfer-2"})

	events := waitForEventCount(t, dir, 1)
	assert.Equal(t, SeverityHigh, events[0].Severity)
}

func TestLog_QueueFullDropsWithoutBlocking(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 90, nil)
	require.NoError(t, err)
	defer l.Close()

	// Stop the drain goroutine's effect by cancelling immediately and
	// flooding past queueDepth; Log must never block regardless.
	done := make(chan struct{})
	go func() {
		for i := 0; i < queueDepth*2; i++ {
			l.Log(Event{Type: EventTransferCompleted, TransferID: "flood"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Log blocked under a full queue")
	}
}

type fakeMirror struct {
	inserted []Event
}

func (f *fakeMirror) Insert(_ context.Context, e Event) error {
	f.inserted = append(f.inserted, e)
	return nil
}

func TestLog_MirrorsOnlyMediumAndHigh(t *testing.T) {
	dir := t.TempDir()
	mirror := &fakeMirror{}
	l, err := New(dir, 90, mirror)
	require.NoError(t, err)
	defer l.Close()

	l.Log(Event{Type: EventTransferRequested}) // low, not mirrored
	l.Log(Event{Type: EventSecurityViolation}) // high, mirrored

	waitForEventCount(t, dir, 2)
	time.Sleep(50 * time.Millisecond)

	require.Len(t, mirror.inserted, 1)
	assert.Equal(t, EventSecurityViolation, mirror.inserted[0].Type)
}

func TestLog_CleanupRemovesExpiredFiles(t *testing.T) {
	dir := t.TempDir()
	l, err := New(dir, 1, nil)
	require.NoError(t, err)
	defer l.Close()

	stalePath := filepath.Join(dir, "audit-20200101.jsonl")
	require.NoError(t, os.WriteFile(stalePath, []byte(`{"type":"old"}`+"\n"), 0o640))
	require.NoError(t, os.Chtimes(stalePath, time.Now().AddDate(0, 0, -10), time.Now().AddDate(0, 0, -10)))

	require.NoError(t, l.Cleanup())

	_, err = os.Stat(stalePath)
	assert.True(t, os.IsNotExist(err))
}
