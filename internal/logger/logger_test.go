package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureOutput() (*bytes.Buffer, func()) {
	buf := new(bytes.Buffer)

	mu.Lock()
	originalOutput, originalColor := output, useColor
	output, useColor = buf, false
	mu.Unlock()
	reconfigure()

	return buf, func() {
		mu.Lock()
		output, useColor = originalOutput, originalColor
		mu.Unlock()
		reconfigure()
	}
}

func TestLevelFiltering(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("WARN")
	Debug("debug message")
	Info("info message")
	Warn("warn message")

	out := buf.String()
	assert.NotContains(t, out, "debug message")
	assert.NotContains(t, out, "info message")
	assert.Contains(t, out, "warn message")
}

func TestJSONFormat(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	SetFormat("json")
	defer SetFormat("text")

	Info("transfer started", "transfer_id", "t-1")
	require.True(t, strings.Contains(buf.String(), `"transfer_id":"t-1"`))
}

func TestLogContext(t *testing.T) {
	lc := NewLogContext("10.0.0.1:5555")
	lc = lc.WithSession("sess-1").WithRole("client")

	require.Equal(t, "sess-1", lc.SessionID)
	require.Equal(t, "client", lc.Role)
	require.Equal(t, "10.0.0.1:5555", lc.PeerAddr)

	clone := lc.WithTransfer("xfer-1")
	require.Equal(t, "xfer-1", clone.TransferID)
	require.Empty(t, lc.TransferID, "original must not be mutated")
}

func TestErrAttrNilIsDropped(t *testing.T) {
	buf, cleanup := captureOutput()
	defer cleanup()

	SetLevel("INFO")
	Info("no error here", Err(nil))
	assert.NotContains(t, buf.String(), "error=")
}
