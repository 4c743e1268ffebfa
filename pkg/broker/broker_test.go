package broker

import (
	"context"
	"crypto/rand"
	"fmt"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onlitec/remotebroker/pkg/config"
)

func testConfig(t *testing.T, port int) *config.Config {
	t.Helper()
	cfg := config.GetDefaultConfig()

	cfg.Server.Port = port
	cfg.Server.Host = "127.0.0.1"
	cfg.Transfer.TempDir = t.TempDir()
	cfg.Security.QuarantineDir = t.TempDir()
	cfg.RemoteAccess.AuditLogDir = t.TempDir()
	cfg.Metrics.Enabled = false
	cfg.Audit.SQLMirrorEnabled = false

	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	cfg.Security.EncryptionKey = key

	return cfg
}

func TestBroker_Lifecycle(t *testing.T) {
	cfg := testConfig(t, 18743)

	b, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())

	errCh := make(chan error, 1)
	go func() { errCh <- b.Start(ctx) }()

	time.Sleep(150 * time.Millisecond)

	resp, err := http.Get(fmt.Sprintf("http://127.0.0.1:%d/health", cfg.Server.Port))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	require.NoError(t, <-errCh)
}

func TestBroker_StopIsIdempotent(t *testing.T) {
	cfg := testConfig(t, 18744)

	b, err := New(context.Background(), cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, b.Stop(ctx))
	require.NoError(t, b.Stop(ctx))
}
