package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/onlitec/remotebroker/pkg/audit"
)

func TestStore_InsertAndList(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(Config{Driver: DriverSQLite, DSN: filepath.Join(dir, "audit.db")})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	require.NoError(t, store.Insert(ctx, audit.Event{
		Timestamp:  time.Now(),
		Type:       audit.EventTransferApproved,
		Severity:   audit.SeverityMedium,
		SessionID:  "sess-1",
		TransferID: "xfer-1",
		Technician: "tech-a",
	}))
	require.NoError(t, store.Insert(ctx, audit.Event{
		Timestamp:  time.Now(),
		Type:       audit.EventSecurityViolation,
		Severity:   audit.SeverityHigh,
		TransferID: "xfer-2",
	}))

	results, err := store.List(ctx, Query{TransferID: "xfer-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, string(audit.EventTransferApproved), results[0].Type)
}

func TestStore_ListRespectsLimit(t *testing.T) {
	dir := t.TempDir()
	store, err := Open(Config{Driver: DriverSQLite, DSN: filepath.Join(dir, "audit.db")})
	require.NoError(t, err)
	defer store.Close()

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, store.Insert(ctx, audit.Event{
			Timestamp: time.Now(),
			Type:      audit.EventTransferCompleted,
			Severity:  audit.SeverityMedium,
		}))
	}

	results, err := store.List(ctx, Query{Limit: 2})
	require.NoError(t, err)
	require.Len(t, results, 2)
}
