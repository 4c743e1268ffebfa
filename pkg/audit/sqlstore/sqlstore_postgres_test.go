//go:build integration

package sqlstore

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/onlitec/remotebroker/pkg/audit"
)

// TestStore_Postgres exercises the mirror against a real PostgreSQL
// instance rather than sqlite, so the gorm.Open(postgres.Open(...))
// path and its dialect-specific migration are actually verified.
func TestStore_Postgres(t *testing.T) {
	ctx := context.Background()

	container, err := postgres.Run(ctx,
		"postgres:16-alpine",
		postgres.WithDatabase("broker_audit"),
		postgres.WithUsername("broker_audit"),
		postgres.WithPassword("broker_audit"),
		testcontainers.WithWaitStrategyAndDeadline(2*time.Minute,
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2),
			wait.ForListeningPort("5432/tcp"),
		),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	require.NoError(t, err)
	port, err := container.MappedPort(ctx, "5432")
	require.NoError(t, err)

	dsn := fmt.Sprintf("postgres://broker_audit:broker_audit@%s:%s/broker_audit?sslmode=disable", host, port.Port())

	store, err := Open(Config{Driver: DriverPostgres, DSN: dsn})
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.Insert(ctx, audit.Event{
		Timestamp:  time.Now(),
		Type:       audit.EventPrivilegeApproved,
		Severity:   audit.SeverityHigh,
		SessionID:  "sess-pg-1",
		Technician: "tech-pg",
	}))

	results, err := store.List(ctx, Query{SessionID: "sess-pg-1"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	require.Equal(t, string(audit.EventPrivilegeApproved), results[0].Type)
}
