// Package broker is the composition root: it wires the audit log,
// file validator/cryptor, storage backend, transfer engine, session
// manager and message router into one running process, and owns the
// HTTP/websocket front that accepts technician and client connections.
package broker

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sync"
	"time"

	"golang.org/x/crypto/hkdf"

	"github.com/onlitec/remotebroker/internal/logger"
	"github.com/onlitec/remotebroker/internal/telemetry"
	"github.com/onlitec/remotebroker/pkg/audit"
	"github.com/onlitec/remotebroker/pkg/audit/sqlstore"
	"github.com/onlitec/remotebroker/pkg/config"
	"github.com/onlitec/remotebroker/pkg/metrics"
	"github.com/onlitec/remotebroker/pkg/router"
	"github.com/onlitec/remotebroker/pkg/security"
	"github.com/onlitec/remotebroker/pkg/session"
	"github.com/onlitec/remotebroker/pkg/session/privtoken"
	"github.com/onlitec/remotebroker/pkg/storage"
	"github.com/onlitec/remotebroker/pkg/transfer"
)

// Version is the broker's build version, overridden via -ldflags at
// build time by cmd/brokerd; it is reported in traces and the version
// command.
var Version = "dev"

// privilegeTokenInfo is the HKDF context label deriving the privilege
// token signing key from the configured encryption key, so the two
// keys are cryptographically independent even though the operator only
// manages one secret.
const privilegeTokenInfo = "remotebroker/privilege-token/v1"

// Broker owns every long-lived component and the HTTP server fronting
// them. Build one with New, then Start(ctx) and wait for it to return.
type Broker struct {
	cfg *config.Config

	auditor *audit.Log
	mirror  *sqlstore.Store

	backend   storage.Backend
	validator *security.Validator
	cryptor   *security.Cryptor

	transfers *transfer.Manager
	sessions  *session.Manager
	sweeper   *session.Sweeper
	router    *router.Router

	telemetryShutdown func(context.Context) error
	profilingShutdown func() error

	httpSrv    *httpServer
	metricsSrv *httpServer

	stopOnce sync.Once
}

// New constructs every component in dependency order but starts
// nothing; call Start to begin serving.
func New(ctx context.Context, cfg *config.Config) (*Broker, error) {
	b := &Broker{cfg: cfg}

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    "remotebroker",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return nil, fmt.Errorf("broker: init telemetry: %w", err)
	}
	b.telemetryShutdown = telemetryShutdown

	profilingShutdown, err := telemetry.InitProfiling(telemetry.ProfilingConfig{
		Enabled:        cfg.Telemetry.Profiling.Enabled,
		ServiceName:    "remotebroker",
		ServiceVersion: Version,
		Endpoint:       cfg.Telemetry.Profiling.Endpoint,
		ProfileTypes:   cfg.Telemetry.Profiling.ProfileTypes,
	})
	if err != nil {
		_ = telemetryShutdown(ctx)
		return nil, fmt.Errorf("broker: init profiling: %w", err)
	}
	b.profilingShutdown = profilingShutdown

	if err := b.buildMetrics(); err != nil {
		return nil, err
	}
	if err := b.buildAudit(); err != nil {
		return nil, err
	}
	if err := b.buildSecurity(); err != nil {
		return nil, err
	}
	if err := b.buildStorage(ctx); err != nil {
		return nil, err
	}
	if err := b.buildEngines(cfg); err != nil {
		return nil, err
	}
	b.buildServers()

	return b, nil
}

func (b *Broker) buildMetrics() error {
	if !b.cfg.Metrics.Enabled {
		return nil
	}
	metrics.Init()
	return nil
}

func (b *Broker) buildAudit() error {
	if b.cfg.Audit.SQLMirrorEnabled {
		mirror, err := sqlstore.Open(sqlstore.Config{
			Driver: sqlstore.Driver(b.cfg.Audit.Driver),
			DSN:    b.cfg.Audit.DSN,
		})
		if err != nil {
			return fmt.Errorf("broker: open audit mirror: %w", err)
		}
		b.mirror = mirror
	}

	var mirror audit.Mirror
	if b.mirror != nil {
		mirror = b.mirror
	}
	auditor, err := audit.New(b.cfg.RemoteAccess.AuditLogDir, b.cfg.RemoteAccess.AuditRetentionDays, mirror, b.cfg.Audit.RotateSize)
	if err != nil {
		return fmt.Errorf("broker: open audit log: %w", err)
	}
	b.auditor = auditor
	return nil
}

func (b *Broker) buildSecurity() error {
	var scanner security.Scanner
	validator, err := security.NewValidator(security.Config{
		MaxFilenameLength: b.cfg.Security.MaxFilenameLength,
		BlockedExtensions: b.cfg.Security.BlockedExtensions,
		AllowedMimeTypes:  b.cfg.Security.AllowedMimeTypes,
		RequireChecksum:   b.cfg.Security.RequireChecksum,
		ScanForMalware:    b.cfg.Security.ScanForMalware,
		QuarantineDir:     b.cfg.Security.QuarantineDir,
		EncryptionKey:     b.cfg.Security.EncryptionKey,
	}, scanner, b.auditor)
	if err != nil {
		return fmt.Errorf("broker: build validator: %w", err)
	}
	b.validator = validator

	if b.cfg.Transfer.EncryptFiles {
		cryptor, err := security.NewCryptor(b.cfg.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("broker: build cryptor: %w", err)
		}
		b.cryptor = cryptor
	}
	return nil
}

func (b *Broker) buildStorage(ctx context.Context) error {
	switch b.cfg.Storage.Backend {
	case "s3":
		backend, err := storage.NewS3Backend(ctx, b.cfg.Storage.S3.Bucket, b.cfg.Storage.S3.Region, b.cfg.Storage.S3.Prefix)
		if err != nil {
			return fmt.Errorf("broker: build s3 storage backend: %w", err)
		}
		b.backend = backend
	default:
		backend, err := storage.NewLocalBackend(b.cfg.Transfer.TempDir)
		if err != nil {
			return fmt.Errorf("broker: build local storage backend: %w", err)
		}
		b.backend = backend
	}
	return nil
}

func (b *Broker) buildEngines(cfg *config.Config) error {
	snapshot := config.NewTransferSnapshot(cfg.Transfer)

	b.transfers = transfer.NewManager(snapshot, b.backend, b.validator, b.cryptor, b.auditor)

	issuer, err := b.privilegeIssuer()
	if err != nil {
		return err
	}
	b.sessions = session.NewManager(cfg.RemoteAccess, b.auditor, issuer)

	b.router = router.New(b.sessions, b.transfers, b.auditor, cfg.RemoteAccess.WebsocketReadTimeout, cfg.RemoteAccess.WebsocketWriteTimeout)

	b.sweeper = session.NewSweeper(
		b.sessions,
		b.auditor,
		cfg.RemoteAccess.SessionTimeout,
		cfg.RemoteAccess.IdleTimeout,
		sweepInterval,
		cfg.Transfer.TempDir,
		b.transfers,
	)

	if metrics.IsEnabled() {
		b.transfers.SetMetrics(metrics.NewTransferMetrics())
		b.sessions.SetMetrics(metrics.NewSessionMetrics())
		b.router.SetMetrics(metrics.NewRouterMetrics())
	}
	return nil
}

// sweepInterval is how often the sweeper walks sessions for expiry and
// reaping (spec §4.4.3 doesn't pin a number; one tenth of the default
// idle timeout keeps reaping timely without busy-looping).
const sweepInterval = 30 * time.Second

// privilegeIssuer derives the privilege-token signing key from the
// configured encryption key via HKDF, so the two purposes never share
// key material directly even though the operator supplies one secret.
func (b *Broker) privilegeIssuer() (*privtoken.Issuer, error) {
	kdf := hkdf.New(sha256.New, b.cfg.Security.EncryptionKey, nil, []byte(privilegeTokenInfo))
	key := make([]byte, 32)
	if _, err := kdf.Read(key); err != nil {
		return nil, fmt.Errorf("broker: derive privilege token key: %w", err)
	}
	return privtoken.NewIssuer(key), nil
}

func (b *Broker) buildServers() {
	b.httpSrv = newHTTPServer(b.cfg.Server, b.wsHandler())
	if b.cfg.Metrics.Enabled {
		b.metricsSrv = newMetricsServer(b.cfg.Metrics.Port)
	}
}

// Start runs the broker until ctx is cancelled or a component fails,
// then shuts everything down and returns.
func (b *Broker) Start(ctx context.Context) error {
	b.sweeper.Start()

	errCh := make(chan error, 2)
	go func() { errCh <- b.httpSrv.Start(ctx) }()
	if b.metricsSrv != nil {
		go func() { errCh <- b.metricsSrv.Start(ctx) }()
	}

	logger.Info("broker started", "addr", fmt.Sprintf("%s:%d", b.cfg.Server.Host, b.cfg.Server.Port))

	select {
	case <-ctx.Done():
		return b.Stop(context.Background())
	case err := <-errCh:
		stopErr := b.Stop(context.Background())
		if err != nil {
			return err
		}
		return stopErr
	}
}

// Stop gracefully shuts down the HTTP front, the sweeper and every
// background writer. Safe to call once; concurrent/repeat calls after
// the first are no-ops.
func (b *Broker) Stop(ctx context.Context) error {
	var stopErr error
	b.stopOnce.Do(func() {
		shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		if err := b.httpSrv.Stop(shutdownCtx); err != nil {
			stopErr = err
		}
		if b.metricsSrv != nil {
			if err := b.metricsSrv.Stop(shutdownCtx); err != nil && stopErr == nil {
				stopErr = err
			}
		}
		b.sweeper.Stop()

		if err := b.auditor.Close(); err != nil && stopErr == nil {
			stopErr = fmt.Errorf("close audit log: %w", err)
		}
		if b.mirror != nil {
			if err := b.mirror.Close(); err != nil && stopErr == nil {
				stopErr = fmt.Errorf("close audit mirror: %w", err)
			}
		}
		if err := b.profilingShutdown(); err != nil && stopErr == nil {
			stopErr = fmt.Errorf("shutdown profiling: %w", err)
		}
		if err := b.telemetryShutdown(ctx); err != nil && stopErr == nil {
			stopErr = fmt.Errorf("shutdown telemetry: %w", err)
		}
		logger.Info("broker stopped")
	})
	return stopErr
}
