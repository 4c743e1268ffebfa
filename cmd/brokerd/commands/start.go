package commands

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/onlitec/remotebroker/internal/logger"
	"github.com/onlitec/remotebroker/pkg/broker"
	"github.com/onlitec/remotebroker/pkg/config"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the broker",
	Long: `Starts the broker in the foreground: loads configuration, wires
the audit log, validator, storage backend, session manager, transfer
engine and message router, then serves technician/client websocket
connections until interrupted.

Examples:
  brokerd start
  brokerd start --config /etc/remotebroker/config.yaml
  BROKER_LOGGING_LEVEL=DEBUG brokerd start`,
	RunE: runStart,
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(GetConfigFile())
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := broker.New(ctx, cfg)
	if err != nil {
		return fmt.Errorf("build broker: %w", err)
	}

	logger.Info("configuration loaded", "source", configSource(GetConfigFile()))

	serverDone := make(chan error, 1)
	go func() { serverDone <- b.Start(ctx) }()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("broker is running, press Ctrl+C to stop")

	select {
	case sig := <-sigChan:
		signal.Stop(sigChan)
		logger.Info("shutdown signal received", "signal", sig.String())
		cancel()
		return <-serverDone
	case err := <-serverDone:
		return err
	}
}

func configSource(path string) string {
	if path != "" {
		return path
	}
	return "defaults + environment"
}
