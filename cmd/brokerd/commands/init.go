package commands

import (
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/onlitec/remotebroker/internal/cli/prompt"
	"github.com/onlitec/remotebroker/pkg/config"
)

var (
	initForce      bool
	initInteractive bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Generate a config file and encryption key",
	Long: `Generates a default configuration file plus a random 32-byte
encryption key, so a first run requires no manual key generation.

By default this writes non-interactively to $XDG_CONFIG_HOME/remotebroker.
Use --interactive to be walked through the server, transfer and
remote-access settings instead.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "overwrite an existing config file")
	initCmd.Flags().BoolVarP(&initInteractive, "interactive", "i", false, "walk through configuration interactively")
}

func runInit(cmd *cobra.Command, args []string) error {
	configPath := GetConfigFile()
	if configPath == "" {
		configPath = config.GetDefaultConfigPath()
	}

	if _, err := os.Stat(configPath); err == nil && !initForce {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", configPath)
	}

	cfg := config.GetDefaultConfig()
	if initInteractive {
		if err := runInitWizard(cfg); err != nil {
			return err
		}
	}

	keyPath, err := writeGeneratedKey(configPath)
	if err != nil {
		return fmt.Errorf("generate encryption key: %w", err)
	}
	cfg.Security.EncryptionKeyFile = keyPath

	if err := config.SaveConfig(cfg, configPath); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	fmt.Printf("Configuration written to %s\n", configPath)
	fmt.Printf("Encryption key written to %s\n", keyPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Review and adjust the generated config")
	fmt.Printf("  2. Start the broker: brokerd start --config %s\n", configPath)
	return nil
}

func runInitWizard(cfg *config.Config) error {
	host, err := prompt.Input("Bind host", cfg.Server.Host)
	if err != nil {
		return err
	}
	cfg.Server.Host = host

	port, err := prompt.InputPort("Bind port", cfg.Server.Port)
	if err != nil {
		return err
	}
	cfg.Server.Port = port

	tempDir, err := prompt.Input("Transfer temp directory", cfg.Transfer.TempDir)
	if err != nil {
		return err
	}
	cfg.Transfer.TempDir = tempDir

	quarantineDir, err := prompt.Input("Quarantine directory", cfg.Security.QuarantineDir)
	if err != nil {
		return err
	}
	cfg.Security.QuarantineDir = quarantineDir

	maxSessions, err := prompt.InputInt("Max concurrent sessions", cfg.RemoteAccess.MaxConcurrentSessions)
	if err != nil {
		return err
	}
	cfg.RemoteAccess.MaxConcurrentSessions = maxSessions

	scan, err := prompt.Confirm("Scan uploaded files for malware", cfg.Security.ScanForMalware)
	if err != nil {
		return err
	}
	cfg.Security.ScanForMalware = scan

	return nil
}

// writeGeneratedKey writes a fresh random 32-byte AES-256-GCM key next
// to the config file, since Load refuses to start without one (see
// DESIGN.md, Open Question 2).
func writeGeneratedKey(configPath string) (string, error) {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", err
	}
	keyPath := filepath.Join(dir, "encryption.key")

	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	if err := os.WriteFile(keyPath, key, 0o600); err != nil {
		return "", err
	}
	return keyPath, nil
}
