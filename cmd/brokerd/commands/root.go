// Package commands implements the brokerd CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var (
	// Version, Commit and Date are injected at build time via -ldflags.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:   "brokerd",
	Short: "Remote-support session and file-transfer broker",
	Long: `brokerd mediates remote-access sessions and bidirectional file
transfers between technician portals and end-user client agents: scoped
privilege elevation, chunked checksummed transfers and an append-only
audit trail.

Use "brokerd [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command. Called once from main.main.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $XDG_CONFIG_HOME/remotebroker/config.yaml)")

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(transferCmd)
}

// GetConfigFile returns the config file path from the global --config flag.
func GetConfigFile() string {
	return cfgFile
}
