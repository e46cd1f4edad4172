// Package commands implements the gridscheduler CLI.
package commands

import (
	"github.com/spf13/cobra"
)

// Build-time variables injected via ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "gridscheduler",
	Short: "Cluster scheduler hosting shared optimization-study storage",
	Long: `gridscheduler runs the cluster scheduler process that hosts the
gridstore storage registry. Worker processes construct storage proxies
against it to share one logical study storage without opening their own
database connections.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "Path to config file (default: $XDG_CONFIG_HOME/gridstore/config.yaml)")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
}

// Execute runs the CLI.
func Execute() error {
	return rootCmd.Execute()
}
