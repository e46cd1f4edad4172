package commands

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marmos91/gridstore/internal/logger"
	"github.com/marmos91/gridstore/pkg/config"
	"github.com/marmos91/gridstore/pkg/scheduler"

	// Register the storage registry extension factory so clients can
	// install it remotely.
	_ "github.com/marmos91/gridstore/pkg/diststorage"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the scheduler",
	Long: `Start the scheduler in the foreground.

Use --config to specify a custom configuration file, or it will use the
default location at $XDG_CONFIG_HOME/gridstore/config.yaml.

Examples:
  # Start with default config location
  gridscheduler serve

  # Start with custom config file
  gridscheduler serve --config /etc/gridstore/config.yaml

  # Start with environment variable overrides
  GRIDSTORE_LOGGING_LEVEL=DEBUG gridscheduler serve`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configFile)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.LoggerConfig()); err != nil {
		return err
	}

	logger.Info("starting gridscheduler", "version", version, "port", cfg.Scheduler.Port)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched := scheduler.New(cfg.Scheduler)
	return sched.Start(ctx)
}
