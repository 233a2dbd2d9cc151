package main

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/fyrsmithlabs/syspulse/internal/config"
	"github.com/fyrsmithlabs/syspulse/internal/pulse"
	"github.com/spf13/cobra"
)

var (
	runNoHTTP bool
	runPort   int
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the syspulse daemon",
	Long: `Run samples system stats, persists them, exports telemetry and serves the
HTTP API until interrupted.

Examples:
  # Run with defaults
  syspulse run

  # Serve the API on another port
  syspulse run --port 9500

  # Debug logging through the environment
  LOG_LEVEL=debug syspulse run`,
	RunE: runDaemon,
}

func init() {
	runCmd.Flags().BoolVar(&runNoHTTP, "no-http", false, "disable the HTTP API")
	runCmd.Flags().IntVar(&runPort, "port", 0, "HTTP API port (overrides server.port)")
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if runNoHTTP {
		cfg.Server.Enabled = false
	}
	if runPort > 0 {
		cfg.Server.Port = runPort
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	opts := []pulse.Option{}
	if path, err := resolvedConfigPath(); err == nil {
		opts = append(opts, pulse.WithConfigPath(path))
	}

	app, err := pulse.New(ctx, cfg, version, opts...)
	if err != nil {
		return fmt.Errorf("failed to start syspulse: %w", err)
	}
	return app.Run(ctx)
}

// resolvedConfigPath returns the config file to watch.
func resolvedConfigPath() (string, error) {
	if configPath != "" {
		return configPath, nil
	}
	return config.DefaultPath()
}
