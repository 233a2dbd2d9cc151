// Package main implements the syspulse binary: the monitoring daemon, a
// live terminal dashboard and log inspection.
//
// Usage:
//
//	# Start sampling, telemetry export and the HTTP API
//	syspulse run
//
//	# Watch the local host, or a running daemon
//	syspulse monitor
//	syspulse monitor --url http://localhost:9464
//
//	# Show the newest log records
//	syspulse logs --count 20
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/pulse"
	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

const shutdownTimeout = 15 * time.Second

var (
	// configPath overrides ~/.config/syspulse/config.yaml
	configPath string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "syspulse",
	Short: "System metrics sampler with OpenTelemetry export",
	Long: `syspulse samples CPU and memory usage, records structured logs, and
exports traces and metrics to an OpenTelemetry collector.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: false,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default ~/.config/syspulse/config.yaml)")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(monitorCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(versionCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "syspulse %s\n", version)
		fmt.Fprintf(out, "  commit: %s\n", gitCommit)
		fmt.Fprintf(out, "  built:  %s\n", buildDate)
	},
}

// loadConfig loads configuration from the --config file and environment.
func loadConfig() (*pulse.Config, error) {
	cfg, err := pulse.LoadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// contextWithShutdownTimeout returns a context for shutdown that survives
// cancellation of the command context.
func contextWithShutdownTimeout(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(cmd.Context()), shutdownTimeout)
}
