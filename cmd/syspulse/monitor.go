package main

import (
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/fyrsmithlabs/syspulse/internal/monitor"
	"github.com/fyrsmithlabs/syspulse/internal/pulse"
	"github.com/spf13/cobra"
)

const defaultMonitorInterval = time.Second

var (
	monitorURL      string
	monitorInterval time.Duration
)

var monitorCmd = &cobra.Command{
	Use:   "monitor",
	Short: "Show a live CPU and memory dashboard",
	Long: `Monitor shows live CPU and memory usage in the terminal.

Without --url it samples the local host in-process. With --url it polls a
running syspulse daemon.

Examples:
  # Local host
  syspulse monitor

  # A running daemon
  syspulse monitor --url http://localhost:9464 --interval 2s`,
	RunE: runMonitor,
}

func init() {
	monitorCmd.Flags().StringVar(&monitorURL, "url", "", "syspulse server URL to poll instead of sampling locally")
	monitorCmd.Flags().DurationVar(&monitorInterval, "interval", defaultMonitorInterval, "poll interval with --url")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if monitorURL != "" {
		if monitorInterval <= 0 {
			return errors.New("--interval must be positive")
		}
		model := monitor.NewRemoteModel(monitor.NewClient(monitorURL), monitorInterval, cfg.Stats.HighMemoryPercent)
		_, err := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()
		return ignoreKilled(err)
	}

	// The dashboard owns the terminal
	cfg.Logging.Output.Stdout = false
	if !cfg.Logging.Output.File && !cfg.Logging.Output.ErrorFile && !cfg.Logging.Output.OTEL {
		cfg.Logging.Output.File = true
	}
	cfg.Server.Enabled = false

	app, err := pulse.New(ctx, cfg, version)
	if err != nil {
		return fmt.Errorf("failed to start sampler: %w", err)
	}
	samples, cancel := app.Subscribe()
	defer cancel()

	if err := app.Start(ctx); err != nil {
		return errors.Join(err, app.Shutdown(cmd.Context()))
	}

	model := monitor.NewLocalModel(samples, cfg.Stats.HighMemoryPercent)
	_, runErr := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx)).Run()

	shutdownCtx, cancelShutdown := contextWithShutdownTimeout(cmd)
	defer cancelShutdown()
	return errors.Join(ignoreKilled(runErr), app.Shutdown(shutdownCtx))
}

// ignoreKilled treats a program stopped by its context as a clean exit.
func ignoreKilled(err error) error {
	if errors.Is(err, tea.ErrProgramKilled) {
		return nil
	}
	return err
}
