// Package pulse assembles the syspulse components into a running
// application and owns their startup and shutdown order.
package pulse

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/config"
	api "github.com/fyrsmithlabs/syspulse/internal/http"
	"github.com/fyrsmithlabs/syspulse/internal/logging"
	"github.com/fyrsmithlabs/syspulse/internal/metrics"
	"github.com/fyrsmithlabs/syspulse/internal/schedule"
	"github.com/fyrsmithlabs/syspulse/internal/session"
	"github.com/fyrsmithlabs/syspulse/internal/stats"
	"github.com/fyrsmithlabs/syspulse/internal/store"
	"github.com/fyrsmithlabs/syspulse/internal/telemetry"
	"github.com/fyrsmithlabs/syspulse/internal/tracing"
	"go.opentelemetry.io/otel/log/global"
	"go.uber.org/zap"
)

// Built-in traced operations.
const (
	OpGetSystemStats   = "get-system-stats"
	OpTriggerTestError = "trigger-test-error"
)

// ErrorTypeTest labels app.errors.total for TriggerTestError.
const ErrorTypeTest = "test-error"

// Scheduled job names.
const (
	JobLogRetention = "log-retention"
	JobStorePrune   = "store-prune"
)

const (
	logRetentionSchedule = "@hourly"
	shutdownGrace        = 15 * time.Second
)

// ErrTestError is returned by TriggerTestError. It is counted in
// app.errors.total as type test-error.
var ErrTestError error = testError{}

type testError struct{}

func (testError) Error() string     { return "Intentional test error for observability validation" }
func (testError) ErrorType() string { return ErrorTypeTest }

// App is the composition root. It implements the http.Service operations.
type App struct {
	config     *Config
	configPath string
	session    *session.Context

	logger      *logging.Logger
	ownsLogger  bool
	telemetry   *telemetry.Lifecycle
	telOpts     []telemetry.Option
	registry    *metrics.Registry
	instruments *metrics.Instruments
	wrapper     *tracing.Wrapper
	store       *store.SQLiteStore
	provider    stats.Provider
	sampler     *stats.Sampler
	scheduler   *schedule.Scheduler
	server      *api.Server

	getStats  func(context.Context, struct{}) (stats.Sample, error)
	testError func(context.Context, struct{}) (struct{}, error)

	serveErr    chan error
	watchCancel context.CancelFunc
	watchDone   chan struct{}
	stopOnce    sync.Once
	stopErr     error
}

// Option configures an App.
type Option func(*App)

// WithConfigPath watches path and re-applies the runtime-tunable settings
// when it changes.
func WithConfigPath(path string) Option {
	return func(a *App) { a.configPath = path }
}

// WithLogger uses l instead of building a logger from config. The App
// syncs but does not close it.
func WithLogger(l *logging.Logger) Option {
	return func(a *App) { a.logger = l }
}

// WithProvider replaces the host stats provider.
func WithProvider(p stats.Provider) Option {
	return func(a *App) { a.provider = p }
}

// WithTelemetryOptions passes extra options to the telemetry lifecycle.
func WithTelemetryOptions(opts ...telemetry.Option) Option {
	return func(a *App) { a.telOpts = append(a.telOpts, opts...) }
}

// New builds every component and starts telemetry. Background work begins
// with Start.
func New(ctx context.Context, cfg *Config, version string, opts ...Option) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	a := &App{
		config:   cfg,
		session:  session.New(version),
		serveErr: make(chan error, 1),
	}
	for _, opt := range opts {
		opt(a)
	}

	if err := a.build(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.config
	logProvider := global.GetLoggerProvider()

	if a.logger == nil {
		logger, err := logging.NewLogger(cfg.Logging, a.session, logProvider)
		if err != nil {
			return fmt.Errorf("creating logger: %w", err)
		}
		a.logger = logger
		a.ownsLogger = true
	}

	lc, err := telemetry.New(cfg.Telemetry, append([]telemetry.Option{
		telemetry.WithLogger(a.logger.Named("telemetry")),
		telemetry.WithSession(a.session),
	}, a.telOpts...)...)
	if err != nil {
		return fmt.Errorf("creating telemetry: %w", err)
	}
	lc.SetLoggerProvider(logProvider)
	if err := lc.Start(ctx); err != nil {
		return fmt.Errorf("starting telemetry: %w", err)
	}
	a.telemetry = lc

	a.registry = metrics.NewRegistry(lc.Meter())
	if a.instruments, err = metrics.NewInstruments(a.registry); err != nil {
		return fmt.Errorf("creating instruments: %w", err)
	}
	a.wrapper = tracing.New(lc, a.instruments, tracing.WithLogger(a.logger.Named("tracing")))

	if a.store, err = store.Open(cfg.Store); err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	if a.provider == nil {
		a.provider = stats.NewHostProvider()
	}
	a.sampler, err = stats.New(cfg.Stats, a.provider,
		stats.WithSink(a.store),
		stats.WithInstruments(a.instruments),
		stats.WithLogger(a.logger.Named("stats")),
	)
	if err != nil {
		return fmt.Errorf("creating sampler: %w", err)
	}

	a.scheduler = schedule.New(a.logger)
	if err := a.scheduler.Add(JobLogRetention, logRetentionSchedule, a.sweepLogs); err != nil {
		return err
	}
	if err := a.scheduler.Add(JobStorePrune, cfg.Store.PruneSchedule, a.pruneStore); err != nil {
		return err
	}

	a.getStats = tracing.Wrap(a.wrapper, OpGetSystemStats, func(ctx context.Context, _ struct{}) (stats.Sample, error) {
		return a.sampler.Collect(ctx)
	})
	a.testError = tracing.Wrap(a.wrapper, OpTriggerTestError, a.triggerTestError)

	if cfg.Server.Enabled {
		srvOpts := []api.Option{
			api.WithSession(a.session),
			api.WithRegistry(a.registry),
			api.WithTracing(a.telemetry.TracerProvider(), a.wrapper.Sample),
			api.WithEnabled(a.telemetry.Enabled),
		}
		if h := lc.MetricsHandler(); h != nil {
			srvOpts = append(srvOpts, api.WithMetricsHandler(h))
		}
		if a.server, err = api.NewServer(a, a.logger, cfg.Server, srvOpts...); err != nil {
			return fmt.Errorf("creating http server: %w", err)
		}
	}
	return nil
}

// Start begins sampling, scheduled jobs, the HTTP server and the config
// watcher.
func (a *App) Start(ctx context.Context) error {
	if err := a.sampler.Start(ctx); err != nil {
		return err
	}
	a.scheduler.Start()

	if a.server != nil {
		go func() {
			defer a.logger.Recover(ctx, "http server")
			if err := a.server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.logger.Error(ctx, "HTTP server failed", zap.Error(err))
				a.serveErr <- err
			}
		}()
	}

	if a.configPath != "" {
		if err := a.watchConfig(ctx); err != nil {
			// Hot reload is optional; the app runs with the loaded config
			a.logger.Warn(ctx, "Config watcher unavailable", zap.Error(err))
		}
	}

	a.logger.Info(ctx, "syspulse started",
		zap.String("version", a.session.AppVersion),
		zap.Bool("http", a.server != nil),
	)
	return nil
}

// Run starts the app and blocks until ctx is done or the HTTP server
// fails, then shuts down.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return errors.Join(err, a.Shutdown(shutdownCtx))
	}

	var runErr error
	select {
	case <-ctx.Done():
	case runErr = <-a.serveErr:
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownGrace)
	defer cancel()
	return errors.Join(runErr, a.Shutdown(shutdownCtx))
}

// Shutdown stops the components in dependency order: the HTTP server, the
// sampler and scheduler, telemetry (flushing pending spans and metrics),
// the store, and finally the log sinks. Later calls return the first
// result.
func (a *App) Shutdown(ctx context.Context) error {
	a.stopOnce.Do(func() {
		a.logger.Info(ctx, "syspulse shutting down")
		a.stopErr = a.close(ctx)
	})
	return a.stopErr
}

func (a *App) close(ctx context.Context) error {
	var errs []error

	if a.watchCancel != nil {
		a.watchCancel()
		<-a.watchDone
	}
	if a.server != nil {
		if err := a.server.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("http server: %w", err))
		}
	}
	if a.sampler != nil {
		if err := a.sampler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.scheduler != nil {
		if err := a.scheduler.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.telemetry != nil {
		if err := a.telemetry.Stop(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("store: %w", err))
		}
	}
	if a.logger != nil {
		var err error
		if a.ownsLogger {
			err = a.logger.Close()
		} else {
			err = a.logger.Sync()
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("logger: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (a *App) watchConfig(ctx context.Context) error {
	w, err := config.NewWatcher(a.configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	a.watchCancel = cancel
	a.watchDone = make(chan struct{})

	go func() {
		defer close(a.watchDone)
		defer w.Close()
		defer a.logger.Recover(ctx, "config watcher")

		err := w.Watch(ctx, func() { a.Reload(ctx) }, func(err error) {
			a.logger.Warn(ctx, "Config watch error", zap.Error(err))
		})
		if err != nil {
			a.logger.Warn(ctx, "Config watcher stopped", zap.Error(err))
		}
	}()
	return nil
}

// Reload reads the config file again and applies the log level, the
// telemetry enabled flag and the sample rate. Other settings need a
// restart. An invalid file leaves the running settings unchanged.
func (a *App) Reload(ctx context.Context) {
	cfg, err := LoadConfig(a.configPath)
	if err != nil {
		a.logger.Warn(ctx, "Config reload failed", zap.Error(err))
		return
	}
	a.applyRuntime(ctx, cfg)
}

func (a *App) applyRuntime(ctx context.Context, cfg *Config) {
	a.logger.SetLevel(cfg.Logging.Level)
	if cfg.Telemetry.Enabled != a.telemetry.Enabled() {
		a.telemetry.SetEnabled(cfg.Telemetry.Enabled)
	}
	a.telemetry.SetSampleRate(cfg.Telemetry.Sampling.Rate)

	a.logger.Info(ctx, "Configuration reloaded",
		zap.String("level", cfg.Logging.Level.String()),
		zap.Bool("telemetryEnabled", cfg.Telemetry.Enabled),
		zap.Float64("sampleRate", cfg.Telemetry.Sampling.Rate),
	)
}

func (a *App) sweepLogs(context.Context) error {
	return a.logger.Sweep()
}

func (a *App) pruneStore(ctx context.Context) error {
	retention := a.config.Store.Retention.Duration()
	if retention <= 0 {
		return nil
	}
	n, err := a.store.Prune(ctx, time.Now().Add(-retention))
	if err != nil {
		return err
	}
	if n > 0 {
		a.logger.Info(ctx, "Pruned stats samples", zap.Int64("removed", n))
	}
	return nil
}

func (a *App) triggerTestError(ctx context.Context, _ struct{}) (struct{}, error) {
	a.logger.Error(ctx, "Test error triggered", zap.String("source", "user-action"))
	return struct{}{}, ErrTestError
}

// SystemStats collects a fresh sample as the traced get-system-stats
// operation.
func (a *App) SystemStats(ctx context.Context) (stats.Sample, error) {
	return a.getStats(ctx, struct{}{})
}

// CurrentStats returns the latest cached sample without a new collection.
func (a *App) CurrentStats(ctx context.Context) (stats.Sample, error) {
	return a.sampler.CurrentStats(ctx)
}

// RecentMetrics returns up to limit persisted samples, newest first.
func (a *App) RecentMetrics(ctx context.Context, limit int) ([]stats.Sample, error) {
	return a.sampler.RecentMetrics(ctx, limit)
}

// RecentEntries returns up to count log records, newest first.
func (a *App) RecentEntries(count int) ([]logging.Entry, error) {
	return a.logger.RecentEntries(count)
}

// Log writes a record on behalf of a remote caller.
func (a *App) Log(ctx context.Context, level, msg string, attrs map[string]interface{}) {
	a.logger.Log(ctx, level, msg, attrs)
}

// SetTelemetryEnabled toggles span and metric emission by traced calls.
func (a *App) SetTelemetryEnabled(enabled bool) {
	a.telemetry.SetEnabled(enabled)
}

// SetSampleRate sets the trace sample rate.
func (a *App) SetSampleRate(rate float64) {
	a.telemetry.SetSampleRate(rate)
}

// TelemetryHealth reports the telemetry lifecycle state.
func (a *App) TelemetryHealth() telemetry.HealthStatus {
	return a.telemetry.Health()
}

// TriggerTestError runs the traced trigger-test-error operation, which
// always fails with ErrTestError.
func (a *App) TriggerTestError(ctx context.Context) error {
	_, err := a.testError(ctx, struct{}{})
	return err
}

// Subscribe returns a live sample feed; see stats.Sampler.Subscribe.
func (a *App) Subscribe() (<-chan stats.Sample, func()) {
	return a.sampler.Subscribe()
}

// Session returns the process session.
func (a *App) Session() *session.Context {
	return a.session
}

// Logger returns the application logger.
func (a *App) Logger() *logging.Logger {
	return a.logger
}

// Config returns the configuration the app was built from.
func (a *App) Config() *Config {
	return a.config
}

// Scheduler returns the maintenance job scheduler.
func (a *App) Scheduler() *schedule.Scheduler {
	return a.scheduler
}

// Handler returns the HTTP handler, or nil when the server is disabled.
func (a *App) Handler() http.Handler {
	if a.server == nil {
		return nil
	}
	return a.server.Handler()
}
