package telemetry

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/logging"
	"github.com/fyrsmithlabs/syspulse/internal/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	oteltrace "go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// InstrumentationName is the tracer and meter scope used by syspulse.
const InstrumentationName = "system-pulse"

var (
	// ErrAlreadyStarted is returned by Start on a started lifecycle.
	ErrAlreadyStarted = errors.New("telemetry already started")
	// ErrStopped is returned by Start after Stop. A lifecycle cannot be
	// restarted.
	ErrStopped = errors.New("telemetry stopped")
)

// State is the lifecycle state.
type State int32

const (
	StateUninitialized State = iota
	StateStarted
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateStarted:
		return "started"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("state(%d)", int32(s))
}

// Lifecycle owns the trace and metric pipelines and the runtime enabled
// flag and sample rate consulted by traced calls.
//
// It moves from uninitialized to started to stopped, once each. Export
// failures never fail the application: Start degrades to whatever could be
// built and logs the rest.
type Lifecycle struct {
	config  *Config
	logger  *logging.Logger
	session *session.Context

	traceExporter  sdktrace.SpanExporter
	metricExporter sdkmetric.Exporter
	readers        []sdkmetric.Reader
	processors     []sdktrace.SpanProcessor
	logProvider    log.LoggerProvider

	mu             sync.Mutex // serializes Start and Stop
	state          atomic.Int32
	tracerProvider atomic.Pointer[sdktrace.TracerProvider]
	meterProvider  atomic.Pointer[sdkmetric.MeterProvider]
	metricsHandler atomic.Value // http.Handler

	enabled    atomic.Bool
	sampleRate atomic.Uint64 // math.Float64bits
	degraded   atomic.Bool
	errReport  *rate.Sometimes
}

// Option configures a Lifecycle.
type Option func(*Lifecycle)

// WithLogger sets the logger for lifecycle and export events.
func WithLogger(l *logging.Logger) Option {
	return func(lc *Lifecycle) { lc.logger = l }
}

// WithSession adds the session identity to the telemetry resource.
func WithSession(s *session.Context) Option {
	return func(lc *Lifecycle) { lc.session = s }
}

// WithTraceExporter overrides the OTLP span exporter (for testing).
func WithTraceExporter(exp sdktrace.SpanExporter) Option {
	return func(lc *Lifecycle) { lc.traceExporter = exp }
}

// WithMetricExporter overrides the OTLP metric exporter (for testing).
func WithMetricExporter(exp sdkmetric.Exporter) Option {
	return func(lc *Lifecycle) { lc.metricExporter = exp }
}

// WithMetricReader adds a metric reader next to the configured ones.
func WithMetricReader(r sdkmetric.Reader) Option {
	return func(lc *Lifecycle) { lc.readers = append(lc.readers, r) }
}

// WithSpanProcessor adds a span processor next to the exporter.
func WithSpanProcessor(p sdktrace.SpanProcessor) Option {
	return func(lc *Lifecycle) { lc.processors = append(lc.processors, p) }
}

// New creates an unstarted lifecycle. The enabled flag and sample rate
// take their initial values from cfg.
func New(cfg *Config, opts ...Option) (*Lifecycle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}

	l := &Lifecycle{
		config:    cfg,
		logger:    logging.NewNop(),
		errReport: &rate.Sometimes{First: 1, Interval: time.Minute},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.enabled.Store(cfg.Enabled)
	l.sampleRate.Store(math.Float64bits(cfg.Sampling.Rate))
	return l, nil
}

// Start builds the providers and starts the exporters and readers.
//
// It returns an error only for misuse (ErrAlreadyStarted, ErrStopped).
// Exporter construction failures are logged, mark the lifecycle degraded
// and leave the remaining pipeline running.
func (l *Lifecycle) Start(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.State() {
	case StateStarted:
		return ErrAlreadyStarted
	case StateStopped:
		return ErrStopped
	}

	res, err := newResource(l.config, l.session)
	if err != nil {
		l.setDegraded(ctx, "Failed to create telemetry resource", err)
		res = resource.Empty()
	}

	l.tracerProvider.Store(l.buildTracerProvider(ctx, res))
	l.meterProvider.Store(l.buildMeterProvider(ctx, res))

	otel.SetErrorHandler(otel.ErrorHandlerFunc(l.handleError))

	l.state.Store(int32(StateStarted))
	l.logger.Info(ctx, "OpenTelemetry initialized",
		zap.Float64("sampleRate", l.SampleRate()),
		zap.Bool("enabled", l.Enabled()),
		zap.Bool("export", l.config.Export),
		zap.Bool("degraded", l.degraded.Load()),
	)
	return nil
}

func (l *Lifecycle) buildTracerProvider(ctx context.Context, res *resource.Resource) *sdktrace.TracerProvider {
	// Traced calls make their own sampling decision
	opts := []sdktrace.TracerProviderOption{
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.AlwaysSample())),
	}

	exp := l.traceExporter
	if exp == nil && l.config.Export && l.config.Traces.Enabled {
		var err error
		if exp, err = newTraceExporter(ctx, l.config); err != nil {
			l.setDegraded(ctx, "Failed to create trace exporter", err)
			exp = nil
		}
	}
	if exp != nil {
		opts = append(opts, sdktrace.WithBatcher(exp))
	}
	if l.config.Traces.Stdout {
		if stdout, err := newStdoutExporter(os.Stderr); err != nil {
			l.setDegraded(ctx, "Failed to create stdout trace exporter", err)
		} else {
			opts = append(opts, sdktrace.WithSyncer(stdout))
		}
	}
	for _, p := range l.processors {
		opts = append(opts, sdktrace.WithSpanProcessor(p))
	}
	return sdktrace.NewTracerProvider(opts...)
}

func (l *Lifecycle) buildMeterProvider(ctx context.Context, res *resource.Resource) *sdkmetric.MeterProvider {
	opts := []sdkmetric.Option{sdkmetric.WithResource(res)}

	exp := l.metricExporter
	if exp == nil && l.config.Export && l.config.Metrics.Enabled {
		var err error
		if exp, err = newMetricExporter(ctx, l.config); err != nil {
			l.setDegraded(ctx, "Failed to create metric exporter", err)
			exp = nil
		}
	}
	if exp != nil {
		interval := l.config.Metrics.ExportInterval.Duration()
		if interval <= 0 {
			interval = NewDefaultConfig().Metrics.ExportInterval.Duration()
		}
		opts = append(opts, sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp, sdkmetric.WithInterval(interval))))
	}

	if l.config.Metrics.Prometheus {
		reader, handler, err := newPrometheusReader()
		if err != nil {
			l.setDegraded(ctx, "Failed to create prometheus reader", err)
		} else {
			opts = append(opts, sdkmetric.WithReader(reader))
			l.metricsHandler.Store(handler)
		}
	}

	for _, r := range l.readers {
		opts = append(opts, sdkmetric.WithReader(r))
	}
	return sdkmetric.NewMeterProvider(opts...)
}

// Stop flushes and shuts down both providers in parallel, waiting at most
// the configured shutdown timeout. Stop before Start logs a warning and
// returns nil; repeated calls return nil.
func (l *Lifecycle) Stop(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch l.State() {
	case StateUninitialized:
		l.logger.Warn(ctx, "Telemetry stop called before start")
		return nil
	case StateStopped:
		return nil
	}
	l.state.Store(int32(StateStopped))

	ctx, cancel := context.WithTimeout(ctx, l.config.Shutdown.Timeout.Duration())
	defer cancel()

	var g errgroup.Group
	if tp := l.tracerProvider.Load(); tp != nil {
		g.Go(func() error {
			if err := tp.Shutdown(ctx); err != nil {
				return fmt.Errorf("trace provider shutdown: %w", err)
			}
			return nil
		})
	}
	if mp := l.meterProvider.Load(); mp != nil {
		g.Go(func() error {
			if err := mp.Shutdown(ctx); err != nil {
				return fmt.Errorf("meter provider shutdown: %w", err)
			}
			return nil
		})
	}

	done := make(chan error, 1)
	go func() { done <- g.Wait() }()

	var err error
	select {
	case err = <-done:
	case <-ctx.Done():
		err = fmt.Errorf("telemetry shutdown timed out: %w", ctx.Err())
	}

	if err != nil {
		l.logger.Error(ctx, "Telemetry shutdown error", zap.Error(err))
		return err
	}
	l.logger.Info(ctx, "Telemetry shut down")
	return nil
}

// ForceFlush immediately exports pending spans and metrics.
func (l *Lifecycle) ForceFlush(ctx context.Context) error {
	if l.State() != StateStarted {
		return nil
	}

	var errs []error
	if tp := l.tracerProvider.Load(); tp != nil {
		if err := tp.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("trace flush: %w", err))
		}
	}
	if mp := l.meterProvider.Load(); mp != nil {
		if err := mp.ForceFlush(ctx); err != nil {
			errs = append(errs, fmt.Errorf("meter flush: %w", err))
		}
	}
	return errors.Join(errs...)
}

// Tracer returns the syspulse tracer, or a no-op tracer when not started.
func (l *Lifecycle) Tracer() oteltrace.Tracer {
	if tp := l.tracerProvider.Load(); tp != nil && l.State() == StateStarted {
		return tp.Tracer(InstrumentationName)
	}
	return tracenoop.NewTracerProvider().Tracer(InstrumentationName)
}

// TracerProvider returns the SDK tracer provider for instrumentation
// libraries, or a no-op provider when not started.
func (l *Lifecycle) TracerProvider() oteltrace.TracerProvider {
	if tp := l.tracerProvider.Load(); tp != nil && l.State() == StateStarted {
		return tp
	}
	return tracenoop.NewTracerProvider()
}

// Meter returns the syspulse meter, or a no-op meter when not started.
func (l *Lifecycle) Meter() metric.Meter {
	if mp := l.meterProvider.Load(); mp != nil && l.State() == StateStarted {
		return mp.Meter(InstrumentationName)
	}
	return metricnoop.NewMeterProvider().Meter(InstrumentationName)
}

// MetricsHandler returns the Prometheus scrape handler, or nil when the
// Prometheus reader is not running.
func (l *Lifecycle) MetricsHandler() http.Handler {
	h, _ := l.metricsHandler.Load().(http.Handler)
	return h
}

// LoggerProvider returns the log provider for the OTEL logging bridge.
//
// May return nil if not configured.
func (l *Lifecycle) LoggerProvider() log.LoggerProvider {
	return l.logProvider
}

// SetLoggerProvider sets the logger provider for the OTEL logging bridge.
func (l *Lifecycle) SetLoggerProvider(lp log.LoggerProvider) {
	l.logProvider = lp
}

// SetEnabled toggles span and metric emission by traced calls. Spans
// already open are unaffected.
func (l *Lifecycle) SetEnabled(enabled bool) {
	l.enabled.Store(enabled)
	l.logger.Info(context.Background(), "Telemetry toggled", zap.Bool("enabled", enabled))
}

// Enabled reports the runtime flag.
func (l *Lifecycle) Enabled() bool {
	return l.enabled.Load()
}

// SetSampleRate sets the trace sample rate, clamped to [0, 1]. NaN is
// ignored.
func (l *Lifecycle) SetSampleRate(r float64) {
	if math.IsNaN(r) {
		return
	}
	r = math.Max(0, math.Min(1, r))
	l.sampleRate.Store(math.Float64bits(r))
}

// SampleRate returns the current trace sample rate.
func (l *Lifecycle) SampleRate() float64 {
	return math.Float64frombits(l.sampleRate.Load())
}

// State returns the lifecycle state.
func (l *Lifecycle) State() State {
	return State(l.state.Load())
}

// HealthStatus summarizes the lifecycle for health endpoints.
type HealthStatus struct {
	State      string  `json:"state"`
	Enabled    bool    `json:"enabled"`
	Degraded   bool    `json:"degraded"`
	SampleRate float64 `json:"sampleRate"`
}

// Health returns the current telemetry health status.
func (l *Lifecycle) Health() HealthStatus {
	return HealthStatus{
		State:      l.State().String(),
		Enabled:    l.Enabled(),
		Degraded:   l.degraded.Load(),
		SampleRate: l.SampleRate(),
	}
}

func (l *Lifecycle) setDegraded(ctx context.Context, msg string, err error) {
	l.degraded.Store(true)
	l.logger.Warn(ctx, msg, zap.Error(err))
}

// handleError receives OTel SDK errors, mostly failed exports. They are
// retried by the next export cycle; only the report is rate limited.
func (l *Lifecycle) handleError(err error) {
	l.errReport.Do(func() {
		l.logger.Warn(context.Background(), "Telemetry export failed", zap.Error(err))
	})
}
