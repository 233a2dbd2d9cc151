// Package http exposes the syspulse caller-facing operations over HTTP.
package http

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/logging"
	"github.com/fyrsmithlabs/syspulse/internal/metrics"
	"github.com/fyrsmithlabs/syspulse/internal/session"
	"github.com/fyrsmithlabs/syspulse/internal/stats"
	"github.com/fyrsmithlabs/syspulse/internal/telemetry"
	"github.com/fyrsmithlabs/syspulse/internal/tracing"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Service is the set of operations served over HTTP.
type Service interface {
	SystemStats(ctx context.Context) (stats.Sample, error)
	RecentMetrics(ctx context.Context, limit int) ([]stats.Sample, error)
	RecentEntries(count int) ([]logging.Entry, error)
	Log(ctx context.Context, level, msg string, attrs map[string]interface{})
	SetTelemetryEnabled(enabled bool)
	SetSampleRate(rate float64)
	TelemetryHealth() telemetry.HealthStatus
	TriggerTestError(ctx context.Context) error
}

// Server provides HTTP endpoints for syspulse.
type Server struct {
	echo     *echo.Echo
	service  Service
	logger   *logging.Logger
	config   *Config
	session  *session.Context
	metrics  http.Handler
	registry *metrics.Registry

	tracerProvider trace.TracerProvider
	sample         func(context.Context) bool
	enabled        func() bool
}

// Config holds HTTP server configuration.
type Config struct {
	Enabled bool   `koanf:"enabled"`
	Host    string `koanf:"host"`
	Port    int    `koanf:"port"`
}

// NewDefaultConfig returns the default listen address, localhost:9464.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled: true,
		Host:    "localhost",
		Port:    9464,
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("server.port must be in [0, 65535], got %d", c.Port)
	}
	return nil
}

// Addr returns host:port.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Option configures a Server.
type Option func(*Server)

// WithMetricsHandler serves h at GET /metrics.
func WithMetricsHandler(h http.Handler) Option {
	return func(s *Server) { s.metrics = h }
}

// WithSession reports the session in /health.
func WithSession(sess *session.Context) Option {
	return func(s *Server) { s.session = sess }
}

// WithRegistry records request metrics in r.
func WithRegistry(r *metrics.Registry) Option {
	return func(s *Server) { s.registry = r }
}

// WithTracing opens a server span on tp for each request sample accepts.
// The decision is stored in the request context, so traced operations
// handled by the request follow it instead of sampling again.
func WithTracing(tp trace.TracerProvider, sample func(context.Context) bool) Option {
	return func(s *Server) {
		s.tracerProvider = tp
		s.sample = sample
	}
}

// WithEnabled gates request metrics and request spans on enabled.
func WithEnabled(enabled func() bool) Option {
	return func(s *Server) { s.enabled = enabled }
}

// NewServer creates a new HTTP server.
func NewServer(service Service, logger *logging.Logger, cfg *Config, opts ...Option) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("service cannot be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = NewDefaultConfig()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:    e,
		service: service,
		logger:  logger.Named("http"),
		config:  cfg,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.enabled == nil {
		s.enabled = func() bool { return true }
	}

	e.Use(middleware.RecoverWithConfig(middleware.RecoverConfig{
		LogErrorFunc: s.logPanic,
	}))
	e.Use(middleware.RequestID())
	if s.tracerProvider != nil {
		e.Use(s.samplingMiddleware)
		e.Use(s.tracingMiddleware())
	}
	e.Use(s.requestLogger)
	if s.registry != nil {
		hm := NewHTTPMetrics(s.registry, s.logger)
		hm.enabled = s.enabled
		e.Use(hm.MetricsMiddleware())
	}

	s.registerRoutes()
	return s, nil
}

// logPanic routes handler panics through the structured logger.
func (s *Server) logPanic(c echo.Context, err error, stack []byte) error {
	s.logger.Error(c.Request().Context(), "HTTP handler panicked",
		zap.String("method", c.Request().Method),
		zap.String("path", c.Request().URL.Path),
		zap.Error(err),
		zap.ByteString("stack", stack),
	)
	return err
}

// samplingMiddleware makes one sampling decision per request.
// /metrics scrapes are never sampled.
func (s *Server) samplingMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		sampled := req.URL.Path != "/metrics" && s.enabled()
		if sampled && s.sample != nil {
			sampled = s.sample(req.Context())
		}
		c.SetRequest(req.WithContext(tracing.WithSampling(req.Context(), sampled)))
		return next(c)
	}
}

func (s *Server) tracingMiddleware() echo.MiddlewareFunc {
	return echo.WrapMiddleware(otelhttp.NewMiddleware("syspulse.http",
		otelhttp.WithTracerProvider(s.tracerProvider),
		otelhttp.WithPropagators(propagation.TraceContext{}),
		otelhttp.WithFilter(func(r *http.Request) bool {
			sampled, _ := tracing.SamplingFromContext(r.Context())
			return sampled
		}),
		otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
			return r.Method + " " + r.URL.Path
		}),
	))
}

// requestLogger tags the request context with its id and logs the
// request once it completes.
func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		req := c.Request()
		requestID := c.Response().Header().Get(echo.HeaderXRequestID)

		ctx := req.Context()
		if logging.ValidID(requestID) {
			ctx = logging.WithRequestID(ctx, requestID)
			c.SetRequest(req.WithContext(ctx))
		}

		err := next(c)

		s.logger.Debug(ctx, "http request",
			zap.String("method", req.Method),
			zap.String("uri", req.RequestURI),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
		)
		return err
	}
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	if s.metrics != nil {
		s.echo.GET("/metrics", echo.WrapHandler(s.metrics))
	}

	v1 := s.echo.Group("/api/v1")
	v1.GET("/stats", s.handleStats)
	v1.GET("/stats/history", s.handleStatsHistory)
	v1.GET("/logs", s.handleLogs)
	v1.POST("/logs", s.handleWriteLog)
	v1.GET("/telemetry", s.handleTelemetry)
	v1.PUT("/telemetry", s.handleSetTelemetry)
	v1.POST("/test-error", s.handleTestError)
}

// handleHealth reports liveness and telemetry state.
func (s *Server) handleHealth(c echo.Context) error {
	resp := HealthResponse{
		Status:    "ok",
		Telemetry: s.service.TelemetryHealth(),
	}
	if s.session != nil {
		resp.SessionID = s.session.SessionID
		resp.PID = s.session.ProcessID
		resp.Version = s.session.AppVersion
		resp.UptimeSeconds = int64(s.session.Uptime().Seconds())
	}
	return c.JSON(http.StatusOK, resp)
}

func (s *Server) handleStats(c echo.Context) error {
	sample, err := s.service.SystemStats(c.Request().Context())
	if err != nil {
		if errors.Is(err, stats.ErrNoSample) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, sample)
}

func (s *Server) handleStatsHistory(c echo.Context) error {
	limit, err := intParam(c, "limit", stats.DefaultHistoryLimit)
	if err != nil {
		return err
	}

	samples, err := s.service.RecentMetrics(c.Request().Context(), limit)
	if err != nil {
		s.logger.Error(c.Request().Context(), "Failed to read stats history", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to read stats history")
	}
	return c.JSON(http.StatusOK, samples)
}

func (s *Server) handleLogs(c echo.Context) error {
	count, err := intParam(c, "count", logging.DefaultRecentCount)
	if err != nil {
		return err
	}

	entries, err := s.service.RecentEntries(count)
	if err != nil {
		// The reader degrades to an empty list rather than failing the caller
		s.logger.Error(c.Request().Context(), "Failed to read logs", zap.Error(err))
		entries = []logging.Entry{}
	}
	return c.JSON(http.StatusOK, entries)
}

func (s *Server) handleWriteLog(c echo.Context) error {
	var req LogRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid log request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Message == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}

	s.service.Log(c.Request().Context(), req.Level, req.Message, req.Attributes)
	return c.NoContent(http.StatusAccepted)
}

func (s *Server) handleTelemetry(c echo.Context) error {
	return c.JSON(http.StatusOK, s.service.TelemetryHealth())
}

func (s *Server) handleSetTelemetry(c echo.Context) error {
	var req TelemetryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn(c.Request().Context(), "invalid telemetry request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Enabled == nil && req.SampleRate == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "enabled or sampleRate is required")
	}
	if req.SampleRate != nil && (*req.SampleRate < 0 || *req.SampleRate > 1) {
		return echo.NewHTTPError(http.StatusBadRequest, "sampleRate must be between 0 and 1")
	}

	if req.Enabled != nil {
		s.service.SetTelemetryEnabled(*req.Enabled)
	}
	if req.SampleRate != nil {
		s.service.SetSampleRate(*req.SampleRate)
	}
	return c.JSON(http.StatusOK, s.service.TelemetryHealth())
}

func (s *Server) handleTestError(c echo.Context) error {
	err := s.service.TriggerTestError(c.Request().Context())
	if err == nil {
		return c.NoContent(http.StatusNoContent)
	}
	return c.JSON(http.StatusInternalServerError, ErrorResponse{Error: err.Error()})
}

func intParam(c echo.Context, name string, def int) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, echo.NewHTTPError(http.StatusBadRequest, name+" must be an integer")
	}
	if n <= 0 {
		return def, nil
	}
	return n, nil
}

// Handler returns the server as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.echo
}

// Start starts the HTTP server. It returns http.ErrServerClosed after
// Shutdown.
func (s *Server) Start() error {
	addr := s.config.Addr()
	s.logger.Info(context.Background(), "starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info(ctx, "shutting down http server")
	return s.echo.Shutdown(ctx)
}
