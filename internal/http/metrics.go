package http

import (
	"context"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/logging"
	"github.com/fyrsmithlabs/syspulse/internal/metrics"
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// HTTP instrument names.
const (
	NameRequests        = "http.requests.total"
	NameRequestDuration = "http.request.duration.ms"
	NameResponseSize    = "http.response.size_bytes"
)

// HTTPMetrics holds the request instruments.
type HTTPMetrics struct {
	requestsTotal *metrics.Counter
	requestDur    *metrics.Histogram
	responseSize  *metrics.Histogram
	enabled       func() bool
}

// NewHTTPMetrics creates the request instruments in r. Instruments that
// fail to register are logged and skipped.
func NewHTTPMetrics(r *metrics.Registry, logger *logging.Logger) *HTTPMetrics {
	if logger == nil {
		logger = logging.NewNop()
	}
	ctx := context.Background()
	m := &HTTPMetrics{}

	var err error
	m.requestsTotal, err = r.Counter(NameRequests,
		"Total HTTP requests labeled by method, endpoint and status code")
	if err != nil {
		logger.Warn(ctx, "failed to create requests counter", zap.Error(err))
	}

	m.requestDur, err = r.Histogram(NameRequestDuration,
		"HTTP request duration in milliseconds",
		metrics.WithUnit(metrics.UnitMilliseconds),
		metrics.WithBuckets(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create duration histogram", zap.Error(err))
	}

	m.responseSize, err = r.Histogram(NameResponseSize,
		"HTTP response body size in bytes",
		metrics.WithUnit("By"),
		metrics.WithBuckets(100, 500, 1000, 5000, 10000, 50000, 100000),
	)
	if err != nil {
		logger.Warn(ctx, "failed to create response size histogram", zap.Error(err))
	}
	return m
}

// MetricsMiddleware returns an Echo middleware that records HTTP metrics
// while telemetry is enabled.
func (m *HTTPMetrics) MetricsMiddleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if m.enabled != nil && !m.enabled() {
				return next(c)
			}
			start := time.Now()
			err := next(c)
			if err != nil {
				// Let echo write the error so the recorded status is final
				c.Error(err)
				err = nil
			}

			ctx := c.Request().Context()
			attrs := []attribute.KeyValue{
				attribute.String("method", c.Request().Method),
				attribute.String("endpoint", normalizePath(c.Path())),
				attribute.Int("status", c.Response().Status),
			}

			if m.requestsTotal != nil {
				m.requestsTotal.Add(ctx, 1, attrs...)
			}
			if m.requestDur != nil {
				m.requestDur.Record(ctx, float64(time.Since(start).Microseconds())/1000, attrs...)
			}
			if m.responseSize != nil {
				m.responseSize.Record(ctx, float64(c.Response().Size), attrs...)
			}
			return err
		}
	}
}

// normalizePath returns the route pattern, which is already free of
// per-request values since every route is fixed.
func normalizePath(path string) string {
	if path == "" {
		return "/"
	}
	return path
}
