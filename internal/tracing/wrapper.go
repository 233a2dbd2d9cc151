package tracing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/logging"
	"github.com/fyrsmithlabs/syspulse/internal/metrics"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Span attributes set on every traced call.
const (
	AttrOperationName = "operation.name"
	AttrProcessRole   = "process.role"

	// ProcessRoleMain identifies calls handled by the main process.
	ProcessRoleMain = "main"

	// SpanPrefix is prepended to the operation name to form the span name.
	SpanPrefix = "operation."

	// ErrorTypeHandler labels app.errors.total for failed handlers.
	ErrorTypeHandler = "handler-error"
)

// TypedError is a handler failure that names its own app.errors.total
// type label instead of handler-error.
type TypedError interface {
	error
	ErrorType() string
}

// ErrorType returns the app.errors.total type label for err.
func ErrorType(err error) string {
	var typed TypedError
	if errors.As(err, &typed) {
		return typed.ErrorType()
	}
	return ErrorTypeHandler
}

// Telemetry is the runtime state consulted on every call.
// *telemetry.Lifecycle implements it.
type Telemetry interface {
	Enabled() bool
	SampleRate() float64
	Tracer() trace.Tracer
}

// Handler is an instrumented operation taking arbitrary arguments.
type Handler func(ctx context.Context, args ...any) (any, error)

// Wrapper instruments handlers with a span per sampled call and call,
// duration and error metrics.
type Wrapper struct {
	telemetry   Telemetry
	instruments *metrics.Instruments
	logger      *logging.Logger
	rand        func() float64
}

// Option configures a Wrapper.
type Option func(*Wrapper)

// WithLogger sets the logger for handler failures.
func WithLogger(l *logging.Logger) Option {
	return func(w *Wrapper) { w.logger = l }
}

// WithRand replaces the uniform [0,1) source used for sampling.
func WithRand(fn func() float64) Option {
	return func(w *Wrapper) { w.rand = fn }
}

// New creates a Wrapper. instruments may be nil, in which case no metrics
// are recorded.
func New(tel Telemetry, instruments *metrics.Instruments, opts ...Option) *Wrapper {
	w := &Wrapper{
		telemetry:   tel,
		instruments: instruments,
		logger:      logging.NewNop(),
		rand:        rand.Float64,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Wrap returns h instrumented as operation name. Errors and panics from h
// reach the caller unchanged.
func (w *Wrapper) Wrap(name string, h Handler) Handler {
	return func(ctx context.Context, args ...any) (any, error) {
		var result any
		err := w.run(ctx, name, func(ctx context.Context) error {
			var err error
			result, err = h(ctx, args...)
			return err
		})
		return result, err
	}
}

// Wrap is the typed form of Wrapper.Wrap.
func Wrap[Req, Resp any](w *Wrapper, name string, fn func(context.Context, Req) (Resp, error)) func(context.Context, Req) (Resp, error) {
	return func(ctx context.Context, req Req) (Resp, error) {
		var resp Resp
		err := w.run(ctx, name, func(ctx context.Context) error {
			var err error
			resp, err = fn(ctx, req)
			return err
		})
		return resp, err
	}
}

func (w *Wrapper) run(ctx context.Context, name string, call func(context.Context) error) error {
	ctx = logging.WithOperation(ctx, name)
	if !w.telemetry.Enabled() {
		return call(ctx)
	}

	// Metrics are recorded for every call; sampling only decides the span
	sampled, decided := SamplingFromContext(ctx)
	if !decided {
		sampled = w.sampled()
	}
	if !sampled {
		start := time.Now()
		err := w.invoke(ctx, name, start, nil, call)
		w.record(ctx, name, start, err)
		return err
	}

	ctx, span := w.telemetry.Tracer().Start(ctx, SpanPrefix+name,
		trace.WithSpanKind(trace.SpanKindServer),
		trace.WithAttributes(
			attribute.String(AttrOperationName, name),
			attribute.String(AttrProcessRole, ProcessRoleMain),
		),
	)
	defer span.End()

	start := time.Now()
	err := w.invoke(ctx, name, start, span, call)
	w.record(ctx, name, start, err)

	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return err
	}
	span.SetStatus(codes.Ok, "")
	return nil
}

// invoke runs call, recording a panic on span and in metrics before
// re-raising it.
func (w *Wrapper) invoke(ctx context.Context, name string, start time.Time, span trace.Span, call func(context.Context) error) error {
	defer func() {
		if r := recover(); r != nil {
			perr := fmt.Errorf("panic: %v", r)
			w.record(ctx, name, start, perr)
			if span != nil {
				span.RecordError(perr, trace.WithStackTrace(true))
				span.SetStatus(codes.Error, perr.Error())
			}
			panic(r)
		}
	}()
	return call(ctx)
}

func (w *Wrapper) record(ctx context.Context, name string, start time.Time, err error) {
	durationMs := float64(time.Since(start).Microseconds()) / 1000

	if w.instruments == nil {
		return
	}
	if err != nil {
		w.instruments.RecordCall(ctx, name, metrics.StatusError, durationMs)
		w.instruments.RecordError(ctx, name, ErrorType(err))
		w.logger.Debug(ctx, "Traced call failed",
			zap.Float64("durationMs", durationMs),
			zap.Error(err),
		)
		return
	}
	w.instruments.RecordCall(ctx, name, metrics.StatusOK, durationMs)
}

// sampled draws r in [0,1) and skips the span only when r > rate. Rate 0
// never samples and rate 1 always does.
func (w *Wrapper) sampled() bool {
	rate := w.telemetry.SampleRate()
	if rate <= 0 {
		return false
	}
	if rate >= 1 {
		return true
	}
	return w.rand() <= rate
}
