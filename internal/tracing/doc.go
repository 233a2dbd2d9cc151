// Package tracing wraps caller-facing operations with a span per sampled
// call and call, duration and error metrics.
//
//	w := tracing.New(lifecycle, instruments, tracing.WithLogger(logger))
//	getStats := tracing.Wrap(w, "get-system-stats", sampler.CurrentStats)
//
// A call made while telemetry is disabled runs the handler directly with
// no span and no metrics. An unsampled call records metrics only. Handler
// errors are returned unchanged and panics are re-raised after the span
// is closed.
package tracing
