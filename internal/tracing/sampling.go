package tracing

import "context"

type samplingCtxKey struct{}

// WithSampling records a sampling decision already made for the unit of
// work in ctx. Wrapped calls under ctx follow it instead of drawing again.
func WithSampling(ctx context.Context, sampled bool) context.Context {
	return context.WithValue(ctx, samplingCtxKey{}, sampled)
}

// SamplingFromContext returns the decision stored by WithSampling.
func SamplingFromContext(ctx context.Context) (sampled, ok bool) {
	sampled, ok = ctx.Value(samplingCtxKey{}).(bool)
	return sampled, ok
}

// Sample makes a sampling decision for a new unit of work: false while
// telemetry is disabled, otherwise a draw against the current rate.
func (w *Wrapper) Sample(ctx context.Context) bool {
	if !w.telemetry.Enabled() {
		return false
	}
	if sampled, ok := SamplingFromContext(ctx); ok {
		return sampled
	}
	return w.sampled()
}
