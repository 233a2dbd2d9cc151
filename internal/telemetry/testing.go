package telemetry

import (
	"context"
	"testing"

	"github.com/fyrsmithlabs/syspulse/internal/logging"
	"go.opentelemetry.io/otel/attribute"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

// TestTelemetry is a started Lifecycle with in-memory span and metric
// readers and no exporters.
type TestTelemetry struct {
	*Lifecycle

	SpanRecorder *tracetest.SpanRecorder
	MetricReader *sdkmetric.ManualReader
}

// NewTestTelemetry creates and starts an in-memory lifecycle. logger may
// be nil.
func NewTestTelemetry(logger *logging.Logger) *TestTelemetry {
	cfg := NewDefaultConfig()
	cfg.Export = false
	cfg.Metrics.Prometheus = false

	if logger == nil {
		logger = logging.NewNop()
	}

	spanRecorder := tracetest.NewSpanRecorder()
	metricReader := sdkmetric.NewManualReader()

	lc, err := New(cfg,
		WithLogger(logger),
		WithSpanProcessor(spanRecorder),
		WithMetricReader(metricReader),
	)
	if err != nil {
		panic("telemetry: default test config invalid: " + err.Error())
	}
	if err := lc.Start(context.Background()); err != nil {
		panic("telemetry: start test lifecycle: " + err.Error())
	}

	return &TestTelemetry{
		Lifecycle:    lc,
		SpanRecorder: spanRecorder,
		MetricReader: metricReader,
	}
}

// Spans returns all ended spans.
func (t *TestTelemetry) Spans() []trace.ReadOnlySpan {
	return t.SpanRecorder.Ended()
}

// SpanByName finds a span by name, or nil if not found.
func (t *TestTelemetry) SpanByName(name string) trace.ReadOnlySpan {
	for _, span := range t.Spans() {
		if span.Name() == name {
			return span
		}
	}
	return nil
}

// AssertSpanExists verifies a span with the given name was recorded.
func (t *TestTelemetry) AssertSpanExists(tb testing.TB, name string) {
	tb.Helper()
	if t.SpanByName(name) == nil {
		tb.Errorf("expected span %q not found, got: %v", name, t.spanNames())
	}
}

// AssertSpanAttribute verifies a span has the expected attribute.
func (t *TestTelemetry) AssertSpanAttribute(tb testing.TB, spanName string, key string, expected interface{}) {
	tb.Helper()
	span := t.SpanByName(spanName)
	if span == nil {
		tb.Fatalf("span %q not found", spanName)
	}

	for _, attr := range span.Attributes() {
		if string(attr.Key) == key {
			got := attrValue(attr.Value)
			if got != expected {
				tb.Errorf("span %q attribute %q: got %v, want %v", spanName, key, got, expected)
			}
			return
		}
	}
	tb.Errorf("span %q missing attribute %q", spanName, key)
}

// Collect reads the current metric state.
func (t *TestTelemetry) Collect(tb testing.TB) metricdata.ResourceMetrics {
	tb.Helper()
	var rm metricdata.ResourceMetrics
	if err := t.MetricReader.Collect(context.Background(), &rm); err != nil {
		tb.Fatalf("collect metrics: %v", err)
	}
	return rm
}

// CounterValue sums the int64 counter called name over data points whose
// attributes include every attr in match.
func (t *TestTelemetry) CounterValue(tb testing.TB, name string, match ...attribute.KeyValue) int64 {
	tb.Helper()
	m, ok := findMetric(t.Collect(tb), name)
	if !ok {
		return 0
	}
	sum, ok := m.Data.(metricdata.Sum[int64])
	if !ok {
		tb.Fatalf("metric %q is %T, not an int64 sum", name, m.Data)
	}

	var total int64
	for _, dp := range sum.DataPoints {
		if hasAttributes(dp.Attributes, match) {
			total += dp.Value
		}
	}
	return total
}

// HistogramCount returns the number of recordings in the float64
// histogram called name with attributes including match.
func (t *TestTelemetry) HistogramCount(tb testing.TB, name string, match ...attribute.KeyValue) uint64 {
	tb.Helper()
	m, ok := findMetric(t.Collect(tb), name)
	if !ok {
		return 0
	}
	hist, ok := m.Data.(metricdata.Histogram[float64])
	if !ok {
		tb.Fatalf("metric %q is %T, not a float64 histogram", name, m.Data)
	}

	var total uint64
	for _, dp := range hist.DataPoints {
		if hasAttributes(dp.Attributes, match) {
			total += dp.Count
		}
	}
	return total
}

// GaugeValue returns the first observation of the float64 gauge called
// name.
func (t *TestTelemetry) GaugeValue(tb testing.TB, name string) (float64, bool) {
	tb.Helper()
	m, ok := findMetric(t.Collect(tb), name)
	if !ok {
		return 0, false
	}
	g, ok := m.Data.(metricdata.Gauge[float64])
	if !ok || len(g.DataPoints) == 0 {
		return 0, false
	}
	return g.DataPoints[0].Value, true
}

func findMetric(rm metricdata.ResourceMetrics, name string) (metricdata.Metrics, bool) {
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if m.Name == name {
				return m, true
			}
		}
	}
	return metricdata.Metrics{}, false
}

func hasAttributes(set attribute.Set, match []attribute.KeyValue) bool {
	for _, kv := range match {
		v, ok := set.Value(kv.Key)
		if !ok || v != kv.Value {
			return false
		}
	}
	return true
}

// spanNames returns names of all recorded spans.
func (t *TestTelemetry) spanNames() []string {
	spans := t.Spans()
	names := make([]string, len(spans))
	for i, span := range spans {
		names[i] = span.Name()
	}
	return names
}

// attrValue extracts the value from an attribute.
func attrValue(v attribute.Value) interface{} {
	switch v.Type() {
	case attribute.STRING:
		return v.AsString()
	case attribute.INT64:
		return v.AsInt64()
	case attribute.FLOAT64:
		return v.AsFloat64()
	case attribute.BOOL:
		return v.AsBool()
	default:
		return v.AsInterface()
	}
}
