package metrics

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
)

// Instruments is the fixed set of syspulse instruments.
type Instruments struct {
	Calls            *Counter
	Duration         *Histogram
	Errors           *Counter
	StatsCollections *Counter
	CPUUsage         *ObservableGauge
	MemoryUsed       *ObservableGauge
}

// NewInstruments creates (or looks up) every syspulse instrument in r.
func NewInstruments(r *Registry) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	if in.Calls, err = r.Counter(NameCalls, "Total IPC calls by channel"); err != nil {
		return nil, err
	}
	if in.Duration, err = r.Histogram(NameDuration, "IPC call duration in milliseconds",
		WithUnit(UnitMilliseconds),
		WithBuckets(1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000),
	); err != nil {
		return nil, err
	}
	if in.Errors, err = r.Counter(NameErrors, "Total application errors"); err != nil {
		return nil, err
	}
	if in.StatsCollections, err = r.Counter(NameStatsCollections, "Number of stats collection cycles"); err != nil {
		return nil, err
	}
	if in.CPUUsage, err = r.ObservableGauge(NameCPUUsage, "Current CPU usage percentage", WithUnit(UnitPercent)); err != nil {
		return nil, err
	}
	if in.MemoryUsed, err = r.ObservableGauge(NameMemoryUsed, "Memory usage percentage", WithUnit(UnitPercent)); err != nil {
		return nil, fmt.Errorf("memory gauge: %w", err)
	}
	return &in, nil
}

// RecordCall counts one call of operation and records its duration.
func (in *Instruments) RecordCall(ctx context.Context, operation, status string, durationMs float64) {
	in.Calls.Add(ctx, 1,
		attribute.String(AttrOperation, operation),
		attribute.String(AttrStatus, status),
	)
	in.Duration.Record(ctx, durationMs, attribute.String(AttrOperation, operation))
}

// RecordError counts one application error of errType raised by operation.
// operation may be empty.
func (in *Instruments) RecordError(ctx context.Context, operation, errType string) {
	attrs := []attribute.KeyValue{attribute.String(AttrErrorType, errType)}
	if operation != "" {
		attrs = append(attrs, attribute.String(AttrOperation, operation))
	}
	in.Errors.Add(ctx, 1, attrs...)
}
