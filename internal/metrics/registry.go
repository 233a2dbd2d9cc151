package metrics

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
)

// ErrKindMismatch is returned when a name is requested as a different kind
// of instrument than it was first created as.
var ErrKindMismatch = errors.New("metric already registered with a different kind")

// Kind identifies an instrument type.
type Kind int

const (
	KindCounter Kind = iota + 1
	KindHistogram
	KindGauge
)

func (k Kind) String() string {
	switch k {
	case KindCounter:
		return "counter"
	case KindHistogram:
		return "histogram"
	case KindGauge:
		return "observable gauge"
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Option configures an instrument at creation. Options passed on later
// lookups of an existing name are ignored.
type Option func(*options)

type options struct {
	unit    string
	buckets []float64
}

// WithUnit sets the instrument unit, e.g. "ms" or "%".
func WithUnit(unit string) Option {
	return func(o *options) { o.unit = unit }
}

// WithBuckets sets explicit histogram bucket boundaries.
func WithBuckets(bounds ...float64) Option {
	return func(o *options) { o.buckets = bounds }
}

type instrument interface {
	kind() Kind
}

// Registry creates instruments on first use and returns the cached
// instrument afterwards.
type Registry struct {
	meter       metric.Meter
	instruments map[string]instrument
	mu          sync.RWMutex
}

// NewRegistry returns a registry backed by meter. A nil meter records
// nothing.
func NewRegistry(meter metric.Meter) *Registry {
	if meter == nil {
		meter = noop.NewMeterProvider().Meter("syspulse")
	}
	return &Registry{
		meter:       meter,
		instruments: make(map[string]instrument),
	}
}

// lookup returns the instrument registered under name, creating it with
// create when absent.
func (r *Registry) lookup(name string, k Kind, create func() (instrument, error)) (instrument, error) {
	r.mu.RLock()
	inst, exists := r.instruments[name]
	r.mu.RUnlock()

	if !exists {
		r.mu.Lock()
		// Double-check after acquiring write lock
		if inst, exists = r.instruments[name]; !exists {
			var err error
			inst, err = create()
			if err != nil {
				r.mu.Unlock()
				return nil, fmt.Errorf("failed to create %s %s: %w", k, name, err)
			}
			r.instruments[name] = inst
		}
		r.mu.Unlock()
	}

	if inst.kind() != k {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", ErrKindMismatch, name, inst.kind(), k)
	}
	return inst, nil
}

// Counter returns the monotonic counter called name.
func (r *Registry) Counter(name, description string, opts ...Option) (*Counter, error) {
	inst, err := r.lookup(name, KindCounter, func() (instrument, error) {
		o := applyOptions(opts)
		c, err := r.meter.Int64Counter(name,
			metric.WithDescription(description),
			metric.WithUnit(o.unit),
		)
		if err != nil {
			return nil, err
		}
		return &Counter{name: name, inst: c}, nil
	})
	if err != nil {
		return nil, err
	}
	return inst.(*Counter), nil
}

// Histogram returns the float histogram called name.
func (r *Registry) Histogram(name, description string, opts ...Option) (*Histogram, error) {
	inst, err := r.lookup(name, KindHistogram, func() (instrument, error) {
		o := applyOptions(opts)
		hopts := []metric.Float64HistogramOption{
			metric.WithDescription(description),
			metric.WithUnit(o.unit),
		}
		if len(o.buckets) > 0 {
			hopts = append(hopts, metric.WithExplicitBucketBoundaries(o.buckets...))
		}
		h, err := r.meter.Float64Histogram(name, hopts...)
		if err != nil {
			return nil, err
		}
		return &Histogram{name: name, inst: h}, nil
	})
	if err != nil {
		return nil, err
	}
	return inst.(*Histogram), nil
}

// ObservableGauge returns the pull-based gauge called name. The gauge has
// no value until a callback is attached with Observe.
func (r *Registry) ObservableGauge(name, description string, opts ...Option) (*ObservableGauge, error) {
	inst, err := r.lookup(name, KindGauge, func() (instrument, error) {
		o := applyOptions(opts)
		g := &ObservableGauge{name: name}
		og, err := r.meter.Float64ObservableGauge(name,
			metric.WithDescription(description),
			metric.WithUnit(o.unit),
		)
		if err != nil {
			return nil, err
		}
		g.inst = og
		reg, err := r.meter.RegisterCallback(g.observe, og)
		if err != nil {
			return nil, fmt.Errorf("failed to register callback: %w", err)
		}
		g.registration = reg
		return g, nil
	})
	if err != nil {
		return nil, err
	}
	return inst.(*ObservableGauge), nil
}

// Names returns the registered instrument names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.instruments))
	for name := range r.instruments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Close unregisters all gauge callbacks.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var errs []error
	for name, inst := range r.instruments {
		g, ok := inst.(*ObservableGauge)
		if !ok || g.registration == nil {
			continue
		}
		if err := g.registration.Unregister(); err != nil {
			errs = append(errs, fmt.Errorf("failed to unregister gauge %s: %w", name, err))
		}
		g.registration = nil
	}
	return errors.Join(errs...)
}

func applyOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Counter is a monotonically increasing int64 counter.
type Counter struct {
	name string
	inst metric.Int64Counter
}

func (*Counter) kind() Kind { return KindCounter }

// Name returns the instrument name.
func (c *Counter) Name() string { return c.name }

// Add increments the counter. Negative deltas are ignored.
func (c *Counter) Add(ctx context.Context, delta int64, attrs ...attribute.KeyValue) {
	if delta < 0 {
		return
	}
	c.inst.Add(ctx, delta, metric.WithAttributes(attrs...))
}

// Histogram records a distribution of float64 values.
type Histogram struct {
	name string
	inst metric.Float64Histogram
}

func (*Histogram) kind() Kind { return KindHistogram }

// Name returns the instrument name.
func (h *Histogram) Name() string { return h.name }

// Record adds value to the distribution.
func (h *Histogram) Record(ctx context.Context, value float64, attrs ...attribute.KeyValue) {
	h.inst.Record(ctx, value, metric.WithAttributes(attrs...))
}

// ObserveFunc returns the latest cached value. It must not block; ok is
// false when there is nothing to report yet.
type ObserveFunc func() (value float64, ok bool)

// ObservableGauge reports the values of its ObserveFuncs at each export.
type ObservableGauge struct {
	name         string
	inst         metric.Float64ObservableGauge
	registration metric.Registration

	mu        sync.RWMutex
	callbacks []ObserveFunc
}

func (*ObservableGauge) kind() Kind { return KindGauge }

// Name returns the instrument name.
func (g *ObservableGauge) Name() string { return g.name }

// Observe attaches fn. Each attached function contributes one observation
// per export.
func (g *ObservableGauge) Observe(fn ObserveFunc) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.callbacks = append(g.callbacks, fn)
}

func (g *ObservableGauge) observe(_ context.Context, o metric.Observer) error {
	g.mu.RLock()
	defer g.mu.RUnlock()
	for _, fn := range g.callbacks {
		if v, ok := fn(); ok {
			o.ObserveFloat64(g.inst, v)
		}
	}
	return nil
}
