package stats

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/logging"
	"github.com/fyrsmithlabs/syspulse/internal/metrics"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// DefaultHistoryLimit is the number of persisted samples returned by
// RecentMetrics when no positive limit is given.
const DefaultHistoryLimit = 100

// Sink persists samples.
type Sink interface {
	Insert(ctx context.Context, s Sample) error
	Query(ctx context.Context, limit int) ([]Sample, error)
}

// Sampler collects a Sample on a fixed period, caches it for gauges and
// fans it out to subscribers and the sink.
type Sampler struct {
	config      *Config
	provider    Provider
	sink        Sink
	cache       *Cache
	instruments *metrics.Instruments
	logger      *logging.Logger
	now         func() time.Time

	cpu cpuTracker

	subMu  sync.Mutex
	subs   map[int]chan Sample
	nextID int

	runMu  sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}

	sinkReport *rate.Sometimes
	dropReport *rate.Sometimes
}

// Option configures a Sampler.
type Option func(*Sampler)

// WithSink sets the persistence sink.
func WithSink(s Sink) Option {
	return func(sm *Sampler) { sm.sink = s }
}

// WithInstruments registers the CPU and memory gauges on the cache and
// counts collections.
func WithInstruments(in *metrics.Instruments) Option {
	return func(sm *Sampler) { sm.instruments = in }
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(sm *Sampler) { sm.logger = l }
}

// WithCache shares an existing cache.
func WithCache(c *Cache) Option {
	return func(sm *Sampler) { sm.cache = c }
}

// New creates a stopped sampler.
func New(cfg *Config, provider Provider, opts ...Option) (*Sampler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid stats config: %w", err)
	}
	if provider == nil {
		return nil, errors.New("stats provider is required")
	}

	s := &Sampler{
		config:     cfg,
		provider:   provider,
		cache:      NewCache(),
		logger:     logging.NewNop(),
		now:        time.Now,
		subs:       make(map[int]chan Sample),
		sinkReport: &rate.Sometimes{First: 1, Interval: time.Minute},
		dropReport: &rate.Sometimes{First: 1, Interval: time.Minute},
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.instruments != nil {
		s.instruments.CPUUsage.Observe(s.cache.CPUPercent)
		s.instruments.MemoryUsed.Observe(s.cache.MemoryPercent)
	}
	return s, nil
}

// Cache returns the sampler's cache.
func (s *Sampler) Cache() *Cache {
	return s.cache
}

// Start runs the sampling loop until Stop or ctx is done. The first sample
// is taken immediately.
func (s *Sampler) Start(ctx context.Context) error {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	if s.cancel != nil {
		return errors.New("sampler already running")
	}

	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})

	go s.loop(ctx, s.done)

	s.logger.Info(ctx, "Stats sampler started",
		zap.Duration("interval", s.config.Interval.Duration()),
	)
	return nil
}

func (s *Sampler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.config.Interval.Duration())
	defer ticker.Stop()

	for {
		s.tick(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// tick collects one sample. A panic ends the tick, not the loop.
func (s *Sampler) tick(ctx context.Context) {
	defer s.logger.Recover(ctx, "stats sampler")
	if _, err := s.Collect(ctx); err != nil && ctx.Err() == nil {
		s.logger.Warn(ctx, "Stats collection failed", zap.Error(err))
	}
}

// Stop halts the loop and waits for the in-flight tick, bounded by ctx.
// Subscriber channels are closed.
func (s *Sampler) Stop(ctx context.Context) error {
	s.runMu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.runMu.Unlock()

	if cancel == nil {
		return nil
	}
	cancel()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		err = fmt.Errorf("stopping stats sampler: %w", ctx.Err())
	}

	s.subMu.Lock()
	for id, ch := range s.subs {
		close(ch)
		delete(s.subs, id)
	}
	s.subMu.Unlock()

	s.logger.Info(ctx, "Stats sampler stopped")
	return err
}

// Collect takes one sample now: it updates the cache, counts the
// collection, then hands the sample to subscribers and the sink. Neither
// delivery can block or fail the other.
func (s *Sampler) Collect(ctx context.Context) (Sample, error) {
	r, err := s.provider.Read(ctx)
	if err != nil {
		return Sample{}, err
	}

	sample := Sample{
		CPUPercent:       s.cpu.percent(r.CPU),
		MemoryPercent:    memoryPercent(r.UsedMemory, r.TotalMemory),
		TotalMemoryBytes: r.TotalMemory,
		FreeMemoryBytes:  r.FreeMemory,
		UsedMemoryBytes:  r.UsedMemory,
		UptimeSeconds:    r.UptimeSeconds,
		Platform:         r.Platform,
		Hostname:         r.Hostname,
		Timestamp:        s.now().UTC(),
	}
	s.cache.Store(sample)

	if s.instruments != nil {
		s.instruments.StatsCollections.Add(ctx, 1)
	}

	s.logger.Debug(ctx, "Stats collected",
		zap.Float64("cpu", sample.CPUPercent),
		zap.Float64("memory", sample.MemoryPercent),
	)
	if sample.MemoryPercent > s.config.HighMemoryPercent {
		s.logger.Warn(ctx, "High memory", zap.Float64("percent", sample.MemoryPercent))
	}

	s.publish(ctx, sample)
	s.persist(ctx, sample)
	return sample, nil
}

// CurrentStats returns the latest cached sample, collecting one if none
// exists yet.
func (s *Sampler) CurrentStats(ctx context.Context) (Sample, error) {
	if sample, ok := s.cache.Latest(); ok {
		return sample, nil
	}
	sample, err := s.Collect(ctx)
	if err != nil {
		return Sample{}, fmt.Errorf("%w: %v", ErrNoSample, err)
	}
	return sample, nil
}

// RecentMetrics returns up to limit persisted samples, newest first.
func (s *Sampler) RecentMetrics(ctx context.Context, limit int) ([]Sample, error) {
	if s.sink == nil {
		return []Sample{}, nil
	}
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	return s.sink.Query(ctx, limit)
}

// Subscribe returns a channel receiving every new sample and a function
// that cancels the subscription. A subscriber that falls behind misses
// samples; it never slows the sampler.
func (s *Sampler) Subscribe() (<-chan Sample, func()) {
	ch := make(chan Sample, s.config.SubscriberBuffer)

	s.subMu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = ch
	s.subMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subMu.Lock()
			defer s.subMu.Unlock()
			if c, ok := s.subs[id]; ok {
				close(c)
				delete(s.subs, id)
			}
		})
	}
}

func (s *Sampler) publish(ctx context.Context, sample Sample) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	for _, ch := range s.subs {
		select {
		case ch <- sample:
		default:
			s.dropReport.Do(func() {
				s.logger.Debug(ctx, "Stats subscriber is behind, dropping sample")
			})
		}
	}
}

func (s *Sampler) persist(ctx context.Context, sample Sample) {
	if s.sink == nil {
		return
	}

	// Detached so a stopping loop still writes its last sample
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.config.SinkTimeout.Duration())
	defer cancel()

	if err := s.sink.Insert(ctx, sample); err != nil {
		s.sinkReport.Do(func() {
			s.logger.Warn(ctx, "Failed to persist stats sample", zap.Error(err))
		})
	}
}
