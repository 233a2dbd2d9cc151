package stats

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/config"
	"github.com/fyrsmithlabs/syspulse/internal/logging"
	"github.com/fyrsmithlabs/syspulse/internal/metrics"
	"github.com/fyrsmithlabs/syspulse/internal/telemetry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

// fakeProvider returns readings in order, repeating the last.
type fakeProvider struct {
	mu       sync.Mutex
	readings []Reading
	calls    int
	err      error
}

func (p *fakeProvider) Read(context.Context) (Reading, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return Reading{}, p.err
	}
	r := p.readings[min(p.calls, len(p.readings)-1)]
	p.calls++
	return r, nil
}

func reading(idle, total float64, used, mem uint64) Reading {
	return Reading{
		CPU:         CPUTimes{Idle: idle, Total: total},
		TotalMemory: mem,
		UsedMemory:  used,
		FreeMemory:  mem - used,
	}
}

// memSink records inserts and can fail or block.
type memSink struct {
	mu      sync.Mutex
	samples []Sample
	err     error
	block   chan struct{}
}

func (s *memSink) Insert(ctx context.Context, sample Sample) error {
	if s.block != nil {
		select {
		case <-s.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.samples = append(s.samples, sample)
	return nil
}

func (s *memSink) Query(_ context.Context, limit int) ([]Sample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := []Sample{}
	for i := len(s.samples) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, s.samples[i])
	}
	return out, nil
}

func (s *memSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func newTestSampler(t *testing.T, p Provider, opts ...Option) *Sampler {
	t.Helper()
	s, err := New(NewDefaultConfig(), p, opts...)
	require.NoError(t, err)
	return s
}

func TestNew_Validation(t *testing.T) {
	_, err := New(NewDefaultConfig(), nil)
	assert.Error(t, err)

	cfg := NewDefaultConfig()
	cfg.Interval = 0
	_, err = New(cfg, &fakeProvider{})
	assert.ErrorContains(t, err, "stats.interval")
}

func TestCollect_ComputesSample(t *testing.T) {
	p := &fakeProvider{readings: []Reading{
		reading(100, 200, 40, 100),
		reading(125, 300, 90, 100),
	}}
	s := newTestSampler(t, p)
	ctx := context.Background()

	first, err := s.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0.0, first.CPUPercent, "first tick has no baseline")
	assert.Equal(t, 40.0, first.MemoryPercent)

	second, err := s.Collect(ctx)
	require.NoError(t, err)
	assert.Equal(t, 75.0, second.CPUPercent)
	assert.Equal(t, 90.0, second.MemoryPercent)
	assert.Equal(t, uint64(10), second.FreeMemoryBytes)

	latest, ok := s.Cache().Latest()
	require.True(t, ok)
	assert.Equal(t, second, latest)
}

func TestCollect_ProviderError(t *testing.T) {
	p := &fakeProvider{err: errors.New("no /proc")}
	s := newTestSampler(t, p)

	_, err := s.Collect(context.Background())
	assert.Error(t, err)
	_, ok := s.Cache().Latest()
	assert.False(t, ok)

	_, err = s.CurrentStats(context.Background())
	assert.ErrorIs(t, err, ErrNoSample)
}

func TestCurrentStats_UsesCache(t *testing.T) {
	p := &fakeProvider{readings: []Reading{reading(0, 0, 1, 2)}}
	s := newTestSampler(t, p)
	ctx := context.Background()

	first, err := s.CurrentStats(ctx)
	require.NoError(t, err)
	second, err := s.CurrentStats(ctx)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, p.calls)
}

func TestCollect_HighMemoryWarns(t *testing.T) {
	tl := logging.NewTestLogger()
	p := &fakeProvider{readings: []Reading{reading(0, 0, 90, 100)}}
	s := newTestSampler(t, p, WithLogger(tl.Logger))

	_, err := s.Collect(context.Background())
	require.NoError(t, err)
	tl.AssertLogged(t, zapcore.WarnLevel, "High memory")
	tl.AssertField(t, "High memory", "percent", 90.0)
}

func TestCollect_FeedsGaugesAndCounter(t *testing.T) {
	tt := telemetry.NewTestTelemetry(nil)
	defer tt.Stop(context.Background())
	in, err := metrics.NewInstruments(metrics.NewRegistry(tt.Meter()))
	require.NoError(t, err)

	p := &fakeProvider{readings: []Reading{
		reading(0, 100, 30, 100),
		reading(50, 200, 30, 100),
	}}
	s := newTestSampler(t, p, WithInstruments(in))

	_, ok := tt.GaugeValue(t, metrics.NameCPUUsage)
	assert.False(t, ok, "no observation before the first sample")

	ctx := context.Background()
	_, err = s.Collect(ctx)
	require.NoError(t, err)
	_, err = s.Collect(ctx)
	require.NoError(t, err)

	cpu, ok := tt.GaugeValue(t, metrics.NameCPUUsage)
	require.True(t, ok)
	assert.Equal(t, 50.0, cpu)

	mem, ok := tt.GaugeValue(t, metrics.NameMemoryUsed)
	require.True(t, ok)
	assert.Equal(t, 30.0, mem)

	assert.Equal(t, int64(2), tt.CounterValue(t, metrics.NameStatsCollections))
}

func TestCollect_SinkFailureDoesNotBlockSubscribers(t *testing.T) {
	tl := logging.NewTestLogger()
	sink := &memSink{err: errors.New("database is locked")}
	p := &fakeProvider{readings: []Reading{reading(0, 0, 1, 2)}}
	s := newTestSampler(t, p, WithSink(sink), WithLogger(tl.Logger))

	ch, cancel := s.Subscribe()
	defer cancel()

	sample, err := s.Collect(context.Background())
	require.NoError(t, err)

	select {
	case got := <-ch:
		assert.Equal(t, sample, got)
	default:
		t.Fatal("subscriber did not receive sample")
	}
	tl.AssertLogged(t, zapcore.WarnLevel, "Failed to persist stats sample")
}

func TestCollect_SlowSubscriberDoesNotBlockSink(t *testing.T) {
	sink := &memSink{}
	p := &fakeProvider{readings: []Reading{reading(0, 0, 1, 2)}}
	s := newTestSampler(t, p, WithSink(sink))

	_, cancel := s.Subscribe() // never drained
	defer cancel()

	n := NewDefaultConfig().SubscriberBuffer + 5
	for i := 0; i < n; i++ {
		_, err := s.Collect(context.Background())
		require.NoError(t, err)
	}
	assert.Equal(t, n, sink.len())
}

func TestCollect_BlockedSinkIsBounded(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.SinkTimeout = config.Duration(50 * time.Millisecond)
	sink := &memSink{block: make(chan struct{})}
	s, err := New(cfg, &fakeProvider{readings: []Reading{reading(0, 0, 1, 2)}}, WithSink(sink))
	require.NoError(t, err)

	start := time.Now()
	_, err = s.Collect(context.Background())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSubscribe_Cancel(t *testing.T) {
	s := newTestSampler(t, &fakeProvider{readings: []Reading{reading(0, 0, 1, 2)}})
	ch, cancel := s.Subscribe()
	cancel()
	cancel()

	_, open := <-ch
	assert.False(t, open)

	_, err := s.Collect(context.Background())
	require.NoError(t, err)
}

func TestStartStop(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Interval = config.Duration(10 * time.Millisecond)
	sink := &memSink{}
	s, err := New(cfg, &fakeProvider{readings: []Reading{reading(0, 0, 1, 2)}}, WithSink(sink))
	require.NoError(t, err)

	ch, _ := s.Subscribe()
	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.Error(t, s.Start(ctx), "second start fails")

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("no sample within a second")
	}

	assert.Eventually(t, func() bool { return sink.len() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, s.Stop(ctx))
	require.NoError(t, s.Stop(ctx), "stop is idempotent")

	// Subscriber channels are closed on stop
	for range ch {
	}
}

// panickyProvider panics on its first read.
type panickyProvider struct {
	mu    sync.Mutex
	calls int
}

func (p *panickyProvider) Read(context.Context) (Reading, error) {
	p.mu.Lock()
	p.calls++
	first := p.calls == 1
	p.mu.Unlock()
	if first {
		panic("sensor driver crashed")
	}
	return reading(0, 0, 1, 2), nil
}

func TestStartStop_PanicEndsTickNotLoop(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Interval = config.Duration(10 * time.Millisecond)
	tl := logging.NewTestLogger()
	sink := &memSink{}
	s, err := New(cfg, &panickyProvider{}, WithSink(sink), WithLogger(tl.Logger))
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, s.Start(ctx))
	assert.Eventually(t, func() bool { return sink.len() >= 2 }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Stop(ctx))

	tl.AssertLogged(t, zapcore.ErrorLevel, "Uncaught panic")
	tl.AssertField(t, "Uncaught panic", "where", "stats sampler")
}

func TestRecentMetrics(t *testing.T) {
	sink := &memSink{}
	p := &fakeProvider{readings: []Reading{reading(0, 0, 1, 2)}}
	s := newTestSampler(t, p, WithSink(sink))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := s.Collect(ctx)
		require.NoError(t, err)
	}

	got, err := s.RecentMetrics(ctx, 3)
	require.NoError(t, err)
	assert.Len(t, got, 3)

	got, err = s.RecentMetrics(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, got, 5)
}

func TestRecentMetrics_NoSink(t *testing.T) {
	s := newTestSampler(t, &fakeProvider{readings: []Reading{reading(0, 0, 1, 2)}})
	got, err := s.RecentMetrics(context.Background(), 10)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestHostProvider_Read(t *testing.T) {
	r, err := NewHostProvider().Read(context.Background())
	if err != nil {
		t.Skipf("host stats unavailable: %v", err)
	}
	assert.Greater(t, r.TotalMemory, uint64(0))
	assert.Greater(t, r.CPU.Total, 0.0)
	assert.LessOrEqual(t, r.UsedMemory, r.TotalMemory)
}
