package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/logging"
	"github.com/fyrsmithlabs/syspulse/internal/metrics"
	"github.com/fyrsmithlabs/syspulse/internal/session"
	"github.com/fyrsmithlabs/syspulse/internal/stats"
	"github.com/fyrsmithlabs/syspulse/internal/telemetry"
	"github.com/fyrsmithlabs/syspulse/internal/tracing"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.uber.org/zap/zapcore"
)

type logCall struct {
	level, msg string
	attrs      map[string]interface{}
}

// fakeService records calls and returns canned data.
type fakeService struct {
	mu         sync.Mutex
	sample     stats.Sample
	statsErr   error
	history    []stats.Sample
	historyArg int
	entries    []logging.Entry
	entriesErr error
	countArg   int
	logs       []logCall
	enabled    bool
	rate       float64
	onStats    func(ctx context.Context)
}

func newFakeService() *fakeService {
	return &fakeService{
		sample:  stats.Sample{CPUPercent: 12, MemoryPercent: 48, Timestamp: time.Unix(1700000000, 0).UTC()},
		enabled: true,
		rate:    1,
	}
}

func (f *fakeService) SystemStats(ctx context.Context) (stats.Sample, error) {
	if f.onStats != nil {
		f.onStats(ctx)
	}
	return f.sample, f.statsErr
}

func (f *fakeService) RecentMetrics(_ context.Context, limit int) ([]stats.Sample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.historyArg = limit
	return f.history, nil
}

func (f *fakeService) RecentEntries(count int) ([]logging.Entry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.countArg = count
	return f.entries, f.entriesErr
}

func (f *fakeService) Log(_ context.Context, level, msg string, attrs map[string]interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logs = append(f.logs, logCall{level, msg, attrs})
}

func (f *fakeService) SetTelemetryEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.enabled = enabled
}

func (f *fakeService) SetSampleRate(rate float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rate = rate
}

func (f *fakeService) TelemetryHealth() telemetry.HealthStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	return telemetry.HealthStatus{State: "started", Enabled: f.enabled, SampleRate: f.rate}
}

func (f *fakeService) TriggerTestError(context.Context) error {
	return errors.New("Intentional test error for observability validation")
}

func setupTestServer(t *testing.T, opts ...Option) (*Server, *fakeService) {
	t.Helper()
	svc := newFakeService()
	server, err := NewServer(svc, logging.NewNop(), nil, opts...)
	require.NoError(t, err)
	return server, svc
}

func do(t *testing.T, s *Server, method, target string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, target, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestNewServer(t *testing.T) {
	t.Run("uses defaults when config is nil", func(t *testing.T) {
		server, _ := setupTestServer(t)
		assert.Equal(t, "localhost", server.config.Host)
		assert.Equal(t, 9464, server.config.Port)
		assert.Equal(t, "localhost:9464", server.config.Addr())
	})

	t.Run("returns error when logger is nil", func(t *testing.T) {
		_, err := NewServer(newFakeService(), nil, nil)
		assert.ErrorContains(t, err, "logger is required")
	})

	t.Run("returns error when service is nil", func(t *testing.T) {
		_, err := NewServer(nil, logging.NewNop(), nil)
		assert.ErrorContains(t, err, "service cannot be nil")
	})
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, NewDefaultConfig().Validate())
	assert.Error(t, (&Config{Port: 70000}).Validate())
}

func TestHandleHealth(t *testing.T) {
	sess := session.New("1.0.0")
	server, _ := setupTestServer(t, WithSession(sess))

	rec := do(t, server, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, sess.SessionID, resp.SessionID)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.Equal(t, "started", resp.Telemetry.State)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
}

func TestHandleStats(t *testing.T) {
	t.Run("returns the sample", func(t *testing.T) {
		server, svc := setupTestServer(t)
		rec := do(t, server, http.MethodGet, "/api/v1/stats", nil)
		require.Equal(t, http.StatusOK, rec.Code)

		var got stats.Sample
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
		assert.Equal(t, svc.sample, got)
		assert.Contains(t, rec.Body.String(), `"cpuPercent":12`)
		assert.Contains(t, rec.Body.String(), `"usedMemoryPercent":48`)
	})

	t.Run("no sample yet", func(t *testing.T) {
		server, svc := setupTestServer(t)
		svc.statsErr = stats.ErrNoSample
		rec := do(t, server, http.MethodGet, "/api/v1/stats", nil)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	})
}

func TestHandleStatsHistory(t *testing.T) {
	server, svc := setupTestServer(t)
	svc.history = []stats.Sample{{CPUPercent: 3}, {CPUPercent: 2}}

	rec := do(t, server, http.MethodGet, "/api/v1/stats/history?limit=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, svc.historyArg)

	var got []stats.Sample
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got, 2)

	do(t, server, http.MethodGet, "/api/v1/stats/history", nil)
	assert.Equal(t, stats.DefaultHistoryLimit, svc.historyArg)

	rec = do(t, server, http.MethodGet, "/api/v1/stats/history?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleLogs(t *testing.T) {
	server, svc := setupTestServer(t)
	svc.entries = []logging.Entry{{Level: "info", Message: "newest"}, {Level: "warn", Message: "older"}}

	rec := do(t, server, http.MethodGet, "/api/v1/logs?count=2", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, svc.countArg)

	var got []logging.Entry
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	require.Len(t, got, 2)
	assert.Equal(t, "newest", got[0].Message)

	do(t, server, http.MethodGet, "/api/v1/logs?count=0", nil)
	assert.Equal(t, logging.DefaultRecentCount, svc.countArg)
}

func TestHandleLogs_ReadErrorYieldsEmptyList(t *testing.T) {
	server, svc := setupTestServer(t)
	svc.entriesErr = errors.New("permission denied")

	rec := do(t, server, http.MethodGet, "/api/v1/logs", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestHandleWriteLog(t *testing.T) {
	server, svc := setupTestServer(t)

	rec := do(t, server, http.MethodPost, "/api/v1/logs", LogRequest{
		Level:      "warn",
		Message:    "renderer failed to draw",
		Attributes: map[string]interface{}{"view": "main"},
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	require.Len(t, svc.logs, 1)
	assert.Equal(t, "warn", svc.logs[0].level)
	assert.Equal(t, "renderer failed to draw", svc.logs[0].msg)
	assert.Equal(t, "main", svc.logs[0].attrs["view"])

	rec = do(t, server, http.MethodPost, "/api/v1/logs", LogRequest{Level: "info"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleSetTelemetry(t *testing.T) {
	server, svc := setupTestServer(t)

	disabled := false
	rec := do(t, server, http.MethodPut, "/api/v1/telemetry", TelemetryRequest{Enabled: &disabled})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, svc.enabled)

	var health telemetry.HealthStatus
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	assert.False(t, health.Enabled)

	rate := 0.25
	rec = do(t, server, http.MethodPut, "/api/v1/telemetry", TelemetryRequest{SampleRate: &rate})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0.25, svc.rate)

	bad := 2.0
	rec = do(t, server, http.MethodPut, "/api/v1/telemetry", TelemetryRequest{SampleRate: &bad})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server, http.MethodPut, "/api/v1/telemetry", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, server, http.MethodGet, "/api/v1/telemetry", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleTestError(t *testing.T) {
	server, _ := setupTestServer(t)

	rec := do(t, server, http.MethodPost, "/api/v1/test-error", nil)
	require.Equal(t, http.StatusInternalServerError, rec.Code)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "Intentional test error for observability validation", resp.Error)
}

func TestMetricsRoute(t *testing.T) {
	t.Run("absent without handler", func(t *testing.T) {
		server, _ := setupTestServer(t)
		rec := do(t, server, http.MethodGet, "/metrics", nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("serves handler", func(t *testing.T) {
		h := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("go_goroutines 7\n"))
		})
		server, _ := setupTestServer(t, WithMetricsHandler(h))
		rec := do(t, server, http.MethodGet, "/metrics", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), "go_goroutines")
	})
}

func TestRequestMetrics(t *testing.T) {
	tt := telemetry.NewTestTelemetry(nil)
	defer tt.Stop(context.Background())

	server, _ := setupTestServer(t, WithRegistry(metrics.NewRegistry(tt.Meter())))

	do(t, server, http.MethodGet, "/health", nil)
	do(t, server, http.MethodGet, "/health", nil)
	do(t, server, http.MethodPost, "/api/v1/test-error", nil)
	do(t, server, http.MethodGet, "/api/v1/stats/history?limit=x", nil)

	health := attribute.String("endpoint", "/health")
	assert.Equal(t, int64(2), tt.CounterValue(t, NameRequests, health, attribute.Int("status", 200)))
	assert.Equal(t, int64(1), tt.CounterValue(t, NameRequests,
		attribute.String("endpoint", "/api/v1/test-error"), attribute.Int("status", 500)))
	assert.Equal(t, int64(1), tt.CounterValue(t, NameRequests,
		attribute.String("endpoint", "/api/v1/stats/history"), attribute.Int("status", 400)))
	assert.Equal(t, uint64(2), tt.HistogramCount(t, NameRequestDuration, health))
}

func TestRequestTracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	defer func() { _ = tp.Shutdown(context.Background()) }()

	var mu sync.Mutex
	enabled, sampled := true, true
	var seen []bool
	svc := newFakeService()
	svc.onStats = func(ctx context.Context) {
		decision, ok := tracing.SamplingFromContext(ctx)
		require.True(t, ok)
		mu.Lock()
		seen = append(seen, decision)
		mu.Unlock()
	}
	server, err := NewServer(svc, logging.NewNop(), nil,
		WithTracing(tp, func(context.Context) bool {
			mu.Lock()
			defer mu.Unlock()
			return sampled
		}),
		WithEnabled(func() bool {
			mu.Lock()
			defer mu.Unlock()
			return enabled
		}),
	)
	require.NoError(t, err)

	rec := do(t, server, http.MethodGet, "/api/v1/stats", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "GET /api/v1/stats", spans[0].Name())

	t.Run("metrics scrapes untraced", func(t *testing.T) {
		do(t, server, http.MethodGet, "/metrics", nil)
		assert.Len(t, recorder.Ended(), 1)
	})

	t.Run("unsampled", func(t *testing.T) {
		mu.Lock()
		sampled = false
		mu.Unlock()
		for i := 0; i < 10; i++ {
			rec := do(t, server, http.MethodGet, "/api/v1/stats", nil)
			require.Equal(t, http.StatusOK, rec.Code)
		}
		assert.Len(t, recorder.Ended(), 1)
	})

	t.Run("disabled", func(t *testing.T) {
		mu.Lock()
		enabled, sampled = false, true
		mu.Unlock()
		do(t, server, http.MethodGet, "/api/v1/stats", nil)
		assert.Len(t, recorder.Ended(), 1)
	})

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, seen, 12)
	assert.True(t, seen[0])
	for _, d := range seen[1:] {
		assert.False(t, d, "handlers see the request's decision")
	}
}

func TestRequestMetrics_Disabled(t *testing.T) {
	tt := telemetry.NewTestTelemetry(nil)
	defer tt.Stop(context.Background())

	server, _ := setupTestServer(t,
		WithRegistry(metrics.NewRegistry(tt.Meter())),
		WithEnabled(tt.Enabled),
	)

	do(t, server, http.MethodGet, "/health", nil)
	tt.SetEnabled(false)
	do(t, server, http.MethodGet, "/health", nil)
	do(t, server, http.MethodPost, "/api/v1/test-error", nil)

	assert.Equal(t, int64(1), tt.CounterValue(t, NameRequests))
	assert.Equal(t, uint64(1), tt.HistogramCount(t, NameRequestDuration))
}

func TestPanicIsLoggedThroughLogger(t *testing.T) {
	tl := logging.NewTestLogger()
	svc := newFakeService()
	svc.onStats = func(context.Context) { panic("provider exploded") }
	server, err := NewServer(svc, tl.Logger, nil)
	require.NoError(t, err)

	rec := do(t, server, http.MethodGet, "/api/v1/stats", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)

	tl.AssertLogged(t, zapcore.ErrorLevel, "HTTP handler panicked")
	tl.AssertField(t, "HTTP handler panicked", "path", "/api/v1/stats")
	tl.AssertField(t, "HTTP handler panicked", "error", "provider exploded")
}

func TestStartShutdown(t *testing.T) {
	svc := newFakeService()
	server, err := NewServer(svc, logging.NewNop(), &Config{Host: "127.0.0.1", Port: 0})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, server.Shutdown(ctx))

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, http.ErrServerClosed)
	case <-time.After(2 * time.Second):
		t.Fatal("server did not stop")
	}
}
