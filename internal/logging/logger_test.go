package logging

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/session"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newFileLogger returns a logger writing only to files in a temp dir.
func newFileLogger(t *testing.T, mutate func(*Config)) (*Logger, *session.Context) {
	t.Helper()
	cfg := NewDefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.Level = zapcore.DebugLevel
	cfg.Format = "json"
	cfg.Output.Stdout = false
	cfg.Stacktrace.Level = 0
	if mutate != nil {
		mutate(cfg)
	}

	sess := session.New("test")
	logger, err := NewLogger(cfg, sess, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = logger.Close() })
	return logger, sess
}

// readRecords decodes every line of the single file matching glob.
func readRecords(t *testing.T, dir, glob string) []map[string]interface{} {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(dir, glob))
	require.NoError(t, err)
	require.Len(t, matches, 1, "expected exactly one file for %s", glob)

	data, err := os.ReadFile(matches[0])
	require.NoError(t, err)

	var records []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		if line == "" {
			continue
		}
		var rec map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &rec), line)
		records = append(records, rec)
	}
	return records
}

func TestNewLogger(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.Output.Stdout = false

	logger, err := NewLogger(cfg, nil, nil)
	require.NoError(t, err)
	require.NotNil(t, logger)
	defer logger.Close()

	assert.NotNil(t, logger.zap)
	assert.Equal(t, cfg, logger.Config())
	assert.Equal(t, zapcore.InfoLevel, logger.Level())
}

func TestNewLogger_InvalidConfig(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Format = "xml"

	_, err := NewLogger(cfg, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid config")
}

func TestLogger_RecordShape(t *testing.T) {
	logger, sess := newFileLogger(t, nil)

	logger.Info(context.Background(), "Stats collected", zap.Float64("cpu", 12.5))
	require.NoError(t, logger.Sync())

	records := readRecords(t, logger.config.Dir, "system-pulse-*.log")
	require.Len(t, records, 1)
	rec := records[0]

	assert.Equal(t, "info", rec["level"])
	assert.Equal(t, "Stats collected", rec["message"])
	assert.Equal(t, sess.SessionID, rec["sessionId"])
	assert.Equal(t, float64(sess.ProcessID), rec["pid"])
	assert.Equal(t, 12.5, rec["cpu"])
	assert.Equal(t, "system-pulse", rec["service"])

	ts, ok := rec["timestamp"].(string)
	require.True(t, ok)
	_, err := time.Parse(TimestampLayout, ts)
	assert.NoError(t, err, "timestamp should be ISO-8601 with milliseconds: %s", ts)
}

func TestLogger_FileNameUsesDate(t *testing.T) {
	logger, _ := newFileLogger(t, nil)
	logger.Info(context.Background(), "hello")
	require.NoError(t, logger.Sync())

	want := filepath.Join(logger.config.Dir, "system-pulse-"+time.Now().Format("2006-01-02")+".log")
	assert.FileExists(t, want)
}

func TestLogger_ErrorFileOnlyGetsErrors(t *testing.T) {
	logger, _ := newFileLogger(t, nil)
	ctx := context.Background()

	logger.Debug(ctx, "debug message")
	logger.Info(ctx, "info message")
	logger.Warn(ctx, "warn message")
	logger.Error(ctx, "error message", zap.Error(errors.New("boom")))
	require.NoError(t, logger.Sync())

	all := readRecords(t, logger.config.Dir, "system-pulse-*.log")
	assert.Len(t, all, 4)

	errs := readRecords(t, logger.config.Dir, "errors-*.log")
	require.Len(t, errs, 1)
	assert.Equal(t, "error message", errs[0]["message"])
	assert.Equal(t, "boom", errs[0]["error"])
}

func TestLogger_ErrorFileIgnoresLevel(t *testing.T) {
	logger, _ := newFileLogger(t, nil)
	logger.SetLevel(zapcore.FatalLevel + 1)

	logger.Error(context.Background(), "still recorded")
	require.NoError(t, logger.Sync())

	errs := readRecords(t, logger.config.Dir, "errors-*.log")
	require.Len(t, errs, 1)
	assert.Equal(t, "still recorded", errs[0]["message"])
}

func TestLogger_RedactsMessageAndAttributes(t *testing.T) {
	logger, _ := newFileLogger(t, nil)

	logger.Log(context.Background(), "info", "user bob@example.com from 10.0.0.1", map[string]interface{}{
		"email":  "alice@example.org",
		"nested": map[string]interface{}{"peer": "192.168.1.20"},
		"count":  3,
	})
	logger.With(zap.String("client", "carol@example.net")).Info(context.Background(), "child")
	logger.Error(context.Background(), "failed", zap.Error(errors.New("dial 172.16.0.5: refused")))
	require.NoError(t, logger.Sync())

	records := readRecords(t, logger.config.Dir, "system-pulse-*.log")
	require.Len(t, records, 3)

	assert.Equal(t, "user "+EmailPlaceholder+" from "+IPPlaceholder, records[0]["message"])
	assert.Equal(t, EmailPlaceholder, records[0]["email"])
	assert.Equal(t, map[string]interface{}{"peer": IPPlaceholder}, records[0]["nested"])
	assert.Equal(t, float64(3), records[0]["count"])

	assert.Equal(t, EmailPlaceholder, records[1]["client"])
	assert.Equal(t, "dial "+IPPlaceholder+": refused", records[2]["error"])

	data, err := os.ReadFile(filepath.Join(logger.config.Dir, "errors-"+time.Now().Format("2006-01-02")+".log"))
	require.NoError(t, err)
	assert.NotContains(t, string(data), "172.16.0.5")
}

type peerInfo struct {
	Owner string `json:"owner"`
	Port  int    `json:"port"`
}

func TestLogger_RedactsCollectionsAndStructs(t *testing.T) {
	logger, _ := newFileLogger(t, nil)

	logger.Log(context.Background(), "info", "hello", map[string]interface{}{
		"emails": []string{"alice@example.com", "10.1.2.3"},
		"mixed":  []interface{}{"bob@example.com", 7},
		"peer":   peerInfo{Owner: "carol@example.net", Port: 443},
		"ports":  []int{80, 443},
	})
	logger.Info(context.Background(), "typed",
		zap.Strings("hosts", []string{"192.168.0.1"}),
		zap.Errors("errs", []error{errors.New("to dave@example.com")}),
	)
	require.NoError(t, logger.Sync())

	records := readRecords(t, logger.config.Dir, "system-pulse-*.log")
	require.Len(t, records, 2)

	assert.Equal(t, []interface{}{EmailPlaceholder, IPPlaceholder}, records[0]["emails"])
	assert.Equal(t, []interface{}{EmailPlaceholder, float64(7)}, records[0]["mixed"])
	assert.Equal(t, map[string]interface{}{"owner": EmailPlaceholder, "port": float64(443)}, records[0]["peer"])
	assert.Equal(t, []interface{}{float64(80), float64(443)}, records[0]["ports"])

	assert.Equal(t, []interface{}{IPPlaceholder}, records[1]["hosts"])

	data, err := os.ReadFile(filepath.Join(logger.config.Dir, "system-pulse-"+time.Now().Format("2006-01-02")+".log"))
	require.NoError(t, err)
	for _, leaked := range []string{"alice@example.com", "10.1.2.3", "bob@example.com", "carol@example.net", "192.168.0.1", "dave@example.com"} {
		assert.NotContains(t, string(data), leaked)
	}
}

func TestLogger_LogPrefixesReservedAttributes(t *testing.T) {
	tl := NewTestLogger()
	ctx := WithOperation(context.Background(), "get-system-stats")

	tl.Log(ctx, "info", "collide", map[string]interface{}{
		"level":     "fake",
		"message":   "fake",
		"sessionId": "fake",
		"pid":       1,
		"operation": "other",
		"plain":     "kept",
	})

	tl.AssertField(t, "collide", "operation", "get-system-stats")
	tl.AssertField(t, "collide", AttributePrefix+"operation", "other")
	tl.AssertField(t, "collide", AttributePrefix+"level", "fake")
	tl.AssertField(t, "collide", AttributePrefix+"message", "fake")
	tl.AssertField(t, "collide", AttributePrefix+"sessionId", "fake")
	tl.AssertField(t, "collide", "plain", "kept")
}

func TestLogger_LogLevels(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()

	tests := []struct {
		level string
		want  zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			tl.Reset()
			tl.Log(ctx, tt.level, tt.level+" message", nil)
			tl.AssertLogged(t, tt.want, tt.level+" message")
		})
	}
}

func TestLogger_LogUnknownLevelFallsBackToInfo(t *testing.T) {
	tl := NewTestLogger()
	tl.Log(context.Background(), "verbose", "odd level", map[string]interface{}{"k": "v"})

	tl.AssertLogged(t, zapcore.InfoLevel, "odd level")
	tl.AssertField(t, "odd level", "requested_level", "verbose")
	tl.AssertField(t, "odd level", "k", "v")
}

func TestLogger_SetLevel(t *testing.T) {
	tl := NewTestLogger()
	ctx := context.Background()
	child := tl.Named("child")

	tl.SetLevel(zapcore.WarnLevel)
	tl.Info(ctx, "dropped")
	child.Info(ctx, "dropped too")
	child.Warn(ctx, "kept")

	assert.Len(t, tl.All(), 1)
	tl.AssertLogged(t, zapcore.WarnLevel, "kept")
	assert.Equal(t, zapcore.WarnLevel, child.Level())
}

func TestLogger_TraceCorrelation(t *testing.T) {
	tl := NewTestLogger()

	traceID, _ := trace.TraceIDFromHex("0102030405060708090a0b0c0d0e0f10")
	spanID, _ := trace.SpanIDFromHex("0102030405060708")
	sc := trace.NewSpanContext(trace.SpanContextConfig{
		TraceID:    traceID,
		SpanID:     spanID,
		TraceFlags: trace.FlagsSampled,
	})
	ctx := trace.ContextWithSpanContext(context.Background(), sc)

	tl.Info(ctx, "correlated")
	tl.AssertTraceCorrelation(t, "correlated")
	tl.AssertField(t, "correlated", "trace_id", traceID.String())
}

func TestLogger_CloseIsIdempotent(t *testing.T) {
	logger, _ := newFileLogger(t, nil)
	logger.Info(context.Background(), "before close")

	require.NoError(t, logger.Close())
	require.NoError(t, logger.Close())
}

func TestLogger_SinkFailureDoesNotPropagate(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0600))

	cfg := NewDefaultConfig()
	cfg.Dir = filepath.Join(blocker, "logs")
	cfg.Output.Stdout = false

	logger, err := NewLogger(cfg, nil, nil)
	require.NoError(t, err)

	assert.NotPanics(t, func() {
		logger.Info(context.Background(), "goes nowhere")
		logger.Error(context.Background(), "also nowhere")
	})
	assert.NoError(t, logger.Sync())
	assert.NoError(t, logger.Close())
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	assert.NotPanics(t, func() {
		l.Info(context.Background(), "nothing")
		_ = l.Close()
	})
	entries, err := l.RecentEntries(10)
	require.NoError(t, err)
	assert.Empty(t, entries)
}
