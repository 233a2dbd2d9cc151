// internal/logging/logger.go
package logging

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"syscall"

	"github.com/fyrsmithlabs/syspulse/internal/session"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger wraps Zap with context-aware methods.
//
// Every record carries the session ID and process ID of the session it was
// created for. Child loggers from With and Named share level and sinks with
// their parent.
type Logger struct {
	zap    *zap.Logger
	config *Config
	level  zap.AtomicLevel
	sinks  *sinks
	closer *sync.Once
}

// NewLogger creates a logger from config.
// sess may be nil for tools that run outside a session; otelProvider can be
// nil to disable OTEL output.
func NewLogger(cfg *Config, sess *session.Context, otelProvider log.LoggerProvider) (*Logger, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	level := zap.NewAtomicLevelAt(cfg.Level)
	s, err := newSinks(cfg, level, otelProvider)
	if err != nil {
		return nil, fmt.Errorf("failed to create sinks: %w", err)
	}

	opts := []zap.Option{}
	if cfg.Caller.Enabled {
		opts = append(opts, zap.AddCaller(), zap.AddCallerSkip(cfg.Caller.Skip))
	}
	if cfg.Stacktrace.Level != 0 {
		opts = append(opts, zap.AddStacktrace(cfg.Stacktrace.Level))
	}

	zapLogger := zap.New(s.core, opts...)

	fields := sess.Fields()
	keys := make([]string, 0, len(cfg.Fields))
	for k := range cfg.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fields = append(fields, zap.String(k, cfg.Fields[k]))
	}
	if len(fields) > 0 {
		zapLogger = zapLogger.With(fields...)
	}

	return &Logger{
		zap:    zapLogger,
		config: cfg,
		level:  level,
		sinks:  s,
		closer: &sync.Once{},
	}, nil
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{
		zap:    zap.NewNop(),
		config: NewDefaultConfig(),
		level:  zap.NewAtomicLevel(),
		closer: &sync.Once{},
	}
}

// AttributePrefix is prepended to caller attributes whose key collides
// with a record key.
const AttributePrefix = "attr."

var reservedKeys = map[string]bool{
	"timestamp":            true,
	"level":                true,
	"message":              true,
	"stack":                true,
	"caller":               true,
	"logger":               true,
	session.FieldSessionID: true,
	session.FieldPID:       true,
}

// Log writes msg at the named level with attrs as fields. Unknown level
// names log at info. Attribute keys are written in sorted order; keys
// that collide with record or correlation keys get AttributePrefix.
func (l *Logger) Log(ctx context.Context, level, msg string, attrs map[string]interface{}) {
	lvl, err := LevelFromString(level)
	fields := ContextFields(ctx)
	if err != nil {
		fields = append(fields, zap.String("requested_level", level))
	}

	taken := make(map[string]bool, len(fields))
	for _, f := range fields {
		taken[f.Key] = true
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		name := k
		if reservedKeys[k] || taken[k] {
			name = AttributePrefix + k
		}
		fields = append(fields, zap.Any(name, attrs[k]))
	}

	if ce := l.zap.Check(lvl, msg); ce != nil {
		ce.Write(fields...)
	}
}

// Context-aware logging methods

func (l *Logger) Debug(ctx context.Context, msg string, fields ...zap.Field) {
	allFields := append(ContextFields(ctx), fields...)
	l.zap.Debug(msg, allFields...)
}

func (l *Logger) Info(ctx context.Context, msg string, fields ...zap.Field) {
	allFields := append(ContextFields(ctx), fields...)
	l.zap.Info(msg, allFields...)
}

func (l *Logger) Warn(ctx context.Context, msg string, fields ...zap.Field) {
	allFields := append(ContextFields(ctx), fields...)
	l.zap.Warn(msg, allFields...)
}

func (l *Logger) Error(ctx context.Context, msg string, fields ...zap.Field) {
	allFields := append(ContextFields(ctx), fields...)
	l.zap.Error(msg, allFields...)
}

// SetLevel changes the minimum level of this logger, its parent and all
// its children. The error file keeps receiving errors regardless.
func (l *Logger) SetLevel(level zapcore.Level) {
	l.level.SetLevel(level)
}

// Level returns the current minimum level.
func (l *Logger) Level() zapcore.Level {
	return l.level.Level()
}

// Child logger creation

func (l *Logger) With(fields ...zap.Field) *Logger {
	child := *l
	child.zap = l.zap.With(fields...)
	return &child
}

func (l *Logger) Named(name string) *Logger {
	child := *l
	child.zap = l.zap.Named(name)
	return &child
}

// Enabled returns true if the given level is enabled.
func (l *Logger) Enabled(level zapcore.Level) bool {
	return l.zap.Core().Enabled(level)
}

// Sync flushes any buffered log entries.
func (l *Logger) Sync() error {
	err := l.zap.Sync()
	if err != nil && isStdoutSyncError(err) {
		return nil
	}
	return err
}

// Close flushes and closes the log files. It is safe to call more than
// once; later writes reopen the files.
func (l *Logger) Close() error {
	err := l.Sync()
	l.closer.Do(func() {
		if l.sinks != nil {
			if cerr := l.sinks.Close(); cerr != nil && err == nil {
				err = cerr
			}
		}
	})
	return err
}

// Sweep applies file retention now.
func (l *Logger) Sweep() error {
	if l.sinks == nil {
		return nil
	}
	var errs []error
	for _, f := range l.sinks.files {
		if err := f.Sweep(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Config returns the configuration the logger was built from.
func (l *Logger) Config() *Config {
	return l.config
}

// Underlying returns the underlying zap.Logger.
// Useful when integrating with libraries that require a *zap.Logger.
func (l *Logger) Underlying() *zap.Logger {
	return l.zap
}

// isStdoutSyncError checks if error is harmless stdout/stderr sync error.
// On Linux, syncing stdout/stderr returns EINVAL or ENOTTY which are safe to ignore.
func isStdoutSyncError(err error) bool {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EINVAL || errno == syscall.ENOTTY
	}
	return false
}
