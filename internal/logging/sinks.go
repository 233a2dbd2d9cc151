// internal/logging/sinks.go
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/time/rate"
)

// TimestampLayout is ISO-8601 with millisecond precision.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// sinks owns the writers that need closing.
type sinks struct {
	core  zapcore.Core
	files []*RotatingFile
	main  *RotatingFile
}

func (s *sinks) Close() error {
	var firstErr error
	for _, f := range s.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// newSinks builds the console, file, error-file and OTEL cores.
//
// Console and file cores follow level; the error-file core always takes
// error and above.
func newSinks(cfg *Config, level zap.AtomicLevel, otelProvider log.LoggerProvider) (*sinks, error) {
	redactor, err := NewRedactor(cfg.Redaction)
	if err != nil {
		return nil, fmt.Errorf("failed to create redactor: %w", err)
	}

	s := &sinks{}
	cores := make([]zapcore.Core, 0, 4)

	if cfg.Output.Stdout {
		enc := NewRedactingEncoder(newEncoder(cfg.Format), redactor)
		cores = append(cores, zapcore.NewCore(enc, newSafeWriter("stdout", zapcore.Lock(os.Stdout)), level))
	}

	if cfg.Output.File {
		s.main = NewRotatingFile(cfg.Dir, cfg.File)
		s.files = append(s.files, s.main)
		enc := NewRedactingEncoder(newEncoder("json"), redactor)
		cores = append(cores, zapcore.NewCore(enc, newSafeWriter(cfg.File.Prefix, s.main), level))
	}

	if cfg.Output.ErrorFile {
		ef := NewRotatingFile(cfg.Dir, cfg.ErrorFile)
		s.files = append(s.files, ef)
		enc := NewRedactingEncoder(newEncoder("json"), redactor)
		cores = append(cores, zapcore.NewCore(enc, newSafeWriter(cfg.ErrorFile.Prefix, ef), zapcore.ErrorLevel))
	}

	if cfg.Output.OTEL && otelProvider != nil {
		cores = append(cores, &redactingCore{
			Core: otelzap.NewCore("syspulse",
				otelzap.WithLoggerProvider(otelProvider),
			),
			redactor: redactor,
			level:    level,
		})
	}

	if len(cores) == 0 {
		return nil, fmt.Errorf("at least one output must be enabled and available")
	}

	var core zapcore.Core
	if len(cores) == 1 {
		core = cores[0]
	} else {
		core = zapcore.NewTee(cores...)
	}
	s.core = newSampledCore(core, cfg.Sampling)
	return s, nil
}

// newEncoder creates JSON or console encoder producing
// {timestamp, level, message, ...fields}.
func newEncoder(format string) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "timestamp"
	encoderCfg.LevelKey = "level"
	encoderCfg.MessageKey = "message"
	encoderCfg.StacktraceKey = "stack"
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(TimestampLayout)
	encoderCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	encoderCfg.EncodeDuration = zapcore.MillisDurationEncoder

	if format == "console" {
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoderCfg.ConsoleSeparator = " "
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}

// safeWriter never fails a write. Sink errors are reported to stderr at
// most once a minute.
type safeWriter struct {
	name     string
	ws       zapcore.WriteSyncer
	fallback io.Writer
	report   *rate.Sometimes
}

func newSafeWriter(name string, ws zapcore.WriteSyncer) *safeWriter {
	return &safeWriter{
		name:     name,
		ws:       ws,
		fallback: os.Stderr,
		report:   &rate.Sometimes{First: 1, Interval: time.Minute},
	}
}

func (w *safeWriter) Write(p []byte) (int, error) {
	if _, err := w.ws.Write(p); err != nil {
		w.reportErr("write", err)
	}
	return len(p), nil
}

func (w *safeWriter) Sync() error {
	if err := w.ws.Sync(); err != nil && !isStdoutSyncError(err) {
		w.reportErr("sync", err)
	}
	return nil
}

func (w *safeWriter) reportErr(op string, err error) {
	w.report.Do(func() {
		fmt.Fprintf(w.fallback, "syspulse: log sink %s %s failed: %v\n", w.name, op, err)
	})
}

// redactingCore redacts entries for cores that do not encode through a
// zapcore.Encoder.
type redactingCore struct {
	zapcore.Core
	redactor *Redactor
	level    zapcore.LevelEnabler
}

func (c *redactingCore) Enabled(lvl zapcore.Level) bool {
	return c.level.Enabled(lvl)
}

func (c *redactingCore) With(fields []zapcore.Field) zapcore.Core {
	return &redactingCore{
		Core:     c.Core.With(c.redactFields(fields)),
		redactor: c.redactor,
		level:    c.level,
	}
}

func (c *redactingCore) Check(e zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(e.Level) {
		return ce.AddCore(e, c)
	}
	return ce
}

func (c *redactingCore) Write(e zapcore.Entry, fields []zapcore.Field) error {
	e.Message = c.redactor.String("", e.Message)
	e.Stack = ScrubPII(e.Stack)
	return c.Core.Write(e, c.redactFields(fields))
}

func (c *redactingCore) redactFields(fields []zapcore.Field) []zapcore.Field {
	out := make([]zapcore.Field, len(fields))
	for i, f := range fields {
		out[i] = c.redactor.Field(f)
	}
	return out
}
