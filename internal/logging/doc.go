// Package logging provides structured logging for syspulse.
//
// # Overview
//
// Logging package wraps Zap with:
//   - Session identity (sessionId, pid) on every record
//   - Fan-out to console, a daily rotating JSON file, an errors-only file
//     and optionally OpenTelemetry
//   - Email and IPv4 scrubbing of messages and attributes, plus
//     configurable key and pattern redaction
//   - Read-back of recent records from the current log file
//   - Level-aware sampling (errors never sampled)
//
// # Usage
//
//	cfg := logging.NewDefaultConfig()
//	logger, err := logging.NewLogger(cfg, session.New(version), nil)
//	if err != nil {
//	    return err
//	}
//	defer logger.Close()
//
//	logger.Info(ctx, "Stats collected", zap.Float64("cpu", 12.5))
//	logger.Log(ctx, "warn", "from renderer", map[string]interface{}{"view": "main"})
//
// File records look like:
//
//	{"timestamp":"2025-11-24T10:15:30.123+01:00","level":"info",
//	 "message":"Stats collected","sessionId":"6f1c...","pid":4242,"cpu":12.5}
//
// # Files
//
// The main file is <prefix>-YYYY-MM-DD.log (default prefix system-pulse)
// and the error file errors-YYYY-MM-DD.log. A size rollover within a day
// adds an index: system-pulse-2025-11-24.1.log. Retention removes files
// older than max_age and the oldest files beyond max_files.
//
// A failing sink never fails the caller; the error is reported on stderr
// at most once a minute.
//
// # Testing
//
//	tl := logging.NewTestLogger()
//	tl.Info(ctx, "test message", zap.String("key", "value"))
//	tl.AssertLogged(t, zapcore.InfoLevel, "test message")
//	tl.AssertField(t, "test message", "key", "value")
//
// # Concurrency Safety
//
// Logger is safe for concurrent use. SetLevel affects the logger and every
// child created from it.
package logging
