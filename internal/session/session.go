// Package session holds the process-scoped identity attached to every log
// record and span emitted during one run of the application.
package session

import (
	"os"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Field names used for session identity in log records.
const (
	FieldSessionID = "sessionId"
	FieldPID       = "pid"
)

// Context identifies one process run. It is created once at startup and
// never mutated.
type Context struct {
	SessionID  string
	ProcessID  int
	StartedAt  time.Time
	AppVersion string
}

// New creates a session with a fresh random id.
func New(appVersion string) *Context {
	return &Context{
		SessionID:  uuid.NewString(),
		ProcessID:  os.Getpid(),
		StartedAt:  time.Now().UTC(),
		AppVersion: appVersion,
	}
}

// ShortID returns the first 8 characters of the session id.
func (c *Context) ShortID() string {
	if len(c.SessionID) < 8 {
		return c.SessionID
	}
	return c.SessionID[:8]
}

// Uptime returns the time elapsed since the session started.
func (c *Context) Uptime() time.Duration {
	return time.Since(c.StartedAt)
}

// Fields returns the zap fields stamped on every log record.
func (c *Context) Fields() []zap.Field {
	if c == nil {
		return nil
	}
	return []zap.Field{
		zap.String(FieldSessionID, c.SessionID),
		zap.Int(FieldPID, c.ProcessID),
	}
}

// Attributes returns the span and resource attributes for this session.
func (c *Context) Attributes() []attribute.KeyValue {
	if c == nil {
		return nil
	}
	return []attribute.KeyValue{
		attribute.String("session.id", c.SessionID),
		attribute.Int("process.pid", c.ProcessID),
	}
}
