// internal/logging/recover.go
package logging

import (
	"context"

	"go.uber.org/zap"
)

// Recover logs a panic in progress at error level and swallows it.
// It must be deferred directly:
//
//	defer logger.Recover(ctx, "stats sampler")
func (l *Logger) Recover(ctx context.Context, where string) {
	if r := recover(); r != nil {
		l.Error(ctx, "Uncaught panic",
			zap.String("where", where),
			zap.Any("panic", r),
			zap.StackSkip("stack", 1),
		)
	}
}

// Go runs fn on a new goroutine, logging instead of crashing on panic.
func (l *Logger) Go(ctx context.Context, where string, fn func()) {
	go func() {
		defer l.Recover(ctx, where)
		fn()
	}()
}
