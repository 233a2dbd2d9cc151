// internal/logging/levels.go
package logging

import (
	"fmt"
	"strings"

	"go.uber.org/zap/zapcore"
)

// Level names accepted by Log and LevelFromString.
const (
	LevelDebug = "debug"
	LevelInfo  = "info"
	LevelWarn  = "warn"
	LevelError = "error"
)

// LevelFromString parses debug, info, warn (or warning) and error,
// case-insensitively. Any other name is rejected with InfoLevel.
func LevelFromString(level string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case LevelDebug:
		return zapcore.DebugLevel, nil
	case LevelInfo, "":
		return zapcore.InfoLevel, nil
	case LevelWarn, "warning":
		return zapcore.WarnLevel, nil
	case LevelError:
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", level)
}
