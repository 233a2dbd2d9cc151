// internal/logging/config.go
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/config"
	"go.uber.org/zap/zapcore"
)

// Config holds logging configuration.
type Config struct {
	Level      zapcore.Level     `koanf:"level"`
	Format     string            `koanf:"format"`
	Dir        string            `koanf:"dir"`
	Output     OutputConfig      `koanf:"output"`
	File       FileConfig        `koanf:"file"`
	ErrorFile  FileConfig        `koanf:"error_file"`
	Sampling   SamplingConfig    `koanf:"sampling"`
	Caller     CallerConfig      `koanf:"caller"`
	Stacktrace StacktraceConfig  `koanf:"stacktrace"`
	Fields     map[string]string `koanf:"fields"`
	Redaction  RedactionConfig   `koanf:"redaction"`
}

// OutputConfig controls where logs are written.
type OutputConfig struct {
	Stdout    bool `koanf:"stdout"`
	File      bool `koanf:"file"`
	ErrorFile bool `koanf:"error_file"`
	OTEL      bool `koanf:"otel"`
}

// FileConfig describes one rotating log file family.
//
// Files are named <prefix>-YYYY-MM-DD.log. A zero MaxSizeMB rotates by day
// only; zero MaxFiles or MaxAge disables that retention rule.
type FileConfig struct {
	Prefix    string          `koanf:"prefix"`
	MaxSizeMB int             `koanf:"max_size_mb"`
	MaxFiles  int             `koanf:"max_files"`
	MaxAge    config.Duration `koanf:"max_age"`
}

// SamplingConfig controls log volume reduction below error level.
type SamplingConfig struct {
	Enabled    bool            `koanf:"enabled"`
	Tick       config.Duration `koanf:"tick"`
	Initial    int             `koanf:"initial"`
	Thereafter int             `koanf:"thereafter"`
}

// CallerConfig controls caller information in logs.
type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

// StacktraceConfig controls stacktrace inclusion.
type StacktraceConfig struct {
	Level zapcore.Level `koanf:"level"`
}

// RedactionConfig adds key and pattern rules on top of the built-in
// email and IPv4 scrubbing, which cannot be turned off.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

// DefaultDir returns <user config dir>/syspulse/logs, falling back to the
// temp dir when no config dir is known.
func DefaultDir() string {
	base, err := os.UserConfigDir()
	if err != nil || base == "" {
		base = os.TempDir()
	}
	return filepath.Join(base, "syspulse", "logs")
}

// NewDefaultConfig returns config with production-ready defaults.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  zapcore.InfoLevel,
		Format: "console",
		Dir:    DefaultDir(),
		Output: OutputConfig{
			Stdout:    true,
			File:      true,
			ErrorFile: true,
			OTEL:      false,
		},
		File: FileConfig{
			Prefix:    "system-pulse",
			MaxSizeMB: 10,
			MaxFiles:  14,
			MaxAge:    config.Duration(7 * 24 * time.Hour),
		},
		ErrorFile: FileConfig{
			Prefix:    "errors",
			MaxSizeMB: 5,
			MaxAge:    config.Duration(14 * 24 * time.Hour),
		},
		Sampling: SamplingConfig{
			Enabled:    false,
			Tick:       config.Duration(time.Second),
			Initial:    100,
			Thereafter: 10,
		},
		Caller: CallerConfig{
			Enabled: false,
			Skip:    1,
		},
		Stacktrace: StacktraceConfig{
			Level: zapcore.ErrorLevel,
		},
		Fields: map[string]string{
			"service": "system-pulse",
		},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key",
				"authorization", "credential", "private_key",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
		},
	}
}

// Validate checks config for errors.
func (c *Config) Validate() error {
	if c.Format != "json" && c.Format != "console" {
		return fmt.Errorf("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.File && !c.Output.ErrorFile && !c.Output.OTEL {
		return fmt.Errorf("at least one output must be enabled (stdout, file, error_file or otel)")
	}
	if (c.Output.File || c.Output.ErrorFile) && c.Dir == "" {
		return fmt.Errorf("dir is required when file output is enabled")
	}
	if c.Output.File {
		if err := c.File.validate("file"); err != nil {
			return err
		}
	}
	if c.Output.ErrorFile {
		if err := c.ErrorFile.validate("error_file"); err != nil {
			return err
		}
	}
	if c.Output.File && c.Output.ErrorFile && c.File.Prefix == c.ErrorFile.Prefix {
		return fmt.Errorf("file and error_file prefixes must differ, both are %q", c.File.Prefix)
	}
	if c.Sampling.Enabled && c.Sampling.Tick.Duration() <= 0 {
		return fmt.Errorf("sampling tick must be > 0 when sampling enabled")
	}

	if c.Caller.Enabled && c.Caller.Skip < 0 {
		return fmt.Errorf("caller skip must be >= 0, got %d", c.Caller.Skip)
	}

	if c.Redaction.Enabled {
		for _, pattern := range c.Redaction.Patterns {
			if len(pattern) > maxPatternLen {
				return fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, pattern)
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return fmt.Errorf("invalid redaction pattern %q: %w", pattern, err)
			}
		}
	}

	for k, v := range c.Fields {
		if k == "" {
			return fmt.Errorf("field key cannot be empty")
		}
		if v == "" {
			return fmt.Errorf("field %q has empty value", k)
		}
	}

	return nil
}

func (f FileConfig) validate(name string) error {
	if f.Prefix == "" {
		return fmt.Errorf("%s prefix cannot be empty", name)
	}
	if strings.ContainsAny(f.Prefix, `/\`) {
		return fmt.Errorf("%s prefix must not contain path separators: %q", name, f.Prefix)
	}
	if f.MaxSizeMB < 0 {
		return fmt.Errorf("%s max_size_mb must be >= 0, got %d", name, f.MaxSizeMB)
	}
	if f.MaxFiles < 0 {
		return fmt.Errorf("%s max_files must be >= 0, got %d", name, f.MaxFiles)
	}
	if f.MaxAge < 0 {
		return fmt.Errorf("%s max_age must be >= 0", name)
	}
	return nil
}
