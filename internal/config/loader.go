package config

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	maxConfigFileSize = 1024 * 1024 // 1MB

	// EnvPrefix prefixes every environment variable read by Load.
	EnvPrefix = "SYSPULSE_"
)

// envAliases maps shorthand environment variables onto config keys.
var envAliases = map[string]string{
	"LOG_LEVEL":        "logging.level",
	"OTEL_SAMPLE_RATE": "telemetry.sampling.rate",
}

// DefaultPath returns ~/.config/syspulse/config.yaml.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Dir returns the syspulse config directory (~/.config/syspulse).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "syspulse"), nil
}

// EnsureDir creates the syspulse config directory with 0700 permissions.
func EnsureDir() error {
	dir, err := Dir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}

// Load layers the YAML file at configPath and the environment over dst.
//
// dst must be a pointer to a struct using `koanf` tags and should already
// hold defaults: keys missing from every layer leave the existing value in
// place. An empty configPath selects DefaultPath. A missing file is not an
// error.
//
// File Permissions: the file MUST be 0600 or 0400 and live under
// ~/.config/syspulse/ or /etc/syspulse/. Files larger than 1MB are rejected.
func Load(configPath string, dst interface{}) error {
	k := koanf.New(".")

	if configPath == "" {
		p, err := DefaultPath()
		if err != nil {
			return err
		}
		configPath = p
	}

	if err := validateConfigPath(configPath); err != nil {
		return fmt.Errorf("config path validation failed: %w", err)
	}

	if _, err := os.Stat(configPath); err == nil {
		// Open once and validate via the descriptor to avoid a TOCTOU race
		f, err := os.Open(configPath)
		if err != nil {
			return fmt.Errorf("failed to open config file: %w", err)
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil {
			return fmt.Errorf("failed to stat config file: %w", err)
		}
		if err := validateConfigFileProperties(info); err != nil {
			return fmt.Errorf("config file validation failed: %w", err)
		}

		content, err := io.ReadAll(f)
		if err != nil {
			return fmt.Errorf("failed to read config file: %w", err)
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Shorthands first so the prefixed form wins when both are set
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return envAliases[s]
	}), nil); err != nil {
		return fmt.Errorf("failed to load environment aliases: %w", err)
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := k.Unmarshal("", dst); err != nil {
		return fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return nil
}

// envKey maps SYSPULSE_SECTION_FIELD__SUB to section.field.sub.
//
// Only the first single underscore separates the section; the remaining
// underscores belong to the field name unless doubled.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + strings.ReplaceAll(parts[1], "__", ".")
}

// validateConfigPath checks if path is in allowed directories.
// This validation runs even if the file doesn't exist yet.
func validateConfigPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	// Resolve symlinks so they cannot escape the allowed directories
	resolvedPath, err := filepath.EvalSymlinks(absPath)
	if err != nil {
		resolvedPath = absPath
	}

	dir, err := Dir()
	if err != nil {
		return err
	}

	for _, allowed := range []string{dir, "/etc/syspulse"} {
		if strings.HasPrefix(resolvedPath, allowed) {
			return nil
		}
	}
	return fmt.Errorf("config file must be in ~/.config/syspulse/ or /etc/syspulse/")
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	// Windows has a different permission model
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0600 && perm != 0400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}
