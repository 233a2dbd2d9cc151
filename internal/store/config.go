package store

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/config"
)

// Config controls the sample store.
type Config struct {
	// Path of the database file, or ":memory:".
	Path          string          `koanf:"path"`
	Retention     config.Duration `koanf:"retention"`
	PruneSchedule string          `koanf:"prune_schedule"`
	BusyTimeout   config.Duration `koanf:"busy_timeout"`
}

// DefaultPath returns <user config dir>/syspulse/app.db.
func DefaultPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "syspulse", "app.db")
}

// NewDefaultConfig returns store defaults: 30 days of samples, pruned daily.
func NewDefaultConfig() *Config {
	return &Config{
		Path:          DefaultPath(),
		Retention:     config.Duration(30 * 24 * time.Hour),
		PruneSchedule: "@daily",
		BusyTimeout:   config.Duration(5 * time.Second),
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("store.path is required")
	}
	if c.Retention.Duration() < 0 {
		return fmt.Errorf("store.retention cannot be negative")
	}
	return nil
}
