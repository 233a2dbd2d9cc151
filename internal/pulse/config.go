package pulse

import (
	"fmt"

	"github.com/fyrsmithlabs/syspulse/internal/config"
	api "github.com/fyrsmithlabs/syspulse/internal/http"
	"github.com/fyrsmithlabs/syspulse/internal/logging"
	"github.com/fyrsmithlabs/syspulse/internal/stats"
	"github.com/fyrsmithlabs/syspulse/internal/store"
	"github.com/fyrsmithlabs/syspulse/internal/telemetry"
)

// Config is the complete application configuration, one section per
// component.
type Config struct {
	Logging   *logging.Config   `koanf:"logging"`
	Telemetry *telemetry.Config `koanf:"telemetry"`
	Stats     *stats.Config     `koanf:"stats"`
	Store     *store.Config     `koanf:"store"`
	Server    *api.Config       `koanf:"server"`
}

// NewDefaultConfig returns defaults for every section.
func NewDefaultConfig() *Config {
	return &Config{
		Logging:   logging.NewDefaultConfig(),
		Telemetry: telemetry.NewDefaultConfig(),
		Stats:     stats.NewDefaultConfig(),
		Store:     store.NewDefaultConfig(),
		Server:    api.NewDefaultConfig(),
	}
}

// LoadConfig layers the YAML file at path and the environment over the
// defaults and validates the result. An empty path selects
// ~/.config/syspulse/config.yaml.
func LoadConfig(path string) (*Config, error) {
	cfg := NewDefaultConfig()
	if err := config.Load(path, cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if c.Logging == nil || c.Telemetry == nil || c.Stats == nil || c.Store == nil || c.Server == nil {
		return fmt.Errorf("all config sections are required")
	}
	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging: %w", err)
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	if err := c.Stats.Validate(); err != nil {
		return fmt.Errorf("stats: %w", err)
	}
	if err := c.Store.Validate(); err != nil {
		return fmt.Errorf("store: %w", err)
	}
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server: %w", err)
	}
	return nil
}
