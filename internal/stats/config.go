package stats

import (
	"fmt"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/config"
)

// Config controls the sampler.
type Config struct {
	Interval          config.Duration `koanf:"interval"`
	HighMemoryPercent float64         `koanf:"high_memory_percent"`
	SinkTimeout       config.Duration `koanf:"sink_timeout"`
	SubscriberBuffer  int             `koanf:"subscriber_buffer"`
}

// NewDefaultConfig returns sampler defaults: one sample per second and a
// high memory warning above 85%.
func NewDefaultConfig() *Config {
	return &Config{
		Interval:          config.Duration(time.Second),
		HighMemoryPercent: 85,
		SinkTimeout:       config.Duration(2 * time.Second),
		SubscriberBuffer:  16,
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.Interval.Duration() <= 0 {
		return fmt.Errorf("stats.interval must be positive")
	}
	if c.HighMemoryPercent <= 0 || c.HighMemoryPercent > 100 {
		return fmt.Errorf("stats.high_memory_percent must be in (0, 100], got %v", c.HighMemoryPercent)
	}
	if c.SinkTimeout.Duration() <= 0 {
		return fmt.Errorf("stats.sink_timeout must be positive")
	}
	if c.SubscriberBuffer < 1 {
		return fmt.Errorf("stats.subscriber_buffer must be at least 1")
	}
	return nil
}
