package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/fyrsmithlabs/syspulse/internal/config"
)

// Exporter protocols.
const (
	ProtocolGRPC = "grpc"
	ProtocolHTTP = "http/protobuf"
)

// Config holds telemetry configuration.
type Config struct {
	// Enabled is the initial value of the runtime flag consulted by traced
	// calls. It can be changed later with Lifecycle.SetEnabled.
	Enabled bool `koanf:"enabled"`
	// Export starts the OTLP exporters. With Export off, spans and metrics
	// are still produced for in-process readers such as Prometheus.
	Export         bool           `koanf:"export"`
	ServiceName    string         `koanf:"service_name"`
	ServiceVersion string         `koanf:"service_version"`
	Environment    string         `koanf:"environment"`
	Protocol       string         `koanf:"protocol"`
	Insecure       bool           `koanf:"insecure"`
	TLSSkipVerify  bool           `koanf:"tls_skip_verify"`
	Sampling       SamplingConfig `koanf:"sampling"`
	Traces         TracesConfig   `koanf:"traces"`
	Metrics        MetricsConfig  `koanf:"metrics"`
	Shutdown       ShutdownConfig `koanf:"shutdown"`
}

// SamplingConfig controls trace sampling behavior.
type SamplingConfig struct {
	Rate float64 `koanf:"rate"` // 0.0-1.0, default 1.0
}

// TracesConfig controls trace export.
type TracesConfig struct {
	Enabled  bool   `koanf:"enabled"`
	Endpoint string `koanf:"endpoint"`
	// Stdout also prints every span to stderr, independent of Export.
	Stdout bool `koanf:"stdout"`
}

// MetricsConfig controls metrics export.
type MetricsConfig struct {
	Enabled        bool            `koanf:"enabled"`
	Endpoint       string          `koanf:"endpoint"`
	ExportInterval config.Duration `koanf:"export_interval"`
	Prometheus     bool            `koanf:"prometheus"`
}

// ShutdownConfig controls graceful shutdown behavior.
type ShutdownConfig struct {
	Timeout config.Duration `koanf:"timeout"`
}

// NewDefaultConfig returns telemetry defaults matching a local OTel
// collector: traces on :4318, metrics on :4319, both over OTLP/HTTP.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:        true,
		Export:         true,
		ServiceName:    "system-pulse",
		ServiceVersion: "0.0.0-dev",
		Environment:    "development",
		Protocol:       ProtocolHTTP,
		Insecure:       true, // Insecure by default for local dev; set false for production TLS
		Sampling: SamplingConfig{
			Rate: 1.0,
		},
		Traces: TracesConfig{
			Enabled:  true,
			Endpoint: "localhost:4318",
		},
		Metrics: MetricsConfig{
			Enabled:        true,
			Endpoint:       "localhost:4319",
			ExportInterval: config.Duration(10 * time.Second),
			Prometheus:     true,
		},
		Shutdown: ShutdownConfig{
			Timeout: config.Duration(5 * time.Second),
		},
	}
}

// Validate checks configuration for errors.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service_name is required")
	}

	if c.Sampling.Rate < 0 || c.Sampling.Rate > 1 {
		return fmt.Errorf("sampling.rate must be between 0 and 1, got %f", c.Sampling.Rate)
	}

	if c.Shutdown.Timeout.Duration() <= 0 {
		return fmt.Errorf("shutdown.timeout must be positive")
	}

	if !c.Export {
		return nil
	}

	if c.Protocol != ProtocolGRPC && c.Protocol != ProtocolHTTP {
		return fmt.Errorf("protocol must be %q or %q, got %q", ProtocolGRPC, ProtocolHTTP, c.Protocol)
	}

	if c.Traces.Enabled {
		if err := c.validateEndpoint("traces", c.Traces.Endpoint); err != nil {
			return err
		}
	}

	if c.Metrics.Enabled {
		if err := c.validateEndpoint("metrics", c.Metrics.Endpoint); err != nil {
			return err
		}
		if c.Metrics.ExportInterval.Duration() <= 0 {
			return fmt.Errorf("metrics.export_interval must be positive when metrics enabled")
		}
	}

	return nil
}

func (c *Config) validateEndpoint(section, endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("%s.endpoint is required when %s export is enabled", section, section)
	}
	// Security: Prevent insecure connections to remote endpoints
	if c.Insecure && !isLocalEndpoint(endpoint) {
		return fmt.Errorf("insecure connections to remote endpoints are not allowed; set insecure=false for TLS or use a local %s endpoint (localhost/127.0.0.1)", section)
	}
	return nil
}

// isLocalEndpoint checks if the endpoint is a local address.
func isLocalEndpoint(endpoint string) bool {
	host := stripScheme(endpoint)
	if i := strings.Index(host, "/"); i != -1 {
		host = host[:i]
	}
	full := host

	if strings.HasPrefix(host, "[") {
		// Bracketed IPv6: [::1]:4317
		if idx := strings.Index(host, "]:"); idx != -1 {
			host = host[1:idx]
		} else if strings.HasSuffix(host, "]") {
			host = host[1 : len(host)-1]
		}
	} else if strings.Count(host, ":") == 1 {
		host = host[:strings.LastIndex(host, ":")]
	}

	return host == "localhost" ||
		host == "::1" ||
		strings.HasPrefix(host, "127.") ||
		strings.HasPrefix(full, "::1")
}
