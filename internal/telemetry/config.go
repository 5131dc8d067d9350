// Package telemetry wires OpenTelemetry tracing and metrics for ingestion
// runs. Both signals are exported over OTLP/HTTP and default to no-op
// providers when disabled.
package telemetry

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultServiceName is the default service name for telemetry
	DefaultServiceName = "operator-ingest"

	// DefaultEndpoint is the default OTLP collector endpoint
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the default trace sampling ratio. Ingestion runs are
	// rare compared to request traffic, so every run is sampled.
	DefaultSampling = 1.0

	// DefaultExportInterval is the default metric export interval
	DefaultExportInterval = 30 * time.Second
)

// Config represents the telemetry configuration
type Config struct {
	// Enabled turns telemetry on. When false no exporters are created.
	Enabled bool `yaml:"enabled"`

	// ServiceName defaults to "operator-ingest"
	ServiceName string `yaml:"serviceName,omitempty"`

	// ServiceVersion defaults to the binary version
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP/HTTP collector in "host:port" form
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure sends telemetry over plain HTTP
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig defines tracing-specific configuration
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the trace sampling ratio in (0, 1]; 0 means DefaultSampling
	Sampling float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig defines metrics-specific configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// ExportInterval is how often metrics are pushed, e.g. "30s"
	ExportInterval string `yaml:"exportInterval,omitempty"`
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c == nil || c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, using "unknown" if not specified
func (c *Config) GetServiceVersion() string {
	if c == nil || c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c == nil || c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// TracingEnabled reports whether spans are exported
func (c *Config) TracingEnabled() bool {
	return c != nil && c.Enabled && c.Tracing != nil && c.Tracing.Enabled
}

// MetricsEnabled reports whether metrics are exported
func (c *Config) MetricsEnabled() bool {
	return c != nil && c.Enabled && c.Metrics != nil && c.Metrics.Enabled
}

// GetSampling returns the sampling ratio.
// Note: 0 is treated as "use default" since an unset value cannot be told
// apart from an explicit 0 in YAML.
func (c *TracingConfig) GetSampling() float64 {
	if c == nil || c.Sampling == 0.0 {
		return DefaultSampling
	}
	return c.Sampling
}

// GetExportInterval returns the metric export interval
func (c *MetricsConfig) GetExportInterval() time.Duration {
	if c == nil || c.ExportInterval == "" {
		return DefaultExportInterval
	}
	d, err := time.ParseDuration(c.ExportInterval)
	if err != nil || d <= 0 {
		return DefaultExportInterval
	}
	return d
}

// Validate validates the telemetry configuration
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if c.Tracing != nil && c.Tracing.Enabled {
		if c.Tracing.Sampling < 0 || c.Tracing.Sampling > 1.0 {
			errs = append(errs, fmt.Errorf("tracing: sampling must be between 0.0 and 1.0, got %f", c.Tracing.Sampling))
		}
	}
	if c.Metrics != nil && c.Metrics.Enabled && c.Metrics.ExportInterval != "" {
		d, err := time.ParseDuration(c.Metrics.ExportInterval)
		if err != nil {
			errs = append(errs, fmt.Errorf("metrics: invalid exportInterval: %w", err))
		} else if d <= 0 {
			errs = append(errs, fmt.Errorf("metrics: exportInterval must be positive, got %s", c.Metrics.ExportInterval))
		}
	}

	return errors.Join(errs...)
}
