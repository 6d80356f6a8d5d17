// Package telemetry provides structured logging, Prometheus metrics and
// OpenTelemetry tracing for hostplane runs.
package telemetry

import "time"

// LoggingConfig configures the logger.
type LoggingConfig struct {
	// Level is the minimum level: trace, debug, info, warn, error.
	Level string `yaml:"level"`

	// Format is "json" or "console".
	Format string `yaml:"format"`

	// Output is "stdout", "stderr" or a file path.
	Output string `yaml:"output"`
}

// DefaultLoggingConfig returns console logging at info level on stderr.
func DefaultLoggingConfig() LoggingConfig {
	return LoggingConfig{
		Level:  "info",
		Format: "console",
		Output: "stderr",
	}
}

// MetricsConfig configures the Prometheus metrics collector.
type MetricsConfig struct {
	// Enabled turns metric collection on.
	Enabled bool `yaml:"enabled"`

	// Namespace prefixes every metric name.
	Namespace string `yaml:"namespace"`
}

// DefaultMetricsConfig returns metrics enabled under the hostplane
// namespace.
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Enabled:   true,
		Namespace: "hostplane",
	}
}

// TracingConfig configures the trace exporter.
type TracingConfig struct {
	// Enabled turns tracing on.
	Enabled bool `yaml:"enabled"`

	// Exporter is "stdout", "otlp" or "none".
	Exporter string `yaml:"exporter"`

	// Endpoint is the OTLP gRPC endpoint, host:port.
	Endpoint string `yaml:"endpoint"`

	// SamplingRate is the trace sampling ratio in [0, 1].
	SamplingRate float64 `yaml:"sampling_rate"`

	// ExportTimeout bounds a single export batch.
	ExportTimeout time.Duration `yaml:"export_timeout"`
}

// DefaultTracingConfig returns tracing disabled.
func DefaultTracingConfig() TracingConfig {
	return TracingConfig{
		Exporter:      "none",
		SamplingRate:  1.0,
		ExportTimeout: 30 * time.Second,
	}
}
