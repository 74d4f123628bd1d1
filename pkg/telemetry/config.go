package telemetry

import (
	"fmt"
	"time"
)

// Config holds the telemetry setup for one engine process. The zero value is
// not usable; start from DefaultConfig and override.
type Config struct {
	// ServiceName identifies the engine in exported traces and logs.
	ServiceName string

	// ServiceVersion is stamped onto the trace resource.
	ServiceVersion string

	// Environment tags telemetry with the deployment environment.
	Environment string

	Logging LoggingConfig
	Tracing TracingConfig
	Metrics MetricsConfig
	Events  EventsConfig
}

// LoggingConfig selects level, format, and destination for structured logs.
type LoggingConfig struct {
	// Level is the minimum level emitted: trace, debug, info, warn, error,
	// or fatal.
	Level string

	// Format is "console" for human-readable output or "json" for machine
	// consumption.
	Format string

	// Output is "stdout", "stderr", or a file path. Logs default to stderr
	// so they never mix with command output.
	Output string
}

// TracingConfig controls the OpenTelemetry trace pipeline.
type TracingConfig struct {
	// Enabled turns the span pipeline on. Off, spans are no-ops.
	Enabled bool

	// Exporter is "otlp", "stdout", or "none".
	Exporter string

	// Endpoint is the OTLP collector address, host:port.
	Endpoint string

	// SamplingRate is the head-sampling ratio in [0, 1].
	SamplingRate float64

	// MaxExportBatchSize bounds spans per export call.
	MaxExportBatchSize int

	// ExportTimeout bounds a single export attempt.
	ExportTimeout time.Duration

	// Headers are attached to OTLP export requests.
	Headers map[string]string

	// Insecure disables TLS toward the collector.
	Insecure bool
}

// MetricsConfig controls the Prometheus registry and its HTTP endpoint.
type MetricsConfig struct {
	// Enabled turns metric collection on. Off, recorders are no-ops.
	Enabled bool

	// ListenAddress is where the scrape endpoint binds when started.
	ListenAddress string

	// Path is the scrape path, normally /metrics.
	Path string

	// Namespace prefixes every metric name.
	Namespace string

	// DefaultHistogramBuckets are duration buckets in seconds. Environment
	// builds take seconds to minutes, so the tail runs long.
	DefaultHistogramBuckets []float64
}

// EventsConfig controls the lifecycle event publisher.
type EventsConfig struct {
	// Enabled turns event publishing on. Off, Publish drops silently.
	Enabled bool

	// BufferSize is the async event channel capacity.
	BufferSize int

	// FlushInterval is how often buffered events are delivered.
	FlushInterval time.Duration

	// MaxBatchSize caps events delivered per flush.
	MaxBatchSize int

	// EnableAsync buffers events and delivers them from a background
	// goroutine; otherwise Publish delivers inline.
	EnableAsync bool
}

// DefaultConfig returns the setup for a normal kernel launch: structured
// logging and lifecycle events on, tracing and metrics off. The engine runs
// as a short-lived per-launch process, so export pipelines are opt-in.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "uvk",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
			Output: "stderr",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "stdout",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      30 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       false,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "uvk",
			DefaultHistogramBuckets: []float64{
				0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0,
			},
		},
		Events: EventsConfig{
			Enabled:       true,
			BufferSize:    1000,
			FlushInterval: 5 * time.Second,
			MaxBatchSize:  100,
			EnableAsync:   true,
		},
	}
}

// ProductionConfig enables the full export pipeline for hosts that embed the
// engine as a long-running service.
func ProductionConfig() *Config {
	cfg := DefaultConfig()
	cfg.Environment = "production"
	cfg.Logging.Format = "json"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "otlp"
	cfg.Tracing.SamplingRate = 0.1
	cfg.Tracing.Insecure = false
	cfg.Metrics.Enabled = true
	return cfg
}

// DevelopmentConfig turns on debug logging and stdout span export.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	cfg.Tracing.SamplingRate = 1.0
	return cfg
}

// Validate rejects configurations the pipeline constructors cannot honor.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}
	if c.ServiceVersion == "" {
		return fmt.Errorf("service version is required")
	}

	switch c.Logging.Level {
	case "trace", "debug", "info", "warn", "error", "fatal":
	default:
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	if c.Tracing.Enabled {
		switch c.Tracing.Exporter {
		case "otlp", "stdout", "none":
		default:
			return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
		}
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.ListenAddress == "" {
		return fmt.Errorf("metrics listen address is required when metrics are enabled")
	}

	if c.Events.Enabled && c.Events.BufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got: %d", c.Events.BufferSize)
	}

	return nil
}
