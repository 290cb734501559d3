package config

import (
	"fmt"
	"time"
)

// Config represents the complete application configuration.
// Values are resolved in three layers: embedded defaults, an optional
// user config file, then environment variables and runtime overrides.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
	Analyzer  AnalyzerConfig  `mapstructure:"analyzer"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
	Health    HealthConfig    `mapstructure:"health"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	MaxTextLength   int           `mapstructure:"max_text_length"`
}

// RateLimitConfig contains inbound admission control configuration
type RateLimitConfig struct {
	// RequestsPerMinute caps requests per client over a sliding minute
	RequestsPerMinute int `mapstructure:"requests_per_minute"`

	// BurstLimit triggers a temporary block when a single window exceeds it
	BurstLimit int `mapstructure:"burst_limit"`

	// BlockDuration is how long a bursting client stays blocked
	BlockDuration time.Duration `mapstructure:"block_duration"`

	// SweepInterval drives the background cleanup of idle client state
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
}

// AnalyzerConfig contains the PII analyzer backend configuration
type AnalyzerConfig struct {
	// BaseURL is the analyzer service endpoint
	BaseURL string `mapstructure:"base_url"`

	// Timeout bounds a single analyzer request
	Timeout time.Duration `mapstructure:"timeout"`

	// MinScore filters out low-confidence detections
	MinScore float64 `mapstructure:"min_score"`

	// DefaultLanguage is used when a request omits the language field
	DefaultLanguage string `mapstructure:"default_language"`

	// RequestsPerMinute caps outbound calls to the analyzer
	RequestsPerMinute int `mapstructure:"requests_per_minute"`

	// PaceRPS smooths outbound call timing within the window
	PaceRPS float64 `mapstructure:"pace_rps"`
}

// LoggingConfig contains logging configuration
// Supports progressive logging profiles:
// - SIMPLE: Console output only, minimal configuration (CLI tools)
// - STRUCTURED: Structured sinks, correlation IDs (API services)
// - ENTERPRISE: Multiple sinks, middleware, throttling, policy enforcement (production)
type LoggingConfig struct {
	// Level controls the minimum log level
	// Valid values: trace, debug, info, warn, error
	Level string `mapstructure:"level"`

	// Profile selects the logging complexity level
	// Valid values: SIMPLE, STRUCTURED, ENTERPRISE
	Profile string `mapstructure:"profile"`
}

// MetricsConfig contains Prometheus metrics configuration
type MetricsConfig struct {
	// Enabled controls whether the telemetry exporter is started
	Enabled bool `mapstructure:"enabled"`

	// Port is the dedicated metrics endpoint port (Prometheus format)
	// Aggregated request metrics are also served at /metrics on the main
	// HTTP port in JSON format
	Port int `mapstructure:"port"`
}

// HealthConfig contains health check configuration
type HealthConfig struct {
	// Enabled controls whether health endpoints probe the analyzer backend
	Enabled bool `mapstructure:"enabled"`
}

// Validate checks cross-field constraints that the type system cannot.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be in 1-65535, got %d", c.Server.Port)
	}
	if c.RateLimit.RequestsPerMinute <= 0 {
		return fmt.Errorf("ratelimit.requests_per_minute must be positive, got %d", c.RateLimit.RequestsPerMinute)
	}
	if c.RateLimit.BurstLimit <= 0 {
		return fmt.Errorf("ratelimit.burst_limit must be positive, got %d", c.RateLimit.BurstLimit)
	}
	if c.RateLimit.BlockDuration <= 0 {
		return fmt.Errorf("ratelimit.block_duration must be positive, got %s", c.RateLimit.BlockDuration)
	}
	if c.Analyzer.MinScore < 0 || c.Analyzer.MinScore > 1 {
		return fmt.Errorf("analyzer.min_score must be in [0,1], got %g", c.Analyzer.MinScore)
	}
	if c.Server.MaxTextLength <= 0 {
		return fmt.Errorf("server.max_text_length must be positive, got %d", c.Server.MaxTextLength)
	}
	return nil
}
