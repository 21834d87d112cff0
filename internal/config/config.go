package config

import (
	"net"
	"strconv"
	"time"
)

// Config represents the complete service configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Shutdown ShutdownConfig `yaml:"shutdown"`
	Limits   LimitsConfig   `yaml:"limits"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Admin    AdminConfig    `yaml:"admin"`
	Tracing  TracingConfig  `yaml:"tracing"`
}

// ServerConfig defines the public HTTP listener
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	WriteTimeout      time.Duration `yaml:"write_timeout"`
	IdleTimeout       time.Duration `yaml:"idle_timeout"`
	ReadHeaderTimeout time.Duration `yaml:"read_header_timeout"`
	MaxHeaderBytes    int           `yaml:"max_header_bytes"`
}

// Address returns the host:port bind address.
func (s ServerConfig) Address() string {
	return net.JoinHostPort(s.Host, strconv.Itoa(s.Port))
}

// ShutdownConfig controls the drain on SIGTERM/SIGINT.
type ShutdownConfig struct {
	// GracePeriod is the longest the service waits for in-flight requests.
	GracePeriod time.Duration `yaml:"grace_period"`
	// DrainDelay keeps the listener open after readiness flips so that
	// load balancers can observe the not-ready state first.
	DrainDelay time.Duration `yaml:"drain_delay"`
}

// LimitsConfig bounds what /payload accepts
type LimitsConfig struct {
	MaxNumbers   int             `yaml:"max_numbers"`
	MaxTextLen   int             `yaml:"max_text_len"` // in characters
	MaxBodyBytes int64           `yaml:"max_body_bytes"`
	RateLimit    RateLimitConfig `yaml:"rate_limit"`
}

// RateLimitConfig defines an optional token bucket in front of /payload
type RateLimitConfig struct {
	Enabled           bool    `yaml:"enabled"`
	RequestsPerSecond float64 `yaml:"requests_per_second"`
	Burst             int     `yaml:"burst"`
}

// LoggingConfig defines logging settings
type LoggingConfig struct {
	Level    string            `yaml:"level"`
	Output   string            `yaml:"output"`
	Rotation LogRotationConfig `yaml:"rotation"`
}

// LogRotationConfig defines log file rotation settings (powered by lumberjack).
type LogRotationConfig struct {
	MaxSize    int  `yaml:"max_size"`    // max megabytes before rotation (default 100)
	MaxBackups int  `yaml:"max_backups"` // old rotated files to keep (default 3)
	MaxAge     int  `yaml:"max_age"`     // days to retain old files (default 28)
	Compress   bool `yaml:"compress"`    // gzip rotated files
	LocalTime  bool `yaml:"local_time"`  // use local time in backup filenames
}

// MetricsConfig defines Prometheus exposition settings
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AdminConfig defines auxiliary probe endpoints
type AdminConfig struct {
	GRPCHealth GRPCHealthConfig `yaml:"grpc_health"`
}

// GRPCHealthConfig defines gRPC health check server settings.
type GRPCHealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Address string `yaml:"address"` // default ":9090"
}

// TracingConfig defines OpenTelemetry tracing settings
type TracingConfig struct {
	Enabled     bool              `yaml:"enabled"`
	Endpoint    string            `yaml:"endpoint"`
	ServiceName string            `yaml:"service_name"`
	SampleRate  float64           `yaml:"sample_rate"`
	Insecure    bool              `yaml:"insecure"`
	Headers     map[string]string `yaml:"headers"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:              8000,
			ReadTimeout:       30 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
			ReadHeaderTimeout: 10 * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
		Shutdown: ShutdownConfig{
			GracePeriod: 30 * time.Second,
		},
		Limits: LimitsConfig{
			MaxNumbers:   10000,
			MaxTextLen:   50000,
			MaxBodyBytes: 1 << 20,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: "stdout",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Path:    "/metrics",
		},
		Admin: AdminConfig{
			GRPCHealth: GRPCHealthConfig{
				Address: ":9090",
			},
		},
		Tracing: TracingConfig{
			ServiceName: "analyzer",
			SampleRate:  1.0,
		},
	}
}
