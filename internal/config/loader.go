package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
)

// Environment variables that override file values.
const (
	EnvHost         = "ANALYZER_HOST"
	EnvPort         = "ANALYZER_PORT"
	EnvGracePeriod  = "ANALYZER_GRACE_PERIOD"
	EnvDrainDelay   = "ANALYZER_DRAIN_DELAY"
	EnvMaxNumbers   = "ANALYZER_MAX_NUMBERS"
	EnvMaxTextLen   = "ANALYZER_MAX_TEXT_LEN"
	EnvMaxBodyBytes = "ANALYZER_MAX_BODY_BYTES"
	EnvLogLevel     = "ANALYZER_LOG_LEVEL"
	EnvLogOutput    = "ANALYZER_LOG_OUTPUT"
)

// reservedPaths are served by the router and cannot host the metrics endpoint.
var reservedPaths = map[string]bool{
	"/payload": true,
	"/health":  true,
	"/healthz": true,
	"/ready":   true,
	"/readyz":  true,
}

var validLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Loader handles configuration loading and parsing
type Loader struct {
	envPattern *regexp.Regexp
	lookupEnv  func(string) (string, bool)
}

// NewLoader creates a new configuration loader
func NewLoader() *Loader {
	return &Loader{
		envPattern: regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`),
		lookupEnv:  os.LookupEnv,
	}
}

// Load reads and parses a configuration file. An empty path yields the
// defaults with environment overrides applied.
func (l *Loader) Load(path string) (*Config, error) {
	if path == "" {
		return l.Parse(nil)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return l.Parse(data)
}

// Parse parses configuration from YAML bytes
func (l *Loader) Parse(data []byte) (*Config, error) {
	// Start with defaults
	cfg := DefaultConfig()

	if len(strings.TrimSpace(string(data))) > 0 {
		expanded := l.expandEnvVars(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse YAML: %w", err)
		}
	}

	if err := l.applyEnv(cfg); err != nil {
		return nil, fmt.Errorf("environment override: %w", err)
	}

	if err := l.validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// expandEnvVars replaces ${VAR_NAME} with environment variable values
func (l *Loader) expandEnvVars(input string) string {
	return l.envPattern.ReplaceAllStringFunc(input, func(match string) string {
		varName := strings.TrimPrefix(strings.TrimSuffix(match, "}"), "${")
		if value, exists := l.lookupEnv(varName); exists {
			return value
		}
		return match // Keep original if env var not set
	})
}

// applyEnv overlays ANALYZER_* variables on top of file values.
func (l *Loader) applyEnv(cfg *Config) error {
	if v, ok := l.lookupEnv(EnvHost); ok {
		cfg.Server.Host = v
	}
	if v, ok := l.lookupEnv(EnvPort); ok {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPort, err)
		}
		cfg.Server.Port = port
	}
	if v, ok := l.lookupEnv(EnvGracePeriod); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvGracePeriod, err)
		}
		cfg.Shutdown.GracePeriod = d
	}
	if v, ok := l.lookupEnv(EnvDrainDelay); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvDrainDelay, err)
		}
		cfg.Shutdown.DrainDelay = d
	}
	if v, ok := l.lookupEnv(EnvMaxNumbers); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxNumbers, err)
		}
		cfg.Limits.MaxNumbers = n
	}
	if v, ok := l.lookupEnv(EnvMaxTextLen); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxTextLen, err)
		}
		cfg.Limits.MaxTextLen = n
	}
	if v, ok := l.lookupEnv(EnvMaxBodyBytes); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvMaxBodyBytes, err)
		}
		cfg.Limits.MaxBodyBytes = n
	}
	if v, ok := l.lookupEnv(EnvLogLevel); ok {
		cfg.Logging.Level = v
	}
	if v, ok := l.lookupEnv(EnvLogOutput); ok {
		cfg.Logging.Output = v
	}
	return nil
}

// validate checks configuration for errors
func (l *Loader) validate(cfg *Config) error {
	if cfg.Server.Port < 0 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port out of range: %d", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout < 0 || cfg.Server.WriteTimeout < 0 || cfg.Server.IdleTimeout < 0 || cfg.Server.ReadHeaderTimeout < 0 {
		return fmt.Errorf("server timeouts must not be negative")
	}

	if cfg.Shutdown.GracePeriod <= 0 {
		return fmt.Errorf("shutdown.grace_period must be positive, got %s", cfg.Shutdown.GracePeriod)
	}
	if cfg.Shutdown.DrainDelay < 0 {
		return fmt.Errorf("shutdown.drain_delay must not be negative")
	}

	if cfg.Limits.MaxNumbers <= 0 {
		return fmt.Errorf("limits.max_numbers must be positive")
	}
	if cfg.Limits.MaxTextLen <= 0 {
		return fmt.Errorf("limits.max_text_len must be positive")
	}
	if cfg.Limits.MaxBodyBytes <= 0 {
		return fmt.Errorf("limits.max_body_bytes must be positive")
	}
	if rl := cfg.Limits.RateLimit; rl.Enabled {
		if rl.RequestsPerSecond <= 0 {
			return fmt.Errorf("limits.rate_limit.requests_per_second must be positive when enabled")
		}
		if rl.Burst < 0 {
			return fmt.Errorf("limits.rate_limit.burst must not be negative")
		}
	}

	if cfg.Logging.Level != "" && !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid logging.level: %s", cfg.Logging.Level)
	}

	if cfg.Metrics.Enabled {
		if !strings.HasPrefix(cfg.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with '/': %q", cfg.Metrics.Path)
		}
		if reservedPaths[cfg.Metrics.Path] {
			return fmt.Errorf("metrics.path %s collides with a built-in route", cfg.Metrics.Path)
		}
	}

	if cfg.Admin.GRPCHealth.Enabled && cfg.Admin.GRPCHealth.Address == "" {
		return fmt.Errorf("admin.grpc_health.address is required when enabled")
	}

	if cfg.Tracing.Enabled && (cfg.Tracing.SampleRate < 0 || cfg.Tracing.SampleRate > 1) {
		return fmt.Errorf("tracing.sample_rate must be between 0 and 1")
	}

	return nil
}
