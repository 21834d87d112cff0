package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func envLoader(env map[string]string) *Loader {
	l := NewLoader()
	l.lookupEnv = func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	}
	return l
}

func TestDefaultConfig(t *testing.T) {
	cfg, err := envLoader(nil).Parse(nil)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Shutdown.GracePeriod != 30*time.Second {
		t.Errorf("expected grace_period 30s, got %v", cfg.Shutdown.GracePeriod)
	}
	if cfg.Shutdown.DrainDelay != 0 {
		t.Errorf("expected no drain delay, got %v", cfg.Shutdown.DrainDelay)
	}
	if cfg.Limits.MaxNumbers != 10000 {
		t.Errorf("expected max_numbers 10000, got %d", cfg.Limits.MaxNumbers)
	}
	if cfg.Limits.MaxTextLen != 50000 {
		t.Errorf("expected max_text_len 50000, got %d", cfg.Limits.MaxTextLen)
	}
	if !cfg.Metrics.Enabled || cfg.Metrics.Path != "/metrics" {
		t.Errorf("expected metrics enabled on /metrics, got %+v", cfg.Metrics)
	}
	if cfg.Admin.GRPCHealth.Enabled {
		t.Error("expected grpc health disabled by default")
	}
	if cfg.Server.Address() != ":8000" {
		t.Errorf("expected address :8000, got %s", cfg.Server.Address())
	}
}

func TestLoaderParse(t *testing.T) {
	yaml := `
server:
  host: 127.0.0.1
  port: 9090
  read_timeout: 10s
  write_timeout: 20s

shutdown:
  grace_period: 45s
  drain_delay: 5s

limits:
  max_numbers: 500
  max_text_len: 1000
  rate_limit:
    enabled: true
    requests_per_second: 50
    burst: 10

logging:
  level: debug
`

	cfg, err := envLoader(nil).Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Server.Address() != "127.0.0.1:9090" {
		t.Errorf("expected address 127.0.0.1:9090, got %s", cfg.Server.Address())
	}
	if cfg.Server.ReadTimeout != 10*time.Second {
		t.Errorf("expected read_timeout 10s, got %v", cfg.Server.ReadTimeout)
	}
	if cfg.Server.WriteTimeout != 20*time.Second {
		t.Errorf("expected write_timeout 20s, got %v", cfg.Server.WriteTimeout)
	}
	// Unset fields keep their defaults
	if cfg.Server.IdleTimeout != 60*time.Second {
		t.Errorf("expected default idle_timeout 60s, got %v", cfg.Server.IdleTimeout)
	}
	if cfg.Shutdown.GracePeriod != 45*time.Second {
		t.Errorf("expected grace_period 45s, got %v", cfg.Shutdown.GracePeriod)
	}
	if cfg.Shutdown.DrainDelay != 5*time.Second {
		t.Errorf("expected drain_delay 5s, got %v", cfg.Shutdown.DrainDelay)
	}
	if cfg.Limits.MaxNumbers != 500 || cfg.Limits.MaxTextLen != 1000 {
		t.Errorf("unexpected limits: %+v", cfg.Limits)
	}
	if cfg.Limits.MaxBodyBytes != 1<<20 {
		t.Errorf("expected default max_body_bytes, got %d", cfg.Limits.MaxBodyBytes)
	}
	rl := cfg.Limits.RateLimit
	if !rl.Enabled || rl.RequestsPerSecond != 50 || rl.Burst != 10 {
		t.Errorf("unexpected rate limit: %+v", rl)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected level debug, got %s", cfg.Logging.Level)
	}
}

func TestLoaderEnvExpansion(t *testing.T) {
	yaml := `
server:
  port: ${TEST_PORT}

tracing:
  enabled: true
  endpoint: ${TEST_OTLP}
  headers:
    x-token: ${TEST_UNSET}
`

	l := envLoader(map[string]string{
		"TEST_PORT": "7777",
		"TEST_OTLP": "collector:4317",
	})
	cfg, err := l.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Port != 7777 {
		t.Errorf("expected port 7777 from env, got %d", cfg.Server.Port)
	}
	if cfg.Tracing.Endpoint != "collector:4317" {
		t.Errorf("expected endpoint from env, got %q", cfg.Tracing.Endpoint)
	}
	if got := cfg.Tracing.Headers["x-token"]; got != "${TEST_UNSET}" {
		t.Errorf("expected unset variable to be kept, got %q", got)
	}
}

func TestLoaderEnvOverrides(t *testing.T) {
	yaml := `
server:
  port: 9090
shutdown:
  grace_period: 45s
`
	l := envLoader(map[string]string{
		EnvPort:         "8081",
		EnvHost:         "0.0.0.0",
		EnvGracePeriod:  "2s",
		EnvDrainDelay:   "100ms",
		EnvMaxNumbers:   "3",
		EnvMaxTextLen:   "12",
		EnvMaxBodyBytes: "2048",
		EnvLogLevel:     "warn",
		EnvLogOutput:    "stderr",
	})

	cfg, err := l.Parse([]byte(yaml))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if cfg.Server.Port != 8081 {
		t.Errorf("env should win over file, got port %d", cfg.Server.Port)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("expected host 0.0.0.0, got %s", cfg.Server.Host)
	}
	if cfg.Shutdown.GracePeriod != 2*time.Second {
		t.Errorf("expected grace_period 2s, got %v", cfg.Shutdown.GracePeriod)
	}
	if cfg.Shutdown.DrainDelay != 100*time.Millisecond {
		t.Errorf("expected drain_delay 100ms, got %v", cfg.Shutdown.DrainDelay)
	}
	if cfg.Limits.MaxNumbers != 3 || cfg.Limits.MaxTextLen != 12 || cfg.Limits.MaxBodyBytes != 2048 {
		t.Errorf("unexpected limits: %+v", cfg.Limits)
	}
	if cfg.Logging.Level != "warn" || cfg.Logging.Output != "stderr" {
		t.Errorf("unexpected logging: %+v", cfg.Logging)
	}
}

func TestLoaderEnvOverrideInvalid(t *testing.T) {
	tests := map[string]string{
		EnvPort:         "eighty",
		EnvGracePeriod:  "soon",
		EnvDrainDelay:   "later",
		EnvMaxNumbers:   "many",
		EnvMaxTextLen:   "long",
		EnvMaxBodyBytes: "big",
	}
	for key, value := range tests {
		t.Run(key, func(t *testing.T) {
			_, err := envLoader(map[string]string{key: value}).Parse(nil)
			if err == nil {
				t.Fatalf("expected error for %s=%s", key, value)
			}
			if !strings.Contains(err.Error(), key) {
				t.Errorf("error should name %s, got %v", key, err)
			}
		})
	}
}

func TestLoaderValidation(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
	}{
		{
			name: "valid config",
			yaml: `
server:
  port: 8080
`,
			wantErr: false,
		},
		{
			name: "port zero picks an ephemeral port",
			yaml: `
server:
  port: 0
`,
			wantErr: false,
		},
		{
			name: "invalid port",
			yaml: `
server:
  port: -1
`,
			wantErr: true,
		},
		{
			name: "port too high",
			yaml: `
server:
  port: 70000
`,
			wantErr: true,
		},
		{
			name: "negative timeout",
			yaml: `
server:
  read_timeout: -1s
`,
			wantErr: true,
		},
		{
			name: "zero grace period",
			yaml: `
shutdown:
  grace_period: 0s
`,
			wantErr: true,
		},
		{
			name: "negative drain delay",
			yaml: `
shutdown:
  drain_delay: -1s
`,
			wantErr: true,
		},
		{
			name: "zero max numbers",
			yaml: `
limits:
  max_numbers: 0
`,
			wantErr: true,
		},
		{
			name: "zero max text length",
			yaml: `
limits:
  max_text_len: 0
`,
			wantErr: true,
		},
		{
			name: "zero body limit",
			yaml: `
limits:
  max_body_bytes: 0
`,
			wantErr: true,
		},
		{
			name: "rate limit without rate",
			yaml: `
limits:
  rate_limit:
    enabled: true
`,
			wantErr: true,
		},
		{
			name: "disabled rate limit ignores rate",
			yaml: `
limits:
  rate_limit:
    enabled: false
    requests_per_second: 0
`,
			wantErr: false,
		},
		{
			name: "unknown log level",
			yaml: `
logging:
  level: verbose
`,
			wantErr: true,
		},
		{
			name: "metrics path without slash",
			yaml: `
metrics:
  path: metrics
`,
			wantErr: true,
		},
		{
			name: "metrics path collides with payload",
			yaml: `
metrics:
  path: /payload
`,
			wantErr: true,
		},
		{
			name: "metrics path ignored when disabled",
			yaml: `
metrics:
  enabled: false
  path: /health
`,
			wantErr: false,
		},
		{
			name: "grpc health without address",
			yaml: `
admin:
  grpc_health:
    enabled: true
    address: ""
`,
			wantErr: true,
		},
		{
			name: "sample rate out of range",
			yaml: `
tracing:
  enabled: true
  sample_rate: 1.5
`,
			wantErr: true,
		},
		{
			name: "malformed yaml",
			yaml: `
server: [port
`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := envLoader(nil).Parse([]byte(tt.yaml))
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoaderLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "analyzer.yaml")
	if err := os.WriteFile(path, []byte("server:\n  port: 8123\n"), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := envLoader(nil).Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 8123 {
		t.Errorf("expected port 8123, got %d", cfg.Server.Port)
	}
}

func TestLoaderLoadMissingFile(t *testing.T) {
	_, err := envLoader(nil).Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestLoaderLoadEmptyPath(t *testing.T) {
	cfg, err := envLoader(map[string]string{EnvPort: "9999"}).Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.Port != 9999 {
		t.Errorf("expected env port 9999, got %d", cfg.Server.Port)
	}
}
