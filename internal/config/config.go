// Package config handles loading and validating runbox configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for runbox.
type Config struct {
	Server        ServerConfig         `json:"server" yaml:"server"`
	Execution     ExecutionConfig      `json:"execution" yaml:"execution"`
	Sessions      SessionsConfig       `json:"sessions" yaml:"sessions"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = observability disabled
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	ListenAddr string            `json:"listen_addr" yaml:"listen_addr"`               // Default: ":8080"
	EnableDocs bool              `json:"enable_docs" yaml:"enable_docs"`               // Serve OpenAPI docs.
	APIKeys    map[string]string `json:"api_keys,omitempty" yaml:"api_keys,omitempty"` // API key -> client ID. Empty = auth disabled.

	RateLimit RateLimitConfig `json:"rate_limit" yaml:"rate_limit"`
}

// RateLimitConfig configures the per-client token bucket on mutating endpoints.
type RateLimitConfig struct {
	RequestsPerMinute int `json:"requests_per_minute" yaml:"requests_per_minute"` // 0 = unlimited
	BurstSize         int `json:"burst_size" yaml:"burst_size"`                   // 0 = RequestsPerMinute
}

// ExecutionConfig configures one script execution.
// Limit values are deliberately independent knobs, not shared constants.
type ExecutionConfig struct {
	Interpreter   string `json:"interpreter" yaml:"interpreter"`               // Interpreter binary. Default: "libra". Override: RUNBOX_INTERPRETER.
	TimeoutS      int    `json:"timeout_s" yaml:"timeout_s"`                   // Wall-clock limit. Default: 10.
	MemoryMB      int    `json:"memory_mb" yaml:"memory_mb"`                   // Virtual memory cap. Default: 2048.
	OutputLimitKB int    `json:"output_limit_kb" yaml:"output_limit_kb"`       // Cumulative stdout quota. Default: 256.
	StdinPollMS   int    `json:"stdin_poll_ms" yaml:"stdin_poll_ms"`           // Stdin pump poll interval. Default: 1000.
	TempDir       string `json:"temp_dir,omitempty" yaml:"temp_dir,omitempty"` // Script scratch dir. Default: <os temp>/runbox.
}

// Timeout returns the wall-clock limit as a duration.
func (e *ExecutionConfig) Timeout() time.Duration {
	if e.TimeoutS <= 0 {
		return 10 * time.Second
	}
	return time.Duration(e.TimeoutS) * time.Second
}

// OutputLimit returns the stdout quota in bytes.
func (e *ExecutionConfig) OutputLimit() int64 {
	if e.OutputLimitKB <= 0 {
		return 256 << 10
	}
	return int64(e.OutputLimitKB) << 10
}

// StdinPoll returns the stdin pump poll interval.
func (e *ExecutionConfig) StdinPoll() time.Duration {
	if e.StdinPollMS <= 0 {
		return time.Second
	}
	return time.Duration(e.StdinPollMS) * time.Millisecond
}

// ResolvedInterpreter returns the interpreter binary, defaulting to "libra".
func (e *ExecutionConfig) ResolvedInterpreter() string {
	if e.Interpreter != "" {
		return e.Interpreter
	}
	return "libra"
}

// ResolvedTempDir returns the script scratch directory.
func (e *ExecutionConfig) ResolvedTempDir() string {
	if e.TempDir != "" {
		return e.TempDir
	}
	return filepath.Join(os.TempDir(), "runbox")
}

// SessionsConfig configures the execution session registry.
type SessionsConfig struct {
	MaxConcurrent int `json:"max_concurrent" yaml:"max_concurrent"` // Concurrency cap. Default: 10.
	InputCapacity int `json:"input_capacity" yaml:"input_capacity"` // Input queue size. Default: 50.
	TTLSeconds    int `json:"ttl_s" yaml:"ttl_s"`                   // Never-streamed eviction window. Default: 60.
}

// TTL returns the eviction window for never-streamed sessions.
func (s *SessionsConfig) TTL() time.Duration {
	if s.TTLSeconds <= 0 {
		return 60 * time.Second
	}
	return time.Duration(s.TTLSeconds) * time.Second
}

// ObservabilityConfig configures metrics, tracing, and health checks.
// When nil, all observability features are disabled with zero overhead.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Tracing *TracingConfig `json:"tracing,omitempty" yaml:"tracing,omitempty"`
}

// MetricsConfig configures Prometheus metrics exposition.
type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path" yaml:"path"` // Default: "/metrics"
}

// TracingConfig configures OpenTelemetry distributed tracing.
type TracingConfig struct {
	Enabled     bool    `json:"enabled" yaml:"enabled"`
	Endpoint    string  `json:"endpoint" yaml:"endpoint"`         // OTLP endpoint, e.g. "localhost:4317"
	Protocol    string  `json:"protocol" yaml:"protocol"`         // "grpc" or "http". Default: "grpc"
	ServiceName string  `json:"service_name" yaml:"service_name"` // Default: "runbox"
	SampleRate  float64 `json:"sample_rate" yaml:"sample_rate"`   // 0.0-1.0. Default: 1.0
	Insecure    bool    `json:"insecure" yaml:"insecure"`         // Skip TLS for dev
}

// Default returns a configuration that works out of the box; the limit
// accessors supply their own fallbacks, so only the listen address needs a
// concrete value here.
func Default() *Config {
	return &Config{
		Server: ServerConfig{ListenAddr: ":8080"},
	}
}

// DefaultConfigPath returns the default config file path (~/.runbox/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/runbox.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".runbox", "config.yaml")
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. A missing file at the default path is not an error — the
// service runs on defaults plus environment overrides. Environment variables
// take precedence over file values.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err) && path == DefaultConfigPath():
		// Defaults only.
	case err != nil:
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	default:
		switch ext := strings.ToLower(filepath.Ext(path)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", path, err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", path, err)
			}
		}
	}

	applyEnv(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays environment variables onto the loaded config.
func applyEnv(cfg *Config) {
	if v := os.Getenv("RUNBOX_LISTEN_ADDR"); v != "" {
		cfg.Server.ListenAddr = v
	}
	if v := os.Getenv("RUNBOX_INTERPRETER"); v != "" {
		cfg.Execution.Interpreter = v
	}
	if v := os.Getenv("RUNBOX_TEMP_DIR"); v != "" {
		cfg.Execution.TempDir = v
	}
	// RUNBOX_API_KEYS holds "key:client,key2:client2" pairs.
	if v := os.Getenv("RUNBOX_API_KEYS"); v != "" {
		keys := make(map[string]string)
		for _, pair := range strings.Split(v, ",") {
			key, client, ok := strings.Cut(strings.TrimSpace(pair), ":")
			if !ok || key == "" {
				continue
			}
			keys[key] = client
		}
		if len(keys) > 0 {
			cfg.Server.APIKeys = keys
		}
	}
}

// Validate rejects configurations that cannot work.
func (c *Config) Validate() error {
	if c.Server.ListenAddr == "" {
		return fmt.Errorf("server.listen_addr is required")
	}
	if c.Execution.TimeoutS < 0 {
		return fmt.Errorf("execution.timeout_s must not be negative")
	}
	if c.Sessions.MaxConcurrent < 0 {
		return fmt.Errorf("sessions.max_concurrent must not be negative")
	}
	return nil
}
