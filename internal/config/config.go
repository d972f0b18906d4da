// Package config handles YAML configuration loading with environment
// variable expansion, plus a typed environment overlay for the enumerated
// runtime variables.
package config

import (
	"fmt"
	"os"
	"regexp"
	"time"

	"go.yaml.in/yaml/v3"

	"github.com/llmrouter/gateway/internal/ratelimit"
)

// Config is the top-level gateway configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Database  DatabaseConfig  `yaml:"database"`
	Auth      AuthConfig      `yaml:"auth"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Cache     CacheConfig     `yaml:"cache"`
	Routing   RoutingConfig   `yaml:"routing"`
	Pipeline  PipelineConfig  `yaml:"pipeline"`
	Breaker   BreakerConfig   `yaml:"circuit_breaker"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Providers []ProviderEntry `yaml:"providers"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	LogLevel        string        `yaml:"log_level"` // debug, info, warn, error
}

// Addr returns the listen address.
func (s ServerConfig) Addr() string { return fmt.Sprintf("%s:%d", s.Host, s.Port) }

// DatabaseConfig holds SQLite settings.
type DatabaseConfig struct {
	DSN string `yaml:"dsn"` // file path or ":memory:"
}

// AuthConfig holds authentication settings.
type AuthConfig struct {
	JWTSecret    string        `yaml:"jwt_secret"`
	AccessTTL    time.Duration `yaml:"access_ttl"`
	RefreshTTL   time.Duration `yaml:"refresh_ttl"`
	BcryptRounds int           `yaml:"bcrypt_rounds"`
}

// RateLimitConfig holds limiter settings. Tiers overrides individual fields
// of the built-in tier table; a negative value lifts that budget.
type RateLimitConfig struct {
	GlobalPerMinute int64                          `yaml:"global_per_minute"` // 0 = unlimited
	GlobalWindow    time.Duration                  `yaml:"global_window"`     // 0 = one minute
	RedisAddr       string                         `yaml:"redis_addr"`        // empty = in-process store
	Tiers           map[string]ratelimit.TierLimits `yaml:"tiers"`
}

// CacheConfig holds response cache settings.
type CacheConfig struct {
	Enabled   bool          `yaml:"enabled"`
	MaxSize   int           `yaml:"max_size"`
	TTL       time.Duration `yaml:"ttl"`
	RedisAddr string        `yaml:"redis_addr"` // empty = in-process otter cache
}

// RoutingConfig holds router settings.
type RoutingConfig struct {
	DefaultStrategy     string        `yaml:"default_strategy"`
	EnableFallback      *bool         `yaml:"enable_fallback"` // nil = enabled
	HealthCheckInterval time.Duration `yaml:"health_check_interval"`
}

// FallbackEnabled reports whether fallback dispatch is on (default true).
func (r RoutingConfig) FallbackEnabled() bool {
	return r.EnableFallback == nil || *r.EnableFallback
}

// PipelineConfig bounds the dispatch state machine.
type PipelineConfig struct {
	MaxRetries      int           `yaml:"max_retries"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	QueueDepth      int           `yaml:"queue_depth"`
}

// BreakerConfig holds circuit breaker parameters.
type BreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	ResetTimeout     time.Duration `yaml:"reset_timeout"`
}

// TelemetryConfig holds observability settings.
type TelemetryConfig struct {
	Metrics MetricsConfig `yaml:"metrics"`
	Tracing TracingConfig `yaml:"tracing"`
}

// MetricsConfig controls Prometheus metrics.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// TracingConfig controls OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `yaml:"enabled"`
	Endpoint   string  `yaml:"endpoint"`    // OTLP gRPC endpoint
	SampleRate float64 `yaml:"sample_rate"` // 0.0 to 1.0
}

// ProviderEntry is a provider definition in the config file.
type ProviderEntry struct {
	Name      string   `yaml:"name"`
	Type      string   `yaml:"type"` // openai, anthropic, gemini, cohere, local
	BaseURL   string   `yaml:"base_url"`
	APIKey    string   `yaml:"api_key"`
	Models    []string `yaml:"models"`
	Enabled   *bool    `yaml:"enabled"`
	Hosting   string   `yaml:"hosting"` // "", azure, openrouter, together, fireworks, groq, mistral, huggingface, bedrock, vertex
	Region    string   `yaml:"region"`  // AWS region (bedrock) or GCP region (vertex)
	Project   string   `yaml:"project"` // GCP project ID (vertex)
	CostInPM  float64  `yaml:"cost_in_per_m"`
	CostOutPM float64  `yaml:"cost_out_per_m"`
	Budget    int64    `yaml:"rate_budget"`  // requests per minute, 0 = unlimited
	Inflight  int      `yaml:"max_inflight"` // concurrent dispatch cap, 0 = default
	Window    int      `yaml:"context_window"`
	Quality   float64  `yaml:"quality"`
}

// IsEnabled reports whether the provider is enabled (defaults to true).
func (p ProviderEntry) IsEnabled() bool { return p.Enabled == nil || *p.Enabled }

// ResolvedType returns Type if set, otherwise falls back to Name.
func (p ProviderEntry) ResolvedType() string {
	if p.Type != "" {
		return p.Type
	}
	return p.Name
}

var envPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnv replaces ${VAR} patterns with environment variable values.
func expandEnv(data []byte) []byte {
	return envPattern.ReplaceAllFunc(data, func(match []byte) []byte {
		varName := string(match[2 : len(match)-1])
		if val, ok := os.LookupEnv(varName); ok {
			return []byte(val)
		}
		return match
	})
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "",
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			LogLevel:        "info",
		},
		Database: DatabaseConfig{DSN: "llmrouter.db"},
		Auth: AuthConfig{
			AccessTTL:    time.Hour,
			RefreshTTL:   7 * 24 * time.Hour,
			BcryptRounds: 12,
		},
		Cache: CacheConfig{
			Enabled: true,
			MaxSize: 10_000,
			TTL:     5 * time.Minute,
		},
		Routing: RoutingConfig{
			DefaultStrategy:     "balanced",
			HealthCheckInterval: 30 * time.Second,
		},
		Pipeline: PipelineConfig{
			MaxRetries:      2,
			RequestTimeout:  60 * time.Second,
			ProviderTimeout: 30 * time.Second,
			MaxConcurrent:   256,
			QueueDepth:      100,
		},
		Breaker: BreakerConfig{
			FailureThreshold: 5,
			ResetTimeout:     30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			Metrics: MetricsConfig{Enabled: true},
			Tracing: TracingConfig{SampleRate: 0.1},
		},
	}
}

// Load reads and parses a YAML config file, expanding ${ENV} references,
// then applies the typed environment overlay. A missing file is not an
// error when path is empty: the defaults plus environment apply.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		data = expandEnv(data)
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Auth.BcryptRounds < 10 {
		return fmt.Errorf("bcrypt_rounds must be at least 10, got %d", c.Auth.BcryptRounds)
	}
	if c.Telemetry.Tracing.SampleRate < 0 || c.Telemetry.Tracing.SampleRate > 1 {
		return fmt.Errorf("tracing sample_rate must be in [0,1], got %v", c.Telemetry.Tracing.SampleRate)
	}
	seen := map[string]struct{}{}
	for _, p := range c.Providers {
		if p.Name == "" {
			return fmt.Errorf("provider entry without a name")
		}
		if _, dup := seen[p.Name]; dup {
			return fmt.Errorf("duplicate provider %q", p.Name)
		}
		seen[p.Name] = struct{}{}
	}
	return nil
}
