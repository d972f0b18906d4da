package config

import (
	"os"
	"strconv"
	"time"
)

// applyEnv overlays the enumerated runtime environment variables on top of
// the file-derived config. Variables always win over the file.
func applyEnv(cfg *Config) {
	envInt("PORT", &cfg.Server.Port)
	envStr("HOST", &cfg.Server.Host)
	envStr("LOG_LEVEL", &cfg.Server.LogLevel)

	envStr("DATABASE_DSN", &cfg.Database.DSN)

	envInt("MAX_CONCURRENT_REQUESTS", &cfg.Pipeline.MaxConcurrent)
	envMillis("REQUEST_TIMEOUT_MS", &cfg.Pipeline.RequestTimeout)

	envBool("CACHE_ENABLED", &cfg.Cache.Enabled)
	envSeconds("CACHE_TTL_SECONDS", &cfg.Cache.TTL)
	envInt("CACHE_MAX_SIZE", &cfg.Cache.MaxSize)
	envStr("CACHE_REDIS_ADDR", &cfg.Cache.RedisAddr)

	envInt64("RATE_LIMIT_MAX_REQUESTS", &cfg.RateLimit.GlobalPerMinute)
	envMillis("RATE_LIMIT_WINDOW_MS", &cfg.RateLimit.GlobalWindow)
	envStr("RATE_LIMIT_REDIS_ADDR", &cfg.RateLimit.RedisAddr)

	envStr("JWT_SECRET", &cfg.Auth.JWTSecret)
	envDuration("JWT_EXPIRES_IN", &cfg.Auth.AccessTTL)
	envInt("BCRYPT_ROUNDS", &cfg.Auth.BcryptRounds)

	envStr("DEFAULT_ROUTING_STRATEGY", &cfg.Routing.DefaultStrategy)
	if v, ok := os.LookupEnv("ENABLE_FALLBACK"); ok {
		b := v == "true" || v == "1"
		cfg.Routing.EnableFallback = &b
	}
	envMillis("HEALTH_CHECK_INTERVAL_MS", &cfg.Routing.HealthCheckInterval)

	envInt("CIRCUIT_BREAKER_THRESHOLD", &cfg.Breaker.FailureThreshold)
	envMillis("CIRCUIT_BREAKER_RESET_MS", &cfg.Breaker.ResetTimeout)

	envStr("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Telemetry.Tracing.Endpoint)

	applyProviderCredentials(cfg)
}

// applyProviderCredentials fills provider api keys from the conventional
// per-vendor variables when the file left them empty.
func applyProviderCredentials(cfg *Config) {
	vendorKey := map[string]string{
		"openai":    "OPENAI_API_KEY",
		"anthropic": "ANTHROPIC_API_KEY",
		"gemini":    "GEMINI_API_KEY",
		"cohere":    "COHERE_API_KEY",
	}
	for i := range cfg.Providers {
		p := &cfg.Providers[i]
		if p.APIKey != "" {
			continue
		}
		switch p.Hosting {
		case "azure":
			envStr("AZURE_OPENAI_API_KEY", &p.APIKey)
			if p.BaseURL == "" {
				envStr("AZURE_OPENAI_ENDPOINT", &p.BaseURL)
			}
			continue
		case "openrouter":
			envStr("OPENROUTER_API_KEY", &p.APIKey)
			continue
		case "bedrock", "vertex":
			// SigV4 and service-account auth read the ambient AWS_* and
			// GOOGLE_APPLICATION_CREDENTIALS variables directly.
			continue
		}
		if name, ok := vendorKey[p.ResolvedType()]; ok {
			envStr(name, &p.APIKey)
		}
	}
}

func envStr(name string, dst *string) {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		*dst = v
	}
}

func envInt(name string, dst *int) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envInt64(name string, dst *int64) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func envBool(name string, dst *bool) {
	if v, ok := os.LookupEnv(name); ok {
		*dst = v == "true" || v == "1"
	}
}

func envMillis(name string, dst *time.Duration) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Millisecond
		}
	}
}

func envSeconds(name string, dst *time.Duration) {
	if v, ok := os.LookupEnv(name); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			*dst = time.Duration(n) * time.Second
		}
	}
}

func envDuration(name string, dst *time.Duration) {
	if v, ok := os.LookupEnv(name); ok {
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			*dst = d
		}
	}
}
