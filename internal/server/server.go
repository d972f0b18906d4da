// Package server implements the HTTP transport layer for the LLM router.
package server

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	gateway "github.com/llmrouter/gateway/internal"
	"github.com/llmrouter/gateway/internal/auth"
	"github.com/llmrouter/gateway/internal/cache"
	"github.com/llmrouter/gateway/internal/circuitbreaker"
	"github.com/llmrouter/gateway/internal/pipeline"
	"github.com/llmrouter/gateway/internal/ratelimit"
	"github.com/llmrouter/gateway/internal/registry"
	"github.com/llmrouter/gateway/internal/telemetry"
)

// ReadyChecker reports whether the system is ready to serve traffic.
type ReadyChecker func(ctx context.Context) error

// HealthReporter exposes the last probe result per provider.
type HealthReporter interface {
	Statuses() map[string]gateway.HealthStatus
}

// UserLookup resolves a user by id for refresh-token rotation.
type UserLookup func(ctx context.Context, userID string) (*gateway.User, error)

// KeyLookup resolves an API key record for ownership checks.
type KeyLookup func(ctx context.Context, keyID string) (*gateway.APIKey, error)

// Deps holds all dependencies for the HTTP server.
type Deps struct {
	Auth     gateway.Authenticator
	Pipeline *pipeline.Pipeline
	Registry *registry.Registry
	Breakers *circuitbreaker.Registry

	Users      *auth.Users
	Tokens     *auth.Tokens
	Keys       *auth.APIKeys
	UserLookup UserLookup
	KeyLookup  KeyLookup

	Limiter    *ratelimit.Limiter   // nil = no rate limiting
	Cache      cache.Cache          // nil = no response caching
	Metrics    *telemetry.Metrics   // nil = no metrics middleware
	PromReg    prometheus.Gatherer  // nil = no /metrics endpoint
	Health     HealthReporter       // nil = no probe data in /admin/stats
	ReadyCheck ReadyChecker         // nil = always ready (for tests)
}

// New creates an http.Handler with all routes and middleware wired.
func New(deps Deps) http.Handler {
	s := &server{deps: deps}

	r := chi.NewRouter()

	// Global middleware
	r.Use(s.recovery)
	r.Use(s.requestID)
	r.Use(s.logging)
	if deps.Metrics != nil {
		r.Use(metricsMiddleware(deps.Metrics))
	}

	// System endpoints (no auth)
	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	if deps.PromReg != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.PromReg, promhttp.HandlerOpts{}))
	}

	// Auth endpoints (no auth middleware; login bootstraps credentials)
	r.Post("/auth/login", s.handleLogin)
	r.Post("/auth/refresh", s.handleRefresh)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Post("/auth/apikeys", s.handleCreateAPIKey)
		r.Get("/auth/apikeys", s.handleListAPIKeys)
		r.Delete("/auth/apikeys/{id}", s.handleDeleteAPIKey)
	})

	// Client-facing API (auth + rate limit required)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.rateLimit)
		r.Post("/v1/inference", s.handleInference)
		r.Post("/v1/chat/completions", s.handleChatCompletions)
		r.Post("/v1/embeddings", s.handleEmbeddings)
		r.Post("/v1/rerank", s.handleRerank)
		r.Get("/v1/models", s.handleListModels)
	})

	// Admin and local-runner management (auth + admin role)
	r.Group(func(r chi.Router) {
		r.Use(s.authenticate)
		r.Use(s.requireAdmin)
		r.Get("/admin/stats", s.handleStats)
		r.Post("/admin/cache/clear", s.handleCacheClear)
		r.Get("/services", s.handleListServices)
		r.Get("/models", s.handleListLocalModels)
		r.Post("/models/load", s.handleLoadModel)
		r.Delete("/models/{id}", s.handleUnloadModel)
	})

	return r
}

type server struct {
	deps Deps
}
