package main

import (
	"context"
	"crypto/rand"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/dnscache"

	"github.com/llmrouter/gateway/internal/auth"
	"github.com/llmrouter/gateway/internal/cache"
	"github.com/llmrouter/gateway/internal/circuitbreaker"
	"github.com/llmrouter/gateway/internal/config"
	"github.com/llmrouter/gateway/internal/pipeline"
	"github.com/llmrouter/gateway/internal/ratelimit"
	"github.com/llmrouter/gateway/internal/registry"
	"github.com/llmrouter/gateway/internal/router"
	"github.com/llmrouter/gateway/internal/server"
	"github.com/llmrouter/gateway/internal/storage/sqlite"
	"github.com/llmrouter/gateway/internal/telemetry"
	"github.com/llmrouter/gateway/internal/worker"
)

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Server.LogLevel)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	slog.Info("starting llmrouter", "version", version, "addr", addr)

	store, err := sqlite.New(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := context.Background()

	// Provider registry. The config catalog wins; when it names no
	// providers the last persisted catalog is restored.
	reg := registry.New()
	resolver := &dnscache.Resolver{}
	providers, models := buildCatalog(cfg)
	if len(providers) == 0 {
		if providers, models, err = store.LoadProviders(ctx); err != nil {
			return err
		}
	}
	reg.Publish(providers, models)
	if len(cfg.Providers) > 0 {
		if err := store.SaveProviders(ctx, providers, models); err != nil {
			slog.Warn("failed to persist provider catalog", "error", err)
		}
	}
	for _, p := range cfg.Providers {
		if !p.IsEnabled() {
			continue
		}
		adapter, err := buildAdapter(ctx, p, resolver)
		if err != nil {
			return err
		}
		reg.RegisterAdapter(p.Name, adapter)
	}

	breakers := circuitbreaker.NewRegistry(circuitbreaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     cfg.Breaker.ResetTimeout,
	})

	// Telemetry
	var (
		metrics *telemetry.Metrics
		promReg *prometheus.Registry
	)
	if cfg.Telemetry.Metrics.Enabled {
		promReg = prometheus.NewRegistry()
		promReg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		metrics = telemetry.NewMetrics(promReg)
		m := metrics
		breakers.OnTransition(func(provider string, _, to circuitbreaker.State) {
			if to == circuitbreaker.StateOpen {
				m.BreakerOpens.WithLabelValues(provider).Inc()
			}
		})
	}
	if cfg.Telemetry.Tracing.Enabled {
		shutdown, err := telemetry.SetupTracing(ctx, cfg.Telemetry.Tracing.Endpoint, cfg.Telemetry.Tracing.SampleRate)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := shutdown(sctx); err != nil {
				slog.Warn("trace exporter shutdown", "error", err)
			}
		}()
	}

	rt := router.New(reg, breakers, cfg.Routing.DefaultStrategy, slog.Default())

	// Rate limiting, shared across replicas when Redis is configured.
	var rlStore ratelimit.Store
	if cfg.RateLimit.RedisAddr != "" {
		rlStore = ratelimit.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.RateLimit.RedisAddr}), "")
	} else {
		rlStore = ratelimit.NewMemory()
	}
	limiter := ratelimit.New(rlStore, ratelimit.Config{
		GlobalPerMinute: cfg.RateLimit.GlobalPerMinute,
		GlobalWindow:    cfg.RateLimit.GlobalWindow,
		Tiers:           ratelimit.OverrideTiers(cfg.RateLimit.Tiers),
	})

	var respCache cache.Cache
	if cfg.Cache.Enabled {
		if cfg.Cache.RedisAddr != "" {
			respCache = cache.NewRedis(redis.NewClient(&redis.Options{Addr: cfg.Cache.RedisAddr}))
		} else {
			respCache, err = cache.NewMemory(cfg.Cache.MaxSize, cfg.Cache.TTL)
			if err != nil {
				return err
			}
		}
	}

	recorder := worker.NewUsageRecorder(store)

	pipeCfg := pipeline.Config{
		MaxRetries:      cfg.Pipeline.MaxRetries,
		OverallTimeout:  cfg.Pipeline.RequestTimeout,
		ProviderTimeout: cfg.Pipeline.ProviderTimeout,
		MaxConcurrent:   cfg.Pipeline.MaxConcurrent,
		QueueDepth:      cfg.Pipeline.QueueDepth,
		CacheTTL:        cfg.Cache.TTL,
	}
	if !cfg.Routing.FallbackEnabled() {
		pipeCfg.MaxRetries = 0
	}
	pipe := pipeline.New(rt, reg, breakers, respCache, recorder, slog.Default(), pipeCfg)

	// Auth stack
	secret := []byte(cfg.Auth.JWTSecret)
	if len(secret) == 0 {
		secret = make([]byte, 32)
		rand.Read(secret)
		slog.Warn("jwt_secret not configured, using an ephemeral secret; tokens will not survive restart")
	}
	hasher := auth.NewHasher(cfg.Auth.BcryptRounds, runtime.NumCPU())
	blacklist := auth.NewBlacklist()
	users := auth.NewUsers(store, hasher, slog.Default())
	tokens := auth.NewTokens(secret, store, blacklist)
	tokens.SetTTLs(cfg.Auth.AccessTTL, cfg.Auth.RefreshTTL)
	keys, err := auth.NewAPIKeys(store, hasher)
	if err != nil {
		return err
	}
	authn := &auth.Multi{Tokens: tokens, Keys: keys}

	// Background workers
	janitor := worker.NewJanitor(store)
	janitor.AddSweep("token_blacklist", blacklist.Sweep)
	janitor.AddSweep("login_failures", func() int {
		users.SweepFailures()
		return 0
	})
	janitor.AddEvicter("circuit_breakers", breakers)
	janitor.AddEvicter("adaptive_limits", limiter.Adaptive())
	janitor.AddEvicter("route_learner", rt.Learner())
	janitor.AddSweep("anomaly_log", limiter.Anomaly().Sweep)
	janitor.AddSweep("anomaly_flags", func() int {
		flags := limiter.Anomaly().Flags()
		for _, f := range flags {
			slog.Warn("traffic anomaly",
				"kind", f.Kind, "ip", f.IP, "subject", f.Subject, "detail", f.Detail)
		}
		return len(flags)
	})
	health := worker.NewHealthChecker(reg, breakers, cfg.Routing.HealthCheckInterval)
	runner := worker.NewRunner(recorder, janitor, health)

	handler := server.New(server.Deps{
		Auth:       authn,
		Pipeline:   pipe,
		Registry:   reg,
		Breakers:   breakers,
		Users:      users,
		Tokens:     tokens,
		Keys:       keys,
		UserLookup: store.GetUser,
		KeyLookup:  store.GetKey,
		Limiter:    limiter,
		Cache:      respCache,
		Metrics:    metrics,
		PromReg:    promReg,
		Health:     health,
		ReadyCheck: store.Ping,
	})

	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	workerCtx, cancelWorkers := context.WithCancel(ctx)
	defer cancelWorkers()
	workerErr := make(chan error, 1)
	go func() {
		workerErr <- runner.Run(workerCtx)
	}()
	if metrics != nil {
		go pollUsageQueue(workerCtx, metrics, recorder)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	slog.Info("llmrouter ready", "addr", addr, "providers", len(providers), "models", len(models))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("shutting down", "signal", sig)
	case err := <-errCh:
		return err
	case err := <-workerErr:
		return err
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// Stop workers after the listener drains so in-flight usage is recorded.
	cancelWorkers()
	select {
	case <-workerErr:
	case <-shutdownCtx.Done():
	}

	slog.Info("llmrouter stopped")
	return nil
}

func setupLogging(level string) {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// pollUsageQueue mirrors the usage recorder's queue depth into the gauge.
func pollUsageQueue(ctx context.Context, m *telemetry.Metrics, rec *worker.UsageRecorder) {
	t := time.NewTicker(10 * time.Second)
	defer t.Stop()
	for {
		select {
		case <-t.C:
			m.UsageQueueLength.Set(float64(rec.QueueLen()))
		case <-ctx.Done():
			return
		}
	}
}
