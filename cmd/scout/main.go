package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/af-corp/scout/internal/auth"
	"github.com/af-corp/scout/internal/config"
	"github.com/af-corp/scout/internal/dedupe"
	"github.com/af-corp/scout/internal/gateway"
	"github.com/af-corp/scout/internal/httputil"
	"github.com/af-corp/scout/internal/orchestrator"
	"github.com/af-corp/scout/internal/provider"
	"github.com/af-corp/scout/internal/ratelimit"
	"github.com/af-corp/scout/internal/route"
	"github.com/af-corp/scout/internal/store"
	"github.com/af-corp/scout/internal/synthesis"
	"github.com/af-corp/scout/internal/telemetry"
	"github.com/af-corp/scout/internal/tools"
)

var version = "dev"

func main() {
	configDir := flag.String("config", "configs", "path to configuration directory")
	flag.Parse()

	level := new(slog.LevelVar)
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	// Load configuration
	loader := config.NewLoader(*configDir, logger)
	if err := loader.Load(); err != nil {
		logger.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	cfg := loader.Config()
	level.Set(parseLevel(cfg.Telemetry.LogLevel))

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// Connect to Redis
	var rdb *redis.Client
	if len(cfg.Redis.Addresses) > 0 && cfg.Redis.Addresses[0] != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addresses[0],
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn("redis not reachable (rate limits and chat cache stay local)", "error", err)
			rdb = nil
		} else {
			logger.Info("redis connected")
		}
	}

	// Persistence
	var chats store.ChatStore = store.NewMemoryStore()
	if cfg.Database.Enabled {
		dbPool, err := pgxpool.New(ctx, cfg.Database.DSN())
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer dbPool.Close()

		if err := dbPool.Ping(ctx); err != nil {
			logger.Warn("database not reachable (chat persistence will fail until it is)", "error", err)
		} else {
			logger.Info("database connected")
		}
		chats = store.NewPostgresStore(dbPool, rdb)
	}

	// Build provider registry
	health := provider.NewHealthTracker(cfg.Routing.CircuitBreaker.FailureThreshold, cfg.Routing.CircuitBreaker.RecoveryProbeInterval)
	registry := provider.BuildFromConfig(loader.Models(), loader.Providers(), health)
	loader.OnReload(func() {
		registry.Reload(loader.Models(), loader.Providers())
		level.Set(parseLevel(loader.Config().Telemetry.LogLevel))
		logger.Info("provider registry reloaded", "models", len(registry.Models()))
	})
	if err := loader.Watch(ctx); err != nil {
		logger.Warn("failed to start config watcher", "error", err)
	}

	synth := synthesis.New(registry.Lazy(cfg.Routing.SynthesisModel), synthesis.Options{
		MaxItems:     cfg.Synthesis.MaxItems,
		MaxItemChars: cfg.Synthesis.MaxItemChars,
		Timeout:      cfg.Synthesis.Timeout,
	}, metrics)
	toolRegistry := tools.Build(cfg.Tools, synth)

	limiter := ratelimit.New(cfg.RateLimit, rdb)
	if mem, ok := limiter.(*ratelimit.MemoryLimiter); ok {
		go mem.Run(ctx, cfg.RateLimit.SweepInterval)
	}

	finalizer := orchestrator.NewFinalizer(registry, chats, orchestrator.FinalizerOptions{
		TitleModel:   cfg.Routing.TitleModel,
		Timeout:      cfg.Finalizer.Timeout,
		TitleTimeout: cfg.Finalizer.TitleTimeout,
	}, metrics)

	routes := route.DefaultTable()
	logger.Info("routes configured", "groups", routes.Groups())

	handler := gateway.NewHandler(gateway.Deps{
		Models:       registry,
		Routes:       routes,
		Tools:        toolRegistry,
		Orchestrator: orchestrator.New(metrics),
		Finalizer:    finalizer,
		Flights:      &dedupe.Group[*gateway.Broadcast]{},
		Config:       loader.Config,
		Metrics:      metrics,
	})

	// Router setup
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(httputil.CORS)

	r.Get("/health", handler.Health)
	r.Get("/models", handler.ListModels)

	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware)
		r.Use(ratelimit.Middleware(limiter, metrics))
		r.Post("/search", handler.Search)
		r.Post("/search/{group}", handler.Search)
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Telemetry.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 2)
	go func() {
		logger.Info("scout starting", "addr", addr, "version", version)
		errCh <- srv.ListenAndServe()
	}()
	go func() {
		logger.Info("metrics server starting", "addr", metricsSrv.Addr)
		errCh <- metricsSrv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig)
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdown)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	if !waitUntil(shutdownCtx, func() {
		handler.Wait()
		finalizer.Wait()
	}) {
		logger.Warn("shutdown deadline reached with work in flight")
	}
	stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
	if rdb != nil {
		_ = rdb.Close()
	}
	logger.Info("scout stopped")
}

// waitUntil runs fn and reports whether it returned before ctx was done.
func waitUntil(ctx context.Context, fn func()) bool {
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-ctx.Done():
		return false
	}
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = generateRequestID()
		}
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r)
	})
}

func generateRequestID() string {
	now := time.Now()
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("req_%d_%s", now.UnixMilli(), hex.EncodeToString(b))
}
