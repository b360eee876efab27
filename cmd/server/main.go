package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/synthvault/collateral-engine/internal/api"
	"github.com/synthvault/collateral-engine/internal/compute"
	"github.com/synthvault/collateral-engine/internal/config"
	"github.com/synthvault/collateral-engine/internal/health"
	"github.com/synthvault/collateral-engine/internal/ledger"
	"github.com/synthvault/collateral-engine/internal/limits"
	"github.com/synthvault/collateral-engine/internal/metrics"
	"github.com/synthvault/collateral-engine/internal/orchestrator"
	"github.com/synthvault/collateral-engine/internal/store"
	"github.com/synthvault/collateral-engine/internal/sweep"
	"github.com/synthvault/collateral-engine/internal/token"
	"github.com/synthvault/collateral-engine/internal/valuation"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		slog.Error("configuration error", "err", err)
		os.Exit(1)
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if cfg.RedisURL != "" {
			opt, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				slog.Error("invalid redis_url", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, cfg.CacheTTL)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("database_url not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Collaborators ---
	// The in-memory bank and compute stub stand in for the external token
	// contracts and risk-scoring service; deployments swap in real adapters.
	bank := token.NewMemoryBank()
	computeClient := compute.NewStub()

	fallbacks := make(map[string]decimal.Decimal, len(cfg.FallbackPrices))
	for asset, price := range cfg.FallbackPrices {
		d, err := decimal.NewFromString(price)
		if err != nil {
			slog.Error("invalid fallback price", "asset", asset, "price", price)
			os.Exit(1)
		}
		fallbacks[asset] = d
	}
	gateway := valuation.NewGateway(nil, cfg.PriceStaleness, nil, fallbacks, nil)

	maxDeposit, _ := decimal.NewFromString(cfg.MaxDepositUSD)
	maxPending, _ := decimal.NewFromString(cfg.MaxPendingUSD)
	limiter := limits.NewDepositLimiter(maxDeposit, maxPending)

	// --- Core engine ---
	breaker := health.New(cfg.FailureThreshold, cfg.BreakerCooldown, nil)
	led := ledger.New(st, bank, bank, gateway, limiter, cfg.SupportedAssets, nil)
	orch := orchestrator.New(st, computeClient, led, breaker, cfg, nil)
	led.Bind(orch)
	sweeper := sweep.New(st, led, cfg.SweepBatchSize, nil)

	// --- WebSocket hub ---
	hub := api.NewEventHub()
	go hub.Run()

	svc := api.NewService(led, orch, sweeper, hub)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"collateral-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time lifecycle events.
		r.Get("/ws", hub.HandleWS)
		svc.Routes(r)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("collateral-engine listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down collateral-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("collateral-engine stopped")
}
