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

	"github.com/quantrella/trade-executor/internal/api"
	"github.com/quantrella/trade-executor/internal/auth"
	"github.com/quantrella/trade-executor/internal/config"
	"github.com/quantrella/trade-executor/internal/exchange"
	"github.com/quantrella/trade-executor/internal/metrics"
	"github.com/quantrella/trade-executor/internal/riskplan"
	"github.com/quantrella/trade-executor/internal/sequencer"
	"github.com/quantrella/trade-executor/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

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
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory ledger (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Exchange gateway ---
	var gw exchange.Gateway
	if cfg.LiveTrading() {
		gw = exchange.NewBybit(cfg.BybitAPIKey, cfg.BybitAPISecret, cfg.BybitTestnet)
		slog.Info("bybit gateway configured", "testnet", cfg.BybitTestnet)
	} else {
		gw = exchange.NewAcknowledge()
		slog.Warn("exchange credentials not set, running in acknowledge-only mode")
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()
	go wsHub.Run()

	// --- Sequencer ---
	var guard *riskplan.Guard
	if cfg.MaxNotionalUSD.IsPositive() {
		guard = riskplan.NewGuard(cfg.MaxNotionalUSD)
	}
	seq := sequencer.New(gw, st, sequencer.Options{
		MaxAttempts: cfg.MaxAttempts,
		Guard:       guard,
		Events:      wsHub,
	})

	// --- HTTP service ---
	svc := api.NewService(auth.New(cfg.WebhookSecret), seq, gw, st)

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	svc.Routes(r, wsHub)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("trade-executor listening", "port", cfg.Port, "live_trading", cfg.LiveTrading())
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

	slog.Info("shutting down trade-executor...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("trade-executor stopped")
}
