package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/zachbroad/webhook-dispatch/internal/app"
	"github.com/zachbroad/webhook-dispatch/internal/config"
	"github.com/zachbroad/webhook-dispatch/internal/database"
	"github.com/zachbroad/webhook-dispatch/internal/store"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	slog.SetDefault(cfg.Logger(os.Stdout))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	slog.Info("connected to postgres")

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("failed to parse redis URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()
	slog.Info("connected to redis")

	s := store.New(pool)
	d := app.NewDispatcher(cfg, s, rdb, app.NewFactory(cfg))
	if err := app.StartWorker(ctx, cfg, d, rdb); err != nil {
		slog.Error("failed to start worker", "error", err)
		os.Exit(1)
	}

	// Minimal health endpoint for liveness probes
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := rdb.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	healthSrv := &http.Server{
		Addr:    ":" + cfg.HealthPort,
		Handler: healthMux,
	}

	go func() {
		slog.Info("worker health server listening", "port", cfg.HealthPort)
		if err := healthSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("health server error", "error", err)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down worker...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := healthSrv.Shutdown(shutdownCtx); err != nil {
		slog.Error("health server shutdown error", "error", err)
	}
	slog.Info("worker stopped")
}
