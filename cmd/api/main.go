package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/zachbroad/webhook-dispatch/internal/app"
	"github.com/zachbroad/webhook-dispatch/internal/config"
	"github.com/zachbroad/webhook-dispatch/internal/database"
	"github.com/zachbroad/webhook-dispatch/internal/handler"
	"github.com/zachbroad/webhook-dispatch/internal/store"
)

func main() {
	withWorker := flag.Bool("worker", false, "also run the dispatch worker in-process")
	flag.Parse()

	_ = godotenv.Load()  // Load .env file
	cfg := config.Load() // Load config from environment variables
	slog.SetDefault(cfg.Logger(os.Stdout))

	if cfg.JWTSecret == "" {
		slog.Error("JWT_SECRET is required")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Connect to Postgres
	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := database.Migrate(ctx, pool); err != nil {
		slog.Error("failed to migrate database", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to postgres")

	// Connect to Redis (event stream, retries, rate limits)
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
	factory := app.NewFactory(cfg)

	r := gin.Default()
	r.RedirectFixedPath = true
	r.RedirectTrailingSlash = true
	handler.Register(r, handler.Routes{
		Events:       handler.NewEventHandler(rdb, cfg.EventStream, time.Now),
		Destinations: handler.NewDestinationHandler(s.Destinations, factory),
		Deliveries:   handler.NewDeliveryHandler(s.Destinations, s.Attempts, s.Outcomes),
		JWTSecret:    []byte(cfg.JWTSecret),
	})

	// Optionally run the worker in-process for local development
	if *withWorker {
		d := app.NewDispatcher(cfg, s, rdb, factory)
		if err := app.StartWorker(ctx, cfg, d, rdb); err != nil {
			slog.Error("failed to start worker", "error", err)
			os.Exit(1)
		}
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: r,
	}

	go func() {
		slog.Info("api server listening", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "error", err)
	}
	slog.Info("api server stopped")
}
