// Package app wires the delivery engine from configuration. It is shared by
// the API (when run with -worker) and the standalone worker.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/redis/go-redis/v9"
	"github.com/zachbroad/webhook-dispatch/internal/config"
	"github.com/zachbroad/webhook-dispatch/internal/integration"
	"github.com/zachbroad/webhook-dispatch/internal/ratelimit"
	"github.com/zachbroad/webhook-dispatch/internal/store"
	"github.com/zachbroad/webhook-dispatch/internal/worker"
)

// NewFactory builds the adapter factory. Email deliveries fail as
// CONFIG_INVALID until SMTP_HOST is configured.
func NewFactory(cfg config.Config) *integration.Factory {
	client := &http.Client{}
	deps := integration.Deps{
		HTTPClient:    client,
		ResponseLimit: cfg.ResponseBodyLimit,
		SMSProvider: func(s integration.SMSSettings) integration.SMSProvider {
			return integration.NewTwilioProvider(cfg.TwilioBaseURL, s, client)
		},
	}
	if cfg.SMTPHost != "" {
		mailer, err := integration.NewSMTPMailer(integration.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
		})
		if err != nil {
			slog.Error("smtp disabled", "error", err)
		} else {
			deps.Mailer = mailer
		}
	}
	return integration.NewFactory(deps)
}

func newLimiter(cfg config.Config, rdb *redis.Client) ratelimit.Limiter {
	if cfg.RateLimiter == "memory" {
		return ratelimit.NewMemoryLimiter()
	}
	return ratelimit.NewRedisLimiter(rdb)
}

// NewDispatcher assembles a dispatcher backed by Postgres and Redis.
func NewDispatcher(cfg config.Config, s *store.Store, rdb *redis.Client, factory *integration.Factory) *worker.Dispatcher {
	return worker.New(worker.Options{
		Registry:  s.Destinations,
		Journal:   s,
		Limiter:   newLimiter(cfg, rdb),
		Factory:   factory,
		Scheduler: worker.NewRedisScheduler(rdb, cfg.PollInterval),
		Backoff:   worker.Backoff{Base: cfg.RetryBaseDelay, Max: cfg.RetryMaxDelay},
	})
}

// StartWorker starts the stream consumer and the retry loop. Both stop when
// ctx is cancelled.
func StartWorker(ctx context.Context, cfg config.Config, d *worker.Dispatcher, rdb *redis.Client) error {
	consumer := worker.NewConsumer(rdb, d, cfg.EventStream, cfg.WorkerConcurrency, cfg.PollInterval)
	if err := consumer.Start(ctx); err != nil {
		return fmt.Errorf("start consumer: %w", err)
	}
	go func() {
		if err := d.Run(ctx); err != nil && ctx.Err() == nil {
			slog.Error("retry scheduler stopped", "error", err)
		}
	}()
	slog.Info("dispatch worker started",
		"concurrency", cfg.WorkerConcurrency,
		"stream", cfg.EventStream,
		"rate_limiter", cfg.RateLimiter,
	)
	return nil
}
