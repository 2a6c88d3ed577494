package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/kursadbilgin/delivery-simulator/internal/config"
	"github.com/kursadbilgin/delivery-simulator/internal/handler"
	infraredis "github.com/kursadbilgin/delivery-simulator/internal/infra/redis"
	"github.com/kursadbilgin/delivery-simulator/internal/observability"
	"github.com/kursadbilgin/delivery-simulator/internal/provider"
	"github.com/kursadbilgin/delivery-simulator/internal/ratelimit"
	"github.com/kursadbilgin/delivery-simulator/internal/repository"
	"github.com/kursadbilgin/delivery-simulator/internal/service"
	"github.com/kursadbilgin/delivery-simulator/internal/simrand"
	"github.com/kursadbilgin/delivery-simulator/internal/transport"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("delivery-simulator stopped with error", zap.Error(err))
	}
	logger.Info("delivery-simulator stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	metrics := observability.NewMetrics()
	random := simrand.New(cfg.RandomSeed)
	deliveries := repository.NewMemoryDeliveryRepo()

	var rdb *redis.Client
	var limiter ratelimit.RateLimiter = ratelimit.NewLocalRateLimiter(cfg.WebhookRateLimitPerSec)
	if cfg.RedisURL != "" {
		client, err := infraredis.NewRedis(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis initialization failed: %w", err)
		}
		defer client.Close()

		redisLimiter, err := infraredis.NewRedisRateLimiter(client, cfg.WebhookRateLimitPerSec)
		if err != nil {
			return fmt.Errorf("redis rate limiter initialization failed: %w", err)
		}
		rdb = client
		limiter = redisLimiter
	}

	webhook, err := provider.NewWebhookProvider(cfg.WebhookTimeout())
	if err != nil {
		return fmt.Errorf("webhook provider initialization failed: %w", err)
	}

	dispatcher, err := service.NewNotificationDispatcher(webhook, limiter, service.DispatcherConfig{
		Enabled:        cfg.WebhookEnabled,
		RetryCount:     cfg.WebhookRetryCount,
		AttemptTimeout: cfg.WebhookTimeout(),
	}, logger.Named("dispatcher"))
	if err != nil {
		return fmt.Errorf("notification dispatcher initialization failed: %w", err)
	}
	dispatcher.SetMetrics(metrics)

	scheduler, err := service.NewLifecycleScheduler(deliveries, dispatcher, random, service.SchedulerConfig{
		TransitionDelay:   cfg.TransitionDelay(),
		FailurePercentage: cfg.RandomFailurePercentage,
		PollInterval:      cfg.PollInterval(),
		ErrorBackoff:      cfg.ErrorBackoff(),
	}, logger.Named("scheduler"))
	if err != nil {
		return fmt.Errorf("lifecycle scheduler initialization failed: %w", err)
	}
	scheduler.SetMetrics(metrics)

	latencyMin, latencyMax := cfg.SimulatedLatencyRange()
	deliveryService, err := service.NewDeliveryService(deliveries, dispatcher, random, service.LatencyRange{
		Min: latencyMin,
		Max: latencyMax,
	}, logger.Named("gateway"))
	if err != nil {
		return fmt.Errorf("delivery service initialization failed: %w", err)
	}
	deliveryService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "delivery-simulator",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(observability.RequestLogger(logger))
	app.Use(metrics.HTTPMiddleware())

	app.Get("/metrics", adaptor.HTTPHandler(metrics.Handler()))
	handler.RegisterHealthRoutes(app, deliveries, rdb)
	if err := handler.RegisterDeliveryRoutes(app, deliveryService); err != nil {
		return fmt.Errorf("failed to register delivery routes: %w", err)
	}

	g, groupCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		addr := fmt.Sprintf(":%d", cfg.APIPort)
		logger.Info("delivery-simulator api started",
			zap.String("addr", addr),
			zap.Bool("webhooksEnabled", cfg.WebhookEnabled),
			zap.Bool("redisRateLimiter", rdb != nil),
		)
		if err := app.Listen(addr); err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return scheduler.Start(groupCtx)
	})

	g.Go(func() error {
		<-groupCtx.Done()
		logger.Info("shutting down http server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		return nil
	})

	runErr := g.Wait()

	closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := dispatcher.Close(closeCtx); err != nil {
		logger.Warn("in-flight notifications cancelled at shutdown", zap.Error(err))
	}

	return runErr
}
