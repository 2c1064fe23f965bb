package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/notify-pipeline/internal/config"
	"github.com/kursadbilgin/notify-pipeline/internal/handler"
	"github.com/kursadbilgin/notify-pipeline/internal/infra/postgresql"
	infraredis "github.com/kursadbilgin/notify-pipeline/internal/infra/redis"
	"github.com/kursadbilgin/notify-pipeline/internal/observability"
	"github.com/kursadbilgin/notify-pipeline/internal/provider"
	"github.com/kursadbilgin/notify-pipeline/internal/queue"
	"github.com/kursadbilgin/notify-pipeline/internal/repository"
	"github.com/kursadbilgin/notify-pipeline/internal/service"
	"github.com/kursadbilgin/notify-pipeline/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.LoadWorker()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewFileLogger(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL, "notify-pipeline-worker")
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	broker, err := queue.NewRabbitMQ(ctx, queue.Config{
		URL:      cfg.RabbitMQURL,
		Exchange: cfg.RabbitMQExchange,
		Queue:    cfg.RabbitMQQueue,
		Prefetch: cfg.RabbitMQPrefetch,
	}, logger)
	if err != nil {
		logger.Fatal("rabbitmq initialization failed", zap.Error(err))
	}
	defer broker.Close()

	emailProvider, err := newProvider(cfg)
	if err != nil {
		logger.Fatal("email provider initialization failed", zap.Error(err))
	}

	rateLimiter, err := infraredis.NewRedisRateLimiter(rdb, cfg.EmailRateLimitPerSec)
	if err != nil {
		logger.Fatal("rate limiter initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()

	worker, err := service.NewWorkerService(
		repository.NewGormLedger(db),
		repository.NewGormHistoryRepo(db),
		broker,
		emailProvider,
		rateLimiter,
		logger,
	)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}
	worker.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		AppName:               "notify-pipeline-worker",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	handler.RegisterHealthRoutes(app, map[string]handler.Check{
		"postgres": func(ctx context.Context) error { return postgresql.Ping(ctx, db) },
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	handler.RegisterMetricsRoute(app, metrics.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return worker.Start(gctx)
	})
	g.Go(func() error {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.WorkerPort)); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	logger.Info("notify-pipeline worker started",
		zap.String("transport", cfg.EmailTransport),
		zap.Int("port", cfg.WorkerPort),
	)

	if err := g.Wait(); err != nil {
		logger.Error("notify-pipeline worker stopped with error", zap.Error(err))
		return
	}
	logger.Info("notify-pipeline worker stopped")
}

func newProvider(cfg *config.Config) (provider.Provider, error) {
	switch cfg.EmailTransport {
	case config.TransportPostmark:
		return provider.NewPostmarkProvider(provider.PostmarkConfig{
			ServerToken:  cfg.PostmarkServerToken,
			AccountToken: cfg.PostmarkAccountToken,
			SenderEmail:  cfg.SenderEmail,
			SupportEmail: cfg.SupportEmail,
		})
	case config.TransportWebhook:
		return provider.NewWebhookProvider(cfg.EmailWebhookURL)
	default:
		return nil, fmt.Errorf("unsupported email transport %q", cfg.EmailTransport)
	}
}
