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
	"github.com/kursadbilgin/notify-pipeline/internal/auth"
	"github.com/kursadbilgin/notify-pipeline/internal/config"
	"github.com/kursadbilgin/notify-pipeline/internal/handler"
	"github.com/kursadbilgin/notify-pipeline/internal/infra/postgresql"
	"github.com/kursadbilgin/notify-pipeline/internal/infra/postgresql/migrations"
	infraredis "github.com/kursadbilgin/notify-pipeline/internal/infra/redis"
	"github.com/kursadbilgin/notify-pipeline/internal/observability"
	"github.com/kursadbilgin/notify-pipeline/internal/queue"
	"github.com/kursadbilgin/notify-pipeline/internal/repository"
	"github.com/kursadbilgin/notify-pipeline/internal/scheduler"
	"github.com/kursadbilgin/notify-pipeline/internal/service"
	"github.com/kursadbilgin/notify-pipeline/internal/transport"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
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

	if err := migrations.Migrate(db); err != nil {
		logger.Fatal("database migrations failed", zap.Error(err))
	}

	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(ctx, cfg.RedisURL, "notify-pipeline-api")
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

	metrics := observability.NewMetrics()

	ledger := repository.NewGormLedger(db)
	history := repository.NewGormHistoryRepo(db)

	notificationService, err := service.NewNotificationService(ledger, broker, logger)
	if err != nil {
		logger.Fatal("notification service initialization failed", zap.Error(err))
	}
	notificationService.SetMetrics(metrics)

	sweeper, err := service.NewSweeper(ledger, notificationService, service.SweeperConfig{
		PageSize: cfg.SweepPageSize,
	}, logger)
	if err != nil {
		logger.Fatal("sweeper initialization failed", zap.Error(err))
	}
	sweeper.SetMetrics(metrics)

	digestStore, err := infraredis.NewDigestStore(rdb)
	if err != nil {
		logger.Fatal("digest store initialization failed", zap.Error(err))
	}
	digestJob, err := service.NewDigestJob(digestStore, notificationService, logger)
	if err != nil {
		logger.Fatal("digest job initialization failed", zap.Error(err))
	}

	jobs, err := newScheduler(cfg, logger, sweeper, digestJob)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}

	verifier, err := auth.NewVerifier(cfg.JWTSecret)
	if err != nil {
		logger.Fatal("token verifier initialization failed", zap.Error(err))
	}

	app := fiber.New(fiber.Config{
		AppName:               "notify-pipeline",
		DisableStartupMessage: true,
		ErrorHandler:          transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	handler.RegisterHealthRoutes(app, map[string]handler.Check{
		"postgres": func(ctx context.Context) error { return postgresql.Ping(ctx, db) },
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
	})
	handler.RegisterMetricsRoute(app, metrics.Handler())
	if err := handler.RegisterNotificationRoutes(app, notificationService, history, verifier); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		return jobs.Start(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return app.ShutdownWithContext(shutdownCtx)
	})

	logger.Info("notify-pipeline api started", zap.Int("port", cfg.APIPort))

	if err := g.Wait(); err != nil {
		logger.Error("notify-pipeline api stopped with error", zap.Error(err))
		return
	}
	logger.Info("notify-pipeline api stopped")
}

func newScheduler(
	cfg *config.Config,
	logger *zap.Logger,
	sweeper *service.Sweeper,
	digest *service.DigestJob,
) (*scheduler.Scheduler, error) {
	s, err := scheduler.New(cfg.SchedulerTimezone, logger)
	if err != nil {
		return nil, err
	}

	if err := s.Register("sweep-initiated", cfg.SweepInitiatedSchedule, sweeper.SweepInitiated, scheduler.RunOnStart()); err != nil {
		return nil, err
	}
	if err := s.Register("sweep-produced", cfg.SweepProducedSchedule, sweeper.SweepProduced); err != nil {
		return nil, err
	}
	if err := s.Register("sweep-consumed", cfg.SweepConsumedSchedule, sweeper.SweepConsumed); err != nil {
		return nil, err
	}
	if err := s.Register("likes-digest", cfg.DigestSchedule, digest.Run); err != nil {
		return nil, err
	}

	return s, nil
}
