package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/jpaulsen/stampede/internal/campaign"
	"github.com/jpaulsen/stampede/internal/config"
	"github.com/jpaulsen/stampede/internal/handler"
	"github.com/jpaulsen/stampede/internal/infra/postgresql"
	"github.com/jpaulsen/stampede/internal/infra/postgresql/migrations"
	infraredis "github.com/jpaulsen/stampede/internal/infra/redis"
	"github.com/jpaulsen/stampede/internal/observability"
	"github.com/jpaulsen/stampede/internal/queue"
	"github.com/jpaulsen/stampede/internal/repository"
	"github.com/jpaulsen/stampede/internal/service"
	"github.com/jpaulsen/stampede/internal/storage"
	"github.com/jpaulsen/stampede/internal/transport"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "stampede-api")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, 0)
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

	rdb, err := infraredis.NewRedis(cfg.RedisURL, "stampede-api")
	if err != nil {
		logger.Fatal("redis initialization failed", zap.Error(err))
	}
	defer rdb.Close()

	store, err := storage.NewFSStore(cfg.StorageDir)
	if err != nil {
		logger.Fatal("blob store initialization failed", zap.Error(err))
	}

	jobQueue, err := queue.NewRedisQueue(rdb, logger)
	if err != nil {
		logger.Fatal("queue initialization failed", zap.Error(err))
	}

	statusCache, err := infraredis.NewStatusCache(rdb, cfg.StatusCacheTTL())
	if err != nil {
		logger.Fatal("status cache initialization failed", zap.Error(err))
	}

	directory, err := campaign.NewDirectory(store)
	if err != nil {
		logger.Fatal("campaign directory initialization failed", zap.Error(err))
	}

	jobService, err := service.NewJobService(
		repository.NewGormJobRepo(db),
		repository.NewGormRecipientRepo(db),
		repository.NewGormProgressRepo(db),
		jobQueue,
		jobQueue,
		statusCache,
		directory,
		store,
		cfg.TrackingBaseURL,
		logger,
	)
	if err != nil {
		logger.Fatal("job service initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	jobService.SetMetrics(metrics)

	app := fiber.New(fiber.Config{
		ErrorHandler: transport.ErrorHandler(logger),
	})
	app.Use(metrics.HTTPMiddleware())

	if err := handler.RegisterJobRoutes(app, jobService); err != nil {
		logger.Fatal("route registration failed", zap.Error(err))
	}
	handler.RegisterHealthRoutes(app, sqlDB, rdb, jobQueue)

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux(metrics),
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Info("stampede api started", zap.Int("port", cfg.APIPort))
		if err := app.Listen(fmt.Sprintf(":%d", cfg.APIPort)); err != nil {
			logger.Error("api server stopped", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
		logger.Error("api shutdown failed", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown failed", zap.Error(err))
	}
}

func metricsMux(metrics *observability.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
