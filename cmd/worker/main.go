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

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jpaulsen/stampede/internal/archive"
	"github.com/jpaulsen/stampede/internal/campaign"
	"github.com/jpaulsen/stampede/internal/config"
	"github.com/jpaulsen/stampede/internal/infra/postgresql"
	infraredis "github.com/jpaulsen/stampede/internal/infra/redis"
	"github.com/jpaulsen/stampede/internal/notify"
	"github.com/jpaulsen/stampede/internal/observability"
	"github.com/jpaulsen/stampede/internal/queue"
	"github.com/jpaulsen/stampede/internal/ratelimit"
	"github.com/jpaulsen/stampede/internal/render"
	"github.com/jpaulsen/stampede/internal/repository"
	"github.com/jpaulsen/stampede/internal/service"
	"github.com/jpaulsen/stampede/internal/storage"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, "stampede-worker")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	// Schema migrations run in the api process; the worker expects them done.
	// Pool sized to the render fan-out: every in-flight recipient result is a write.
	db, err := postgresql.NewPostgres(cfg.DatabaseDSN, cfg.JobConcurrency*cfg.RenderConcurrency+4)
	if err != nil {
		logger.Fatal("postgres initialization failed", zap.Error(err))
	}
	sqlDB, err := db.DB()
	if err != nil {
		logger.Fatal("postgres underlying db init failed", zap.Error(err))
	}
	defer sqlDB.Close()

	rdb, err := infraredis.NewRedis(cfg.RedisURL, "stampede-worker")
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

	builder, err := archive.NewBuilder(store)
	if err != nil {
		logger.Fatal("archive builder initialization failed", zap.Error(err))
	}

	directory, err := campaign.NewDirectory(store)
	if err != nil {
		logger.Fatal("campaign directory initialization failed", zap.Error(err))
	}

	var limiter ratelimit.RateLimiter = ratelimit.Noop{}
	if cfg.RenderRatePerSec > 0 {
		limiter, err = infraredis.NewRedisRateLimiter(rdb, cfg.RenderRatePerSec)
		if err != nil {
			logger.Fatal("rate limiter initialization failed", zap.Error(err))
		}
	}

	var notifier notify.Notifier = notify.Noop{}
	if cfg.NotifyWebhookURL != "" {
		notifier, err = notify.NewWebhookNotifier(cfg.NotifyWebhookURL)
		if err != nil {
			logger.Fatal("webhook notifier initialization failed", zap.Error(err))
		}
	}

	jobs := repository.NewGormJobRepo(db)
	recipients := repository.NewGormRecipientRepo(db)
	progress := repository.NewGormProgressRepo(db)

	workerService, err := service.NewWorkerService(
		jobs,
		recipients,
		progress,
		jobQueue,
		render.NewEngine(),
		builder,
		directory,
		store,
		limiter,
		notifier,
		service.WorkerOptions{
			Concurrency:        cfg.JobConcurrency,
			RenderConcurrency:  cfg.RenderConcurrency,
			RenderTimeout:      cfg.RenderTimeout(),
			CheckpointEvery:    cfg.CheckpointEvery,
			CheckpointInterval: cfg.CheckpointInterval(),
			CancelPollInterval: cfg.CancelPollInterval(),
			TrackingBaseURL:    cfg.TrackingBaseURL,
			OmitOnCodeFailure:  cfg.OmitOnCodeFailure,
			RetainDocuments:    cfg.RetainDocuments,
		},
		logger,
	)
	if err != nil {
		logger.Fatal("worker service initialization failed", zap.Error(err))
	}

	metrics := observability.NewMetrics()
	workerService.SetMetrics(metrics)

	statusCache, err := infraredis.NewStatusCache(rdb, cfg.StatusCacheTTL())
	if err != nil {
		logger.Fatal("status cache initialization failed", zap.Error(err))
	}
	workerService.SetStatusCache(statusCache)

	reconciler, err := service.NewReconciler(jobs, jobQueue, cfg.ReconcileInterval(), cfg.PendingGrace(), logger)
	if err != nil {
		logger.Fatal("reconciler initialization failed", zap.Error(err))
	}

	metricsSrv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux(metrics),
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, groupCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("stampede worker started",
			zap.Int("jobConcurrency", cfg.JobConcurrency),
			zap.Int("renderConcurrency", cfg.RenderConcurrency),
		)
		return workerService.Start(groupCtx)
	})
	g.Go(func() error {
		return reconciler.Start(groupCtx)
	})
	g.Go(func() error {
		err := metricsSrv.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-groupCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return metricsSrv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		logger.Fatal("worker exited with error", zap.Error(err))
	}
	logger.Info("worker stopped cleanly")
}

func metricsMux(metrics *observability.Metrics) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
