package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/jpaulsen/stampede/internal/queue"
	"github.com/jpaulsen/stampede/internal/repository"
)

const (
	defaultReconcileInterval = 30 * time.Second
	defaultPendingGrace      = 2 * time.Minute
	defaultReconcileLimit    = 100
)

// Reconciler republishes pending jobs whose queue message was lost, which is
// what makes delivery at-least-once without broker acknowledgements. A job
// still pending after the grace period either never reached the queue or its
// message vanished with a crashed consumer; either way a fresh message is
// safe because the processing claim absorbs duplicates.
type Reconciler struct {
	jobs     repository.JobRepository
	enqueuer queue.Enqueuer
	logger   *zap.Logger
	interval time.Duration
	grace    time.Duration
	limit    int
	now      func() time.Time
}

func NewReconciler(
	jobs repository.JobRepository,
	enqueuer queue.Enqueuer,
	interval time.Duration,
	grace time.Duration,
	logger *zap.Logger,
) (*Reconciler, error) {
	if interval <= 0 {
		interval = defaultReconcileInterval
	}
	if grace <= 0 {
		grace = defaultPendingGrace
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Reconciler{
		jobs:     jobs,
		enqueuer: enqueuer,
		logger:   logger,
		interval: interval,
		grace:    grace,
		limit:    defaultReconcileLimit,
		now:      time.Now,
	}, nil
}

func (r *Reconciler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := r.sweep(ctx); err != nil && ctx.Err() == nil {
		r.logger.Error("reconciler initial sweep failed", zap.Error(err))
	}

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := r.sweep(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				r.logger.Error("reconciler sweep failed", zap.Error(err))
			}
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) error {
	cutoff := r.now().UTC().Add(-r.grace)

	stale, err := r.jobs.FindStalePending(ctx, cutoff, r.limit)
	if err != nil {
		return fmt.Errorf("failed to list stale pending jobs: %w", err)
	}

	for i := range stale {
		job := stale[i]
		if err := r.enqueuer.Enqueue(ctx, queue.JobMessage{JobID: job.ID}); err != nil {
			r.logger.Error("failed to republish stale job",
				zap.String("jobId", job.ID),
				zap.Error(err),
			)
			continue
		}
		r.logger.Info("republished stale pending job",
			zap.String("jobId", job.ID),
			zap.Time("createdAt", job.CreatedAt),
		)
	}

	return nil
}
