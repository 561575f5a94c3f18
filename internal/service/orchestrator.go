package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/jpaulsen/stampede/internal/archive"
	"github.com/jpaulsen/stampede/internal/cache"
	"github.com/jpaulsen/stampede/internal/domain"
	"github.com/jpaulsen/stampede/internal/notify"
	"github.com/jpaulsen/stampede/internal/observability"
	"github.com/jpaulsen/stampede/internal/queue"
	"github.com/jpaulsen/stampede/internal/ratelimit"
	"github.com/jpaulsen/stampede/internal/render"
	"github.com/jpaulsen/stampede/internal/repository"
	"github.com/jpaulsen/stampede/internal/storage"
)

const (
	minJobConcurrency        = 1
	defaultRenderConcurrency = 4
	defaultCheckpointEvery   = 10
	defaultCheckpointGap     = 5 * time.Second
	defaultCancelPoll        = 2 * time.Second
	notifyRetryDelay         = 500 * time.Millisecond
	maxErrorMessageLen       = 500
	renderScope              = "render"
)

// WorkerOptions tunes one worker process.
type WorkerOptions struct {
	// Concurrency is how many jobs run at once; RenderConcurrency is the
	// per-job recipient fan-out.
	Concurrency       int
	RenderConcurrency int
	RenderTimeout     time.Duration

	CheckpointEvery    int
	CheckpointInterval time.Duration
	CancelPollInterval time.Duration

	TrackingBaseURL   string
	OmitOnCodeFailure bool

	// RetainDocuments keeps per-recipient PDFs after the archive is built.
	RetainDocuments bool
}

// WorkerService consumes the job queue and runs each print job end to end:
// claim, render every recipient, assemble the archive, finalize. The job's
// database status doubles as the processing lock, so two workers can never
// run the same job.
type WorkerService struct {
	jobs        repository.JobRepository
	recipients  repository.RecipientRepository
	progress    repository.ProgressRepository
	consumer    queue.Consumer
	engine      BatchOverlayer
	builder     ArchiveBuilder
	assets      AssetDirectory
	store       storage.BlobStore
	limiter     ratelimit.RateLimiter
	notifier    notify.Notifier
	logger      *zap.Logger
	metrics     *observability.Metrics
	statusCache cache.StatusCache

	opts WorkerOptions
	now  func() time.Time
}

func NewWorkerService(
	jobs repository.JobRepository,
	recipients repository.RecipientRepository,
	progress repository.ProgressRepository,
	consumer queue.Consumer,
	engine BatchOverlayer,
	builder ArchiveBuilder,
	assets AssetDirectory,
	store storage.BlobStore,
	limiter ratelimit.RateLimiter,
	notifier notify.Notifier,
	opts WorkerOptions,
	logger *zap.Logger,
) (*WorkerService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if limiter == nil {
		limiter = ratelimit.Noop{}
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}

	if opts.Concurrency < minJobConcurrency {
		opts.Concurrency = minJobConcurrency
	}
	if opts.RenderConcurrency < 1 {
		opts.RenderConcurrency = defaultRenderConcurrency
	}
	if opts.CheckpointEvery < 1 {
		opts.CheckpointEvery = defaultCheckpointEvery
	}
	if opts.CheckpointInterval <= 0 {
		opts.CheckpointInterval = defaultCheckpointGap
	}
	if opts.CancelPollInterval <= 0 {
		opts.CancelPollInterval = defaultCancelPoll
	}
	opts.TrackingBaseURL = strings.TrimRight(strings.TrimSpace(opts.TrackingBaseURL), "/")

	return &WorkerService{
		jobs:        jobs,
		recipients:  recipients,
		progress:    progress,
		consumer:    consumer,
		engine:      engine,
		builder:     builder,
		assets:      assets,
		store:       store,
		limiter:     limiter,
		notifier:    notifier,
		logger:      logger,
		statusCache: cache.Noop{},
		opts:        opts,
		now:         time.Now,
	}, nil
}

func (s *WorkerService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// SetStatusCache lets the worker drop cached status snapshots as it flips job
// states, so polling clients see transitions before the TTL would expire them.
func (s *WorkerService) SetStatusCache(statusCache cache.StatusCache) {
	if s == nil || statusCache == nil {
		return
	}
	s.statusCache = statusCache
}

// Start runs queue consumers until context cancellation. Consumers compete on
// the same queue, so adding processes scales job throughput horizontally.
func (s *WorkerService) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}

	g, groupCtx := errgroup.WithContext(ctx)
	for i := 0; i < s.opts.Concurrency; i++ {
		workerID := i + 1

		g.Go(func() error {
			s.logger.Info("worker started", zap.Int("workerId", workerID))

			err := s.consumer.Consume(groupCtx, s.processMessage)
			if err != nil && groupCtx.Err() == nil {
				s.logger.Error("worker stopped with error",
					zap.Int("workerId", workerID),
					zap.Error(err),
				)
				return err
			}

			s.logger.Info("worker stopped", zap.Int("workerId", workerID))
			return nil
		})
	}

	return g.Wait()
}

func (s *WorkerService) processMessage(ctx context.Context, msg queue.JobMessage) error {
	return s.Execute(ctx, msg.JobID)
}

// Execute runs one print job to a terminal status. Duplicate deliveries are
// absorbed by the claim: only the worker whose status flip from pending wins
// does any work.
func (s *WorkerService) Execute(ctx context.Context, jobID string) error {
	ctx = observability.WithJobID(ctx, jobID)
	log := observability.WithContextLogger(s.logger, ctx)

	claimed, err := s.jobs.MarkProcessing(ctx, jobID, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to claim job: %w", err)
	}
	if !claimed {
		job, err := s.jobs.GetByID(ctx, jobID)
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("job not found at claim, dropping message")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to inspect unclaimed job: %w", err)
		}
		log.Info("skipping job not in pending state", zap.String("status", job.Status.String()))
		return nil
	}

	s.invalidateStatus(ctx, log, jobID)

	if s.metrics != nil {
		s.metrics.IncJobsInFlight()
		defer s.metrics.DecJobsInFlight()
	}

	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load claimed job: %w", err)
	}
	log.Info("job claimed", zap.Int("recipients", job.TotalRecipients))

	ledger, err := s.recipients.ListByJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load recipient ledger: %w", err)
	}
	if len(ledger) == 0 {
		// Submission persisted the job but not its recipients.
		return s.failJob(ctx, log, jobID, "recipient records are missing")
	}

	pending := make([]domain.Recipient, 0, len(ledger))
	for _, rec := range ledger {
		if rec.Status == domain.RecipientPending {
			pending = append(pending, rec)
		}
	}
	if len(pending) == 0 {
		log.Warn("job has no pending recipients")
		return s.finalize(ctx, log, jobID)
	}

	base, err := s.loadBaseDocument(ctx, job)
	if err != nil {
		return s.failJob(ctx, log, jobID, fmt.Sprintf("failed to load base document: %v", err))
	}
	if err := s.engine.ValidateBase(base); err != nil {
		return s.failJob(ctx, log, jobID, fmt.Sprintf("base document rejected: %v", err))
	}

	// The run context ends when the job is cancelled; persistence keeps
	// using the outer context so in-flight results still land.
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	go s.watchCancellation(runCtx, jobID, stopRun)

	renderStart := s.now()
	err = s.personalize(ctx, runCtx, log, job, pending, base)
	if s.metrics != nil {
		s.metrics.ObserveStageDuration("personalize", s.now().Sub(renderStart))
	}
	stopRun()

	if err != nil && ctx.Err() != nil {
		// Process shutdown mid-job. The job stays processing; operators
		// resolve it by resubmitting the campaign.
		log.Warn("shutdown interrupted job", zap.Error(err))
		return fmt.Errorf("job interrupted: %w", err)
	}

	return s.finalize(ctx, log, jobID)
}

// loadBaseDocument fetches the campaign design. A job without an explicit
// template uses the campaign's stored default, keyed by campaign id.
func (s *WorkerService) loadBaseDocument(ctx context.Context, job *domain.PrintJob) ([]byte, error) {
	if s.assets == nil {
		return nil, fmt.Errorf("no asset directory configured")
	}

	templateID := job.CampaignID
	if job.TemplateID != nil {
		templateID = *job.TemplateID
	}
	return s.assets.BaseDocument(ctx, templateID)
}

// personalize fans the pending recipients out through the overlay engine and
// persists every outcome as it lands.
func (s *WorkerService) personalize(
	ctx context.Context,
	runCtx context.Context,
	log *zap.Logger,
	job *domain.PrintJob,
	pending []domain.Recipient,
	base []byte,
) error {
	fields := make([]render.Fields, len(pending))
	for i, rec := range pending {
		fields[i] = render.Fields{
			FirstName:  rec.FirstName,
			LastName:   rec.LastName,
			Address:    rec.Address,
			City:       rec.City,
			State:      rec.State,
			PostalCode: rec.PostalCode,
		}
	}

	baseCfg := render.DefaultConfig()
	baseCfg.OmitOnCodeFailure = s.opts.OmitOnCodeFailure
	trackingBase := trackingURL(s.opts.TrackingBaseURL, "")

	cfgFn := func(i int) render.Config {
		cfg := baseCfg
		cfg.CodeURL = trackingBase + pending[i].TrackingToken
		return cfg
	}

	processedBase := job.ProcessedCount
	processed := 0
	lastCheckpoint := s.now()
	sinceCheckpoint := 0

	sink := func(i int, doc []byte, renderErr error) {
		rec := pending[i]
		now := s.now().UTC()

		if renderErr == nil {
			key := documentKey(job.ID, rec)
			if putErr := s.store.Put(ctx, key, doc); putErr != nil {
				renderErr = fmt.Errorf("failed to store document: %w", putErr)
			} else if markErr := s.recipients.MarkSuccess(ctx, rec.ID, key, now); markErr != nil {
				log.Error("failed to record recipient success",
					zap.String("recipientId", rec.ID),
					zap.Error(markErr),
				)
				renderErr = fmt.Errorf("failed to record success: %w", markErr)
			}
		}

		if renderErr != nil {
			if err := s.recipients.MarkFailed(ctx, rec.ID, truncateError(renderErr), now); err != nil {
				log.Error("failed to record recipient failure",
					zap.String("recipientId", rec.ID),
					zap.Error(err),
				)
			}
			log.Warn("recipient render failed",
				zap.String("recipientId", rec.ID),
				zap.Int("seq", rec.Seq),
				zap.Error(renderErr),
			)
		}

		succeeded := renderErr == nil
		if err := s.jobs.IncrementCounters(ctx, job.ID, succeeded); err != nil {
			log.Error("failed to bump job counters", zap.Error(err))
		}
		if s.metrics != nil {
			if succeeded {
				s.metrics.IncRecipientRendered("success")
			} else {
				s.metrics.IncRecipientRendered("failed")
			}
		}

		processed++
		sinceCheckpoint++
		if sinceCheckpoint >= s.opts.CheckpointEvery || s.now().Sub(lastCheckpoint) >= s.opts.CheckpointInterval {
			s.writeCheckpoint(ctx, log, job, processedBase+processed)
			sinceCheckpoint = 0
			lastCheckpoint = s.now()
		}
	}

	opts := render.Options{
		Concurrency: s.opts.RenderConcurrency,
		Timeout:     s.opts.RenderTimeout,
		Throttle: func(tctx context.Context) error {
			return s.limiter.Wait(tctx, renderScope)
		},
	}

	return s.engine.PersonalizeEach(runCtx, base, fields, cfgFn, opts, sink)
}

func (s *WorkerService) writeCheckpoint(ctx context.Context, log *zap.Logger, job *domain.PrintJob, processed int) {
	snapshot := *job
	snapshot.ProcessedCount = processed

	message := fmt.Sprintf("%d/%d rendered", processed, job.TotalRecipients)
	written, err := s.progress.Append(ctx, job.ID, snapshot.ProgressPercent(), message, s.now().UTC())
	if err != nil {
		log.Warn("failed to append checkpoint", zap.Error(err))
		return
	}
	if written && s.metrics != nil {
		s.metrics.IncCheckpointWritten()
	}
}

// watchCancellation polls the job's durable status and ends the run context
// when a cancellation shows up. Polling keeps the worker free of any direct
// coupling to the API process that flipped the status.
func (s *WorkerService) watchCancellation(ctx context.Context, jobID string, stopRun context.CancelFunc) {
	ticker := time.NewTicker(s.opts.CancelPollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			job, err := s.jobs.GetByID(ctx, jobID)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn("cancellation poll failed",
						zap.String("jobId", jobID),
						zap.Error(err),
					)
				}
				continue
			}
			if job.Status == domain.StatusCancelled {
				stopRun()
				return
			}
		}
	}
}

// finalize reads the post-run state and settles the job: cancelled runs keep
// their frozen counters, runs with zero successes fail, everything else gets
// an archive and completes.
func (s *WorkerService) finalize(ctx context.Context, log *zap.Logger, jobID string) error {
	job, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("failed to load job for finalize: %w", err)
	}

	if job.Status == domain.StatusCancelled {
		s.settleCancelled(ctx, log, job)
		return nil
	}

	if !job.CountsConsistent() {
		log.Warn("recipient counters drifted",
			zap.Int("total", job.TotalRecipients),
			zap.Int("processed", job.ProcessedCount),
			zap.Int("succeeded", job.SuccessCount),
			zap.Int("failed", job.FailedCount),
		)
	}

	if job.SuccessCount == 0 {
		return s.failJob(ctx, log, jobID, "no recipients rendered successfully")
	}

	entries, docKeys, err := s.archiveEntries(ctx, jobID)
	if err != nil {
		return s.failJob(ctx, log, jobID, fmt.Sprintf("failed to collect documents: %v", err))
	}

	archiveKey := archiveKey(jobID)
	buildStart := s.now()
	size, err := s.builder.Build(ctx, archiveKey, entries)
	if s.metrics != nil {
		s.metrics.ObserveStageDuration("archive", s.now().Sub(buildStart))
	}
	if err != nil {
		return s.failJob(ctx, log, jobID, fmt.Sprintf("failed to build archive: %v", err))
	}

	ok, err := s.jobs.MarkCompleted(ctx, jobID, archiveKey, size, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark job completed: %w", err)
	}
	if !ok {
		// Cancelled while the archive was being built. Drop the archive so
		// a cancelled job never exposes output.
		if delErr := s.store.Delete(ctx, archiveKey); delErr != nil {
			log.Warn("failed to remove archive of cancelled job", zap.Error(delErr))
		}
		current, err := s.jobs.GetByID(ctx, jobID)
		if err != nil {
			return fmt.Errorf("failed to load job after completion race: %w", err)
		}
		s.settleCancelled(ctx, log, current)
		return nil
	}

	s.invalidateStatus(ctx, log, jobID)

	if !s.opts.RetainDocuments {
		for _, key := range docKeys {
			if err := s.store.Delete(ctx, key); err != nil {
				log.Warn("failed to remove per-recipient document", zap.String("key", key), zap.Error(err))
			}
		}
	}

	if s.metrics != nil {
		s.metrics.AddArchiveBytes(size)
		s.metrics.IncJobFinished("completed")
	}

	final, err := s.jobs.GetByID(ctx, jobID)
	if err != nil {
		final = job
	}
	message := fmt.Sprintf("completed: %d of %d rendered", final.SuccessCount, final.TotalRecipients)
	if _, err := s.progress.Append(ctx, jobID, final.ProgressPercent(), message, s.now().UTC()); err != nil {
		log.Warn("failed to append completion checkpoint", zap.Error(err))
	}

	log.Info("job completed",
		zap.Int("succeeded", final.SuccessCount),
		zap.Int("failed", final.FailedCount),
		zap.Int64("archiveBytes", size),
	)

	s.notifyFinished(ctx, log, final)
	return nil
}

// archiveEntries lists the stored documents of successful recipients in
// submission order, plus the raw keys for post-archive cleanup.
func (s *WorkerService) archiveEntries(ctx context.Context, jobID string) ([]archive.Entry, []string, error) {
	ledger, err := s.recipients.ListByJob(ctx, jobID)
	if err != nil {
		return nil, nil, err
	}

	entries := make([]archive.Entry, 0, len(ledger))
	keys := make([]string, 0, len(ledger))
	for _, rec := range ledger {
		if rec.Status != domain.RecipientSuccess || rec.DocumentPath == nil {
			continue
		}
		entries = append(entries, archive.Entry{
			Name: documentName(rec),
			Key:  *rec.DocumentPath,
		})
		keys = append(keys, *rec.DocumentPath)
	}
	if len(entries) == 0 {
		return nil, nil, fmt.Errorf("no stored documents for job %s", jobID)
	}
	return entries, keys, nil
}

func (s *WorkerService) settleCancelled(ctx context.Context, log *zap.Logger, job *domain.PrintJob) {
	message := fmt.Sprintf("cancelled after %d of %d", job.ProcessedCount, job.TotalRecipients)
	if _, err := s.progress.Append(ctx, job.ID, job.ProgressPercent(), message, s.now().UTC()); err != nil {
		log.Warn("failed to append cancellation checkpoint", zap.Error(err))
	}

	if s.metrics != nil {
		s.metrics.IncJobFinished("cancelled")
	}
	log.Info("job cancelled",
		zap.Int("processed", job.ProcessedCount),
		zap.Int("total", job.TotalRecipients),
	)

	s.notifyFinished(ctx, log, job)
}

func (s *WorkerService) failJob(ctx context.Context, log *zap.Logger, jobID string, reason string) error {
	ok, err := s.jobs.MarkFailed(ctx, jobID, reason, s.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to mark job failed: %w", err)
	}
	if !ok {
		log.Warn("job left its running state before failure could be recorded")
		return nil
	}
	s.invalidateStatus(ctx, log, jobID)

	job, err := s.jobs.GetByID(ctx, jobID)
	if err == nil {
		if _, aerr := s.progress.Append(ctx, jobID, job.ProgressPercent(), "failed: "+reason, s.now().UTC()); aerr != nil {
			log.Warn("failed to append failure checkpoint", zap.Error(aerr))
		}
		s.notifyFinished(ctx, log, job)
	}

	if s.metrics != nil {
		s.metrics.IncJobFinished("failed")
	}
	log.Error("job failed", zap.String("reason", reason))
	return nil
}

// notifyFinished delivers the completion callback, retrying once when the
// failure looks transient.
func (s *WorkerService) notifyFinished(ctx context.Context, log *zap.Logger, job *domain.PrintJob) {
	finishedAt := s.now().UTC()
	if job.CompletedAt != nil {
		finishedAt = *job.CompletedAt
	}

	event := notify.Event{
		JobID:          job.ID,
		Requester:      job.RequestedBy,
		Outcome:        job.Status,
		ProcessedCount: job.ProcessedCount,
		FailedCount:    job.FailedCount,
		FinishedAt:     finishedAt,
	}

	err := s.notifier.JobFinished(ctx, event)
	if err != nil && notify.IsTransient(err) {
		timer := time.NewTimer(notifyRetryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
		case <-timer.C:
			err = s.notifier.JobFinished(ctx, event)
		}
	}
	if err != nil {
		log.Warn("completion callback failed", zap.Error(err))
	}
}

// invalidateStatus is best effort: a leftover snapshot only survives until
// its TTL.
func (s *WorkerService) invalidateStatus(ctx context.Context, log *zap.Logger, jobID string) {
	if err := s.statusCache.Invalidate(ctx, jobID); err != nil {
		log.Warn("failed to invalidate status snapshot", zap.Error(err))
	}
}

func documentKey(jobID string, rec domain.Recipient) string {
	return fmt.Sprintf("jobs/%s/documents/%s", jobID, documentName(rec))
}

func documentName(rec domain.Recipient) string {
	return fmt.Sprintf("%04d_%s.pdf", rec.Seq, rec.ID)
}

func archiveKey(jobID string) string {
	return fmt.Sprintf("jobs/%s/archive.zip", jobID)
}

func truncateError(err error) string {
	msg := err.Error()
	if len(msg) > maxErrorMessageLen {
		return msg[:maxErrorMessageLen]
	}
	return msg
}
