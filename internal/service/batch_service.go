package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/google/uuid"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.uber.org/zap"

	"github.com/jpaulsen/stampede/internal/cache"
	"github.com/jpaulsen/stampede/internal/campaign"
	"github.com/jpaulsen/stampede/internal/domain"
	"github.com/jpaulsen/stampede/internal/observability"
	"github.com/jpaulsen/stampede/internal/queue"
	"github.com/jpaulsen/stampede/internal/repository"
	"github.com/jpaulsen/stampede/internal/storage"
)

const (
	maxJobRecipients = 10_000

	// trackingAlphabet deliberately has no punctuation so tokens survive
	// line wrapping in printed URLs.
	trackingAlphabet = "0123456789abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"
	trackingTokenLen = 16
)

// JobService owns the synchronous side of a print job's life: submission,
// status reads, cancellation and archive download. The rendering itself
// happens in WorkerService after the job travels through the queue.
type JobService struct {
	jobs        repository.JobRepository
	recipients  repository.RecipientRepository
	progress    repository.ProgressRepository
	enqueuer    queue.Enqueuer
	remover     queue.Remover
	statusCache cache.StatusCache
	assets      AssetDirectory
	store       storage.BlobStore
	logger      *zap.Logger
	metrics     *observability.Metrics

	trackingBaseURL string
	now             func() time.Time
	newToken        func() (string, error)
}

// SubmitRequest carries one job submission. TemplateID may be empty when the
// campaign's stored default design should be used.
type SubmitRequest struct {
	CampaignID  string
	TemplateID  string
	RequestedBy string
	Recipients  []campaign.Member
}

// JobStatus is the point-in-time view served to status polls. It doubles as
// the cache entry payload, so every field carries a JSON tag.
type JobStatus struct {
	JobID       string        `json:"jobId"`
	CampaignID  string        `json:"campaignId"`
	RequestedBy string        `json:"requestedBy"`
	Status      domain.Status `json:"status"`

	TotalRecipients int     `json:"totalRecipients"`
	ProcessedCount  int     `json:"processedCount"`
	SuccessCount    int     `json:"successCount"`
	FailedCount     int     `json:"failedCount"`
	ProgressPercent float64 `json:"progressPercent"`

	// EtaSeconds is present only while the job is processing and at least
	// one recipient has been attempted.
	EtaSeconds *int64 `json:"etaSeconds,omitempty"`

	// LastMessage is the newest checkpoint note, e.g. "rendered 450 of 1200".
	LastMessage string `json:"lastMessage,omitempty"`

	ArchiveReady     bool   `json:"archiveReady"`
	ArchiveSizeBytes int64  `json:"archiveSizeBytes,omitempty"`
	ErrorMessage     string `json:"errorMessage,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

func NewJobService(
	jobs repository.JobRepository,
	recipients repository.RecipientRepository,
	progress repository.ProgressRepository,
	enqueuer queue.Enqueuer,
	remover queue.Remover,
	statusCache cache.StatusCache,
	assets AssetDirectory,
	store storage.BlobStore,
	trackingBaseURL string,
	logger *zap.Logger,
) (*JobService, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if statusCache == nil {
		statusCache = cache.Noop{}
	}
	trackingBaseURL = strings.TrimRight(strings.TrimSpace(trackingBaseURL), "/")
	if trackingBaseURL == "" {
		return nil, fmt.Errorf("tracking base url is required")
	}

	return &JobService{
		jobs:            jobs,
		recipients:      recipients,
		progress:        progress,
		enqueuer:        enqueuer,
		remover:         remover,
		statusCache:     statusCache,
		assets:          assets,
		store:           store,
		logger:          logger,
		trackingBaseURL: trackingBaseURL,
		now:             time.Now,
		newToken: func() (string, error) {
			return gonanoid.Generate(trackingAlphabet, trackingTokenLen)
		},
	}, nil
}

func (s *JobService) SetMetrics(metrics *observability.Metrics) {
	if s == nil {
		return
	}
	s.metrics = metrics
}

// Submit validates and persists a job with its recipient ledger, then puts it
// on the work queue. An enqueue failure leaves the job pending rather than
// failing the call; the reconciliation sweep republishes such jobs.
func (s *JobService) Submit(ctx context.Context, req SubmitRequest) (*domain.PrintJob, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := validateSubmit(req); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	job := &domain.PrintJob{
		ID:              uuid.NewString(),
		CampaignID:      strings.TrimSpace(req.CampaignID),
		RequestedBy:     strings.TrimSpace(req.RequestedBy),
		TotalRecipients: len(req.Recipients),
		Status:          domain.StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if templateID := strings.TrimSpace(req.TemplateID); templateID != "" {
		job.TemplateID = &templateID
	}

	ledger := make([]*domain.Recipient, len(req.Recipients))
	for i, member := range req.Recipients {
		token, err := s.newToken()
		if err != nil {
			return nil, fmt.Errorf("failed to generate tracking token: %w", err)
		}

		ledger[i] = &domain.Recipient{
			ID:            uuid.NewString(),
			JobID:         job.ID,
			ExternalID:    strings.TrimSpace(member.ExternalID),
			Seq:           i,
			FirstName:     strings.TrimSpace(member.FirstName),
			LastName:      strings.TrimSpace(member.LastName),
			Address:       strings.TrimSpace(member.Address),
			City:          strings.TrimSpace(member.City),
			State:         strings.TrimSpace(member.State),
			PostalCode:    strings.TrimSpace(member.PostalCode),
			TrackingToken: token,
			Status:        domain.RecipientPending,
			CreatedAt:     now,
		}
	}

	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	if err := s.recipients.CreateBatch(ctx, ledger); err != nil {
		// The job row stays pending without a ledger. The reconciler
		// republishes it and the worker settles it as failed.
		s.logger.Error("failed to persist recipients, leaving job for the reconciler",
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
		return nil, fmt.Errorf("failed to persist recipients: %w", err)
	}

	if _, err := s.progress.Append(ctx, job.ID, 0, "queued", s.now().UTC()); err != nil {
		s.logger.Warn("failed to record initial checkpoint",
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
	}

	if err := s.enqueuer.Enqueue(ctx, queue.JobMessage{JobID: job.ID}); err != nil {
		s.logger.Error("failed to enqueue job, leaving it for the reconciler",
			zap.String("jobId", job.ID),
			zap.Error(err),
		)
	}

	s.logger.Info("job submitted",
		zap.String("jobId", job.ID),
		zap.String("campaignId", job.CampaignID),
		zap.Int("recipients", job.TotalRecipients),
	)

	return job, nil
}

// SubmitFromList resolves a stored recipient list and submits a job for it.
func (s *JobService) SubmitFromList(ctx context.Context, campaignID, templateID, requestedBy, listID string) (*domain.PrintJob, error) {
	if s.assets == nil {
		return nil, fmt.Errorf("no asset directory configured")
	}
	if strings.TrimSpace(listID) == "" {
		return nil, fmt.Errorf("%w: list id is required", domain.ErrValidation)
	}

	members, err := s.assets.Recipients(ctx, strings.TrimSpace(listID))
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: recipient list %q is empty", domain.ErrValidation, listID)
	}

	return s.Submit(ctx, SubmitRequest{
		CampaignID:  campaignID,
		TemplateID:  templateID,
		RequestedBy: requestedBy,
		Recipients:  members,
	})
}

// GetJobStatus serves the status snapshot, preferring the cache. Staleness is
// bounded by the cache TTL; every state change invalidates the entry.
func (s *JobService) GetJobStatus(ctx context.Context, id string) (*JobStatus, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}

	if payload, ok, err := s.statusCache.Get(ctx, id); err != nil {
		s.logger.Warn("status cache read failed", zap.String("jobId", id), zap.Error(err))
	} else if ok {
		var cached JobStatus
		if err := json.Unmarshal(payload, &cached); err == nil {
			return &cached, nil
		}
		s.logger.Warn("dropping undecodable status cache entry", zap.String("jobId", id))
	}

	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	status := s.statusFromJob(job)

	if cp, err := s.progress.Latest(ctx, id); err != nil {
		if !errors.Is(err, domain.ErrNotFound) {
			s.logger.Warn("failed to load latest checkpoint", zap.String("jobId", id), zap.Error(err))
		}
	} else {
		status.LastMessage = cp.Message
	}

	if payload, err := json.Marshal(status); err == nil {
		if err := s.statusCache.Set(ctx, id, payload); err != nil {
			s.logger.Warn("status cache write failed", zap.String("jobId", id), zap.Error(err))
		}
	}

	return status, nil
}

func (s *JobService) statusFromJob(job *domain.PrintJob) *JobStatus {
	status := &JobStatus{
		JobID:            job.ID,
		CampaignID:       job.CampaignID,
		RequestedBy:      job.RequestedBy,
		Status:           job.Status,
		TotalRecipients:  job.TotalRecipients,
		ProcessedCount:   job.ProcessedCount,
		SuccessCount:     job.SuccessCount,
		FailedCount:      job.FailedCount,
		ProgressPercent:  job.ProgressPercent(),
		ArchiveReady:     job.Status == domain.StatusCompleted && job.ArchivePath != nil,
		ArchiveSizeBytes: job.ArchiveSizeBytes,
		CreatedAt:        job.CreatedAt,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
	}
	if job.ErrorMessage != nil {
		status.ErrorMessage = *job.ErrorMessage
	}
	if eta, ok := job.EstimateTimeRemaining(s.now()); ok {
		secs := int64(math.Ceil(eta.Seconds()))
		status.EtaSeconds = &secs
	}
	return status
}

// Cancel marks the job cancelled in the database first, then tries to pull it
// off the queue. The durable status is the source of truth: a running worker
// observes it and stops, so a missed queue removal only costs a little work.
func (s *JobService) Cancel(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}

	if err := s.jobs.Cancel(ctx, id, s.now().UTC()); err != nil {
		return err
	}

	removed, err := s.remover.TryRemove(ctx, id)
	switch {
	case err != nil:
		s.logger.Warn("queue removal failed, worker will observe the cancelled status",
			zap.String("jobId", id),
			zap.Error(err),
		)
		if s.metrics != nil {
			s.metrics.IncQueueRemoval("error")
		}
	case removed:
		s.logger.Info("job removed from queue before pickup", zap.String("jobId", id))
		if s.metrics != nil {
			s.metrics.IncQueueRemoval("removed")
		}
	default:
		if s.metrics != nil {
			s.metrics.IncQueueRemoval("missed")
		}
	}

	if err := s.statusCache.Invalidate(ctx, id); err != nil {
		s.logger.Warn("status cache invalidation failed", zap.String("jobId", id), zap.Error(err))
	}

	if job, err := s.jobs.GetByID(ctx, id); err == nil {
		if _, err := s.progress.Append(ctx, id, job.ProgressPercent(), "cancellation requested", s.now().UTC()); err != nil {
			s.logger.Warn("failed to record cancellation checkpoint", zap.String("jobId", id), zap.Error(err))
		}
	}

	return nil
}

// DownloadArchive opens the finished archive for streaming. The caller owns
// the returned reader.
func (s *JobService) DownloadArchive(ctx context.Context, id string) (io.ReadCloser, *domain.PrintJob, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}

	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if job.Status != domain.StatusCompleted || job.ArchivePath == nil {
		return nil, nil, fmt.Errorf("%w: job is %s", domain.ErrArchiveNotReady, job.Status)
	}

	rc, err := s.store.Open(ctx, *job.ArchivePath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open archive: %w", err)
	}
	return rc, job, nil
}

// Recipients returns the job's per-recipient ledger in submission order.
func (s *JobService) Recipients(ctx context.Context, jobID string) ([]domain.Recipient, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}

	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	return s.recipients.ListByJob(ctx, jobID)
}

// Progress returns the job's full checkpoint history, oldest first.
func (s *JobService) Progress(ctx context.Context, jobID string) ([]domain.Checkpoint, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return nil, fmt.Errorf("%w: job id is required", domain.ErrValidation)
	}

	if _, err := s.jobs.GetByID(ctx, jobID); err != nil {
		return nil, err
	}
	return s.progress.ListByJob(ctx, jobID)
}

func (s *JobService) List(ctx context.Context, params repository.ListParams) ([]domain.PrintJob, int64, error) {
	return s.jobs.List(ctx, params)
}

// TrackingURL builds the destination a recipient's scan code points at.
func (s *JobService) TrackingURL(token string) string {
	return trackingURL(s.trackingBaseURL, token)
}

func trackingURL(base, token string) string {
	return base + "/" + token
}

func validateSubmit(req SubmitRequest) error {
	if strings.TrimSpace(req.CampaignID) == "" {
		return fmt.Errorf("%w: campaign id is required", domain.ErrValidation)
	}
	if strings.TrimSpace(req.RequestedBy) == "" {
		return fmt.Errorf("%w: requester is required", domain.ErrValidation)
	}
	if len(req.Recipients) == 0 {
		return fmt.Errorf("%w: job must include at least one recipient", domain.ErrValidation)
	}
	if len(req.Recipients) > maxJobRecipients {
		return fmt.Errorf("%w: job size exceeds %d recipients", domain.ErrValidation, maxJobRecipients)
	}
	return nil
}
