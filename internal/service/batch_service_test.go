package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/jpaulsen/stampede/internal/archive"
	"github.com/jpaulsen/stampede/internal/cache"
	"github.com/jpaulsen/stampede/internal/campaign"
	"github.com/jpaulsen/stampede/internal/domain"
	"github.com/jpaulsen/stampede/internal/notify"
	"github.com/jpaulsen/stampede/internal/queue"
	"github.com/jpaulsen/stampede/internal/render"
	"github.com/jpaulsen/stampede/internal/repository"
	"github.com/jpaulsen/stampede/internal/storage"
)

func testMembers(n int) []campaign.Member {
	members := make([]campaign.Member, n)
	for i := range members {
		members[i] = campaign.Member{
			ExternalID: fmt.Sprintf("crm-%d", i),
			FirstName:  "Recipient",
			LastName:   fmt.Sprintf("Number-%d", i),
			Address:    fmt.Sprintf("%d Main St", i+1),
			City:       "Brooklyn",
			State:      "NY",
			PostalCode: "11201",
		}
	}
	return members
}

func newTestJobService(t *testing.T, jobs *memJobRepo, recipients *memRecipientRepo, progress *memProgressRepo, enqueuer *fakeEnqueuer, remover *fakeRemover, statusCache *fakeStatusCache, assets *fakeAssets, store *fakeBlobStore) *JobService {
	t.Helper()

	svc, err := NewJobService(
		jobs,
		recipients,
		progress,
		enqueuer,
		remover,
		statusCache,
		assets,
		store,
		"https://trk.example.dev/t",
		zap.NewNop(),
	)
	if err != nil {
		t.Fatalf("NewJobService() error = %v", err)
	}
	return svc
}

func TestJobServiceSubmit(t *testing.T) {
	t.Parallel()

	jobs := newMemJobRepo()
	recipients := newMemRecipientRepo()
	progress := newMemProgressRepo()
	enqueuer := &fakeEnqueuer{}
	svc := newTestJobService(t, jobs, recipients, progress, enqueuer, &fakeRemover{}, &fakeStatusCache{}, &fakeAssets{}, newFakeBlobStore())

	job, err := svc.Submit(context.Background(), SubmitRequest{
		CampaignID:  "camp-1",
		TemplateID:  "postcard-6x4",
		RequestedBy: "ops@example.com",
		Recipients:  testMembers(3),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v", err)
	}

	if job.ID == "" {
		t.Fatal("job id was not assigned")
	}
	if job.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", job.Status)
	}
	if job.TotalRecipients != 3 {
		t.Fatalf("total recipients = %d, want 3", job.TotalRecipients)
	}
	if job.TemplateID == nil || *job.TemplateID != "postcard-6x4" {
		t.Fatalf("template id = %v", job.TemplateID)
	}

	stored := recipients.byJob(job.ID)
	if len(stored) != 3 {
		t.Fatalf("stored %d recipients, want 3", len(stored))
	}
	seenTokens := map[string]bool{}
	for i, rec := range stored {
		if rec.Seq != i {
			t.Fatalf("recipient %d has seq %d", i, rec.Seq)
		}
		if rec.Status != domain.RecipientPending {
			t.Fatalf("recipient %d status = %s, want pending", i, rec.Status)
		}
		if len(rec.TrackingToken) != trackingTokenLen {
			t.Fatalf("token %q has length %d, want %d", rec.TrackingToken, len(rec.TrackingToken), trackingTokenLen)
		}
		if seenTokens[rec.TrackingToken] {
			t.Fatalf("token %q is not unique", rec.TrackingToken)
		}
		seenTokens[rec.TrackingToken] = true
	}

	if len(enqueuer.messages) != 1 || enqueuer.messages[0].JobID != job.ID {
		t.Fatalf("enqueued messages = %+v, want one for %s", enqueuer.messages, job.ID)
	}

	checkpoints := progress.byJob(job.ID)
	if len(checkpoints) != 1 || checkpoints[0].Percent != 0 || checkpoints[0].Message != "queued" {
		t.Fatalf("initial checkpoints = %+v", checkpoints)
	}
}

func TestJobServiceSubmitValidation(t *testing.T) {
	t.Parallel()

	svc := newTestJobService(t, newMemJobRepo(), newMemRecipientRepo(), newMemProgressRepo(), &fakeEnqueuer{}, &fakeRemover{}, &fakeStatusCache{}, &fakeAssets{}, newFakeBlobStore())

	tests := []struct {
		name string
		req  SubmitRequest
	}{
		{name: "missing campaign", req: SubmitRequest{RequestedBy: "ops@example.com", Recipients: testMembers(1)}},
		{name: "missing requester", req: SubmitRequest{CampaignID: "camp-1", Recipients: testMembers(1)}},
		{name: "no recipients", req: SubmitRequest{CampaignID: "camp-1", RequestedBy: "ops@example.com"}},
		{name: "too many recipients", req: SubmitRequest{CampaignID: "camp-1", RequestedBy: "ops@example.com", Recipients: testMembers(maxJobRecipients + 1)}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := svc.Submit(context.Background(), tt.req); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("Submit() error = %v, want ErrValidation", err)
			}
		})
	}
}

func TestJobServiceSubmitEnqueueFailureLeavesJobPending(t *testing.T) {
	t.Parallel()

	jobs := newMemJobRepo()
	enqueuer := &fakeEnqueuer{enqueueFn: func(ctx context.Context, msg queue.JobMessage) error {
		return errors.New("redis down")
	}}
	svc := newTestJobService(t, jobs, newMemRecipientRepo(), newMemProgressRepo(), enqueuer, &fakeRemover{}, &fakeStatusCache{}, &fakeAssets{}, newFakeBlobStore())

	job, err := svc.Submit(context.Background(), SubmitRequest{
		CampaignID:  "camp-1",
		RequestedBy: "ops@example.com",
		Recipients:  testMembers(2),
	})
	if err != nil {
		t.Fatalf("Submit() error = %v, enqueue failures should not fail submission", err)
	}

	got := jobs.mustGet(t, job.ID)
	if got.Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending for the reconciler to pick up", got.Status)
	}
}

func TestJobServiceSubmitRecipientPersistFailureLeavesJobPending(t *testing.T) {
	t.Parallel()

	jobs := newMemJobRepo()
	recipients := newMemRecipientRepo()
	recipients.createBatchFn = func(ctx context.Context, recs []*domain.Recipient) error {
		return errors.New("constraint violation")
	}
	enqueuer := &fakeEnqueuer{}
	progress := newMemProgressRepo()
	svc := newTestJobService(t, jobs, recipients, progress, enqueuer, &fakeRemover{}, &fakeStatusCache{}, &fakeAssets{}, newFakeBlobStore())

	_, err := svc.Submit(context.Background(), SubmitRequest{
		CampaignID:  "camp-1",
		RequestedBy: "ops@example.com",
		Recipients:  testMembers(2),
	})
	if err == nil {
		t.Fatal("Submit() expected an error")
	}

	// The half-written job stays pending; the reconciler republishes it and
	// the worker fails it for the missing ledger.
	all := jobs.all()
	if len(all) != 1 {
		t.Fatalf("got %d jobs, want 1", len(all))
	}
	if all[0].Status != domain.StatusPending {
		t.Fatalf("status = %s, want pending", all[0].Status)
	}
	if len(enqueuer.messages) != 0 {
		t.Fatalf("enqueued messages = %+v, want none", enqueuer.messages)
	}
	if checkpoints := progress.byJob(all[0].ID); len(checkpoints) != 0 {
		t.Fatalf("checkpoints = %+v, want none", checkpoints)
	}
}

func TestJobServiceSubmitFromList(t *testing.T) {
	t.Parallel()

	jobs := newMemJobRepo()
	assets := &fakeAssets{recipientsFn: func(ctx context.Context, listID string) ([]campaign.Member, error) {
		if listID != "spring-2025" {
			t.Fatalf("list id = %q, want spring-2025", listID)
		}
		return testMembers(2), nil
	}}
	svc := newTestJobService(t, jobs, newMemRecipientRepo(), newMemProgressRepo(), &fakeEnqueuer{}, &fakeRemover{}, &fakeStatusCache{}, assets, newFakeBlobStore())

	job, err := svc.SubmitFromList(context.Background(), "camp-1", "", "ops@example.com", "spring-2025")
	if err != nil {
		t.Fatalf("SubmitFromList() error = %v", err)
	}
	if job.TotalRecipients != 2 {
		t.Fatalf("total recipients = %d, want 2", job.TotalRecipients)
	}

	empty := &fakeAssets{recipientsFn: func(ctx context.Context, listID string) ([]campaign.Member, error) {
		return nil, nil
	}}
	svc = newTestJobService(t, newMemJobRepo(), newMemRecipientRepo(), newMemProgressRepo(), &fakeEnqueuer{}, &fakeRemover{}, &fakeStatusCache{}, empty, newFakeBlobStore())
	if _, err := svc.SubmitFromList(context.Background(), "camp-1", "", "ops@example.com", "empty"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("SubmitFromList() error = %v, want ErrValidation", err)
	}
}

func TestJobServiceGetJobStatus(t *testing.T) {
	t.Parallel()

	started := time.Date(2025, 11, 3, 17, 0, 0, 0, time.UTC)
	now := started.Add(40 * time.Second)

	jobs := newMemJobRepo()
	jobs.put(domain.PrintJob{
		ID:              "job-1",
		CampaignID:      "camp-1",
		RequestedBy:     "ops@example.com",
		TotalRecipients: 40,
		ProcessedCount:  10,
		SuccessCount:    9,
		FailedCount:     1,
		Status:          domain.StatusProcessing,
		CreatedAt:       started,
		StartedAt:       &started,
	})

	progress := newMemProgressRepo()
	if _, err := progress.Append(context.Background(), "job-1", 25, "rendered 10 of 40", now); err != nil {
		t.Fatalf("Append() error = %v", err)
	}

	statusCache := &fakeStatusCache{}
	svc := newTestJobService(t, jobs, newMemRecipientRepo(), progress, &fakeEnqueuer{}, &fakeRemover{}, statusCache, &fakeAssets{}, newFakeBlobStore())
	svc.now = func() time.Time { return now }

	status, err := svc.GetJobStatus(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJobStatus() error = %v", err)
	}

	if status.ProgressPercent != 25.00 {
		t.Fatalf("progress = %v, want 25.00", status.ProgressPercent)
	}
	// 40s for 10 recipients extrapolates to 120s for the remaining 30.
	if status.EtaSeconds == nil || *status.EtaSeconds != 120 {
		t.Fatalf("eta = %v, want 120", status.EtaSeconds)
	}
	if status.LastMessage != "rendered 10 of 40" {
		t.Fatalf("last message = %q, want the newest checkpoint note", status.LastMessage)
	}
	if status.ArchiveReady {
		t.Fatal("archive should not be ready while processing")
	}

	if statusCache.setCalls != 1 {
		t.Fatalf("cache writes = %d, want 1", statusCache.setCalls)
	}

	// Second read is served from the cache without touching the repository.
	readsBefore := jobs.reads()
	again, err := svc.GetJobStatus(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJobStatus() second call error = %v", err)
	}
	if jobs.reads() != readsBefore {
		t.Fatal("cached status read should not hit the repository")
	}
	if again.ProgressPercent != 25.00 || again.Status != domain.StatusProcessing {
		t.Fatalf("cached status = %+v", again)
	}
	if again.LastMessage != "rendered 10 of 40" {
		t.Fatalf("cached last message = %q, want the checkpoint note to ride the cache", again.LastMessage)
	}
}

func TestJobServiceGetJobStatusNoEtaBeforeFirstRecipient(t *testing.T) {
	t.Parallel()

	started := time.Now().UTC()
	jobs := newMemJobRepo()
	jobs.put(domain.PrintJob{
		ID:              "job-1",
		CampaignID:      "camp-1",
		RequestedBy:     "ops@example.com",
		TotalRecipients: 40,
		Status:          domain.StatusProcessing,
		StartedAt:       &started,
	})

	svc := newTestJobService(t, jobs, newMemRecipientRepo(), newMemProgressRepo(), &fakeEnqueuer{}, &fakeRemover{}, &fakeStatusCache{}, &fakeAssets{}, newFakeBlobStore())

	status, err := svc.GetJobStatus(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("GetJobStatus() error = %v", err)
	}
	if status.EtaSeconds != nil {
		t.Fatalf("eta = %v, want nil before the first recipient lands", *status.EtaSeconds)
	}
}

func TestJobServiceGetJobStatusNotFound(t *testing.T) {
	t.Parallel()

	svc := newTestJobService(t, newMemJobRepo(), newMemRecipientRepo(), newMemProgressRepo(), &fakeEnqueuer{}, &fakeRemover{}, &fakeStatusCache{}, &fakeAssets{}, newFakeBlobStore())

	if _, err := svc.GetJobStatus(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("GetJobStatus() error = %v, want ErrNotFound", err)
	}
}

func TestJobServiceCancelPendingJob(t *testing.T) {
	t.Parallel()

	jobs := newMemJobRepo()
	jobs.put(domain.PrintJob{
		ID:              "job-1",
		CampaignID:      "camp-1",
		RequestedBy:     "ops@example.com",
		TotalRecipients: 4,
		Status:          domain.StatusPending,
	})

	remover := &fakeRemover{removeFn: func(ctx context.Context, jobID string) (bool, error) {
		return true, nil
	}}
	statusCache := &fakeStatusCache{}
	progress := newMemProgressRepo()
	svc := newTestJobService(t, jobs, newMemRecipientRepo(), progress, &fakeEnqueuer{}, remover, statusCache, &fakeAssets{}, newFakeBlobStore())

	if err := svc.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("Cancel() error = %v", err)
	}

	if got := jobs.mustGet(t, "job-1").Status; got != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got)
	}
	if statusCache.invalidations != 1 {
		t.Fatalf("cache invalidations = %d, want 1", statusCache.invalidations)
	}

	checkpoints := progress.byJob("job-1")
	if len(checkpoints) != 1 || checkpoints[0].Message != "cancellation requested" {
		t.Fatalf("checkpoints = %+v", checkpoints)
	}
}

func TestJobServiceCancelSurvivesQueueMiss(t *testing.T) {
	t.Parallel()

	jobs := newMemJobRepo()
	jobs.put(domain.PrintJob{
		ID:              "job-1",
		CampaignID:      "camp-1",
		RequestedBy:     "ops@example.com",
		TotalRecipients: 4,
		Status:          domain.StatusProcessing,
	})

	remover := &fakeRemover{removeFn: func(ctx context.Context, jobID string) (bool, error) {
		return false, errors.New("redis down")
	}}
	svc := newTestJobService(t, jobs, newMemRecipientRepo(), newMemProgressRepo(), &fakeEnqueuer{}, remover, &fakeStatusCache{}, &fakeAssets{}, newFakeBlobStore())

	if err := svc.Cancel(context.Background(), "job-1"); err != nil {
		t.Fatalf("Cancel() error = %v, queue removal is best effort", err)
	}
	if got := jobs.mustGet(t, "job-1").Status; got != domain.StatusCancelled {
		t.Fatalf("status = %s, want cancelled", got)
	}
}

func TestJobServiceCancelTerminalJob(t *testing.T) {
	t.Parallel()

	jobs := newMemJobRepo()
	jobs.put(domain.PrintJob{
		ID:              "job-1",
		CampaignID:      "camp-1",
		RequestedBy:     "ops@example.com",
		TotalRecipients: 4,
		Status:          domain.StatusCompleted,
	})

	remover := &fakeRemover{removeFn: func(ctx context.Context, jobID string) (bool, error) {
		t.Fatal("queue removal should not run for a rejected cancellation")
		return false, nil
	}}
	svc := newTestJobService(t, jobs, newMemRecipientRepo(), newMemProgressRepo(), &fakeEnqueuer{}, remover, &fakeStatusCache{}, &fakeAssets{}, newFakeBlobStore())

	if err := svc.Cancel(context.Background(), "job-1"); !errors.Is(err, domain.ErrNotCancellable) {
		t.Fatalf("Cancel() error = %v, want ErrNotCancellable", err)
	}

	if err := svc.Cancel(context.Background(), "ghost"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("Cancel() error = %v, want ErrNotFound", err)
	}
}

func TestJobServiceDownloadArchive(t *testing.T) {
	t.Parallel()

	archivePath := "jobs/job-1/archive.zip"
	jobs := newMemJobRepo()
	jobs.put(domain.PrintJob{
		ID:               "job-1",
		CampaignID:       "camp-1",
		RequestedBy:      "ops@example.com",
		TotalRecipients:  4,
		Status:           domain.StatusCompleted,
		ArchivePath:      &archivePath,
		ArchiveSizeBytes: 9,
	})

	store := newFakeBlobStore()
	if err := store.Put(context.Background(), archivePath, []byte("zip bytes")); err != nil {
		t.Fatalf("Put() error = %v", err)
	}

	svc := newTestJobService(t, jobs, newMemRecipientRepo(), newMemProgressRepo(), &fakeEnqueuer{}, &fakeRemover{}, &fakeStatusCache{}, &fakeAssets{}, store)

	rc, job, err := svc.DownloadArchive(context.Background(), "job-1")
	if err != nil {
		t.Fatalf("DownloadArchive() error = %v", err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		t.Fatalf("ReadAll() error = %v", err)
	}
	if !bytes.Equal(data, []byte("zip bytes")) {
		t.Fatalf("archive content = %q", data)
	}
	if job.ArchiveSizeBytes != 9 {
		t.Fatalf("archive size = %d, want 9", job.ArchiveSizeBytes)
	}
}

func TestJobServiceDownloadArchiveNotReady(t *testing.T) {
	t.Parallel()

	jobs := newMemJobRepo()
	jobs.put(domain.PrintJob{
		ID:              "job-1",
		CampaignID:      "camp-1",
		RequestedBy:     "ops@example.com",
		TotalRecipients: 4,
		Status:          domain.StatusProcessing,
	})

	svc := newTestJobService(t, jobs, newMemRecipientRepo(), newMemProgressRepo(), &fakeEnqueuer{}, &fakeRemover{}, &fakeStatusCache{}, &fakeAssets{}, newFakeBlobStore())

	if _, _, err := svc.DownloadArchive(context.Background(), "job-1"); !errors.Is(err, domain.ErrArchiveNotReady) {
		t.Fatalf("DownloadArchive() error = %v, want ErrArchiveNotReady", err)
	}
}

func TestTrackingURL(t *testing.T) {
	t.Parallel()

	svc := newTestJobService(t, newMemJobRepo(), newMemRecipientRepo(), newMemProgressRepo(), &fakeEnqueuer{}, &fakeRemover{}, &fakeStatusCache{}, &fakeAssets{}, newFakeBlobStore())

	if got := svc.TrackingURL("Ab3dEf9h"); got != "https://trk.example.dev/t/Ab3dEf9h" {
		t.Fatalf("TrackingURL() = %q", got)
	}
}

// --- shared in-memory fakes ---

type memJobRepo struct {
	mu        sync.Mutex
	jobs      map[string]domain.PrintJob
	readCount int
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: map[string]domain.PrintJob{}}
}

func (r *memJobRepo) put(job domain.PrintJob) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[job.ID] = job
}

func (r *memJobRepo) mustGet(t *testing.T, id string) domain.PrintJob {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		t.Fatalf("job %s not stored", id)
	}
	return job
}

func (r *memJobRepo) all() []domain.PrintJob {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PrintJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	return out
}

func (r *memJobRepo) reads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readCount
}

func (r *memJobRepo) setStatus(id string, status domain.Status) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job := r.jobs[id]
	job.Status = status
	r.jobs[id] = job
}

func (r *memJobRepo) Create(ctx context.Context, j *domain.PrintJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[j.ID] = *j
	return nil
}

func (r *memJobRepo) GetByID(ctx context.Context, id string) (*domain.PrintJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.readCount++
	job, ok := r.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	copied := job
	return &copied, nil
}

func (r *memJobRepo) List(ctx context.Context, params repository.ListParams) ([]domain.PrintJob, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PrintJob, 0, len(r.jobs))
	for _, job := range r.jobs {
		out = append(out, job)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, int64(len(out)), nil
}

func (r *memJobRepo) MarkProcessing(ctx context.Context, id string, startedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.StatusPending {
		return false, nil
	}
	job.Status = domain.StatusProcessing
	job.StartedAt = &startedAt
	r.jobs[id] = job
	return true, nil
}

func (r *memJobRepo) MarkCompleted(ctx context.Context, id string, archivePath string, archiveSize int64, completedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.StatusProcessing {
		return false, nil
	}
	job.Status = domain.StatusCompleted
	job.ArchivePath = &archivePath
	job.ArchiveSizeBytes = archiveSize
	job.CompletedAt = &completedAt
	r.jobs[id] = job
	return true, nil
}

func (r *memJobRepo) MarkFailed(ctx context.Context, id string, reason string, completedAt time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok || job.Status != domain.StatusProcessing {
		return false, nil
	}
	job.Status = domain.StatusFailed
	job.ErrorMessage = &reason
	job.CompletedAt = &completedAt
	r.jobs[id] = job
	return true, nil
}

func (r *memJobRepo) Cancel(ctx context.Context, id string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	if !job.Status.Cancellable() {
		return domain.ErrNotCancellable
	}
	job.Status = domain.StatusCancelled
	job.CompletedAt = &at
	r.jobs[id] = job
	return nil
}

func (r *memJobRepo) IncrementCounters(ctx context.Context, id string, succeeded bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.ErrNotFound
	}
	job.ProcessedCount++
	if succeeded {
		job.SuccessCount++
	} else {
		job.FailedCount++
	}
	r.jobs[id] = job
	return nil
}

func (r *memJobRepo) FindStalePending(ctx context.Context, olderThan time.Time, limit int) ([]domain.PrintJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.PrintJob, 0)
	for _, job := range r.jobs {
		if job.Status == domain.StatusPending && job.CreatedAt.Before(olderThan) {
			out = append(out, job)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memRecipientRepo struct {
	mu            sync.Mutex
	recipients    map[string][]domain.Recipient
	createBatchFn func(ctx context.Context, recs []*domain.Recipient) error
}

func newMemRecipientRepo() *memRecipientRepo {
	return &memRecipientRepo{recipients: map[string][]domain.Recipient{}}
}

func (r *memRecipientRepo) byJob(jobID string) []domain.Recipient {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := append([]domain.Recipient(nil), r.recipients[jobID]...)
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out
}

func (r *memRecipientRepo) CreateBatch(ctx context.Context, recs []*domain.Recipient) error {
	if r.createBatchFn != nil {
		return r.createBatchFn(ctx, recs)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rec := range recs {
		r.recipients[rec.JobID] = append(r.recipients[rec.JobID], *rec)
	}
	return nil
}

func (r *memRecipientRepo) ListByJob(ctx context.Context, jobID string) ([]domain.Recipient, error) {
	return r.byJob(jobID), nil
}

func (r *memRecipientRepo) MarkSuccess(ctx context.Context, id string, documentPath string, processedAt time.Time) error {
	return r.mark(id, func(rec *domain.Recipient) {
		rec.Status = domain.RecipientSuccess
		rec.DocumentPath = &documentPath
		rec.ProcessedAt = &processedAt
	})
}

func (r *memRecipientRepo) MarkFailed(ctx context.Context, id string, reason string, processedAt time.Time) error {
	return r.mark(id, func(rec *domain.Recipient) {
		rec.Status = domain.RecipientFailed
		rec.ErrorMessage = &reason
		rec.ProcessedAt = &processedAt
	})
}

func (r *memRecipientRepo) mark(id string, apply func(*domain.Recipient)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for jobID, recs := range r.recipients {
		for i := range recs {
			if recs[i].ID == id {
				apply(&recs[i])
				r.recipients[jobID] = recs
				return nil
			}
		}
	}
	return domain.ErrNotFound
}

type memProgressRepo struct {
	mu          sync.Mutex
	checkpoints map[string][]domain.Checkpoint
	nextID      int64
}

func newMemProgressRepo() *memProgressRepo {
	return &memProgressRepo{checkpoints: map[string][]domain.Checkpoint{}}
}

func (r *memProgressRepo) byJob(jobID string) []domain.Checkpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Checkpoint(nil), r.checkpoints[jobID]...)
}

func (r *memProgressRepo) Append(ctx context.Context, jobID string, percent float64, message string, at time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, cp := range r.checkpoints[jobID] {
		if cp.Percent > percent {
			return false, nil
		}
	}
	r.nextID++
	r.checkpoints[jobID] = append(r.checkpoints[jobID], domain.Checkpoint{
		ID:        r.nextID,
		JobID:     jobID,
		Percent:   percent,
		Message:   message,
		CreatedAt: at,
	})
	return true, nil
}

func (r *memProgressRepo) Latest(ctx context.Context, jobID string) (*domain.Checkpoint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cps := r.checkpoints[jobID]
	if len(cps) == 0 {
		return nil, domain.ErrNotFound
	}
	latest := cps[len(cps)-1]
	return &latest, nil
}

func (r *memProgressRepo) ListByJob(ctx context.Context, jobID string) ([]domain.Checkpoint, error) {
	return r.byJob(jobID), nil
}

type fakeEnqueuer struct {
	mu        sync.Mutex
	messages  []queue.JobMessage
	enqueueFn func(ctx context.Context, msg queue.JobMessage) error
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, msg queue.JobMessage) error {
	if f.enqueueFn != nil {
		return f.enqueueFn(ctx, msg)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, msg)
	return nil
}

func (f *fakeEnqueuer) queued() []queue.JobMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]queue.JobMessage(nil), f.messages...)
}

type fakeRemover struct {
	removeFn func(ctx context.Context, jobID string) (bool, error)
}

func (f *fakeRemover) TryRemove(ctx context.Context, jobID string) (bool, error) {
	if f.removeFn != nil {
		return f.removeFn(ctx, jobID)
	}
	return false, nil
}

type fakeConsumer struct {
	consumeFn func(ctx context.Context, handler queue.MessageHandler) error
}

func (f *fakeConsumer) Consume(ctx context.Context, handler queue.MessageHandler) error {
	if f.consumeFn != nil {
		return f.consumeFn(ctx, handler)
	}
	<-ctx.Done()
	return nil
}

type fakeStatusCache struct {
	mu            sync.Mutex
	entries       map[string][]byte
	setCalls      int
	invalidations int
}

func (f *fakeStatusCache) Get(ctx context.Context, jobID string) ([]byte, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	payload, ok := f.entries[jobID]
	return payload, ok, nil
}

func (f *fakeStatusCache) Set(ctx context.Context, jobID string, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.entries == nil {
		f.entries = map[string][]byte{}
	}
	f.entries[jobID] = payload
	f.setCalls++
	return nil
}

func (f *fakeStatusCache) Invalidate(ctx context.Context, jobID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.entries, jobID)
	f.invalidations++
	return nil
}

type fakeAssets struct {
	recipientsFn   func(ctx context.Context, listID string) ([]campaign.Member, error)
	baseDocumentFn func(ctx context.Context, templateID string) ([]byte, error)
}

func (f *fakeAssets) Recipients(ctx context.Context, listID string) ([]campaign.Member, error) {
	if f.recipientsFn != nil {
		return f.recipientsFn(ctx, listID)
	}
	return nil, domain.ErrNotFound
}

func (f *fakeAssets) BaseDocument(ctx context.Context, templateID string) ([]byte, error) {
	if f.baseDocumentFn != nil {
		return f.baseDocumentFn(ctx, templateID)
	}
	return []byte("%PDF-1.4 test base"), nil
}

type fakeBlobStore struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	putFn    func(ctx context.Context, key string, data []byte) error
	deleteFn func(ctx context.Context, key string) error
	deleted  []string
}

func newFakeBlobStore() *fakeBlobStore {
	return &fakeBlobStore{blobs: map[string][]byte{}}
}

func (f *fakeBlobStore) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.blobs))
	for key := range f.blobs {
		out = append(out, key)
	}
	sort.Strings(out)
	return out
}

func (f *fakeBlobStore) Put(ctx context.Context, key string, data []byte) error {
	if f.putFn != nil {
		return f.putFn(ctx, key, data)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (f *fakeBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.blobs[key]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (f *fakeBlobStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	data, err := f.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(data)), nil
}

func (f *fakeBlobStore) Create(ctx context.Context, key string) (io.WriteCloser, error) {
	return &fakeBlobWriter{store: f, key: key}, nil
}

func (f *fakeBlobStore) Delete(ctx context.Context, key string) error {
	if f.deleteFn != nil {
		return f.deleteFn(ctx, key)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.blobs[key]; !ok {
		return domain.ErrNotFound
	}
	delete(f.blobs, key)
	f.deleted = append(f.deleted, key)
	return nil
}

type fakeBlobWriter struct {
	store *fakeBlobStore
	key   string
	buf   bytes.Buffer
}

func (w *fakeBlobWriter) Write(p []byte) (int, error) { return w.buf.Write(p) }

func (w *fakeBlobWriter) Close() error {
	w.store.mu.Lock()
	defer w.store.mu.Unlock()
	w.store.blobs[w.key] = append([]byte(nil), w.buf.Bytes()...)
	return nil
}

type fakeOverlayer struct {
	validateFn    func(base []byte) error
	personalizeFn func(ctx context.Context, base []byte, recipients []render.Fields, cfgFn render.ConfigFn, opts render.Options, sink render.Sink) error
}

func (f *fakeOverlayer) ValidateBase(base []byte) error {
	if f.validateFn != nil {
		return f.validateFn(base)
	}
	return nil
}

func (f *fakeOverlayer) PersonalizeEach(ctx context.Context, base []byte, recipients []render.Fields, cfgFn render.ConfigFn, opts render.Options, sink render.Sink) error {
	if f.personalizeFn != nil {
		return f.personalizeFn(ctx, base, recipients, cfgFn, opts, sink)
	}
	for i := range recipients {
		if err := ctx.Err(); err != nil {
			return err
		}
		if opts.Throttle != nil {
			if err := opts.Throttle(ctx); err != nil {
				return ctx.Err()
			}
		}
		sink(i, []byte(fmt.Sprintf("%%PDF doc %d", i)), nil)
	}
	return ctx.Err()
}

type fakeBuilder struct {
	mu      sync.Mutex
	builds  [][]archive.Entry
	destKey string
	buildFn func(ctx context.Context, destKey string, entries []archive.Entry) (int64, error)
}

func (f *fakeBuilder) Build(ctx context.Context, destKey string, entries []archive.Entry) (int64, error) {
	if f.buildFn != nil {
		return f.buildFn(ctx, destKey, entries)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.destKey = destKey
	f.builds = append(f.builds, append([]archive.Entry(nil), entries...))
	return int64(1000 + len(entries)), nil
}

type fakeNotifier struct {
	mu     sync.Mutex
	events []notify.Event
	sendFn func(ctx context.Context, event notify.Event) error
}

func (f *fakeNotifier) JobFinished(ctx context.Context, event notify.Event) error {
	if f.sendFn != nil {
		return f.sendFn(ctx, event)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	return nil
}

func (f *fakeNotifier) sent() []notify.Event {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Event(nil), f.events...)
}

var (
	_ repository.JobRepository       = (*memJobRepo)(nil)
	_ repository.RecipientRepository = (*memRecipientRepo)(nil)
	_ repository.ProgressRepository  = (*memProgressRepo)(nil)
	_ queue.Enqueuer                 = (*fakeEnqueuer)(nil)
	_ queue.Remover                  = (*fakeRemover)(nil)
	_ queue.Consumer                 = (*fakeConsumer)(nil)
	_ cache.StatusCache              = (*fakeStatusCache)(nil)
	_ storage.BlobStore              = (*fakeBlobStore)(nil)
	_ BatchOverlayer                 = (*fakeOverlayer)(nil)
	_ ArchiveBuilder                 = (*fakeBuilder)(nil)
	_ AssetDirectory                 = (*fakeAssets)(nil)
	_ notify.Notifier                = (*fakeNotifier)(nil)
)
