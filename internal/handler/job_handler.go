package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/jpaulsen/stampede/internal/campaign"
	"github.com/jpaulsen/stampede/internal/domain"
	"github.com/jpaulsen/stampede/internal/repository"
	"github.com/jpaulsen/stampede/internal/service"
)

const (
	defaultPage     = 1
	defaultPageSize = 50
	maxPageSize     = 100
)

type JobService interface {
	Submit(ctx context.Context, req service.SubmitRequest) (*domain.PrintJob, error)
	SubmitFromList(ctx context.Context, campaignID, templateID, requestedBy, listID string) (*domain.PrintJob, error)
	GetJobStatus(ctx context.Context, id string) (*service.JobStatus, error)
	Cancel(ctx context.Context, id string) error
	DownloadArchive(ctx context.Context, id string) (io.ReadCloser, *domain.PrintJob, error)
	Recipients(ctx context.Context, jobID string) ([]domain.Recipient, error)
	Progress(ctx context.Context, jobID string) ([]domain.Checkpoint, error)
	List(ctx context.Context, params repository.ListParams) ([]domain.PrintJob, int64, error)
	TrackingURL(token string) string
}

type JobHandler struct {
	service JobService
}

func NewJobHandler(service JobService) (*JobHandler, error) {
	if service == nil {
		return nil, fmt.Errorf("job service is required")
	}
	return &JobHandler{service: service}, nil
}

func RegisterJobRoutes(router fiber.Router, service JobService) error {
	h, err := NewJobHandler(service)
	if err != nil {
		return err
	}

	v1 := router.Group("/v1")
	v1.Post("/print-jobs", h.CreateJob)
	v1.Post("/print-jobs/from-list", h.CreateJobFromList)
	v1.Get("/print-jobs", h.ListJobs)
	v1.Get("/print-jobs/:id", h.GetJobStatus)
	v1.Get("/print-jobs/:id/recipients", h.ListRecipients)
	v1.Get("/print-jobs/:id/progress", h.GetProgress)
	v1.Post("/print-jobs/:id/cancel", h.CancelJob)
	v1.Get("/print-jobs/:id/archive", h.DownloadArchive)

	return nil
}

type createJobRequest struct {
	CampaignID  string            `json:"campaignId"`
	TemplateID  string            `json:"templateId,omitempty"`
	RequestedBy string            `json:"requestedBy"`
	Recipients  []campaign.Member `json:"recipients"`
}

type createJobFromListRequest struct {
	CampaignID  string `json:"campaignId"`
	TemplateID  string `json:"templateId,omitempty"`
	RequestedBy string `json:"requestedBy"`
	ListID      string `json:"listId"`
}

type jobResponse struct {
	ID          string  `json:"id"`
	CampaignID  string  `json:"campaignId"`
	TemplateID  *string `json:"templateId,omitempty"`
	RequestedBy string  `json:"requestedBy"`
	Status      string  `json:"status"`

	TotalRecipients int `json:"totalRecipients"`
	ProcessedCount  int `json:"processedCount"`
	SuccessCount    int `json:"successCount"`
	FailedCount     int `json:"failedCount"`

	ArchiveSizeBytes int64   `json:"archiveSizeBytes,omitempty"`
	ErrorMessage     *string `json:"errorMessage,omitempty"`

	CreatedAt   time.Time  `json:"createdAt"`
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
}

type listJobsResponse struct {
	Data []jobResponse `json:"data"`
	Meta listMeta      `json:"meta"`
}

type listMeta struct {
	Page     int   `json:"page"`
	PageSize int   `json:"pageSize"`
	Total    int64 `json:"total"`
}

type recipientResponse struct {
	ID            string     `json:"id"`
	ExternalID    string     `json:"externalId,omitempty"`
	Seq           int        `json:"seq"`
	FirstName     string     `json:"firstName"`
	LastName      string     `json:"lastName"`
	Address       string     `json:"address"`
	City          string     `json:"city"`
	State         string     `json:"state"`
	PostalCode    string     `json:"postalCode"`
	TrackingToken string     `json:"trackingToken"`
	TrackingURL   string     `json:"trackingUrl,omitempty"`
	Status        string     `json:"status"`
	ErrorMessage  *string    `json:"errorMessage,omitempty"`
	ProcessedAt   *time.Time `json:"processedAt,omitempty"`
}

type checkpointResponse struct {
	Percent   float64   `json:"percent"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"createdAt"`
}

type progressResponse struct {
	JobID       string               `json:"jobId"`
	Checkpoints []checkpointResponse `json:"checkpoints"`
}

func (h *JobHandler) CreateJob(c *fiber.Ctx) error {
	var req createJobRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	job, err := h.service.Submit(c.Context(), service.SubmitRequest{
		CampaignID:  req.CampaignID,
		TemplateID:  req.TemplateID,
		RequestedBy: req.RequestedBy,
		Recipients:  req.Recipients,
	})
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toJobResponse(job))
}

func (h *JobHandler) CreateJobFromList(c *fiber.Ctx) error {
	var req createJobFromListRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}

	job, err := h.service.SubmitFromList(c.Context(), req.CampaignID, req.TemplateID, req.RequestedBy, req.ListID)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusAccepted).JSON(toJobResponse(job))
}

func (h *JobHandler) GetJobStatus(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	status, err := h.service.GetJobStatus(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(status)
}

func (h *JobHandler) ListJobs(c *fiber.Ctx) error {
	params, err := parseListParams(c)
	if err != nil {
		return toHTTPError(err)
	}

	jobs, total, err := h.service.List(c.Context(), params)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]jobResponse, 0, len(jobs))
	for i := range jobs {
		data = append(data, toJobResponse(&jobs[i]))
	}

	return c.Status(fiber.StatusOK).JSON(listJobsResponse{
		Data: data,
		Meta: listMeta{
			Page:     params.Page,
			PageSize: params.PageSize,
			Total:    total,
		},
	})
}

func (h *JobHandler) ListRecipients(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	recipients, err := h.service.Recipients(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	data := make([]recipientResponse, 0, len(recipients))
	for i := range recipients {
		resp := toRecipientResponse(&recipients[i])
		if resp.TrackingToken != "" {
			resp.TrackingURL = h.service.TrackingURL(resp.TrackingToken)
		}
		data = append(data, resp)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"jobId":      id,
		"recipients": data,
	})
}

func (h *JobHandler) GetProgress(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	checkpoints, err := h.service.Progress(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	items := make([]checkpointResponse, 0, len(checkpoints))
	for _, cp := range checkpoints {
		items = append(items, checkpointResponse{
			Percent:   cp.Percent,
			Message:   cp.Message,
			CreatedAt: cp.CreatedAt,
		})
	}

	return c.Status(fiber.StatusOK).JSON(progressResponse{
		JobID:       id,
		Checkpoints: items,
	})
}

func (h *JobHandler) CancelJob(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	if err := h.service.Cancel(c.Context(), id); err != nil {
		return toHTTPError(err)
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"jobId":  id,
		"status": domain.StatusCancelled.String(),
	})
}

func (h *JobHandler) DownloadArchive(c *fiber.Ctx) error {
	id := strings.TrimSpace(c.Params("id"))
	reader, job, err := h.service.DownloadArchive(c.Context(), id)
	if err != nil {
		return toHTTPError(err)
	}

	c.Set(fiber.HeaderContentType, "application/zip")
	c.Set(fiber.HeaderContentDisposition, fmt.Sprintf("attachment; filename=%q", archiveFilename(job)))
	if job.ArchiveSizeBytes > 0 {
		return c.SendStream(reader, int(job.ArchiveSizeBytes))
	}
	return c.SendStream(reader)
}

func archiveFilename(job *domain.PrintJob) string {
	return fmt.Sprintf("print-job-%s.zip", job.ID)
}

func parseListParams(c *fiber.Ctx) (repository.ListParams, error) {
	params := repository.ListParams{
		Page:     c.QueryInt("page", defaultPage),
		PageSize: c.QueryInt("pageSize", defaultPageSize),
	}

	if params.Page < 1 {
		return repository.ListParams{}, fmt.Errorf("%w: page must be >= 1", domain.ErrValidation)
	}
	if params.PageSize < 1 || params.PageSize > maxPageSize {
		return repository.ListParams{}, fmt.Errorf("%w: pageSize must be between 1 and %d", domain.ErrValidation, maxPageSize)
	}

	if rawStatus := strings.TrimSpace(c.Query("status")); rawStatus != "" {
		status, err := domain.ParseStatusFromString(rawStatus)
		if err != nil {
			return repository.ListParams{}, err
		}
		params.Status = &status
	}

	if campaignID := strings.TrimSpace(c.Query("campaignId")); campaignID != "" {
		params.CampaignID = &campaignID
	}

	from, err := parseRFC3339Query(c.Query("from"), "from")
	if err != nil {
		return repository.ListParams{}, err
	}
	to, err := parseRFC3339Query(c.Query("to"), "to")
	if err != nil {
		return repository.ListParams{}, err
	}
	params.From = from
	params.To = to

	return params, nil
}

func parseRFC3339Query(value string, field string) (*time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, nil
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return nil, fmt.Errorf("%w: %s must be RFC3339", domain.ErrValidation, field)
	}
	return &t, nil
}

func toJobResponse(job *domain.PrintJob) jobResponse {
	if job == nil {
		return jobResponse{}
	}

	return jobResponse{
		ID:               job.ID,
		CampaignID:       job.CampaignID,
		TemplateID:       job.TemplateID,
		RequestedBy:      job.RequestedBy,
		Status:           job.Status.String(),
		TotalRecipients:  job.TotalRecipients,
		ProcessedCount:   job.ProcessedCount,
		SuccessCount:     job.SuccessCount,
		FailedCount:      job.FailedCount,
		ArchiveSizeBytes: job.ArchiveSizeBytes,
		ErrorMessage:     job.ErrorMessage,
		CreatedAt:        job.CreatedAt,
		StartedAt:        job.StartedAt,
		CompletedAt:      job.CompletedAt,
	}
}

func toRecipientResponse(rec *domain.Recipient) recipientResponse {
	if rec == nil {
		return recipientResponse{}
	}

	return recipientResponse{
		ID:            rec.ID,
		ExternalID:    rec.ExternalID,
		Seq:           rec.Seq,
		FirstName:     rec.FirstName,
		LastName:      rec.LastName,
		Address:       rec.Address,
		City:          rec.City,
		State:         rec.State,
		PostalCode:    rec.PostalCode,
		TrackingToken: rec.TrackingToken,
		Status:        rec.Status.String(),
		ErrorMessage:  rec.ErrorMessage,
		ProcessedAt:   rec.ProcessedAt,
	}
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, domain.ErrValidation):
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrArchiveNotReady):
		return fiber.NewError(fiber.StatusConflict, err.Error())
	default:
		return err
	}
}
