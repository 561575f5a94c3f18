package domain

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Status represents the lifecycle state of a print job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) String() string { return string(s) }

func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// IsTerminal reports whether the status can never change again.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

// Cancellable reports whether a cancellation request is legal in this state.
func (s Status) Cancellable() bool {
	return s == StatusPending || s == StatusProcessing
}

// CanTransitionTo reports whether next is a legal successor state.
// Legal transitions: pending to processing or cancelled, processing to
// completed, failed or cancelled. Everything else is rejected.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusCancelled
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed || next == StatusCancelled
	}
	return false
}

func ParseStatusFromString(s string) (Status, error) {
	st := Status(strings.ToLower(strings.TrimSpace(s)))
	if !st.IsValid() {
		return "", fmt.Errorf("%w: invalid status %q", ErrValidation, s)
	}
	return st, nil
}

// PrintJob is one batch personalization run: a campaign design stamped once
// per recipient and collected into a single downloadable archive.
type PrintJob struct {
	ID          string
	CampaignID  string
	TemplateID  *string
	RequestedBy string

	TotalRecipients int
	ProcessedCount  int
	SuccessCount    int
	FailedCount     int

	Status           Status
	ArchivePath      *string
	ArchiveSizeBytes int64
	ErrorMessage     *string

	CreatedAt   time.Time
	UpdatedAt   time.Time
	StartedAt   *time.Time
	CompletedAt *time.Time
}

func (j *PrintJob) Validate() error {
	if j == nil {
		return fmt.Errorf("%w: job is required", ErrValidation)
	}
	if strings.TrimSpace(j.CampaignID) == "" {
		return fmt.Errorf("%w: campaign id is required", ErrValidation)
	}
	if strings.TrimSpace(j.RequestedBy) == "" {
		return fmt.Errorf("%w: requester is required", ErrValidation)
	}
	if j.TotalRecipients < 1 {
		return fmt.Errorf("%w: job must include at least one recipient", ErrValidation)
	}
	if !j.Status.IsValid() {
		return fmt.Errorf("%w: invalid status %q", ErrValidation, j.Status)
	}
	return nil
}

// CountsConsistent reports whether the counter invariants hold:
// processed never exceeds total and success + failed always equals processed.
func (j *PrintJob) CountsConsistent() bool {
	if j == nil {
		return false
	}
	return j.ProcessedCount <= j.TotalRecipients &&
		j.SuccessCount+j.FailedCount == j.ProcessedCount
}

// ProgressPercent returns processed/total as a percentage rounded to two decimals.
func (j *PrintJob) ProgressPercent() float64 {
	if j == nil || j.TotalRecipients == 0 {
		return 0
	}
	pct := float64(j.ProcessedCount) / float64(j.TotalRecipients) * 100
	return math.Round(pct*100) / 100
}

// RemainingCount returns the number of recipients not yet attempted.
func (j *PrintJob) RemainingCount() int {
	if j == nil {
		return 0
	}
	if j.ProcessedCount >= j.TotalRecipients {
		return 0
	}
	return j.TotalRecipients - j.ProcessedCount
}

// EstimateTimeRemaining extrapolates the average per-recipient duration since
// startedAt over the remaining recipients. It returns false until at least one
// recipient has been processed or when the job is not running.
func (j *PrintJob) EstimateTimeRemaining(now time.Time) (time.Duration, bool) {
	if j == nil || j.Status != StatusProcessing || j.ProcessedCount < 1 || j.StartedAt == nil {
		return 0, false
	}
	elapsed := now.Sub(*j.StartedAt)
	if elapsed < 0 {
		return 0, false
	}
	perRecipient := elapsed / time.Duration(j.ProcessedCount)
	return perRecipient * time.Duration(j.RemainingCount()), true
}
