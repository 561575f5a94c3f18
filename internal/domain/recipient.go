package domain

import (
	"fmt"
	"strings"
	"time"
)

// RecipientStatus represents the terminal outcome of one recipient's
// personalization attempt.
type RecipientStatus string

const (
	RecipientPending RecipientStatus = "pending"
	RecipientSuccess RecipientStatus = "success"
	RecipientFailed  RecipientStatus = "failed"
)

func (s RecipientStatus) String() string { return string(s) }

func (s RecipientStatus) IsValid() bool {
	switch s {
	case RecipientPending, RecipientSuccess, RecipientFailed:
		return true
	}
	return false
}

// Recipient is one row of a job's per-recipient ledger. All contact fields are
// optional; the overlay engine skips whatever is absent. The ledger exists so
// partial failure stays visible without unpacking the output archive.
type Recipient struct {
	ID         string
	JobID      string
	ExternalID string

	// Seq is the zero-based submission position, preserved so rendering and
	// archive listings follow the order of the uploaded list.
	Seq int

	FirstName  string
	LastName   string
	Address    string
	City       string
	State      string
	PostalCode string

	// TrackingToken is the per-recipient fragment embedded in the scan URL so
	// a physical scan can be attributed back to this individual.
	TrackingToken string

	Status       RecipientStatus
	DocumentPath *string
	ErrorMessage *string
	CreatedAt    time.Time
	ProcessedAt  *time.Time
}

func (r *Recipient) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: recipient is required", ErrValidation)
	}
	if strings.TrimSpace(r.JobID) == "" {
		return fmt.Errorf("%w: recipient job id is required", ErrValidation)
	}
	if !r.Status.IsValid() {
		return fmt.Errorf("%w: invalid recipient status %q", ErrValidation, r.Status)
	}
	return nil
}

// FullName joins the non-empty name fields with a single space.
func (r *Recipient) FullName() string {
	if r == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimSpace(r.FirstName) + " " + strings.TrimSpace(r.LastName))
}
