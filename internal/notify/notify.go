package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jpaulsen/stampede/internal/domain"
)

// Event describes a finished print job for outbound delivery.
type Event struct {
	JobID          string
	Requester      string
	Outcome        domain.Status
	ProcessedCount int
	FailedCount    int
	FinishedAt     time.Time
}

func (e Event) Validate() error {
	if strings.TrimSpace(e.JobID) == "" {
		return fmt.Errorf("job id is required")
	}
	if !e.Outcome.IsTerminal() {
		return fmt.Errorf("outcome %q is not terminal", e.Outcome)
	}
	return nil
}

// Notifier is the outbound port for job completion callbacks.
type Notifier interface {
	JobFinished(ctx context.Context, event Event) error
}

// Noop swallows events. It stands in when no webhook is configured.
type Noop struct{}

var _ Notifier = Noop{}

func (Noop) JobFinished(ctx context.Context, event Event) error { return nil }
