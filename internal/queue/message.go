package queue

import (
	"fmt"
	"strings"
)

// JobMessage is the work queue payload. The wire form is the bare job ID so
// cancellation can remove a queued job by exact value match.
type JobMessage struct {
	JobID string
}

func (m JobMessage) Validate() error {
	if strings.TrimSpace(m.JobID) == "" {
		return fmt.Errorf("jobId is required")
	}
	if strings.ContainsAny(m.JobID, " \t\n") {
		return fmt.Errorf("jobId must not contain whitespace")
	}
	return nil
}
