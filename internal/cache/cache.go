package cache

import "context"

// StatusCache remembers recently served job status snapshots so that hot
// polling clients do not turn every request into database reads. Entries are
// short lived and invalidated on every state change, which keeps staleness
// bounded by the TTL in the worst case.
type StatusCache interface {
	// Get returns the cached snapshot for a job. The second return value
	// reports whether the entry was present.
	Get(ctx context.Context, jobID string) ([]byte, bool, error)

	// Set stores a snapshot under the cache's TTL.
	Set(ctx context.Context, jobID string, payload []byte) error

	// Invalidate drops a job's snapshot. Missing entries are not an error.
	Invalidate(ctx context.Context, jobID string) error
}

// Noop satisfies StatusCache without caching anything. It keeps callers free
// of nil checks when caching is disabled.
type Noop struct{}

var _ StatusCache = Noop{}

func (Noop) Get(ctx context.Context, jobID string) ([]byte, bool, error) { return nil, false, nil }

func (Noop) Set(ctx context.Context, jobID string, payload []byte) error { return nil }

func (Noop) Invalidate(ctx context.Context, jobID string) error { return nil }
