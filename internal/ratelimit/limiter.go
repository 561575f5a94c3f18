package ratelimit

import "context"

// RateLimiter caps how many operations per second a named scope may perform
// across all worker processes sharing the backing store.
type RateLimiter interface {
	Allow(ctx context.Context, scope string) (bool, error)
	Wait(ctx context.Context, scope string) error
}

// Noop admits everything. Used when throttling is disabled.
type Noop struct{}

func (Noop) Allow(_ context.Context, _ string) (bool, error) { return true, nil }

func (Noop) Wait(_ context.Context, _ string) error { return nil }
