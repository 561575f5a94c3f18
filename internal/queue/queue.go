package queue

import "context"

// Enqueuer publishes job messages onto the work queue.
type Enqueuer interface {
	Enqueue(ctx context.Context, msg JobMessage) error
}

// Remover takes a not-yet-claimed job back off the work queue. Removal is
// best effort: false with a nil error means a worker got there first, and the
// durable job record stays the source of truth either way.
type Remover interface {
	TryRemove(ctx context.Context, jobID string) (bool, error)
}

// MessageHandler handles a consumed queue message.
type MessageHandler func(ctx context.Context, msg JobMessage) error

// Consumer consumes job messages from the work queue until the context ends.
type Consumer interface {
	Consume(ctx context.Context, handler MessageHandler) error
}
