package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	defaultQueueKey   = "stampede:jobs"
	defaultPopTimeout = 5 * time.Second
	errorBackoff      = time.Second
)

var (
	_ Enqueuer = (*RedisQueue)(nil)
	_ Remover  = (*RedisQueue)(nil)
	_ Consumer = (*RedisQueue)(nil)
)

// RedisQueue is a FIFO work queue on a Redis list. Producers LPUSH job IDs,
// consumers BRPOP them, and cancellation LREMs a still-queued ID. The Redis
// client is shared with the rest of the process and owned by the caller.
type RedisQueue struct {
	client     *goredis.Client
	key        string
	popTimeout time.Duration
	logger     *zap.Logger
}

func NewRedisQueue(client *goredis.Client, logger *zap.Logger) (*RedisQueue, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &RedisQueue{
		client:     client,
		key:        defaultQueueKey,
		popTimeout: defaultPopTimeout,
		logger:     logger,
	}, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, msg JobMessage) error {
	if q == nil || q.client == nil {
		return fmt.Errorf("queue is not initialized")
	}
	if err := msg.Validate(); err != nil {
		return fmt.Errorf("invalid job message: %w", err)
	}

	if err := q.client.LPush(ctx, q.key, msg.JobID).Err(); err != nil {
		return fmt.Errorf("failed to enqueue job %q: %w", msg.JobID, err)
	}
	return nil
}

// TryRemove removes every queued occurrence of the job ID. The reconciler may
// have re-published a job, so duplicates are swept in one call.
func (q *RedisQueue) TryRemove(ctx context.Context, jobID string) (bool, error) {
	if q == nil || q.client == nil {
		return false, fmt.Errorf("queue is not initialized")
	}

	removed, err := q.client.LRem(ctx, q.key, 0, jobID).Result()
	if err != nil {
		return false, fmt.Errorf("failed to remove job %q from queue: %w", jobID, err)
	}
	return removed > 0, nil
}

func (q *RedisQueue) Consume(ctx context.Context, handler MessageHandler) error {
	if q == nil || q.client == nil {
		return fmt.Errorf("queue is not initialized")
	}
	if handler == nil {
		return fmt.Errorf("message handler is required")
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		res, err := q.client.BRPop(ctx, q.popTimeout, q.key).Result()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}

			q.logger.Warn("queue pop failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(errorBackoff):
			}
			continue
		}

		// BRPOP replies [key, member].
		if len(res) != 2 {
			continue
		}

		msg := JobMessage{JobID: res[1]}
		if err := msg.Validate(); err != nil {
			q.logger.Warn("dropping malformed queue member",
				zap.Error(err),
				zap.String("member", res[1]),
			)
			continue
		}

		if err := handler(ctx, msg); err != nil {
			q.logger.Error("job handler failed",
				zap.String("jobId", msg.JobID),
				zap.Error(err),
			)
		}
	}
}

// Depth reports how many jobs are waiting. Used by readiness reporting.
func (q *RedisQueue) Depth(ctx context.Context) (int64, error) {
	if q == nil || q.client == nil {
		return 0, fmt.Errorf("queue is not initialized")
	}
	return q.client.LLen(ctx, q.key).Result()
}
