package redis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jpaulsen/stampede/internal/cache"
	goredis "github.com/redis/go-redis/v9"
)

const (
	statusKeyPrefix  = "stampede:status:"
	defaultStatusTTL = 5 * time.Second
)

var _ cache.StatusCache = (*StatusCache)(nil)

// StatusCache keeps job status snapshots in Redis with a short TTL. All API
// replicas share the same entries, so invalidation from one process is seen
// by every other.
type StatusCache struct {
	client *goredis.Client
	ttl    time.Duration
}

func NewStatusCache(client *goredis.Client, ttl time.Duration) (*StatusCache, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if ttl <= 0 {
		ttl = defaultStatusTTL
	}

	return &StatusCache{client: client, ttl: ttl}, nil
}

func (c *StatusCache) Get(ctx context.Context, jobID string) ([]byte, bool, error) {
	key, err := c.key(jobID)
	if err != nil {
		return nil, false, err
	}

	payload, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read status cache: %w", err)
	}
	return payload, true, nil
}

func (c *StatusCache) Set(ctx context.Context, jobID string, payload []byte) error {
	key, err := c.key(jobID)
	if err != nil {
		return err
	}

	if err := c.client.Set(ctx, key, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write status cache: %w", err)
	}
	return nil
}

func (c *StatusCache) Invalidate(ctx context.Context, jobID string) error {
	key, err := c.key(jobID)
	if err != nil {
		return err
	}

	if err := c.client.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("failed to invalidate status cache: %w", err)
	}
	return nil
}

func (c *StatusCache) key(jobID string) (string, error) {
	jobID = strings.TrimSpace(jobID)
	if jobID == "" {
		return "", fmt.Errorf("job id is required")
	}
	return statusKeyPrefix + jobID, nil
}
