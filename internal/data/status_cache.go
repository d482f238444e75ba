package data

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pressroom/pressroom/internal/domain/model"
)

const statusCacheKeyPrefix = "pressroom:job_status:"

// StatusCache caches status responses for terminal jobs in Redis. Terminal
// states never change, so a cached record can only go stale by deletion
// (reaper retention), which the TTL covers.
type StatusCache struct {
	client redis.UniversalClient
	ttl    time.Duration
}

// NewStatusCache creates a StatusCache. ttl <= 0 falls back to one hour.
func NewStatusCache(client redis.UniversalClient, ttl time.Duration) *StatusCache {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &StatusCache{client: client, ttl: ttl}
}

// Get returns the cached status record for jobID, if present.
func (c *StatusCache) Get(ctx context.Context, jobID string) (*model.JobStatusResponse, bool, error) {
	if jobID == "" {
		return nil, false, errors.New("job id cannot be empty")
	}

	raw, err := c.client.Get(ctx, statusCacheKeyPrefix+jobID).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("redis get: %w", err)
	}

	var resp model.JobStatusResponse
	if err := json.Unmarshal([]byte(raw), &resp); err != nil {
		// A corrupt entry is dropped rather than served.
		_ = c.client.Del(ctx, statusCacheKeyPrefix+jobID).Err()
		return nil, false, nil
	}
	return &resp, true, nil
}

// Set stores a status record. Only terminal statuses are accepted; callers
// must never cache a record that can still change.
func (c *StatusCache) Set(ctx context.Context, resp *model.JobStatusResponse) error {
	if resp == nil || resp.JobID == "" {
		return errors.New("status response with job id is required")
	}
	if !resp.Status.Terminal() {
		return fmt.Errorf("refusing to cache non-terminal status %q", resp.Status)
	}

	raw, err := json.Marshal(resp)
	if err != nil {
		return fmt.Errorf("marshal status response: %w", err)
	}
	return c.client.Set(ctx, statusCacheKeyPrefix+resp.JobID, raw, c.ttl).Err()
}

// Invalidate removes a cached record. Used by replay, which takes a job out
// of its terminal state.
func (c *StatusCache) Invalidate(ctx context.Context, jobID string) error {
	if jobID == "" {
		return errors.New("job id cannot be empty")
	}
	return c.client.Del(ctx, statusCacheKeyPrefix+jobID).Err()
}

// Health checks the health of the Redis connection.
func (c *StatusCache) Health(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
