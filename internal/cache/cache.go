package cache

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"server/internal/domain"
)

// JobStatusCache keeps short-lived job status snapshots so the mobile client
// can poll without hitting the database. All operations are best effort; a nil
// cache is a valid no-op.
type JobStatusCache struct {
	client *redis.Client
	ttl    time.Duration
}

// New connects to Redis using a URL. An empty URL yields a nil cache.
func New(redisURL string, ttl time.Duration) (*JobStatusCache, error) {
	if redisURL == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	return &JobStatusCache{client: redis.NewClient(opts), ttl: ttl}, nil
}

func statusKey(jobID string) string {
	return "job:status:" + jobID
}

// SetStatus records the latest status for a job.
func (c *JobStatusCache) SetStatus(ctx context.Context, jobID string, status domain.JobStatus) error {
	if c == nil {
		return nil
	}
	return c.client.Set(ctx, statusKey(jobID), string(status), c.ttl).Err()
}

// GetStatus returns the cached status, reporting whether one was present.
func (c *JobStatusCache) GetStatus(ctx context.Context, jobID string) (domain.JobStatus, bool, error) {
	if c == nil {
		return "", false, nil
	}
	val, err := c.client.Get(ctx, statusKey(jobID)).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return domain.JobStatus(val), true, nil
}

// Invalidate drops the cached status, e.g. after deletion.
func (c *JobStatusCache) Invalidate(ctx context.Context, jobID string) error {
	if c == nil {
		return nil
	}
	return c.client.Del(ctx, statusKey(jobID)).Err()
}

// Ping verifies connectivity at startup.
func (c *JobStatusCache) Ping(ctx context.Context) error {
	if c == nil {
		return nil
	}
	return c.client.Ping(ctx).Err()
}
