// Package cache mirrors queue job status and progress into Redis so external
// dashboards can poll them without touching the queue, and backs the
// one-in-flight-job-per-session guard. All methods are safe on a nil Mirror;
// the core subsystem runs unchanged when Redis is not configured.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// statusTTL bounds how long mirrored job state outlives the job.
const statusTTL = 24 * time.Hour

// Mirror is a thin Redis client for queue-side bookkeeping.
type Mirror struct {
	client *redis.Client
}

// New connects a Mirror from a Redis URL.
func New(redisURL string) (*Mirror, error) {
	opts, errParse := redis.ParseURL(redisURL)
	if errParse != nil {
		return nil, fmt.Errorf("cache: parse redis url: %w", errParse)
	}
	return &Mirror{client: redis.NewClient(opts)}, nil
}

// Ping verifies connectivity.
func (m *Mirror) Ping(ctx context.Context) error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Ping(ctx).Err()
}

// Close releases the underlying client.
func (m *Mirror) Close() error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Close()
}

// SetJobProgress mirrors a job's progress percentage.
func (m *Mirror) SetJobProgress(ctx context.Context, lane string, jobID uuid.UUID, progress int) error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Set(ctx, jobProgressKey(lane, jobID), progress, statusTTL).Err()
}

// JobProgress reads a mirrored progress value.
func (m *Mirror) JobProgress(ctx context.Context, lane string, jobID uuid.UUID) (int, bool, error) {
	if m == nil || m.client == nil {
		return 0, false, nil
	}
	val, errGet := m.client.Get(ctx, jobProgressKey(lane, jobID)).Int()
	if errGet == redis.Nil {
		return 0, false, nil
	}
	if errGet != nil {
		return 0, false, errGet
	}
	return val, true, nil
}

// AcquireSessionGuard claims the in-flight slot for a session. It returns
// false when another job already holds it.
func (m *Mirror) AcquireSessionGuard(ctx context.Context, sessionID uint64, ttl time.Duration) (bool, error) {
	if m == nil || m.client == nil {
		return true, nil
	}
	if ttl <= 0 {
		ttl = statusTTL
	}
	return m.client.SetNX(ctx, sessionGuardKey(sessionID), 1, ttl).Result()
}

// ReleaseSessionGuard frees the in-flight slot for a session.
func (m *Mirror) ReleaseSessionGuard(ctx context.Context, sessionID uint64) error {
	if m == nil || m.client == nil {
		return nil
	}
	return m.client.Del(ctx, sessionGuardKey(sessionID)).Err()
}

func jobProgressKey(lane string, jobID uuid.UUID) string {
	return fmt.Sprintf("equilens:queue:%s:progress:%s", lane, jobID)
}

func sessionGuardKey(sessionID uint64) string {
	return fmt.Sprintf("equilens:session:inflight:%d", sessionID)
}
