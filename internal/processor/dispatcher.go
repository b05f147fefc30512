package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/equilens/equilens/internal/queue"
)

// guardTTL caps how long a crashed process can hold a session's in-flight
// slot in Redis.
const guardTTL = 2 * time.Hour

// AnalysisLaneDispatcher enqueues analysis jobs with type-derived priority
// and enforces at most one in-flight job per session, both inside the lane
// and, when Redis is configured, across processes.
type AnalysisLaneDispatcher struct {
	lane   *queue.Lane[queue.AnalysisJob]
	mirror SessionGuard
}

// NewAnalysisLaneDispatcher constructs an AnalysisLaneDispatcher.
func NewAnalysisLaneDispatcher(lane *queue.Lane[queue.AnalysisJob], mirror SessionGuard) *AnalysisLaneDispatcher {
	return &AnalysisLaneDispatcher{lane: lane, mirror: mirror}
}

// DispatchAnalysis implements session.AnalysisDispatcher.
func (d *AnalysisLaneDispatcher) DispatchAnalysis(ctx context.Context, job queue.AnalysisJob) error {
	if d.mirror != nil {
		acquired, errAcquire := d.mirror.AcquireSessionGuard(ctx, job.SessionID, guardTTL)
		if errAcquire != nil {
			return fmt.Errorf("dispatch analysis: acquire guard: %w", errAcquire)
		}
		if !acquired {
			return fmt.Errorf("dispatch analysis: %w", queue.ErrDuplicateJob)
		}
	}

	guardKey := fmt.Sprintf("session:%d", job.SessionID)
	if _, errEnqueue := d.lane.Enqueue(job, queue.AnalysisPriority(job.Type), guardKey); errEnqueue != nil {
		if d.mirror != nil {
			_ = d.mirror.ReleaseSessionGuard(ctx, job.SessionID)
		}
		return fmt.Errorf("dispatch analysis: %w", errEnqueue)
	}
	return nil
}
