package processor

import (
	"context"
	"fmt"
	"time"

	"github.com/equilens/equilens/internal/models"
	"github.com/equilens/equilens/internal/queue"
	"github.com/equilens/equilens/internal/session"
	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
)

// defaultEngineTimeout bounds a single engine invocation so a hung engine
// cannot starve the lane.
const defaultEngineTimeout = 10 * time.Minute

// AnalysisProcessor runs analysis jobs: it flips the session to processing,
// invokes the engine with a deadline, reports coarse progress and records the
// terminal outcome. Attempt-level failures stay inside the queue; the session
// is marked failed only once the lane's attempts are exhausted.
type AnalysisProcessor struct {
	sessions    *session.Store
	engine      AnalysisEngine
	mirror      SessionGuard
	timeout     time.Duration
	maxAttempts int
}

// NewAnalysisProcessor constructs an AnalysisProcessor. maxAttempts must
// match the analysis lane's attempt ceiling.
func NewAnalysisProcessor(sessions *session.Store, engine AnalysisEngine, mirror SessionGuard, timeout time.Duration, maxAttempts int) *AnalysisProcessor {
	if timeout <= 0 {
		timeout = defaultEngineTimeout
	}
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &AnalysisProcessor{
		sessions:    sessions,
		engine:      engine,
		mirror:      mirror,
		timeout:     timeout,
		maxAttempts: maxAttempts,
	}
}

// Handle processes one analysis job.
func (p *AnalysisProcessor) Handle(ctx context.Context, job *queue.Job[queue.AnalysisJob]) error {
	payload := job.Payload

	if ok, errClaim := p.claim(ctx, job); errClaim != nil {
		if job.Attempt >= p.maxAttempts {
			// Last attempt; the guard must not outlive the job.
			p.releaseGuard(ctx, payload.SessionID)
		}
		return errClaim
	} else if !ok {
		// Session was cancelled or deleted before work started; drop the job.
		p.releaseGuard(ctx, payload.SessionID)
		return nil
	}

	job.SetProgress(10)

	result, errAnalyze := p.invokeEngine(ctx, job)
	if errAnalyze != nil {
		if queue.IsFatal(errAnalyze) || job.Attempt >= p.maxAttempts {
			p.failSession(ctx, payload.SessionID, errAnalyze)
			p.releaseGuard(ctx, payload.SessionID)
		}
		return errAnalyze
	}

	changed, errComplete := p.sessions.MarkCompleted(ctx, payload.SessionID, result)
	if errComplete != nil {
		return errComplete
	}
	if !changed {
		log.Infof("analysis session %d finished after cancellation; result dropped", payload.SessionID)
	}
	p.releaseGuard(ctx, payload.SessionID)
	return nil
}

// claim moves the session into processing. On retry attempts the session is
// already processing; anything else means the job is stale.
func (p *AnalysisProcessor) claim(ctx context.Context, job *queue.Job[queue.AnalysisJob]) (bool, error) {
	changed, errMark := p.sessions.MarkProcessing(ctx, job.Payload.SessionID)
	if errMark != nil {
		return false, errMark
	}
	if changed {
		return true, nil
	}

	record, errGet := p.sessions.Get(ctx, job.Payload.SessionID)
	if errGet != nil {
		return false, nil
	}
	return record.Status == models.SessionStatusProcessing && job.Attempt > 1, nil
}

// invokeEngine calls the analysis engine under a deadline while climbing the
// job's progress toward 90.
func (p *AnalysisProcessor) invokeEngine(ctx context.Context, job *queue.Job[queue.AnalysisJob]) (datatypes.JSON, error) {
	engineCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	type engineResult struct {
		payload datatypes.JSON
		err     error
	}
	done := make(chan engineResult, 1)
	go func() {
		payload, errAnalyze := p.engine.Analyze(engineCtx, job.Payload.Type, job.Payload.InputMediaURLs)
		done <- engineResult{payload: payload, err: errAnalyze}
	}()

	ticker := time.NewTicker(p.timeout / 20)
	defer ticker.Stop()

	progress := 10
	for {
		select {
		case res := <-done:
			if res.err != nil {
				return nil, fmt.Errorf("analysis engine: %w", res.err)
			}
			job.SetProgress(90)
			return res.payload, nil
		case <-ticker.C:
			if progress < 90 {
				progress += 5
				job.SetProgress(progress)
			}
		case <-engineCtx.Done():
			return nil, fmt.Errorf("analysis engine: %w", engineCtx.Err())
		}
	}
}

// failSession records the terminal failure on the session.
func (p *AnalysisProcessor) failSession(ctx context.Context, sessionID uint64, cause error) {
	changed, errFail := p.sessions.MarkFailed(ctx, sessionID, cause.Error())
	if errFail != nil {
		log.WithError(errFail).Warnf("analysis session %d: mark failed", sessionID)
		return
	}
	if !changed {
		log.Infof("analysis session %d already left processing; failure not recorded", sessionID)
	}
}

// releaseGuard frees the cross-process in-flight guard for a session.
func (p *AnalysisProcessor) releaseGuard(ctx context.Context, sessionID uint64) {
	if p.mirror == nil {
		return
	}
	if errRelease := p.mirror.ReleaseSessionGuard(ctx, sessionID); errRelease != nil {
		log.WithError(errRelease).Warnf("analysis session %d: release in-flight guard", sessionID)
	}
}
