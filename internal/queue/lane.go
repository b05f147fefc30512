// Package queue provides the in-process job lanes behind the analysis,
// report and notification processors. Each lane orders ready jobs by
// ascending priority (FIFO within a priority), retries failures with
// exponential backoff up to an attempt ceiling, and keeps terminal records
// for introspection until cleanup purges them.
package queue

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Queue-level errors.
var (
	// ErrDuplicateJob rejects an enqueue whose guard key is already in flight.
	ErrDuplicateJob = errors.New("queue: job already in flight")
	// ErrNotStarted rejects an enqueue on a lane that is not running.
	ErrNotStarted = errors.New("queue: lane not started")
)

// State tracks a job through the lane.
type State string

// State constants define the lane-side job states.
const (
	StateWaiting   State = "waiting"
	StateActive    State = "active"
	StateDelayed   State = "delayed"
	StateCompleted State = "completed"
	StateFailed    State = "failed"
)

// Counts is the per-lane introspection snapshot.
type Counts struct {
	Waiting   int `json:"waiting"`
	Active    int `json:"active"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Delayed   int `json:"delayed"`
}

// Config tunes a lane.
type Config struct {
	Name        string        // Lane name for logs and stats.
	Workers     int           // Concurrent worker goroutines.
	MaxAttempts int           // Attempt ceiling including the first run.
	BackoffBase time.Duration // First retry delay; doubles per attempt.
	Retention   time.Duration // How long terminal job records are kept.
}

// normalize fills zero config fields with lane defaults.
func (c Config) normalize() Config {
	if c.Workers <= 0 {
		c.Workers = 2
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.Retention <= 0 {
		c.Retention = 7 * 24 * time.Hour
	}
	return c
}

// Handler processes one job. A nil return completes the job; an error wrapped
// with Fatal skips remaining attempts; any other error schedules a retry.
type Handler[P any] func(ctx context.Context, job *Job[P]) error

// ProgressFunc observes job progress updates, e.g. to mirror them into a cache.
type ProgressFunc func(jobID uuid.UUID, progress int)

// Job is one unit of work tracked by a lane.
type Job[P any] struct {
	ID       uuid.UUID // Stable handle for progress lookups.
	Payload  P         // Lane-typed envelope.
	Priority int       // Lower values are served first.
	Attempt  int       // 1-based, set before each handler run.

	guardKey   string
	seq        uint64
	state      State
	readyAt    time.Time
	enqueuedAt time.Time
	finishedAt time.Time
	lastError  string

	mu       sync.Mutex
	progress int
	notify   ProgressFunc
}

// SetProgress records handler progress, clamped to 0..100, and notifies the
// lane's progress observer.
func (j *Job[P]) SetProgress(progress int) {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	j.mu.Lock()
	j.progress = progress
	notify := j.notify
	j.mu.Unlock()
	if notify != nil {
		notify(j.ID, progress)
	}
}

// currentProgress reads the job progress.
func (j *Job[P]) currentProgress() int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.progress
}

// Lane runs one typed job queue with its own workers, ordering and retry
// policy. Lanes are constructed explicitly and share nothing.
type Lane[P any] struct {
	cfg        Config
	handler    Handler[P]
	onProgress ProgressFunc

	mu      sync.Mutex
	ready   readyHeap[P]
	jobs    map[uuid.UUID]*Job[P]
	guards  map[string]uuid.UUID
	nextSeq uint64
	running bool

	wake   chan struct{}
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLane constructs a lane; Start must be called before jobs run.
func NewLane[P any](cfg Config, handler Handler[P]) *Lane[P] {
	return &Lane[P]{
		cfg:     cfg.normalize(),
		handler: handler,
		jobs:    make(map[uuid.UUID]*Job[P]),
		guards:  make(map[string]uuid.UUID),
		wake:    make(chan struct{}, 1),
	}
}

// OnProgress registers a progress observer. Call before Start.
func (l *Lane[P]) OnProgress(fn ProgressFunc) { l.onProgress = fn }

// Name returns the lane name.
func (l *Lane[P]) Name() string { return l.cfg.Name }

// Start launches the lane workers.
func (l *Lane[P]) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	runCtx, cancel := context.WithCancel(ctx)

	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		cancel()
		return
	}
	l.running = true
	l.cancel = cancel
	l.mu.Unlock()

	for i := 0; i < l.cfg.Workers; i++ {
		l.wg.Add(1)
		go l.worker(runCtx)
	}
	log.Infof("queue lane %s started (workers=%d max_attempts=%d)", l.cfg.Name, l.cfg.Workers, l.cfg.MaxAttempts)
}

// Stop cancels the workers and waits for in-flight jobs to return.
func (l *Lane[P]) Stop() {
	l.mu.Lock()
	cancel := l.cancel
	l.running = false
	l.cancel = nil
	l.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	l.wg.Wait()
	log.Infof("queue lane %s stopped", l.cfg.Name)
}

// Enqueue schedules a job with the given priority. A non-empty guardKey
// enforces at most one non-terminal job per key.
func (l *Lane[P]) Enqueue(payload P, priority int, guardKey string) (uuid.UUID, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.running {
		return uuid.Nil, ErrNotStarted
	}
	if guardKey != "" {
		if existing, ok := l.guards[guardKey]; ok {
			return existing, fmt.Errorf("%w: %s", ErrDuplicateJob, guardKey)
		}
	}

	l.nextSeq++
	job := &Job[P]{
		ID:         uuid.New(),
		Payload:    payload,
		Priority:   priority,
		guardKey:   guardKey,
		seq:        l.nextSeq,
		state:      StateWaiting,
		enqueuedAt: time.Now().UTC(),
		notify:     l.onProgress,
	}
	l.jobs[job.ID] = job
	if guardKey != "" {
		l.guards[guardKey] = job.ID
	}
	heap.Push(&l.ready, job)
	l.signal()
	return job.ID, nil
}

// Progress returns the progress of a known job.
func (l *Lane[P]) Progress(jobID uuid.UUID) (int, bool) {
	l.mu.Lock()
	job, ok := l.jobs[jobID]
	l.mu.Unlock()
	if !ok {
		return 0, false
	}
	return job.currentProgress(), true
}

// Stats snapshots the lane counters.
func (l *Lane[P]) Stats() Counts {
	l.mu.Lock()
	defer l.mu.Unlock()

	var counts Counts
	for _, job := range l.jobs {
		switch job.state {
		case StateWaiting:
			counts.Waiting++
		case StateActive:
			counts.Active++
		case StateDelayed:
			counts.Delayed++
		case StateCompleted:
			counts.Completed++
		case StateFailed:
			counts.Failed++
		}
	}
	return counts
}

// Cleanup purges terminal job records older than the retention window and
// returns the number removed. A non-positive retention uses the configured
// default.
func (l *Lane[P]) Cleanup(retention time.Duration) int {
	if retention <= 0 {
		retention = l.cfg.Retention
	}
	cutoff := time.Now().UTC().Add(-retention)

	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0
	for id, job := range l.jobs {
		if job.state != StateCompleted && job.state != StateFailed {
			continue
		}
		if job.finishedAt.After(cutoff) {
			continue
		}
		delete(l.jobs, id)
		removed++
	}
	if removed > 0 {
		log.Infof("queue lane %s cleanup removed %d terminal jobs (cutoff=%s)", l.cfg.Name, removed, cutoff.Format(time.RFC3339))
	}
	return removed
}

// signal wakes one idle worker without blocking.
func (l *Lane[P]) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// worker pulls and runs jobs until the lane context is cancelled.
func (l *Lane[P]) worker(ctx context.Context) {
	defer l.wg.Done()
	for {
		job, ok := l.next(ctx)
		if !ok {
			return
		}
		l.run(ctx, job)
	}
}

// next blocks until a ready job is available or the context ends. Due delayed
// jobs are promoted back into the ready heap here.
func (l *Lane[P]) next(ctx context.Context) (*Job[P], bool) {
	for {
		l.mu.Lock()
		now := time.Now().UTC()
		wait := l.promoteDueLocked(now)
		if l.ready.Len() > 0 {
			job := heap.Pop(&l.ready).(*Job[P])
			job.state = StateActive
			job.Attempt++
			l.mu.Unlock()
			return job, true
		}
		l.mu.Unlock()

		if wait <= 0 || wait > time.Second {
			wait = time.Second
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, false
		case <-l.wake:
			timer.Stop()
		case <-timer.C:
		}
	}
}

// promoteDueLocked moves due delayed jobs into the ready heap and returns the
// time until the next delayed job becomes due, if any.
func (l *Lane[P]) promoteDueLocked(now time.Time) time.Duration {
	var wait time.Duration
	for _, job := range l.jobs {
		if job.state != StateDelayed {
			continue
		}
		if !job.readyAt.After(now) {
			job.state = StateWaiting
			heap.Push(&l.ready, job)
			continue
		}
		until := job.readyAt.Sub(now)
		if wait == 0 || until < wait {
			wait = until
		}
	}
	return wait
}

// run invokes the handler once and applies the retry policy to the outcome.
func (l *Lane[P]) run(ctx context.Context, job *Job[P]) {
	errRun := l.safeHandle(ctx, job)
	now := time.Now().UTC()

	if errRun == nil {
		job.SetProgress(100)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if errRun == nil {
		job.state = StateCompleted
		job.finishedAt = now
		l.releaseGuardLocked(job)
		return
	}

	job.lastError = errRun.Error()
	if IsFatal(errRun) || job.Attempt >= l.cfg.MaxAttempts {
		job.state = StateFailed
		job.finishedAt = now
		l.releaseGuardLocked(job)
		log.WithError(errRun).Warnf("queue lane %s job %s failed terminally (attempt=%d)", l.cfg.Name, job.ID, job.Attempt)
		return
	}

	delay := l.backoff(job.Attempt)
	job.state = StateDelayed
	job.readyAt = now.Add(delay)
	log.WithError(errRun).Warnf("queue lane %s job %s retry in %s (attempt=%d)", l.cfg.Name, job.ID, delay, job.Attempt)
}

// safeHandle shields the lane from handler panics.
func (l *Lane[P]) safeHandle(ctx context.Context, job *Job[P]) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("queue: handler panic: %v", r)
		}
	}()
	err = l.handler(ctx, job)
	return
}

// backoff computes the delay before the next attempt: base doubling per
// completed attempt.
func (l *Lane[P]) backoff(attempt int) time.Duration {
	delay := l.cfg.BackoffBase
	for i := 1; i < attempt; i++ {
		delay *= 2
	}
	return delay
}

// releaseGuardLocked frees the in-flight guard key of a terminal job.
func (l *Lane[P]) releaseGuardLocked(job *Job[P]) {
	if job.guardKey == "" {
		return
	}
	if current, ok := l.guards[job.guardKey]; ok && current == job.ID {
		delete(l.guards, job.guardKey)
	}
}

// readyHeap orders waiting jobs by (priority, enqueue sequence).
type readyHeap[P any] []*Job[P]

func (h readyHeap[P]) Len() int { return len(h) }

func (h readyHeap[P]) Less(i, j int) bool {
	if h[i].Priority != h[j].Priority {
		return h[i].Priority < h[j].Priority
	}
	return h[i].seq < h[j].seq
}

func (h readyHeap[P]) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *readyHeap[P]) Push(x any) { *h = append(*h, x.(*Job[P])) }

func (h *readyHeap[P]) Pop() any {
	old := *h
	n := len(old)
	job := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return job
}
