package jobqueue

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/voterimport/internal/logger"
)

// Defaults used by NewJobQueue.
const (
	DefaultMaxJobs            = 10000
	DefaultConcurrency        = 4
	DefaultJobTimeout         = 15 * time.Minute
	DefaultProcessingInterval = time.Second
)

// Metrics receives job lifecycle events.
type Metrics interface {
	RecordJob(taskType, status string)
	RecordRetry(taskType string)
	RecordJobDuration(taskType string, seconds float64)
	SetQueueDepth(n int)
}

// JobQueue manages a queue of jobs that can be retried
type JobQueue struct {
	jobs               []*Job
	mu                 sync.Mutex
	stats              JobStats
	runningJobs        sync.WaitGroup // Track running jobs for graceful shutdown
	running            int
	finishing          int // terminal hooks still running
	isRunning          bool
	maxJobs            int
	concurrency        int
	jobTimeout         time.Duration
	processingInterval time.Duration
	processCancel      context.CancelFunc
	loopDone           chan struct{}
	log                logger.Logger
	metrics            Metrics
}

// Option configures a JobQueue
type Option func(*JobQueue)

// WithMaxJobs bounds the number of queued jobs.
func WithMaxJobs(n int) Option {
	return func(q *JobQueue) {
		if n > 0 {
			q.maxJobs = n
		}
	}
}

// WithConcurrency bounds the number of jobs executing at once.
func WithConcurrency(n int) Option {
	return func(q *JobQueue) {
		if n > 0 {
			q.concurrency = n
		}
	}
}

// WithJobTimeout sets the per-attempt deadline.
func WithJobTimeout(d time.Duration) Option {
	return func(q *JobQueue) {
		if d > 0 {
			q.jobTimeout = d
		}
	}
}

// WithProcessingInterval sets how often due jobs are picked up.
func WithProcessingInterval(d time.Duration) Option {
	return func(q *JobQueue) {
		if d > 0 {
			q.processingInterval = d
		}
	}
}

// WithLogger sets the logger
func WithLogger(l logger.Logger) Option {
	return func(q *JobQueue) { q.log = l }
}

// WithMetrics sets the metrics sink
func WithMetrics(m Metrics) Option {
	return func(q *JobQueue) { q.metrics = m }
}

// NewJobQueue creates a job queue.
func NewJobQueue(opts ...Option) *JobQueue {
	q := &JobQueue{
		jobs:               make([]*Job, 0),
		maxJobs:            DefaultMaxJobs,
		concurrency:        DefaultConcurrency,
		jobTimeout:         DefaultJobTimeout,
		processingInterval: DefaultProcessingInterval,
		stats:              JobStats{TaskStats: make(map[string]TaskStats)},
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.log == nil {
		q.log = GetLogger()
	}
	return q
}

// Start starts the processing loop. It is a no-op when already running.
func (q *JobQueue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.isRunning {
		return
	}
	q.isRunning = true

	processCtx, cancel := context.WithCancel(ctx)
	q.processCancel = cancel
	q.loopDone = make(chan struct{})
	go q.processJobs(processCtx, q.loopDone)
}

// Stop stops the job queue processing
func (q *JobQueue) Stop() error {
	return q.StopWithTimeout(10 * time.Second)
}

// StopWithTimeout cancels running jobs and waits for them to return.
func (q *JobQueue) StopWithTimeout(timeout time.Duration) error {
	q.mu.Lock()
	if !q.isRunning {
		q.mu.Unlock()
		return nil
	}
	q.isRunning = false
	q.processCancel()
	q.processCancel = nil
	loopDone := q.loopDone
	q.mu.Unlock()

	c := make(chan struct{})
	go func() {
		<-loopDone
		q.runningJobs.Wait()
		close(c)
	}()

	select {
	case <-c:
		return nil
	case <-time.After(timeout):
		return fmt.Errorf("timed out waiting for jobs to complete after %v", timeout)
	}
}

// Enqueue adds a job. onTerminal, when non-nil, is called once the job
// completes or fails for good.
func (q *JobQueue) Enqueue(taskType string, action Action, data any, config RetryConfig, onTerminal TerminalHook) (*Job, error) {
	if action == nil {
		return nil, ErrNilAction
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.isRunning {
		return nil, ErrQueueStopped
	}
	if len(q.jobs) >= q.maxJobs {
		q.stats.RejectedJobs++
		return nil, fmt.Errorf("%w: maximum queue size (%d) reached", ErrQueueFull, q.maxJobs)
	}

	maxAttempts := 1
	if config.Enabled {
		maxAttempts = config.MaxRetries + 1
	}
	now := time.Now()
	job := &Job{
		ID:          uuid.NewString(),
		TaskType:    taskType,
		Action:      action,
		Data:        data,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		NextRetryAt: now,
		Status:      JobStatusPending,
		Config:      config,
		onTerminal:  onTerminal,
	}

	q.jobs = append(q.jobs, job)
	q.stats.TotalJobs++
	if q.metrics != nil {
		q.metrics.SetQueueDepth(len(q.jobs))
	}
	logJobEnqueued(q.log, job)
	return job, nil
}

// processJobs is the main job processing loop
func (q *JobQueue) processJobs(ctx context.Context, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(q.processingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.cleanupFinishedJobs()
			q.processDueJobs(ctx)
		}
	}
}

// cleanupFinishedJobs drops completed and failed jobs from the queue.
func (q *JobQueue) cleanupFinishedJobs() {
	q.mu.Lock()
	defer q.mu.Unlock()

	active := q.jobs[:0]
	for _, job := range q.jobs {
		if !job.Status.IsTerminal() {
			active = append(active, job)
		}
	}
	clear(q.jobs[len(active):])
	q.jobs = active
	if q.metrics != nil {
		q.metrics.SetQueueDepth(len(q.jobs))
	}
}

// calculateBackoffDelay returns the delay before retry number retry (1-based)
// with ±10% jitter, capped at MaxDelay.
func calculateBackoffDelay(config RetryConfig, retry int) time.Duration {
	multiplier := config.Multiplier
	if multiplier < 1 {
		multiplier = 1
	}
	backoff := float64(config.InitialDelay) * math.Pow(multiplier, float64(retry-1))
	backoff *= 0.9 + 0.2*rand.Float64()

	if config.MaxDelay > 0 && backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}
	return time.Duration(backoff)
}

// processDueJobs starts due jobs up to the concurrency limit.
func (q *JobQueue) processDueJobs(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}

	q.mu.Lock()
	var due []*Job
	now := time.Now()
	for _, job := range q.jobs {
		if q.running+len(due) >= q.concurrency {
			break
		}
		if (job.Status == JobStatusPending || job.Status == JobStatusRetrying) && !job.NextRetryAt.After(now) {
			job.Status = JobStatusRunning
			due = append(due, job)
		}
	}
	q.running += len(due)
	q.runningJobs.Add(len(due))
	q.mu.Unlock()

	for _, job := range due {
		go func(j *Job) {
			defer q.runningJobs.Done()
			q.executeJob(ctx, j)
		}(job)
	}
}

// executeJob runs one attempt and schedules a retry or finishes the job.
func (q *JobQueue) executeJob(ctx context.Context, job *Job) {
	q.mu.Lock()
	job.Attempts++
	q.stats.RetryAttempts++
	ts := q.stats.TaskStats[job.TaskType]
	ts.Attempted++
	if job.Attempts > 1 {
		ts.Retried++
	}
	q.stats.TaskStats[job.TaskType] = ts
	q.mu.Unlock()

	if job.Attempts > 1 && q.metrics != nil {
		q.metrics.RecordRetry(job.TaskType)
	}

	jobCtx := logger.WithTraceID(ctx, job.ID)
	logJobStarted(jobCtx, q.log, job)

	execCtx, cancel := context.WithTimeout(jobCtx, q.jobTimeout)
	start := time.Now()
	err := q.runAction(execCtx, job)
	cancel()
	duration := time.Since(start)

	if err != nil && execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		err = fmt.Errorf("job execution timed out after %v: %w", q.jobTimeout, err)
	}

	// A queue shutdown interrupts the attempt; leave the job for the next
	// start rather than burning a retry.
	if err != nil && ctx.Err() != nil {
		q.mu.Lock()
		job.Attempts--
		job.Status = JobStatusRetrying
		q.running--
		q.mu.Unlock()
		return
	}

	var retryIn time.Duration
	q.mu.Lock()
	ts = q.stats.TaskStats[job.TaskType]
	ts.TotalDuration += duration
	ts.MaxDuration = max(ts.MaxDuration, duration)
	switch {
	case err == nil:
		job.Status = JobStatusCompleted
		job.LastError = nil
		q.stats.SuccessfulJobs++
		ts.Successful++
	case job.Attempts < job.MaxAttempts && !IsPermanent(err):
		job.Status = JobStatusRetrying
		job.LastError = err
		retryIn = calculateBackoffDelay(job.Config, job.Attempts)
		job.NextRetryAt = time.Now().Add(retryIn)
		ts.LastError = err.Error()
	default:
		job.Status = JobStatusFailed
		job.LastError = err
		q.stats.FailedJobs++
		ts.Failed++
		ts.LastError = err.Error()
	}
	q.stats.TaskStats[job.TaskType] = ts
	q.running--
	hasHook := job.Status.IsTerminal() && job.onTerminal != nil
	if hasHook {
		q.finishing++
	}
	snapshot := *job
	q.mu.Unlock()

	if q.metrics != nil {
		q.metrics.RecordJobDuration(job.TaskType, duration.Seconds())
	}

	if err == nil {
		logJobCompleted(jobCtx, q.log, &snapshot, duration)
	} else {
		logJobFailed(jobCtx, q.log, &snapshot, err, retryIn)
	}

	if snapshot.Status.IsTerminal() {
		if q.metrics != nil {
			q.metrics.RecordJob(job.TaskType, statusLabel(snapshot.Status))
		}
		if hasHook {
			job.onTerminal(job)
			q.mu.Lock()
			q.finishing--
			q.mu.Unlock()
		}
	}
}

// runAction executes the action, converting a panic into an error.
func (q *JobQueue) runAction(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = Permanent(fmt.Errorf("job execution panicked: %v", r))
		}
	}()
	return job.Action.Execute(ctx, job.Data)
}

func statusLabel(s JobStatus) string {
	if s == JobStatusCompleted {
		return "success"
	}
	return "failed"
}

// Drain blocks until no job is pending, retrying or running and every
// terminal hook has returned, or ctx ends.
func (q *JobQueue) Drain(ctx context.Context) error {
	ticker := time.NewTicker(q.processingInterval)
	defer ticker.Stop()
	for {
		if q.activeJobs() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (q *JobQueue) activeJobs() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.finishing
	for _, job := range q.jobs {
		if !job.Status.IsTerminal() {
			n++
		}
	}
	return n
}

// GetStats returns a snapshot of the current job statistics
func (q *JobQueue) GetStats() JobStatsSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := JobStatsSnapshot{
		JobStats:    q.stats,
		RunningJobs: q.running,
		MaxJobs:     q.maxJobs,
	}
	snap.TaskStats = make(map[string]TaskStats, len(q.stats.TaskStats))
	for k, v := range q.stats.TaskStats {
		snap.TaskStats[k] = v
	}
	for _, job := range q.jobs {
		if job.Status == JobStatusPending || job.Status == JobStatusRetrying {
			snap.PendingJobs++
		}
	}
	return snap
}
