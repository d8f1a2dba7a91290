package broker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/jobqueue"
	"github.com/tphakala/voterimport/internal/logger"
)

// ErrUnknownTask is returned by Submit for a task type with no handler.
var ErrUnknownTask = errors.NewStd("no handler registered for task type")

// exhaustedTimeout bounds an ExhaustedFunc call. The job context is gone by
// the time it runs.
const exhaustedTimeout = 30 * time.Second

// HandlerFunc executes one task attempt. Returning an error wrapped with
// jobqueue.Permanent stops further retries.
type HandlerFunc func(ctx context.Context, task *Task) error

// ExhaustedFunc is called once when a task fails for good.
type ExhaustedFunc func(ctx context.Context, task *Task, cause error)

// Router maps task types to handlers.
type Router struct {
	mu        sync.RWMutex
	handlers  map[string]HandlerFunc
	exhausted map[string]ExhaustedFunc
}

// NewRouter returns an empty router.
func NewRouter() *Router {
	return &Router{
		handlers:  make(map[string]HandlerFunc),
		exhausted: make(map[string]ExhaustedFunc),
	}
}

// Handle registers h for taskType, replacing any previous handler.
func (r *Router) Handle(taskType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

// OnExhausted registers f to run when a task of taskType fails permanently.
func (r *Router) OnExhausted(taskType string, f ExhaustedFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.exhausted[taskType] = f
}

func (r *Router) lookup(taskType string) (HandlerFunc, ExhaustedFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[taskType]
	return h, r.exhausted[taskType], ok
}

// Submitter accepts a decoded task for execution. done is called once the
// task reaches a terminal state.
type Submitter interface {
	Submit(task *Task, done func(job *jobqueue.Job)) error
}

// Executor runs tasks on a job queue with a fixed retry budget.
type Executor struct {
	queue  *jobqueue.JobQueue
	router *Router
	retry  jobqueue.RetryConfig
	log    logger.Logger
}

// NewExecutor wires a router to a started or soon to be started queue.
func NewExecutor(queue *jobqueue.JobQueue, router *Router, retry jobqueue.RetryConfig) *Executor {
	return &Executor{
		queue:  queue,
		router: router,
		retry:  retry,
		log:    GetLogger(),
	}
}

// Queue returns the underlying job queue.
func (e *Executor) Queue() *jobqueue.JobQueue { return e.queue }

// Submit enqueues task. The returned error is ErrUnknownTask or one of the
// jobqueue enqueue errors.
func (e *Executor) Submit(task *Task, done func(job *jobqueue.Job)) error {
	handler, onExhausted, ok := e.router.lookup(task.Type)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTask, task.Type)
	}

	hook := func(job *jobqueue.Job) {
		if job.Status == jobqueue.JobStatusFailed && onExhausted != nil {
			ctx, cancel := context.WithTimeout(context.Background(), exhaustedTimeout)
			ctx = logger.WithTraceID(ctx, job.ID)
			onExhausted(ctx, task, job.LastError)
			cancel()
		}
		if done != nil {
			done(job)
		}
	}

	_, err := e.queue.Enqueue(task.Type, &taskAction{task: task, handler: handler}, task, e.retry, hook)
	return err
}

type taskAction struct {
	task    *Task
	handler HandlerFunc
}

func (a *taskAction) Execute(ctx context.Context, _ any) error {
	return a.handler(ctx, a.task)
}

func (a *taskAction) Description() string {
	return a.task.Type + " " + a.task.ID
}
