package broker

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/jobqueue"
)

// fullQueueBackoff is how long Local.Dispatch waits before retrying an
// enqueue refused by a full queue.
const fullQueueBackoff = 50 * time.Millisecond

// Local dispatches tasks straight into an in-process Executor.
type Local struct {
	exec   Submitter
	routes map[string]Submitter
}

// LocalOption configures a Local transport.
type LocalOption func(*Local)

// WithRoute sends taskType to s instead of the default executor. A task whose
// handler dispatches further tasks must not share a queue with them: once
// every worker slot holds a handler waiting on a full queue, nothing drains.
func WithRoute(taskType string, s Submitter) LocalOption {
	return func(l *Local) { l.routes[taskType] = s }
}

// NewLocal returns a transport that submits to exec.
func NewLocal(exec Submitter, opts ...LocalOption) *Local {
	l := &Local{exec: exec, routes: make(map[string]Submitter)}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Dispatch submits the task, blocking while the queue is full.
func (l *Local) Dispatch(ctx context.Context, taskType string, payload any) (string, error) {
	task, err := NewTask(taskType, payload)
	if err != nil {
		return "", err
	}

	exec := l.exec
	if routed, ok := l.routes[taskType]; ok {
		exec = routed
	}

	for {
		err := exec.Submit(task, nil)
		if err == nil {
			return task.ID, nil
		}
		if !stderrors.Is(err, jobqueue.ErrQueueFull) {
			return "", dispatchError(err, task)
		}
		select {
		case <-ctx.Done():
			return "", dispatchError(ctx.Err(), task)
		case <-time.After(fullQueueBackoff):
		}
	}
}

// Close is a no-op; the executor's queue is owned by the caller.
func (l *Local) Close() error { return nil }

func dispatchError(err error, task *Task) error {
	return errors.New(err).
		Component("broker").
		Category(errors.CategoryBroker).
		Context("operation", "dispatch").
		Context("task_type", task.Type).
		Context("task_id", task.ID).
		Build()
}
