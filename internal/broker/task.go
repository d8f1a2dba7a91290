// Package broker carries import tasks from the orchestrator to the workers
// that execute them.
//
// A Task is a JSON envelope with a type and a payload. Dispatchers publish
// tasks; an Executor runs them on a jobqueue.JobQueue using the handlers
// registered on a Router. Two transports exist: Local runs everything in
// the current process and AMQP moves tasks through a durable RabbitMQ queue
// so any number of worker processes can share the load.
package broker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/tphakala/voterimport/internal/errors"
)

// Task is the unit of work exchanged over a transport.
type Task struct {
	ID        string          `json:"id"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Dispatcher publishes tasks. It is what the orchestrator depends on.
type Dispatcher interface {
	Dispatch(ctx context.Context, taskType string, payload any) (string, error)
}

// NewTask wraps payload in an envelope with a fresh id.
func NewTask(taskType string, payload any) (*Task, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, errors.New(err).
			Component("broker").
			Category(errors.CategoryValidation).
			Context("operation", "encode_task").
			Context("task_type", taskType).
			Build()
	}
	return &Task{
		ID:        uuid.NewString(),
		Type:      taskType,
		Payload:   body,
		CreatedAt: time.Now().UTC(),
	}, nil
}

// Decode unmarshals the task payload into T.
func Decode[T any](task *Task) (T, error) {
	var v T
	if err := json.Unmarshal(task.Payload, &v); err != nil {
		return v, errors.New(err).
			Component("broker").
			Category(errors.CategoryValidation).
			Context("operation", "decode_task").
			Context("task_type", task.Type).
			Context("task_id", task.ID).
			Build()
	}
	return v, nil
}

func encodeTask(task *Task) ([]byte, error) {
	return json.Marshal(task)
}

func decodeTask(body []byte) (*Task, error) {
	var task Task
	if err := json.Unmarshal(body, &task); err != nil {
		return nil, err
	}
	if task.Type == "" {
		return nil, errors.NewStd("task has no type")
	}
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	return &task, nil
}
