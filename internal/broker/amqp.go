package broker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/tphakala/voterimport/internal/conf"
	"github.com/tphakala/voterimport/internal/errors"
	"github.com/tphakala/voterimport/internal/jobqueue"
	"github.com/tphakala/voterimport/internal/logger"
)

// ErrConsumerClosed is returned by Consume when the broker closes the
// delivery channel.
var ErrConsumerClosed = errors.NewStd("amqp delivery channel closed")

// AMQP publishes tasks to a durable RabbitMQ queue and consumes them into
// an Executor. Deliveries are acknowledged only after the task reaches a
// terminal state, so a worker crash hands unfinished tasks to another
// worker.
type AMQP struct {
	conn     *amqp.Connection
	queue    string
	prefetch int
	log      logger.Logger

	pubMu sync.Mutex
	pubCh *amqp.Channel
}

// DialAMQP connects with retries, declares queue and opens a publishing
// channel.
func DialAMQP(ctx context.Context, settings conf.AMQPSettings, queue string) (*AMQP, error) {
	conn, err := dialRabbit(ctx, settings.URL, settings.DialRetries, settings.DialBackoff)
	if err != nil {
		return nil, amqpError(err, "dial", queue)
	}

	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return nil, amqpError(err, "open_channel", queue)
	}
	if err := declareQueue(ch, queue); err != nil {
		_ = conn.Close()
		return nil, amqpError(err, "declare_queue", queue)
	}

	return &AMQP{
		conn:     conn,
		queue:    queue,
		prefetch: max(settings.Prefetch, 1),
		log:      GetLogger().With(logger.String("queue", queue)),
		pubCh:    ch,
	}, nil
}

// dialRabbit retries amqp.Dial with a linearly growing pause.
func dialRabbit(ctx context.Context, url string, attempts int, backoff time.Duration) (*amqp.Connection, error) {
	attempts = max(attempts, 1)
	var lastErr error
	for i := range attempts {
		conn, err := amqp.Dial(url)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		GetLogger().Warn("amqp dial failed",
			logger.Int("attempt", i+1),
			logger.Int("max_attempts", attempts),
			logger.Error(err))

		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(backoff * time.Duration(i+1)):
		}
	}
	return nil, fmt.Errorf("amqp dial failed after %d attempts: %w", attempts, lastErr)
}

func declareQueue(ch *amqp.Channel, queue string) error {
	_, err := ch.QueueDeclare(queue, true, false, false, false, nil)
	return err
}

// Dispatch publishes a persistent JSON message.
func (a *AMQP) Dispatch(ctx context.Context, taskType string, payload any) (string, error) {
	task, err := NewTask(taskType, payload)
	if err != nil {
		return "", err
	}
	body, err := encodeTask(task)
	if err != nil {
		return "", dispatchError(err, task)
	}

	a.pubMu.Lock()
	err = a.pubCh.PublishWithContext(ctx, "", a.queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    task.ID,
		Type:         task.Type,
		Timestamp:    task.CreatedAt,
		Body:         body,
	})
	a.pubMu.Unlock()
	if err != nil {
		return "", dispatchError(err, task)
	}
	return task.ID, nil
}

// Consume feeds deliveries into exec until ctx is cancelled or the broker
// closes the channel. Prefetch caps the number of unacknowledged tasks held
// by this worker.
func (a *AMQP) Consume(ctx context.Context, exec Submitter) error {
	ch, err := a.conn.Channel()
	if err != nil {
		return amqpError(err, "open_channel", a.queue)
	}
	defer func() { _ = ch.Close() }()

	if err := ch.Qos(a.prefetch, 0, false); err != nil {
		return amqpError(err, "qos", a.queue)
	}
	if err := declareQueue(ch, a.queue); err != nil {
		return amqpError(err, "declare_queue", a.queue)
	}
	deliveries, err := ch.ConsumeWithContext(ctx, a.queue, "", false, false, false, false, nil)
	if err != nil {
		return amqpError(err, "consume", a.queue)
	}

	a.log.Info("consuming tasks", logger.Int("prefetch", a.prefetch))
	for {
		select {
		case <-ctx.Done():
			return nil
		case d, ok := <-deliveries:
			if !ok {
				if ctx.Err() != nil {
					return nil
				}
				return amqpError(ErrConsumerClosed, "consume", a.queue)
			}
			a.handleDelivery(exec, d)
		}
	}
}

func (a *AMQP) handleDelivery(exec Submitter, d amqp.Delivery) {
	task, err := decodeTask(d.Body)
	if err != nil {
		a.log.Error("dropping malformed task message",
			logger.String("message_id", d.MessageId),
			logger.Error(err))
		_ = d.Reject(false)
		return
	}

	err = exec.Submit(task, func(job *jobqueue.Job) {
		if ackErr := d.Ack(false); ackErr != nil {
			a.log.Warn("ack failed",
				logger.String("task_id", task.ID),
				logger.Error(ackErr))
		}
	})
	switch {
	case err == nil:
	case stderrors.Is(err, ErrUnknownTask):
		a.log.Error("dropping task with unknown type",
			logger.String("task_id", task.ID),
			logger.String("task_type", task.Type))
		_ = d.Reject(false)
	default:
		a.log.Warn("requeueing task",
			logger.String("task_id", task.ID),
			logger.String("task_type", task.Type),
			logger.Error(err))
		_ = d.Nack(false, true)
	}
}

// Close closes the publishing channel and the connection.
func (a *AMQP) Close() error {
	a.pubMu.Lock()
	defer a.pubMu.Unlock()
	chErr := a.pubCh.Close()
	connErr := a.conn.Close()
	if connErr != nil && !stderrors.Is(connErr, amqp.ErrClosed) {
		return connErr
	}
	if chErr != nil && !stderrors.Is(chErr, amqp.ErrClosed) {
		return chErr
	}
	return nil
}

func amqpError(err error, operation, queue string) error {
	return errors.New(err).
		Component("broker").
		Category(errors.CategoryBroker).
		Context("operation", operation).
		Context("queue", queue).
		Build()
}
