package broker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tphakala/voterimport/internal/jobqueue"
)

type chunkPayload struct {
	UploadID   string `json:"upload_id"`
	ChunkIndex int    `json:"chunk_index"`
}

func fastRetry(maxRetries int) jobqueue.RetryConfig {
	return jobqueue.RetryConfig{
		Enabled:      true,
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func newExecutor(t *testing.T, router *Router, retries int) *Executor {
	t.Helper()
	q := jobqueue.NewJobQueue(jobqueue.WithProcessingInterval(5 * time.Millisecond))
	q.Start(context.Background())
	t.Cleanup(func() { require.NoError(t, q.Stop()) })
	return NewExecutor(q, router, fastRetry(retries))
}

func TestTaskRoundTrip(t *testing.T) {
	task, err := NewTask("import_batch", chunkPayload{UploadID: "u-1", ChunkIndex: 4})
	require.NoError(t, err)
	assert.NotEmpty(t, task.ID)

	body, err := encodeTask(task)
	require.NoError(t, err)
	decoded, err := decodeTask(body)
	require.NoError(t, err)
	assert.Equal(t, task.ID, decoded.ID)

	p, err := Decode[chunkPayload](decoded)
	require.NoError(t, err)
	assert.Equal(t, chunkPayload{UploadID: "u-1", ChunkIndex: 4}, p)
}

func TestDecodeTaskRejectsMissingType(t *testing.T) {
	_, err := decodeTask([]byte(`{"id":"x","payload":{}}`))
	require.Error(t, err)

	_, err = decodeTask([]byte(`not json`))
	require.Error(t, err)
}

func TestLocalDispatchRunsHandler(t *testing.T) {
	router := NewRouter()
	got := make(chan chunkPayload, 1)
	router.Handle("import_batch", func(_ context.Context, task *Task) error {
		p, err := Decode[chunkPayload](task)
		if err != nil {
			return err
		}
		got <- p
		return nil
	})

	local := NewLocal(newExecutor(t, router, 3))
	id, err := local.Dispatch(context.Background(), "import_batch", chunkPayload{UploadID: "u-2", ChunkIndex: 1})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case p := <-got:
		assert.Equal(t, 1, p.ChunkIndex)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "handler not called")
	}
}

func TestLocalDispatchUnknownType(t *testing.T) {
	local := NewLocal(newExecutor(t, NewRouter(), 0))
	_, err := local.Dispatch(context.Background(), "import_everything", struct{}{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrUnknownTask)
}

// typeRecorder remembers the task types submitted to it.
type typeRecorder struct {
	mu    sync.Mutex
	types []string
}

func (r *typeRecorder) Submit(task *Task, _ func(*jobqueue.Job)) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.types = append(r.types, task.Type)
	return nil
}

func TestLocalRoutesTaskTypes(t *testing.T) {
	batches, files := &typeRecorder{}, &typeRecorder{}
	local := NewLocal(batches, WithRoute("import_file", files))
	ctx := context.Background()

	for _, typ := range []string{"import_file", "import_batch", "import_batch"} {
		_, err := local.Dispatch(ctx, typ, struct{}{})
		require.NoError(t, err)
	}

	assert.Equal(t, []string{"import_file"}, files.types)
	assert.Equal(t, []string{"import_batch", "import_batch"}, batches.types)
}

func TestExhaustedHookRunsOnce(t *testing.T) {
	router := NewRouter()
	var attempts atomic.Int32
	router.Handle("import_batch", func(context.Context, *Task) error {
		attempts.Add(1)
		return errors.New("database is locked")
	})

	exhausted := make(chan error, 2)
	router.OnExhausted("import_batch", func(_ context.Context, task *Task, cause error) {
		assert.Equal(t, "import_batch", task.Type)
		exhausted <- cause
	})

	exec := newExecutor(t, router, 2)
	task, err := NewTask("import_batch", chunkPayload{UploadID: "u-3"})
	require.NoError(t, err)

	done := make(chan *jobqueue.Job, 1)
	require.NoError(t, exec.Submit(task, func(j *jobqueue.Job) { done <- j }))

	select {
	case job := <-done:
		assert.Equal(t, jobqueue.JobStatusFailed, job.Status)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "task did not finish")
	}
	assert.Equal(t, int32(3), attempts.Load())
	require.Len(t, exhausted, 1)
	assert.ErrorContains(t, <-exhausted, "database is locked")
}

func TestPermanentErrorSkipsRetries(t *testing.T) {
	router := NewRouter()
	var attempts atomic.Int32
	router.Handle("import_file", func(context.Context, *Task) error {
		attempts.Add(1)
		return jobqueue.Permanent(errors.New("missing column Age"))
	})

	exec := newExecutor(t, router, 3)
	task, err := NewTask("import_file", struct{}{})
	require.NoError(t, err)

	done := make(chan *jobqueue.Job, 1)
	require.NoError(t, exec.Submit(task, func(j *jobqueue.Job) { done <- j }))
	job := <-done
	assert.Equal(t, jobqueue.JobStatusFailed, job.Status)
	assert.Equal(t, int32(1), attempts.Load())
}

// fakeAck records acknowledgements made through amqp.Delivery.
type fakeAck struct {
	mu       sync.Mutex
	acked    []uint64
	nacked   []uint64
	requeued bool
	rejected []uint64
	ackCh    chan uint64
}

func newFakeAck() *fakeAck { return &fakeAck{ackCh: make(chan uint64, 4)} }

func (f *fakeAck) Ack(tag uint64, _ bool) error {
	f.mu.Lock()
	f.acked = append(f.acked, tag)
	f.mu.Unlock()
	f.ackCh <- tag
	return nil
}

func (f *fakeAck) Nack(tag uint64, _ bool, requeue bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nacked = append(f.nacked, tag)
	f.requeued = requeue
	return nil
}

func (f *fakeAck) Reject(tag uint64, _ bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rejected = append(f.rejected, tag)
	return nil
}

// stubSubmitter runs tasks synchronously or refuses them.
type stubSubmitter struct {
	err error
}

func (s stubSubmitter) Submit(_ *Task, done func(*jobqueue.Job)) error {
	if s.err != nil {
		return s.err
	}
	done(&jobqueue.Job{Status: jobqueue.JobStatusCompleted})
	return nil
}

func newTestAMQP() *AMQP {
	return &AMQP{queue: "imports", prefetch: 1, log: GetLogger()}
}

func delivery(t *testing.T, ack amqp.Acknowledger, tag uint64, body []byte) amqp.Delivery {
	t.Helper()
	return amqp.Delivery{Acknowledger: ack, DeliveryTag: tag, Body: body}
}

func TestHandleDeliveryAcksAfterTerminalState(t *testing.T) {
	router := NewRouter()
	release := make(chan struct{})
	router.Handle("import_batch", func(context.Context, *Task) error {
		<-release
		return nil
	})
	exec := newExecutor(t, router, 0)

	task, err := NewTask("import_batch", chunkPayload{UploadID: "u-4"})
	require.NoError(t, err)
	body, err := encodeTask(task)
	require.NoError(t, err)

	ack := newFakeAck()
	newTestAMQP().handleDelivery(exec, delivery(t, ack, 7, body))

	select {
	case <-ack.ackCh:
		require.FailNow(t, "acked before the task finished")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	select {
	case tag := <-ack.ackCh:
		assert.Equal(t, uint64(7), tag)
	case <-time.After(5 * time.Second):
		require.FailNow(t, "delivery never acked")
	}
}

func TestHandleDeliveryMalformedIsRejected(t *testing.T) {
	ack := newFakeAck()
	newTestAMQP().handleDelivery(stubSubmitter{}, delivery(t, ack, 3, []byte("{")))

	assert.Equal(t, []uint64{3}, ack.rejected)
	assert.Empty(t, ack.acked)
}

func TestHandleDeliveryUnknownTypeIsRejected(t *testing.T) {
	body, err := encodeTask(&Task{ID: "t", Type: "import_everything"})
	require.NoError(t, err)

	ack := newFakeAck()
	newTestAMQP().handleDelivery(stubSubmitter{err: ErrUnknownTask}, delivery(t, ack, 4, body))
	assert.Equal(t, []uint64{4}, ack.rejected)
}

func TestHandleDeliveryRequeuesWhenQueueFull(t *testing.T) {
	body, err := encodeTask(&Task{ID: "t", Type: "import_batch"})
	require.NoError(t, err)

	ack := newFakeAck()
	newTestAMQP().handleDelivery(stubSubmitter{err: jobqueue.ErrQueueFull}, delivery(t, ack, 5, body))
	assert.Equal(t, []uint64{5}, ack.nacked)
	assert.True(t, ack.requeued)
}
