package jobqueue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testTimeout = 5 * time.Second

// fastRetry retries almost immediately so tests stay quick.
func fastRetry(maxRetries int) RetryConfig {
	return RetryConfig{
		Enabled:      true,
		MaxRetries:   maxRetries,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2,
	}
}

func newTestQueue(t *testing.T, opts ...Option) *JobQueue {
	t.Helper()
	opts = append([]Option{WithProcessingInterval(5 * time.Millisecond)}, opts...)
	q := NewJobQueue(opts...)
	q.Start(context.Background())
	t.Cleanup(func() { require.NoError(t, q.Stop()) })
	return q
}

func waitTerminal(t *testing.T, done <-chan *Job) *Job {
	t.Helper()
	select {
	case job := <-done:
		return job
	case <-time.After(testTimeout):
		require.FailNow(t, "job did not reach a terminal state")
		return nil
	}
}

func terminalChan() (chan *Job, TerminalHook) {
	ch := make(chan *Job, 1)
	return ch, func(j *Job) { ch <- j }
}

func TestJobCompletes(t *testing.T) {
	q := newTestQueue(t)
	done, hook := terminalChan()

	var got atomic.Value
	action := ActionFunc(func(_ context.Context, data any) error {
		got.Store(data)
		return nil
	})
	_, err := q.Enqueue("import_batch", action, "chunk-0", fastRetry(3), hook)
	require.NoError(t, err)

	job := waitTerminal(t, done)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Equal(t, "chunk-0", got.Load())

	stats := q.GetStats()
	assert.Equal(t, 1, stats.SuccessfulJobs)
	assert.Equal(t, 1, stats.TaskStats["import_batch"].Successful)
}

func TestJobRetriesThenSucceeds(t *testing.T) {
	q := newTestQueue(t)
	done, hook := terminalChan()

	var calls atomic.Int32
	action := ActionFunc(func(context.Context, any) error {
		if calls.Add(1) < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	_, err := q.Enqueue("import_batch", action, nil, fastRetry(3), hook)
	require.NoError(t, err)

	job := waitTerminal(t, done)
	assert.Equal(t, JobStatusCompleted, job.Status)
	assert.Equal(t, 3, job.Attempts)
	assert.Equal(t, 2, q.GetStats().TaskStats["import_batch"].Retried)
}

func TestJobExhaustsRetryBudget(t *testing.T) {
	q := newTestQueue(t)
	done, hook := terminalChan()

	var calls atomic.Int32
	action := ActionFunc(func(context.Context, any) error {
		calls.Add(1)
		return errors.New("connection refused")
	})
	_, err := q.Enqueue("import_batch", action, nil, fastRetry(3), hook)
	require.NoError(t, err)

	job := waitTerminal(t, done)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 4, job.Attempts)
	assert.Equal(t, int32(4), calls.Load())
	require.Error(t, job.LastError)
}

func TestPermanentErrorIsNotRetried(t *testing.T) {
	q := newTestQueue(t)
	done, hook := terminalChan()

	var calls atomic.Int32
	action := ActionFunc(func(context.Context, any) error {
		calls.Add(1)
		return Permanent(errors.New("missing required columns: Ward"))
	})
	_, err := q.Enqueue("import_file", action, nil, fastRetry(3), hook)
	require.NoError(t, err)

	job := waitTerminal(t, done)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, int32(1), calls.Load())
	assert.True(t, IsPermanent(job.LastError))
}

func TestJobTimeout(t *testing.T) {
	q := newTestQueue(t, WithJobTimeout(20*time.Millisecond))
	done, hook := terminalChan()

	action := ActionFunc(func(ctx context.Context, _ any) error {
		<-ctx.Done()
		return ctx.Err()
	})
	_, err := q.Enqueue("import_file", action, nil, RetryConfig{}, hook)
	require.NoError(t, err)

	job := waitTerminal(t, done)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.ErrorIs(t, job.LastError, context.DeadlineExceeded)
	assert.Contains(t, job.LastError.Error(), "timed out")
}

func TestPanicBecomesPermanentFailure(t *testing.T) {
	q := newTestQueue(t)
	done, hook := terminalChan()

	action := ActionFunc(func(context.Context, any) error { panic("boom") })
	_, err := q.Enqueue("import_batch", action, nil, fastRetry(3), hook)
	require.NoError(t, err)

	job := waitTerminal(t, done)
	assert.Equal(t, JobStatusFailed, job.Status)
	assert.Equal(t, 1, job.Attempts)
	assert.Contains(t, job.LastError.Error(), "panicked")
}

func TestConcurrencyLimit(t *testing.T) {
	q := newTestQueue(t, WithConcurrency(2))

	var current, peak atomic.Int32
	var wg sync.WaitGroup
	action := ActionFunc(func(context.Context, any) error {
		n := current.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		current.Add(-1)
		return nil
	})

	for range 6 {
		wg.Add(1)
		_, err := q.Enqueue("import_batch", action, nil, RetryConfig{}, func(*Job) { wg.Done() })
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	require.NoError(t, q.Drain(ctx))
	wg.Wait()

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.Equal(t, 6, q.GetStats().SuccessfulJobs)
}

func TestEnqueueRejectsWhenFull(t *testing.T) {
	q := NewJobQueue(WithMaxJobs(1), WithProcessingInterval(time.Hour))
	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop()) }()

	noop := ActionFunc(func(context.Context, any) error { return nil })
	_, err := q.Enqueue("import_batch", noop, nil, RetryConfig{}, nil)
	require.NoError(t, err)

	_, err = q.Enqueue("import_batch", noop, nil, RetryConfig{}, nil)
	require.ErrorIs(t, err, ErrQueueFull)
	assert.Equal(t, 1, q.GetStats().RejectedJobs)
}

func TestEnqueueValidation(t *testing.T) {
	q := NewJobQueue()
	_, err := q.Enqueue("x", ActionFunc(func(context.Context, any) error { return nil }), nil, RetryConfig{}, nil)
	require.ErrorIs(t, err, ErrQueueStopped)

	q.Start(context.Background())
	defer func() { require.NoError(t, q.Stop()) }()
	_, err = q.Enqueue("x", nil, nil, RetryConfig{}, nil)
	require.ErrorIs(t, err, ErrNilAction)
}

func TestStopInterruptsRunningJobs(t *testing.T) {
	q := NewJobQueue(WithProcessingInterval(5 * time.Millisecond))
	q.Start(context.Background())

	started := make(chan struct{})
	action := ActionFunc(func(ctx context.Context, _ any) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	_, err := q.Enqueue("import_file", action, nil, fastRetry(1), nil)
	require.NoError(t, err)

	select {
	case <-started:
	case <-time.After(testTimeout):
		require.FailNow(t, "job never started")
	}
	require.NoError(t, q.StopWithTimeout(testTimeout))
	assert.Zero(t, q.GetStats().FailedJobs)
}

func TestCalculateBackoffDelay(t *testing.T) {
	cfg := RetryConfig{InitialDelay: 10 * time.Second, MaxDelay: 5 * time.Minute, Multiplier: 2}

	first := calculateBackoffDelay(cfg, 1)
	assert.InDelta(t, float64(10*time.Second), float64(first), float64(time.Second))

	second := calculateBackoffDelay(cfg, 2)
	assert.InDelta(t, float64(20*time.Second), float64(second), float64(2*time.Second))

	assert.Equal(t, 5*time.Minute, calculateBackoffDelay(cfg, 10))
}

func TestStatsJSON(t *testing.T) {
	q := newTestQueue(t)
	done, hook := terminalChan()
	_, err := q.Enqueue("import_batch", ActionFunc(func(context.Context, any) error { return nil }), nil, RetryConfig{}, hook)
	require.NoError(t, err)
	waitTerminal(t, done)

	snap := q.GetStats()
	out, err := snap.ToJSON()
	require.NoError(t, err)
	assert.Contains(t, out, `"import_batch"`)
	assert.Contains(t, out, `"successful":1`)
}
