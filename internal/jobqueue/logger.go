package jobqueue

import (
	"context"
	"time"

	"github.com/tphakala/voterimport/internal/logger"
)

// GetLogger returns the jobqueue module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("jobqueue")
}

func logJobEnqueued(log logger.Logger, job *Job) {
	log.Debug("job enqueued",
		logger.String("job_id", job.ID),
		logger.String("task_type", job.TaskType))
}

func logJobStarted(ctx context.Context, log logger.Logger, job *Job) {
	log.WithContext(ctx).Debug("job started",
		logger.String("task_type", job.TaskType),
		logger.Int("attempt", job.Attempts),
		logger.Int("max_attempts", job.MaxAttempts))
}

func logJobCompleted(ctx context.Context, log logger.Logger, job *Job, duration time.Duration) {
	log.WithContext(ctx).Info("job completed",
		logger.String("task_type", job.TaskType),
		logger.Int("attempts", job.Attempts),
		logger.Duration("duration", duration))
}

// logJobFailed logs at warn while retries remain and at error once the job
// is given up.
func logJobFailed(ctx context.Context, log logger.Logger, job *Job, err error, retryIn time.Duration) {
	l := log.WithContext(ctx)
	fields := []logger.Field{
		logger.String("task_type", job.TaskType),
		logger.Int("attempt", job.Attempts),
		logger.Int("max_attempts", job.MaxAttempts),
		logger.Error(err),
	}
	if job.Status == JobStatusRetrying {
		l.Warn("job failed, will retry", append(fields, logger.Duration("retry_in", retryIn))...)
		return
	}
	l.Error("job failed permanently", fields...)
}
