package jobqueue

import (
	"encoding/json"
	"time"
)

// TerminalHook is called once when a job completes or fails permanently.
// It runs outside the queue lock.
type TerminalHook func(job *Job)

// Job represents a unit of work in the job queue
type Job struct {
	ID          string      // Unique ID for this job, also used as trace id
	TaskType    string      // Label used for stats and metrics
	Action      Action      // The action to execute
	Data        any         // Data for the action
	Attempts    int         // Number of attempts made so far
	MaxAttempts int         // Maximum number of attempts allowed
	CreatedAt   time.Time   // When the job was created
	NextRetryAt time.Time   // When to next attempt the job
	Status      JobStatus   // Current status of the job
	LastError   error       // Last error encountered
	Config      RetryConfig // Retry configuration for this job

	onTerminal TerminalHook
}

// JobStats tracks statistics about job processing
type JobStats struct {
	TotalJobs      int
	SuccessfulJobs int
	FailedJobs     int
	RejectedJobs   int // Enqueue refused because the queue was full
	RetryAttempts  int
	TaskStats      map[string]TaskStats
}

// TaskStats tracks statistics for one task type
type TaskStats struct {
	Attempted     int
	Successful    int
	Failed        int
	Retried       int
	TotalDuration time.Duration
	MaxDuration   time.Duration
	LastError     string
}

// JobStatsSnapshot provides a point-in-time snapshot of job statistics
type JobStatsSnapshot struct {
	JobStats
	PendingJobs int
	RunningJobs int
	MaxJobs     int
}

// ToJSON renders the snapshot for the status endpoint.
func (s *JobStatsSnapshot) ToJSON() (string, error) {
	tasks := make(map[string]any, len(s.TaskStats))
	for name, ts := range s.TaskStats {
		avg := time.Duration(0)
		if ts.Attempted > 0 {
			avg = ts.TotalDuration / time.Duration(ts.Attempted)
		}
		entry := map[string]any{
			"attempted":       ts.Attempted,
			"successful":      ts.Successful,
			"failed":          ts.Failed,
			"retried":         ts.Retried,
			"averageDuration": avg.String(),
			"maxDuration":     ts.MaxDuration.String(),
		}
		if ts.LastError != "" {
			entry["lastError"] = ts.LastError
		}
		tasks[name] = entry
	}

	out, err := json.Marshal(map[string]any{
		"queue": map[string]any{
			"total":         s.TotalJobs,
			"successful":    s.SuccessfulJobs,
			"failed":        s.FailedJobs,
			"rejected":      s.RejectedJobs,
			"retryAttempts": s.RetryAttempts,
			"pending":       s.PendingJobs,
			"running":       s.RunningJobs,
			"maxSize":       s.MaxJobs,
		},
		"tasks":     tasks,
		"timestamp": time.Now().Format(time.RFC3339),
	})
	return string(out), err
}
