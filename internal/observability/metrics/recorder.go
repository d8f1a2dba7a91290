// Package metrics provides the Prometheus collectors for the import pipeline.
package metrics

// Recorder is the minimal interface components use for generic operations.
type Recorder interface {
	// RecordOperation counts an operation with its outcome ("success", "error").
	RecordOperation(operation, status string)

	// RecordDuration records an operation duration in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError counts an error by operation and category.
	RecordError(operation, errorType string)
}

// NoOpRecorder discards everything. Used when metrics are disabled.
type NoOpRecorder struct{}

func (NoOpRecorder) RecordOperation(string, string)  {}
func (NoOpRecorder) RecordDuration(string, float64)  {}
func (NoOpRecorder) RecordError(string, string)      {}

var _ Recorder = NoOpRecorder{}
