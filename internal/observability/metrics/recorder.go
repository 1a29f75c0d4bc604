// Package metrics provides Prometheus collectors for the migration run.
package metrics

// Recorder defines a minimal interface for recording metrics.
// Components depend on it rather than on concrete collectors so tests can
// pass NoOpRecorder.
type Recorder interface {
	// RecordOperation records an operation with its status, e.g.
	// ("companies", "created").
	RecordOperation(operation, status string)

	// RecordDuration records the duration of an operation in seconds.
	RecordDuration(operation string, seconds float64)

	// RecordError records an error occurrence with its category.
	RecordError(operation, errorType string)
}

// NoOpRecorder is a no-op implementation of the Recorder interface.
type NoOpRecorder struct{}

// RecordOperation does nothing.
func (NoOpRecorder) RecordOperation(operation, status string) {}

// RecordDuration does nothing.
func (NoOpRecorder) RecordDuration(operation string, seconds float64) {}

// RecordError does nothing.
func (NoOpRecorder) RecordError(operation, errorType string) {}
