package supervisor

import (
	"errors"
	"fmt"
)

// ErrPreviewDisabled is returned by EnqueuePreview: preview-mode execution
// uses same-bar entry/exit with no stop simulation and is statistically
// unsound, so it stays gated until a multi-bar simulation replaces it.
var ErrPreviewDisabled = errors.New("preview analysis is disabled")

// ErrRunNotFound is returned when a run id is unknown to every registry
var ErrRunNotFound = errors.New("run not found")

// ErrBaselineNotFound is returned when no current baseline exists
var ErrBaselineNotFound = errors.New("no current baseline established")

// ValidationError reports an invalid run configuration, rejected
// synchronously at the enqueue boundary
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// AdmissionError reports a run rejected because the kind's concurrency cap
// is reached. Callers should retry later; there is no queue.
type AdmissionError struct {
	Kind    RunKind
	Running int
	Limit   int
}

func (e *AdmissionError) Error() string {
	return fmt.Sprintf("%s overloaded (%d/%d running), retry later", e.Kind, e.Running, e.Limit)
}

// ConflictError reports a baseline operation on an ineligible source
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }
