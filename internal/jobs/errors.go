package jobs

import (
	"errors"
	"fmt"
)

// Kind classifies a step failure by what the orchestrator should do
// about it, instead of each call site deciding ad hoc.
type Kind int

const (
	// KindFatal ends the job. Encoding and artifact I/O failures are
	// fatal; retrying cannot fix a full disk or a broken mux.
	KindFatal Kind = iota
	// KindRetryable is worth another attempt, with backoff.
	KindRetryable
	// KindDegraded means a fallback stood in for the real result. The
	// job continues and finishes with the degraded flag set.
	KindDegraded
)

func (k Kind) String() string {
	switch k {
	case KindFatal:
		return "fatal"
	case KindRetryable:
		return "retryable"
	case KindDegraded:
		return "degraded"
	default:
		return "unknown"
	}
}

// StepError is a pipeline failure attributed to a named step.
type StepError struct {
	Step string
	Kind Kind
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Step, e.Kind, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Fatal wraps err as a fatal failure of step.
func Fatal(step string, err error) *StepError {
	return &StepError{Step: step, Kind: KindFatal, Err: err}
}

// Retryable wraps err as a retryable failure of step.
func Retryable(step string, err error) *StepError {
	return &StepError{Step: step, Kind: KindRetryable, Err: err}
}

// Degraded wraps err as a degraded-but-continuing failure of step.
func Degraded(step string, err error) *StepError {
	return &StepError{Step: step, Kind: KindDegraded, Err: err}
}

// KindOf extracts the classification from an error chain. Unclassified
// errors are treated as fatal so nothing silently loops.
func KindOf(err error) Kind {
	var se *StepError
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindFatal
}
