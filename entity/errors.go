package entity

import (
	"errors"
	"fmt"
)

var (
	// ErrDuplicateJob rejects resubmission of a job id that is already
	// enqueued or in flight.
	ErrDuplicateJob = errors.New("job already enqueued or in flight")

	// ErrInputNotFound marks a work item whose dataset has no bytes behind it
	// at claim time.
	ErrInputNotFound = errors.New("input dataset not found")

	// ErrBrokerDelivery marks transient broker unavailability after retries
	// were exhausted. Never surfaces as a job-level failure.
	ErrBrokerDelivery = errors.New("broker delivery failed")

	// ErrStorageIO marks an artifact read/write failure.
	ErrStorageIO = errors.New("artifact storage failure")

	// ErrStateNotFound is returned when no snapshot exists for a job id.
	ErrStateNotFound = errors.New("job state not found")

	// ErrInvalidTransition rejects a state write not allowed by the
	// transition table.
	ErrInvalidTransition = errors.New("invalid job state transition")

	// ErrRevoked is the cooperative cancellation signal observed at pipeline
	// checkpoints.
	ErrRevoked = errors.New("job revoked")
)

// StageExecutionError wraps a failure with the pipeline stage it occurred in,
// so no raw error reaches a caller without stage context.
type StageExecutionError struct {
	Stage string
	Err   error
}

func (e *StageExecutionError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageExecutionError) Unwrap() error {
	return e.Err
}
