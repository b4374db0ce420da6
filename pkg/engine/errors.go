// Package engine implements the migration-cleanup workflow: inventory
// scan, operator confirmation, pre-mutation backup, ordered step
// execution and restore. Execution is single-threaded and cooperative;
// each mutation is observed before the next begins.
package engine

import (
	"errors"
	"fmt"
)

// ErrorClass classifies an engine error for propagation policy.
// Only precondition and backup errors escalate to a process-level
// failure; everything else is captured into the run report.
type ErrorClass string

const (
	// ErrorClassPrecondition: not elevated, unsupported platform, or a
	// conflicting state detected before any mutation. Fatal.
	ErrorClassPrecondition ErrorClass = "precondition"

	// ErrorClassBackup: the pre-mutation snapshot could not be written.
	// Fatal for destructive runs; the sequencer refuses to execute.
	ErrorClassBackup ErrorClass = "backup"

	// ErrorClassStep: an individual mutation failed. Recovered locally,
	// execution continues with the next task.
	ErrorClassStep ErrorClass = "step"

	// ErrorClassMapping: a restore item had no live counterpart.
	// Recovered locally, restore continues for other items.
	ErrorClassMapping ErrorClass = "mapping"
)

// WorkflowError is a classified error with step context.
type WorkflowError struct {
	// Class drives the propagation policy.
	Class ErrorClass `json:"class"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Step names the step being executed, if any.
	Step string `json:"step,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *WorkflowError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Class, e.Message)
	if e.Step != "" {
		msg = fmt.Sprintf("[%s] %s (step=%s)", e.Class, e.Message, e.Step)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *WorkflowError) Unwrap() error {
	return e.Err
}

// Is implements class-based equality for errors.Is.
func (e *WorkflowError) Is(target error) bool {
	t, ok := target.(*WorkflowError)
	if !ok {
		return false
	}
	return e.Class == t.Class
}

// WithStep adds step context to the error.
func (e *WorkflowError) WithStep(step string) *WorkflowError {
	e.Step = step
	return e
}

// NewPreconditionError creates a fatal precondition error.
func NewPreconditionError(message string, err error) *WorkflowError {
	return &WorkflowError{Class: ErrorClassPrecondition, Message: message, Err: err}
}

// NewBackupError creates a fatal backup error.
func NewBackupError(message string, err error) *WorkflowError {
	return &WorkflowError{Class: ErrorClassBackup, Message: message, Err: err}
}

// NewStepError creates a locally recovered step error.
func NewStepError(message string, err error) *WorkflowError {
	return &WorkflowError{Class: ErrorClassStep, Message: message, Err: err}
}

// NewMappingError creates a locally recovered restore-mapping error.
func NewMappingError(message string, err error) *WorkflowError {
	return &WorkflowError{Class: ErrorClassMapping, Message: message, Err: err}
}

// IsPrecondition reports whether err is a precondition error.
func IsPrecondition(err error) bool {
	var e *WorkflowError
	return errors.As(err, &e) && e.Class == ErrorClassPrecondition
}

// IsBackup reports whether err is a backup error.
func IsBackup(err error) bool {
	var e *WorkflowError
	return errors.As(err, &e) && e.Class == ErrorClassBackup
}

// IsFatal reports whether err must escalate to a nonzero process exit.
func IsFatal(err error) bool {
	return IsPrecondition(err) || IsBackup(err)
}
