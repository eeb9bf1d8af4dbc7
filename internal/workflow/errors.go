package workflow

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyWorkflow    = errors.New("workflow has no steps")
	ErrConcurrencyLimit = errors.New("max concurrent workflows reached")
	ErrNotFound         = errors.New("execution not found")
	ErrTimeout          = errors.New("execution timed out")
	ErrNoExecutor       = errors.New("no executor registered for step type")
	ErrShutdown         = errors.New("engine shutting down")
)

// StepError wraps a step executor failure and carries the failing step id.
type StepError struct {
	StepID string
	Type   StepType
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s (%s): %v", e.StepID, e.Type, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
