package dispatcher

import (
	"fmt"
	"time"
)

// PanicError wraps a panic recovered while running an operation.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("internal error: %v", e.Value)
}

// TimeoutError is reported when an operation exceeds the task deadline.
type TimeoutError struct {
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("operation timed out after %s", e.After)
}

// OutputError reports a produced file that vanished before it was recorded.
type OutputError struct {
	Filename string
	Err      error
}

func (e *OutputError) Error() string {
	return fmt.Sprintf("output %s unavailable: %v", e.Filename, e.Err)
}

func (e *OutputError) Unwrap() error { return e.Err }
