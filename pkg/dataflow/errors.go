package dataflow

import (
	"errors"
	"fmt"
)

var (
	// ErrStopPipeline is returned by Send when a stage wants the push to end.
	// Push treats it as a normal termination, not as a failure.
	ErrStopPipeline = errors.New("pipeline stopped")

	// ErrFutureNotReady is returned by Future.Value before the producing sink
	// has been closed.
	ErrFutureNotReady = errors.New("future not resolved")
)

// StageError wraps an error returned by a stage while processing an item.
type StageError struct {
	// Index is the position of the item in the source.
	Index int
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage failed on item %d: %v", e.Index, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// SourceError wraps an error returned by a source other than io.EOF.
type SourceError struct {
	Index int
	Err   error
}

func (e *SourceError) Error() string {
	return fmt.Sprintf("source failed reading item %d: %v", e.Index, e.Err)
}

func (e *SourceError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic raised by a stage during Push.
type PanicError struct {
	Index int
	Value any
	Stack string
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("stage panicked on item %d: %v", e.Index, e.Value)
}
