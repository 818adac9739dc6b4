package sched

import (
	"errors"
	"fmt"
)

var (
	// ErrCapacity means every slot of the task is in use.
	ErrCapacity = errors.New("capacity exceeded")
	// ErrNotFound means a handle no longer refers to a queued entry: it
	// already fired or was cancelled.
	ErrNotFound = errors.New("handle not found")
)

// RejectedError hands a rejected argument back to the caller unchanged.
type RejectedError struct {
	Task string
	Arg  any
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Task, ErrCapacity)
}

func (e *RejectedError) Unwrap() error { return ErrCapacity }

// Rejected extracts the argument returned by a capacity rejection.
func Rejected(err error) (any, bool) {
	var rej *RejectedError
	if errors.As(err, &rej) {
		return rej.Arg, true
	}
	return nil, false
}
