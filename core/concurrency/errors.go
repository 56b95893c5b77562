// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Error definitions for concurrency module.

package concurrency

import (
	"errors"
	"fmt"

	"github.com/momentics/hioload-io/api"
)

var (
	// ErrNilWork indicates Do was called without a function
	ErrNilWork = fmt.Errorf("concurrency: nil work: %w", api.ErrInvalidArgument)

	// ErrNonPositiveTimeout indicates Engine.Add was given a timeout <= 0
	ErrNonPositiveTimeout = errors.New("concurrency: timeout must be positive")
)

// InterruptedError is returned to a follower whose context ended while it was
// waiting for another caller's work. The work itself is unaffected.
type InterruptedError struct {
	Err error
}

func (e *InterruptedError) Error() string {
	return "concurrency: wait interrupted: " + e.Err.Error()
}

// Unwrap returns the context error.
func (e *InterruptedError) Unwrap() error { return e.Err }

// Is makes errors.Is(err, api.ErrInterrupted) hold.
func (e *InterruptedError) Is(target error) bool { return target == api.ErrInterrupted }

// PanicError carries a panic raised by single-flight work to every caller.
type PanicError struct {
	Value any
	Stack []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("concurrency: work panicked: %v\n\n%s", e.Value, e.Stack)
}

// Unwrap returns the panic value when it is an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}
