// Package api
// Author: momentics <momentics@gmail.com>
//
// Common error types and error handling utilities for hioload-io.

package api

import (
	"errors"
	"fmt"
)

// Common errors used across the library.
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotSupported    = errors.New("operation not supported")

	// Registration.
	ErrDuplicateHandler = errors.New("handler id already registered")
	ErrNotRegistered    = errors.New("handler not registered")
	ErrDispatcherClosed = errors.New("dispatcher is closed")

	// ErrStop is returned by a handler callback to request an orderly close.
	ErrStop = errors.New("handler requested close")

	// Connection lifecycle.
	ErrConnectTimeout        = errors.New("connect timeout")
	ErrClosedWhileConnecting = errors.New("connection closed while connecting")
	ErrIdleTimeout           = errors.New("connection idle timeout")
	ErrDrainTimeout          = errors.New("connection drain timeout")
	ErrConnectionClosed      = errors.New("connection is closed")

	// Futures.
	ErrCancelled     = errors.New("operation cancelled")
	ErrFutureTimeout = errors.New("future wait timeout")

	// ErrInterrupted is reported to a waiter that stopped waiting before the
	// result it was waiting for was published.
	ErrInterrupted = errors.New("wait interrupted")

	// ErrWouldBlock is returned by a non-blocking channel with nothing to read.
	ErrWouldBlock = errors.New("operation would block")
)

// ErrorCode represents specific error conditions in the library.
type ErrorCode int

const (
	ErrCodeOK ErrorCode = iota
	ErrCodeInvalidArgument
	ErrCodeResourceExhausted
	ErrCodeTimeout
	ErrCodeNotSupported
	ErrCodeAlreadyExists
	ErrCodeNotFound
	ErrCodeInternal
)

// Error represents a structured error with code and context.
type Error struct {
	Code    ErrorCode
	Message string
	Context map[string]any
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if len(e.Context) == 0 {
		return e.Message
	}
	return fmt.Sprintf("%s (context: %+v)", e.Message, e.Context)
}

// Unwrap exposes the sentinel the error was built from.
func (e *Error) Unwrap() error { return e.Err }

// NewError creates a new structured error.
func NewError(code ErrorCode, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Context: make(map[string]any),
	}
}

// Wrap creates a structured error around a sentinel.
func Wrap(code ErrorCode, err error) *Error {
	e := NewError(code, err.Error())
	e.Err = err
	return e
}

// WithContext adds context information to the error.
func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}
