// File: api/handler.go
// Package api defines the EventHandler contract driven by a dispatcher.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// EventHandler is owned by exactly one dispatcher for its whole registration.
//
// All methods except ID and FD are invoked on the owning dispatcher's
// goroutine and must not block.
type EventHandler interface {
	// ID is unique among the handlers of a dispatcher (or dispatcher group).
	ID() int64

	// FD is the OS descriptor of the handler's channel.
	FD() int

	// HandleOps is invoked with the subset of the registered interests that
	// became ready. It returns the next desired interest mask. A non-nil error
	// asks the dispatcher to unregister and Close the handler; ErrStop is the
	// quiet form used for an orderly close.
	HandleOps(ready Ops) (next Ops, err error)

	// HandleTimeout is invoked once when the deadline set through the
	// dispatcher elapses. Returning false closes the handler.
	HandleTimeout() (keepOpen bool)

	// Close releases the handler. The dispatcher calls it exactly once, after
	// the handler has been unregistered.
	Close() error
}
