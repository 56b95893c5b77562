// File: reactor/multiplexer.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness multiplexer contract.

package reactor

import (
	"time"

	"github.com/momentics/hioload-io/api"
)

// Event reports readiness of one file descriptor. Hangup is set when the
// kernel flagged an error or hangup; Ready then carries every bit so the
// handler's next I/O call surfaces the condition.
type Event struct {
	FD     int
	Ready  api.Ops
	Hangup bool
}

// Multiplexer watches file descriptors for readiness. Add, Modify, Delete and
// Wakeup may be called from any goroutine; Wait is called by one goroutine only.
type Multiplexer interface {
	Add(fd int, ops api.Ops) error
	Modify(fd int, ops api.Ops) error
	Delete(fd int) error
	// Wait fills events and returns how many were written. A negative timeout
	// blocks until an event or a Wakeup.
	Wait(events []Event, timeout time.Duration) (int, error)
	// Wakeup makes a blocked or the next Wait return early.
	Wakeup() error
	Close() error
}

// MultiplexerFactory creates a multiplexer for one dispatcher.
type MultiplexerFactory func() (Multiplexer, error)
