// File: transport/session.go
// Author: momentics <momentics@gmail.com>
//
// Application capability plugged into a Connection.

package transport

import "github.com/momentics/hioload-io/api"

// Session receives connection events on the dispatcher goroutine.
type Session interface {
	// Receive is called with each chunk read. data is only valid during the
	// call. The returned mask becomes the connection's interest.
	Receive(c *Connection, data []byte) api.Ops
	// Sendable is called when the channel is writable and nothing is queued.
	Sendable(c *Connection) api.Ops
	// Closed is called exactly once. err is nil for an orderly local close.
	Closed(c *Connection, err error)
}

// Opener is an optional Session extension returning the interest applied when
// the connection becomes OPEN. Without it the connection reads.
type Opener interface {
	Opened(c *Connection) api.Ops
}

// Drainer is an optional Session extension deciding when a CLOSING
// connection is done. Without it the connection closes once its outbound
// queue is empty and stops reading.
//
// A CLOSING connection whose session is a Drainer keeps reading: data still
// goes to Receive (the returned mask is ignored) and Drained is asked again
// after every read and write. A peer EOF after Drained reports true is an
// orderly close.
type Drainer interface {
	Drained(c *Connection) bool
}

// IdleHandler is an optional Session extension consulted when the idle
// timeout elapses. Returning true keeps the connection open for another
// period.
type IdleHandler interface {
	Idle(c *Connection) bool
}

// SessionFactory builds the session of an accepted connection.
type SessionFactory func(remote string) Session

// BaseSession reads and discards. Embed it to implement only what you need.
type BaseSession struct{}

func (BaseSession) Receive(*Connection, []byte) api.Ops { return api.OpRead }
func (BaseSession) Sendable(*Connection) api.Ops         { return api.OpRead }
func (BaseSession) Closed(*Connection, error)            {}
