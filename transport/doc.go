// Package transport
// Author: momentics <momentics@gmail.com>
//
// Connection state machine over non-blocking channels driven by a reactor
// dispatcher, asynchronous outbound connects with timeout-bounded futures,
// and an inbound acceptor.
//
// A Connection moves CONNECTING -> OPEN -> CLOSING -> CLOSED, never backwards.
// All state changes happen on the owning dispatcher's goroutine; the methods
// documented as safe for any goroutine post their work there.
package transport
