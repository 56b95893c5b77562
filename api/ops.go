// File: api/ops.go
// Author: momentics <momentics@gmail.com>
//
// Readiness interest mask shared by the reactor, its handlers and sessions.

package api

import "strings"

// Ops is a bit-set of readiness interests (when registering) or readiness
// notifications (when dispatching).
type Ops uint32

const (
	// OpRead requests notification when the channel has data to read.
	OpRead Ops = 1 << iota
	// OpWrite requests notification when the channel can accept more bytes.
	OpWrite
	// OpAccept requests notification when a listening channel has a pending peer.
	OpAccept
	// OpConnect requests notification when an outbound connect has finished.
	OpConnect
)

// OpAll is every interest bit.
const OpAll = OpRead | OpWrite | OpAccept | OpConnect

// Has reports whether every bit of o is set.
func (ops Ops) Has(o Ops) bool { return ops&o == o && o != 0 }

// Any reports whether at least one bit of o is set.
func (ops Ops) Any(o Ops) bool { return ops&o != 0 }

func (ops Ops) String() string {
	if ops == 0 {
		return "none"
	}
	var parts []string
	if ops&OpRead != 0 {
		parts = append(parts, "read")
	}
	if ops&OpWrite != 0 {
		parts = append(parts, "write")
	}
	if ops&OpAccept != 0 {
		parts = append(parts, "accept")
	}
	if ops&OpConnect != 0 {
		parts = append(parts, "connect")
	}
	if rest := ops &^ OpAll; rest != 0 {
		parts = append(parts, "unknown")
	}
	return strings.Join(parts, "|")
}
