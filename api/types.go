// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

import "sync/atomic"

// ConnState enumerates the lifecycle of a connection.
type ConnState int32

const (
	StateConnecting ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Sequence hands out monotonically increasing ids. One Sequence is created per
// process (or per test) and injected into whatever needs ids.
type Sequence struct {
	n atomic.Int64
}

// NewSequence returns a Sequence whose first Next value is start.
func NewSequence(start int64) *Sequence {
	s := &Sequence{}
	s.n.Store(start - 1)
	return s
}

// Next returns the next id.
func (s *Sequence) Next() int64 {
	return s.n.Add(1)
}
