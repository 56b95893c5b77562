// File: reactor/distribution.go
// Author: momentics <momentics@gmail.com>
//
// Child selection strategies for Group.

package reactor

import "sync/atomic"

// Distribution picks the dispatcher that receives a new handler. Pick is
// called with the group's registration lock held and children non-empty.
type Distribution interface {
	Pick(children []*Dispatcher) int
}

// RoundRobin cycles through the children in order.
type RoundRobin struct {
	next atomic.Uint64
}

func (r *RoundRobin) Pick(children []*Dispatcher) int {
	return int((r.next.Add(1) - 1) % uint64(len(children)))
}

// LeastLoaded picks the child with the fewest registered handlers; ties go to
// the lowest index.
type LeastLoaded struct{}

func (LeastLoaded) Pick(children []*Dispatcher) int {
	best := 0
	for i := 1; i < len(children); i++ {
		if children[i].Load() < children[best].Load() {
			best = i
		}
	}
	return best
}
