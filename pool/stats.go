// File: pool/stats.go
// Author: momentics <momentics@gmail.com>
//
// Lock-free pool accounting shared by every backing strategy.

package pool

import (
	"sync/atomic"

	"github.com/momentics/hioload-io/api"
)

// counters are updated with atomic increments only; a snapshot taken while
// other goroutines operate on the pool may be momentarily inconsistent.
type counters struct {
	creates  atomic.Uint64
	takes    atomic.Uint64
	recycled atomic.Uint64
	released atomic.Uint64
}

func (c *counters) snapshot() api.PoolStats {
	return api.PoolStats{
		Creates:  c.creates.Load(),
		Takes:    c.takes.Load(),
		Recycled: c.recycled.Load(),
		Released: c.released.Load(),
	}
}
