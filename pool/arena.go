// File: pool/arena.go
// Author: momentics <momentics@gmail.com>
//
// Arena binds pools to worker indexes and builds buffer pools from a
// strategy name.

package pool

import (
	"fmt"

	"github.com/momentics/hioload-io/api"
)

// Strategy names accepted by NewBufferArena.
const (
	StrategySimple      = "simple"
	StrategySharded     = "sharded"
	StrategyReclaimable = "reclaimable"
)

// Arena hands a pool to each worker index. Workers resolve their pool once at
// startup and keep it.
type Arena[T any] interface {
	Pool(worker int) api.Pool[T]
	NumPooled() int
	Stats() api.PoolStats
}

// Pool implements Arena: worker i is bound to shard i mod N.
func (s *Sharded[T]) Pool(worker int) api.Pool[T] { return s.Shard(worker) }

// Shared is an Arena where every worker uses the same pool.
type Shared[T any] struct {
	P api.Pool[T]
}

// Pool implements Arena.
func (s Shared[T]) Pool(int) api.Pool[T] { return s.P }

// NumPooled implements Arena.
func (s Shared[T]) NumPooled() int { return s.P.NumPooled() }

// Stats implements Arena.
func (s Shared[T]) Stats() api.PoolStats { return s.P.Stats() }

var (
	_ Arena[*Buffer] = (*Sharded[*Buffer])(nil)
	_ Arena[*Buffer] = Shared[*Buffer]{}
)

// NewBufferArena builds an arena of byte buffers of the given size.
// capacity is per shard for the sharded strategy and total otherwise.
func NewBufferArena(strategy string, capacity, shards, size int) (Arena[*Buffer], error) {
	mgr := BufferManager{Size: size}
	switch strategy {
	case StrategySimple, "":
		return Shared[*Buffer]{NewSimple[*Buffer](capacity, mgr)}, nil
	case StrategySharded:
		return NewSharded[*Buffer](shards, capacity, mgr), nil
	case StrategyReclaimable:
		return Shared[*Buffer]{NewReclaimable[Buffer](capacity, mgr)}, nil
	default:
		return nil, fmt.Errorf("pool: unknown strategy %q: %w", strategy, api.ErrInvalidArgument)
	}
}
