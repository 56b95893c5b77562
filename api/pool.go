// File: api/pool.go
// Author: momentics <momentics@gmail.com>
//
// Defines abstract pooling APIs: object lifecycle management and bounded
// reuse caches with accounting.

package api

import "fmt"

// ObjectManager creates pooled objects and decides whether they may be reused.
type ObjectManager[T any] interface {
	// Create fabricates a new object on a pool miss.
	Create() T

	// PrepareForRecycle validates size/shape and clears content. Returning
	// false keeps the object out of the pool.
	PrepareForRecycle(obj T) bool

	// CanReuse reports whether a pooled object is still usable on acquire.
	CanReuse(obj T) bool

	// Release is called for every object the pool discards.
	Release(obj T)
}

// Pool is a bounded reuse cache. Pool rejections are never errors; they are
// visible only through Stats.
type Pool[T any] interface {
	// Acquire returns a pooled object or a newly created one.
	Acquire() T

	// Free hands obj back; obj must not be used afterwards.
	Free(obj T)

	// NumPooled returns the number of objects currently cached.
	NumPooled() int

	// Stats exposes accounting counters.
	Stats() PoolStats
}

// PoolStats aggregates pool accounting.
//
//	Takes    total Acquire calls
//	Creates  Acquire calls that missed the pool
//	Recycled Free calls accepted into the pool
//	Released Free calls rejected (bad shape or pool at capacity)
type PoolStats struct {
	Creates  uint64
	Takes    uint64
	Recycled uint64
	Released uint64
}

// Hits is the number of Acquire calls served from the pool.
func (s PoolStats) Hits() uint64 { return s.Takes - s.Creates }

// Frees is the total number of Free calls.
func (s PoolStats) Frees() uint64 { return s.Recycled + s.Released }

// Add sums two snapshots.
func (s PoolStats) Add(o PoolStats) PoolStats {
	return PoolStats{
		Creates:  s.Creates + o.Creates,
		Takes:    s.Takes + o.Takes,
		Recycled: s.Recycled + o.Recycled,
		Released: s.Released + o.Released,
	}
}

func (s PoolStats) String() string {
	return fmt.Sprintf("creates=%d, takes=%d, recycled=%d, released=%d",
		s.Creates, s.Takes, s.Recycled, s.Released)
}
