// File: pool/sharded.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Sharded pool: N independent Simple pools. Workers are bound to a shard
// explicitly (arena + index) at startup and keep that shard for their
// lifetime, so two workers never contend on the same lock unless they were
// deliberately given the same index.

package pool

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"

	"github.com/momentics/hioload-io/api"
)

type shard[T any] struct {
	_ cpu.CacheLinePad
	*Simple[T]
	_ cpu.CacheLinePad
}

// Sharded is an arena of Simple pools.
type Sharded[T any] struct {
	shards []shard[T]
	next   atomic.Uint32
}

// NewSharded creates n shards each holding up to capacityPerShard objects.
func NewSharded[T any](n, capacityPerShard int, mgr api.ObjectManager[T]) *Sharded[T] {
	if n <= 0 {
		n = 1
	}
	s := &Sharded[T]{shards: make([]shard[T], n)}
	for i := range s.shards {
		s.shards[i].Simple = NewSimple(capacityPerShard, mgr)
	}
	return s
}

// Shard returns shard i (modulo the shard count). Repeated calls with the same
// index return the same pool.
func (s *Sharded[T]) Shard(i int) *Simple[T] {
	return s.shards[uint(i)%uint(len(s.shards))].Simple
}

// Assign hands out shards round-robin in call order. The caller keeps the
// returned pool for its lifetime; the index is returned for diagnostics.
// When there are fewer callers than shards some shards stay empty.
func (s *Sharded[T]) Assign() (*Simple[T], int) {
	idx := int((s.next.Add(1) - 1) % uint32(len(s.shards)))
	return s.shards[idx].Simple, idx
}

// Len returns the number of shards.
func (s *Sharded[T]) Len() int { return len(s.shards) }

// NumPooled sums the cached objects of all shards.
func (s *Sharded[T]) NumPooled() int {
	n := 0
	for i := range s.shards {
		n += s.shards[i].NumPooled()
	}
	return n
}

// Stats aggregates the counters of all shards.
func (s *Sharded[T]) Stats() api.PoolStats {
	var total api.PoolStats
	for i := range s.shards {
		total = total.Add(s.shards[i].Stats())
	}
	return total
}
