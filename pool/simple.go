// File: pool/simple.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-lock bounded pool. Also the building block of Sharded.

package pool

import (
	"sync"

	"github.com/momentics/hioload-io/api"
)

// Simple is a bounded LIFO cache guarded by one mutex. The most recently freed
// object is the next one handed out.
type Simple[T any] struct {
	mu       sync.Mutex
	items    []T
	capacity int
	mgr      api.ObjectManager[T]
	stats    counters
}

var _ api.Pool[int] = (*Simple[int])(nil)

// NewSimple creates a pool caching at most capacity objects. A capacity below
// zero is treated as zero (every Free discards).
func NewSimple[T any](capacity int, mgr api.ObjectManager[T]) *Simple[T] {
	if mgr == nil {
		panic("pool: nil ObjectManager")
	}
	if capacity < 0 {
		capacity = 0
	}
	return &Simple[T]{
		items:    make([]T, 0, capacity),
		capacity: capacity,
		mgr:      mgr,
	}
}

// Acquire pops the most recently freed object, or creates one on a miss.
// A pooled object rejected by CanReuse is released and the call counts as a miss.
func (p *Simple[T]) Acquire() T {
	p.stats.takes.Add(1)
	for {
		obj, ok := p.pop()
		if !ok {
			break
		}
		if p.mgr.CanReuse(obj) {
			return obj
		}
		p.mgr.Release(obj)
	}
	p.stats.creates.Add(1)
	return p.mgr.Create()
}

// Free offers obj back to the pool.
func (p *Simple[T]) Free(obj T) {
	if !p.mgr.PrepareForRecycle(obj) {
		p.stats.released.Add(1)
		p.mgr.Release(obj)
		return
	}
	if !p.push(obj) {
		p.stats.released.Add(1)
		p.mgr.Release(obj)
		return
	}
	p.stats.recycled.Add(1)
}

// NumPooled returns the number of cached objects.
func (p *Simple[T]) NumPooled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Capacity returns the configured bound.
func (p *Simple[T]) Capacity() int { return p.capacity }

// Stats returns a snapshot of the pool counters.
func (p *Simple[T]) Stats() api.PoolStats {
	return p.stats.snapshot()
}

func (p *Simple[T]) pop() (T, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var zero T
	n := len(p.items)
	if n == 0 {
		return zero, false
	}
	obj := p.items[n-1]
	p.items[n-1] = zero
	p.items = p.items[:n-1]
	return obj, true
}

func (p *Simple[T]) push(obj T) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.items) >= p.capacity {
		return false
	}
	p.items = append(p.items, obj)
	return true
}
