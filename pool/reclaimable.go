// File: pool/reclaimable.go
// Package pool
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// GC-reclaimable pool: cached objects are held only through weak pointers, so
// the collector may take them back at any cycle. A slot whose object was
// collected is a cache miss on the next Acquire.

package pool

import (
	"sync"
	"sync/atomic"
	"weak"

	"github.com/momentics/hioload-io/api"
)

// Reclaimable caches *E values behind weak pointers.
type Reclaimable[E any] struct {
	mu        sync.Mutex
	slots     []weak.Pointer[E]
	capacity  int
	mgr       api.ObjectManager[*E]
	stats     counters
	reclaimed atomic.Uint64
}

var _ api.Pool[*int] = (*Reclaimable[int])(nil)

// NewReclaimable creates a pool holding at most capacity weak slots.
func NewReclaimable[E any](capacity int, mgr api.ObjectManager[*E]) *Reclaimable[E] {
	if mgr == nil {
		panic("pool: nil ObjectManager")
	}
	if capacity < 0 {
		capacity = 0
	}
	return &Reclaimable[E]{
		slots:    make([]weak.Pointer[E], 0, capacity),
		capacity: capacity,
		mgr:      mgr,
	}
}

// Acquire returns the most recently freed object that is still alive.
func (p *Reclaimable[E]) Acquire() *E {
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
func (p *Reclaimable[E]) Free(obj *E) {
	if obj == nil || !p.mgr.PrepareForRecycle(obj) {
		p.stats.released.Add(1)
		if obj != nil {
			p.mgr.Release(obj)
		}
		return
	}
	p.mu.Lock()
	if len(p.slots) >= p.capacity {
		p.compactLocked()
	}
	if len(p.slots) >= p.capacity {
		p.mu.Unlock()
		p.stats.released.Add(1)
		p.mgr.Release(obj)
		return
	}
	p.slots = append(p.slots, weak.Make(obj))
	p.mu.Unlock()
	p.stats.recycled.Add(1)
}

// NumPooled returns the number of cached objects that are still alive.
func (p *Reclaimable[E]) NumPooled() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, w := range p.slots {
		if w.Value() != nil {
			n++
		}
	}
	return n
}

// Stats returns a snapshot of the pool counters.
func (p *Reclaimable[E]) Stats() api.PoolStats {
	return p.stats.snapshot()
}

// Reclaimed returns how many cached objects were found collected.
func (p *Reclaimable[E]) Reclaimed() uint64 {
	return p.reclaimed.Load()
}

func (p *Reclaimable[E]) pop() (*E, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for n := len(p.slots); n > 0; n = len(p.slots) {
		w := p.slots[n-1]
		p.slots[n-1] = weak.Pointer[E]{}
		p.slots = p.slots[:n-1]
		if obj := w.Value(); obj != nil {
			return obj, true
		}
		p.reclaimed.Add(1)
	}
	return nil, false
}

// compactLocked drops collected slots so they do not count against capacity.
func (p *Reclaimable[E]) compactLocked() {
	live := p.slots[:0]
	for _, w := range p.slots {
		if w.Value() != nil {
			live = append(live, w)
			continue
		}
		p.reclaimed.Add(1)
	}
	for i := len(live); i < len(p.slots); i++ {
		p.slots[i] = weak.Pointer[E]{}
	}
	p.slots = live
}
