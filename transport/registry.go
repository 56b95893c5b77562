// File: transport/registry.go
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe index of live connections.

package transport

import (
	"sync"

	"github.com/momentics/hioload-io/api"
)

// DefaultRegistryShards is used when NewRegistry is given a non-positive count.
const DefaultRegistryShards = 16

// Registry tracks live connections by id. Connections add themselves when
// built with WithRegistry and remove themselves on Close.
type Registry struct {
	shards []*registryShard
	mask   int64
}

type registryShard struct {
	mu    sync.RWMutex
	conns map[int64]*Connection
}

// NewRegistry builds a registry with shardCount shards rounded up to a power
// of two.
func NewRegistry(shardCount int) *Registry {
	if shardCount <= 0 {
		shardCount = DefaultRegistryShards
	}
	n := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*registryShard, n)
	for i := range shards {
		shards[i] = &registryShard{conns: make(map[int64]*Connection)}
	}
	return &Registry{shards: shards, mask: int64(n - 1)}
}

func (r *Registry) shard(id int64) *registryShard {
	return r.shards[id&r.mask]
}

// Add records c. A second connection with the same id is rejected.
func (r *Registry) Add(c *Connection) error {
	sh := r.shard(c.ID())
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, ok := sh.conns[c.ID()]; ok {
		return api.Wrap(api.ErrCodeAlreadyExists, api.ErrDuplicateHandler).WithContext("id", c.ID())
	}
	sh.conns[c.ID()] = c
	return nil
}

// Get fetches a connection if present.
func (r *Registry) Get(id int64) (*Connection, bool) {
	sh := r.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	c, ok := sh.conns[id]
	return c, ok
}

// Remove forgets id.
func (r *Registry) Remove(id int64) {
	sh := r.shard(id)
	sh.mu.Lock()
	delete(sh.conns, id)
	sh.mu.Unlock()
}

// Range calls fn for each connection until fn returns false. fn must not call
// back into the registry.
func (r *Registry) Range(fn func(*Connection) bool) {
	for _, sh := range r.shards {
		sh.mu.RLock()
		for _, c := range sh.conns {
			if !fn(c) {
				sh.mu.RUnlock()
				return
			}
		}
		sh.mu.RUnlock()
	}
}

// Len returns the number of live connections.
func (r *Registry) Len() int {
	n := 0
	for _, sh := range r.shards {
		sh.mu.RLock()
		n += len(sh.conns)
		sh.mu.RUnlock()
	}
	return n
}

// AbortAll aborts every registered connection with err and returns how many
// were asked to close.
func (r *Registry) AbortAll(err error) int {
	var all []*Connection
	r.Range(func(c *Connection) bool {
		all = append(all, c)
		return true
	})
	for _, c := range all {
		_ = c.Abort(err)
	}
	return len(all)
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
