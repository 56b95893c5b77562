// File: core/concurrency/singleflight.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Duplicate-call suppression keyed by an arbitrary comparable value.

package concurrency

import (
	"context"
	"runtime/debug"
	"sync"
)

type call[V any] struct {
	done chan struct{}
	val  V
	err  error
}

// Group collapses concurrent calls sharing a key into one execution.
// The zero value is ready to use. Keys must not be mutated while in flight.
type Group[K comparable, V any] struct {
	mu    sync.Mutex
	calls map[K]*call[V]
}

// Do runs fn once for all concurrent callers of key. The first caller (leader)
// runs fn on its own goroutine; the others wait and receive the identical value
// and error. The key is forgotten as soon as fn returns, so a later call runs fn
// again.
//
// A waiting caller whose ctx ends gets an *InterruptedError; the leader never
// observes ctx. A panic in fn is recovered and delivered as *PanicError.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (V, error) {
	var zero V
	if fn == nil {
		return zero, ErrNilWork
	}
	g.mu.Lock()
	if g.calls == nil {
		g.calls = make(map[K]*call[V])
	}
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		// a published result wins over an ended ctx
		select {
		case <-c.done:
			return c.val, c.err
		default:
		}
		select {
		case <-c.done:
			return c.val, c.err
		case <-ctx.Done():
			return zero, &InterruptedError{Err: ctx.Err()}
		}
	}
	c := &call[V]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	g.run(c, key, fn)
	return c.val, c.err
}

// InFlight returns the number of keys currently executing.
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}

func (g *Group[K, V]) run(c *call[V], key K, fn func() (V, error)) {
	defer func() {
		if r := recover(); r != nil {
			var zero V
			c.val, c.err = zero, &PanicError{Value: r, Stack: debug.Stack()}
		}
		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		close(c.done)
	}()
	c.val, c.err = fn()
}
