// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Correlation engine: values keyed by a correlation id, handed to a poller
// once their timeout elapses.

package concurrency

import (
	"context"
	"sync"
	"time"
)

// MinPollWait bounds how short a single poller sleep can be.
const MinPollWait = time.Millisecond

// Engine schedules values to surface after a timeout. Any goroutine may Add
// or Remove; typically one goroutine runs Poll in a loop.
type Engine[K comparable, V any] struct {
	mu   sync.Mutex
	idx  *TimeoutIndex[K, V]
	wake chan struct{}
}

// NewEngine returns an empty engine.
func NewEngine[K comparable, V any]() *Engine[K, V] {
	return &Engine[K, V]{
		idx:  NewTimeoutIndex[K, V](),
		wake: make(chan struct{}, 1),
	}
}

// Add schedules value under key to surface after timeout, replacing any
// pending entry for key. The poller is woken so it can shorten its wait.
func (e *Engine[K, V]) Add(timeout time.Duration, key K, value V) (prev V, replaced bool, err error) {
	if timeout <= 0 {
		return prev, false, ErrNonPositiveTimeout
	}
	e.mu.Lock()
	prev, replaced = e.idx.Put(key, value, time.Now().Add(timeout))
	e.mu.Unlock()
	e.signal()
	return prev, replaced, nil
}

// Remove cancels the pending entry for key.
func (e *Engine[K, V]) Remove(key K) (V, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idx.Remove(key)
}

// TryPoll returns an elapsed value without blocking.
func (e *Engine[K, V]) TryPoll() (V, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, v, ok := e.idx.PopExpired(time.Now())
	return v, ok
}

// Poll blocks until a value's timeout elapses and returns it. When the engine
// is empty it waits for an Add. If ctx ends first Poll returns false; ctx.Err()
// tells why.
func (e *Engine[K, V]) Poll(ctx context.Context) (V, bool) {
	var zero V
	timer := time.NewTimer(time.Hour)
	timer.Stop()
	defer timer.Stop()
	for {
		e.mu.Lock()
		now := time.Now()
		_, v, ok := e.idx.PopExpired(now)
		next, pending := e.idx.Next()
		e.mu.Unlock()
		if ok {
			return v, true
		}

		var fire <-chan time.Time
		if pending {
			wait := next.Sub(now)
			if wait < MinPollWait {
				wait = MinPollWait
			}
			timer.Reset(wait)
			fire = timer.C
		}
		select {
		case <-ctx.Done():
			return zero, false
		case <-e.wake:
		case <-fire:
		}
		timer.Stop()
	}
}

// Len returns the number of pending entries.
func (e *Engine[K, V]) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.idx.Len()
}

func (e *Engine[K, V]) signal() {
	select {
	case e.wake <- struct{}{}:
	default:
	}
}
