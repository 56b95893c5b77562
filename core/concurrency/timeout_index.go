// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Deadline-ordered index with one entry per key.

package concurrency

import (
	"container/heap"
	"time"
)

type timeoutEntry[K comparable, V any] struct {
	key      K
	value    V
	deadline time.Time
	seq      uint64
	index    int
}

type timeoutHeap[K comparable, V any] []*timeoutEntry[K, V]

func (h timeoutHeap[K, V]) Len() int { return len(h) }

func (h timeoutHeap[K, V]) Less(i, j int) bool {
	if h[i].deadline.Equal(h[j].deadline) {
		return h[i].seq < h[j].seq
	}
	return h[i].deadline.Before(h[j].deadline)
}

func (h timeoutHeap[K, V]) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *timeoutHeap[K, V]) Push(x any) {
	e := x.(*timeoutEntry[K, V])
	e.index = len(*h)
	*h = append(*h, e)
}

func (h *timeoutHeap[K, V]) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	e.index = -1
	*h = old[:n-1]
	return e
}

// TimeoutIndex orders entries by deadline; equal deadlines pop in insertion
// order. It is not synchronised.
type TimeoutIndex[K comparable, V any] struct {
	h     timeoutHeap[K, V]
	byKey map[K]*timeoutEntry[K, V]
	seq   uint64
}

// NewTimeoutIndex returns an empty index.
func NewTimeoutIndex[K comparable, V any]() *TimeoutIndex[K, V] {
	return &TimeoutIndex[K, V]{byKey: make(map[K]*timeoutEntry[K, V])}
}

// Put inserts or replaces the entry for key. A replaced entry takes the new
// deadline and queues behind existing entries with the same deadline.
func (t *TimeoutIndex[K, V]) Put(key K, value V, deadline time.Time) (prev V, replaced bool) {
	t.seq++
	if e, ok := t.byKey[key]; ok {
		prev = e.value
		e.value, e.deadline, e.seq = value, deadline, t.seq
		heap.Fix(&t.h, e.index)
		return prev, true
	}
	e := &timeoutEntry[K, V]{key: key, value: value, deadline: deadline, seq: t.seq}
	t.byKey[key] = e
	heap.Push(&t.h, e)
	return prev, false
}

// Remove deletes the entry for key.
func (t *TimeoutIndex[K, V]) Remove(key K) (V, bool) {
	e, ok := t.byKey[key]
	if !ok {
		var zero V
		return zero, false
	}
	delete(t.byKey, key)
	heap.Remove(&t.h, e.index)
	return e.value, true
}

// Deadline returns the deadline recorded for key.
func (t *TimeoutIndex[K, V]) Deadline(key K) (time.Time, bool) {
	e, ok := t.byKey[key]
	if !ok {
		return time.Time{}, false
	}
	return e.deadline, true
}

// Next returns the earliest deadline.
func (t *TimeoutIndex[K, V]) Next() (time.Time, bool) {
	if len(t.h) == 0 {
		return time.Time{}, false
	}
	return t.h[0].deadline, true
}

// PopExpired removes and returns the earliest entry if its deadline is not
// after now.
func (t *TimeoutIndex[K, V]) PopExpired(now time.Time) (K, V, bool) {
	if len(t.h) == 0 || t.h[0].deadline.After(now) {
		var (
			k K
			v V
		)
		return k, v, false
	}
	e := heap.Pop(&t.h).(*timeoutEntry[K, V])
	delete(t.byKey, e.key)
	return e.key, e.value, true
}

// Len returns the number of entries.
func (t *TimeoutIndex[K, V]) Len() int { return len(t.h) }
