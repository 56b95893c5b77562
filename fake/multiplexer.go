// Package fake
// Author: momentics <momentics@gmail.com>
//
// Scripted multiplexer for driving a dispatcher deterministically in tests.

package fake

import (
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/reactor"
)

// Multiplexer delivers only the events a test fires. Fired events are
// delivered once (edge-style) regardless of the registered interest; the
// dispatcher does the masking.
type Multiplexer struct {
	mu       sync.Mutex
	interest map[int]api.Ops
	pending  []reactor.Event
	waitErr  error
	closed   bool
	waits    int
	signal   chan struct{}
}

var _ reactor.Multiplexer = (*Multiplexer)(nil)

// NewMultiplexer creates an empty scripted multiplexer.
func NewMultiplexer() *Multiplexer {
	return &Multiplexer{
		interest: make(map[int]api.Ops),
		signal:   make(chan struct{}, 1),
	}
}

// Factory returns a factory that always yields m.
func (m *Multiplexer) Factory() reactor.MultiplexerFactory {
	return func() (reactor.Multiplexer, error) { return m, nil }
}

func (m *Multiplexer) Add(fd int, ops api.Ops) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.interest[fd]; ok {
		return fmt.Errorf("fake: fd %d already added", fd)
	}
	m.interest[fd] = ops
	return nil
}

func (m *Multiplexer) Modify(fd int, ops api.Ops) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.interest[fd]; !ok {
		return fmt.Errorf("fake: fd %d not added", fd)
	}
	m.interest[fd] = ops
	return nil
}

func (m *Multiplexer) Delete(fd int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.interest[fd]; !ok {
		return fmt.Errorf("fake: fd %d not added", fd)
	}
	delete(m.interest, fd)
	return nil
}

// Interest returns the mask currently registered for fd.
func (m *Multiplexer) Interest(fd int) (api.Ops, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ops, ok := m.interest[fd]
	return ops, ok
}

// Fire queues a readiness event for fd.
func (m *Multiplexer) Fire(fd int, ready api.Ops) {
	m.push(reactor.Event{FD: fd, Ready: ready})
}

// Hangup queues an error/hangup event for fd.
func (m *Multiplexer) Hangup(fd int) {
	m.push(reactor.Event{FD: fd, Ready: api.OpAll, Hangup: true})
}

// FailWait makes the next Wait return err.
func (m *Multiplexer) FailWait(err error) {
	m.mu.Lock()
	m.waitErr = err
	m.mu.Unlock()
	m.Wakeup()
}

// Waits returns how many times Wait was called.
func (m *Multiplexer) Waits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.waits
}

// Closed reports whether Close was called.
func (m *Multiplexer) Closed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}

func (m *Multiplexer) push(ev reactor.Event) {
	m.mu.Lock()
	m.pending = append(m.pending, ev)
	m.mu.Unlock()
	m.Wakeup()
}

func (m *Multiplexer) Wait(events []reactor.Event, timeout time.Duration) (int, error) {
	m.mu.Lock()
	m.waits++
	m.mu.Unlock()

	var timer <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		timer = t.C
	}
	for {
		m.mu.Lock()
		if err := m.waitErr; err != nil {
			m.waitErr = nil
			m.mu.Unlock()
			return 0, err
		}
		if len(m.pending) > 0 {
			n := copy(events, m.pending)
			m.pending = append(m.pending[:0], m.pending[n:]...)
			m.mu.Unlock()
			return n, nil
		}
		m.mu.Unlock()
		if timeout == 0 {
			return 0, nil
		}
		select {
		case <-m.signal:
			// a wakeup with nothing pending still ends the wait
			m.mu.Lock()
			ready := len(m.pending) > 0 || m.waitErr != nil
			m.mu.Unlock()
			if !ready {
				return 0, nil
			}
		case <-timer:
			return 0, nil
		}
	}
}

func (m *Multiplexer) Wakeup() error {
	select {
	case m.signal <- struct{}{}:
	default:
	}
	return nil
}

func (m *Multiplexer) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
