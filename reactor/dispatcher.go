// File: reactor/dispatcher.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Single-goroutine readiness dispatcher. Every handler callback, posted task
// and deadline runs on the goroutine executing Run; registration calls may
// come from anywhere.

package reactor

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/go-logr/logr"

	"github.com/momentics/hioload-io/affinity"
	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/core/concurrency"
	"github.com/momentics/hioload-io/internal/logging"
	"github.com/momentics/hioload-io/pool"
)

var (
	// ErrHandlerTimeout is the close cause when HandleTimeout returns false.
	ErrHandlerTimeout = errors.New("reactor: handler deadline elapsed")
	// ErrHangup is the close cause when the kernel reports a hangup on a
	// channel whose interest set is empty.
	ErrHangup = errors.New("reactor: hangup with no interest registered")
	// ErrAlreadyRunning is returned by a second concurrent Run.
	ErrAlreadyRunning = errors.New("reactor: dispatcher already running")
)

// Owner is the dispatcher a handler is registered with.
type Owner interface {
	// Index identifies the dispatcher inside its Group.
	Index() int
	// Submit runs task on the dispatcher goroutine.
	Submit(task func()) error
	SetInterest(h api.EventHandler, ops api.Ops) error
	SetTimeout(h api.EventHandler, d time.Duration) error
	UnsetTimeout(h api.EventHandler)
	// CloseHandler unregisters h and closes it with cause.
	CloseHandler(h api.EventHandler, cause error)
	// Buffers is the pool bound to this dispatcher.
	Buffers() api.Pool[*pool.Buffer]
}

// Attacher is implemented by handlers that need their Owner. Attach is called
// during registration with the dispatcher locked; it must only record o.
type Attacher interface {
	Attach(o Owner)
}

// Causer is implemented by handlers that record why they are closed. The
// dispatcher calls SetCause right before Close.
type Causer interface {
	SetCause(err error)
}

type registration struct {
	h   api.EventHandler
	id  int64
	fd  int
	ops api.Ops
}

// Dispatcher multiplexes readiness for many handlers on one goroutine.
type Dispatcher struct {
	opts    options
	log     logr.Logger
	mux     Multiplexer
	buffers api.Pool[*pool.Buffer]
	events  []Event

	mu        sync.Mutex
	handlers  map[int64]*registration
	byFD      map[int]*registration
	timeouts  *concurrency.TimeoutIndex[int64, *registration]
	tasks     *queue.Queue
	closed    bool
	running   bool
	fatal     error
	onRelease func(id int64)

	waiting atomic.Bool
	load    atomic.Int64
	done    chan struct{}
}

var _ Owner = (*Dispatcher)(nil)

// New creates a dispatcher. The loop starts with Run.
func New(opts ...Option) (*Dispatcher, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	mux, err := o.newMux()
	if err != nil {
		return nil, err
	}
	buffers := o.buffers
	if buffers == nil && o.arena != nil {
		buffers = o.arena.Pool(o.index)
	}
	if buffers == nil {
		buffers = pool.NewSimple[*pool.Buffer](DefaultBufferCapacity, pool.BufferManager{})
	}
	if o.seq == nil {
		o.seq = api.NewSequence(0)
	}
	return &Dispatcher{
		opts:     o,
		log:      o.logger.WithValues("dispatcher", o.index),
		mux:      mux,
		buffers:  buffers,
		events:   make([]Event, o.eventBatch),
		handlers: make(map[int64]*registration),
		byFD:     make(map[int]*registration),
		timeouts: concurrency.NewTimeoutIndex[int64, *registration](),
		tasks:    queue.New(),
		done:     make(chan struct{}),
	}, nil
}

// Index returns the dispatcher's position in its Group (0 when standalone).
func (d *Dispatcher) Index() int { return d.opts.index }

// Sequence is the id source for handlers registered here. Components that
// build handlers without their own sequence draw ids from it.
func (d *Dispatcher) Sequence() *api.Sequence { return d.opts.seq }

// Load returns the number of registered handlers.
func (d *Dispatcher) Load() int64 { return d.load.Load() }

// Buffers returns the buffer pool bound to this dispatcher.
func (d *Dispatcher) Buffers() api.Pool[*pool.Buffer] { return d.buffers }

// Done is closed when Run has returned.
func (d *Dispatcher) Done() <-chan struct{} { return d.done }

func duplicateError(id int64) error {
	return api.Wrap(api.ErrCodeAlreadyExists, api.ErrDuplicateHandler).WithContext("id", id)
}

// Register adds h with the initial interest ops. A second handler with the
// same ID is rejected and the first registration is left untouched.
func (d *Dispatcher) Register(h api.EventHandler, ops api.Ops) error {
	if h == nil {
		return fmt.Errorf("reactor: nil handler: %w", api.ErrInvalidArgument)
	}
	id, fd := h.ID(), h.FD()

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return api.ErrDispatcherClosed
	}
	if _, dup := d.handlers[id]; dup {
		return duplicateError(id)
	}
	if _, taken := d.byFD[fd]; taken {
		return fmt.Errorf("reactor: fd %d already registered: %w", fd, api.ErrInvalidArgument)
	}
	if a, ok := h.(Attacher); ok {
		a.Attach(d)
	}
	if err := d.mux.Add(fd, ops); err != nil {
		return err
	}
	reg := &registration{h: h, id: id, fd: fd, ops: ops}
	d.handlers[id] = reg
	d.byFD[fd] = reg
	d.load.Add(1)
	d.opts.observer.HandlerRegistered(d.opts.index, id)
	return nil
}

// Unregister removes h without closing it.
func (d *Dispatcher) Unregister(h api.EventHandler) error {
	d.mu.Lock()
	reg := d.handlers[h.ID()]
	if reg == nil || reg.h != h {
		d.mu.Unlock()
		return api.ErrNotRegistered
	}
	d.detachLocked(reg)
	d.mu.Unlock()
	d.released(reg)
	return nil
}

// CloseHandler unregisters h and closes it. Unknown handlers are ignored.
func (d *Dispatcher) CloseHandler(h api.EventHandler, cause error) {
	d.mu.Lock()
	reg := d.handlers[h.ID()]
	if reg == nil || reg.h != h {
		d.mu.Unlock()
		return
	}
	d.detachLocked(reg)
	d.mu.Unlock()
	d.finish(reg, cause)
}

// RegisteredOps returns the current interest of h.
func (d *Dispatcher) RegisteredOps(h api.EventHandler) (api.Ops, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg := d.handlers[h.ID()]
	if reg == nil {
		return 0, api.ErrNotRegistered
	}
	return reg.ops, nil
}

// SetInterest replaces the interest of h.
func (d *Dispatcher) SetInterest(h api.EventHandler, ops api.Ops) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	reg := d.handlers[h.ID()]
	if reg == nil {
		return api.ErrNotRegistered
	}
	return d.setInterestLocked(reg, ops)
}

// SetTimeout arms a one-shot deadline for h, replacing any previous one.
func (d *Dispatcher) SetTimeout(h api.EventHandler, after time.Duration) error {
	if after <= 0 {
		return fmt.Errorf("reactor: timeout %v: %w", after, api.ErrInvalidArgument)
	}
	d.mu.Lock()
	reg := d.handlers[h.ID()]
	if reg == nil {
		d.mu.Unlock()
		return api.ErrNotRegistered
	}
	deadline := time.Now().Add(after)
	next, pending := d.timeouts.Next()
	d.timeouts.Put(reg.id, reg, deadline)
	d.mu.Unlock()
	if !pending || deadline.Before(next) {
		d.wake()
	}
	return nil
}

// UnsetTimeout disarms the deadline of h.
func (d *Dispatcher) UnsetTimeout(h api.EventHandler) {
	d.mu.Lock()
	d.timeouts.Remove(h.ID())
	d.mu.Unlock()
}

// Submit queues task for the dispatcher goroutine. Tasks run in FIFO order
// after the current batch of events.
func (d *Dispatcher) Submit(task func()) error {
	if task == nil {
		return fmt.Errorf("reactor: nil task: %w", api.ErrInvalidArgument)
	}
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return api.ErrDispatcherClosed
	}
	d.tasks.Add(task)
	d.mu.Unlock()
	d.wake()
	return nil
}

// Run drives the loop until ctx ends, Close is called or the multiplexer
// fails. Every remaining handler is closed before Run returns. Only a
// multiplexer failure is reported as an error.
func (d *Dispatcher) Run(ctx context.Context) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return api.ErrDispatcherClosed
	}
	if d.running {
		d.mu.Unlock()
		return ErrAlreadyRunning
	}
	d.running = true
	d.mu.Unlock()
	defer close(d.done)

	if d.opts.cpu >= 0 {
		if err := affinity.SetAffinity(d.opts.cpu); err != nil {
			d.log.Error(err, "cpu pinning failed", "cpu", d.opts.cpu)
		}
	}
	stop := context.AfterFunc(ctx, func() { _ = d.mux.Wakeup() })

	var err error
	for err == nil && ctx.Err() == nil && !d.isClosed() {
		err = d.poll()
	}
	stop()
	if err != nil {
		d.log.Error(err, "multiplexer failed, stopping dispatcher")
	}
	d.mu.Lock()
	d.closed = true
	d.fatal = err
	d.mu.Unlock()
	d.teardown()
	return err
}

// Close stops the loop and closes every handler and the multiplexer. It
// waits for a running loop to exit, so it must not be called from a handler
// callback; return api.ErrStop or use CloseHandler there.
func (d *Dispatcher) Close() error {
	d.mu.Lock()
	wasClosed, running := d.closed, d.running
	d.closed = true
	d.mu.Unlock()
	if running {
		if err := d.mux.Wakeup(); err != nil {
			d.log.V(logging.DEBUG).Info("wakeup on close failed", "err", err.Error())
		}
		<-d.done
	} else if !wasClosed {
		d.teardown()
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.fatal
}

func (d *Dispatcher) isClosed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

func (d *Dispatcher) wake() {
	if !d.waiting.Load() {
		return
	}
	if err := d.mux.Wakeup(); err != nil {
		d.log.Error(err, "wakeup failed")
	}
}

func (d *Dispatcher) poll() error {
	// set before the wait is computed so that concurrent changes either are
	// seen by nextWait or trigger a wakeup
	d.waiting.Store(true)
	n, err := d.mux.Wait(d.events, d.nextWait())
	d.waiting.Store(false)
	if err != nil {
		return err
	}
	if n > 0 {
		d.dispatch(d.events[:n])
		d.opts.observer.EventsDispatched(d.opts.index, n)
	}
	d.runTasks()
	d.expire(time.Now())
	return nil
}

func (d *Dispatcher) nextWait() time.Duration {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed || d.tasks.Length() > 0 {
		return 0
	}
	wait := d.opts.maxWait
	if next, ok := d.timeouts.Next(); ok {
		if until := time.Until(next); until < wait {
			wait = max(until, 0)
		}
	}
	return wait
}

func (d *Dispatcher) dispatch(events []Event) {
	for _, ev := range events {
		d.mu.Lock()
		reg := d.byFD[ev.FD]
		var ready api.Ops
		if reg != nil {
			ready = ev.Ready & reg.ops
		}
		d.mu.Unlock()
		if reg == nil {
			continue
		}
		if ready == 0 {
			if ev.Hangup {
				d.closeHandler(reg, ErrHangup)
			}
			continue
		}
		next, err := d.invoke(reg, ready)
		if err == nil {
			err = d.applyInterest(reg, next)
		}
		if err != nil {
			d.closeHandler(reg, err)
		}
	}
}

func (d *Dispatcher) applyInterest(reg *registration, next api.Ops) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.handlers[reg.id] != reg {
		return nil
	}
	return d.setInterestLocked(reg, next)
}

func (d *Dispatcher) setInterestLocked(reg *registration, ops api.Ops) error {
	if reg.ops == ops {
		return nil
	}
	if err := d.mux.Modify(reg.fd, ops); err != nil {
		return err
	}
	reg.ops = ops
	return nil
}

func (d *Dispatcher) invoke(reg *registration, ready api.Ops) (next api.Ops, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = d.recovered(reg.id, r)
		}
	}()
	return reg.h.HandleOps(ready)
}

func (d *Dispatcher) invokeTimeout(reg *registration) (keep bool) {
	defer func() {
		if r := recover(); r != nil {
			_ = d.recovered(reg.id, r)
			keep = false
		}
	}()
	return reg.h.HandleTimeout()
}

func (d *Dispatcher) recovered(id int64, r any) error {
	err := fmt.Errorf("reactor: callback panic: %v", r)
	d.log.Error(err, "callback panicked", "handler", id, "stack", string(debug.Stack()))
	d.opts.observer.CallbackPanicked(d.opts.index, id, r)
	return err
}

func (d *Dispatcher) runTasks() {
	d.mu.Lock()
	n := d.tasks.Length()
	d.mu.Unlock()
	// tasks posted by these tasks wait for the next iteration
	for i := 0; i < n; i++ {
		d.mu.Lock()
		if d.tasks.Length() == 0 {
			d.mu.Unlock()
			return
		}
		task := d.tasks.Remove().(func())
		d.mu.Unlock()
		d.runTask(task)
	}
}

func (d *Dispatcher) runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			_ = d.recovered(-1, r)
		}
	}()
	task()
}

func (d *Dispatcher) expire(now time.Time) {
	for {
		d.mu.Lock()
		_, reg, ok := d.timeouts.PopExpired(now)
		d.mu.Unlock()
		if !ok {
			return
		}
		d.opts.observer.TimeoutFired(d.opts.index, reg.id)
		if !d.invokeTimeout(reg) {
			d.closeHandler(reg, ErrHandlerTimeout)
		}
	}
}

func (d *Dispatcher) closeHandler(reg *registration, cause error) {
	d.mu.Lock()
	ok := d.handlers[reg.id] == reg
	if ok {
		d.detachLocked(reg)
	}
	d.mu.Unlock()
	if ok {
		d.finish(reg, cause)
	}
}

// detachLocked removes reg from every index. d.mu must be held.
func (d *Dispatcher) detachLocked(reg *registration) {
	delete(d.handlers, reg.id)
	delete(d.byFD, reg.fd)
	d.timeouts.Remove(reg.id)
	if err := d.mux.Delete(reg.fd); err != nil {
		d.log.V(logging.TRACE).Info("multiplexer delete failed", "handler", reg.id, "err", err.Error())
	}
	d.load.Add(-1)
}

func (d *Dispatcher) finish(reg *registration, cause error) {
	if cause != nil && !errors.Is(cause, api.ErrStop) {
		d.log.V(logging.DEBUG).Info("closing handler", "handler", reg.id, "cause", cause.Error())
	}
	func() {
		defer func() {
			if r := recover(); r != nil {
				_ = d.recovered(reg.id, r)
			}
		}()
		if c, ok := reg.h.(Causer); ok {
			c.SetCause(cause)
		}
		if err := reg.h.Close(); err != nil {
			d.log.V(logging.DEBUG).Info("handler close failed", "handler", reg.id, "err", err.Error())
		}
	}()
	d.released(reg)
}

func (d *Dispatcher) released(reg *registration) {
	d.opts.observer.HandlerClosed(d.opts.index, reg.id)
	if d.onRelease != nil {
		d.onRelease(reg.id)
	}
}

func (d *Dispatcher) teardown() {
	d.mu.Lock()
	regs := make([]*registration, 0, len(d.handlers))
	for _, reg := range d.handlers {
		regs = append(regs, reg)
	}
	clear(d.handlers)
	clear(d.byFD)
	d.timeouts = concurrency.NewTimeoutIndex[int64, *registration]()
	for d.tasks.Length() > 0 {
		d.tasks.Remove()
	}
	d.load.Store(0)
	d.mu.Unlock()

	for _, reg := range regs {
		d.finish(reg, api.ErrDispatcherClosed)
	}
	if err := d.mux.Close(); err != nil {
		d.log.Error(err, "multiplexer close failed")
	}
}
