// File: transport/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Connection: a reactor EventHandler wrapping one non-blocking channel.

package transport

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/go-logr/logr"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/internal/logging"
	"github.com/momentics/hioload-io/pool"
	"github.com/momentics/hioload-io/reactor"
)

// maxReadsPerEvent bounds reads per readiness event so one busy peer cannot
// starve the others on the same dispatcher.
const maxReadsPerEvent = 16

// Registrar is where connections and acceptors are registered: a
// *reactor.Dispatcher or a *reactor.Group. Its Sequence is the default id
// source.
type Registrar interface {
	Register(h api.EventHandler, ops api.Ops) error
	Sequence() *api.Sequence
}

var (
	_ Registrar = (*reactor.Dispatcher)(nil)
	_ Registrar = (*reactor.Group)(nil)
)

// Connection is one peer link. Byte counters and State may be read from any
// goroutine.
type Connection struct {
	id           int64
	ch           api.Channel
	session      Session
	remote       string
	log          logr.Logger
	registry     *Registry
	drainTimeout time.Duration
	future       *ConnectFuture

	state  atomic.Int32
	rx, tx atomic.Uint64
	closed atomic.Bool

	mu    sync.Mutex
	owner reactor.Owner
	bufs  api.Pool[*pool.Buffer]
	cause error

	// owned by the dispatcher goroutine
	out            *queue.Queue
	want           api.Ops
	pending        api.Ops
	hasPending     bool
	idle           time.Duration
	lastActive     time.Time
	connectTimeout time.Duration
}

var (
	_ api.EventHandler = (*Connection)(nil)
	_ reactor.Attacher = (*Connection)(nil)
	_ reactor.Causer   = (*Connection)(nil)
)

func newConnection(id int64, ch api.Channel, s Session, remote string, state api.ConnState, o options) *Connection {
	c := &Connection{
		id:           id,
		ch:           ch,
		session:      s,
		remote:       remote,
		log:          o.logger.WithValues("conn", id, "remote", remote),
		registry:     o.registry,
		drainTimeout: o.drainTimeout,
		future:       newConnectFuture(),
		out:          queue.New(),
		idle:         o.idleTimeout,
	}
	c.state.Store(int32(state))
	c.future.onCancel = func() { _ = c.Abort(api.ErrCancelled) }
	if state == api.StateOpen {
		c.future.setFinishedOk(c)
	}
	return c
}

// ID returns the connection id.
func (c *Connection) ID() int64 { return c.id }

// FD returns the channel descriptor.
func (c *Connection) FD() int { return c.ch.FD() }

// State returns the current lifecycle state.
func (c *Connection) State() api.ConnState { return api.ConnState(c.state.Load()) }

// RxBytes returns the number of bytes read.
func (c *Connection) RxBytes() uint64 { return c.rx.Load() }

// TxBytes returns the number of bytes the channel accepted.
func (c *Connection) TxBytes() uint64 { return c.tx.Load() }

// RemoteAddr returns the peer address as given or reported by accept.
func (c *Connection) RemoteAddr() string { return c.remote }

// Session returns the attached session.
func (c *Connection) Session() Session { return c.session }

// Future returns the connect future. For accepted connections it is already
// settled.
func (c *Connection) Future() *ConnectFuture { return c.future }

// Attach implements reactor.Attacher.
func (c *Connection) Attach(o reactor.Owner) {
	c.mu.Lock()
	c.owner = o
	c.bufs = o.Buffers()
	c.mu.Unlock()
}

// SetCause implements reactor.Causer. The first non-stop cause wins.
func (c *Connection) SetCause(err error) {
	if err == nil || errors.Is(err, api.ErrStop) {
		return
	}
	c.mu.Lock()
	if c.cause == nil {
		c.cause = err
	}
	c.mu.Unlock()
}

func (c *Connection) closeCause() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cause
}

func (c *Connection) ownerRef() reactor.Owner {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.owner
}

func (c *Connection) buffers() api.Pool[*pool.Buffer] {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bufs
}

func (c *Connection) setState(s api.ConnState) {
	c.state.Store(int32(s))
	c.log.V(logging.TRACE).Info("connection state", "state", s.String())
}

func (c *Connection) touch() { c.lastActive = time.Now() }

// Register hands c to reg. A CONNECTING connection waits for connect
// completion and fails with api.ErrConnectTimeout once connectTimeout
// elapses; an OPEN connection is opened on its dispatcher.
func (c *Connection) Register(reg Registrar, connectTimeout time.Duration) error {
	switch c.State() {
	case api.StateConnecting:
		if connectTimeout <= 0 {
			return fmt.Errorf("transport: connect timeout %v: %w", connectTimeout, api.ErrInvalidArgument)
		}
		c.connectTimeout = connectTimeout
		if err := reg.Register(c, api.OpConnect); err != nil {
			return err
		}
		return c.submit(c.armConnectTimeout)
	case api.StateOpen:
		if err := reg.Register(c, 0); err != nil {
			return err
		}
		return c.submit(c.open)
	default:
		return api.ErrConnectionClosed
	}
}

func (c *Connection) armConnectTimeout() {
	if c.State() != api.StateConnecting {
		return
	}
	if err := c.ownerRef().SetTimeout(c, c.connectTimeout); err != nil {
		c.log.V(logging.DEBUG).Info("arming connect timeout failed", "err", err.Error())
	}
}

func (c *Connection) submit(task func()) error {
	o := c.ownerRef()
	if o == nil {
		return api.ErrNotRegistered
	}
	return o.Submit(task)
}

// openInterest is the interest a connection starts with when it becomes OPEN.
func (c *Connection) openInterest() api.Ops {
	ops := api.OpRead
	if o, ok := c.session.(Opener); ok {
		ops = o.Opened(c)
	}
	if c.hasPending {
		ops, c.hasPending = c.pending, false
	}
	return ops
}

func (c *Connection) armIdle() {
	o := c.ownerRef()
	if c.idle > 0 {
		c.touch()
		_ = o.SetTimeout(c, c.idle)
		return
	}
	o.UnsetTimeout(c)
}

func (c *Connection) open() {
	if c.State() != api.StateOpen {
		return
	}
	c.want = c.openInterest()
	c.armIdle()
	c.refresh()
}

func (c *Connection) finishConnect() (api.Ops, error) {
	if err := c.ch.FinishConnect(); err != nil {
		cerr := &ConnectError{Addr: c.remote, Err: err}
		c.future.setFailed(cerr)
		c.SetCause(cerr)
		return 0, cerr
	}
	c.setState(api.StateOpen)
	c.want = c.openInterest()
	c.armIdle()
	c.future.setFinishedOk(c)
	return c.interest(), nil
}

// interest is the mask the dispatcher should watch.
func (c *Connection) interest() api.Ops {
	var ops api.Ops
	switch c.State() {
	case api.StateConnecting:
		return api.OpConnect
	case api.StateOpen:
		ops = c.want &^ (api.OpAccept | api.OpConnect)
	case api.StateClosing:
		// a Drainer may be waiting for the peer to acknowledge
		if _, ok := c.session.(Drainer); ok {
			ops = api.OpRead
		}
	}
	if c.out.Length() > 0 {
		ops |= api.OpWrite
	}
	return ops
}

// refresh pushes interest to the dispatcher after work done outside HandleOps.
func (c *Connection) refresh() {
	if err := c.ownerRef().SetInterest(c, c.interest()); err != nil && !errors.Is(err, api.ErrNotRegistered) {
		c.fail(err)
	}
}

// fail closes the connection from the dispatcher goroutine.
func (c *Connection) fail(err error) {
	c.SetCause(err)
	c.ownerRef().CloseHandler(c, err)
}

// HandleOps implements api.EventHandler.
func (c *Connection) HandleOps(ready api.Ops) (api.Ops, error) {
	switch c.State() {
	case api.StateConnecting:
		if !ready.Any(api.OpConnect | api.OpWrite) {
			return api.OpConnect, nil
		}
		return c.finishConnect()
	case api.StateClosed:
		return 0, api.ErrStop
	}
	if ready.Has(api.OpRead) {
		if err := c.readReady(); err != nil {
			if errors.Is(err, io.EOF) && c.State() == api.StateClosing && c.drained() {
				return 0, api.ErrStop
			}
			c.SetCause(err)
			return 0, err
		}
	}
	if ready.Has(api.OpWrite) || c.out.Length() > 0 {
		if err := c.flush(); err != nil {
			c.SetCause(err)
			return 0, err
		}
		if ready.Has(api.OpWrite) && c.out.Length() == 0 && c.State() == api.StateOpen {
			c.want = c.session.Sendable(c)
		}
	}
	if c.State() == api.StateClosing && c.drained() {
		return 0, api.ErrStop
	}
	return c.interest(), nil
}

func (c *Connection) readReady() error {
	bufs := c.buffers()
	buf := bufs.Acquire()
	defer bufs.Free(buf)
	for i := 0; i < maxReadsPerEvent; i++ {
		n, err := c.ch.Read(buf.Available())
		if n > 0 {
			c.rx.Add(uint64(n))
			c.touch()
			buf.Advance(n)
			if ops := c.session.Receive(c, buf.Bytes()); c.State() == api.StateOpen {
				c.want = ops
			}
			buf.Reset()
		}
		if err != nil {
			if errors.Is(err, api.ErrWouldBlock) {
				return nil
			}
			return err
		}
		if n == 0 || c.State() == api.StateOpen && !c.want.Has(api.OpRead) {
			return nil
		}
	}
	return nil
}

func (c *Connection) flush() error {
	bufs := c.buffers()
	for c.out.Length() > 0 {
		b := c.out.Peek().(*pool.Buffer)
		n, err := c.ch.Write(b.Bytes())
		if n > 0 {
			c.tx.Add(uint64(n))
			c.touch()
			b.Consume(n)
		}
		if err != nil {
			if errors.Is(err, api.ErrWouldBlock) {
				return nil
			}
			return err
		}
		if b.Len() > 0 {
			return nil
		}
		c.out.Remove()
		bufs.Free(b)
	}
	return nil
}

func (c *Connection) drained() bool {
	if d, ok := c.session.(Drainer); ok {
		return d.Drained(c)
	}
	return c.out.Length() == 0
}

// Write queues p for sending. It must be called on the dispatcher goroutine,
// typically from Session.Receive or Session.Sendable; p is copied.
func (c *Connection) Write(p []byte) (int, error) {
	if st := c.State(); st == api.StateClosing || st == api.StateClosed {
		return 0, api.ErrConnectionClosed
	}
	bufs := c.buffers()
	if bufs == nil {
		return 0, api.ErrNotRegistered
	}
	total := len(p)
	if c.out.Length() > 0 {
		tail := c.out.Get(-1).(*pool.Buffer)
		p = p[tail.Write(p):]
	}
	for len(p) > 0 {
		b := bufs.Acquire()
		p = p[b.Write(p):]
		c.out.Add(b)
	}
	return total, nil
}

// Queued returns the number of bytes waiting to be sent. Dispatcher goroutine only.
func (c *Connection) Queued() int {
	n := 0
	for i := 0; i < c.out.Length(); i++ {
		n += c.out.Get(i).(*pool.Buffer).Len()
	}
	return n
}

// Send queues a copy of p and flushes what the channel accepts. Safe for any
// goroutine.
func (c *Connection) Send(p []byte) error {
	if st := c.State(); st == api.StateClosing || st == api.StateClosed {
		return api.ErrConnectionClosed
	}
	data := bytes.Clone(p)
	return c.submit(func() {
		if _, err := c.Write(data); err != nil {
			return
		}
		if c.State() != api.StateOpen {
			return
		}
		if err := c.flush(); err != nil {
			c.fail(err)
			return
		}
		c.refresh()
	})
}

// SetInterest replaces the session's interest. While CONNECTING the mask is
// kept and applied when the connection opens. Safe for any goroutine.
func (c *Connection) SetInterest(ops api.Ops) error {
	return c.submit(func() {
		switch c.State() {
		case api.StateConnecting:
			c.pending, c.hasPending = ops, true
		case api.StateOpen:
			c.want = ops
			c.refresh()
		}
	})
}

// SetIdleTimeout closes the connection after d without traffic; zero
// disables it. Safe for any goroutine.
func (c *Connection) SetIdleTimeout(d time.Duration) error {
	return c.submit(func() {
		c.idle = d
		if c.State() == api.StateOpen {
			c.armIdle()
		}
	})
}

// Shutdown closes the connection. With drain set an OPEN connection first
// enters CLOSING and flushes its queue. Safe for any goroutine.
func (c *Connection) Shutdown(drain bool) error {
	return c.submit(func() { c.shutdown(drain) })
}

func (c *Connection) shutdown(drain bool) {
	o := c.ownerRef()
	switch c.State() {
	case api.StateConnecting:
		o.CloseHandler(c, nil)
	case api.StateOpen:
		if !drain || c.drained() {
			o.CloseHandler(c, nil)
			return
		}
		c.setState(api.StateClosing)
		if err := o.SetTimeout(c, c.drainTimeout); err != nil {
			c.fail(err)
			return
		}
		c.refresh()
	}
}

// Abort closes the connection immediately with err as the cause. Safe for
// any goroutine.
func (c *Connection) Abort(err error) error {
	if c.ownerRef() == nil {
		c.SetCause(err)
		return c.Close()
	}
	return c.submit(func() {
		if c.State() != api.StateClosed {
			c.fail(err)
		}
	})
}

// HandleTimeout implements api.EventHandler.
func (c *Connection) HandleTimeout() bool {
	switch c.State() {
	case api.StateConnecting:
		err := &ConnectError{Addr: c.remote, Err: api.ErrConnectTimeout}
		c.future.setFailed(err)
		c.SetCause(err)
		return false
	case api.StateOpen:
		if c.idle <= 0 {
			return true
		}
		if rest := c.idle - time.Since(c.lastActive); rest > 0 {
			_ = c.ownerRef().SetTimeout(c, rest)
			return true
		}
		if h, ok := c.session.(IdleHandler); ok && h.Idle(c) {
			c.armIdle()
			return true
		}
		c.SetCause(api.ErrIdleTimeout)
		return false
	case api.StateClosing:
		c.SetCause(api.ErrDrainTimeout)
		return false
	}
	return false
}

// Close implements api.EventHandler. It is idempotent: the channel is closed,
// queued buffers are returned, a pending connect fails with
// api.ErrClosedWhileConnecting and Session.Closed runs once.
func (c *Connection) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	prev := api.ConnState(c.state.Swap(int32(api.StateClosed)))
	if prev == api.StateConnecting {
		c.future.setFailed(&ConnectError{Addr: c.remote, Err: api.ErrClosedWhileConnecting})
	}
	err := c.ch.Close()
	if bufs := c.buffers(); bufs != nil {
		for c.out.Length() > 0 {
			bufs.Free(c.out.Remove().(*pool.Buffer))
		}
	}
	cause := c.closeCause()
	c.log.V(logging.TRACE).Info("connection state", "state", api.StateClosed.String(), "from", prev.String(),
		"rx", c.rx.Load(), "tx", c.tx.Load(), "cause", fmt.Sprint(cause))
	if c.registry != nil {
		c.registry.Remove(c.id)
	}
	c.session.Closed(c, cause)
	return err
}
