// File: transport/acceptor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/go-logr/logr"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/internal/logging"
	"github.com/momentics/hioload-io/reactor"
)

type acceptSource interface {
	FD() int
	Close() error
	addr() string
	accept() (api.Channel, string, error)
}

// Acceptor is the event handler of a listening socket. Accepted connections
// are registered through the same Registrar as the acceptor, so a Group
// spreads them across its dispatchers.
type Acceptor struct {
	id      int64
	src     acceptSource
	reg     Registrar
	factory SessionFactory
	opts    options
	log     logr.Logger

	accepted atomic.Uint64
	closed   atomic.Bool

	mu    sync.Mutex
	owner reactor.Owner
}

var (
	_ api.EventHandler = (*Acceptor)(nil)
	_ reactor.Attacher = (*Acceptor)(nil)
)

// Listen binds addr and registers the acceptor with reg.
func Listen(addr string, reg Registrar, factory SessionFactory, opts ...Option) (*Acceptor, error) {
	if factory == nil {
		return nil, fmt.Errorf("transport: nil session factory: %w", api.ErrInvalidArgument)
	}
	o := newOptions(opts)
	l, err := listen(addr, o.backlog)
	if err != nil {
		return nil, err
	}
	a := newAcceptor(l, reg, factory, o)
	if err := reg.Register(a, api.OpAccept); err != nil {
		_ = l.Close()
		return nil, err
	}
	a.log.V(logging.VERBOSE).Info("listening", "addr", a.Addr())
	return a, nil
}

func newAcceptor(src acceptSource, reg Registrar, factory SessionFactory, o options) *Acceptor {
	o.bindSequence(reg)
	id := o.seq.Next()
	return &Acceptor{
		id:      id,
		src:     src,
		reg:     reg,
		factory: factory,
		opts:    o,
		log:     o.logger.WithName("acceptor").WithValues("acceptor", id),
	}
}

// ID implements api.EventHandler.
func (a *Acceptor) ID() int64 { return a.id }

// FD implements api.EventHandler.
func (a *Acceptor) FD() int { return a.src.FD() }

// Addr returns the bound address.
func (a *Acceptor) Addr() string { return a.src.addr() }

// Accepted returns the number of connections accepted so far.
func (a *Acceptor) Accepted() uint64 { return a.accepted.Load() }

// Attach implements reactor.Attacher.
func (a *Acceptor) Attach(o reactor.Owner) {
	a.mu.Lock()
	a.owner = o
	a.mu.Unlock()
}

// HandleOps accepts up to the configured batch of pending connections.
func (a *Acceptor) HandleOps(ready api.Ops) (api.Ops, error) {
	if !ready.Has(api.OpAccept) {
		return api.OpAccept, nil
	}
	for i := 0; i < a.opts.acceptBatch; i++ {
		ch, remote, err := a.src.accept()
		if err != nil {
			if errors.Is(err, api.ErrWouldBlock) {
				break
			}
			if isTemporary(err) {
				a.log.Error(err, "accept failed")
				break
			}
			return 0, err
		}
		a.accepted.Add(1)
		a.serve(ch, remote)
	}
	return api.OpAccept, nil
}

func (a *Acceptor) serve(ch api.Channel, remote string) {
	conn := newConnection(a.opts.seq.Next(), ch, a.factory(remote), remote, api.StateOpen, a.opts)
	if a.opts.registry != nil {
		if err := a.opts.registry.Add(conn); err != nil {
			a.log.Error(err, "registry rejected connection", "remote", remote)
			_ = ch.Close()
			return
		}
	}
	if err := conn.Register(a.reg, 0); err != nil {
		a.log.Error(err, "registering accepted connection failed", "remote", remote)
		conn.SetCause(err)
		_ = conn.Close()
		return
	}
	a.log.V(logging.TRACE).Info("accepted", "conn", conn.ID(), "remote", remote)
}

// HandleTimeout implements api.EventHandler; acceptors arm no deadlines.
func (a *Acceptor) HandleTimeout() bool { return true }

// Shutdown stops accepting. Safe for any goroutine.
func (a *Acceptor) Shutdown() error {
	a.mu.Lock()
	o := a.owner
	a.mu.Unlock()
	if o == nil {
		return a.Close()
	}
	return o.Submit(func() { o.CloseHandler(a, nil) })
}

// Close implements api.EventHandler and releases the listening socket. Use
// Shutdown while the acceptor is registered.
func (a *Acceptor) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	a.log.V(logging.VERBOSE).Info("acceptor closed", "accepted", a.accepted.Load())
	return a.src.Close()
}
