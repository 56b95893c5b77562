// File: transport/connector.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package transport

import (
	"fmt"
	"time"

	"github.com/go-logr/logr"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/internal/logging"
)

// Connector starts asynchronous outbound connects.
type Connector struct {
	reg  Registrar
	opts options
	log  logr.Logger
	dial func(addr string) (api.Channel, error)
}

// NewConnector builds a connector registering its connections with reg.
func NewConnector(reg Registrar, opts ...Option) *Connector {
	o := newOptions(opts)
	o.bindSequence(reg)
	return &Connector{
		reg:  reg,
		opts: o,
		log:  o.logger.WithName("connector"),
		dial: dial,
	}
}

// Connect begins connecting to addr. The returned future completes with the
// OPEN connection, or fails with a *ConnectError wrapping the OS error or
// api.ErrConnectTimeout once timeout elapses. Errors returned directly mean
// no connection was attempted.
func (c *Connector) Connect(addr string, s Session, timeout time.Duration) (*ConnectFuture, error) {
	if s == nil {
		return nil, fmt.Errorf("transport: nil session: %w", api.ErrInvalidArgument)
	}
	if timeout <= 0 {
		return nil, fmt.Errorf("transport: connect timeout %v: %w", timeout, api.ErrInvalidArgument)
	}
	ch, err := c.dial(addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	conn := newConnection(c.opts.seq.Next(), ch, s, addr, api.StateConnecting, c.opts)
	if c.opts.registry != nil {
		if err := c.opts.registry.Add(conn); err != nil {
			_ = ch.Close()
			return nil, err
		}
	}
	if err := conn.Register(c.reg, timeout); err != nil {
		c.log.V(logging.DEBUG).Info("registering connection failed", "addr", addr, "err", err.Error())
		_ = conn.Close()
		return nil, err
	}
	c.log.V(logging.TRACE).Info("connect started", "conn", conn.ID(), "addr", addr, "timeout", timeout)
	return conn.Future(), nil
}
