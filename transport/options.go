// File: transport/options.go
// Author: momentics <momentics@gmail.com>

package transport

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/momentics/hioload-io/api"
)

const (
	// DefaultAcceptBatch bounds the accepts done per readiness event.
	DefaultAcceptBatch = 64
	// DefaultBacklog is the listen(2) backlog.
	DefaultBacklog = 1024
	// DefaultDrainTimeout bounds CLOSING when no drain timeout is configured.
	DefaultDrainTimeout = 5 * time.Second
)

type options struct {
	logger       logr.Logger
	seq          *api.Sequence
	registry     *Registry
	idleTimeout  time.Duration
	drainTimeout time.Duration
	acceptBatch  int
	backlog      int
}

func newOptions(opts []Option) options {
	o := options{
		logger:       logr.Discard(),
		drainTimeout: DefaultDrainTimeout,
		acceptBatch:  DefaultAcceptBatch,
		backlog:      DefaultBacklog,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// bindSequence falls back to the registrar's id source so handlers built by
// different components sharing reg never collide.
func (o *options) bindSequence(reg Registrar) {
	if o.seq != nil {
		return
	}
	if reg != nil {
		o.seq = reg.Sequence()
	}
	if o.seq == nil {
		o.seq = api.NewSequence(0)
	}
}

// Option configures a Connector, an Acceptor or the connections they build.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithSequence supplies the id source for new connections and acceptors.
// Without it the Registrar's Sequence is used.
func WithSequence(s *api.Sequence) Option {
	return func(o *options) { o.seq = s }
}

// WithRegistry records every live connection in r.
func WithRegistry(r *Registry) Option {
	return func(o *options) { o.registry = r }
}

// WithIdleTimeout closes OPEN connections with no traffic for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(o *options) { o.idleTimeout = d }
}

// WithDrainTimeout bounds how long a CLOSING connection may take to drain.
// Non-positive values keep DefaultDrainTimeout.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.drainTimeout = d
		}
	}
}

// WithAcceptBatch bounds accepts per readiness event.
func WithAcceptBatch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.acceptBatch = n
		}
	}
}

// WithBacklog sets the listen backlog.
func WithBacklog(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.backlog = n
		}
	}
}
