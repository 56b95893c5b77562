// File: reactor/options.go
// Author: momentics <momentics@gmail.com>
//
// Functional options shared by Dispatcher and Group.

package reactor

import (
	"time"

	"github.com/go-logr/logr"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/pool"
)

const (
	// DefaultMaxWait bounds a single multiplexer wait.
	DefaultMaxWait = 500 * time.Millisecond
	// DefaultEventBatch is the number of readiness events fetched per wait.
	DefaultEventBatch = 256
	// DefaultBufferCapacity is the number of buffers cached per dispatcher
	// when no pool is supplied.
	DefaultBufferCapacity = 64
)

type options struct {
	logger       logr.Logger
	maxWait      time.Duration
	eventBatch   int
	newMux       MultiplexerFactory
	buffers      api.Pool[*pool.Buffer]
	arena        pool.Arena[*pool.Buffer]
	observer     Observer
	cpu          int
	index        int
	distribution Distribution
	seq          *api.Sequence
}

func defaultOptions() options {
	return options{
		logger:     logr.Discard(),
		maxWait:    DefaultMaxWait,
		eventBatch: DefaultEventBatch,
		newMux:     NewMultiplexer,
		observer:   NopObserver{},
		cpu:        -1,
	}
}

// Option configures a Dispatcher or a Group.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxWait bounds how long one wait may block. Non-positive values are ignored.
func WithMaxWait(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.maxWait = d
		}
	}
}

// WithEventBatch sets how many events one wait may return.
func WithEventBatch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.eventBatch = n
		}
	}
}

// WithMultiplexer replaces the platform multiplexer.
func WithMultiplexer(f MultiplexerFactory) Option {
	return func(o *options) {
		if f != nil {
			o.newMux = f
		}
	}
}

// WithBufferPool sets the pool handed to handlers through Owner.Buffers.
// In a Group every child shares it.
func WithBufferPool(p api.Pool[*pool.Buffer]) Option {
	return func(o *options) { o.buffers = p }
}

// WithBufferArena binds dispatcher i (its Group index) to arena.Pool(i).
// A pool set with WithBufferPool takes precedence.
func WithBufferArena(a pool.Arena[*pool.Buffer]) Option {
	return func(o *options) { o.arena = a }
}

// WithObserver installs instrumentation hooks.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observer = obs
		}
	}
}

// WithCPU pins the loop thread to cpu. In a Group child i is pinned to cpu+i.
func WithCPU(cpu int) Option {
	return func(o *options) { o.cpu = cpu }
}

// WithDistribution sets how a Group picks the child for a new handler.
func WithDistribution(d Distribution) Option {
	return func(o *options) { o.distribution = d }
}

// WithSequence sets the id source handed out through Sequence. A Group shares
// one sequence with all its children.
func WithSequence(seq *api.Sequence) Option {
	return func(o *options) { o.seq = seq }
}

func withIndex(i int) Option {
	return func(o *options) { o.index = i }
}
