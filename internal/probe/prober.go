// File: internal/probe/prober.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Periodic TCP connect prober. Targets wait in a correlation engine until
// due; concurrent probes of one target share a single connect.

package probe

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/core/concurrency"
	"github.com/momentics/hioload-io/internal/logging"
	"github.com/momentics/hioload-io/transport"
)

// Config describes what to probe and how often.
type Config struct {
	Targets  []string
	Interval time.Duration
	Timeout  time.Duration
	// Rounds per target; zero probes until Run's context ends.
	Rounds int
}

// Result is the outcome of one scheduled probe.
type Result struct {
	Target  string
	Round   int
	Latency time.Duration
	Err     error
}

// Connector is the part of *transport.Connector the prober uses.
type Connector interface {
	Connect(addr string, s transport.Session, timeout time.Duration) (*transport.ConnectFuture, error)
}

// Option configures a Prober.
type Option func(*Prober)

// WithLogger sets the logger.
func WithLogger(l logr.Logger) Option {
	return func(p *Prober) { p.log = l.WithName("prober") }
}

// WithResultHandler receives every scheduled result. It is called from probe
// goroutines and must be safe for concurrent use.
func WithResultHandler(fn func(Result)) Option {
	return func(p *Prober) { p.onResult = fn }
}

// Prober schedules and runs connect probes.
type Prober struct {
	connector Connector
	targets   []string
	rounds    int
	log       logr.Logger
	onResult  func(Result)

	interval atomic.Int64
	timeout  atomic.Int64

	engine *concurrency.Engine[string, string]
	flight concurrency.Group[string, time.Duration]

	mu     sync.Mutex
	done   map[string]int
	active int
}

// New validates cfg and builds a prober. Duplicate targets are probed once.
func New(c Connector, cfg Config, opts ...Option) (*Prober, error) {
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("probe: no targets: %w", api.ErrInvalidArgument)
	}
	if cfg.Interval <= 0 || cfg.Timeout <= 0 || cfg.Rounds < 0 {
		return nil, fmt.Errorf("probe: interval %v, timeout %v, rounds %d: %w",
			cfg.Interval, cfg.Timeout, cfg.Rounds, api.ErrInvalidArgument)
	}
	p := &Prober{
		connector: c,
		rounds:    cfg.Rounds,
		log:       logr.Discard(),
		engine:    concurrency.NewEngine[string, string](),
		done:      make(map[string]int),
	}
	seen := make(map[string]bool, len(cfg.Targets))
	for _, t := range cfg.Targets {
		if !seen[t] {
			seen[t] = true
			p.targets = append(p.targets, t)
		}
	}
	p.interval.Store(int64(cfg.Interval))
	p.timeout.Store(int64(cfg.Timeout))
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// SetInterval changes the delay before each target's next round.
func (p *Prober) SetInterval(d time.Duration) {
	if d > 0 {
		p.interval.Store(int64(d))
	}
}

// SetTimeout changes the connect timeout of later probes.
func (p *Prober) SetTimeout(d time.Duration) {
	if d > 0 {
		p.timeout.Store(int64(d))
	}
}

// Targets returns the deduplicated targets.
func (p *Prober) Targets() []string { return append([]string(nil), p.targets...) }

// Pending returns the number of targets waiting for their next round.
func (p *Prober) Pending() int { return p.engine.Len() }

// InFlight returns the number of targets with a connect in progress.
func (p *Prober) InFlight() int { return p.flight.InFlight() }

// Probe connects to target once and returns the time to OPEN. Callers probing
// the same target concurrently share the connect and its result.
func (p *Prober) Probe(ctx context.Context, target string) (time.Duration, error) {
	return p.flight.Do(ctx, target, func() (time.Duration, error) {
		return p.connect(target)
	})
}

func (p *Prober) connect(target string) (time.Duration, error) {
	begin := time.Now()
	f, err := p.connector.Connect(target, transport.BaseSession{}, time.Duration(p.timeout.Load()))
	if err != nil {
		return 0, err
	}
	// the future settles within the connect timeout
	conn, err := f.Get()
	if err != nil {
		return 0, err
	}
	latency := time.Since(begin)
	if err := conn.Shutdown(false); err != nil {
		p.log.V(logging.DEBUG).Info("probe shutdown failed", "target", target, "err", err.Error())
	}
	return latency, nil
}

// Run probes every target immediately and then every interval until each
// has completed its rounds or ctx ends.
func (p *Prober) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p.mu.Lock()
	p.active = len(p.targets)
	clear(p.done)
	p.mu.Unlock()
	for _, t := range p.targets {
		if _, _, err := p.engine.Add(time.Nanosecond, t, t); err != nil {
			return err
		}
	}

	var g errgroup.Group
	for {
		target, ok := p.engine.Poll(ctx)
		if !ok {
			break
		}
		g.Go(func() error {
			p.scheduled(ctx, target, cancel)
			return nil
		})
	}
	err := g.Wait()
	for _, t := range p.targets {
		p.engine.Remove(t)
	}
	return err
}

func (p *Prober) scheduled(ctx context.Context, target string, stop func()) {
	latency, err := p.Probe(ctx, target)

	p.mu.Lock()
	p.done[target]++
	round := p.done[target]
	finished := p.rounds > 0 && round >= p.rounds
	if finished {
		p.active--
	}
	remaining := p.active
	p.mu.Unlock()

	res := Result{Target: target, Round: round, Latency: latency, Err: err}
	if err != nil {
		p.log.Info("probe failed", "target", target, "round", round, "err", err.Error())
	} else {
		p.log.Info("probe ok", "target", target, "round", round, "latency", latency)
	}
	if p.onResult != nil {
		p.onResult(res)
	}

	switch {
	case finished && remaining == 0:
		stop()
	case !finished && ctx.Err() == nil:
		if _, _, err := p.engine.Add(time.Duration(p.interval.Load()), target, target); err != nil {
			p.log.Error(err, "rescheduling failed", "target", target)
		}
	}
}
