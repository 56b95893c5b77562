// File: reactor/group.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Composite dispatcher: N child dispatchers behind one registration surface
// with group-wide handler id uniqueness.

package reactor

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"

	"github.com/momentics/hioload-io/api"
)

// Group spreads handlers across child dispatchers. A handler stays with the
// child it was first given to until it is closed or unregistered.
type Group struct {
	log      logr.Logger
	children []*Dispatcher
	dist     Distribution
	seq      *api.Sequence

	mu     sync.Mutex
	owners map[int64]*Dispatcher
}

// NewGroup creates n children sharing opts. Child i gets index i.
func NewGroup(n int, opts ...Option) (*Group, error) {
	if n <= 0 {
		return nil, fmt.Errorf("reactor: group size %d: %w", n, api.ErrInvalidArgument)
	}
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if o.seq == nil {
		o.seq = api.NewSequence(0)
	}
	g := &Group{
		log:    o.logger,
		dist:   o.distribution,
		seq:    o.seq,
		owners: make(map[int64]*Dispatcher),
	}
	if g.dist == nil {
		g.dist = &RoundRobin{}
	}
	for i := 0; i < n; i++ {
		childOpts := append(slices.Clone(opts), withIndex(i), WithSequence(g.seq))
		if o.cpu >= 0 {
			childOpts = append(childOpts, WithCPU(o.cpu+i))
		}
		d, err := New(childOpts...)
		if err != nil {
			_ = g.Close()
			return nil, fmt.Errorf("reactor: create dispatcher %d: %w", i, err)
		}
		d.onRelease = g.releaser(d)
		g.children = append(g.children, d)
	}
	return g, nil
}

func (g *Group) releaser(d *Dispatcher) func(int64) {
	return func(id int64) {
		g.mu.Lock()
		if g.owners[id] == d {
			delete(g.owners, id)
		}
		g.mu.Unlock()
	}
}

// Sequence is the id source shared by every child.
func (g *Group) Sequence() *api.Sequence { return g.seq }

// Len returns the number of children.
func (g *Group) Len() int { return len(g.children) }

// Child returns child i.
func (g *Group) Child(i int) *Dispatcher { return g.children[i] }

// Loads returns the handler count of every child.
func (g *Group) Loads() []int64 {
	loads := make([]int64, len(g.children))
	for i, d := range g.children {
		loads[i] = d.Load()
	}
	return loads
}

// Register hands h to a child chosen by the distribution. An id already
// registered anywhere in the group is rejected.
func (g *Group) Register(h api.EventHandler, ops api.Ops) error {
	if h == nil {
		return fmt.Errorf("reactor: nil handler: %w", api.ErrInvalidArgument)
	}
	id := h.ID()
	g.mu.Lock()
	if _, dup := g.owners[id]; dup {
		g.mu.Unlock()
		return duplicateError(id)
	}
	child := g.children[g.dist.Pick(g.children)]
	g.owners[id] = child
	g.mu.Unlock()

	if err := child.Register(h, ops); err != nil {
		g.mu.Lock()
		if g.owners[id] == child {
			delete(g.owners, id)
		}
		g.mu.Unlock()
		return err
	}
	return nil
}

// Owner returns the child h is registered with.
func (g *Group) Owner(h api.EventHandler) (*Dispatcher, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	d := g.owners[h.ID()]
	if d == nil {
		return nil, api.ErrNotRegistered
	}
	return d, nil
}

// Unregister removes h from its child without closing it.
func (g *Group) Unregister(h api.EventHandler) error {
	d, err := g.Owner(h)
	if err != nil {
		return err
	}
	return d.Unregister(h)
}

// SetInterest routes to the owning child.
func (g *Group) SetInterest(h api.EventHandler, ops api.Ops) error {
	d, err := g.Owner(h)
	if err != nil {
		return err
	}
	return d.SetInterest(h, ops)
}

// RegisteredOps routes to the owning child.
func (g *Group) RegisteredOps(h api.EventHandler) (api.Ops, error) {
	d, err := g.Owner(h)
	if err != nil {
		return 0, err
	}
	return d.RegisteredOps(h)
}

// SetTimeout routes to the owning child.
func (g *Group) SetTimeout(h api.EventHandler, after time.Duration) error {
	d, err := g.Owner(h)
	if err != nil {
		return err
	}
	return d.SetTimeout(h, after)
}

// UnsetTimeout routes to the owning child.
func (g *Group) UnsetTimeout(h api.EventHandler) {
	if d, err := g.Owner(h); err == nil {
		d.UnsetTimeout(h)
	}
}

// Run runs every child until ctx ends or one child fails; a failure stops
// the others.
func (g *Group) Run(ctx context.Context) error {
	eg, gctx := errgroup.WithContext(ctx)
	for _, d := range g.children {
		eg.Go(func() error {
			if err := d.Run(gctx); err != nil {
				return fmt.Errorf("dispatcher %d: %w", d.Index(), err)
			}
			return nil
		})
	}
	return eg.Wait()
}

// Close closes every child and joins their errors.
func (g *Group) Close() error {
	errs := make([]error, 0, len(g.children))
	for _, d := range g.children {
		errs = append(errs, d.Close())
	}
	return errors.Join(errs...)
}
