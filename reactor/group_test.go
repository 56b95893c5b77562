package reactor_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/fake"
	"github.com/momentics/hioload-io/pool"
	"github.com/momentics/hioload-io/reactor"
)

type muxes struct {
	mu  sync.Mutex
	all []*fake.Multiplexer
}

func (m *muxes) factory() (reactor.Multiplexer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mux := fake.NewMultiplexer()
	m.all = append(m.all, mux)
	return mux, nil
}

func (m *muxes) get(i int) *fake.Multiplexer {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.all[i]
}

func newGroup(t *testing.T, n int, opts ...reactor.Option) (*reactor.Group, *muxes) {
	t.Helper()
	ms := &muxes{}
	g, err := reactor.NewGroup(n, append(opts, reactor.WithMultiplexer(ms.factory), reactor.WithMaxWait(20*time.Millisecond))...)
	require.NoError(t, err)
	return g, ms
}

func TestGroupRejectsDuplicateAcrossChildren(t *testing.T) {
	g, ms := newGroup(t, 3)
	first := newHandler(7, 10)
	require.NoError(t, g.Register(first, api.OpRead))

	err := g.Register(newHandler(7, 11), api.OpRead)
	require.ErrorIs(t, err, api.ErrDuplicateHandler)
	require.Contains(t, err.Error(), "id:7")

	owner, err := g.Owner(first)
	require.NoError(t, err)
	require.Equal(t, 0, owner.Index())
	ops, err := g.RegisteredOps(first)
	require.NoError(t, err)
	require.Equal(t, api.OpRead, ops)
	for i := 1; i < 3; i++ {
		_, added := ms.get(i).Interest(11)
		require.False(t, added)
	}
	require.Equal(t, []int64{1, 0, 0}, g.Loads())
}

func TestGroupRoundRobinAndRouting(t *testing.T) {
	g, ms := newGroup(t, 2)
	a, b := newHandler(1, 3), newHandler(2, 4)
	require.NoError(t, g.Register(a, api.OpRead))
	require.NoError(t, g.Register(b, api.OpRead))
	require.Equal(t, []int64{1, 1}, g.Loads())

	require.NoError(t, g.SetInterest(b, api.OpWrite))
	ops, _ := ms.get(1).Interest(4)
	require.Equal(t, api.OpWrite, ops)

	require.NoError(t, g.Unregister(a))
	require.ErrorIs(t, g.SetInterest(a, api.OpRead), api.ErrNotRegistered)
	require.ErrorIs(t, g.SetTimeout(a, time.Second), api.ErrNotRegistered)
}

func TestGroupDropsOwnershipWhenChildCloses(t *testing.T) {
	g, ms := newGroup(t, 2)
	h := newHandler(5, 3)
	h.onOps = func(api.Ops) (api.Ops, error) { return 0, api.ErrStop }
	require.NoError(t, g.Register(h, api.OpRead))
	start(t, g)

	ms.get(0).Fire(3, api.OpRead)
	require.Eventually(t, func() bool { return h.closes.Load() == 1 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool {
		_, err := g.Owner(h)
		return errors.Is(err, api.ErrNotRegistered)
	}, time.Second, time.Millisecond)

	require.NoError(t, g.Register(newHandler(5, 3), api.OpRead))
}

func TestGroupLeastLoaded(t *testing.T) {
	g, _ := newGroup(t, 3, reactor.WithDistribution(reactor.LeastLoaded{}))
	require.NoError(t, g.Register(newHandler(1, 1), api.OpRead))
	require.NoError(t, g.Register(newHandler(2, 2), api.OpRead))
	h3 := newHandler(3, 3)
	require.NoError(t, g.Register(h3, api.OpRead))
	require.Equal(t, []int64{1, 1, 1}, g.Loads())

	owner, err := g.Owner(h3)
	require.NoError(t, err)
	require.NoError(t, g.Unregister(h3))
	require.NoError(t, g.Register(newHandler(4, 4), api.OpRead))
	require.Equal(t, int64(1), owner.Load())
}

func TestGroupBindsArenaShards(t *testing.T) {
	arena := pool.NewSharded[*pool.Buffer](2, 4, pool.BufferManager{Size: 64})
	g, _ := newGroup(t, 2, reactor.WithBufferArena(arena))
	for i := 0; i < 2; i++ {
		require.Same(t, arena.Shard(i), g.Child(i).Buffers())
	}
}

func TestGroupSharesSequence(t *testing.T) {
	g, _ := newGroup(t, 3)
	for i := 0; i < 3; i++ {
		require.Same(t, g.Sequence(), g.Child(i).Sequence())
	}
	require.EqualValues(t, 0, g.Child(0).Sequence().Next())
	require.EqualValues(t, 1, g.Child(2).Sequence().Next())

	seq := api.NewSequence(100)
	g2, _ := newGroup(t, 2, reactor.WithSequence(seq))
	require.Same(t, seq, g2.Sequence())
	require.Same(t, seq, g2.Child(1).Sequence())
}

func TestGroupCloseClosesChildren(t *testing.T) {
	g, ms := newGroup(t, 2)
	hs := []*handler{newHandler(1, 3), newHandler(2, 4)}
	for _, h := range hs {
		require.NoError(t, g.Register(h, api.OpRead))
	}
	stop := start(t, g)
	require.NoError(t, g.Close())
	require.NoError(t, stop())
	for i, h := range hs {
		require.EqualValues(t, 1, h.closes.Load())
		require.True(t, ms.get(i).Closed())
	}
}

func TestGroupRunStopsAllOnChildFailure(t *testing.T) {
	g, ms := newGroup(t, 2)
	stop := start(t, g)
	broken := errors.New("broken")
	ms.get(1).FailWait(broken)
	select {
	case <-g.Child(0).Done():
	case <-time.After(2 * time.Second):
		t.Fatal("sibling kept running")
	}
	require.ErrorIs(t, stop(), broken)
}

func TestNewGroupValidation(t *testing.T) {
	_, err := reactor.NewGroup(0)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
}
