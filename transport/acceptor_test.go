package transport

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/fake"
)

type fakeSource struct {
	fd int

	mu      sync.Mutex
	pending []*fake.Channel
	errs    []error
	closes  int
}

func (s *fakeSource) FD() int { return s.fd }

func (s *fakeSource) Close() error {
	s.mu.Lock()
	s.closes++
	s.mu.Unlock()
	return nil
}

func (s *fakeSource) closeCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

func (s *fakeSource) addr() string { return "127.0.0.1:9" }

func (s *fakeSource) accept() (api.Channel, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, "", err
	}
	if len(s.pending) == 0 {
		return nil, "", api.ErrWouldBlock
	}
	ch := s.pending[0]
	s.pending = s.pending[1:]
	return ch, fmt.Sprintf("203.0.113.%d:5000", ch.FD()), nil
}

func TestAcceptorRegistersConnections(t *testing.T) {
	d, mux := newLoop(t)
	src := &fakeSource{fd: 100}
	for fd := 101; fd <= 103; fd++ {
		src.pending = append(src.pending, fake.NewChannel(fd))
	}
	reg := NewRegistry(4)
	var mu sync.Mutex
	var remotes []string
	factory := func(remote string) Session {
		mu.Lock()
		remotes = append(remotes, remote)
		mu.Unlock()
		return newRecorder()
	}
	a := newAcceptor(src, d, factory, newOptions([]Option{WithRegistry(reg)}))
	require.NoError(t, d.Register(a, api.OpAccept))
	require.Equal(t, "127.0.0.1:9", a.Addr())

	mux.Fire(100, api.OpAccept)
	require.Eventually(t, func() bool { return reg.Len() == 3 }, time.Second, time.Millisecond)
	require.EqualValues(t, 3, a.Accepted())
	for fd := 101; fd <= 103; fd++ {
		require.Eventually(t, interestIs(mux, fd, api.OpRead), time.Second, time.Millisecond)
	}
	mu.Lock()
	require.Equal(t, []string{"203.0.113.101:5000", "203.0.113.102:5000", "203.0.113.103:5000"}, remotes)
	mu.Unlock()

	var open int
	reg.Range(func(c *Connection) bool {
		if c.State() == api.StateOpen {
			open++
		}
		return true
	})
	require.Equal(t, 3, open)

	require.Equal(t, 3, reg.AbortAll(api.ErrCancelled))
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, time.Millisecond)

	require.NoError(t, a.Shutdown())
	require.Eventually(t, func() bool { return src.closeCount() == 1 }, time.Second, time.Millisecond)
}

func TestAcceptorClosesOnFatalError(t *testing.T) {
	d, mux := newLoop(t)
	src := &fakeSource{fd: 100, errs: []error{errors.New("bad descriptor")}}
	a := newAcceptor(src, d, func(string) Session { return newRecorder() }, newOptions(nil))
	require.NoError(t, d.Register(a, api.OpAccept))

	mux.Fire(100, api.OpAccept)
	require.Eventually(t, func() bool { return src.closeCount() == 1 }, time.Second, time.Millisecond)
	_, err := d.RegisteredOps(a)
	require.ErrorIs(t, err, api.ErrNotRegistered)
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(3)
	require.Len(t, r.shards, 4)

	o := newOptions([]Option{WithRegistry(r)})
	sessions := make([]*recorder, 5)
	for i := range sessions {
		sessions[i] = newRecorder()
		c := newConnection(int64(i), fake.NewChannel(i+10), sessions[i], "peer", api.StateOpen, o)
		require.NoError(t, r.Add(c))
	}
	require.Equal(t, 5, r.Len())

	dup := newConnection(2, fake.NewChannel(99), newRecorder(), "peer", api.StateOpen, o)
	err := r.Add(dup)
	require.ErrorIs(t, err, api.ErrDuplicateHandler)
	require.Contains(t, err.Error(), "id:2")

	c, ok := r.Get(2)
	require.True(t, ok)
	require.NotSame(t, dup, c)

	seen := 0
	r.Range(func(*Connection) bool {
		seen++
		return seen < 2
	})
	require.Equal(t, 2, seen)

	r.Remove(4)
	_, ok = r.Get(4)
	require.False(t, ok)

	boom := errors.New("shutting down")
	require.Equal(t, 4, r.AbortAll(boom))
	require.Zero(t, r.Len())
	for _, s := range sessions[:4] {
		require.ErrorIs(t, s.waitClosed(t), boom)
	}
}

func TestAcceptorAndConnectorShareDispatcherIDs(t *testing.T) {
	d, mux := newLoop(t)
	src := &fakeSource{fd: 100, pending: []*fake.Channel{fake.NewChannel(101)}}
	a := newAcceptor(src, d, func(string) Session { return newRecorder() }, newOptions(nil))
	require.NoError(t, d.Register(a, api.OpAccept))

	// no WithSequence anywhere: both draw ids from the dispatcher
	f := connectFake(t, d, fake.NewChannel(5), newRecorder(), time.Second)
	mux.Fire(5, api.OpConnect)
	conn, err := f.Get()
	require.NoError(t, err)
	require.NotEqual(t, a.ID(), conn.ID())

	mux.Fire(100, api.OpAccept)
	require.Eventually(t, func() bool { return a.Accepted() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, interestIs(mux, 101, api.OpRead), time.Second, time.Millisecond)

	_, err = d.RegisteredOps(a)
	require.NoError(t, err)
	require.EqualValues(t, 3, d.Sequence().Next())
}
