//go:build linux

package transport_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/internal/logging"
	"github.com/momentics/hioload-io/reactor"
	"github.com/momentics/hioload-io/transport"
)

type echoSession struct{ transport.BaseSession }

func (echoSession) Receive(c *transport.Connection, data []byte) api.Ops {
	_, _ = c.Write(data)
	return api.OpRead
}

type clientSession struct {
	transport.BaseSession
	got chan string
}

func (s clientSession) Receive(_ *transport.Connection, data []byte) api.Ops {
	s.got <- string(data)
	return api.OpRead
}

func runGroup(t *testing.T, g *reactor.Group) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- g.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("group did not stop")
		}
	})
}

func TestLoopbackEcho(t *testing.T) {
	log := logging.NewTestLogger()
	g, err := reactor.NewGroup(2, reactor.WithLogger(log), reactor.WithMaxWait(50*time.Millisecond))
	require.NoError(t, err)
	runGroup(t, g)

	seq := api.NewSequence(1)
	reg := transport.NewRegistry(8)
	a, err := transport.Listen("127.0.0.1:0", g, func(string) transport.Session { return echoSession{} },
		transport.WithSequence(seq), transport.WithLogger(log), transport.WithRegistry(reg))
	require.NoError(t, err)
	require.NotEmpty(t, a.Addr())

	cn := transport.NewConnector(g, transport.WithSequence(seq), transport.WithLogger(log))
	s := clientSession{got: make(chan string, 4)}
	f, err := cn.Connect(a.Addr(), s, 2*time.Second)
	require.NoError(t, err)
	conn, err := f.GetTimeout(3 * time.Second)
	require.NoError(t, err)
	require.Equal(t, api.StateOpen, conn.State())

	require.NoError(t, conn.Send([]byte("ping")))
	select {
	case got := <-s.got:
		require.Equal(t, "ping", got)
	case <-time.After(3 * time.Second):
		t.Fatal("no echo")
	}
	require.EqualValues(t, 4, conn.TxBytes())
	require.Eventually(t, func() bool { return a.Accepted() == 1 && reg.Len() == 1 }, 2*time.Second, 5*time.Millisecond)

	require.NoError(t, conn.Shutdown(true))
	require.Eventually(t, func() bool { return conn.State() == api.StateClosed }, 2*time.Second, 5*time.Millisecond)
	// the server side sees EOF and closes too
	require.Eventually(t, func() bool { return reg.Len() == 0 }, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, a.Shutdown())
}

func TestLoopbackRefused(t *testing.T) {
	d, err := reactor.New(reactor.WithMaxWait(50 * time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = d.Run(ctx) }()

	// grab a free port, then release it so nothing listens there
	a, err := transport.Listen("127.0.0.1:0", d, func(string) transport.Session { return transport.BaseSession{} })
	require.NoError(t, err)
	addr := a.Addr()
	require.NoError(t, a.Shutdown())
	require.Eventually(t, func() bool {
		_, err := d.RegisteredOps(a)
		return err != nil
	}, 2*time.Second, 5*time.Millisecond)

	cn := transport.NewConnector(d)
	f, err := cn.Connect(addr, transport.BaseSession{}, 2*time.Second)
	if err == nil {
		_, err = f.GetTimeout(3 * time.Second)
	}
	require.ErrorIs(t, err, unix.ECONNREFUSED)
	var cerr *transport.ConnectError
	require.ErrorAs(t, err, &cerr)
}
