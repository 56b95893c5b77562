package transport

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/fake"
	"github.com/momentics/hioload-io/reactor"
)

type recorder struct {
	BaseSession
	onReceive func(c *Connection, data []byte) api.Ops

	mu     sync.Mutex
	data   bytes.Buffer
	closes atomic.Int32
	closed chan error
}

func newRecorder() *recorder {
	return &recorder{closed: make(chan error, 2)}
}

func (r *recorder) Receive(c *Connection, data []byte) api.Ops {
	r.mu.Lock()
	r.data.Write(data)
	r.mu.Unlock()
	if r.onReceive != nil {
		return r.onReceive(c, data)
	}
	return api.OpRead
}

func (r *recorder) Closed(_ *Connection, err error) {
	r.closes.Add(1)
	select {
	case r.closed <- err:
	default:
	}
}

func (r *recorder) received() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data.String()
}

func (r *recorder) waitClosed(t *testing.T) error {
	t.Helper()
	select {
	case err := <-r.closed:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session was not closed")
		return nil
	}
}

func echo(c *Connection, data []byte) api.Ops {
	_, _ = c.Write(data)
	return api.OpRead
}

func newLoop(t *testing.T) (*reactor.Dispatcher, *fake.Multiplexer) {
	t.Helper()
	mux := fake.NewMultiplexer()
	d, err := reactor.New(reactor.WithMultiplexer(mux.Factory()), reactor.WithMaxWait(10*time.Millisecond))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Error("dispatcher did not stop")
		}
	})
	return d, mux
}

// barrier returns once every task submitted to d before it has run.
func barrier(t *testing.T, d *reactor.Dispatcher) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, d.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not run tasks")
	}
}

func connectFake(t *testing.T, d *reactor.Dispatcher, ch api.Channel, s Session, timeout time.Duration, opts ...Option) *ConnectFuture {
	t.Helper()
	cn := NewConnector(d, opts...)
	cn.dial = func(string) (api.Channel, error) { return ch, nil }
	f, err := cn.Connect("192.0.2.1:7", s, timeout)
	require.NoError(t, err)
	return f
}

func openConn(t *testing.T, d *reactor.Dispatcher, ch *fake.Channel, s Session, opts ...Option) *Connection {
	t.Helper()
	c := newConnection(int64(ch.FD()), ch, s, "198.51.100.1:4000", api.StateOpen, newOptions(opts))
	require.NoError(t, c.Register(d, 0))
	barrier(t, d)
	return c
}

func interestIs(mux *fake.Multiplexer, fd int, want api.Ops) func() bool {
	return func() bool {
		ops, ok := mux.Interest(fd)
		return ok && ops == want
	}
}

func TestConnectTimesOut(t *testing.T) {
	d, _ := newLoop(t)
	ch := fake.NewChannel(5)
	s := newRecorder()

	const timeout = 60 * time.Millisecond
	begin := time.Now()
	f := connectFake(t, d, ch, s, timeout)
	conn, err := f.Get()
	elapsed := time.Since(begin)

	require.Nil(t, conn)
	require.ErrorIs(t, err, api.ErrConnectTimeout)
	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)
	require.Equal(t, "192.0.2.1:7", cerr.Addr)
	require.GreaterOrEqual(t, elapsed, timeout)
	require.False(t, f.IsCancelled())

	require.ErrorIs(t, s.waitClosed(t), api.ErrConnectTimeout)
	require.Equal(t, 1, ch.Closes())
}

func TestConnectCompletes(t *testing.T) {
	d, mux := newLoop(t)
	ch := fake.NewChannel(5)
	s := newRecorder()

	f := connectFake(t, d, ch, s, 50*time.Millisecond)
	ops, ok := mux.Interest(5)
	require.True(t, ok)
	require.Equal(t, api.OpConnect, ops)
	require.False(t, f.IsDone())

	mux.Fire(5, api.OpWrite|api.OpConnect)
	conn, err := f.Get()
	require.NoError(t, err)
	require.Equal(t, api.StateOpen, conn.State())
	require.Eventually(t, interestIs(mux, 5, api.OpRead), time.Second, time.Millisecond)

	// the connect deadline must have been disarmed
	time.Sleep(120 * time.Millisecond)
	require.Equal(t, api.StateOpen, conn.State())
	require.Zero(t, s.closes.Load())
}

func TestSetInterestWhileConnectingAppliesOnOpen(t *testing.T) {
	d, mux := newLoop(t)
	ch := fake.NewChannel(6)
	s := newRecorder()
	reg := NewRegistry(2)

	f := connectFake(t, d, ch, s, time.Second, WithRegistry(reg))
	conn, ok := reg.Get(0)
	require.True(t, ok)
	require.Equal(t, api.StateConnecting, conn.State())
	require.NoError(t, conn.SetInterest(api.OpWrite))
	barrier(t, d)

	mux.Fire(6, api.OpConnect)
	_, err := f.Get()
	require.NoError(t, err)
	require.Eventually(t, interestIs(mux, 6, api.OpWrite), time.Second, time.Millisecond)
}

func TestConnectFailureFailsFuture(t *testing.T) {
	d, mux := newLoop(t)
	ch := fake.NewChannel(5)
	refused := errors.New("connection refused")
	ch.FailConnect(refused)
	s := newRecorder()

	f := connectFake(t, d, ch, s, time.Second)
	mux.Hangup(5)
	_, err := f.Get()
	require.ErrorIs(t, err, refused)
	var cerr *ConnectError
	require.ErrorAs(t, err, &cerr)

	require.ErrorIs(t, s.waitClosed(t), refused)
	require.Equal(t, 1, ch.Closes())
	require.EqualValues(t, 1, s.closes.Load())
}

func TestConnectValidation(t *testing.T) {
	d, _ := newLoop(t)
	cn := NewConnector(d)
	_, err := cn.Connect("192.0.2.1:7", nil, time.Second)
	require.ErrorIs(t, err, api.ErrInvalidArgument)
	_, err = cn.Connect("192.0.2.1:7", newRecorder(), 0)
	require.ErrorIs(t, err, api.ErrInvalidArgument)

	boom := errors.New("no route")
	cn.dial = func(string) (api.Channel, error) { return nil, boom }
	_, err = cn.Connect("192.0.2.1:7", newRecorder(), time.Second)
	require.ErrorIs(t, err, boom)
	require.Contains(t, err.Error(), "connect 192.0.2.1:7")
}

func TestCancelClosesPendingConnect(t *testing.T) {
	d, _ := newLoop(t)
	ch := fake.NewChannel(5)
	s := newRecorder()

	f := connectFake(t, d, ch, s, 5*time.Second)
	require.True(t, f.Cancel())
	require.True(t, f.IsCancelled())
	require.True(t, f.IsDone())
	_, err := f.Get()
	require.ErrorIs(t, err, api.ErrCancelled)

	require.ErrorIs(t, s.waitClosed(t), api.ErrCancelled)
	require.Equal(t, 1, ch.Closes())
	require.False(t, f.Cancel())
}

func TestShutdownWhileConnectingFailsFuture(t *testing.T) {
	d, _ := newLoop(t)
	ch := fake.NewChannel(5)
	s := newRecorder()
	reg := NewRegistry(1)

	f := connectFake(t, d, ch, s, 5*time.Second, WithRegistry(reg))
	conn, ok := reg.Get(0)
	require.True(t, ok)
	require.NoError(t, conn.Shutdown(false))

	_, err := f.Get()
	require.ErrorIs(t, err, api.ErrClosedWhileConnecting)
	require.NoError(t, s.waitClosed(t))
	require.Eventually(t, func() bool { return reg.Len() == 0 }, time.Second, time.Millisecond)
}

func TestAcceptedConnectionEchoesWithPartialWrites(t *testing.T) {
	d, mux := newLoop(t)
	ch := fake.NewChannel(9)
	s := newRecorder()
	s.onReceive = echo
	c := openConn(t, d, ch, s)

	require.True(t, c.Future().IsDone())
	require.False(t, c.Future().Cancel())
	require.Eventually(t, interestIs(mux, 9, api.OpRead), time.Second, time.Millisecond)

	ch.SetWriteLimit(3)
	ch.Feed([]byte("hello world"))
	mux.Fire(9, api.OpRead)
	require.Eventually(t, func() bool { return c.TxBytes() == 3 }, time.Second, time.Millisecond)
	require.EqualValues(t, 11, c.RxBytes())
	require.Equal(t, "hello world", s.received())
	require.Eventually(t, interestIs(mux, 9, api.OpRead|api.OpWrite), time.Second, time.Millisecond)

	for i := 0; i < 3; i++ {
		mux.Fire(9, api.OpWrite)
	}
	require.Eventually(t, func() bool { return c.TxBytes() == 11 }, time.Second, time.Millisecond)
	require.Equal(t, "hello world", string(ch.Written()))
	require.Eventually(t, interestIs(mux, 9, api.OpRead), time.Second, time.Millisecond)
}

func TestPeerEOFClosesConnection(t *testing.T) {
	d, mux := newLoop(t)
	ch := fake.NewChannel(9)
	s := newRecorder()
	c := openConn(t, d, ch, s)

	ch.Feed([]byte("x"))
	ch.FeedEOF()
	mux.Fire(9, api.OpRead)
	require.ErrorIs(t, s.waitClosed(t), io.EOF)
	require.Equal(t, "x", s.received())
	require.Equal(t, api.StateClosed, c.State())
	require.Equal(t, 1, ch.Closes())
	require.ErrorIs(t, c.Send([]byte("late")), api.ErrConnectionClosed)
}

func TestShutdownDrainsQueue(t *testing.T) {
	d, mux := newLoop(t)
	ch := fake.NewChannel(9)
	s := newRecorder()
	c := openConn(t, d, ch, s)

	ch.SetWriteLimit(0)
	require.NoError(t, c.Send([]byte("bye")))
	require.NoError(t, c.Shutdown(true))
	barrier(t, d)
	require.Equal(t, api.StateClosing, c.State())
	require.Eventually(t, interestIs(mux, 9, api.OpWrite), time.Second, time.Millisecond)
	require.ErrorIs(t, c.Send([]byte("more")), api.ErrConnectionClosed)

	ch.SetWriteLimit(-1)
	mux.Fire(9, api.OpWrite)
	require.NoError(t, s.waitClosed(t))
	require.Equal(t, "bye", string(ch.Written()))
	require.EqualValues(t, 3, c.TxBytes())
	require.Equal(t, api.StateClosed, c.State())
}

func TestDrainTimeoutCloses(t *testing.T) {
	d, _ := newLoop(t)
	ch := fake.NewChannel(9)
	s := newRecorder()
	c := openConn(t, d, ch, s, WithDrainTimeout(40*time.Millisecond))

	ch.SetWriteLimit(0)
	require.NoError(t, c.Send([]byte("stuck")))
	require.NoError(t, c.Shutdown(true))
	require.ErrorIs(t, s.waitClosed(t), api.ErrDrainTimeout)
	require.Zero(t, c.TxBytes())
}

func TestIdleTimeoutCloses(t *testing.T) {
	d, _ := newLoop(t)
	ch := fake.NewChannel(9)
	s := newRecorder()
	begin := time.Now()
	openConn(t, d, ch, s, WithIdleTimeout(40*time.Millisecond))

	require.ErrorIs(t, s.waitClosed(t), api.ErrIdleTimeout)
	require.GreaterOrEqual(t, time.Since(begin), 40*time.Millisecond)
}

type keepalive struct {
	*recorder
	idles atomic.Int32
}

func (k *keepalive) Idle(*Connection) bool { return k.idles.Add(1) == 1 }

func TestIdleHandlerExtendsConnection(t *testing.T) {
	d, _ := newLoop(t)
	ch := fake.NewChannel(9)
	s := &keepalive{recorder: newRecorder()}
	openConn(t, d, ch, s, WithIdleTimeout(30*time.Millisecond))

	require.ErrorIs(t, s.waitClosed(t), api.ErrIdleTimeout)
	require.EqualValues(t, 2, s.idles.Load())
}

func TestAbortRecordsCause(t *testing.T) {
	d, _ := newLoop(t)
	ch := fake.NewChannel(9)
	s := newRecorder()
	c := openConn(t, d, ch, s)

	boom := errors.New("boom")
	require.NoError(t, c.Abort(boom))
	require.ErrorIs(t, s.waitClosed(t), boom)
	require.NoError(t, c.Close())
	require.EqualValues(t, 1, s.closes.Load())
	require.Equal(t, 1, ch.Closes())
}

func TestWriteFailureClosesConnection(t *testing.T) {
	d, _ := newLoop(t)
	ch := fake.NewChannel(9)
	s := newRecorder()
	c := openConn(t, d, ch, s)

	broken := errors.New("broken pipe")
	ch.FailWrite(broken)
	require.NoError(t, c.Send([]byte("x")))
	require.ErrorIs(t, s.waitClosed(t), broken)
}

func TestUnregisteredConnection(t *testing.T) {
	s := newRecorder()
	c := newConnection(1, fake.NewChannel(3), s, "peer", api.StateOpen, newOptions(nil))
	require.ErrorIs(t, c.Send([]byte("x")), api.ErrNotRegistered)
	_, err := c.Write([]byte("x"))
	require.ErrorIs(t, err, api.ErrNotRegistered)

	require.NoError(t, c.Abort(api.ErrCancelled))
	require.ErrorIs(t, s.waitClosed(t), api.ErrCancelled)
	require.Equal(t, api.StateClosed, c.State())
}

// ackSession considers the connection drained once everything queued was
// sent and the peer echoed every byte.
type ackSession struct {
	*recorder
}

func (ackSession) Drained(c *Connection) bool {
	return c.Queued() == 0 && c.RxBytes() >= c.TxBytes()
}

func TestDrainerWaitsForPeerAcknowledgement(t *testing.T) {
	d, mux := newLoop(t)
	ch := fake.NewChannel(9)
	s := ackSession{recorder: newRecorder()}
	c := openConn(t, d, ch, s)

	require.NoError(t, c.Send([]byte("bye")))
	require.NoError(t, c.Shutdown(true))
	barrier(t, d)
	require.Equal(t, api.StateClosing, c.State())
	require.EqualValues(t, 3, c.TxBytes())
	require.Eventually(t, interestIs(mux, 9, api.OpRead), time.Second, time.Millisecond)

	ch.Feed([]byte("by"))
	mux.Fire(9, api.OpRead)
	barrier(t, d)
	require.Equal(t, api.StateClosing, c.State())
	require.EqualValues(t, 2, c.RxBytes())

	ch.Feed([]byte("e"))
	mux.Fire(9, api.OpRead)
	require.NoError(t, s.waitClosed(t))
	require.Equal(t, "bye", s.received())
	require.Equal(t, api.StateClosed, c.State())
}

func TestDrainerPeerEOFAfterAckIsOrderly(t *testing.T) {
	d, mux := newLoop(t)
	ch := fake.NewChannel(9)
	s := ackSession{recorder: newRecorder()}
	c := openConn(t, d, ch, s)

	ch.SetWriteLimit(0)
	require.NoError(t, c.Send([]byte("x")))
	require.NoError(t, c.Shutdown(true))
	barrier(t, d)
	require.Eventually(t, interestIs(mux, 9, api.OpRead|api.OpWrite), time.Second, time.Millisecond)

	ch.SetWriteLimit(-1)
	mux.Fire(9, api.OpWrite)
	require.Eventually(t, func() bool { return c.TxBytes() == 1 }, time.Second, time.Millisecond)
	require.Eventually(t, interestIs(mux, 9, api.OpRead), time.Second, time.Millisecond)
	require.Equal(t, api.StateClosing, c.State())

	ch.Feed([]byte("x"))
	ch.FeedEOF()
	mux.Fire(9, api.OpRead)
	require.NoError(t, s.waitClosed(t))
	require.EqualValues(t, 1, c.TxBytes())
	require.EqualValues(t, 1, c.RxBytes())
}

func TestDrainTimeoutDefaultsWhenUnset(t *testing.T) {
	require.Equal(t, DefaultDrainTimeout, newOptions(nil).drainTimeout)
	require.Equal(t, DefaultDrainTimeout, newOptions([]Option{WithDrainTimeout(0)}).drainTimeout)
	if testing.Short() {
		t.Skip("waits for the default drain timeout")
	}

	d, _ := newLoop(t)
	ch := fake.NewChannel(9)
	s := newRecorder()
	c := openConn(t, d, ch, s)

	ch.SetWriteLimit(0)
	require.NoError(t, c.Send([]byte("stuck")))
	begin := time.Now()
	require.NoError(t, c.Shutdown(true))
	select {
	case err := <-s.closed:
		require.ErrorIs(t, err, api.ErrDrainTimeout)
		require.GreaterOrEqual(t, time.Since(begin), DefaultDrainTimeout)
	case <-time.After(DefaultDrainTimeout + 3*time.Second):
		t.Fatal("CLOSING connection was never bounded by a drain deadline")
	}
}
