package transport

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-io/api"
)

func TestFutureSettlesOnce(t *testing.T) {
	f := newConnectFuture()
	first := errors.New("first")
	require.True(t, f.setFailed(first))
	require.False(t, f.setFailed(errors.New("second")))
	require.False(t, f.setFinishedOk(&Connection{}))
	require.False(t, f.Cancel())

	conn, err := f.Get()
	require.Nil(t, conn)
	require.Same(t, first, err)
	require.True(t, f.IsDone())
	require.False(t, f.IsCancelled())
}

func TestFutureGetTimeoutLeavesStateUnchanged(t *testing.T) {
	f := newConnectFuture()
	begin := time.Now()
	_, err := f.GetTimeout(20 * time.Millisecond)
	require.ErrorIs(t, err, api.ErrFutureTimeout)
	require.GreaterOrEqual(t, time.Since(begin), 20*time.Millisecond)
	require.False(t, f.IsDone())

	c := &Connection{}
	go func() {
		time.Sleep(10 * time.Millisecond)
		f.setFinishedOk(c)
	}()
	got, err := f.GetTimeout(2 * time.Second)
	require.NoError(t, err)
	require.Same(t, c, got)
}

func TestFutureWaitInterrupted(t *testing.T) {
	f := newConnectFuture()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := f.Wait(ctx)
	require.ErrorIs(t, err, api.ErrInterrupted)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, f.IsDone())
}

func TestFutureCancelRunsHook(t *testing.T) {
	f := newConnectFuture()
	calls := 0
	f.onCancel = func() { calls++ }
	require.True(t, f.Cancel())
	require.False(t, f.Cancel())
	require.Equal(t, 1, calls)
	select {
	case <-f.Done():
	default:
		t.Fatal("done not closed")
	}
	_, err := f.Wait(context.Background())
	require.ErrorIs(t, err, api.ErrCancelled)
}
