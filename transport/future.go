// File: transport/future.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Settle-once result of an asynchronous connect.

package transport

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/momentics/hioload-io/api"
)

// ConnectFuture completes with the OPEN connection or with the reason the
// connect failed. It settles exactly once; later attempts are ignored.
type ConnectFuture struct {
	done chan struct{}

	mu        sync.Mutex
	settled   bool
	cancelled bool
	conn      *Connection
	err       error
	onCancel  func()
}

func newConnectFuture() *ConnectFuture {
	return &ConnectFuture{done: make(chan struct{})}
}

func (f *ConnectFuture) settle(c *Connection, err error, cancelled bool) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.settled {
		return false
	}
	f.settled, f.cancelled = true, cancelled
	f.conn, f.err = c, err
	close(f.done)
	return true
}

func (f *ConnectFuture) setFinishedOk(c *Connection) bool { return f.settle(c, nil, false) }

func (f *ConnectFuture) setFailed(err error) bool { return f.settle(nil, err, false) }

func (f *ConnectFuture) result() (*Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conn, f.err
}

// Get blocks until the future settles.
func (f *ConnectFuture) Get() (*Connection, error) {
	<-f.done
	return f.result()
}

// GetTimeout waits at most d. On expiry it returns api.ErrFutureTimeout and
// the future is left as it was.
func (f *ConnectFuture) GetTimeout(d time.Duration) (*Connection, error) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-f.done:
		return f.result()
	case <-t.C:
		return nil, api.ErrFutureTimeout
	}
}

// Wait blocks until the future settles or ctx ends. Cancellation through ctx
// does not cancel the connect.
func (f *ConnectFuture) Wait(ctx context.Context) (*Connection, error) {
	select {
	case <-f.done:
		return f.result()
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: %w", api.ErrInterrupted, ctx.Err())
	}
}

// Cancel settles a pending future as cancelled and closes the connection.
// It returns false if the future had already settled.
func (f *ConnectFuture) Cancel() bool {
	if !f.settle(nil, api.ErrCancelled, true) {
		return false
	}
	f.mu.Lock()
	onCancel := f.onCancel
	f.mu.Unlock()
	if onCancel != nil {
		onCancel()
	}
	return true
}

// Done is closed once the future settles.
func (f *ConnectFuture) Done() <-chan struct{} { return f.done }

// IsDone reports whether the future has settled.
func (f *ConnectFuture) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// IsCancelled reports whether Cancel settled the future.
func (f *ConnectFuture) IsCancelled() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cancelled
}
