// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-memory non-blocking channel.

package fake

import (
	"bytes"
	"io"
	"sync"

	"github.com/momentics/hioload-io/api"
)

// Channel is an in-memory api.Channel. Tests feed inbound bytes, limit how
// much each Write accepts and inject failures.
type Channel struct {
	mu         sync.Mutex
	fd         int
	in         bytes.Buffer
	eof        bool
	out        bytes.Buffer
	writeLimit int
	readErr    error
	writeErr   error
	connectErr error
	closes     int
}

var _ api.Channel = (*Channel)(nil)

// NewChannel creates a channel reporting fd. Writes are unlimited.
func NewChannel(fd int) *Channel {
	return &Channel{fd: fd, writeLimit: -1}
}

func (c *Channel) FD() int { return c.fd }

// Feed appends inbound data.
func (c *Channel) Feed(p []byte) {
	c.mu.Lock()
	c.in.Write(p)
	c.mu.Unlock()
}

// FeedEOF marks the end of inbound data.
func (c *Channel) FeedEOF() {
	c.mu.Lock()
	c.eof = true
	c.mu.Unlock()
}

// SetWriteLimit caps the bytes accepted per Write; negative means unlimited
// and zero means the channel is full.
func (c *Channel) SetWriteLimit(n int) {
	c.mu.Lock()
	c.writeLimit = n
	c.mu.Unlock()
}

// FailRead makes every Read return err.
func (c *Channel) FailRead(err error) {
	c.mu.Lock()
	c.readErr = err
	c.mu.Unlock()
}

// FailWrite makes every Write return err.
func (c *Channel) FailWrite(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// FailConnect makes FinishConnect return err.
func (c *Channel) FailConnect(err error) {
	c.mu.Lock()
	c.connectErr = err
	c.mu.Unlock()
}

func (c *Channel) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return 0, api.ErrConnectionClosed
	}
	if c.readErr != nil {
		return 0, c.readErr
	}
	if c.in.Len() == 0 {
		if c.eof {
			return 0, io.EOF
		}
		return 0, api.ErrWouldBlock
	}
	return c.in.Read(p)
}

func (c *Channel) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closes > 0 {
		return 0, api.ErrConnectionClosed
	}
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	n := len(p)
	if c.writeLimit >= 0 && n > c.writeLimit {
		n = c.writeLimit
	}
	c.out.Write(p[:n])
	return n, nil
}

// Written returns a copy of everything accepted so far.
func (c *Channel) Written() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return bytes.Clone(c.out.Bytes())
}

func (c *Channel) FinishConnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connectErr
}

func (c *Channel) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

// Closes returns how many times Close was called.
func (c *Channel) Closes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
