//go:build linux

// File: reactor/epoll_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) multiplexer with an eventfd wakeup.

package reactor

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-io/api"
)

type epollMultiplexer struct {
	epfd   int
	wakefd int
	raw    []unix.EpollEvent

	// guards wakefd against reuse after Close
	mu     sync.RWMutex
	closed bool
}

// NewMultiplexer creates a level-triggered epoll multiplexer.
func NewMultiplexer() (Multiplexer, error) {
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, fmt.Errorf("epoll create: %w", err)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("eventfd: %w", err)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, fmt.Errorf("epoll ctl add eventfd: %w", err)
	}
	return &epollMultiplexer{epfd: epfd, wakefd: wakefd}, nil
}

func epollEvents(ops api.Ops) uint32 {
	var ev uint32
	if ops.Any(api.OpRead | api.OpAccept) {
		ev |= unix.EPOLLIN
	}
	if ops.Any(api.OpWrite | api.OpConnect) {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func (m *epollMultiplexer) ctl(op, fd int, ops api.Ops) error {
	ev := unix.EpollEvent{Events: epollEvents(ops), Fd: int32(fd)}
	return unix.EpollCtl(m.epfd, op, fd, &ev)
}

func (m *epollMultiplexer) Add(fd int, ops api.Ops) error {
	if err := m.ctl(unix.EPOLL_CTL_ADD, fd, ops); err != nil {
		return fmt.Errorf("epoll ctl add fd %d: %w", fd, err)
	}
	return nil
}

func (m *epollMultiplexer) Modify(fd int, ops api.Ops) error {
	if err := m.ctl(unix.EPOLL_CTL_MOD, fd, ops); err != nil {
		return fmt.Errorf("epoll ctl mod fd %d: %w", fd, err)
	}
	return nil
}

func (m *epollMultiplexer) Delete(fd int) error {
	if err := unix.EpollCtl(m.epfd, unix.EPOLL_CTL_DEL, fd, nil); err != nil {
		return fmt.Errorf("epoll ctl del fd %d: %w", fd, err)
	}
	return nil
}

func (m *epollMultiplexer) Wait(events []Event, timeout time.Duration) (int, error) {
	if len(m.raw) < len(events) {
		m.raw = make([]unix.EpollEvent, len(events))
	}
	msec := -1
	if timeout >= 0 {
		// round up so a sub-millisecond deadline is not busy-polled
		msec = int((timeout + time.Millisecond - 1) / time.Millisecond)
	}
	n, err := unix.EpollWait(m.epfd, m.raw[:len(events)], msec)
	if err != nil {
		if errors.Is(err, unix.EINTR) {
			return 0, nil
		}
		return 0, fmt.Errorf("epoll wait: %w", err)
	}
	out := 0
	for i := 0; i < n; i++ {
		raw := m.raw[i]
		if int(raw.Fd) == m.wakefd {
			m.drainWakeup()
			continue
		}
		ev := Event{FD: int(raw.Fd)}
		if raw.Events&unix.EPOLLIN != 0 {
			ev.Ready |= api.OpRead | api.OpAccept
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			ev.Ready |= api.OpWrite | api.OpConnect
		}
		if raw.Events&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
			ev.Ready = api.OpAll
			ev.Hangup = true
		}
		events[out] = ev
		out++
	}
	return out, nil
}

func (m *epollMultiplexer) drainWakeup() {
	var buf [8]byte
	for {
		if _, err := unix.Read(m.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func (m *epollMultiplexer) Wakeup() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return nil
	}
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	if _, err := unix.Write(m.wakefd, buf[:]); err != nil && !errors.Is(err, unix.EAGAIN) {
		return fmt.Errorf("eventfd write: %w", err)
	}
	return nil
}

func (m *epollMultiplexer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	m.closed = true
	return errors.Join(unix.Close(m.wakefd), unix.Close(m.epfd))
}
