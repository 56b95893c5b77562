//go:build !linux

// File: reactor/multiplexer_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

import (
	"fmt"

	"github.com/momentics/hioload-io/api"
)

// NewMultiplexer returns an error for unsupported platforms. Supply a
// multiplexer through WithMultiplexer instead.
func NewMultiplexer() (Multiplexer, error) {
	return nil, fmt.Errorf("reactor: epoll multiplexer: %w", api.ErrNotSupported)
}
