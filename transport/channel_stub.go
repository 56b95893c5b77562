//go:build !linux

// File: transport/channel_stub.go
// Author: momentics <momentics@gmail.com>

package transport

import "github.com/momentics/hioload-io/api"

type listener struct{}

func dial(string) (api.Channel, error) { return nil, api.ErrNotSupported }

func listen(string, int) (*listener, error) { return nil, api.ErrNotSupported }

func (*listener) FD() int { return -1 }
func (*listener) Close() error { return nil }
func (*listener) addr() string { return "" }
func (*listener) accept() (api.Channel, string, error) {
	return nil, "", api.ErrNotSupported
}

func isTemporary(error) bool { return false }
