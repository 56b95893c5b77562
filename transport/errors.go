// File: transport/errors.go
// Author: momentics <momentics@gmail.com>

package transport

// ConnectError reports a failed or timed out outbound connect.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return "connect " + e.Addr + ": " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }
