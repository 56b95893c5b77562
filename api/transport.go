// File: api/transport.go
// Author: momentics <momentics@gmail.com>
//
// Socket-like channel abstraction consumed by connections and acceptors.

package api

// Channel abstracts a non-blocking, full-duplex OS channel.
type Channel interface {
	// FD returns the underlying OS-level file descriptor.
	FD() int

	// Read reads into p. It returns ErrWouldBlock when no data is pending and
	// io.EOF once the peer has closed its side.
	Read(p []byte) (n int, err error)

	// Write writes as much of p as the channel accepts right now; n may be
	// smaller than len(p), including zero when the send buffer is full.
	Write(p []byte) (n int, err error)

	// FinishConnect completes an in-progress outbound connect, returning the
	// OS-level connect error if it failed.
	FinishConnect() error

	// Close releases the descriptor back to the OS.
	Close() error
}
