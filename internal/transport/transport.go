// Package transport defines the contract between a protocol session and the
// socket that carries it.
package transport

import "context"

// Signal is a lifecycle notification from a transport adapter.
type Signal interface{ isSignal() }

// Opened reports that the connection became writable.
type Opened struct{}

// Message carries one complete inbound buffer.
type Message struct {
	Data []byte
}

// Closed reports a clean close. No further signals follow.
type Closed struct{}

// Failed reports a transport error. No further signals follow.
type Failed struct {
	Err error
}

func (Opened) isSignal()  {}
func (Message) isSignal() {}
func (Closed) isSignal()  {}
func (Failed) isSignal()  {}

// Conn abstracts an outbound connection for both TCP and WebSocket.
// This interface isolates transport details from protocol logic.
type Conn interface {
	// Send writes one buffer. It is dropped silently unless the connection
	// is currently writable. Safe for concurrent use.
	Send(data []byte)

	// Close closes the connection. Calling it more than once is a no-op.
	Close() error
}

// Dialer opens connections. Open returns immediately; the connection is
// established in the background and reported through sink.
type Dialer interface {
	Open(ctx context.Context, sink chan<- Signal) Conn

	// Name identifies the transport kind for logging.
	Name() string
}

// Emit delivers sig to sink unless ctx is done first.
func Emit(ctx context.Context, sink chan<- Signal, sig Signal) bool {
	select {
	case sink <- sig:
		return true
	case <-ctx.Done():
		return false
	}
}
