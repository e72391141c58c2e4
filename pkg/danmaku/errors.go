package danmaku

import "errors"

var (
	// ErrInvalidRoomID is returned at construction for a non-positive or
	// non-integer room id. It is never retried.
	ErrInvalidRoomID = errors.New("invalid room id")

	// ErrTransport wraps failures reported by the underlying socket.
	ErrTransport = errors.New("transport error")

	// ErrTimeout is reported when no heartbeat arrived within the liveness window.
	ErrTimeout = errors.New("liveness timeout")

	// ErrClosed is returned when operating on a closed client.
	ErrClosed = errors.New("client closed")
)
