package danmaku

import (
	"slices"
	"sync"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/omochice/live-danmaku/pkg/protocol"
)

// Event is something a Session or Supervisor reports to its listeners.
type Event interface {
	// Name is the event name: "open", "live", "heartbeat", "msg", the command
	// name for Command, "close", "error" or "timeout".
	Name() string
	isEvent()
}

// Open is emitted once the transport is writable and the join was sent.
type Open struct{}

// Live is emitted when the server acknowledged the join.
type Live struct{}

// Heartbeat carries the viewer count from a heartbeat reply.
type Heartbeat struct {
	Online int
}

// Msg carries every message packet, whatever its command. Numbers in Payload
// are float64, so integers above 2^53 lose precision; Raw holds the body as
// received.
type Msg struct {
	Payload *structpb.Struct
	Raw     []byte
}

// Command is a message packet routed by its command. Cmd is DANMU_MSG for
// every chat message variant and the verbatim command otherwise.
type Command struct {
	Kind    protocol.CommandKind
	Cmd     string
	Payload *structpb.Struct
	Raw     []byte
}

// Close is emitted once when a session ends, whatever the cause.
type Close struct{}

// Error is emitted before Close when a session ends because of a transport error.
type Error struct {
	Err error
}

// Timeout is emitted by a Supervisor when the liveness window elapsed
// without a heartbeat. The session is closed right after.
type Timeout struct{}

func (Open) Name() string      { return "open" }
func (Live) Name() string      { return "live" }
func (Heartbeat) Name() string { return "heartbeat" }
func (Msg) Name() string       { return "msg" }
func (c Command) Name() string { return c.Cmd }
func (Close) Name() string     { return "close" }
func (Error) Name() string     { return "error" }
func (Timeout) Name() string   { return "timeout" }

func (e Error) Error() string {
	if e.Err == nil {
		return ErrTransport.Error()
	}
	return e.Err.Error()
}

// Unwrap returns the underlying error.
func (e Error) Unwrap() error { return e.Err }

// Err returns ErrTimeout.
func (Timeout) Err() error { return ErrTimeout }

func (Open) isEvent()      {}
func (Live) isEvent()      {}
func (Heartbeat) isEvent() {}
func (Msg) isEvent()       {}
func (Command) isEvent()   {}
func (Close) isEvent()     {}
func (Error) isEvent()     {}
func (Timeout) isEvent()   {}

// Listener receives events synchronously, in emission order. It runs on the
// emitting session's goroutine and must not block for long.
type Listener func(Event)

type subscription struct {
	fn Listener
}

// emitter fans events out to the current listeners.
type emitter struct {
	mu   sync.RWMutex
	subs []*subscription
}

func (e *emitter) subscribe(fn Listener) func() {
	sub := &subscription{fn: fn}
	e.mu.Lock()
	e.subs = append(e.subs, sub)
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		defer e.mu.Unlock()
		e.subs = slices.DeleteFunc(e.subs, func(s *subscription) bool { return s == sub })
	}
}

func (e *emitter) emit(ev Event) {
	e.mu.RLock()
	subs := slices.Clone(e.subs)
	e.mu.RUnlock()

	for _, sub := range subs {
		sub.fn(ev)
	}
}
