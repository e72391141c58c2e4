package danmaku

// Client is a connection to a room, implemented by Session and Supervisor.
type Client interface {
	Subscribe(l Listener) (unsubscribe func())
	Send(data []byte)
	Heartbeat()
	GetOnline() <-chan int
	Online() int
	RoomID() int64
	// Close must not block; the Supervisor calls it while holding its lock.
	Close()
	Done() <-chan struct{}
}

var (
	_ Client = (*Session)(nil)
	_ Client = (*Supervisor)(nil)
)

// SessionFactory creates a fresh session for roomID with l already attached.
type SessionFactory func(roomID int64, l Listener) (Client, error)

// WSFactory creates WebSocket sessions with cfg.
func WSFactory(cfg Config) SessionFactory {
	return func(roomID int64, l Listener) (Client, error) {
		s, err := NewWSSession(roomID, cfg, l)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// TCPFactory creates TCP sessions with cfg.
func TCPFactory(cfg Config) SessionFactory {
	return func(roomID int64, l Listener) (Client, error) {
		s, err := NewTCPSession(roomID, cfg, l)
		if err != nil {
			return nil, err
		}
		return s, nil
	}
}

// NewWS returns a Supervisor keeping a WebSocket session to roomID alive.
func NewWS(roomID int64, cfg Config, listeners ...Listener) (*Supervisor, error) {
	cfg = cfg.withDefaults()
	return NewSupervisor(roomID, cfg, WSFactory(cfg), listeners...)
}

// NewTCP returns a Supervisor keeping a TCP session to roomID alive.
func NewTCP(roomID int64, cfg Config, listeners ...Listener) (*Supervisor, error) {
	cfg = cfg.withDefaults()
	return NewSupervisor(roomID, cfg, TCPFactory(cfg), listeners...)
}
