package danmaku

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omochice/live-danmaku/internal/transport"
	"github.com/omochice/live-danmaku/internal/transport/tcp"
	"github.com/omochice/live-danmaku/internal/transport/ws"
	"github.com/omochice/live-danmaku/pkg/protocol"
)

// State is the connection state of a Session.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateLive
	StateClosed
)

// String returns the string representation of State
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateLive:
		return "live"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// signalBuffer is how many transport signals may queue ahead of the loop.
const signalBuffer = 16

// Session is a single connection to a room. It performs the join handshake,
// keeps the heartbeat loop going and turns inbound packets into events.
// A closed Session is never reopened.
//
// All protocol state is owned by one goroutine; listeners are called there.
type Session struct {
	id      string
	roomID  int64
	cfg     Config
	log     *zap.Logger
	conn    transport.Conn
	cancel  context.CancelFunc
	signals chan transport.Signal

	quit     chan struct{}
	quitOnce sync.Once
	done     chan struct{}

	state  atomic.Int32
	online atomic.Int64

	// owned by loop
	heartbeat *time.Timer

	emitter

	waitMu        sync.Mutex
	waiters       *queue.Queue
	waitersClosed bool
}

// NewWSSession connects to cfg.URL over WebSocket.
func NewWSSession(roomID int64, cfg Config, listeners ...Listener) (*Session, error) {
	cfg = cfg.withDefaults()
	return newSession(roomID, cfg, wsDialer(cfg), listeners...)
}

// NewTCPSession connects to cfg.Host:cfg.Port over raw TCP.
func NewTCPSession(roomID int64, cfg Config, listeners ...Listener) (*Session, error) {
	cfg = cfg.withDefaults()
	return newSession(roomID, cfg, tcpDialer(cfg), listeners...)
}

func wsDialer(cfg Config) transport.Dialer {
	return ws.Dialer{
		URL:            cfg.URL,
		Header:         cfg.Header,
		DialTimeout:    cfg.DialTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		MaxMessageSize: int64(cfg.MaxFrameSize),
		Logger:         cfg.Logger,
	}
}

func tcpDialer(cfg Config) transport.Dialer {
	return tcp.Dialer{
		Address:      cfg.TCPAddress(),
		DialTimeout:  cfg.DialTimeout,
		WriteTimeout: cfg.WriteTimeout,
		MaxFrameSize: cfg.MaxFrameSize,
		Logger:       cfg.Logger,
	}
}

// newSession validates the room id and opens the transport. Listeners are
// attached before the transport opens so no event is missed.
func newSession(roomID int64, cfg Config, dialer transport.Dialer, listeners ...Listener) (*Session, error) {
	if err := validateRoomID(roomID); err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:      uuid.NewString(),
		roomID:  roomID,
		cfg:     cfg,
		cancel:  cancel,
		signals: make(chan transport.Signal, signalBuffer),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		waiters: queue.New(),
	}
	s.log = cfg.Logger.With(
		zap.Int64("room", roomID),
		zap.String("session", s.id),
		zap.String("transport", dialer.Name()),
	)
	for _, l := range listeners {
		s.subscribe(l)
	}

	s.conn = dialer.Open(ctx, s.signals)
	go s.loop()
	return s, nil
}

// ID returns the unique id of this session, used in log fields.
func (s *Session) ID() string { return s.id }

// RoomID returns the room this session joined.
func (s *Session) RoomID() int64 { return s.roomID }

// Online returns the last viewer count seen, 0 before the first heartbeat reply.
func (s *Session) Online() int { return int(s.online.Load()) }

// State returns the current connection state.
func (s *Session) State() State { return State(s.state.Load()) }

// Subscribe adds a listener and returns a function removing it.
func (s *Session) Subscribe(l Listener) (unsubscribe func()) {
	return s.subscribe(l)
}

// Send writes raw bytes to the transport. They are dropped if it is not writable.
func (s *Session) Send(data []byte) {
	s.conn.Send(data)
}

// Heartbeat sends a heartbeat request now.
func (s *Session) Heartbeat() {
	s.conn.Send(protocol.EncodeHeartbeat())
}

// GetOnline requests a heartbeat and returns a channel receiving the viewer
// count of the next heartbeat reply. Every call gets its own channel. The
// channel is closed without a value if the session closes first.
func (s *Session) GetOnline() <-chan int {
	ch := make(chan int, 1)

	s.waitMu.Lock()
	if s.waitersClosed {
		s.waitMu.Unlock()
		close(ch)
		return ch
	}
	s.waiters.Add(ch)
	s.waitMu.Unlock()

	s.Heartbeat()
	return ch
}

// Close ends the session. It does not wait; use Done for that. Calling it
// more than once, or from a listener, is safe.
func (s *Session) Close() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Done is closed once the session has closed and emitted Close.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) quitting() bool {
	select {
	case <-s.quit:
		return true
	default:
		return false
	}
}

func (s *Session) loop() {
	defer close(s.done)

	for {
		select {
		case <-s.quit:
			s.teardown(nil)
			return

		case sig := <-s.signals:
			if s.quitting() {
				s.teardown(nil)
				return
			}
			switch sig := sig.(type) {
			case transport.Opened:
				s.onOpen()
			case transport.Message:
				s.onMessage(sig.Data)
			case transport.Closed:
				s.teardown(nil)
				return
			case transport.Failed:
				s.teardown(fmt.Errorf("%w: %w", ErrTransport, sig.Err))
				return
			}

		case <-s.heartbeatC():
			s.log.Debug("heartbeat idle period elapsed")
			s.Heartbeat()
		}
	}
}

func (s *Session) heartbeatC() <-chan time.Time {
	if s.heartbeat == nil {
		return nil
	}
	return s.heartbeat.C
}

func (s *Session) onOpen() {
	data, err := protocol.EncodeJoin(protocol.JoinRequest{
		UID:           s.cfg.UID,
		RoomID:        s.roomID,
		ProtoVer:      s.cfg.ProtocolVersion,
		Platform:      s.cfg.Platform,
		ClientVersion: s.cfg.ClientVersion,
		Type:          2,
		Key:           s.cfg.Key,
		Buvid:         s.cfg.Buvid,
	})
	if err != nil {
		s.log.Error("failed to encode join request", zap.Error(err))
		return
	}
	s.conn.Send(data)
	s.state.Store(int32(StateOpen))
	s.log.Debug("join sent")
	s.emit(Open{})
}

func (s *Session) onMessage(data []byte) {
	packets, err := protocol.Decode(data)
	for _, p := range packets {
		if s.quitting() {
			return
		}
		s.dispatch(p)
	}
	if err != nil {
		s.log.Warn("dropping undecodable data", zap.Int("bytes", len(data)), zap.Error(err))
		s.cfg.Metrics.decodeFailed(s.roomID)
	}
}

func (s *Session) dispatch(p protocol.Packet) {
	s.cfg.Metrics.packet(s.roomID, p.Kind)

	switch p.Kind {
	case protocol.KindWelcome:
		s.state.Store(int32(StateLive))
		s.log.Info("live")
		s.emit(Live{})
		s.Heartbeat()

	case protocol.KindHeartbeat:
		s.online.Store(int64(p.Online))
		s.cfg.Metrics.setOnline(s.roomID, p.Online)
		s.resetHeartbeat()
		s.emit(Heartbeat{Online: p.Online})
		s.resolveWaiters(p.Online)

	case protocol.KindMessage:
		s.emit(Msg{Payload: p.Payload, Raw: p.Raw})
		if cmd := protocol.ParseCommand(p.Payload); cmd.Kind != protocol.CommandNone {
			s.emit(Command{Kind: cmd.Kind, Cmd: cmd.Name, Payload: p.Payload, Raw: p.Raw})
		}
	}
}

func (s *Session) resetHeartbeat() {
	if s.heartbeat == nil {
		s.heartbeat = time.NewTimer(s.cfg.HeartbeatInterval)
		return
	}
	s.heartbeat.Reset(s.cfg.HeartbeatInterval)
}

func (s *Session) resolveWaiters(online int) {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()

	for s.waiters.Length() > 0 {
		ch := s.waiters.Remove().(chan int)
		ch <- online
		close(ch)
	}
}

func (s *Session) closeWaiters() {
	s.waitMu.Lock()
	defer s.waitMu.Unlock()

	s.waitersClosed = true
	for s.waiters.Length() > 0 {
		close(s.waiters.Remove().(chan int))
	}
}

// teardown runs exactly once, on the loop goroutine.
func (s *Session) teardown(cause error) {
	s.state.Store(int32(StateClosed))
	if s.heartbeat != nil {
		s.heartbeat.Stop()
	}
	s.cancel()
	s.conn.Close()
	s.closeWaiters()

	if cause != nil {
		s.log.Warn("session failed", zap.Error(cause))
		s.cfg.Metrics.transportFailed(s.roomID)
		s.emit(Error{Err: cause})
	}
	s.log.Info("closed")
	s.emit(Close{})
}
