// Package mockserver is an in-process danmaku server for tests and local
// development. It speaks the packet protocol over raw TCP and WebSocket on a
// single port, and lets the caller push messages and break connections.
package mockserver

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/omochice/live-danmaku/internal/transport/tcp"
	"github.com/omochice/live-danmaku/pkg/protocol"
)

const (
	outgoingBuffer = 64
	// peekTimeout bounds how long a silent connection may hold up Stop.
	peekTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for simplicity
	},
}

type client struct {
	id       string
	kind     string
	conn     Connection
	outgoing chan []byte
}

// Server accepts danmaku clients. The zero value is not usable; use New.
type Server struct {
	address      string
	listener     net.Listener
	log          *zap.Logger
	maxFrameSize int

	mu          sync.RWMutex
	clients     map[*client]bool
	joins       []protocol.JoinRequest
	heartbeats  int
	online      int
	silent      bool
	compression protocol.Version

	quit     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger. The default discards everything.
func WithLogger(log *zap.Logger) Option {
	return func(s *Server) { s.log = log }
}

// WithOnline sets the initial viewer count sent in heartbeat replies.
func WithOnline(online int) Option {
	return func(s *Server) { s.online = online }
}

// New creates a Server that will listen on address, e.g. "127.0.0.1:0".
func New(address string, opts ...Option) *Server {
	s := &Server{
		address:      address,
		log:          zap.NewNop(),
		maxFrameSize: tcp.DefaultMaxFrameSize,
		clients:      make(map[*client]bool),
		online:       1,
		compression:  protocol.VersionJSON,
		quit:         make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start listens and serves in the background.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}
	s.listener = listener
	s.log.Info("mock server started", zap.String("addr", listener.Addr().String()))

	s.wg.Add(1)
	go s.acceptConnections()
	return nil
}

// Stop closes the listener and every connection, and waits for them to finish.
func (s *Server) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.listener != nil {
			s.listener.Close()
		}
		s.DropAll()
	})
	s.wg.Wait()
}

// Addr returns the listening address.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return ""
}

// URL returns the WebSocket endpoint on the listening address.
func (s *Server) URL() string {
	return "ws://" + s.Addr() + "/sub"
}

// HostPort splits Addr for TCP client configuration.
func (s *Server) HostPort() (string, int) {
	host, port, err := net.SplitHostPort(s.Addr())
	if err != nil {
		return "", 0
	}
	p, _ := strconv.Atoi(port)
	return host, p
}

// ClientCount returns the number of connected clients
func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Joins returns every join request received so far.
func (s *Server) Joins() []protocol.JoinRequest {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]protocol.JoinRequest(nil), s.joins...)
}

// Heartbeats returns how many heartbeat requests were received.
func (s *Server) Heartbeats() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.heartbeats
}

// SetOnline sets the viewer count sent in heartbeat replies.
func (s *Server) SetOnline(online int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.online = online
}

// SetSilent stops (or resumes) answering heartbeats.
func (s *Server) SetSilent(silent bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.silent = silent
}

// SetCompression makes Broadcast wrap messages in a zlib or brotli batch.
// VersionJSON sends them plain.
func (s *Server) SetCompression(ver protocol.Version) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.compression = ver
}

// Broadcast encodes v as a message packet and sends it to every client.
func (s *Server) Broadcast(v any) error {
	data, err := protocol.EncodeMessage(v)
	if err != nil {
		return err
	}

	s.mu.RLock()
	ver := s.compression
	s.mu.RUnlock()
	if ver == protocol.VersionZlib || ver == protocol.VersionBrotli {
		if data, err = protocol.Compress(ver, data); err != nil {
			return err
		}
	}
	s.BroadcastRaw(data)
	return nil
}

// BroadcastRaw sends data unchanged to every client.
func (s *Server) BroadcastRaw(data []byte) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for c := range s.clients {
		s.enqueue(c, data)
	}
}

// DropAll closes every connection abruptly.
func (s *Server) DropAll() {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for c := range s.clients {
		c.conn.Close()
	}
}

// Handler returns an http.Handler upgrading requests with gorilla/websocket,
// for mounting on a router next to other endpoints.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("failed to upgrade connection", zap.Error(err))
			return
		}
		s.wg.Add(1)
		s.serve(&GorillaConnection{conn: conn}, "ws")
	})
}

func (s *Server) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.quit:
				return
			default:
				s.log.Warn("failed to accept connection", zap.Error(err))
				continue
			}
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection determines whether the connection is HTTP (WebSocket) or TCP
func (s *Server) handleConnection(conn net.Conn) {
	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(peekTimeout))
	prefix, err := reader.Peek(4)
	_ = conn.SetReadDeadline(time.Time{})
	if err != nil {
		s.log.Debug("failed to peek connection", zap.Error(err))
		conn.Close()
		s.wg.Done()
		return
	}

	if !isHTTP(prefix) {
		s.serve(NewTCPConnection(conn, reader, s.maxFrameSize), "tcp")
		return
	}
	wc, err := UpgradeWebSocket(conn, reader)
	if err != nil {
		s.log.Warn("failed to upgrade connection", zap.Error(err))
		conn.Close()
		s.wg.Done()
		return
	}
	s.serve(wc, "ws")
}

// serve runs the read loop of one client. The caller has already added it to wg.
func (s *Server) serve(conn Connection, kind string) {
	defer s.wg.Done()

	c := &client{
		id:       uuid.NewString(),
		kind:     kind,
		conn:     conn,
		outgoing: make(chan []byte, outgoingBuffer),
	}
	log := s.log.With(zap.String("client", c.id), zap.String("kind", kind), zap.Stringer("remote", conn.RemoteAddr()))

	s.mu.Lock()
	s.clients[c] = true
	s.mu.Unlock()
	log.Debug("client connected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for data := range c.outgoing {
			if err := conn.WriteFrame(data); err != nil {
				log.Debug("failed to write to client", zap.Error(err))
				return
			}
		}
	}()

	defer func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		close(c.outgoing)
		<-writerDone
		conn.Close()
		log.Debug("client disconnected")
	}()

	for {
		frame, err := conn.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				log.Debug("read failed", zap.Error(err))
			}
			return
		}
		s.handlePackets(c, log, frame)
	}
}

func (s *Server) handlePackets(c *client, log *zap.Logger, frame []byte) {
	packets, err := protocol.Unpack(frame)
	if err != nil {
		log.Warn("malformed packet from client", zap.Error(err))
	}

	for _, p := range packets {
		switch p.Op {
		case protocol.OpJoin:
			req, err := protocol.DecodeJoin(p.Body)
			if err != nil {
				log.Warn("bad join request", zap.Error(err))
				continue
			}
			s.mu.Lock()
			s.joins = append(s.joins, req)
			s.mu.Unlock()
			log.Info("client joined", zap.Int64("room", req.RoomID))
			s.enqueue(c, protocol.EncodeWelcome())

		case protocol.OpHeartbeat:
			s.mu.Lock()
			s.heartbeats++
			silent, online := s.silent, s.online
			s.mu.Unlock()
			if !silent {
				s.enqueue(c, protocol.EncodeHeartbeatReply(online))
			}

		default:
			log.Debug("ignoring packet", zap.Stringer("op", p.Op))
		}
	}
}

// enqueue must not race with serve closing c.outgoing: callers either hold
// s.mu or run on c's own read loop.
func (s *Server) enqueue(c *client, data []byte) {
	select {
	case c.outgoing <- data:
	default:
		s.log.Warn("client channel full, skipping", zap.String("client", c.id))
	}
}
