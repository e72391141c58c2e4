// Package ws provides the WebSocket transport on top of nhooyr.io/websocket.
package ws

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/omochice/live-danmaku/internal/transport"
)

// Dialer opens WebSocket connections to URL.
type Dialer struct {
	URL            string
	Header         http.Header
	DialTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int64
	Logger         *zap.Logger
}

// Name implements transport.Dialer.
func (d Dialer) Name() string { return "ws" }

// Open implements transport.Dialer.
func (d Dialer) Open(ctx context.Context, sink chan<- transport.Signal) transport.Conn {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := &Conn{
		ctx:          ctx,
		writeTimeout: d.WriteTimeout,
		log:          log.With(zap.String("url", d.URL)),
	}
	go c.run(d, sink)
	return c
}

// Conn adapts a websocket.Conn to transport.Conn.
type Conn struct {
	ctx          context.Context
	mu           sync.Mutex
	conn         *websocket.Conn
	open         atomic.Bool
	closed       bool
	writeTimeout time.Duration
	log          *zap.Logger
}

// Send implements transport.Conn.
// Writes a binary message; dropped unless the socket is open.
func (c *Conn) Send(data []byte) {
	if !c.open.Load() {
		c.log.Debug("dropping write on socket that is not open", zap.Int("bytes", len(data)))
		return
	}
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	ctx := c.ctx
	if c.writeTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.writeTimeout)
		defer cancel()
	}
	if err := conn.Write(ctx, websocket.MessageBinary, data); err != nil {
		c.log.Debug("write failed", zap.Error(err))
	}
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conn := c.conn
	c.mu.Unlock()

	c.open.Store(false)
	if conn == nil {
		return nil
	}
	// The close handshake waits on the peer, which may be the unresponsive one.
	go conn.Close(websocket.StatusNormalClosure, "")
	return nil
}

func (c *Conn) run(d Dialer, sink chan<- transport.Signal) {
	dialCtx := c.ctx
	if d.DialTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(c.ctx, d.DialTimeout)
		defer cancel()
	}
	conn, _, err := websocket.Dial(dialCtx, d.URL, &websocket.DialOptions{HTTPHeader: d.Header})
	if err != nil {
		transport.Emit(c.ctx, sink, transport.Failed{Err: fmt.Errorf("failed to connect to server: %w", err)})
		return
	}
	if d.MaxMessageSize > 0 {
		conn.SetReadLimit(d.MaxMessageSize)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close(websocket.StatusNormalClosure, "")
		return
	}
	c.conn = conn
	c.open.Store(true)
	c.mu.Unlock()

	if !transport.Emit(c.ctx, sink, transport.Opened{}) {
		c.Close()
		return
	}
	c.log.Debug("connected")

	for {
		_, data, err := conn.Read(c.ctx)
		if err != nil {
			c.finish(sink, err)
			return
		}
		if !transport.Emit(c.ctx, sink, transport.Message{Data: data}) {
			c.Close()
			return
		}
	}
}

func (c *Conn) finish(sink chan<- transport.Signal, err error) {
	c.mu.Lock()
	closedLocally := c.closed
	c.mu.Unlock()
	c.Close()

	status := websocket.CloseStatus(err)
	if closedLocally || status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway || errors.Is(err, context.Canceled) {
		transport.Emit(c.ctx, sink, transport.Closed{})
		return
	}
	transport.Emit(c.ctx, sink, transport.Failed{Err: fmt.Errorf("error reading from server: %w", err)})
}
