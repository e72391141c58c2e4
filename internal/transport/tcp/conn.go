// Package tcp provides the raw TCP transport, framing inbound bytes into packets.
package tcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/omochice/live-danmaku/internal/transport"
)

const readBufferSize = 4096

// Dialer opens TCP connections to Address.
type Dialer struct {
	Address      string
	DialTimeout  time.Duration
	WriteTimeout time.Duration
	MaxFrameSize int
	Logger       *zap.Logger
}

// Name implements transport.Dialer.
func (d Dialer) Name() string { return "tcp" }

// Open implements transport.Dialer.
func (d Dialer) Open(ctx context.Context, sink chan<- transport.Signal) transport.Conn {
	log := d.Logger
	if log == nil {
		log = zap.NewNop()
	}
	c := &Conn{
		writeTimeout: d.WriteTimeout,
		log:          log.With(zap.String("addr", d.Address)),
	}
	go c.run(ctx, d, sink)
	return c
}

// Conn adapts a net.Conn to transport.Conn.
type Conn struct {
	mu           sync.Mutex
	conn         net.Conn
	closed       bool
	writeTimeout time.Duration
	log          *zap.Logger
}

// Send implements transport.Conn.
// Bytes are written directly; there is no readiness gate beyond the stream being open.
func (c *Conn) Send(data []byte) {
	c.mu.Lock()
	conn := c.conn
	closed := c.closed
	c.mu.Unlock()

	if conn == nil || closed {
		c.log.Debug("dropping write on unopened connection", zap.Int("bytes", len(data)))
		return
	}
	// net.Conn serializes concurrent writes; Close may run while one blocks.
	if c.writeTimeout > 0 {
		_ = conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if _, err := conn.Write(data); err != nil {
		c.log.Debug("write failed", zap.Error(err))
	}
}

// Close implements transport.Conn.
func (c *Conn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}

func (c *Conn) run(ctx context.Context, d Dialer, sink chan<- transport.Signal) {
	nd := net.Dialer{Timeout: d.DialTimeout}
	conn, err := nd.DialContext(ctx, "tcp", d.Address)
	if err != nil {
		transport.Emit(ctx, sink, transport.Failed{Err: fmt.Errorf("failed to connect to server: %w", err)})
		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conn = conn
	c.mu.Unlock()

	if !transport.Emit(ctx, sink, transport.Opened{}) {
		c.Close()
		return
	}
	c.log.Debug("connected")

	assembler := NewAssembler(d.MaxFrameSize)
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			for frame, ferr := range assembler.Feed(buf[:n]) {
				if ferr != nil {
					c.Close()
					transport.Emit(ctx, sink, transport.Failed{Err: ferr})
					return
				}
				if !transport.Emit(ctx, sink, transport.Message{Data: frame}) {
					c.Close()
					return
				}
			}
		}
		if err != nil {
			c.finish(ctx, sink, err)
			return
		}
	}
}

func (c *Conn) finish(ctx context.Context, sink chan<- transport.Signal, err error) {
	c.mu.Lock()
	closedLocally := c.closed
	c.mu.Unlock()

	if closedLocally || errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		c.Close()
		transport.Emit(ctx, sink, transport.Closed{})
		return
	}
	c.Close()
	transport.Emit(ctx, sink, transport.Failed{Err: fmt.Errorf("error reading from server: %w", err)})
}
