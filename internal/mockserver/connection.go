package mockserver

import (
	"bufio"
	"bytes"
	"net"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/gorilla/websocket"

	"github.com/omochice/live-danmaku/internal/transport/tcp"
)

// Connection is one accepted client, TCP or WebSocket. Each read returns one
// inbound buffer of packets.
type Connection interface {
	ReadFrame() ([]byte, error)
	WriteFrame(data []byte) error
	// Close drops the connection without a close handshake.
	Close() error
	RemoteAddr() net.Addr
}

// isHTTP reports whether the first bytes of a connection start an HTTP request.
// Raw protocol clients open with a big-endian packet length instead.
func isHTTP(prefix []byte) bool {
	for _, method := range [][]byte{[]byte("GET "), []byte("HEAD"), []byte("POST"), []byte("OPTI")} {
		if bytes.HasPrefix(prefix, method) {
			return true
		}
	}
	return false
}

// bufferedConn wraps a net.Conn with a bufio.Reader to preserve peeked data
type bufferedConn struct {
	net.Conn
	reader *bufio.Reader
}

func (bc *bufferedConn) Read(p []byte) (int, error) {
	return bc.reader.Read(p)
}

// TCPConnection frames a raw TCP stream by the packet length prefix.
type TCPConnection struct {
	conn      net.Conn
	reader    *bufio.Reader
	assembler *tcp.Assembler
	buf       []byte
}

// NewTCPConnection creates a TCPConnection reading through reader, which may
// already hold peeked bytes.
func NewTCPConnection(conn net.Conn, reader *bufio.Reader, maxFrameSize int) *TCPConnection {
	return &TCPConnection{
		conn:      conn,
		reader:    reader,
		assembler: tcp.NewAssembler(maxFrameSize),
		buf:       make([]byte, 4096),
	}
}

func (tc *TCPConnection) ReadFrame() ([]byte, error) {
	var chunk []byte
	for {
		for frame, err := range tc.assembler.Feed(chunk) {
			return frame, err
		}
		n, err := tc.reader.Read(tc.buf)
		if n == 0 && err != nil {
			return nil, err
		}
		chunk = tc.buf[:n]
	}
}

func (tc *TCPConnection) WriteFrame(data []byte) error {
	_, err := tc.conn.Write(data)
	return err
}

func (tc *TCPConnection) Close() error {
	return tc.conn.Close()
}

func (tc *TCPConnection) RemoteAddr() net.Addr {
	return tc.conn.RemoteAddr()
}

// WebSocketConnection is a server side WebSocket upgraded in place with gobwas/ws.
type WebSocketConnection struct {
	conn net.Conn
}

// UpgradeWebSocket performs the handshake on conn, whose reader may hold
// peeked bytes.
func UpgradeWebSocket(conn net.Conn, reader *bufio.Reader) (*WebSocketConnection, error) {
	bc := &bufferedConn{Conn: conn, reader: reader}
	if _, err := ws.Upgrade(bc); err != nil {
		return nil, err
	}
	return &WebSocketConnection{conn: bc}, nil
}

func (wc *WebSocketConnection) ReadFrame() ([]byte, error) {
	return wsutil.ReadClientBinary(wc.conn)
}

func (wc *WebSocketConnection) WriteFrame(data []byte) error {
	return wsutil.WriteServerBinary(wc.conn, data)
}

func (wc *WebSocketConnection) Close() error {
	return wc.conn.Close()
}

func (wc *WebSocketConnection) RemoteAddr() net.Addr {
	return wc.conn.RemoteAddr()
}

// GorillaConnection adapts a gorilla/websocket connection accepted by Handler.
type GorillaConnection struct {
	conn *websocket.Conn
}

func (gc *GorillaConnection) ReadFrame() ([]byte, error) {
	for {
		messageType, data, err := gc.conn.ReadMessage()
		if err != nil {
			return nil, err
		}
		if messageType == websocket.BinaryMessage {
			return data, nil
		}
	}
}

func (gc *GorillaConnection) WriteFrame(data []byte) error {
	return gc.conn.WriteMessage(websocket.BinaryMessage, data)
}

func (gc *GorillaConnection) Close() error {
	return gc.conn.Close()
}

func (gc *GorillaConnection) RemoteAddr() net.Addr {
	return gc.conn.RemoteAddr()
}
