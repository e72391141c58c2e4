package tcp_test

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/live-danmaku/internal/transport"
	"github.com/omochice/live-danmaku/internal/transport/tcp"
)

func TestDialer_ImplementsInterface(t *testing.T) {
	var _ transport.Dialer = tcp.Dialer{}
	var _ transport.Conn = (*tcp.Conn)(nil)
}

func startServer(t *testing.T, handle func(net.Conn)) string {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { listener.Close() })

	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			go handle(conn)
		}
	}()
	return listener.Addr().String()
}

func next(t *testing.T, sink <-chan transport.Signal) transport.Signal {
	t.Helper()
	select {
	case sig := <-sink:
		return sig
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for signal")
		return nil
	}
}

func TestConn_FramesInbound(t *testing.T) {
	addr := startServer(t, func(c net.Conn) {
		defer c.Close()
		stream := append(frame("first"), frame("second")...)
		// split mid-frame to exercise reassembly across reads
		c.Write(stream[:6])
		time.Sleep(20 * time.Millisecond)
		c.Write(stream[6:])
		time.Sleep(20 * time.Millisecond)
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := make(chan transport.Signal, 8)
	conn := tcp.Dialer{Address: addr, DialTimeout: time.Second}.Open(ctx, sink)
	defer conn.Close()

	assert.Equal(t, transport.Opened{}, next(t, sink))
	assert.Equal(t, transport.Message{Data: frame("first")}, next(t, sink))
	assert.Equal(t, transport.Message{Data: frame("second")}, next(t, sink))
	assert.Equal(t, transport.Closed{}, next(t, sink))
}

func TestConn_Send(t *testing.T) {
	received := make(chan []byte, 1)
	addr := startServer(t, func(c net.Conn) {
		defer c.Close()
		buf := make([]byte, 64)
		n, err := c.Read(buf)
		if err == nil {
			received <- buf[:n]
		}
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := make(chan transport.Signal, 8)
	conn := tcp.Dialer{Address: addr}.Open(ctx, sink)
	defer conn.Close()

	require.Equal(t, transport.Opened{}, next(t, sink))
	conn.Send([]byte("hello"))

	select {
	case data := <-received:
		assert.Equal(t, "hello", string(data))
	case <-time.After(2 * time.Second):
		t.Fatal("server did not receive data")
	}
}

func TestConn_SendBeforeOpenIsDropped(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	conn := tcp.Dialer{Address: "127.0.0.1:1"}.Open(ctx, make(chan transport.Signal, 1))

	assert.NotPanics(t, func() { conn.Send([]byte("dropped")) })
	assert.NoError(t, conn.Close())
	assert.NoError(t, conn.Close())
}

func TestConn_DialFailure(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := listener.Addr().String()
	listener.Close()

	sink := make(chan transport.Signal, 1)
	tcp.Dialer{Address: addr, DialTimeout: time.Second}.Open(context.Background(), sink)

	sig := next(t, sink)
	failed, ok := sig.(transport.Failed)
	require.True(t, ok, "got %T", sig)
	assert.Error(t, failed.Err)
}

func TestConn_OversizedFrameFails(t *testing.T) {
	addr := startServer(t, func(c net.Conn) {
		defer c.Close()
		c.Write([]byte{0x00, 0x10, 0x00, 0x00})
		time.Sleep(50 * time.Millisecond)
	})

	sink := make(chan transport.Signal, 8)
	conn := tcp.Dialer{Address: addr, MaxFrameSize: 1024}.Open(context.Background(), sink)
	defer conn.Close()

	require.Equal(t, transport.Opened{}, next(t, sink))
	sig := next(t, sink)
	failed, ok := sig.(transport.Failed)
	require.True(t, ok, "got %T", sig)
	assert.ErrorIs(t, failed.Err, tcp.ErrFrameTooLarge)
}

func TestConn_LocalCloseReportsClosed(t *testing.T) {
	addr := startServer(t, func(c net.Conn) {
		defer c.Close()
		c.Read(make([]byte, 1))
	})

	sink := make(chan transport.Signal, 8)
	conn := tcp.Dialer{Address: addr}.Open(context.Background(), sink)

	require.Equal(t, transport.Opened{}, next(t, sink))
	require.NoError(t, conn.Close())
	assert.Equal(t, transport.Closed{}, next(t, sink))
}

func TestConn_CloseWhileSendBlocks(t *testing.T) {
	release := make(chan struct{})
	t.Cleanup(func() { close(release) })
	addr := startServer(t, func(c net.Conn) {
		defer c.Close()
		<-release
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sink := make(chan transport.Signal, 8)
	conn := tcp.Dialer{Address: addr, DialTimeout: time.Second, WriteTimeout: time.Minute}.Open(ctx, sink)
	require.Equal(t, transport.Opened{}, next(t, sink))

	// the peer never reads, so this fills both socket buffers and blocks
	sent := make(chan struct{})
	go func() {
		defer close(sent)
		conn.Send(make([]byte, 64<<20))
	}()
	time.Sleep(100 * time.Millisecond)

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.Close()
	}()

	select {
	case <-closed:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("Close blocked behind a pending Send")
	}
	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after Close")
	}
}
