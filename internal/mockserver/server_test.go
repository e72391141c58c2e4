package mockserver_test

import (
	"bufio"
	"encoding/binary"
	"io"
	"net"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omochice/live-danmaku/internal/mockserver"
	"github.com/omochice/live-danmaku/pkg/protocol"
)

func startServer(t *testing.T, opts ...mockserver.Option) *mockserver.Server {
	t.Helper()
	srv := mockserver.New("127.0.0.1:0", opts...)
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	return srv
}

func joinPacket(t *testing.T, roomID int64) []byte {
	t.Helper()
	data, err := protocol.EncodeJoin(protocol.JoinRequest{RoomID: roomID, ProtoVer: 3, Platform: "web", Type: 2})
	require.NoError(t, err)
	return data
}

// readPacket reads one length-prefixed packet from a raw TCP stream.
func readPacket(t *testing.T, r *bufio.Reader) []protocol.Packet {
	t.Helper()
	prefix, err := r.Peek(4)
	require.NoError(t, err)
	buf := make([]byte, binary.BigEndian.Uint32(prefix))
	_, err = io.ReadFull(r, buf)
	require.NoError(t, err)
	packets, err := protocol.Decode(buf)
	require.NoError(t, err)
	return packets
}

func dialTCP(t *testing.T, srv *mockserver.Server) (net.Conn, *bufio.Reader) {
	t.Helper()
	conn, err := net.Dial("tcp", srv.Addr())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(2*time.Second)))
	return conn, bufio.NewReader(conn)
}

func dialWS(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	return conn
}

func readWS(t *testing.T, conn *websocket.Conn) []protocol.Packet {
	t.Helper()
	messageType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	require.Equal(t, websocket.BinaryMessage, messageType)
	packets, err := protocol.Decode(data)
	require.NoError(t, err)
	return packets
}

func TestServer_TCPJoinAndHeartbeat(t *testing.T) {
	srv := startServer(t, mockserver.WithOnline(42))
	conn, r := dialTCP(t, srv)

	join := joinPacket(t, 5)
	// split the join across writes
	_, err := conn.Write(join[:7])
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)
	_, err = conn.Write(join[7:])
	require.NoError(t, err)

	packets := readPacket(t, r)
	require.Len(t, packets, 1)
	assert.Equal(t, protocol.KindWelcome, packets[0].Kind)

	_, err = conn.Write(protocol.EncodeHeartbeat())
	require.NoError(t, err)
	packets = readPacket(t, r)
	require.Len(t, packets, 1)
	assert.Equal(t, protocol.KindHeartbeat, packets[0].Kind)
	assert.Equal(t, 42, packets[0].Online)

	joins := srv.Joins()
	require.Len(t, joins, 1)
	assert.Equal(t, int64(5), joins[0].RoomID)
	assert.Equal(t, 1, srv.Heartbeats())
}

func TestServer_WebSocketOnSamePort(t *testing.T) {
	srv := startServer(t)
	conn := dialWS(t, srv.URL())

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, joinPacket(t, 9)))
	packets := readWS(t, conn)
	assert.Equal(t, protocol.KindWelcome, packets[0].Kind)

	srv.SetOnline(7)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, protocol.EncodeHeartbeat()))
	packets = readWS(t, conn)
	assert.Equal(t, 7, packets[0].Online)
}

func TestServer_BroadcastCompressed(t *testing.T) {
	for _, ver := range []protocol.Version{protocol.VersionJSON, protocol.VersionZlib, protocol.VersionBrotli} {
		t.Run(ver.String(), func(t *testing.T) {
			srv := startServer(t)
			srv.SetCompression(ver)
			conn := dialWS(t, srv.URL())
			require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, joinPacket(t, 1)))
			readWS(t, conn)

			require.NoError(t, srv.Broadcast(map[string]any{"cmd": "SEND_GIFT"}))
			packets := readWS(t, conn)
			require.Len(t, packets, 1)
			assert.Equal(t, protocol.KindMessage, packets[0].Kind)
			assert.Equal(t, "SEND_GIFT", packets[0].Payload.GetFields()["cmd"].GetStringValue())
		})
	}
}

func TestServer_Handler(t *testing.T) {
	srv := mockserver.New("")
	t.Cleanup(srv.Stop)
	hs := httptest.NewServer(srv.Handler())
	defer hs.Close()

	conn := dialWS(t, "ws"+strings.TrimPrefix(hs.URL, "http")+"/sub")
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, joinPacket(t, 3)))
	packets := readWS(t, conn)
	assert.Equal(t, protocol.KindWelcome, packets[0].Kind)
	assert.Equal(t, 1, srv.ClientCount())
}

func TestServer_Silent(t *testing.T) {
	srv := startServer(t)
	srv.SetSilent(true)
	conn, r := dialTCP(t, srv)

	_, err := conn.Write(protocol.EncodeHeartbeat())
	require.NoError(t, err)
	require.Eventually(t, func() bool { return srv.Heartbeats() == 1 }, time.Second, 10*time.Millisecond)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = r.ReadByte()
	var netErr net.Error
	require.ErrorAs(t, err, &netErr)
	assert.True(t, netErr.Timeout())
}

func TestServer_DropAll(t *testing.T) {
	srv := startServer(t)
	conn, r := dialTCP(t, srv)
	_, err := conn.Write(joinPacket(t, 1))
	require.NoError(t, err)
	readPacket(t, r)
	require.Equal(t, 1, srv.ClientCount())

	srv.DropAll()

	_, err = r.ReadByte()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return srv.ClientCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestServer_HostPort(t *testing.T) {
	srv := startServer(t)
	host, port := srv.HostPort()
	assert.Equal(t, "127.0.0.1", host)
	assert.NotZero(t, port)
}
