package main

import (
	"encoding/json"
	"net/http"
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

func startAdmin(t *testing.T) (*mockserver.Server, *httptest.Server) {
	t.Helper()
	srv := mockserver.New("127.0.0.1:0")
	require.NoError(t, srv.Start())
	t.Cleanup(srv.Stop)
	hs := httptest.NewServer(adminRouter(srv))
	t.Cleanup(hs.Close)
	return srv, hs
}

func post(t *testing.T, url, body string) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	resp.Body.Close()
	return resp.StatusCode
}

func TestAdmin_BroadcastThroughGorillaEndpoint(t *testing.T) {
	_, hs := startAdmin(t)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http")+"/sub", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))

	join, err := protocol.EncodeJoin(protocol.JoinRequest{RoomID: 8})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, join))
	_, _, err = conn.ReadMessage() // welcome
	require.NoError(t, err)

	assert.Equal(t, http.StatusNoContent, post(t, hs.URL+"/broadcast", `{"cmd":"LIVE"}`))

	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	packets, err := protocol.Decode(data)
	require.NoError(t, err)
	require.Len(t, packets, 1)
	assert.Equal(t, "LIVE", protocol.ParseCommand(packets[0].Payload).Name)

	resp, err := http.Get(hs.URL + "/joins")
	require.NoError(t, err)
	defer resp.Body.Close()
	var joins []protocol.JoinRequest
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&joins))
	require.Len(t, joins, 1)
	assert.Equal(t, int64(8), joins[0].RoomID)
}

func TestAdmin_Controls(t *testing.T) {
	_, hs := startAdmin(t)

	assert.Equal(t, http.StatusNoContent, post(t, hs.URL+"/online/55", ""))
	assert.Equal(t, http.StatusBadRequest, post(t, hs.URL+"/online/many", ""))
	assert.Equal(t, http.StatusNoContent, post(t, hs.URL+"/silent/true", ""))
	assert.Equal(t, http.StatusBadRequest, post(t, hs.URL+"/silent/maybe", ""))
	assert.Equal(t, http.StatusNoContent, post(t, hs.URL+"/drop", ""))
	assert.Equal(t, http.StatusBadRequest, post(t, hs.URL+"/broadcast", `[1,2]`))
}

func TestParseCompression(t *testing.T) {
	ver, err := parseCompression("brotli")
	require.NoError(t, err)
	assert.Equal(t, protocol.VersionBrotli, ver)

	_, err = parseCompression("lzma")
	assert.Error(t, err)
}
