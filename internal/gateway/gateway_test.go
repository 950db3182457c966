package gateway

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
	"go.uber.org/zap/zaptest"

	"github.com/parleychat/parley/internal/catalog"
	"github.com/parleychat/parley/internal/chat/access"
	"github.com/parleychat/parley/internal/chat/broadcast"
	"github.com/parleychat/parley/internal/chat/presence"
	"github.com/parleychat/parley/internal/chat/protocol"
	"github.com/parleychat/parley/internal/chat/registry"
	"github.com/parleychat/parley/internal/config"
)

func newTestGateway(t *testing.T, gracePeriod time.Duration) (*Gateway, *registry.Registry, *protocol.Protocol) {
	t.Helper()
	logger := zaptest.NewLogger(t)

	reg := registry.NewRegistry()
	reg.MarkReady()
	dir := presence.NewDirectory(presence.NewMemoryStore(), logger)
	disp := broadcast.NewDispatcher(reg, logger)
	cat, err := catalog.NewCatalog([]*catalog.Room{{ID: "lobby", Name: "Lobby"}})
	require.NoError(t, err)

	proto := protocol.New(reg, dir, disp, access.AllowAll{}, cat, gracePeriod, nil, logger)
	t.Cleanup(proto.Grace().StopAll)

	g := New(
		config.ServerConfig{ReadTimeout: 60 * time.Second, WriteTimeout: 10 * time.Second},
		config.ChatConfig{GracePeriod: gracePeriod, SessionBuffer: 32},
		reg, proto, logger,
	)
	return g, reg, proto
}

func dialTestServer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	var frame map[string]any
	require.NoError(t, json.Unmarshal(data, &frame))
	return frame
}

func writeFrame(t *testing.T, conn *websocket.Conn, v any) {
	t.Helper()
	require.NoError(t, conn.WriteJSON(v))
}

// readFrames collects n frames keyed by type tag. Broadcast events and the
// direct reply share one socket, so arrival order between them is not fixed.
func readFrames(t *testing.T, conn *websocket.Conn, n int) map[string]map[string]any {
	t.Helper()
	frames := make(map[string]map[string]any, n)
	for i := 0; i < n; i++ {
		frame := readFrame(t, conn)
		frames[frame["type"].(string)] = frame
	}
	return frames
}

func TestGateway_JoinRoundTrip(t *testing.T) {
	g, _, _ := newTestGateway(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(g.handleWS))
	defer srv.Close()

	conn := dialTestServer(t, srv)
	writeFrame(t, conn, map[string]any{
		"type": "join", "roomId": "lobby", "userId": "u1", "username": "alice",
	})

	// The joining client receives the direct reply and its own list update.
	frames := readFrames(t, conn, 2)

	joined, ok := frames["joined"]
	require.True(t, ok, "missing joined reply")
	assert.Equal(t, "lobby", joined["roomId"])
	assert.Equal(t, "Lobby", joined["room"])
	assert.Equal(t, float64(1), joined["userCount"])
	assert.Equal(t, []any{"alice"}, joined["participants"])

	_, ok = frames["listUpdate"]
	assert.True(t, ok, "missing list update")
}

func TestGateway_SecondJoinerAnnouncedToFirst(t *testing.T) {
	g, _, _ := newTestGateway(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(g.handleWS))
	defer srv.Close()

	alice := dialTestServer(t, srv)
	writeFrame(t, alice, map[string]any{
		"type": "join", "roomId": "lobby", "userId": "u1", "username": "alice",
	})
	readFrames(t, alice, 2) // own joined + listUpdate

	bob := dialTestServer(t, srv)
	writeFrame(t, bob, map[string]any{
		"type": "join", "roomId": "lobby", "userId": "u2", "username": "bob",
	})
	readFrames(t, bob, 2) // own joined + listUpdate

	frames := readFrames(t, alice, 2)

	entered, ok := frames["entered"]
	require.True(t, ok, "missing entered notice")
	assert.Equal(t, "bob", entered["username"])
	assert.Equal(t, "bob entered the room", entered["message"])
	assert.Equal(t, float64(2), entered["userCount"])

	update, ok := frames["listUpdate"]
	require.True(t, ok, "missing list update")
	assert.Equal(t, []any{"alice", "bob"}, update["participants"])
}

func TestGateway_LeaveRoundTrip(t *testing.T) {
	g, _, _ := newTestGateway(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(g.handleWS))
	defer srv.Close()

	conn := dialTestServer(t, srv)
	writeFrame(t, conn, map[string]any{
		"type": "join", "roomId": "lobby", "userId": "u1", "username": "alice",
	})
	readFrames(t, conn, 2) // own joined + listUpdate

	writeFrame(t, conn, map[string]any{
		"type": "leave", "roomId": "lobby", "userId": "u1", "username": "alice",
	})
	frame := readFrame(t, conn)
	assert.Equal(t, "leaveAck", frame["type"])
	assert.Equal(t, "lobby", frame["roomId"])
}

func TestGateway_HeartbeatAck(t *testing.T) {
	g, _, _ := newTestGateway(t, 30*time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(g.handleWS))
	defer srv.Close()

	conn := dialTestServer(t, srv)
	writeFrame(t, conn, map[string]any{"type": "heartbeat", "appState": "foreground"})

	frame := readFrame(t, conn)
	assert.Equal(t, "heartbeatAck", frame["type"])
	assert.Equal(t, float64(30*60*1000), frame["gracePeriodMs"])
	assert.NotZero(t, frame["timestamp"])
}

func TestGateway_HeartbeatRejectsUnknownAppState(t *testing.T) {
	g, _, _ := newTestGateway(t, 30*time.Minute)
	srv := httptest.NewServer(http.HandlerFunc(g.handleWS))
	defer srv.Close()

	conn := dialTestServer(t, srv)
	writeFrame(t, conn, map[string]any{"type": "heartbeat", "appState": "hibernating"})

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["error"], "appState")
}

func TestGateway_InvalidFrameGetsError(t *testing.T) {
	g, _, _ := newTestGateway(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(g.handleWS))
	defer srv.Close()

	conn := dialTestServer(t, srv)

	writeFrame(t, conn, map[string]any{"type": "join"})
	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
	assert.Contains(t, frame["error"], "roomId")

	writeFrame(t, conn, map[string]any{"type": "teleport"})
	frame = readFrame(t, conn)
	assert.Equal(t, "error", frame["type"])
}

func TestGateway_DropArmsGraceTimer(t *testing.T) {
	g, reg, proto := newTestGateway(t, time.Hour)
	srv := httptest.NewServer(http.HandlerFunc(g.handleWS))
	defer srv.Close()

	conn := dialTestServer(t, srv)
	writeFrame(t, conn, map[string]any{
		"type": "join", "roomId": "lobby", "userId": "u1", "username": "alice",
	})
	readFrame(t, conn) // joined

	conn.Close()

	deadline := time.After(2 * time.Second)
	for !proto.Grace().Active("u1") {
		select {
		case <-deadline:
			t.Fatal("grace timer not armed after transport drop")
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
	assert.Equal(t, 0, reg.SessionCount(), "session deregistered on drop")
}
