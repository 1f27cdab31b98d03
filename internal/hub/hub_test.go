package hub_test

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/koopa0/system-design/cursor-rooms/internal/broadcast"
	"github.com/koopa0/system-design/cursor-rooms/internal/hub"
	"github.com/koopa0/system-design/cursor-rooms/internal/protocol"
	"github.com/koopa0/system-design/cursor-rooms/internal/room"
	"github.com/koopa0/system-design/cursor-rooms/internal/router"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type testServer struct {
	srv     *httptest.Server
	hub     *hub.Hub
	manager *room.Manager
}

func newTestServer(t *testing.T, cfg hub.Config) *testServer {
	t.Helper()

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := room.NewManager(logger)
	h := hub.New(cfg, logger)
	r := router.New(m, broadcast.New(h, nil, logger), router.Config{}, logger)
	r.Start()

	mux := http.NewServeMux()
	mux.Handle("GET /ws", h.ServeWS(r))
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		srv.Close()
		h.Stop()
		r.Stop()
	})

	return &testServer{srv: srv, hub: h, manager: m}
}

func (s *testServer) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http") + "/ws"
}

func (s *testServer) dial(t *testing.T) *websocket.Conn {
	t.Helper()

	ws, resp, err := websocket.DefaultDialer.Dial(s.url(), nil)
	require.NoError(t, err)
	resp.Body.Close()
	t.Cleanup(func() { ws.Close() })
	return ws
}

func send(t *testing.T, ws *websocket.Conn, event string, data any) {
	t.Helper()
	require.NoError(t, ws.WriteJSON(map[string]any{"event": event, "data": data}))
}

// expect 讀取訊息直到收到指定事件
func expect(t *testing.T, ws *websocket.Conn, event string, v any) {
	t.Helper()

	for {
		require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
		var env protocol.Envelope
		require.NoError(t, ws.ReadJSON(&env), "waiting for %s", event)
		if env.Event == event {
			if v != nil {
				require.NoError(t, json.Unmarshal(env.Data, v))
			}
			return
		}
	}
}

func names(members []room.Member) []string {
	out := make([]string, len(members))
	for i, m := range members {
		out[i] = m.Name
	}
	return out
}

func TestHub_RoomFlow(t *testing.T) {
	s := newTestServer(t, hub.Config{})
	x := s.dial(t)
	y := s.dial(t)

	send(t, x, protocol.EventRoomCreate, map[string]string{"displayName": "X"})
	var created protocol.RoomRef
	expect(t, x, protocol.EventRoomCreated, &created)
	require.Len(t, created.RoomID, room.DefaultCodeLength)

	var update protocol.MembersUpdate
	expect(t, x, protocol.EventMembersUpdate, &update)
	require.Len(t, update.Members, 1)
	assert.True(t, update.Members[0].IsHost)

	send(t, y, protocol.EventRoomJoin, map[string]string{"roomId": created.RoomID, "displayName": "Y"})
	expect(t, y, protocol.EventRoomJoined, nil)
	expect(t, y, protocol.EventMembersUpdate, &update)
	assert.Equal(t, []string{"X", "Y"}, names(update.Members))
	expect(t, x, protocol.EventMembersUpdate, &update)
	assert.Equal(t, []string{"X", "Y"}, names(update.Members))

	send(t, x, protocol.EventCursorMove, map[string]any{
		"roomId":   created.RoomID,
		"position": map[string]float64{"x": 100, "y": 200},
	})
	expect(t, y, protocol.EventMembersUpdate, &update)
	assert.Equal(t, room.Position{X: 100, Y: 200}, update.Members[0].Position)

	// 房主斷線，剩下的成員成為房主
	require.NoError(t, x.Close())
	expect(t, y, protocol.EventMembersUpdate, &update)
	require.Len(t, update.Members, 1)
	assert.Equal(t, "Y", update.Members[0].Name)
	assert.True(t, update.Members[0].IsHost)

	assert.Eventually(t, func() bool { return s.hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)
}

func TestHub_Matchmaking(t *testing.T) {
	s := newTestServer(t, hub.Config{})
	a := s.dial(t)
	b := s.dial(t)

	send(t, a, protocol.EventMatchmakingJoin, map[string]string{"displayName": "A"})
	expect(t, a, protocol.EventMatchmakingWaiting, nil)

	send(t, b, protocol.EventMatchmakingJoin, map[string]string{"displayName": "B"})

	var fa, fb protocol.MatchFound
	expect(t, a, protocol.EventMatchFound, &fa)
	expect(t, b, protocol.EventMatchFound, &fb)
	assert.Equal(t, fa.RoomID, fb.RoomID)
	assert.Equal(t, []string{"A", "B"}, names(fa.Members))
	assert.True(t, fa.Members[0].IsHost)
	assert.Equal(t, room.Stats{Rooms: 1, Members: 2}, s.manager.Stats())
}

func TestHub_InvalidFrame(t *testing.T) {
	s := newTestServer(t, hub.Config{})
	ws := s.dial(t)

	require.NoError(t, ws.WriteMessage(websocket.TextMessage, []byte("not json")))

	var payload protocol.ErrorPayload
	expect(t, ws, protocol.EventRoomError, &payload)
	assert.Equal(t, protocol.MsgInvalidMessage, payload.Message)

	// 錯誤之後連線仍然可用
	send(t, ws, protocol.EventRoomCreate, map[string]string{"displayName": "Still here"})
	expect(t, ws, protocol.EventRoomCreated, nil)
}

func TestHub_OversizedFrameClosesConnection(t *testing.T) {
	s := newTestServer(t, hub.Config{MaxMessageSize: 64})
	ws := s.dial(t)

	send(t, ws, protocol.EventRoomCreate, map[string]string{"displayName": strings.Repeat("x", 200)})

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
	assert.Eventually(t, func() bool { return s.hub.ConnectionCount() == 0 }, time.Second, 10*time.Millisecond)
}

func TestHub_CheckOrigin(t *testing.T) {
	s := newTestServer(t, hub.Config{AllowedOrigins: []string{"http://allowed.example"}})

	header := http.Header{"Origin": []string{"http://evil.example"}}
	_, resp, err := websocket.DefaultDialer.Dial(s.url(), header)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	header.Set("Origin", "http://allowed.example")
	ws, resp, err := websocket.DefaultDialer.Dial(s.url(), header)
	require.NoError(t, err)
	resp.Body.Close()
	ws.Close()
}

func TestHub_StopClosesConnections(t *testing.T) {
	s := newTestServer(t, hub.Config{})
	ws := s.dial(t)
	require.Eventually(t, func() bool { return s.hub.ConnectionCount() == 1 }, time.Second, 10*time.Millisecond)

	s.hub.Stop()

	require.NoError(t, ws.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, _, err := ws.ReadMessage()
	assert.Error(t, err)
	assert.Equal(t, 0, s.hub.ConnectionCount())

	// 停止後拒絕新連線
	_, resp, err := websocket.DefaultDialer.Dial(s.url(), nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHub_TransportUnknownConnection(t *testing.T) {
	h := hub.New(hub.Config{}, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.ErrorIs(t, h.Send("missing", []byte(`{}`)), hub.ErrConnectionNotFound)

	h.Attach("missing", "ROOM01")
	assert.Empty(t, h.Group("ROOM01"))
	h.Detach("missing", "ROOM01")
}
