package transport

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"safetrack/internal/models"
)

// wsServer is a minimal peer: it records every envelope the client sends
// and lets tests push envelopes back
type wsServer struct {
	t  *testing.T
	mu sync.Mutex

	conns    []*websocket.Conn
	received []models.Envelope
}

func newWSServer(t *testing.T) (*wsServer, *httptest.Server) {
	s := &wsServer{t: t}
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		s.mu.Lock()
		s.conns = append(s.conns, conn)
		s.mu.Unlock()

		for {
			var env models.Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			s.mu.Lock()
			s.received = append(s.received, env)
			s.mu.Unlock()
		}
	}))
	t.Cleanup(srv.Close)
	return s, srv
}

func (s *wsServer) send(env models.Envelope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.conns) == 0 {
		s.t.Fatal("no client connected")
	}
	conn := s.conns[len(s.conns)-1]
	if err := conn.WriteJSON(env); err != nil {
		s.t.Fatalf("server write failed: %v", err)
	}
}

func (s *wsServer) events() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, len(s.received))
	for i, env := range s.received {
		names[i] = env.Event
	}
	return names
}

func wsURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWSSynthesizesConnectAndDispatches(t *testing.T) {
	server, srv := newWSServer(t)

	ws := NewWS(wsURL(srv), "")
	t.Cleanup(ws.Close)

	var mu sync.Mutex
	var connected bool
	var got models.SessionValidPayload

	ws.On(models.EventConnect, func(json.RawMessage) {
		mu.Lock()
		connected = true
		mu.Unlock()
	})
	ws.On(models.EventSessionValid, func(data json.RawMessage) {
		mu.Lock()
		json.Unmarshal(data, &got)
		mu.Unlock()
	})

	require.NoError(t, ws.Start())

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return connected
	}, time.Second, 10*time.Millisecond)
	assert.True(t, ws.Connected())

	server.send(mustEnvelope(t, models.EventSessionValid, models.SessionValidPayload{UserID: "alice"}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return got.UserID == "alice"
	}, time.Second, 10*time.Millisecond)
}

func TestWSEmitReachesServer(t *testing.T) {
	server, srv := newWSServer(t)

	ws := NewWS(wsURL(srv), "")
	t.Cleanup(ws.Close)
	require.NoError(t, ws.Start())

	require.Eventually(t, ws.Connected, time.Second, 10*time.Millisecond)

	require.NoError(t, ws.Emit(models.EventStartTracking, models.TrackingPayload{UserID: "alice"}))

	require.Eventually(t, func() bool {
		for _, name := range server.events() {
			if name == models.EventStartTracking {
				return true
			}
		}
		return false
	}, time.Second, 10*time.Millisecond)
}

func TestWSEmitFailsBeforeConnect(t *testing.T) {
	ws := NewWS("ws://127.0.0.1:9/ws", "")
	t.Cleanup(ws.Close)

	err := ws.Emit(models.EventStartTracking, models.TrackingPayload{UserID: "alice"})
	assert.Error(t, err)
}

func TestWSStartFailsOnBadAddress(t *testing.T) {
	ws := NewWS("ws://127.0.0.1:9/ws", "")
	t.Cleanup(ws.Close)

	assert.Error(t, ws.Start())
}

func TestWSSynthesizesDisconnectOnServerClose(t *testing.T) {
	server, srv := newWSServer(t)

	ws := NewWS(wsURL(srv), "")
	t.Cleanup(ws.Close)

	var mu sync.Mutex
	var disconnected bool
	ws.On(models.EventDisconnect, func(json.RawMessage) {
		mu.Lock()
		disconnected = true
		mu.Unlock()
	})

	require.NoError(t, ws.Start())
	require.Eventually(t, ws.Connected, time.Second, 10*time.Millisecond)

	server.mu.Lock()
	server.conns[0].Close()
	server.mu.Unlock()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return disconnected
	}, time.Second, 10*time.Millisecond)
}

func mustEnvelope(t *testing.T, event string, payload interface{}) models.Envelope {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	return models.Envelope{Event: event, Data: data}
}
