package transport

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"safetrack/internal/models"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Delay before redialing after a dropped connection
	reconnectDelay = 2 * time.Second

	maxMessageSize = 4096
)

// WS is a gorilla/websocket implementation of the session transport: it
// dials the share server, keeps the connection alive, dispatches inbound
// envelopes to registered handlers, and redials with a fixed delay when
// the connection drops. Lifecycle is surfaced to handlers as the synthetic
// connect/disconnect events.
type WS struct {
	url   string
	token string // JWT for the query-param handshake, optional

	mu       sync.RWMutex
	conn     *websocket.Conn
	writeMu  sync.Mutex
	handlers map[string]func(json.RawMessage)
	done     chan struct{}
	closed   bool
}

// NewWS creates a transport for the given ws:// or wss:// URL
func NewWS(url, token string) *WS {
	return &WS{
		url:      url,
		token:    token,
		handlers: make(map[string]func(json.RawMessage)),
		done:     make(chan struct{}),
	}
}

// Start dials the server and keeps the connection alive until Close.
// The first dial failure is returned so callers can fail fast on a bad
// URL; later drops are retried in the background.
func (t *WS) Start() error {
	conn, err := t.dial()
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", t.url, err)
	}

	t.attach(conn)
	go t.run(conn)
	return nil
}

func (t *WS) dial() (*websocket.Conn, error) {
	url := t.url
	if t.token != "" {
		url += "?token=" + t.token
	}
	conn, _, err := websocket.DefaultDialer.Dial(url, http.Header{})
	return conn, err
}

// run owns one connection at a time: pump it until it dies, then redial
func (t *WS) run(conn *websocket.Conn) {
	for {
		t.pump(conn)

		t.detach()
		t.dispatch(models.EventDisconnect, nil)

		for {
			select {
			case <-t.done:
				return
			case <-time.After(reconnectDelay):
			}

			next, err := t.dial()
			if err != nil {
				log.Printf("⚠️  reconnect to %s failed: %v", t.url, err)
				continue
			}
			conn = next
			t.attach(conn)
			break
		}
	}
}

func (t *WS) attach(conn *websocket.Conn) {
	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	// Keepalive pings; the server answers with pongs
	go t.pingLoop(conn)

	t.dispatch(models.EventConnect, nil)
}

func (t *WS) detach() {
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()
}

func (t *WS) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.done:
			return
		case <-ticker.C:
		}

		t.writeMu.Lock()
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		err := conn.WriteMessage(websocket.PingMessage, nil)
		t.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// pump reads envelopes until the connection fails
func (t *WS) pump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		select {
		case <-t.done:
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("⚠️  websocket read error: %v", err)
			}
			return
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("⚠️  dropping malformed envelope: %v", err)
			continue
		}
		t.dispatch(env.Event, env.Data)
	}
}

func (t *WS) dispatch(event string, data json.RawMessage) {
	t.mu.RLock()
	handler, ok := t.handlers[event]
	t.mu.RUnlock()
	if ok {
		handler(data)
	}
}

// Emit sends one envelope. Fire and forget: an error only means the local
// write failed, never that the server did not process it.
func (t *WS) Emit(event string, payload interface{}) error {
	t.mu.RLock()
	conn := t.conn
	t.mu.RUnlock()

	if conn == nil {
		return fmt.Errorf("not connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(models.Envelope{Event: event, Data: data})
}

// On registers the handler for event, replacing any previous one
func (t *WS) On(event string, handler func(json.RawMessage)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[event] = handler
}

// Off removes the handler for event
func (t *WS) Off(event string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.handlers, event)
}

// Connected reports whether a live connection exists right now
func (t *WS) Connected() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conn != nil
}

// Close tears the transport down for good; no redial follows
func (t *WS) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	close(t.done)
	if t.conn != nil {
		t.conn.Close()
		t.conn = nil
	}
	t.mu.Unlock()
}
