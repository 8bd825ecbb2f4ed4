package websocket

import (
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"

	"safetrack/internal/models"
	"safetrack/internal/services"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 4096 // Room for locationUpdate messages with paths
)

// Client represents a WebSocket client connection. UserID and Name stay
// empty until the client authenticates over the socket; only the read
// pump goroutine writes them.
type Client struct {
	UserID string
	Name   string
	conn   *websocket.Conn
	hub    *Hub
	send   chan []byte
	db     *sqlx.DB
	fcm    *services.FCMService
}

// NewClient creates a new WebSocket client
func NewClient(conn *websocket.Conn, hub *Hub, db *sqlx.DB, fcm *services.FCMService) *Client {
	return &Client{
		conn: conn,
		hub:  hub,
		send: make(chan []byte, 256),
		db:   db,
		fcm:  fcm,
	}
}

// Emit queues one event envelope for delivery to this client
func (c *Client) Emit(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("❌ Failed to marshal %s payload: %v", event, err)
		return
	}
	envelope, err := json.Marshal(models.Envelope{Event: event, Data: data})
	if err != nil {
		log.Printf("❌ Failed to marshal %s envelope: %v", event, err)
		return
	}
	select {
	case c.send <- envelope:
	default:
		log.Printf("⚠️ Send buffer full for %s, dropping %s", c.UserID, event)
	}
}

// ReadPump pumps messages from the WebSocket connection to the dispatcher
func (c *Client) ReadPump() {
	defer func() {
		// Preserve the last known location but flag the user as offline
		c.markAsDisconnected()
		c.hub.unregister <- c
		c.conn.Close()
		if c.UserID != "" {
			c.broadcastUserList()
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var env models.Envelope
		if err := json.Unmarshal(message, &env); err != nil {
			log.Printf("Invalid message format: %v", err)
			continue
		}

		c.dispatch(env.Event, env.Data)
	}
}

// WritePump pumps messages from the hub to the WebSocket connection
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// markAsDisconnected flags the user as offline in the database.
// The last position stays so viewers keep seeing where they were.
func (c *Client) markAsDisconnected() {
	if c.UserID == "" || c.db == nil {
		return
	}

	query := `
		UPDATE user_locations
		SET is_connected = FALSE,
		    is_tracking = FALSE,
		    updated_at = EXTRACT(EPOCH FROM NOW())::BIGINT
		WHERE user_id = $1
	`

	_, err := c.db.Exec(query, c.UserID)
	if err != nil {
		log.Printf("❌ Error marking user as disconnected: %v", err)
		return
	}

	log.Printf("🔴 User %s marked as disconnected (last position preserved)", c.UserID)
}
