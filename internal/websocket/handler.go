package websocket

import (
	"log"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/jmoiron/sqlx"

	"safetrack/internal/middleware"
	"safetrack/internal/services"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// Allow all origins in development
		// TODO: Restrict in production
		return true
	},
}

// HandleWebSocket upgrades HTTP connections to WebSocket. The socket starts
// unauthenticated; clients bind a user with register, login, reconnect or
// validateSession events. A valid ?token= query parameter binds immediately.
func HandleWebSocket(hub *Hub, db *sqlx.DB, fcm *services.FCMService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var claims *middleware.UserClaims
		if tokenString := r.URL.Query().Get("token"); tokenString != "" {
			parsed, err := middleware.ParseToken(tokenString)
			if err != nil {
				log.Printf("❌ Invalid token in query parameter: %v", err)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			claims = &parsed
		}

		// Upgrade HTTP connection to WebSocket
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Printf("❌ WebSocket upgrade failed: %v", err)
			return
		}

		client := NewClient(conn, hub, db, fcm)

		// Bind before the pumps start so the read loop never races the
		// identity fields
		if claims != nil {
			client.attach(claims.UserID, claims.Name)
			client.sendRestoreState()
			client.broadcastUserList()
			log.Printf("✅ WebSocket connection established for user: %s", claims.UserID)
		} else {
			log.Printf("🔌 WebSocket connection established (awaiting authentication)")
		}

		// Start pumps in separate goroutines
		go client.WritePump()
		go client.ReadPump()
	}
}
