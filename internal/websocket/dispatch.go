package websocket

import (
	"database/sql"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"

	"safetrack/internal/models"
)

const (
	// User-chosen handles must fit the same bounds clients enforce
	minUserIDLength = 2
	maxUserIDLength = 50

	minPasswordLength = 4

	// Sessions survive this long before revalidation fails
	sessionTTL = 7 * 24 * time.Hour
)

// dispatch routes one inbound envelope to its handler. Everything past the
// auth events requires an authenticated socket.
func (c *Client) dispatch(event string, data json.RawMessage) {
	switch event {
	case models.EventRegister:
		c.handleRegister(data)
	case models.EventLogin:
		c.handleLogin(data)
	case models.EventReconnect:
		c.handleReconnect(data)
	case models.EventValidateSession:
		c.handleValidateSession(data)
	case models.EventCheckUserID:
		c.handleCheckUserID(data)
	case models.EventLogout:
		c.handleLogout()
	default:
		if c.UserID == "" {
			log.Printf("⚠️ Ignoring %s from unauthenticated socket", event)
			return
		}
		switch event {
		case models.EventRequestLocationShare:
			c.handleRequestShare(data)
		case models.EventRespondLocationShare:
			c.handleRespondShare(data)
		case models.EventStopLocationShare:
			c.handleStopShare(data)
		case models.EventStopReceivingShare:
			c.handleStopReceiving(data)
		case models.EventRequestCurrentLocation:
			c.handleRequestCurrentLocation(data)
		case models.EventStartTracking:
			c.handleStartTracking()
		case models.EventStopTracking:
			c.handleStopTracking()
		case models.EventLocationUpdate:
			c.handleLocationUpdate(data)
		case models.EventSendMessage:
			c.handleSendMessage(data)
		default:
			log.Printf("⚠️ Unknown event from %s: %s", c.UserID, event)
		}
	}
}

// emitTo delivers one envelope to another connected user. Silently a no-op
// when that user has no live socket.
func (c *Client) emitTo(userID, event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		log.Printf("❌ Failed to marshal %s payload: %v", event, err)
		return
	}
	c.hub.BroadcastToUser(userID, models.Envelope{Event: event, Data: data})
}

func (c *Client) handleRegister(data json.RawMessage) {
	var payload models.RegisterPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.Emit(models.EventRegisterError, models.ErrorPayload{Message: "Invalid request"})
		return
	}

	if len(payload.UserID) < minUserIDLength || len(payload.UserID) > maxUserIDLength {
		c.Emit(models.EventRegisterError, models.ErrorPayload{Message: "User ID must be 2-50 characters"})
		return
	}
	if len(payload.Password) < minPasswordLength {
		c.Emit(models.EventRegisterError, models.ErrorPayload{Message: "Password must be at least 4 characters"})
		return
	}

	var exists bool
	if err := c.db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, payload.UserID); err != nil {
		log.Printf("❌ Error checking user ID: %v", err)
		c.Emit(models.EventRegisterError, models.ErrorPayload{Message: "Registration failed"})
		return
	}
	if exists {
		c.Emit(models.EventRegisterError, models.ErrorPayload{Message: "User ID already taken"})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(payload.Password), bcrypt.DefaultCost)
	if err != nil {
		log.Printf("❌ Error hashing password: %v", err)
		c.Emit(models.EventRegisterError, models.ErrorPayload{Message: "Registration failed"})
		return
	}

	now := time.Now().Unix()
	_, err = c.db.Exec(
		`INSERT INTO users (id, password, name, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)`,
		payload.UserID, string(hash), payload.UserID, now,
	)
	if err != nil {
		log.Printf("❌ Error creating user: %v", err)
		c.Emit(models.EventRegisterError, models.ErrorPayload{Message: "Registration failed"})
		return
	}

	sessionID, err := c.createSession(payload.UserID)
	if err != nil {
		log.Printf("❌ Error creating session: %v", err)
		c.Emit(models.EventRegisterError, models.ErrorPayload{Message: "Registration failed"})
		return
	}

	c.attach(payload.UserID, payload.UserID)
	c.Emit(models.EventRegisterSuccess, models.RegisterSuccessPayload{UserID: payload.UserID, SessionID: sessionID})
	c.sendRestoreState()
	c.broadcastUserList()
	log.Printf("✅ New user registered: %s", payload.UserID)
}

func (c *Client) handleLogin(data json.RawMessage) {
	var payload models.LoginPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.Emit(models.EventLoginError, models.ErrorPayload{Message: "Invalid request"})
		return
	}

	var user models.User
	err := c.db.Get(&user, `SELECT * FROM users WHERE id = $1`, payload.UserID)
	if err == sql.ErrNoRows {
		c.Emit(models.EventLoginError, models.ErrorPayload{Message: "Invalid user ID or password"})
		return
	}
	if err != nil {
		log.Printf("❌ Error fetching user: %v", err)
		c.Emit(models.EventLoginError, models.ErrorPayload{Message: "Login failed"})
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(payload.Password)) != nil {
		c.Emit(models.EventLoginError, models.ErrorPayload{Message: "Invalid user ID or password"})
		return
	}

	sessionID, err := c.createSession(user.ID)
	if err != nil {
		log.Printf("❌ Error creating session: %v", err)
		c.Emit(models.EventLoginError, models.ErrorPayload{Message: "Login failed"})
		return
	}

	c.attach(user.ID, user.Name)
	c.Emit(models.EventLoginSuccess, models.LoginSuccessPayload{UserID: user.ID, SessionID: sessionID})
	c.sendRestoreState()
	c.broadcastUserList()
	log.Printf("✅ User logged in: %s", user.ID)
}

// handleReconnect re-binds a socket by cached user id. Kept for clients
// that predate session tokens; it skips password proof, so the account is
// only as safe as the device cache.
func (c *Client) handleReconnect(data json.RawMessage) {
	var payload models.ReconnectPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	var user models.User
	err := c.db.Get(&user, `SELECT * FROM users WHERE id = $1`, payload.UserID)
	if err == sql.ErrNoRows {
		c.Emit(models.EventSessionInvalid, models.ErrorPayload{Message: "Unknown user"})
		return
	}
	if err != nil {
		log.Printf("❌ Error fetching user for reconnect: %v", err)
		return
	}

	c.attach(user.ID, user.Name)
	c.Emit(models.EventSessionValid, models.SessionValidPayload{UserID: user.ID})
	c.sendRestoreState()
	c.broadcastUserList()
	log.Printf("✅ Legacy reconnect for user: %s", user.ID)
}

func (c *Client) handleValidateSession(data json.RawMessage) {
	var payload models.ValidateSessionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		c.Emit(models.EventSessionInvalid, models.ErrorPayload{Message: "Invalid request"})
		return
	}

	var session models.Session
	err := c.db.Get(&session, `SELECT * FROM sessions WHERE id = $1`, payload.SessionID)
	if err == sql.ErrNoRows {
		c.Emit(models.EventSessionInvalid, models.ErrorPayload{Message: "Session not found"})
		return
	}
	if err != nil {
		log.Printf("❌ Error fetching session: %v", err)
		c.Emit(models.EventSessionInvalid, models.ErrorPayload{Message: "Session validation failed"})
		return
	}

	if session.ExpiresAt < time.Now().Unix() {
		c.db.Exec(`DELETE FROM sessions WHERE id = $1`, session.ID)
		c.Emit(models.EventSessionInvalid, models.ErrorPayload{Message: "Session expired"})
		return
	}

	var user models.User
	if err := c.db.Get(&user, `SELECT * FROM users WHERE id = $1`, session.UserID); err != nil {
		log.Printf("❌ Error fetching session user: %v", err)
		c.Emit(models.EventSessionInvalid, models.ErrorPayload{Message: "Session validation failed"})
		return
	}

	c.attach(user.ID, user.Name)
	c.Emit(models.EventSessionValid, models.SessionValidPayload{UserID: user.ID})
	c.sendRestoreState()
	c.broadcastUserList()
	log.Printf("✅ Session validated for user: %s", user.ID)
}

func (c *Client) handleCheckUserID(data json.RawMessage) {
	var payload models.CheckUserIDPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	var exists bool
	if err := c.db.Get(&exists, `SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)`, payload.UserID); err != nil {
		log.Printf("❌ Error checking user ID availability: %v", err)
		return
	}

	c.Emit(models.EventUserIDCheckResult, models.UserIDCheckResultPayload{
		UserID:      payload.UserID,
		IsAvailable: !exists,
	})
}

func (c *Client) handleLogout() {
	if c.UserID == "" {
		return
	}

	if _, err := c.db.Exec(`DELETE FROM sessions WHERE user_id = $1`, c.UserID); err != nil {
		log.Printf("❌ Error deleting sessions on logout: %v", err)
	}

	log.Printf("👋 User logged out: %s", c.UserID)

	// Closing the socket lets the pumps run their normal disconnect path
	c.conn.Close()
}

// createSession issues a fresh session token for userID
func (c *Client) createSession(userID string) (string, error) {
	sessionID := uuid.New().String()
	now := time.Now()
	_, err := c.db.Exec(
		`INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)`,
		sessionID, userID, now.Unix(), now.Add(sessionTTL).Unix(),
	)
	if err != nil {
		return "", err
	}
	return sessionID, nil
}

// attach binds this socket to an authenticated user and flags them online
func (c *Client) attach(userID, name string) {
	c.UserID = userID
	c.Name = name
	c.hub.register <- c

	_, err := c.db.Exec(`UPDATE user_locations SET is_connected = TRUE, updated_at = $2 WHERE user_id = $1`,
		userID, time.Now().Unix())
	if err != nil {
		log.Printf("❌ Error marking user as connected: %v", err)
	}
}

// sendRestoreState pushes the authoritative permission snapshot for this
// user, then redelivers any share requests still waiting on their answer.
func (c *Client) sendRestoreState() {
	shared, err := c.grantRefs(`
		SELECT u.id, u.name FROM share_grants g
		JOIN users u ON u.id = g.viewer_id
		WHERE g.owner_id = $1
		ORDER BY g.created_at`)
	if err != nil {
		log.Printf("❌ Error loading shared users: %v", err)
		return
	}

	received, err := c.grantRefs(`
		SELECT u.id, u.name FROM share_grants g
		JOIN users u ON u.id = g.owner_id
		WHERE g.viewer_id = $1
		ORDER BY g.created_at`)
	if err != nil {
		log.Printf("❌ Error loading received shares: %v", err)
		return
	}

	var isTracking bool
	err = c.db.Get(&isTracking, `SELECT is_tracking FROM user_locations WHERE user_id = $1`, c.UserID)
	if err != nil && err != sql.ErrNoRows {
		log.Printf("❌ Error loading tracking state: %v", err)
	}

	c.Emit(models.EventRestoreState, models.RestoreStatePayload{
		SharedUsers:    shared,
		ReceivedShares: received,
		IsTracking:     isTracking,
	})

	var pending []models.PendingShareRequest
	err = c.db.Select(&pending, `
		SELECT p.request_id, p.requester_id, p.target_id, p.created_at
		FROM pending_share_requests p
		WHERE p.target_id = $1
		ORDER BY p.created_at`, c.UserID)
	if err != nil {
		log.Printf("❌ Error loading pending requests: %v", err)
		return
	}
	for _, req := range pending {
		var requester models.User
		if err := c.db.Get(&requester, `SELECT * FROM users WHERE id = $1`, req.RequesterID); err != nil {
			continue
		}
		ref := requester.Ref()
		c.Emit(models.EventLocationShareRequest, models.ShareRequestPayload{
			RequestID: req.RequestID,
			From:      ref.ID,
			FromName:  ref.Name,
		})
	}
}

func (c *Client) grantRefs(query string) ([]models.UserRef, error) {
	rows := []models.UserRef{}
	type row struct {
		ID   string `db:"id"`
		Name string `db:"name"`
	}
	var raw []row
	if err := c.db.Select(&raw, query, c.UserID); err != nil {
		return nil, err
	}
	for _, r := range raw {
		ref := models.UserRef{ID: r.ID, Name: r.Name}
		if ref.Name == "" {
			ref.Name = ref.ID
		}
		rows = append(rows, ref)
	}
	return rows, nil
}

// broadcastUserList pushes the current online roster to everyone
func (c *Client) broadcastUserList() {
	ids := c.hub.GetConnectedClientIDs()
	entries := []models.UserListEntry{}

	if len(ids) > 0 {
		type row struct {
			ID         string `db:"id"`
			Name       string `db:"name"`
			IsTracking bool   `db:"is_tracking"`
		}
		var raw []row
		err := c.db.Select(&raw, `
			SELECT u.id, u.name, COALESCE(l.is_tracking, FALSE) AS is_tracking
			FROM users u
			LEFT JOIN user_locations l ON l.user_id = u.id
			WHERE u.id = ANY($1)
			ORDER BY u.id`, pq.Array(ids))
		if err != nil {
			log.Printf("❌ Error loading user list: %v", err)
			return
		}
		for _, r := range raw {
			name := r.Name
			if name == "" {
				name = r.ID
			}
			entries = append(entries, models.UserListEntry{ID: r.ID, Name: name, IsTracking: r.IsTracking})
		}
	}

	data, err := json.Marshal(entries)
	if err != nil {
		log.Printf("❌ Failed to marshal user list: %v", err)
		return
	}
	c.hub.BroadcastToAll(models.Envelope{Event: models.EventUserList, Data: data})
}
