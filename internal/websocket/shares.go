package websocket

import (
	"database/sql"
	"encoding/json"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"safetrack/internal/models"
)

// Keep at most this many trail points per user server-side
const maxPathPoints = 50

func (c *Client) handleRequestShare(data json.RawMessage) {
	var payload models.RequestSharePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	targetID := strings.TrimSpace(payload.TargetUserID)
	if targetID == c.UserID {
		c.Emit(models.EventShareRequestError, models.ShareRequestErrorPayload{
			TargetUserID: targetID,
			Message:      "You cannot request your own location",
		})
		return
	}

	var target models.User
	err := c.db.Get(&target, `SELECT * FROM users WHERE id = $1`, targetID)
	if err == sql.ErrNoRows {
		c.Emit(models.EventShareRequestError, models.ShareRequestErrorPayload{
			TargetUserID: targetID,
			Message:      "User not found",
		})
		return
	}
	if err != nil {
		log.Printf("❌ Error fetching share target: %v", err)
		c.Emit(models.EventShareRequestError, models.ShareRequestErrorPayload{
			TargetUserID: targetID,
			Message:      "Request failed",
		})
		return
	}

	var alreadyReceiving bool
	err = c.db.Get(&alreadyReceiving,
		`SELECT EXISTS(SELECT 1 FROM share_grants WHERE owner_id = $1 AND viewer_id = $2)`,
		targetID, c.UserID)
	if err != nil {
		log.Printf("❌ Error checking existing grant: %v", err)
		return
	}
	if alreadyReceiving {
		c.Emit(models.EventShareRequestError, models.ShareRequestErrorPayload{
			TargetUserID: targetID,
			Message:      "Already receiving this user's location",
		})
		return
	}

	var alreadyPending bool
	err = c.db.Get(&alreadyPending,
		`SELECT EXISTS(SELECT 1 FROM pending_share_requests WHERE requester_id = $1 AND target_id = $2)`,
		c.UserID, targetID)
	if err != nil {
		log.Printf("❌ Error checking pending request: %v", err)
		return
	}
	if alreadyPending {
		c.Emit(models.EventShareRequestError, models.ShareRequestErrorPayload{
			TargetUserID: targetID,
			Message:      "Request already pending",
		})
		return
	}

	requestID := uuid.New().String()
	_, err = c.db.Exec(
		`INSERT INTO pending_share_requests (request_id, requester_id, target_id, created_at) VALUES ($1, $2, $3, $4)`,
		requestID, c.UserID, targetID, time.Now().Unix(),
	)
	if err != nil {
		log.Printf("❌ Error storing pending request: %v", err)
		c.Emit(models.EventShareRequestError, models.ShareRequestErrorPayload{
			TargetUserID: targetID,
			Message:      "Request failed",
		})
		return
	}

	targetRef := target.Ref()
	c.Emit(models.EventShareRequestSent, models.ShareRequestSentPayload{
		TargetUserID: targetRef.ID,
		TargetName:   targetRef.Name,
	})

	if c.hub.IsUserConnected(targetID) {
		c.emitTo(targetID, models.EventLocationShareRequest, models.ShareRequestPayload{
			RequestID: requestID,
			From:      c.UserID,
			FromName:  c.displayName(),
		})
		log.Printf("📤 Share request %s: %s -> %s", requestID, c.UserID, targetID)
		return
	}

	// Target is offline: the request waits server-side and gets redelivered
	// on their next connection. Push a notification if we have a token.
	if c.fcm != nil && target.FCMToken != nil && *target.FCMToken != "" {
		if err := c.fcm.SendShareRequestNotification(*target.FCMToken, c.displayName(), requestID); err != nil {
			log.Printf("⚠️ FCM share request notification failed: %v", err)
		}
	}
	log.Printf("📱 Share request %s queued for offline user %s", requestID, targetID)
}

func (c *Client) handleRespondShare(data json.RawMessage) {
	var payload models.RespondSharePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	// Deleting the row is what makes the answer final; a second response or
	// a stale timeout finds nothing to act on
	var req models.PendingShareRequest
	err := c.db.Get(&req,
		`DELETE FROM pending_share_requests WHERE request_id = $1 AND target_id = $2
		 RETURNING request_id, requester_id, target_id, created_at`,
		payload.RequestID, c.UserID)
	if err == sql.ErrNoRows {
		log.Printf("⚠️ Response for unknown or already-answered request: %s", payload.RequestID)
		return
	}
	if err != nil {
		log.Printf("❌ Error resolving pending request: %v", err)
		return
	}

	if payload.Accepted {
		_, err = c.db.Exec(
			`INSERT INTO share_grants (owner_id, viewer_id, created_at) VALUES ($1, $2, $3)
			 ON CONFLICT (owner_id, viewer_id) DO NOTHING`,
			c.UserID, req.RequesterID, time.Now().Unix(),
		)
		if err != nil {
			log.Printf("❌ Error creating share grant: %v", err)
			return
		}
		log.Printf("✅ Share accepted: %s now sees %s", req.RequesterID, c.UserID)
	} else {
		log.Printf("🚫 Share declined: %s -> %s", req.RequesterID, c.UserID)
	}

	// The requester may be offline; an accepted grant still lands in their
	// next restoreState
	c.emitTo(req.RequesterID, models.EventLocationShareResponse, models.ShareResponsePayload{
		TargetUserID: c.UserID,
		TargetName:   c.displayName(),
		Accepted:     payload.Accepted,
	})
}

// handleStopShare revokes my grant toward the viewer in the payload
func (c *Client) handleStopShare(data json.RawMessage) {
	var payload models.StopSharePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	res, err := c.db.Exec(`DELETE FROM share_grants WHERE owner_id = $1 AND viewer_id = $2`,
		c.UserID, payload.TargetUserID)
	if err != nil {
		log.Printf("❌ Error revoking share grant: %v", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return
	}

	log.Printf("🚫 %s stopped sharing with %s", c.UserID, payload.TargetUserID)

	c.emitTo(payload.TargetUserID, models.EventLocationShareStopped, models.ShareStoppedPayload{
		FromUserID: c.UserID,
		FromName:   c.displayName(),
	})
	c.emitTo(payload.TargetUserID, models.EventLocationRemoved, models.LocationRemovedPayload{UserID: c.UserID})

	if !c.hub.IsUserConnected(payload.TargetUserID) {
		c.notifyShareStopped(payload.TargetUserID)
	}
}

// handleStopReceiving drops the grant where the payload user shares with me
func (c *Client) handleStopReceiving(data json.RawMessage) {
	var payload models.StopReceivingPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	res, err := c.db.Exec(`DELETE FROM share_grants WHERE owner_id = $1 AND viewer_id = $2`,
		payload.FromUserID, c.UserID)
	if err != nil {
		log.Printf("❌ Error dropping received share: %v", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return
	}

	log.Printf("🚫 %s stopped receiving from %s", c.UserID, payload.FromUserID)

	c.emitTo(payload.FromUserID, models.EventLocationShareStopped, models.ShareStoppedPayload{
		FromUserID: c.UserID,
		FromName:   c.displayName(),
	})

	if !c.hub.IsUserConnected(payload.FromUserID) {
		c.notifyShareStopped(payload.FromUserID)
	}
}

// handleRequestCurrentLocation replays the target's last known position to
// a viewer who just gained (or regained) the grant
func (c *Client) handleRequestCurrentLocation(data json.RawMessage) {
	var payload models.RequestCurrentLocationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	var allowed bool
	err := c.db.Get(&allowed,
		`SELECT EXISTS(SELECT 1 FROM share_grants WHERE owner_id = $1 AND viewer_id = $2)`,
		payload.TargetUserID, c.UserID)
	if err != nil {
		log.Printf("❌ Error checking grant for location request: %v", err)
		return
	}
	if !allowed {
		log.Printf("⚠️ %s requested location of %s without a grant", c.UserID, payload.TargetUserID)
		return
	}

	var loc models.UserLocation
	err = c.db.Get(&loc, `SELECT * FROM user_locations WHERE user_id = $1`, payload.TargetUserID)
	if err == sql.ErrNoRows {
		return
	}
	if err != nil {
		log.Printf("❌ Error fetching location: %v", err)
		return
	}

	c.Emit(models.EventLocationReceived, locationPayload(&loc))
}

func (c *Client) handleStartTracking() {
	now := time.Now().Unix()
	_, err := c.db.Exec(`
		INSERT INTO user_locations (user_id, latitude, longitude, path, is_connected, is_tracking, timestamp, updated_at)
		VALUES ($1, 0, 0, '[]', TRUE, TRUE, $2, $2)
		ON CONFLICT (user_id)
		DO UPDATE SET is_connected = TRUE, is_tracking = TRUE, updated_at = $2`,
		c.UserID, now)
	if err != nil {
		log.Printf("❌ Error marking tracking started: %v", err)
		return
	}

	log.Printf("📍 %s started tracking", c.UserID)
	c.broadcastTrackingStatus(true)
}

func (c *Client) handleStopTracking() {
	res, err := c.db.Exec(`
		UPDATE user_locations
		SET is_tracking = FALSE, path = '[]', updated_at = $2
		WHERE user_id = $1 AND is_tracking = TRUE`,
		c.UserID, time.Now().Unix())
	if err != nil {
		log.Printf("❌ Error marking tracking stopped: %v", err)
		return
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return
	}

	log.Printf("📍 %s stopped tracking", c.UserID)

	// Viewers drop the marker immediately; the grant itself survives
	for _, viewerID := range c.viewerIDs() {
		c.emitTo(viewerID, models.EventLocationRemoved, models.LocationRemovedPayload{UserID: c.UserID})
	}
	c.broadcastTrackingStatus(false)
}

func (c *Client) handleLocationUpdate(data json.RawMessage) {
	var payload models.LocationUpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}
	if payload.UserID != "" && payload.UserID != c.UserID {
		log.Printf("⚠️ %s sent a location update for %s, ignoring", c.UserID, payload.UserID)
		return
	}

	// Append to the stored trail, bounded to the newest points
	var path []models.LatLng
	var stored []byte
	err := c.db.Get(&stored, `SELECT path FROM user_locations WHERE user_id = $1`, c.UserID)
	if err == nil && len(stored) > 0 {
		if err := json.Unmarshal(stored, &path); err != nil {
			path = nil
		}
	}
	path = append(path, models.LatLng{Lat: payload.Lat, Lng: payload.Lng})
	if len(path) > maxPathPoints {
		path = path[len(path)-maxPathPoints:]
	}
	pathJSON, err := json.Marshal(path)
	if err != nil {
		log.Printf("❌ Failed to marshal path: %v", err)
		return
	}

	now := time.Now().Unix()
	_, err = c.db.Exec(`
		INSERT INTO user_locations (user_id, latitude, longitude, path, is_connected, is_tracking, timestamp, updated_at)
		VALUES ($1, $2, $3, $4, TRUE, TRUE, $5, $5)
		ON CONFLICT (user_id)
		DO UPDATE SET
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			path = EXCLUDED.path,
			is_connected = TRUE,
			is_tracking = TRUE,
			timestamp = EXCLUDED.timestamp,
			updated_at = EXCLUDED.updated_at`,
		c.UserID, payload.Lat, payload.Lng, pathJSON, now)
	if err != nil {
		log.Printf("❌ Error saving location: %v", err)
		return
	}

	update := models.LocationReceivedPayload{
		UserID:    c.UserID,
		Lat:       payload.Lat,
		Lng:       payload.Lng,
		Timestamp: time.Unix(now, 0).UTC().Format(time.RFC3339),
	}
	if len(path) > 1 {
		update.Path = path
	}
	for _, viewerID := range c.viewerIDs() {
		c.emitTo(viewerID, models.EventLocationReceived, update)
	}
}

func (c *Client) handleSendMessage(data json.RawMessage) {
	var payload models.SendMessagePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		return
	}

	if strings.TrimSpace(payload.Message) == "" {
		c.Emit(models.EventChatError, models.ErrorPayload{Message: "Message cannot be empty"})
		return
	}

	// Chat rides on the share relation: either direction is enough
	var related bool
	err := c.db.Get(&related, `
		SELECT EXISTS(
			SELECT 1 FROM share_grants
			WHERE (owner_id = $1 AND viewer_id = $2) OR (owner_id = $2 AND viewer_id = $1)
		)`, c.UserID, payload.TargetUserID)
	if err != nil {
		log.Printf("❌ Error checking chat relation: %v", err)
		return
	}
	if !related {
		c.Emit(models.EventChatError, models.ErrorPayload{Message: "No active location share with this user"})
		return
	}

	message := models.ChatMessagePayload{
		From:      c.UserID,
		To:        payload.TargetUserID,
		Message:   payload.Message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}

	c.Emit(models.EventMessageSent, message)

	if c.hub.IsUserConnected(payload.TargetUserID) {
		c.emitTo(payload.TargetUserID, models.EventMessageReceived, message)
		return
	}

	var token *string
	if err := c.db.Get(&token, `SELECT fcm_token FROM users WHERE id = $1`, payload.TargetUserID); err == nil &&
		c.fcm != nil && token != nil && *token != "" {
		if err := c.fcm.SendChatNotification(*token, c.displayName(), payload.Message); err != nil {
			log.Printf("⚠️ FCM chat notification failed: %v", err)
		}
	}
}

// viewerIDs lists everyone currently allowed to see my location
func (c *Client) viewerIDs() []string {
	var ids []string
	if err := c.db.Select(&ids, `SELECT viewer_id FROM share_grants WHERE owner_id = $1`, c.UserID); err != nil {
		log.Printf("❌ Error loading viewers: %v", err)
		return nil
	}
	return ids
}

func (c *Client) broadcastTrackingStatus(isTracking bool) {
	status, err := json.Marshal(models.TrackingStatusPayload{UserID: c.UserID, IsTracking: isTracking})
	if err != nil {
		return
	}
	c.hub.BroadcastToAll(models.Envelope{Event: models.EventTrackingStatusUpdate, Data: status})
	c.broadcastUserList()
}

func (c *Client) notifyShareStopped(userID string) {
	if c.fcm == nil {
		return
	}
	var token *string
	if err := c.db.Get(&token, `SELECT fcm_token FROM users WHERE id = $1`, userID); err != nil {
		return
	}
	if token == nil || *token == "" {
		return
	}
	if err := c.fcm.SendShareStoppedNotification(*token, c.displayName()); err != nil {
		log.Printf("⚠️ FCM share stopped notification failed: %v", err)
	}
}

func (c *Client) displayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.UserID
}

// locationPayload converts a stored location row to its wire form
func locationPayload(loc *models.UserLocation) models.LocationReceivedPayload {
	payload := models.LocationReceivedPayload{
		UserID:    loc.UserID,
		Lat:       loc.Latitude,
		Lng:       loc.Longitude,
		Timestamp: time.Unix(loc.Timestamp, 0).UTC().Format(time.RFC3339),
	}
	if len(loc.Path) > 0 {
		var path []models.LatLng
		if err := json.Unmarshal(loc.Path, &path); err == nil && len(path) > 1 {
			payload.Path = path
		}
	}
	return payload
}
