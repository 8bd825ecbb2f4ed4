package session

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"safetrack/internal/models"
	"safetrack/internal/statestore"
)

const (
	minTargetIDLength = 2
	maxTargetIDLength = 50
)

// RequestLocationShare asks targetID for permission to see their location.
// Preconditions are checked locally; a violation surfaces a validation
// error and nothing reaches the transport. On success the request event is
// emitted and targetID is marked pending until a response or error arrives.
func (c *Client) RequestLocationShare(targetID string) error {
	targetID = strings.TrimSpace(targetID)
	if targetID == "" {
		return c.validationFailure("enter a user id to share with")
	}
	if len(targetID) < minTargetIDLength || len(targetID) > maxTargetIDLength {
		return c.validationFailure("user id must be between 2 and 50 characters")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return c.validationFailure("not connected, try again after reconnecting")
	}
	if c.ledger.HasShared(targetID) {
		return c.validationFailure(fmt.Sprintf("already sharing with %s", targetID))
	}
	if c.ledger.HasReceived(targetID) {
		return c.validationFailure(fmt.Sprintf("already receiving %s's location", targetID))
	}
	if c.ledger.IsPending(targetID) {
		return c.validationFailure(fmt.Sprintf("a request to %s is already pending", targetID))
	}

	c.emit(models.EventRequestLocationShare, models.RequestSharePayload{TargetUserID: targetID})
	c.ledger.MarkPending(targetID)
	return nil
}

// RespondToRequest answers the inbound request requestID. On accept the
// requester is added to receivedShares before the acceptance goes out, so
// their first location update never races an unprepared ledger; their
// current location is then requested after a short settle delay. Either
// answer removes the request from the queue and cancels its timer.
func (c *Client) RespondToRequest(requestID string, accepted bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	req, ok := c.takeRequestLocked(requestID)
	if !ok {
		return c.validationFailure("request is no longer pending")
	}

	if accepted {
		c.ledger.AddReceivedShare(models.UserRef{ID: req.From, Name: req.FromName})
		c.emit(models.EventRespondLocationShare, models.RespondSharePayload{
			RequestID: requestID,
			Accepted:  true,
		})

		// Give server-side permission bookkeeping a moment to settle
		// before asking for the counterparty's snapshot
		from := req.From
		time.AfterFunc(c.cfg.AcceptLocationDelay, func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			if c.closed {
				return
			}
			c.emit(models.EventRequestCurrentLocation, models.RequestCurrentLocationPayload{
				TargetUserID: from,
			})
		})
		return nil
	}

	c.emit(models.EventRespondLocationShare, models.RespondSharePayload{
		RequestID: requestID,
		Accepted:  false,
	})
	return nil
}

// StopLocationShare revokes targetID's view of my location
func (c *Client) StopLocationShare(targetID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.emit(models.EventStopLocationShare, models.StopSharePayload{TargetUserID: targetID})
	c.ledger.RemoveSharedUser(targetID)
	c.maybeClearChatLocked()

	c.status(StatusInfo, fmt.Sprintf("🚫 stopped sharing with %s", targetID))
	return nil
}

// StopReceivingShare ends fromID's share toward me. The two directions are
// presented to the user as one severed connection, so any share back toward
// fromID is revoked as well, and fromID's cached locations are purged.
func (c *Client) StopReceivingShare(fromID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.emit(models.EventStopReceivingShare, models.StopReceivingPayload{FromUserID: fromID})
	c.ledger.RemoveReceivedShare(fromID)
	c.purgeLocationsLocked(fromID)

	if c.ledger.HasShared(fromID) {
		c.emit(models.EventStopLocationShare, models.StopSharePayload{TargetUserID: fromID})
		c.ledger.RemoveSharedUser(fromID)
	}
	c.maybeClearChatLocked()

	c.status(StatusInfo, fmt.Sprintf("🚫 fully stopped sharing with %s", fromID))
	return nil
}

// SendMessage sends a chat message to a connected peer
func (c *Client) SendMessage(targetID, message string) error {
	message = strings.TrimSpace(message)
	if message == "" {
		return c.validationFailure("message is empty")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.ledger.HasShared(targetID) && !c.ledger.HasReceived(targetID) {
		return c.validationFailure(fmt.Sprintf("no active share with %s", targetID))
	}

	c.emit(models.EventSendMessage, models.SendMessagePayload{
		TargetUserID: targetID,
		Message:      message,
	})
	return nil
}

// takeRequestLocked removes requestID from the queue and cancels its timer.
// Both the manual-response path and the expiry path go through the queue
// check, so a resolved-then-expired race can never answer twice.
func (c *Client) takeRequestLocked(requestID string) (models.ShareRequestPayload, bool) {
	for i, req := range c.requests {
		if req.RequestID == requestID {
			c.requests = append(c.requests[:i], c.requests[i+1:]...)
			if t, ok := c.requestTimers[requestID]; ok {
				t.Stop()
				delete(c.requestTimers, requestID)
			}
			return req, true
		}
	}
	return models.ShareRequestPayload{}, false
}

// expireRequest is the timed transition of an unanswered inbound request:
// behave exactly as an explicit reject
func (c *Client) expireRequest(requestID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	req, ok := c.takeRequestLocked(requestID)
	if !ok {
		return
	}

	c.emit(models.EventRespondLocationShare, models.RespondSharePayload{
		RequestID: requestID,
		Accepted:  false,
	})
	c.status(StatusInfo, fmt.Sprintf("⏰ request from %s expired", req.FromName))
}

func (c *Client) validationFailure(message string) error {
	err := &ValidationError{Message: message}
	c.status(StatusValidationError, "❌ "+message)
	return err
}

func (c *Client) maybeClearChatLocked() {
	if !c.ledger.Empty() {
		return
	}
	c.chat = nil
	if c.store != nil {
		c.store.Delete(statestore.KeyChatMessages)
	}
}

func (c *Client) purgeLocationsLocked(userID string) {
	kept := c.locations[:0]
	for _, loc := range c.locations {
		if loc.UserID != userID {
			kept = append(kept, loc)
		}
	}
	c.locations = kept
	delete(c.userPaths, userID)
}

// ── Inbound handlers ──

func (c *Client) onShareRequest(data json.RawMessage) {
	var req models.ShareRequestPayload
	if !decode(data, &req) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	// At-least-once delivery: a duplicate of a queued request is dropped
	for _, existing := range c.requests {
		if existing.RequestID == req.RequestID {
			return
		}
	}

	c.requests = append(c.requests, req)
	id := req.RequestID
	c.requestTimers[id] = time.AfterFunc(c.cfg.RequestTimeout, func() {
		c.expireRequest(id)
	})
	c.status(StatusInfo, fmt.Sprintf("📱 %s wants to see your location", req.FromName))
}

func (c *Client) onShareResponse(data json.RawMessage) {
	var resp models.ShareResponsePayload
	if !decode(data, &resp) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ledger.ClearPending(resp.TargetUserID)
	if resp.Accepted {
		c.ledger.AddSharedUser(models.UserRef{ID: resp.TargetUserID, Name: resp.TargetName})
		c.status(StatusInfo, fmt.Sprintf("✅ %s accepted your location share", resp.TargetName))
	} else {
		c.status(StatusInfo, fmt.Sprintf("❌ %s declined your location share", resp.TargetName))
	}
}

func (c *Client) onShareRequestSent(data json.RawMessage) {
	var sent models.ShareRequestSentPayload
	if !decode(data, &sent) {
		return
	}
	c.status(StatusInfo, fmt.Sprintf("📱 share request sent to %s", sent.TargetName))
}

func (c *Client) onShareRequestError(data json.RawMessage) {
	var e models.ShareRequestErrorPayload
	if !decode(data, &e) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if e.TargetUserID != "" {
		c.ledger.ClearPending(e.TargetUserID)
	}
	c.status(StatusProtocolError, "❌ "+e.Message)
}

func (c *Client) onShareStopped(data json.RawMessage) {
	var stopped models.ShareStoppedPayload
	if !decode(data, &stopped) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// The counterpart revoked one direction; whichever of our sets named
	// them is now stale
	c.ledger.RemoveReceivedShare(stopped.FromUserID)
	c.ledger.RemoveSharedUser(stopped.FromUserID)
	c.purgeLocationsLocked(stopped.FromUserID)
	c.maybeClearChatLocked()

	c.status(StatusInfo, fmt.Sprintf("🚫 %s stopped location sharing", stopped.FromName))
}

func (c *Client) onLocationReceived(data json.RawMessage) {
	var loc models.LocationReceivedPayload
	if !decode(data, &loc) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	history := make([]models.LocationReceivedPayload, 0, c.cfg.LocationHistory)
	history = append(history, loc)
	for _, prev := range c.locations {
		if len(history) == c.cfg.LocationHistory {
			break
		}
		history = append(history, prev)
	}
	c.locations = history

	if len(loc.Path) > 1 {
		c.userPaths[loc.UserID] = loc.Path
	}
}

func (c *Client) onLocationRemoved(data json.RawMessage) {
	var removed models.LocationRemovedPayload
	if !decode(data, &removed) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.purgeLocationsLocked(removed.UserID)
}

func (c *Client) onMessageSent(data json.RawMessage) {
	c.appendChat(data)
}

func (c *Client) onMessageReceived(data json.RawMessage) {
	c.appendChat(data)
}

func (c *Client) appendChat(data json.RawMessage) {
	var msg models.ChatMessagePayload
	if !decode(data, &msg) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.chat = append(c.chat, msg)
	if c.store != nil {
		c.store.SetJSON(statestore.KeyChatMessages, c.chat)
	}
}

func (c *Client) onChatError(data json.RawMessage) {
	var e models.ErrorPayload
	if !decode(data, &e) {
		return
	}
	c.status(StatusProtocolError, "❌ "+e.Message)
}
