package session

import (
	"encoding/json"
	"fmt"

	"safetrack/internal/models"
	"safetrack/internal/statestore"
)

// Register creates an account over the realtime channel
func (c *Client) Register(userID, password string) error {
	return c.authenticate(models.EventRegister, userID, password)
}

// Login authenticates an existing account over the realtime channel
func (c *Client) Login(userID, password string) error {
	return c.authenticate(models.EventLogin, userID, password)
}

func (c *Client) authenticate(event, userID, password string) error {
	if userID == "" || password == "" {
		return c.validationFailure("enter a user id and password")
	}
	if len(userID) < 4 {
		return c.validationFailure("user id must be at least 4 characters")
	}
	if len(password) < 4 {
		return c.validationFailure("password must be at least 4 characters")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return c.validationFailure("not connected, try again after reconnecting")
	}

	c.emit(event, models.LoginPayload{UserID: userID, Password: password})
	return nil
}

// Logout ends the session and clears every cached trace of it
func (c *Client) Logout() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.userID != "" {
		c.emit(models.EventLogout, models.LogoutPayload{UserID: c.userID})
	}
	c.deauthenticateLocked()
}

// CheckUserID probes whether id is free to register. The answer arrives as
// a userIdCheckResult event. Callers wanting keystroke debouncing wrap this
// in a Debouncer.
func (c *Client) CheckUserID(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected || id == "" {
		return
	}
	c.emit(models.EventCheckUserID, models.CheckUserIDPayload{UserID: id})
}

// Authenticated reports whether the server has confirmed this session
func (c *Client) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authenticated
}

// SessionID returns the server-issued session identifier, if any
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

func (c *Client) deauthenticateLocked() {
	c.authenticated = false
	c.sessionID = ""
	c.userID = ""
	c.ledger.Reset()
	c.requests = nil
	for id, t := range c.requestTimers {
		t.Stop()
		delete(c.requestTimers, id)
	}
	c.locations = nil
	c.userPaths = make(map[string][]models.LatLng)
	c.chat = nil
	c.stopProducersLocked()
	c.trackingState = TrackingIdle
	c.currentLocation = nil
	if c.store != nil {
		c.store.Clear()
	}
}

// ── Connection lifecycle ──

// onConnect runs reconciliation: if a persisted session exists, ask the
// server to validate it; the authoritative restoreState push that follows
// overwrites whatever the local cache repainted. The cached-credential
// reconnect is the legacy compatibility path.
func (c *Client) onConnect(json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.connected = true

	if c.sessionID != "" {
		c.emit(models.EventValidateSession, models.ValidateSessionPayload{SessionID: c.sessionID})
		return
	}

	if c.store != nil && c.store.GetBool(statestore.KeyIsRegistered) && c.userID != "" {
		c.emit(models.EventReconnect, models.ReconnectPayload{UserID: c.userID})
	}
}

// onDisconnect only flips the connected flag. All protocol state, pending
// requests especially, is stale until the next reconcile; the precondition
// checks refuse new requests meanwhile.
func (c *Client) onDisconnect(json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = false
}

// ── Session outcomes ──

func (c *Client) onSessionValid(data json.RawMessage) {
	var valid models.SessionValidPayload
	if !decode(data, &valid) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = valid.UserID
	c.authenticated = true
	c.persistIdentityLocked()
	c.status(StatusInfo, fmt.Sprintf("✅ session restored for %s", valid.UserID))
}

func (c *Client) onSessionInvalid(json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.deauthenticateLocked()
	c.status(StatusSessionError, "❌ session expired, please log in again")
}

// onRestoreState applies the authoritative snapshot: the ledger is
// replaced, never merged. Tracking is not auto-resumed; if the server says
// tracking is off while a local loop runs, the loop is stopped.
func (c *Client) onRestoreState(data json.RawMessage) {
	var restore models.RestoreStatePayload
	if !decode(data, &restore) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.ledger.Replace(restore.SharedUsers, restore.ReceivedShares)

	if !restore.IsTracking && c.trackingState != TrackingIdle {
		c.stopTrackingLocked()
	}
}

// ── Auth outcomes ──

func (c *Client) onRegisterSuccess(data json.RawMessage) {
	c.applyAuthSuccess(data, "registered")
}

func (c *Client) onLoginSuccess(data json.RawMessage) {
	c.applyAuthSuccess(data, "logged in")
}

func (c *Client) applyAuthSuccess(data json.RawMessage, verb string) {
	var success models.LoginSuccessPayload
	if !decode(data, &success) {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.userID = success.UserID
	c.sessionID = success.SessionID
	c.authenticated = true
	c.persistIdentityLocked()
	c.status(StatusInfo, fmt.Sprintf("✅ %s as %s", verb, success.UserID))
}

func (c *Client) onAuthError(data json.RawMessage) {
	var e models.ErrorPayload
	if !decode(data, &e) {
		return
	}
	c.status(StatusProtocolError, "❌ "+e.Message)
}

func (c *Client) persistIdentityLocked() {
	if c.store == nil {
		return
	}
	c.store.Set(statestore.KeyUserID, c.userID)
	c.store.SetBool(statestore.KeyIsRegistered, true)
	if c.sessionID != "" {
		c.store.Set(statestore.KeySessionID, c.sessionID)
	}
}
