package session

import (
	"encoding/json"
	"log"
	"math/rand"
	"sync"
	"time"

	"safetrack/internal/models"
	"safetrack/internal/statestore"
)

const (
	defaultRequestTimeout      = 15 * time.Second
	defaultAcceptLocationDelay = 200 * time.Millisecond
	defaultLocationHistory     = 10
)

// Config holds the tunables of a session client. The durations exist so
// tests can shrink them; production callers normally leave them zero and
// get the defaults.
type Config struct {
	UserID   string
	UserName string

	// RequestTimeout is how long an inbound share request waits for a
	// decision before it is implicitly rejected (default 15s).
	RequestTimeout time.Duration

	// AcceptLocationDelay is the pause between accepting a share and
	// asking for the counterparty's current location, giving server-side
	// permission bookkeeping time to settle (default 200ms).
	AcceptLocationDelay time.Duration

	// LocationHistory bounds the rolling location list (default 10)
	LocationHistory int

	// Source produces device positions for live tracking. Nil means the
	// environment has no geolocation capability.
	Source LocationSource

	Simulation SimulationConfig

	// OnStatus receives user-facing status messages. Optional. It is
	// invoked from the client's internal goroutines and must not call
	// back into the Client.
	OnStatus func(Status)

	// OnUserIDCheck receives register-time id availability answers
	OnUserIDCheck func(userID string, available bool)
}

func (c Config) withDefaults() Config {
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}
	if c.AcceptLocationDelay <= 0 {
		c.AcceptLocationDelay = defaultAcceptLocationDelay
	}
	if c.LocationHistory <= 0 {
		c.LocationHistory = defaultLocationHistory
	}
	if c.Simulation == (SimulationConfig{}) {
		c.Simulation = DefaultSimulation()
	}
	if c.Simulation.rng == nil {
		c.Simulation.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return c
}

// Client is the location-sharing session state machine: it mirrors the
// server's permission state, runs the request/response handshake, owns the
// single location-producing loop, and reconciles on every (re)connect.
//
// All mutations happen under one mutex; the transport read pump and the
// request timers are the only writers besides the public API.
type Client struct {
	mu        sync.Mutex
	cfg       Config
	transport Transport
	store     *statestore.Store
	ledger    *Ledger

	userID        string
	sessionID     string
	connected     bool
	authenticated bool
	closed        bool

	// Inbound requests awaiting a decision, oldest first
	requests      []models.ShareRequestPayload
	requestTimers map[string]*time.Timer

	// Rolling location history, newest first
	locations []models.LocationReceivedPayload
	userPaths map[string][]models.LatLng

	chat []models.ChatMessagePayload

	trackingState   TrackingState
	cancelWatch     func()
	simStop         chan struct{}
	currentLocation *models.LatLng

	users []models.UserListEntry
}

// NewClient wires a session client to its transport and local cache and
// registers every inbound event handler. The store may be nil (no local
// persistence); the client then starts from an empty ledger.
func NewClient(transport Transport, store *statestore.Store, cfg Config) *Client {
	cfg = cfg.withDefaults()

	c := &Client{
		cfg:           cfg,
		transport:     transport,
		store:         store,
		ledger:        NewLedger(store),
		userID:        cfg.UserID,
		requestTimers: make(map[string]*time.Timer),
		userPaths:     make(map[string][]models.LatLng),
	}

	c.restoreFromCache()

	transport.On(models.EventConnect, c.onConnect)
	transport.On(models.EventDisconnect, c.onDisconnect)
	transport.On(models.EventSessionValid, c.onSessionValid)
	transport.On(models.EventSessionInvalid, c.onSessionInvalid)
	transport.On(models.EventRestoreState, c.onRestoreState)
	transport.On(models.EventLocationShareRequest, c.onShareRequest)
	transport.On(models.EventLocationShareResponse, c.onShareResponse)
	transport.On(models.EventShareRequestSent, c.onShareRequestSent)
	transport.On(models.EventShareRequestError, c.onShareRequestError)
	transport.On(models.EventLocationShareStopped, c.onShareStopped)
	transport.On(models.EventLocationReceived, c.onLocationReceived)
	transport.On(models.EventLocationRemoved, c.onLocationRemoved)
	transport.On(models.EventMessageSent, c.onMessageSent)
	transport.On(models.EventMessageReceived, c.onMessageReceived)
	transport.On(models.EventChatError, c.onChatError)
	transport.On(models.EventRegisterSuccess, c.onRegisterSuccess)
	transport.On(models.EventRegisterError, c.onAuthError)
	transport.On(models.EventLoginSuccess, c.onLoginSuccess)
	transport.On(models.EventLoginError, c.onAuthError)
	transport.On(models.EventUserIDCheckResult, c.onUserIDCheckResult)
	transport.On(models.EventUserList, c.onUserList)
	transport.On(models.EventTrackingStatusUpdate, c.onTrackingStatusUpdate)

	return c
}

func (c *Client) restoreFromCache() {
	c.ledger.RestoreFromCache()
	if c.store == nil {
		return
	}
	if c.userID == "" {
		if id, ok := c.store.Get(statestore.KeyUserID); ok {
			c.userID = id
		}
	}
	if sid, ok := c.store.Get(statestore.KeySessionID); ok {
		c.sessionID = sid
	}
	var loc models.LatLng
	if c.store.GetJSON(statestore.KeyCurrentLocation, &loc) {
		c.currentLocation = &loc
	}
	c.store.GetJSON(statestore.KeyChatMessages, &c.chat)
	c.store.GetJSON(statestore.KeyFriends, &c.users)
}

// UserID returns the locally-known user id
func (c *Client) UserID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.userID
}

// SharedUsers lists who may currently see my location
func (c *Client) SharedUsers() []models.UserRef {
	return c.ledger.SharedUsers()
}

// ReceivedShares lists whose location I may currently see
func (c *Client) ReceivedShares() []models.UserRef {
	return c.ledger.ReceivedShares()
}

// PendingRequests lists unanswered outgoing request targets
func (c *Client) PendingRequests() []string {
	return c.ledger.PendingRequests()
}

// ShareRequests returns the inbound requests awaiting a decision
func (c *Client) ShareRequests() []models.ShareRequestPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ShareRequestPayload, len(c.requests))
	copy(out, c.requests)
	return out
}

// Locations returns the rolling location history, newest first
func (c *Client) Locations() []models.LocationReceivedPayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.LocationReceivedPayload, len(c.locations))
	copy(out, c.locations)
	return out
}

// CurrentLocation returns my own last produced position, or nil
func (c *Client) CurrentLocation() *models.LatLng {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.currentLocation == nil {
		return nil
	}
	loc := *c.currentLocation
	return &loc
}

// ChatMessages returns the chat history with connected peers
func (c *Client) ChatMessages() []models.ChatMessagePayload {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.ChatMessagePayload, len(c.chat))
	copy(out, c.chat)
	return out
}

// Users returns the last userList broadcast from the server
func (c *Client) Users() []models.UserListEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]models.UserListEntry, len(c.users))
	copy(out, c.users)
	return out
}

func (c *Client) onUserList(data json.RawMessage) {
	var users []models.UserListEntry
	if !decode(data, &users) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.users = users
	if c.store != nil {
		c.store.SetJSON(statestore.KeyFriends, users)
	}
}

func (c *Client) onTrackingStatusUpdate(data json.RawMessage) {
	var update models.TrackingStatusPayload
	if !decode(data, &update) {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := range c.users {
		if c.users[i].ID == update.UserID {
			c.users[i].IsTracking = update.IsTracking
		}
	}
}

func (c *Client) onUserIDCheckResult(data json.RawMessage) {
	var result models.UserIDCheckResultPayload
	if !decode(data, &result) {
		return
	}
	if c.cfg.OnUserIDCheck != nil {
		c.cfg.OnUserIDCheck(result.UserID, result.IsAvailable)
	}
}

// Connected reports whether the transport currently has a connection
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Close tears the client down: every request timer is cancelled, any
// tracking loop is stopped, and no further events are processed.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	for id, t := range c.requestTimers {
		t.Stop()
		delete(c.requestTimers, id)
	}
	c.requests = nil
	c.stopProducersLocked()
	c.mu.Unlock()

	for _, ev := range []string{
		models.EventConnect, models.EventDisconnect,
		models.EventSessionValid, models.EventSessionInvalid, models.EventRestoreState,
		models.EventLocationShareRequest, models.EventLocationShareResponse,
		models.EventShareRequestSent, models.EventShareRequestError,
		models.EventLocationShareStopped, models.EventLocationReceived,
		models.EventLocationRemoved, models.EventMessageSent,
		models.EventMessageReceived, models.EventChatError,
		models.EventRegisterSuccess, models.EventRegisterError,
		models.EventLoginSuccess, models.EventLoginError,
		models.EventUserIDCheckResult, models.EventUserList,
		models.EventTrackingStatusUpdate,
	} {
		c.transport.Off(ev)
	}
}

// emit sends an event, logging instead of failing: the core treats the
// transport as fire and forget
func (c *Client) emit(event string, payload interface{}) {
	if err := c.transport.Emit(event, payload); err != nil {
		log.Printf("⚠️  emit %s failed: %v", event, err)
	}
}

func (c *Client) status(kind StatusKind, message string) {
	if c.cfg.OnStatus != nil {
		c.cfg.OnStatus(Status{Kind: kind, Message: message})
	}
}

func decode(data json.RawMessage, out interface{}) bool {
	if err := json.Unmarshal(data, out); err != nil {
		log.Printf("⚠️  dropping malformed event payload: %v", err)
		return false
	}
	return true
}
