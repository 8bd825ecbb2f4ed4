package models

import "encoding/json"

// Event names exchanged over the realtime channel. These are part of the
// wire contract with deployed clients, so the exact strings matter.
const (
	// Client -> server
	EventRegister               = "register"
	EventLogin                  = "login"
	EventLogout                 = "logout"
	EventReconnect              = "reconnect"
	EventCheckUserID            = "checkUserId"
	EventValidateSession        = "validateSession"
	EventRequestLocationShare   = "requestLocationShare"
	EventRespondLocationShare   = "respondLocationShare"
	EventStopLocationShare      = "stopLocationShare"
	EventStopReceivingShare     = "stopReceivingShare"
	EventRequestCurrentLocation = "requestCurrentLocation"
	EventStartTracking          = "startTracking"
	EventStopTracking           = "stopTracking"
	EventLocationUpdate         = "locationUpdate"
	EventSendMessage            = "sendMessage"

	// Server -> client
	EventRegisterSuccess       = "registerSuccess"
	EventRegisterError         = "registerError"
	EventLoginSuccess          = "loginSuccess"
	EventLoginError            = "loginError"
	EventUserIDCheckResult     = "userIdCheckResult"
	EventSessionValid          = "sessionValid"
	EventSessionInvalid        = "sessionInvalid"
	EventRestoreState          = "restoreState"
	EventLocationShareRequest  = "locationShareRequest"
	EventLocationShareResponse = "locationShareResponse"
	EventShareRequestSent      = "shareRequestSent"
	EventShareRequestError     = "shareRequestError"
	EventLocationShareStopped  = "locationShareStopped"
	EventLocationReceived      = "locationReceived"
	EventLocationRemoved       = "locationRemoved"
	EventTrackingStatusUpdate  = "trackingStatusUpdate"
	EventUserList              = "userList"
	EventMessageSent           = "messageSent"
	EventMessageReceived       = "messageReceived"
	EventChatError             = "chatError"

	// Transport lifecycle (synthesized locally, never sent on the wire)
	EventConnect    = "connect"
	EventDisconnect = "disconnect"
)

// Envelope wraps every message on the realtime channel
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// UserRef identifies a counterparty in a share relationship.
// Name falls back to the ID when no display name is known.
type UserRef struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// DisplayName returns the name to show for this user
func (u UserRef) DisplayName() string {
	if u.Name != "" {
		return u.Name
	}
	return u.ID
}

// ── Client -> server payloads ──

type RegisterPayload struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

type LoginPayload struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

type LogoutPayload struct {
	UserID string `json:"userId"`
}

// ReconnectPayload is the legacy compatibility path: re-bind a socket by
// cached user id instead of a session token
type ReconnectPayload struct {
	UserID string `json:"userId"`
}

type CheckUserIDPayload struct {
	UserID string `json:"userId"`
}

type ValidateSessionPayload struct {
	SessionID string `json:"sessionId"`
}

type RequestSharePayload struct {
	TargetUserID string `json:"targetUserId"`
}

type RespondSharePayload struct {
	RequestID string `json:"requestId"`
	Accepted  bool   `json:"accepted"`
}

type StopSharePayload struct {
	TargetUserID string `json:"targetUserId"`
}

type StopReceivingPayload struct {
	FromUserID string `json:"fromUserId"`
}

type RequestCurrentLocationPayload struct {
	TargetUserID string `json:"targetUserId"`
}

type TrackingPayload struct {
	UserID string `json:"userId"`
}

type LocationUpdatePayload struct {
	UserID string  `json:"userId"`
	Lat    float64 `json:"lat"`
	Lng    float64 `json:"lng"`
}

type SendMessagePayload struct {
	TargetUserID string `json:"targetUserId"`
	Message      string `json:"message"`
}

// ── Server -> client payloads ──

type RegisterSuccessPayload struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

type LoginSuccessPayload struct {
	UserID    string `json:"userId"`
	SessionID string `json:"sessionId"`
}

type ErrorPayload struct {
	Message string `json:"message"`
}

type UserIDCheckResultPayload struct {
	UserID      string `json:"userId"`
	IsAvailable bool   `json:"isAvailable"`
}

type SessionValidPayload struct {
	UserID string `json:"userId"`
}

// RestoreStatePayload is the authoritative permission snapshot pushed after
// a session is validated. The client replaces its local state with it.
type RestoreStatePayload struct {
	SharedUsers    []UserRef `json:"sharedUsers"`
	ReceivedShares []UserRef `json:"receivedShares"`
	IsTracking     bool      `json:"isTracking"`
}

type ShareRequestPayload struct {
	RequestID string `json:"requestId"`
	From      string `json:"from"`
	FromName  string `json:"fromName"`
}

type ShareResponsePayload struct {
	TargetUserID string `json:"targetUserId"`
	TargetName   string `json:"targetName"`
	Accepted     bool   `json:"accepted"`
	Reason       string `json:"reason,omitempty"`
}

type ShareRequestSentPayload struct {
	TargetUserID string `json:"targetUserId"`
	TargetName   string `json:"targetName"`
}

type ShareRequestErrorPayload struct {
	TargetUserID string `json:"targetUserId,omitempty"`
	Message      string `json:"message"`
}

type ShareStoppedPayload struct {
	FromUserID string `json:"fromUserId"`
	FromName   string `json:"fromName"`
}

type LatLng struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

type LocationReceivedPayload struct {
	UserID    string   `json:"userId"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Timestamp string   `json:"timestamp"`
	Path      []LatLng `json:"path,omitempty"`
}

type LocationRemovedPayload struct {
	UserID string `json:"userId"`
}

type TrackingStatusPayload struct {
	UserID     string `json:"userId"`
	IsTracking bool   `json:"isTracking"`
}

// UserListEntry describes one connected user in a userList broadcast
type UserListEntry struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	IsTracking bool   `json:"isTracking"`
}

type ChatMessagePayload struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}
