package session

import "encoding/json"

// Transport is the realtime bidirectional event channel the session core
// runs on top of. Emit is fire and forget: the core assumes no delivery
// guarantee and treats silence as "still pending" until an explicit
// response or error event arrives. Handlers must tolerate at-least-once
// delivery; every ledger mutation is idempotent for that reason.
//
// Implementations synthesize models.EventConnect / models.EventDisconnect
// for connection lifecycle; those never travel on the wire.
type Transport interface {
	Emit(event string, payload interface{}) error
	On(event string, handler func(data json.RawMessage))
	Off(event string)
	Connected() bool
}
