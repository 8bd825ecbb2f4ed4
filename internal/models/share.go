package models

// ShareGrant is the authoritative record that owner's live location may be
// seen by viewer. One row per direction; a bidirectional share is two rows.
type ShareGrant struct {
	ID        int    `json:"id" db:"id"`
	OwnerID   string `json:"owner_id" db:"owner_id"`   // whose location is exposed
	ViewerID  string `json:"viewer_id" db:"viewer_id"` // who may see it
	CreatedAt int64  `json:"created_at" db:"created_at"`
}

// PendingShareRequest is a not-yet-answered "may I see your location?"
// handshake, held server-side until the target answers it. It survives
// disconnects on both ends and is redelivered when the target reconnects.
type PendingShareRequest struct {
	RequestID   string `json:"request_id" db:"request_id"`
	RequesterID string `json:"requester_id" db:"requester_id"`
	TargetID    string `json:"target_id" db:"target_id"`
	CreatedAt   int64  `json:"created_at" db:"created_at"`
}
