package models

// Session is a server-tracked authenticated session. It outlives any single
// websocket connection; clients persist the id and revalidate on reconnect.
type Session struct {
	ID        string `json:"id" db:"id"`
	UserID    string `json:"user_id" db:"user_id"`
	CreatedAt int64  `json:"created_at" db:"created_at"`
	ExpiresAt int64  `json:"expires_at" db:"expires_at"`
}
