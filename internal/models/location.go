package models

// UserLocation is the server-side last known position for a user.
// IsConnected is flipped off on disconnect so viewers keep a last
// known location instead of the marker vanishing.
type UserLocation struct {
	UserID      string  `json:"user_id" db:"user_id"`
	Latitude    float64 `json:"latitude" db:"latitude"`
	Longitude   float64 `json:"longitude" db:"longitude"`
	Path        []byte  `json:"-" db:"path"` // JSON-encoded []LatLng, bounded
	IsConnected bool    `json:"is_connected" db:"is_connected"`
	IsTracking  bool    `json:"is_tracking" db:"is_tracking"`
	Timestamp   int64   `json:"timestamp" db:"timestamp"`
	UpdatedAt   int64   `json:"updated_at" db:"updated_at"`
}
