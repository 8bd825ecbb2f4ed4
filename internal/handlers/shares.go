package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"safetrack/internal/database"
	"safetrack/internal/middleware"
	"safetrack/internal/models"
	"safetrack/internal/websocket"
	"safetrack/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
)

type SharesResponse struct {
	SharedUsers     []models.UserRef             `json:"sharedUsers"`
	ReceivedShares  []models.UserRef             `json:"receivedShares"`
	PendingRequests []models.PendingShareRequest `json:"pendingRequests"`
}

// GetShares returns the authenticated user's share relations in both
// directions plus any requests still waiting on their answer
// GET /api/shares
func GetShares(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		shared, err := database.SharedWith(db, claims.UserID)
		if err != nil {
			log.Printf("❌ Error loading shared users: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load shares")
			return
		}

		received, err := database.ReceivingFrom(db, claims.UserID)
		if err != nil {
			log.Printf("❌ Error loading received shares: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load shares")
			return
		}

		pending, err := database.PendingRequestsFor(db, claims.UserID)
		if err != nil {
			log.Printf("❌ Error loading pending requests: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load shares")
			return
		}

		utils.RespondJSON(w, http.StatusOK, SharesResponse{
			SharedUsers:     shared,
			ReceivedShares:  received,
			PendingRequests: pending,
		})
	}
}

// RevokeShare ends the authenticated user's share toward one viewer and
// tells that viewer over the realtime channel
// DELETE /api/shares/{viewerID}
func RevokeShare(db *sqlx.DB, hub *websocket.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		viewerID := chi.URLParam(r, "viewerID")

		revoked, err := database.RevokeGrant(db, claims.UserID, viewerID)
		if err != nil {
			log.Printf("❌ Error revoking share: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to revoke share")
			return
		}
		if !revoked {
			utils.RespondError(w, http.StatusNotFound, "Share not found")
			return
		}

		fromName := claims.Name
		if fromName == "" {
			fromName = claims.UserID
		}

		stopped, _ := json.Marshal(models.ShareStoppedPayload{FromUserID: claims.UserID, FromName: fromName})
		hub.BroadcastToUser(viewerID, models.Envelope{Event: models.EventLocationShareStopped, Data: stopped})

		removed, _ := json.Marshal(models.LocationRemovedPayload{UserID: claims.UserID})
		hub.BroadcastToUser(viewerID, models.Envelope{Event: models.EventLocationRemoved, Data: removed})

		log.Printf("🚫 %s revoked share with %s via REST", claims.UserID, viewerID)
		utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}

// GetSharedLocation returns the last known location of a user sharing with
// the caller
// GET /api/shares/{ownerID}/location
func GetSharedLocation(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		ownerID := chi.URLParam(r, "ownerID")

		var allowed bool
		err := db.Get(&allowed,
			`SELECT EXISTS(SELECT 1 FROM share_grants WHERE owner_id = $1 AND viewer_id = $2)`,
			ownerID, claims.UserID)
		if err != nil {
			log.Printf("❌ Error checking grant: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load location")
			return
		}
		if !allowed {
			utils.RespondError(w, http.StatusForbidden, "No share grant from this user")
			return
		}

		loc, err := database.LastKnownLocation(db, ownerID)
		if err != nil {
			log.Printf("❌ Error loading location: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to load location")
			return
		}
		if loc == nil {
			utils.RespondError(w, http.StatusNotFound, "No location recorded")
			return
		}

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

		utils.RespondJSON(w, http.StatusOK, payload)
	}
}
