package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"safetrack/internal/middleware"
	"safetrack/internal/models"
	"safetrack/pkg/utils"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"
)

// GetMe returns the authenticated user's profile
// GET /api/me
func GetMe(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var user models.User
		if err := db.Get(&user, "SELECT * FROM users WHERE id = $1", claims.UserID); err != nil {
			log.Printf("❌ Error fetching user %s: %v", claims.UserID, err)
			utils.RespondError(w, http.StatusNotFound, "User not found")
			return
		}

		utils.RespondJSON(w, http.StatusOK, user.ToUserResponse())
	}
}

// CheckUserID reports whether a handle is still available
// GET /api/users/{userID}/available
func CheckUserID(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := chi.URLParam(r, "userID")

		var exists bool
		if err := db.Get(&exists, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", userID); err != nil {
			log.Printf("❌ Error checking user ID: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Check failed")
			return
		}

		utils.RespondJSON(w, http.StatusOK, models.UserIDCheckResultPayload{
			UserID:      userID,
			IsAvailable: !exists,
		})
	}
}

type RegisterFCMTokenRequest struct {
	Token string `json:"token"`
}

// RegisterFCMToken stores the device push token for the authenticated user.
// Used to reach them about share requests while they are offline.
// POST /api/me/fcm-token
func RegisterFCMToken(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := middleware.GetUserFromContext(r)
		if !ok {
			utils.RespondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		var req RegisterFCMTokenRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
			utils.RespondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		_, err := db.Exec(
			"UPDATE users SET fcm_token = $2, updated_at = $3 WHERE id = $1",
			claims.UserID, req.Token, time.Now().Unix(),
		)
		if err != nil {
			log.Printf("❌ Error storing FCM token: %v", err)
			utils.RespondError(w, http.StatusInternalServerError, "Failed to store token")
			return
		}

		log.Printf("📱 FCM token registered for %s", claims.UserID)
		utils.RespondJSON(w, http.StatusOK, map[string]bool{"ok": true})
	}
}
