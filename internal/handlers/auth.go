package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"os"
	"time"

	"safetrack/internal/models"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

type LoginRequest struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
}

type LoginResponse struct {
	OK        bool                 `json:"ok"`
	Token     string               `json:"token,omitempty"`
	SessionID string               `json:"sessionId,omitempty"`
	User      *models.UserResponse `json:"user,omitempty"`
}

type RegisterRequest struct {
	UserID   string `json:"userId"`
	Password string `json:"password"`
	Name     string `json:"name"`
}

func Login(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		log.Printf("🔐 Login attempt for: %s", req.UserID)

		// Find user by id
		var user models.User
		query := "SELECT * FROM users WHERE id = $1"
		if err := db.Get(&user, query, req.UserID); err != nil {
			log.Printf("❌ User not found: %s", req.UserID)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(LoginResponse{OK: false})
			return
		}

		// Verify password
		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			log.Printf("❌ Invalid password for: %s", req.UserID)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(LoginResponse{OK: false})
			return
		}

		token, sessionID, err := issueCredentials(db, &user)
		if err != nil {
			log.Printf("❌ Failed to issue credentials: %v", err)
			http.Error(w, "Failed to create token", http.StatusInternalServerError)
			return
		}

		userResponse := user.ToUserResponse()
		log.Printf("✅ Login successful: %s", user.ID)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(LoginResponse{
			OK:        true,
			Token:     token,
			SessionID: sessionID,
			User:      &userResponse,
		})
	}
}

func Register(db *sqlx.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req RegisterRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "Invalid request body", http.StatusBadRequest)
			return
		}

		log.Printf("🔐 Registration attempt for: %s", req.UserID)

		if len(req.UserID) < 2 || len(req.UserID) > 50 {
			http.Error(w, "User ID must be 2-50 characters", http.StatusBadRequest)
			return
		}
		if len(req.Password) < 4 {
			http.Error(w, "Password must be at least 4 characters", http.StatusBadRequest)
			return
		}

		var exists bool
		if err := db.Get(&exists, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", req.UserID); err != nil {
			log.Printf("❌ Error checking user ID: %v", err)
			http.Error(w, "Registration failed", http.StatusInternalServerError)
			return
		}
		if exists {
			http.Error(w, "User ID already taken", http.StatusConflict)
			return
		}

		hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
		if err != nil {
			http.Error(w, "Registration failed", http.StatusInternalServerError)
			return
		}

		name := req.Name
		if name == "" {
			name = req.UserID
		}

		now := time.Now().Unix()
		user := models.User{ID: req.UserID, Password: string(hash), Name: name, CreatedAt: now, UpdatedAt: now}
		_, err = db.Exec(
			"INSERT INTO users (id, password, name, created_at, updated_at) VALUES ($1, $2, $3, $4, $4)",
			user.ID, user.Password, user.Name, now,
		)
		if err != nil {
			log.Printf("❌ Error creating user: %v", err)
			http.Error(w, "Registration failed", http.StatusInternalServerError)
			return
		}

		token, sessionID, err := issueCredentials(db, &user)
		if err != nil {
			log.Printf("❌ Failed to issue credentials: %v", err)
			http.Error(w, "Failed to create token", http.StatusInternalServerError)
			return
		}

		userResponse := user.ToUserResponse()
		log.Printf("✅ New user registered: %s", user.ID)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(LoginResponse{
			OK:        true,
			Token:     token,
			SessionID: sessionID,
			User:      &userResponse,
		})
	}
}

// issueCredentials creates a signed JWT plus a realtime session row so the
// same login works for both the REST API and the WebSocket channel
func issueCredentials(db *sqlx.DB, user *models.User) (string, string, error) {
	jwtSecret := os.Getenv("APP_JWT_SECRET")
	if jwtSecret == "" {
		log.Println("❌ JWT secret not configured")
		return "", "", jwt.ErrInvalidKey
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": user.ID,
		"name":    user.Name,
		"iat":     time.Now().Unix(),
		"exp":     time.Now().Add(7 * 24 * time.Hour).Unix(),
	})

	tokenString, err := token.SignedString([]byte(jwtSecret))
	if err != nil {
		return "", "", err
	}

	sessionID := uuid.New().String()
	now := time.Now()
	_, err = db.Exec(
		"INSERT INTO sessions (id, user_id, created_at, expires_at) VALUES ($1, $2, $3, $4)",
		sessionID, user.ID, now.Unix(), now.Add(7*24*time.Hour).Unix(),
	)
	if err != nil {
		return "", "", err
	}

	return tokenString, sessionID, nil
}
