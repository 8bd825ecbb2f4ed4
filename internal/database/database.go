package database

import (
	"fmt"
	"log"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
)

func Connect(dbURL string) (*sqlx.DB, error) {
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Println("🔌 DATABASE CONNECTION ATTEMPT")
	log.Printf("   📍 Database URL length: %d characters", len(dbURL))
	log.Printf("   📍 URL prefix: %s...", dbURL[:min(30, len(dbURL))])
	log.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")

	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Println("❌ DATABASE CONNECTION FAILED AT sqlx.Connect()")
		log.Printf("   Error message: %v", err)
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.Ping(); err != nil {
		log.Println("❌ DATABASE CONNECTION FAILED AT Ping()")
		log.Printf("   Error message: %v", err)
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	log.Println("✅ DATABASE CONNECTION SUCCESSFUL")
	return db, nil
}

func Migrate(db *sqlx.DB) error {
	migrations := []string{
		// Create users table
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			password TEXT NOT NULL,
			name TEXT NOT NULL DEFAULT '',
			fcm_token TEXT,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Create sessions table
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			expires_at BIGINT NOT NULL
		)`,

		// Create share_grants table (one row per direction)
		`CREATE TABLE IF NOT EXISTS share_grants (
			id SERIAL PRIMARY KEY,
			owner_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			viewer_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			UNIQUE(owner_id, viewer_id)
		)`,

		// Create pending_share_requests table
		`CREATE TABLE IF NOT EXISTS pending_share_requests (
			request_id TEXT PRIMARY KEY,
			requester_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			target_id TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			created_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT,
			UNIQUE(requester_id, target_id)
		)`,

		// Create user_locations table (last known position per user)
		`CREATE TABLE IF NOT EXISTS user_locations (
			user_id TEXT PRIMARY KEY REFERENCES users(id) ON DELETE CASCADE,
			latitude DOUBLE PRECISION NOT NULL,
			longitude DOUBLE PRECISION NOT NULL,
			path JSONB NOT NULL DEFAULT '[]',
			is_connected BOOLEAN NOT NULL DEFAULT FALSE,
			is_tracking BOOLEAN NOT NULL DEFAULT FALSE,
			timestamp BIGINT NOT NULL DEFAULT 0,
			updated_at BIGINT NOT NULL DEFAULT EXTRACT(EPOCH FROM NOW())::BIGINT
		)`,

		// Indexes
		`CREATE INDEX IF NOT EXISTS idx_sessions_user_id ON sessions(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at)`,
		`CREATE INDEX IF NOT EXISTS idx_share_grants_owner_id ON share_grants(owner_id)`,
		`CREATE INDEX IF NOT EXISTS idx_share_grants_viewer_id ON share_grants(viewer_id)`,
		`CREATE INDEX IF NOT EXISTS idx_pending_requests_target_id ON pending_share_requests(target_id)`,
		`CREATE INDEX IF NOT EXISTS idx_user_locations_is_connected ON user_locations(is_connected)`,
	}

	for i, migration := range migrations {
		if _, err := db.Exec(migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	log.Println("✓ Database migrations completed")
	return nil
}

// CleanupExpiredSessions removes sessions past their expiry. Run at startup
// and periodically after.
func CleanupExpiredSessions(db *sqlx.DB) error {
	res, err := db.Exec(`DELETE FROM sessions WHERE expires_at < EXTRACT(EPOCH FROM NOW())::BIGINT`)
	if err != nil {
		return fmt.Errorf("failed to clean up expired sessions: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		log.Printf("🧹 Removed %d expired sessions", n)
	}
	return nil
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
