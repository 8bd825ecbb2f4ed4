package main

import (
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"

	"safetrack/internal/database"
)

func main() {
	// Load environment variables
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	// Get database URL
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	// Connect to database
	db, err := database.Connect(dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	// Apply schema
	if err := database.Migrate(db); err != nil {
		log.Fatalf("Migration failed: %v", err)
	}

	// Seed demo accounts unless explicitly skipped
	if os.Getenv("SKIP_SEED") == "" {
		if err := database.SeedUsers(db); err != nil {
			log.Fatalf("Seeding failed: %v", err)
		}
	}

	// Drop expired sessions while we are here
	if err := database.CleanupExpiredSessions(db); err != nil {
		log.Fatalf("Session cleanup failed: %v", err)
	}

	// Query and display summary
	var result struct {
		Users       int `db:"users"`
		Sessions    int `db:"sessions"`
		Grants      int `db:"grants"`
		PendingReqs int `db:"pending_requests"`
		Locations   int `db:"locations"`
	}

	query := `
		SELECT
			(SELECT COUNT(*) FROM users) AS users,
			(SELECT COUNT(*) FROM sessions) AS sessions,
			(SELECT COUNT(*) FROM share_grants) AS grants,
			(SELECT COUNT(*) FROM pending_share_requests) AS pending_requests,
			(SELECT COUNT(*) FROM user_locations) AS locations
	`

	if err := db.Get(&result, query); err != nil {
		log.Fatalf("Failed to query summary: %v", err)
	}

	// Display results
	fmt.Println("\n============================================================")
	fmt.Println("MIGRATION SUMMARY")
	fmt.Println("============================================================")
	fmt.Printf("Users:              %d\n", result.Users)
	fmt.Printf("Sessions:           %d\n", result.Sessions)
	fmt.Printf("Share grants:       %d\n", result.Grants)
	fmt.Printf("Pending requests:   %d\n", result.PendingReqs)
	fmt.Printf("Location rows:      %d\n", result.Locations)
	fmt.Println("============================================================")
}
