package main

import (
	"log"
	"os"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	// Get database connection string from environment
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable not set")
	}

	// Connect to database
	db, err := sqlx.Connect("postgres", dbURL)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	log.Println("🔌 Connected to database")

	// Hash the shared demo password (demo1234)
	password, err := bcrypt.GenerateFromPassword([]byte("demo1234"), bcrypt.DefaultCost)
	if err != nil {
		log.Fatalf("Failed to hash password: %v", err)
	}

	users := []map[string]interface{}{
		{
			"id":       "minji",
			"password": string(password),
			"name":     "Minji",
		},
		{
			"id":       "junho",
			"password": string(password),
			"name":     "Junho",
		},
		{
			"id":       "sora",
			"password": string(password),
			"name":     "Sora",
		},
	}

	for _, user := range users {
		// Check if user already exists
		var exists bool
		err := db.Get(&exists, "SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)", user["id"])
		if err != nil {
			log.Printf("❌ Error checking for user %s: %v", user["id"], err)
			continue
		}

		if exists {
			log.Printf("⚠️  User already exists: %s", user["id"])
			continue
		}

		// Insert new user
		query := `
			INSERT INTO users (id, password, name)
			VALUES (:id, :password, :name)
		`
		if _, err := db.NamedExec(query, user); err != nil {
			log.Printf("❌ Failed to create user %s: %v", user["id"], err)
			continue
		}

		log.Printf("✅ Created user: %s", user["id"])
	}

	log.Println("\n👤 Login credentials:")
	log.Println("  minji / demo1234")
	log.Println("  junho / demo1234")
	log.Println("  sora / demo1234")
}
