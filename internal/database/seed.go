package database

import (
	"log"

	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

func SeedUsers(db *sqlx.DB) error {
	// Check if users already exist
	var count int
	if err := db.Get(&count, "SELECT COUNT(*) FROM users"); err != nil {
		return err
	}

	if count > 0 {
		log.Println("✓ Users already seeded, skipping...")
		return nil
	}

	log.Println("🌱 Seeding test users...")

	password, err := bcrypt.GenerateFromPassword([]byte("test1234"), bcrypt.DefaultCost)
	if err != nil {
		return err
	}

	users := []map[string]interface{}{
		{"id": "alice", "password": string(password), "name": "Alice"},
		{"id": "bobby", "password": string(password), "name": "Bobby"},
		{"id": "carol", "password": string(password), "name": "Carol"},
	}

	for _, user := range users {
		query := `
			INSERT INTO users (id, password, name)
			VALUES (:id, :password, :name)
		`
		if _, err := db.NamedExec(query, user); err != nil {
			return err
		}
		log.Printf("  ✓ Created user: %s", user["id"])
	}

	log.Println("✓ Successfully seeded test users")
	log.Println("  👤 alice / test1234")
	log.Println("  👤 bobby / test1234")
	log.Println("  👤 carol / test1234")
	return nil
}
