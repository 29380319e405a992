package rbac

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/lib/pq"
)

// SkipIfNoDatabase skips the test if TEST_POSTGRES_PRIMARY environment variable is not set.
func SkipIfNoDatabase(t *testing.T) string {
	t.Helper()

	dbURL := os.Getenv("TEST_POSTGRES_PRIMARY")
	if dbURL == "" {
		t.Skip("Skipping test: TEST_POSTGRES_PRIMARY environment variable not set (database not available)")
	}

	return dbURL
}

// RequireDatabase connects to TEST_POSTGRES_PRIMARY, applies migrations, or
// skips the test.
func RequireDatabase(t *testing.T) *sql.DB {
	t.Helper()

	dbURL := SkipIfNoDatabase(t)

	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		t.Skipf("Failed to connect to database: %v", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		t.Skipf("Database not reachable: %v", err)
	}

	if err := RunMigrations(context.Background(), db, nil); err != nil {
		db.Close()
		t.Fatalf("Failed to migrate database: %v", err)
	}

	t.Cleanup(func() { db.Close() })
	return db
}

// InsertTestUser adds a row to the users table and returns its ID
func InsertTestUser(t *testing.T, db *sql.DB, superAdmin bool) int64 {
	t.Helper()

	var id int64
	err := db.QueryRow("INSERT INTO users (is_super_admin) VALUES ($1) RETURNING id", superAdmin).Scan(&id)
	if err != nil {
		t.Fatalf("Failed to insert user: %v", err)
	}
	return id
}
