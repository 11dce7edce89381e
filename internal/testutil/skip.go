// Package testutil provides testing utilities.
package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/asteroid-belt/trophysync/internal/db"
	"github.com/asteroid-belt/trophysync/internal/models"
)

// RedisURLEnv names the variable that enables Redis-backed tests.
const RedisURLEnv = "TROPHYSYNC_TEST_REDIS_URL"

// SkipWithoutRedis skips the test unless TROPHYSYNC_TEST_REDIS_URL points at
// a reachable server, and returns a client for it. The selected database is
// flushed when the test ends.
//
// Run Redis tests with: TROPHYSYNC_TEST_REDIS_URL=redis://localhost:6379/15 go test ./...
func SkipWithoutRedis(t *testing.T) *redis.Client {
	t.Helper()
	url := os.Getenv(RedisURLEnv)
	if url == "" {
		t.Skipf("Skipping Redis test (set %s to run)", RedisURLEnv)
	}

	opts, err := redis.ParseURL(url)
	if err != nil {
		t.Fatalf("parse %s: %v", RedisURLEnv, err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		t.Skipf("Skipping Redis test (ping failed: %v)", err)
	}

	t.Cleanup(func() {
		_ = client.FlushDB(context.Background()).Err()
		_ = client.Close()
	})
	return client
}

// NewTestDB opens a migrated SQLite database in a temp directory.
func NewTestDB(t *testing.T) *db.DB {
	t.Helper()
	database, err := db.New(db.DefaultConfig(filepath.Join(t.TempDir(), "test.db")))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })
	return database
}

// CreateUser inserts a user linked to accountID. An empty accountID leaves
// the user unlinked.
func CreateUser(t *testing.T, database *db.DB, username, accountID string) *models.User {
	t.Helper()
	user := &models.User{Username: username, SteamID: accountID}
	if err := database.CreateUser(user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}
