package database

import (
	"context"
	"os"
	"testing"
	"time"
)

// TestDSNEnv names the variable holding the integration test database URL
const TestDSNEnv = "CLEVER_BACKTEST_TEST_DSN"

// SetupTestDB connects to the integration test database, skipping the test
// when none is configured. The schema must already be migrated.
func SetupTestDB(t *testing.T) *DB {
	t.Helper()
	dsn := os.Getenv(TestDSNEnv)
	if dsn == "" {
		t.Skipf("Integration test - set %s to run", TestDSNEnv)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	db, err := NewDBFromDSN(ctx, dsn)
	if err != nil {
		t.Fatalf("failed to create test database connection: %v", err)
	}

	missing, err := db.MissingTables(ctx, RequiredTables)
	if err != nil {
		db.Close()
		t.Fatalf("failed to inspect test database: %v", err)
	}
	if len(missing) > 0 {
		db.Close()
		t.Skipf("Integration test - test database is missing tables %v", missing)
	}

	t.Cleanup(db.Close)
	return db
}
