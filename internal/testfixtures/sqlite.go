package testfixtures

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/paratransit-scheduler/internal/persistence/sqlite"
)

// SQLiteHarness provides a migrated store backed by a temporary SQLite
// database for integration-style tests.
type SQLiteHarness struct {
	Store *sqlite.Store

	cleanup func()
}

// Close releases resources associated with the harness.
func (h *SQLiteHarness) Close() {
	if h != nil && h.cleanup != nil {
		h.cleanup()
		h.cleanup = nil
	}
}

// NewSQLiteHarness creates a temporary database, applies the embedded
// migrations, and returns a store over it.
func NewSQLiteHarness(t *testing.T) *SQLiteHarness {
	t.Helper()

	dbPath := filepath.Join(t.TempDir(), "fixture.db")
	pool, err := sqlite.NewConnectionPool("file:" + dbPath + "?_pragma=foreign_keys(1)")
	if err != nil {
		t.Fatalf("Failed to create connection pool: %v", err)
	}
	if err := pool.Migrate(context.Background()); err != nil {
		pool.Close()
		t.Fatalf("Failed to migrate fixture database: %v", err)
	}

	return &SQLiteHarness{
		Store:   sqlite.NewStore(pool, time.UTC),
		cleanup: func() { pool.Close() },
	}
}
