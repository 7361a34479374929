package sqlstore

import (
	"context"
	"path/filepath"
	"testing"
)

// testDB opens a temp-file SQLite database with the schema applied. WAL mode
// needs a real file.
func testDB(t *testing.T) *DB {
	t.Helper()

	db, err := OpenSQLite(filepath.Join(t.TempDir(), "authcore.db"))
	if err != nil {
		t.Fatalf("opening test db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}
