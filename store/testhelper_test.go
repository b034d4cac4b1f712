package store

import (
	"path/filepath"
	"testing"
)

// openTestDB opens a fresh sqlite file under t.TempDir() and registers it
// as the process-wide connection, matching how every repository package
// in this module expects store.Open to have already run.
func openTestDB(t *testing.T) *DB {
	t.Helper()
	dir := t.TempDir()
	db, err := Open(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Open() error: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}
