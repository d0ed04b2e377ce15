package sqlite

import (
	"testing"
)

// newTestDB returns a fresh in-memory database closed at test end.
func newTestDB(t *testing.T, opts ...Option) *DB {
	t.Helper()
	db, err := New(":memory:", opts...)
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestMigrateIsIdempotent(t *testing.T) {
	db := newTestDB(t)

	if err := db.migrate(); err != nil {
		t.Fatalf("second migrate() error = %v", err)
	}
	if err := db.addColumnIfNotExists("comments", "reader_id", "TEXT"); err != nil {
		t.Fatalf("addColumnIfNotExists() on existing column error = %v", err)
	}
}
