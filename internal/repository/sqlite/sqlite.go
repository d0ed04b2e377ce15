// Package sqlite implements the repository interfaces on SQLite.
//
// The driver is modernc.org/sqlite, a pure Go build of SQLite, so the binary
// needs no C toolchain. Use ":memory:" for an ephemeral database in tests.
//
// Schema changes are idempotent statements run on every start:
// CREATE ... IF NOT EXISTS plus addColumnIfNotExists for later columns.
package sqlite

import (
	"database/sql"
	"fmt"
	"strings"

	_ "modernc.org/sqlite"
)

// TokenSealer encrypts provider access tokens at rest.
type TokenSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// DB wraps a sql.DB connection pool and provides repository methods.
type DB struct {
	conn   *sql.DB
	sealer TokenSealer
}

// Option configures a DB.
type Option func(*DB)

// WithTokenSealer encrypts ProviderAccount access tokens with s.
// Without it tokens are stored as given.
func WithTokenSealer(s TokenSealer) Option {
	return func(db *DB) { db.sealer = s }
}

// New opens the database at dbPath and runs migrations.
func New(dbPath string, opts ...Option) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Every pooled connection to ":memory:" would be its own empty database.
	if dbPath == ":memory:" || strings.Contains(dbPath, "mode=memory") {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := conn.Exec(p); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", p, err)
		}
	}

	db := &DB{conn: conn}
	for _, opt := range opts {
		opt(db)
	}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Conn exposes the pool for components that manage their own tables, such as
// the durable review queue.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func (db *DB) migrate() error {
	// At most one owner: the partial unique index rejects a second is_owner = 1 row.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS readers (
			id             TEXT PRIMARY KEY,
			email          TEXT NOT NULL DEFAULT '',
			name           TEXT NOT NULL DEFAULT '',
			handle         TEXT NOT NULL DEFAULT '',
			image          TEXT NOT NULL DEFAULT '',
			is_owner       INTEGER NOT NULL DEFAULT 0,
			email_verified INTEGER,
			created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_readers_email ON readers(email);
		CREATE INDEX IF NOT EXISTS idx_readers_name_email ON readers(name, email);
		CREATE UNIQUE INDEX IF NOT EXISTS idx_readers_single_owner ON readers(is_owner) WHERE is_owner = 1;
	`)
	if err != nil {
		return fmt.Errorf("creating readers table: %w", err)
	}

	// owner_id is deliberately not a foreign key: it may hold a provisional
	// subject id with no Reader behind it.
	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS provider_accounts (
			id                  TEXT PRIMARY KEY,
			owner_id            TEXT NOT NULL,
			provider            TEXT NOT NULL,
			provider_account_id TEXT NOT NULL,
			access_token        TEXT NOT NULL DEFAULT '',
			scope               TEXT NOT NULL DEFAULT '',
			oauth_name          TEXT NOT NULL DEFAULT '',
			oauth_email         TEXT NOT NULL DEFAULT '',
			oauth_avatar        TEXT NOT NULL DEFAULT '',
			oauth_handle        TEXT NOT NULL DEFAULT '',
			created_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			updated_at          DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			UNIQUE (provider, provider_account_id)
		);
		CREATE INDEX IF NOT EXISTS idx_provider_accounts_owner ON provider_accounts(owner_id);
	`)
	if err != nil {
		return fmt.Errorf("creating provider_accounts table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS comments (
			id             TEXT PRIMARY KEY,
			ref            TEXT NOT NULL,
			ref_type       TEXT NOT NULL,
			author         TEXT NOT NULL DEFAULT '',
			mail           TEXT NOT NULL DEFAULT '',
			text           TEXT NOT NULL,
			state          INTEGER NOT NULL DEFAULT 0,
			children       TEXT NOT NULL DEFAULT '[]',
			comments_index INTEGER NOT NULL DEFAULT 0,
			key            TEXT NOT NULL DEFAULT '',
			ip             TEXT NOT NULL DEFAULT '',
			agent          TEXT NOT NULL DEFAULT '',
			pin            INTEGER NOT NULL DEFAULT 0,
			is_whispers    INTEGER NOT NULL DEFAULT 0,
			source         TEXT NOT NULL DEFAULT '',
			avatar         TEXT NOT NULL DEFAULT '',
			location       TEXT NOT NULL DEFAULT '',
			url            TEXT NOT NULL DEFAULT '',
			parent         TEXT NOT NULL DEFAULT '',
			created_at     DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
		CREATE INDEX IF NOT EXISTS idx_comments_ref ON comments(ref, ref_type, created_at);
	`)
	if err != nil {
		return fmt.Errorf("creating comments table: %w", err)
	}

	if err := db.addColumnIfNotExists("comments", "reader_id", "TEXT NOT NULL DEFAULT ''"); err != nil {
		return fmt.Errorf("adding reader_id to comments: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS options (
			name       TEXT PRIMARY KEY,
			value      TEXT NOT NULL,
			updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating options table: %w", err)
	}

	return nil
}

// addColumnIfNotExists adds a column to a table only if it doesn't already exist.
func (db *DB) addColumnIfNotExists(table, column, definition string) error {
	var count int
	err := db.conn.QueryRow(
		`SELECT COUNT(*) FROM pragma_table_info(?) WHERE name = ?`,
		table, column,
	).Scan(&count)
	if err != nil {
		return fmt.Errorf("checking column %s.%s: %w", table, column, err)
	}
	if count > 0 {
		return nil
	}
	_, err = db.conn.Exec(fmt.Sprintf(
		`ALTER TABLE %s ADD COLUMN %s %s`, table, column, definition,
	))
	return err
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
