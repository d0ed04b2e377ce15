package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sakif/blogcore/internal/repository"
)

var _ repository.OptionRepository = (*DB)(nil)

// LoadOption decodes the named JSON document into dst. found is false and dst
// untouched when no such option exists.
func (db *DB) LoadOption(ctx context.Context, name string, dst any) (bool, error) {
	var raw string
	err := db.conn.QueryRowContext(ctx, `SELECT value FROM options WHERE name = ?`, name).Scan(&raw)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("sqlite: loading option %s: %w", name, err)
	}
	if err := json.Unmarshal([]byte(raw), dst); err != nil {
		return true, fmt.Errorf("sqlite: decoding option %s: %w", name, err)
	}
	return true, nil
}

// SaveOption stores value as JSON under name, replacing any previous value.
func (db *DB) SaveOption(ctx context.Context, name string, value any) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("sqlite: encoding option %s: %w", name, err)
	}
	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO options (name, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		name, string(raw), time.Now())
	if err != nil {
		return fmt.Errorf("sqlite: saving option %s: %w", name, err)
	}
	return nil
}
