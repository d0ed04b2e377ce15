package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/sakif/blogcore/internal/apperror"
	"github.com/sakif/blogcore/internal/model"
	"github.com/sakif/blogcore/internal/repository"
)

var _ repository.ReaderRepository = (*DB)(nil)

const readerColumns = `id, email, name, handle, image, is_owner, email_verified, created_at, updated_at`

// CreateReader inserts r. A preset r.ID is kept, otherwise one is assigned.
// With claimOwner the is_owner value is computed by the INSERT itself from
// NOT EXISTS(readers), so two concurrent first users cannot both observe an
// empty table; the partial unique index backs this up.
func (db *DB) CreateReader(ctx context.Context, r *model.Reader, claimOwner bool) error {
	now := time.Now()
	if r.ID == "" {
		r.ID = model.NewID()
	}
	r.CreatedAt = now
	r.UpdatedAt = now

	var isOwner bool
	err := db.conn.QueryRowContext(ctx,
		`INSERT INTO readers (id, email, name, handle, image, is_owner, email_verified, created_at, updated_at)
		 SELECT ?, ?, ?, ?, ?,
		        CASE WHEN ? AND NOT EXISTS (SELECT 1 FROM readers) THEN 1 ELSE 0 END,
		        ?, ?, ?
		 RETURNING is_owner`,
		r.ID,
		r.Email,
		r.Name,
		r.Handle,
		r.Image,
		claimOwner,
		nullBool(r.EmailVerified),
		r.CreatedAt,
		r.UpdatedAt,
	).Scan(&isOwner)
	if err != nil {
		switch {
		case isUniqueViolation(err) && strings.Contains(err.Error(), "readers.id"):
			return apperror.Conflict("reader", r.ID)
		case isUniqueViolation(err):
			return apperror.Conflict("owner", r.ID)
		}
		return fmt.Errorf("sqlite: creating reader: %w", err)
	}

	r.IsOwner = isOwner
	return nil
}

// GetReader returns apperror.ErrNotFound when id has no Reader.
func (db *DB) GetReader(ctx context.Context, id string) (*model.Reader, error) {
	r, err := scanReader(db.conn.QueryRowContext(ctx,
		`SELECT `+readerColumns+` FROM readers WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("reader", id)
		}
		return nil, fmt.Errorf("sqlite: getting reader %s: %w", id, err)
	}
	return r, nil
}

func (db *DB) FindReaderByEmail(ctx context.Context, email string) (*model.Reader, error) {
	r, err := scanReader(db.conn.QueryRowContext(ctx,
		`SELECT `+readerColumns+` FROM readers WHERE email = ? ORDER BY created_at, id LIMIT 1`, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("reader", email)
		}
		return nil, fmt.Errorf("sqlite: finding reader by email: %w", err)
	}
	return r, nil
}

// FindReaderByNameEmail matches name and email exactly. (name, email) is not
// unique; the oldest Reader wins.
func (db *DB) FindReaderByNameEmail(ctx context.Context, name, email string) (*model.Reader, error) {
	r, err := scanReader(db.conn.QueryRowContext(ctx,
		`SELECT `+readerColumns+` FROM readers
		 WHERE name = ? AND email = ?
		 ORDER BY created_at, id LIMIT 1`, name, email))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("reader", name+" <"+email+">")
		}
		return nil, fmt.Errorf("sqlite: finding reader by name and email: %w", err)
	}
	return r, nil
}

// FindReadersByEmails returns every Reader whose email is in emails.
func (db *DB) FindReadersByEmails(ctx context.Context, emails []string) ([]model.Reader, error) {
	readers, err := db.findReadersIn(ctx, "email", emails)
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding readers by emails: %w", err)
	}
	return readers, nil
}

// FindReadersByIDs returns the Readers among ids that exist. Unknown ids are
// skipped.
func (db *DB) FindReadersByIDs(ctx context.Context, ids []string) ([]model.Reader, error) {
	readers, err := db.findReadersIn(ctx, "id", ids)
	if err != nil {
		return nil, fmt.Errorf("sqlite: finding readers by ids: %w", err)
	}
	return readers, nil
}

// findReadersIn selects readers whose column matches one of values. column is
// never user input.
func (db *DB) findReadersIn(ctx context.Context, column string, values []string) ([]model.Reader, error) {
	if len(values) == 0 {
		return []model.Reader{}, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(values)), ",")
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}

	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+readerColumns+` FROM readers WHERE `+column+` IN (`+placeholders+`) ORDER BY created_at, id`,
		args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	readers := []model.Reader{}
	for rows.Next() {
		r, err := scanReader(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning reader row: %w", err)
		}
		readers = append(readers, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reader rows: %w", err)
	}
	return readers, nil
}

func (db *DB) GetOwner(ctx context.Context) (*model.Reader, error) {
	r, err := scanReader(db.conn.QueryRowContext(ctx,
		`SELECT `+readerColumns+` FROM readers WHERE is_owner = 1`))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("reader", "owner")
		}
		return nil, fmt.Errorf("sqlite: getting owner: %w", err)
	}
	return r, nil
}

func (db *DB) CountReaders(ctx context.Context) (int, error) {
	var n int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM readers`).Scan(&n); err != nil {
		return 0, fmt.Errorf("sqlite: counting readers: %w", err)
	}
	return n, nil
}

func (db *DB) DeleteReader(ctx context.Context, id string) error {
	result, err := db.conn.ExecContext(ctx, `DELETE FROM readers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: deleting reader %s: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound("reader", id)
	}
	return nil
}

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanReader(row rowScanner) (*model.Reader, error) {
	var (
		r        model.Reader
		verified sql.NullBool
	)
	err := row.Scan(
		&r.ID,
		&r.Email,
		&r.Name,
		&r.Handle,
		&r.Image,
		&r.IsOwner,
		&verified,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if verified.Valid {
		v := verified.Bool
		r.EmailVerified = &v
	}
	return &r, nil
}

func nullBool(b *bool) sql.NullBool {
	if b == nil {
		return sql.NullBool{}
	}
	return sql.NullBool{Bool: *b, Valid: true}
}
