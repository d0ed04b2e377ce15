package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/sakif/blogcore/internal/apperror"
	"github.com/sakif/blogcore/internal/model"
	"github.com/sakif/blogcore/internal/repository"
)

var _ repository.CommentRepository = (*DB)(nil)

const commentColumns = `id, ref, ref_type, author, mail, text, state, children, comments_index, key,
	ip, agent, pin, is_whispers, source, avatar, location, url, parent, reader_id, created_at`

func (db *DB) CreateComment(ctx context.Context, c *model.Comment) error {
	if c.ID == "" {
		c.ID = model.NewID()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now()
	}
	if c.Children == nil {
		c.Children = []string{}
	}
	children, err := json.Marshal(c.Children)
	if err != nil {
		return fmt.Errorf("sqlite: encoding children: %w", err)
	}

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO comments (`+commentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Ref, c.RefType, c.Author, c.Mail, c.Text, int(c.State), string(children),
		c.CommentsIndex, c.Key, c.IP, c.Agent, c.Pin, c.IsWhispers, c.Source, c.Avatar,
		c.Location, c.URL, c.Parent, c.ReaderID, c.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("sqlite: creating comment: %w", err)
	}
	return nil
}

func (db *DB) GetComment(ctx context.Context, id string) (*model.Comment, error) {
	c, err := scanComment(db.conn.QueryRowContext(ctx,
		`SELECT `+commentColumns+` FROM comments WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("comment", id)
		}
		return nil, fmt.Errorf("sqlite: getting comment %s: %w", id, err)
	}
	return c, nil
}

// ListComments renders filter to SQL. The three scopes mirror
// model.CommentFilter.Allows.
func (db *DB) ListComments(ctx context.Context, ref, refType string, filter model.CommentFilter) ([]model.Comment, error) {
	query := `SELECT ` + commentColumns + ` FROM comments WHERE ref = ? AND ref_type = ?`
	args := []any{ref, refType}

	scope := filter.Scope
	if scope == model.ScopeReader && filter.Email == "" {
		// An empty email must not match anonymous rows with an empty mail.
		scope = model.ScopePublic
	}

	switch scope {
	case model.ScopeAll:
	case model.ScopeReader:
		query += ` AND ((state IN (?, ?) AND (is_whispers = 0 OR mail = ?))
		            OR (state = ? AND mail = ?))`
		args = append(args, int(model.CommentUnread), int(model.CommentRead), filter.Email,
			int(model.CommentPending), filter.Email)
	default:
		query += ` AND state IN (?, ?) AND is_whispers = 0`
		args = append(args, int(model.CommentUnread), int(model.CommentRead))
	}
	query += ` ORDER BY created_at, id`

	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing comments for %s/%s: %w", refType, ref, err)
	}
	defer rows.Close()

	comments := []model.Comment{}
	for rows.Next() {
		c, err := scanComment(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning comment row: %w", err)
		}
		comments = append(comments, *c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating comment rows: %w", err)
	}
	return comments, nil
}

func (db *DB) CountComments(ctx context.Context, ref, refType string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comments WHERE ref = ? AND ref_type = ?`, ref, refType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting comments: %w", err)
	}
	return n, nil
}

func (db *DB) CountRootComments(ctx context.Context, ref, refType string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM comments WHERE ref = ? AND ref_type = ? AND parent = ''`, ref, refType).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlite: counting root comments: %w", err)
	}
	return n, nil
}

// AppendChild adds childID to the parent's children list in one statement.
func (db *DB) AppendChild(ctx context.Context, parentID, childID string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE comments SET children = json_insert(children, '$[#]', ?) WHERE id = ?`,
		childID, parentID)
	if err != nil {
		return fmt.Errorf("sqlite: appending child to %s: %w", parentID, err)
	}
	return requireOneRow(result, "comment", parentID)
}

func (db *DB) UpdateCommentState(ctx context.Context, id string, state model.CommentState) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE comments SET state = ? WHERE id = ?`, int(state), id)
	if err != nil {
		return fmt.Errorf("sqlite: updating state of comment %s: %w", id, err)
	}
	return requireOneRow(result, "comment", id)
}

func scanComment(row rowScanner) (*model.Comment, error) {
	var (
		c        model.Comment
		state    int
		children string
	)
	err := row.Scan(
		&c.ID, &c.Ref, &c.RefType, &c.Author, &c.Mail, &c.Text, &state, &children,
		&c.CommentsIndex, &c.Key, &c.IP, &c.Agent, &c.Pin, &c.IsWhispers, &c.Source,
		&c.Avatar, &c.Location, &c.URL, &c.Parent, &c.ReaderID, &c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	c.State = model.CommentState(state)
	if err := json.Unmarshal([]byte(children), &c.Children); err != nil {
		return nil, fmt.Errorf("decoding children of %s: %w", c.ID, err)
	}
	return &c, nil
}
