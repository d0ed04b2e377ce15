package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/sakif/blogcore/internal/apperror"
	"github.com/sakif/blogcore/internal/model"
	"github.com/sakif/blogcore/internal/repository"
)

var _ repository.AccountRepository = (*DB)(nil)

const accountColumns = `id, owner_id, provider, provider_account_id, access_token, scope,
	oauth_name, oauth_email, oauth_avatar, oauth_handle, created_at, updated_at`

func (db *DB) GetAccount(ctx context.Context, id string) (*model.ProviderAccount, error) {
	a, err := db.scanAccount(db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM provider_accounts WHERE id = ?`, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("account", id)
		}
		return nil, fmt.Errorf("sqlite: getting account %s: %w", id, err)
	}
	return a, nil
}

func (db *DB) FindAccount(ctx context.Context, provider, providerAccountID string) (*model.ProviderAccount, error) {
	a, err := db.scanAccount(db.conn.QueryRowContext(ctx,
		`SELECT `+accountColumns+` FROM provider_accounts
		 WHERE provider = ? AND provider_account_id = ?`,
		provider, providerAccountID))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, apperror.NotFound("account", provider+":"+providerAccountID)
		}
		return nil, fmt.Errorf("sqlite: finding account %s:%s: %w", provider, providerAccountID, err)
	}
	return a, nil
}

// CreateAccount inserts a. An empty OwnerID makes the account its own owner,
// which is how a provisional login is recorded.
func (db *DB) CreateAccount(ctx context.Context, a *model.ProviderAccount) error {
	token, err := db.sealToken(a.AccessToken)
	if err != nil {
		return err
	}

	now := time.Now()
	a.ID = model.NewID()
	if a.OwnerID == "" {
		a.OwnerID = a.ID
	}
	a.CreatedAt = now
	a.UpdatedAt = now

	_, err = db.conn.ExecContext(ctx,
		`INSERT INTO provider_accounts (`+accountColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID,
		a.OwnerID,
		a.Provider,
		a.ProviderAccountID,
		token,
		a.Scope,
		a.OAuthName,
		a.OAuthEmail,
		a.OAuthAvatar,
		a.OAuthHandle,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("account", a.Provider+":"+a.ProviderAccountID)
		}
		return fmt.Errorf("sqlite: creating account: %w", err)
	}
	return nil
}

func (db *DB) UpdateAccountSnapshot(ctx context.Context, a *model.ProviderAccount) error {
	token, err := db.sealToken(a.AccessToken)
	if err != nil {
		return err
	}
	a.UpdatedAt = time.Now()

	result, err := db.conn.ExecContext(ctx,
		`UPDATE provider_accounts
		 SET access_token = ?, scope = ?, oauth_name = ?, oauth_email = ?,
		     oauth_avatar = ?, oauth_handle = ?, updated_at = ?
		 WHERE id = ?`,
		token,
		a.Scope,
		a.OAuthName,
		a.OAuthEmail,
		a.OAuthAvatar,
		a.OAuthHandle,
		a.UpdatedAt,
		a.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: updating account %s: %w", a.ID, err)
	}
	return requireOneRow(result, "account", a.ID)
}

func (db *DB) ListAccountsByOwner(ctx context.Context, ownerID string) ([]model.ProviderAccount, error) {
	rows, err := db.conn.QueryContext(ctx,
		`SELECT `+accountColumns+` FROM provider_accounts
		 WHERE owner_id = ?
		 ORDER BY created_at DESC, id DESC`,
		ownerID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: listing accounts for %s: %w", ownerID, err)
	}
	defer rows.Close()

	accounts := []model.ProviderAccount{}
	for rows.Next() {
		a, err := db.scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning account row: %w", err)
		}
		accounts = append(accounts, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: iterating account rows: %w", err)
	}
	return accounts, nil
}

func (db *DB) ReassignAccount(ctx context.Context, accountID, newOwnerID string) error {
	result, err := db.conn.ExecContext(ctx,
		`UPDATE provider_accounts SET owner_id = ?, updated_at = ? WHERE id = ?`,
		newOwnerID, time.Now(), accountID)
	if err != nil {
		return fmt.Errorf("sqlite: reassigning account %s: %w", accountID, err)
	}
	return requireOneRow(result, "account", accountID)
}

func (db *DB) scanAccount(row rowScanner) (*model.ProviderAccount, error) {
	var a model.ProviderAccount
	err := row.Scan(
		&a.ID,
		&a.OwnerID,
		&a.Provider,
		&a.ProviderAccountID,
		&a.AccessToken,
		&a.Scope,
		&a.OAuthName,
		&a.OAuthEmail,
		&a.OAuthAvatar,
		&a.OAuthHandle,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if db.sealer != nil {
		plain, err := db.sealer.Open(a.AccessToken)
		if err != nil {
			return nil, fmt.Errorf("opening access token for account %s: %w", a.ID, err)
		}
		a.AccessToken = plain
	}
	return &a, nil
}

func (db *DB) sealToken(token string) (string, error) {
	if db.sealer == nil {
		return token, nil
	}
	sealed, err := db.sealer.Seal(token)
	if err != nil {
		return "", fmt.Errorf("sqlite: sealing access token: %w", err)
	}
	return sealed, nil
}

func requireOneRow(result sql.Result, resource, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("sqlite: checking rows affected: %w", err)
	}
	if n == 0 {
		return apperror.NotFound(resource, id)
	}
	return nil
}
