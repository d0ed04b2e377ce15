// Package repository declares the storage interfaces the services depend on.
// internal/repository/sqlite is the production implementation.
package repository

import (
	"context"

	"github.com/sakif/blogcore/internal/model"
)

// ReaderRepository stores Readers.
type ReaderRepository interface {
	// CreateReader inserts r and fills ID and timestamps. When claimOwner is
	// set, r becomes owner if and only if no Reader existed at insert time;
	// the check and the insert are one statement. r.IsOwner reports the outcome.
	CreateReader(ctx context.Context, r *model.Reader, claimOwner bool) error
	GetReader(ctx context.Context, id string) (*model.Reader, error)
	FindReaderByEmail(ctx context.Context, email string) (*model.Reader, error)
	// FindReaderByNameEmail returns the oldest exact (case-sensitive) match.
	FindReaderByNameEmail(ctx context.Context, name, email string) (*model.Reader, error)
	FindReadersByEmails(ctx context.Context, emails []string) ([]model.Reader, error)
	FindReadersByIDs(ctx context.Context, ids []string) ([]model.Reader, error)
	GetOwner(ctx context.Context) (*model.Reader, error)
	CountReaders(ctx context.Context) (int, error)
	DeleteReader(ctx context.Context, id string) error
}

// AccountRepository stores ProviderAccounts.
type AccountRepository interface {
	GetAccount(ctx context.Context, id string) (*model.ProviderAccount, error)
	FindAccount(ctx context.Context, provider, providerAccountID string) (*model.ProviderAccount, error)
	// CreateAccount returns apperror.ErrConflict when (provider, provider
	// account id) already exists.
	CreateAccount(ctx context.Context, a *model.ProviderAccount) error
	// UpdateAccountSnapshot refreshes the profile snapshot and access token.
	UpdateAccountSnapshot(ctx context.Context, a *model.ProviderAccount) error
	// ListAccountsByOwner returns newest first.
	ListAccountsByOwner(ctx context.Context, ownerID string) ([]model.ProviderAccount, error)
	// ReassignAccount moves one account to a new owner.
	ReassignAccount(ctx context.Context, accountID, newOwnerID string) error
}

// CommentRepository stores Comments.
type CommentRepository interface {
	CreateComment(ctx context.Context, c *model.Comment) error
	GetComment(ctx context.Context, id string) (*model.Comment, error)
	// ListComments returns comments on ref passing filter, oldest first.
	ListComments(ctx context.Context, ref, refType string, filter model.CommentFilter) ([]model.Comment, error)
	CountComments(ctx context.Context, ref, refType string) (int, error)
	CountRootComments(ctx context.Context, ref, refType string) (int, error)
	AppendChild(ctx context.Context, parentID, childID string) error
	UpdateCommentState(ctx context.Context, id string, state model.CommentState) error
}

// OptionRepository stores named JSON option documents.
type OptionRepository interface {
	LoadOption(ctx context.Context, name string, dst any) (bool, error)
	SaveOption(ctx context.Context, name string, value any) error
}
