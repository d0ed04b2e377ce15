// Package identity resolves OAuth logins to session subjects.
//
// A login ends in one of three places:
//
//	returning    the (provider, provider id) pair is already known
//	auto-merge   the provider gave a real email that a Reader already has
//	new          nothing matched; the login stays provisional until the
//	             client calls BindExisting or SkipBind
//
// A provisional login is a ProviderAccount that owns itself. Its account id is
// the provisional subject id, so logging in again before onboarding yields the
// same subject.
package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"codeberg.org/gruf/go-mutexes"

	"github.com/sakif/blogcore/internal/apperror"
	"github.com/sakif/blogcore/internal/auth"
	"github.com/sakif/blogcore/internal/model"
	"github.com/sakif/blogcore/internal/repository"
)

// ErrInconsistent means a provider account points at a Reader that does not
// exist. It is never recovered from.
var ErrInconsistent = errors.New("identity: provider account references a missing reader")

// Defaults for a Reader created from a snapshot that carries no name.
const (
	defaultName   = "用户"
	defaultHandle = "user"
)

// Engine runs login, bind and skip-bind against the reader and account stores.
type Engine struct {
	readers  repository.ReaderRepository
	accounts repository.AccountRepository
	issuer   *auth.Issuer
	locks    *mutexes.MutexMap
	logger   *slog.Logger
}

func NewEngine(
	readers repository.ReaderRepository,
	accounts repository.AccountRepository,
	issuer *auth.Issuer,
	logger *slog.Logger,
) *Engine {
	locks := mutexes.MutexMap{}
	return &Engine{
		readers:  readers,
		accounts: accounts,
		issuer:   issuer,
		locks:    &locks,
		logger:   logger,
	}
}

// LoginResult is the outcome of ProcessOAuthLogin.
//
// IsOwner is a hint for provisional subjects: it is true when no Reader
// exists yet, so completing onboarding would make this person the owner.
type LoginResult struct {
	Subject auth.Subject
	IsOwner bool
	IsNew   bool
	Token   string
}

// BindResult is returned by BindExisting and SkipBind. The caller must replace
// its session with Token.
type BindResult struct {
	Reader *model.Reader
	Token  string
}

// ProvisionalProfile is what a provisional subject looks like before it has
// a Reader: the newest provider snapshot it owns.
type ProvisionalProfile struct {
	Provider string `json:"provider"`
	Name     string `json:"name"`
	Email    string `json:"email"`
	Avatar   string `json:"avatar,omitempty"`
	Handle   string `json:"handle"`
}

// Identity is the current state of a session subject. Exactly one of Reader
// and Provisional is set.
type Identity struct {
	Subject     auth.Subject        `json:"subject"`
	IsOwner     bool                `json:"isOwner"`
	Reader      *model.Reader       `json:"reader,omitempty"`
	Provisional *ProvisionalProfile `json:"provisional,omitempty"`
}

// ProcessOAuthLogin maps a provider profile to a subject and issues a token.
//
// Steps run in a fixed order: known account, then Reader by email, then a new
// provisional account. Logins for the same provider identity are serialized.
func (e *Engine) ProcessOAuthLogin(ctx context.Context, p *auth.Profile) (*LoginResult, error) {
	if p == nil || p.Provider == "" || p.ProviderID == "" {
		return nil, apperror.ValidationFailed("profile", "provider and provider id are required")
	}

	unlock := e.locks.Lock("login:" + p.Provider + ":" + p.ProviderID)
	defer unlock()

	res, err := e.resolveLogin(ctx, p)
	if err != nil {
		return nil, err
	}

	res.Token, err = e.issuer.Issue(res.Subject, res.IsOwner)
	if err != nil {
		return nil, fmt.Errorf("identity: issuing token for %s: %w", res.Subject, err)
	}

	e.logger.Info("oauth login resolved",
		slog.String("provider", p.Provider),
		slog.String("subject", res.Subject.String()),
		slog.Bool("isNew", res.IsNew),
		slog.Bool("isOwner", res.IsOwner),
	)
	return res, nil
}

func (e *Engine) resolveLogin(ctx context.Context, p *auth.Profile) (*LoginResult, error) {
	acct, err := e.accounts.FindAccount(ctx, p.Provider, p.ProviderID)
	if err == nil {
		return e.returning(ctx, acct, p)
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("identity: finding account: %w", err)
	}

	acct = snapshotAccount(p)

	if model.MatchableEmail(p.Email) {
		r, err := e.readers.FindReaderByEmail(ctx, p.Email)
		switch {
		case err == nil:
			acct.OwnerID = r.ID
			if err := e.accounts.CreateAccount(ctx, acct); err != nil {
				return e.retryOnConflict(ctx, p, err)
			}
			e.logger.Info("linked provider account by email",
				slog.String("provider", p.Provider),
				slog.String("readerID", r.ID),
			)
			return &LoginResult{Subject: auth.Resolved(r.ID), IsOwner: r.IsOwner}, nil
		case !errors.Is(err, apperror.ErrNotFound):
			return nil, fmt.Errorf("identity: finding reader by email: %w", err)
		}
	}

	n, err := e.readers.CountReaders(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: counting readers: %w", err)
	}
	if err := e.accounts.CreateAccount(ctx, acct); err != nil {
		return e.retryOnConflict(ctx, p, err)
	}
	return &LoginResult{Subject: auth.Provisional(acct.ID), IsOwner: n == 0, IsNew: true}, nil
}

// retryOnConflict handles an account that appeared between lookup and insert.
func (e *Engine) retryOnConflict(ctx context.Context, p *auth.Profile, err error) (*LoginResult, error) {
	if !errors.Is(err, apperror.ErrConflict) {
		return nil, fmt.Errorf("identity: creating account: %w", err)
	}
	acct, err := e.accounts.FindAccount(ctx, p.Provider, p.ProviderID)
	if err != nil {
		return nil, fmt.Errorf("identity: finding account after conflict: %w", err)
	}
	return e.returning(ctx, acct, p)
}

func (e *Engine) returning(ctx context.Context, acct *model.ProviderAccount, p *auth.Profile) (*LoginResult, error) {
	fresh := snapshotAccount(p)
	acct.AccessToken = fresh.AccessToken
	acct.Scope = fresh.Scope
	acct.OAuthName = fresh.OAuthName
	acct.OAuthEmail = fresh.OAuthEmail
	acct.OAuthAvatar = fresh.OAuthAvatar
	acct.OAuthHandle = fresh.OAuthHandle
	if err := e.accounts.UpdateAccountSnapshot(ctx, acct); err != nil {
		return nil, fmt.Errorf("identity: refreshing account snapshot: %w", err)
	}

	if acct.Provisional() {
		n, err := e.readers.CountReaders(ctx)
		if err != nil {
			return nil, fmt.Errorf("identity: counting readers: %w", err)
		}
		return &LoginResult{Subject: auth.Provisional(acct.ID), IsOwner: n == 0}, nil
	}

	r, err := e.readers.GetReader(ctx, acct.OwnerID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("%w: account %s owner %s", ErrInconsistent, acct.ID, acct.OwnerID)
		}
		return nil, fmt.Errorf("identity: loading reader %s: %w", acct.OwnerID, err)
	}
	return &LoginResult{Subject: auth.Resolved(r.ID), IsOwner: r.IsOwner}, nil
}

// BindExisting moves every account owned by subject onto the Reader with the
// exact (name, email) pair and returns a token for that Reader.
func (e *Engine) BindExisting(ctx context.Context, subject auth.Subject, name, email string) (*BindResult, error) {
	if name == "" || email == "" {
		return nil, apperror.ValidationFailed("name", "name and email are required")
	}

	unlock := e.locks.Lock(subject.ID)
	defer unlock()

	target, err := e.readers.FindReaderByNameEmail(ctx, name, email)
	if err != nil {
		return nil, fmt.Errorf("identity: finding bind target: %w", err)
	}

	var stale *model.Reader
	if subject.ID != target.ID {
		stale, err = e.readers.GetReader(ctx, subject.ID)
		switch {
		case errors.Is(err, apperror.ErrNotFound):
			stale = nil
		case err != nil:
			return nil, fmt.Errorf("identity: loading subject reader: %w", err)
		case stale.IsOwner:
			return nil, apperror.Forbidden("the site owner cannot be merged into another reader")
		}
	}

	if err := e.reassignAll(ctx, subject.ID, target.ID); err != nil {
		return nil, err
	}

	if stale != nil {
		if err := e.readers.DeleteReader(ctx, stale.ID); err != nil && !errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("identity: deleting merged reader %s: %w", stale.ID, err)
		}
		e.logger.Info("merged reader", slog.String("from", stale.ID), slog.String("into", target.ID))
	}

	return e.bindResult(target)
}

// SkipBind finishes onboarding by turning the newest account snapshot into a
// Reader. It is idempotent: a resolved subject, or a provisional one whose
// account has already been moved to a Reader, gets that Reader back. The new
// Reader's id is derived from the subject, so a retry after a failed move
// picks up the Reader the failed attempt created.
func (e *Engine) SkipBind(ctx context.Context, subject auth.Subject) (*BindResult, error) {
	unlock := e.locks.Lock(subject.ID)
	defer unlock()

	if subject.IsResolved() {
		r, err := e.readers.GetReader(ctx, subject.ID)
		if err != nil {
			return nil, fmt.Errorf("identity: loading reader: %w", err)
		}
		return e.bindResult(r)
	}

	accounts, err := e.accounts.ListAccountsByOwner(ctx, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("identity: listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		return e.completedOnboarding(ctx, subject)
	}

	newest := accounts[0]
	readerID := model.ReaderIDForAccount(subject.ID)
	r, err := e.readers.GetReader(ctx, readerID)
	switch {
	case err == nil:
		// An earlier attempt created the Reader but did not finish moving
		// the accounts.
		e.logger.Warn("resuming interrupted skip-bind", slog.String("readerID", readerID))
		if err := e.reassignAll(ctx, subject.ID, r.ID); err != nil {
			return nil, err
		}
		return e.bindResult(r)
	case !errors.Is(err, apperror.ErrNotFound):
		return nil, fmt.Errorf("identity: loading reader: %w", err)
	}

	verified := model.MatchableEmail(newest.OAuthEmail)
	r = &model.Reader{
		ID:            readerID,
		Email:         newest.OAuthEmail,
		Name:          newest.OAuthName,
		Handle:        newest.OAuthHandle,
		Image:         newest.OAuthAvatar,
		EmailVerified: &verified,
	}
	if r.Name == "" {
		r.Name = defaultName
	}
	if r.Handle == "" {
		r.Handle = model.GenerateHandle(r.Name)
	}
	if r.Handle == "" {
		r.Handle = defaultHandle
	}

	if err := e.readers.CreateReader(ctx, r, true); err != nil {
		return nil, fmt.Errorf("identity: creating reader: %w", err)
	}
	if err := e.reassignAll(ctx, subject.ID, r.ID); err != nil {
		return nil, err
	}

	e.logger.Info("reader created from provider snapshot",
		slog.String("readerID", r.ID),
		slog.String("provider", newest.Provider),
		slog.Bool("isOwner", r.IsOwner),
	)
	return e.bindResult(r)
}

// completedOnboarding finds the Reader a provisional account was moved to.
func (e *Engine) completedOnboarding(ctx context.Context, subject auth.Subject) (*BindResult, error) {
	acct, err := e.accounts.GetAccount(ctx, subject.ID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, apperror.NotFound("account", subject.ID)
		}
		return nil, fmt.Errorf("identity: loading account: %w", err)
	}
	r, err := e.readers.GetReader(ctx, acct.OwnerID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return nil, fmt.Errorf("%w: account %s owner %s", ErrInconsistent, acct.ID, acct.OwnerID)
		}
		return nil, fmt.Errorf("identity: loading reader: %w", err)
	}
	return e.bindResult(r)
}

// BindableIdentities lists Readers sharing a real email with any account the
// subject owns. The client offers them as BindExisting targets.
func (e *Engine) BindableIdentities(ctx context.Context, subject auth.Subject) ([]model.Reader, error) {
	accounts, err := e.accounts.ListAccountsByOwner(ctx, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("identity: listing accounts: %w", err)
	}

	seen := make(map[string]bool)
	var emails []string
	for _, a := range accounts {
		if model.MatchableEmail(a.OAuthEmail) && !seen[a.OAuthEmail] {
			seen[a.OAuthEmail] = true
			emails = append(emails, a.OAuthEmail)
		}
	}
	if len(emails) == 0 {
		return []model.Reader{}, nil
	}

	found, err := e.readers.FindReadersByEmails(ctx, emails)
	if err != nil {
		return nil, fmt.Errorf("identity: finding readers by email: %w", err)
	}
	readers := make([]model.Reader, 0, len(found))
	for _, r := range found {
		if r.ID != subject.ID {
			readers = append(readers, r)
		}
	}
	return readers, nil
}

// CurrentReader describes subject for /api/me.
func (e *Engine) CurrentReader(ctx context.Context, subject auth.Subject) (*Identity, error) {
	if subject.IsResolved() {
		r, err := e.readers.GetReader(ctx, subject.ID)
		if err != nil {
			return nil, fmt.Errorf("identity: loading reader: %w", err)
		}
		return &Identity{Subject: subject, IsOwner: r.IsOwner, Reader: r}, nil
	}

	accounts, err := e.accounts.ListAccountsByOwner(ctx, subject.ID)
	if err != nil {
		return nil, fmt.Errorf("identity: listing accounts: %w", err)
	}
	if len(accounts) == 0 {
		return nil, apperror.NotFound("account", subject.ID)
	}
	n, err := e.readers.CountReaders(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: counting readers: %w", err)
	}

	a := accounts[0]
	return &Identity{
		Subject: subject,
		IsOwner: n == 0,
		Provisional: &ProvisionalProfile{
			Provider: a.Provider,
			Name:     a.OAuthName,
			Email:    a.OAuthEmail,
			Avatar:   a.OAuthAvatar,
			Handle:   a.OAuthHandle,
		},
	}, nil
}

// IsOwner reports whether readerID is the site owner. It satisfies
// auth.OwnerCheck.
func (e *Engine) IsOwner(ctx context.Context, readerID string) (bool, error) {
	r, err := e.readers.GetReader(ctx, readerID)
	if err != nil {
		if errors.Is(err, apperror.ErrNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("identity: loading reader: %w", err)
	}
	return r.IsOwner, nil
}

// reassignAll moves accounts one row at a time. A crash part way leaves some
// accounts on the old owner; running the same call again finishes the move.
func (e *Engine) reassignAll(ctx context.Context, fromID, toID string) error {
	accounts, err := e.accounts.ListAccountsByOwner(ctx, fromID)
	if err != nil {
		return fmt.Errorf("identity: listing accounts: %w", err)
	}
	for _, a := range accounts {
		if err := e.accounts.ReassignAccount(ctx, a.ID, toID); err != nil {
			return fmt.Errorf("identity: reassigning account %s: %w", a.ID, err)
		}
	}
	return nil
}

func (e *Engine) bindResult(r *model.Reader) (*BindResult, error) {
	token, err := e.issuer.Issue(auth.Resolved(r.ID), r.IsOwner)
	if err != nil {
		return nil, fmt.Errorf("identity: issuing token for reader %s: %w", r.ID, err)
	}
	return &BindResult{Reader: r, Token: token}, nil
}

func snapshotAccount(p *auth.Profile) *model.ProviderAccount {
	return &model.ProviderAccount{
		Provider:          p.Provider,
		ProviderAccountID: p.ProviderID,
		AccessToken:       p.AccessToken,
		Scope:             p.Scope,
		OAuthName:         p.Name,
		OAuthEmail:        p.SnapshotEmail(),
		OAuthAvatar:       p.Avatar,
		OAuthHandle:       p.Handle,
	}
}
