package comment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"codeberg.org/gruf/go-mutexes"

	"github.com/sakif/blogcore/internal/apperror"
	"github.com/sakif/blogcore/internal/model"
	"github.com/sakif/blogcore/internal/repository"
)

// CreateInput is a new comment as submitted. Author and Mail are required
// for anonymous viewers and override the Reader's own values otherwise.
type CreateInput struct {
	Ref          string
	RefType      string
	Text         string
	Parent       string
	URL          string
	Author       string
	Mail         string
	IsWhispers   bool
	CaptchaToken string
	IP           string
	Agent        string
}

// ReviewGate reports whether new comments wait for review.
type ReviewGate interface {
	Enabled(ctx context.Context) bool
}

// Service creates and lists comments.
type Service struct {
	comments   repository.CommentRepository
	readers    repository.ReaderRepository
	review     ReviewGate
	dispatcher Dispatcher
	captcha    CaptchaVerifier
	locator    Locator
	locks      *mutexes.MutexMap
	logger     *slog.Logger
}

// ServiceOption customises a Service.
type ServiceOption func(*Service)

func WithCaptcha(v CaptchaVerifier) ServiceOption {
	return func(s *Service) { s.captcha = v }
}

func WithLocator(l Locator) ServiceOption {
	return func(s *Service) { s.locator = l }
}

func NewService(
	comments repository.CommentRepository,
	readers repository.ReaderRepository,
	review ReviewGate,
	dispatcher Dispatcher,
	logger *slog.Logger,
	opts ...ServiceOption,
) *Service {
	locks := mutexes.MutexMap{}
	s := &Service{
		comments:   comments,
		readers:    readers,
		review:     review,
		dispatcher: dispatcher,
		captcha:    NoCaptcha{},
		locator:    NoLocator{},
		locks:      &locks,
		logger:     logger,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create stores a comment and schedules its review.
func (s *Service) Create(ctx context.Context, viewer Viewer, in CreateInput) (*model.Comment, error) {
	in.Text = strings.TrimSpace(in.Text)
	if in.Text == "" {
		return nil, apperror.ValidationFailed("text", "comment text must not be empty")
	}
	if in.Ref == "" || in.RefType == "" {
		return nil, apperror.ValidationFailed("ref", "ref and refType are required")
	}

	c := &model.Comment{
		Ref:        in.Ref,
		RefType:    in.RefType,
		Text:       in.Text,
		URL:        in.URL,
		IP:         in.IP,
		Agent:      in.Agent,
		IsWhispers: in.IsWhispers,
	}

	if err := s.attachAuthor(ctx, viewer, in, c); err != nil {
		return nil, err
	}

	if loc, ok := s.locator.Locate(in.IP); ok {
		c.Location = loc
	}

	c.State = model.CommentUnread
	if s.review.Enabled(ctx) {
		c.State = model.CommentPending
	}

	if err := s.insert(ctx, c, in.Parent); err != nil {
		return nil, err
	}

	if c.State == model.CommentPending {
		s.dispatchReview(ctx, c)
	}

	s.logger.Info("comment created",
		slog.String("commentID", c.ID),
		slog.String("ref", c.Ref),
		slog.String("key", c.Key),
		slog.String("state", c.State.String()),
	)
	return c, nil
}

func (s *Service) attachAuthor(ctx context.Context, viewer Viewer, in CreateInput, c *model.Comment) error {
	if r := viewer.Reader; r != nil {
		c.Author = firstNonEmpty(in.Author, r.Name)
		c.Mail = firstNonEmpty(in.Mail, r.Email)
		c.Avatar = r.Image
		if c.Avatar == "" {
			c.Avatar = AvatarURL(c.Mail)
		}
		c.Source = model.SourceOAuth
		c.ReaderID = r.ID
		return nil
	}

	author := strings.TrimSpace(in.Author)
	mail := strings.TrimSpace(in.Mail)
	if author == "" {
		return apperror.ValidationFailed("author", "a name is required to comment without signing in")
	}
	if mail == "" {
		return apperror.ValidationFailed("mail", "an email is required to comment without signing in")
	}

	ok, err := s.captcha.Verify(ctx, in.CaptchaToken, in.IP)
	if err != nil {
		return apperror.Upstream("captcha verification", err)
	}
	if !ok {
		return apperror.ValidationFailed("captcha", "captcha verification failed")
	}

	r, err := s.anonymousReader(ctx, author, mail)
	if err != nil {
		return err
	}

	c.Author = author
	c.Mail = mail
	c.Avatar = AvatarURL(mail)
	c.Source = model.SourceAnonymous
	c.ReaderID = r.ID
	return nil
}

// anonymousReader finds or creates the placeholder Reader for an exact
// (name, email) pair. Such Readers never claim the owner slot.
func (s *Service) anonymousReader(ctx context.Context, name, email string) (*model.Reader, error) {
	unlock := s.locks.Lock("anon:" + name + "\x00" + email)
	defer unlock()

	r, err := s.readers.FindReaderByNameEmail(ctx, name, email)
	if err == nil {
		if r.IsOwner {
			return nil, apperror.Forbidden("sign in to comment as the site owner")
		}
		return r, nil
	}
	if !errors.Is(err, apperror.ErrNotFound) {
		return nil, fmt.Errorf("comment: finding anonymous reader: %w", err)
	}

	verified := false
	r = &model.Reader{
		Name:          name,
		Email:         email,
		Handle:        model.GenerateHandle(name),
		Image:         AvatarURL(email),
		EmailVerified: &verified,
	}
	if err := s.readers.CreateReader(ctx, r, false); err != nil {
		return nil, fmt.Errorf("comment: creating anonymous reader: %w", err)
	}
	return r, nil
}

// insert assigns the key and index and stores c. Writes to one ref are
// serialized so keys stay unique.
func (s *Service) insert(ctx context.Context, c *model.Comment, parentID string) error {
	unlock := s.locks.Lock("ref:" + c.RefType + ":" + c.Ref)
	defer unlock()

	var parent *model.Comment
	if parentID != "" {
		p, err := s.comments.GetComment(ctx, parentID)
		switch {
		case err == nil && p.Ref == c.Ref && p.RefType == c.RefType:
			parent = p
		case err == nil, errors.Is(err, apperror.ErrNotFound):
			s.logger.Warn("reply parent not usable, posting as root", slog.String("parent", parentID))
		default:
			return fmt.Errorf("comment: loading parent: %w", err)
		}
	}

	if parent != nil {
		c.Parent = parent.ID
		c.Key = ComputeKey(parent.Key, len(parent.Children))
	} else {
		roots, err := s.comments.CountRootComments(ctx, c.Ref, c.RefType)
		if err != nil {
			return fmt.Errorf("comment: counting root comments: %w", err)
		}
		c.Key = ComputeKey("", roots)
	}

	total, err := s.comments.CountComments(ctx, c.Ref, c.RefType)
	if err != nil {
		return fmt.Errorf("comment: counting comments: %w", err)
	}
	c.CommentsIndex = total + 1

	if err := s.comments.CreateComment(ctx, c); err != nil {
		return fmt.Errorf("comment: creating comment: %w", err)
	}

	if parent != nil {
		if err := s.comments.AppendChild(ctx, parent.ID, c.ID); err != nil {
			s.logger.Error("linking reply to parent",
				slog.String("parent", parent.ID),
				slog.String("commentID", c.ID),
				slog.String("error", err.Error()),
			)
		}
	}
	return nil
}

// dispatchReview hands c to the reviewer. If that fails the comment is
// released instead of staying pending forever.
func (s *Service) dispatchReview(ctx context.Context, c *model.Comment) {
	task := ReviewTask{CommentID: c.ID, Text: c.Text, Author: c.Author, Email: c.Mail}
	err := s.dispatcher.Dispatch(ctx, task)
	if err == nil {
		return
	}

	s.logger.Error("scheduling comment review",
		slog.String("commentID", c.ID),
		slog.String("error", err.Error()),
	)
	if err := s.comments.UpdateCommentState(ctx, c.ID, model.CommentUnread); err != nil {
		s.logger.Error("releasing unreviewed comment",
			slog.String("commentID", c.ID),
			slog.String("error", err.Error()),
		)
		return
	}
	c.State = model.CommentUnread
}

// List returns the comment tree on a ref as viewer may see it.
func (s *Service) List(ctx context.Context, viewer Viewer, ref, refType string) ([]model.CommentTree, error) {
	if ref == "" || refType == "" {
		return nil, apperror.ValidationFailed("ref", "ref and refType are required")
	}

	comments, err := s.comments.ListComments(ctx, ref, refType, BuildVisibilityFilter(viewer))
	if err != nil {
		return nil, fmt.Errorf("comment: listing comments: %w", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, c := range comments {
		if c.ReaderID != "" && !seen[c.ReaderID] {
			seen[c.ReaderID] = true
			ids = append(ids, c.ReaderID)
		}
	}

	readers := make(map[string]model.Reader, len(ids))
	if len(ids) > 0 {
		found, err := s.readers.FindReadersByIDs(ctx, ids)
		if err != nil {
			return nil, fmt.Errorf("comment: loading comment authors: %w", err)
		}
		for _, r := range found {
			readers[r.ID] = r
		}
	}

	return BuildTree(comments, readers), nil
}

// SetState moves a comment to state. Callers must have checked ownership.
func (s *Service) SetState(ctx context.Context, id string, state model.CommentState) error {
	switch state {
	case model.CommentUnread, model.CommentRead, model.CommentSpam, model.CommentPending:
	default:
		return apperror.ValidationFailed("state", "unknown comment state")
	}
	if err := s.comments.UpdateCommentState(ctx, id, state); err != nil {
		return fmt.Errorf("comment: updating state of %s: %w", id, err)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if s := strings.TrimSpace(v); s != "" {
			return s
		}
	}
	return ""
}
