package comment

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mikestefanello/backlite"
	"golang.org/x/sync/errgroup"

	"github.com/sakif/blogcore/internal/model"
)

const (
	reviewTimeout = 30 * time.Second
	// recordTimeout bounds the state write once ctx has ended.
	recordTimeout = 5 * time.Second
)

// ReviewTask asks for one comment to be classified. It doubles as the
// backlite task payload.
type ReviewTask struct {
	CommentID string
	Text      string
	Author    string
	Email     string
}

func (ReviewTask) Config() backlite.QueueConfig {
	return backlite.QueueConfig{
		Name:        "comment-review",
		MaxAttempts: 3,
		Backoff:     10 * time.Second,
		Timeout:     reviewTimeout,
		Retention: &backlite.Retention{
			Duration:   24 * time.Hour,
			OnlyFailed: true,
			Data: &backlite.RetainData{
				OnlyFailed: true,
			},
		},
	}
}

// StateUpdater is the one write a review makes.
type StateUpdater interface {
	UpdateCommentState(ctx context.Context, id string, state model.CommentState) error
}

// Reviewer classifies a comment and moves it out of pending: to spam on a
// spam verdict, otherwise to unread. A review cut short by shutdown counts as
// a pass.
type Reviewer struct {
	classifier *Classifier
	comments   StateUpdater
	logger     *slog.Logger
}

func NewReviewer(classifier *Classifier, comments StateUpdater, logger *slog.Logger) *Reviewer {
	return &Reviewer{classifier: classifier, comments: comments, logger: logger}
}

func (r *Reviewer) Review(ctx context.Context, task ReviewTask) error {
	v := r.classifier.Check(ctx, task.Text, task.Author, task.Email)

	state := model.CommentUnread
	if v.Spam {
		state = model.CommentSpam
		r.logger.Warn("comment flagged as spam",
			slog.String("commentID", task.CommentID),
			slog.Float64("confidence", v.Confidence),
			slog.String("reason", v.Reason),
		)
	}

	// The outcome is written even when ctx ended during classification,
	// otherwise the comment would stay pending for good.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.comments.UpdateCommentState(wctx, task.CommentID, state); err != nil {
		return fmt.Errorf("comment: recording review of %s: %w", task.CommentID, err)
	}
	r.logger.Info("comment reviewed",
		slog.String("commentID", task.CommentID),
		slog.String("state", state.String()),
	)
	return nil
}

// Dispatcher schedules a review to run after the request returns.
type Dispatcher interface {
	Dispatch(ctx context.Context, task ReviewTask) error
}

// ReviewFunc runs one review.
type ReviewFunc func(ctx context.Context, task ReviewTask) error

// InlineDispatcher runs each review on its own goroutine. There is no bound on
// how many run at once. Wait drains them at shutdown.
type InlineDispatcher struct {
	base   context.Context
	review ReviewFunc
	logger *slog.Logger

	mu     sync.Mutex
	group  errgroup.Group
	closed bool
}

// NewInlineDispatcher creates a dispatcher whose reviews run under base rather
// than the request context, so they outlive the request.
func NewInlineDispatcher(base context.Context, review ReviewFunc, logger *slog.Logger) *InlineDispatcher {
	return &InlineDispatcher{base: base, review: review, logger: logger}
}

func (d *InlineDispatcher) Dispatch(_ context.Context, task ReviewTask) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return fmt.Errorf("comment: review dispatcher closed")
	}

	d.group.Go(func() error {
		ctx, cancel := context.WithTimeout(d.base, reviewTimeout)
		defer cancel()
		if err := d.review(ctx, task); err != nil {
			d.logger.Error("comment review failed",
				slog.String("commentID", task.CommentID),
				slog.String("error", err.Error()),
			)
			return err
		}
		return nil
	})
	return nil
}

// Wait stops accepting reviews and blocks until running ones finish. It
// returns the first review error, which has already been logged.
func (d *InlineDispatcher) Wait() error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	return d.group.Wait()
}

// QueueDispatcher stores reviews in a backlite queue. Concurrency is bounded
// by the client's worker count and failed reviews are retried.
type QueueDispatcher struct {
	client *backlite.Client
}

// NewQueueDispatcher registers the review queue on client. Call it before
// client.Start.
func NewQueueDispatcher(client *backlite.Client, review ReviewFunc) *QueueDispatcher {
	client.Register(backlite.NewQueue[ReviewTask](func(ctx context.Context, task ReviewTask) error {
		return review(ctx, task)
	}))
	return &QueueDispatcher{client: client}
}

func (d *QueueDispatcher) Dispatch(ctx context.Context, task ReviewTask) error {
	if _, err := d.client.Add(task).Ctx(ctx).Save(); err != nil {
		return fmt.Errorf("comment: queueing review of %s: %w", task.CommentID, err)
	}
	return nil
}
