package comment

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/sakif/blogcore/internal/config"
	"github.com/sakif/blogcore/internal/model"
	"github.com/sakif/blogcore/internal/repository/sqlite"
)

type recordingStates struct {
	mu     sync.Mutex
	states map[string]model.CommentState
	err    error
}

func newRecordingStates() *recordingStates {
	return &recordingStates{states: make(map[string]model.CommentState)}
}

func (r *recordingStates) UpdateCommentState(_ context.Context, id string, state model.CommentState) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.states[id] = state
	return nil
}

func (r *recordingStates) get(id string) (model.CommentState, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.states[id]
	return s, ok
}

func TestReviewer_Review(t *testing.T) {
	opts := fakeOptions{ai: configuredAI, comments: config.CommentOptions{AntiSpam: true, AIReview: true}}

	tests := []struct {
		name  string
		reply string
		want  model.CommentState
	}{
		{"spam verdict", `{"is_spam": true, "reason": "ads"}`, model.CommentSpam},
		{"ham verdict", `{"is_spam": false}`, model.CommentUnread},
		{"model failure passes", `garbage`, model.CommentUnread},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			states := newRecordingStates()
			r := NewReviewer(newTestClassifier(opts, &fakeGenerator{reply: tt.reply}), states, discardLogger())

			if err := r.Review(context.Background(), ReviewTask{CommentID: "c1", Text: "hi"}); err != nil {
				t.Fatalf("Review() error = %v", err)
			}
			if got, _ := states.get("c1"); got != tt.want {
				t.Errorf("state = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestReviewer_StoreError(t *testing.T) {
	states := newRecordingStates()
	states.err = errors.New("disk full")
	r := NewReviewer(newTestClassifier(fakeOptions{}, &fakeGenerator{}), states, discardLogger())

	if err := r.Review(context.Background(), ReviewTask{CommentID: "c1"}); err == nil {
		t.Error("Review() should surface the store error")
	}
}

func TestInlineDispatcher_RunsAfterRequestContextEnds(t *testing.T) {
	var mu sync.Mutex
	var seen []string
	review := func(ctx context.Context, task ReviewTask) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		time.Sleep(10 * time.Millisecond)
		mu.Lock()
		seen = append(seen, task.CommentID)
		mu.Unlock()
		return nil
	}

	d := NewInlineDispatcher(context.Background(), review, discardLogger())

	reqCtx, cancel := context.WithCancel(context.Background())
	for _, id := range []string{"c1", "c2", "c3"} {
		if err := d.Dispatch(reqCtx, ReviewTask{CommentID: id}); err != nil {
			t.Fatalf("Dispatch(%s) error = %v", id, err)
		}
	}
	cancel()

	if err := d.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if len(seen) != 3 {
		t.Errorf("reviewed %v, want 3 comments", seen)
	}

	if err := d.Dispatch(context.Background(), ReviewTask{CommentID: "late"}); err == nil {
		t.Error("Dispatch() after Wait should fail")
	}
}

func TestInlineDispatcher_WaitReturnsReviewError(t *testing.T) {
	boom := errors.New("boom")
	d := NewInlineDispatcher(context.Background(), func(context.Context, ReviewTask) error { return boom }, discardLogger())

	if err := d.Dispatch(context.Background(), ReviewTask{CommentID: "c1"}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}
	if err := d.Wait(); !errors.Is(err, boom) {
		t.Errorf("Wait() = %v, want %v", err, boom)
	}
}

// stallingGenerator blocks until its context ends, like a model call that is
// still in flight at shutdown.
type stallingGenerator struct {
	started chan struct{}
	once    sync.Once
}

func (g *stallingGenerator) GenerateText(ctx context.Context, _, _ string) (string, error) {
	g.once.Do(func() { close(g.started) })
	<-ctx.Done()
	return "", ctx.Err()
}

func TestInlineDispatcher_ShutdownMidReviewReleasesComment(t *testing.T) {
	db, err := sqlite.New(":memory:")
	if err != nil {
		t.Fatalf("failed to create test db: %v", err)
	}
	defer db.Close()

	ctx := context.Background()
	c := &model.Comment{Ref: "p1", RefType: "posts", Key: "#1", Text: "hello", State: model.CommentPending}
	if err := db.CreateComment(ctx, c); err != nil {
		t.Fatalf("CreateComment() error = %v", err)
	}

	gen := &stallingGenerator{started: make(chan struct{})}
	opts := fakeOptions{ai: configuredAI, comments: config.CommentOptions{AntiSpam: true, AIReview: true}}
	classifier := NewClassifier(opts, func(config.AIOptions) TextGenerator { return gen }, discardLogger())
	reviewer := NewReviewer(classifier, db, discardLogger())

	base, cancel := context.WithCancel(ctx)
	d := NewInlineDispatcher(base, reviewer.Review, discardLogger())
	if err := d.Dispatch(ctx, ReviewTask{CommentID: c.ID, Text: c.Text}); err != nil {
		t.Fatalf("Dispatch() error = %v", err)
	}

	select {
	case <-gen.started:
	case <-time.After(2 * time.Second):
		t.Fatal("review never reached the model")
	}
	cancel()

	if err := d.Wait(); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}

	got, err := db.GetComment(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetComment() error = %v", err)
	}
	if got.State != model.CommentUnread {
		t.Errorf("state = %v, want %v", got.State, model.CommentUnread)
	}
}

func TestReviewTask_QueueConfig(t *testing.T) {
	cfg := ReviewTask{}.Config()
	if cfg.Name != "comment-review" {
		t.Errorf("Name = %q", cfg.Name)
	}
	if cfg.MaxAttempts != 3 || cfg.Timeout != reviewTimeout {
		t.Errorf("MaxAttempts = %d, Timeout = %v", cfg.MaxAttempts, cfg.Timeout)
	}
	if cfg.Retention == nil || !cfg.Retention.OnlyFailed {
		t.Error("failed reviews should be retained")
	}
}
