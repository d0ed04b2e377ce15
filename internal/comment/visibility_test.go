package comment

import (
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"github.com/sakif/blogcore/internal/model"
)

// =========================================================================
// VISIBILITY
// =========================================================================

func TestBuildVisibilityFilter(t *testing.T) {
	tests := []struct {
		name   string
		viewer Viewer
		want   model.CommentFilter
	}{
		{
			name:   "anonymous sees public",
			viewer: Anonymous,
			want:   model.CommentFilter{Scope: model.ScopePublic},
		},
		{
			name:   "owner sees all",
			viewer: Viewer{Reader: &model.Reader{ID: "r1", Email: "owner@example.com", IsOwner: true}},
			want:   model.CommentFilter{Scope: model.ScopeAll},
		},
		{
			name:   "reader sees own",
			viewer: Viewer{Reader: &model.Reader{ID: "r2", Email: "ann@example.com"}},
			want:   model.CommentFilter{Scope: model.ScopeReader, Email: "ann@example.com"},
		},
		{
			name:   "reader without email sees public",
			viewer: Viewer{Reader: &model.Reader{ID: "r3"}},
			want:   model.CommentFilter{Scope: model.ScopePublic},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := BuildVisibilityFilter(tt.viewer)
			if got != tt.want {
				t.Errorf("BuildVisibilityFilter() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestComputeKey(t *testing.T) {
	tests := []struct {
		parentKey string
		count     int
		want      string
	}{
		{"", 0, "#1"},
		{"", 2, "#3"},
		{"#3", 0, "#3#1"},
		{"#3#1", 4, "#3#1#5"},
	}

	for _, tt := range tests {
		if got := ComputeKey(tt.parentKey, tt.count); got != tt.want {
			t.Errorf("ComputeKey(%q, %d) = %q, want %q", tt.parentKey, tt.count, got, tt.want)
		}
	}
}

func TestAvatarURL_NormalisesEmail(t *testing.T) {
	a := AvatarURL("Ann@Example.com ")
	b := AvatarURL("ann@example.com")
	if a != b {
		t.Errorf("AvatarURL() differs by case: %q vs %q", a, b)
	}
	if !strings.HasPrefix(a, avatarBase) {
		t.Errorf("AvatarURL() = %q, want prefix %q", a, avatarBase)
	}
	if len(strings.TrimPrefix(a, avatarBase)) != 32 {
		t.Errorf("AvatarURL() = %q, want a 32 char hex digest", a)
	}
}

// =========================================================================
// TREE
// =========================================================================

func TestBuildTree(t *testing.T) {
	base := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	at := func(min int) time.Time { return base.Add(time.Duration(min) * time.Minute) }

	comments := []model.Comment{
		{ID: "c1", Key: "#1", ReaderID: "r2", Mail: "ann@example.com", CreatedAt: at(0)},
		{ID: "c2", Key: "#2", ReaderID: "r1", Mail: "owner@example.com", CreatedAt: at(1)},
		{ID: "c3", Key: "#3", ReaderID: "r3", Mail: "bob@example.com", Pin: true, CreatedAt: at(2)},
		{ID: "c4", Key: "#1#2", Parent: "c1", ReaderID: "r3", Mail: "bob@example.com", Avatar: "https://img/bob.png", CreatedAt: at(4)},
		{ID: "c5", Key: "#1#1", Parent: "c1", ReaderID: "r1", Mail: "owner@example.com", CreatedAt: at(3)},
		{ID: "c6", Key: "#9#1", Parent: "gone", ReaderID: "r2", Mail: "ann@example.com", CreatedAt: at(5)},
		// Typed the owner's address but belongs to another Reader.
		{ID: "c7", Key: "#4", ReaderID: "r4", Mail: "owner@example.com", CreatedAt: at(6)},
	}
	readers := map[string]model.Reader{
		"r1": {ID: "r1", Email: "owner@example.com", IsOwner: true, Image: "https://img/owner.png"},
		"r2": {ID: "r2", Email: "ann@example.com"},
		"r4": {ID: "r4", Name: "Mallory", Email: "owner@example.com"},
	}

	got := BuildTree(comments, readers)

	type node struct {
		ID      string
		Avatar  string
		IsAdmin bool
		Replies []node
	}
	var flatten func([]model.CommentTree) []node
	flatten = func(trees []model.CommentTree) []node {
		out := make([]node, 0, len(trees))
		for _, tr := range trees {
			out = append(out, node{ID: tr.ID, Avatar: tr.Avatar, IsAdmin: tr.IsAdmin, Replies: flatten(tr.Replies)})
		}
		return out
	}

	want := []node{
		{ID: "c3", Avatar: AvatarURL("bob@example.com")},
		{ID: "c1", Avatar: AvatarURL("ann@example.com"), Replies: []node{
			{ID: "c5", Avatar: "https://img/owner.png", IsAdmin: true},
			{ID: "c4", Avatar: "https://img/bob.png"},
		}},
		{ID: "c2", Avatar: "https://img/owner.png", IsAdmin: true},
		{ID: "c7", Avatar: AvatarURL("owner@example.com")},
	}

	if diff := cmp.Diff(want, flatten(got), cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("BuildTree() mismatch (-want +got):\n%s", diff)
	}
}

func TestBuildTree_Empty(t *testing.T) {
	got := BuildTree(nil, nil)
	if got == nil || len(got) != 0 {
		t.Errorf("BuildTree(nil) = %v, want empty non-nil slice", got)
	}
}
