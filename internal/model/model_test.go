package model

import "testing"

func TestGenerateHandle(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Octocat", "octocat"},
		{"spaces and punctuation", "Jane Doe!", "janedoe"},
		{"keeps separators inside", "a-b_c", "a-b_c"},
		{"trims separators", "--_x_--", "x"},
		{"unicode letters", "用户", "用户"},
		{"empty", "", ""},
		{"only symbols", "!!!", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GenerateHandle(tt.in); got != tt.want {
				t.Errorf("GenerateHandle(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestPlaceholderEmail(t *testing.T) {
	got := PlaceholderEmail(ProviderGitHub, "42")
	if got != "42@github.oauth" {
		t.Fatalf("PlaceholderEmail() = %q", got)
	}
	if !IsPlaceholderEmail(got) {
		t.Error("IsPlaceholderEmail() = false for github placeholder")
	}
	if !IsPlaceholderEmail(PlaceholderEmail(ProviderQQ, "abc")) {
		t.Error("IsPlaceholderEmail() = false for qq placeholder")
	}
	if IsPlaceholderEmail("a@example.com") {
		t.Error("IsPlaceholderEmail() = true for a real address")
	}
}

func TestMatchableEmail(t *testing.T) {
	if MatchableEmail("") || MatchableEmail("  ") {
		t.Error("blank email must not be matchable")
	}
	if MatchableEmail("7@qq.oauth") {
		t.Error("placeholder email must not be matchable")
	}
	if !MatchableEmail("a@example.com") {
		t.Error("real email must be matchable")
	}
}

func TestCommentStateVisible(t *testing.T) {
	visible := map[CommentState]bool{
		CommentUnread:  true,
		CommentRead:    true,
		CommentSpam:    false,
		CommentPending: false,
	}
	for state, want := range visible {
		if got := state.Visible(); got != want {
			t.Errorf("%s.Visible() = %v, want %v", state, got, want)
		}
	}
}

func TestParseCommentState(t *testing.T) {
	for _, s := range []CommentState{CommentUnread, CommentRead, CommentSpam, CommentPending} {
		got, ok := ParseCommentState(s.String())
		if !ok || got != s {
			t.Errorf("ParseCommentState(%q) = %v, %v", s.String(), got, ok)
		}
	}
	if _, ok := ParseCommentState("deleted"); ok {
		t.Error("ParseCommentState(deleted) should fail")
	}
}

func TestNewID(t *testing.T) {
	a, b := NewID(), NewID()
	if !IsID(a) || !IsID(b) {
		t.Fatalf("NewID() = %q, %q, want 24 hex chars", a, b)
	}
	if a == b {
		t.Error("NewID() repeated an id")
	}
}

func TestIsID(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{"665f1c2e9b1d4a0012345678", true},
		{"665F1C2E9B1D4A0012345678", true},
		{"cpv3h0ri0g9s7ld2t4ag", false},
		{"665f1c2e9b1d4a001234567z", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := IsID(tt.in); got != tt.want {
			t.Errorf("IsID(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestReaderIDForAccount(t *testing.T) {
	id := ReaderIDForAccount("665f1c2e9b1d4a0012345678")
	if !IsID(id) {
		t.Fatalf("ReaderIDForAccount() = %q, want 24 hex chars", id)
	}
	if id != ReaderIDForAccount("665f1c2e9b1d4a0012345678") {
		t.Error("ReaderIDForAccount() is not stable")
	}
	if id == ReaderIDForAccount("665f1c2e9b1d4a0012345679") {
		t.Error("ReaderIDForAccount() collided for different accounts")
	}
	if id == DerivedID("other", "665f1c2e9b1d4a0012345678") {
		t.Error("purpose does not separate derivations")
	}
}
