package model

import "time"

// CommentState is the moderation state of a comment.
// The numeric values match rows written by earlier versions of the blog.
type CommentState int

const (
	CommentUnread  CommentState = 0
	CommentRead    CommentState = 1
	CommentSpam    CommentState = 2
	CommentPending CommentState = 3
)

func (s CommentState) String() string {
	switch s {
	case CommentUnread:
		return "unread"
	case CommentRead:
		return "read"
	case CommentSpam:
		return "spam"
	case CommentPending:
		return "pending"
	}
	return "unknown"
}

// Visible reports whether the state is one shown to the public.
func (s CommentState) Visible() bool {
	return s == CommentUnread || s == CommentRead
}

// Comment sources.
const (
	SourceOAuth     = "oauth"
	SourceAnonymous = "anonymous"
)

// Comment is a stored comment on a post, note or page.
//
// Key is the threaded display key: "#3" for the third root comment on a ref,
// "#3#1" for the first reply under it. Keys are assigned once and never
// recomputed, so deletions leave gaps.
type Comment struct {
	ID            string       `json:"id"`
	Ref           string       `json:"ref"`
	RefType       string       `json:"refType"`
	Author        string       `json:"author"`
	Mail          string       `json:"mail"`
	Text          string       `json:"text"`
	State         CommentState `json:"state"`
	Children      []string     `json:"children"`
	CommentsIndex int          `json:"commentsIndex"`
	Key           string       `json:"key"`
	IP            string       `json:"ip,omitempty"`
	Agent         string       `json:"agent,omitempty"`
	Pin           bool         `json:"pin"`
	IsWhispers    bool         `json:"isWhispers"`
	Source        string       `json:"source,omitempty"`
	Avatar        string       `json:"avatar,omitempty"`
	Location      string       `json:"location,omitempty"`
	URL           string       `json:"url,omitempty"`
	Parent        string       `json:"parent,omitempty"`
	ReaderID      string       `json:"readerId,omitempty"`
	CreatedAt     time.Time    `json:"createdAt"`
}

// CommentTree is the threaded view returned to clients.
type CommentTree struct {
	Comment
	IsAdmin bool          `json:"isAdmin"`
	Replies []CommentTree `json:"replies"`
}

// VisibilityScope selects which comments a viewer may list.
type VisibilityScope int

const (
	// ScopeAll shows every comment in every state.
	ScopeAll VisibilityScope = iota
	// ScopePublic shows unread and read comments that are not whispers.
	ScopePublic
	// ScopeReader is ScopePublic plus the viewer's own whispers and own
	// pending comments, matched by Email.
	ScopeReader
)

// CommentFilter is a visibility predicate. Stores render it to a query and
// Allows evaluates it in memory; both must agree.
type CommentFilter struct {
	Scope VisibilityScope
	Email string
}

// Allows reports whether c passes the filter.
func (f CommentFilter) Allows(c *Comment) bool {
	switch f.Scope {
	case ScopeAll:
		return true
	case ScopeReader:
		own := f.Email != "" && c.Mail == f.Email
		if c.State.Visible() && (!c.IsWhispers || own) {
			return true
		}
		return own && c.State == CommentPending
	default:
		return c.State.Visible() && !c.IsWhispers
	}
}

// ParseCommentState maps a state name back to its value.
func ParseCommentState(name string) (CommentState, bool) {
	for _, s := range []CommentState{CommentUnread, CommentRead, CommentSpam, CommentPending} {
		if s.String() == name {
			return s, true
		}
	}
	return 0, false
}
