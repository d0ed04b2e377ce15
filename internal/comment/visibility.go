// Package comment implements comment threading, visibility and spam review.
package comment

import (
	"crypto/md5"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/sakif/blogcore/internal/model"
)

// Viewer is whoever is reading or writing comments. Reader is nil for
// anonymous visitors and for provisional sessions.
type Viewer struct {
	Reader *model.Reader
}

// Anonymous is the zero Viewer.
var Anonymous = Viewer{}

func (v Viewer) IsOwner() bool { return v.Reader != nil && v.Reader.IsOwner }

// BuildVisibilityFilter returns what v may see. The owner sees everything; a
// Reader additionally sees their own whispers and own pending comments;
// everyone else sees public visible comments only.
func BuildVisibilityFilter(v Viewer) model.CommentFilter {
	switch {
	case v.IsOwner():
		return model.CommentFilter{Scope: model.ScopeAll}
	case v.Reader != nil && v.Reader.Email != "":
		return model.CommentFilter{Scope: model.ScopeReader, Email: v.Reader.Email}
	default:
		return model.CommentFilter{Scope: model.ScopePublic}
	}
}

// ComputeKey returns the threaded key for a new comment. A root comment on a
// ref holding rootCount roots is "#<rootCount+1>"; a reply to a parent with
// childCount children is "<parentKey>#<childCount+1>".
func ComputeKey(parentKey string, count int) string {
	return parentKey + "#" + strconv.Itoa(count+1)
}

const avatarBase = "https://cravatar.cn/avatar/"

// AvatarURL is the Gravatar-compatible avatar for email.
func AvatarURL(email string) string {
	sum := md5.Sum([]byte(strings.ToLower(strings.TrimSpace(email))))
	return avatarBase + hex.EncodeToString(sum[:])
}
