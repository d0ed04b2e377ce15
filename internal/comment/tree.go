package comment

import (
	"sort"

	"github.com/sakif/blogcore/internal/model"
)

// BuildTree nests comments under their parents, oldest first at every level,
// with pinned roots ahead of the rest. Comments whose parent is not in the
// slice (hidden or deleted) are dropped with it.
//
// readers maps Reader id to Reader. A comment's own ReaderID picks its entry,
// which supplies the avatar and the IsAdmin flag; the email typed on the
// comment is never used for either.
func BuildTree(comments []model.Comment, readers map[string]model.Reader) []model.CommentTree {
	byParent := make(map[string][]model.Comment)
	present := make(map[string]bool, len(comments))
	for _, c := range comments {
		present[c.ID] = true
	}

	var roots []model.Comment
	for _, c := range comments {
		switch {
		case c.Parent == "":
			roots = append(roots, c)
		case present[c.Parent]:
			byParent[c.Parent] = append(byParent[c.Parent], c)
		}
	}

	sort.SliceStable(roots, func(i, j int) bool {
		if roots[i].Pin != roots[j].Pin {
			return roots[i].Pin
		}
		return roots[i].CreatedAt.Before(roots[j].CreatedAt)
	})

	var build func(c model.Comment) model.CommentTree
	build = func(c model.Comment) model.CommentTree {
		children := byParent[c.ID]
		sort.SliceStable(children, func(i, j int) bool {
			return children[i].CreatedAt.Before(children[j].CreatedAt)
		})

		node := decorate(c, readers)
		node.Replies = make([]model.CommentTree, 0, len(children))
		for _, child := range children {
			node.Replies = append(node.Replies, build(child))
		}
		return node
	}

	out := make([]model.CommentTree, 0, len(roots))
	for _, r := range roots {
		out = append(out, build(r))
	}
	return out
}

// decorate resolves the avatar (Reader image, then stored avatar, then
// cravatar) and marks owner-authored comments.
func decorate(c model.Comment, readers map[string]model.Reader) model.CommentTree {
	node := model.CommentTree{Comment: c}
	r, ok := readers[c.ReaderID]
	switch {
	case ok && r.Image != "":
		node.Avatar = r.Image
	case c.Avatar != "":
	default:
		node.Avatar = AvatarURL(c.Mail)
	}
	node.IsAdmin = ok && r.IsOwner
	return node
}
