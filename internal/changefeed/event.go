// Package changefeed keeps the content cache and the frontend in step with
// writes made to the content collections.
//
// A Watcher reads change Events from a Source and hands each to an
// Invalidator, which drops local cache entries and asks the frontend to
// revalidate the affected tags. Any stream failure sends the Watcher back to
// reconnecting after a fixed pause; it only stops when its context ends.
package changefeed

import (
	"fmt"
	"strconv"
	"strings"
)

// Operation is the kind of write that produced an event.
type Operation string

const (
	OpInsert  Operation = "insert"
	OpUpdate  Operation = "update"
	OpReplace Operation = "replace"
	OpDelete  Operation = "delete"
)

// Operations lists the subscribed operations.
var Operations = []Operation{OpInsert, OpUpdate, OpReplace, OpDelete}

// ChangesCount reports whether the operation changes how many documents a
// collection holds. List pages only need rebuilding when it does.
func (o Operation) ChangesCount() bool {
	return o == OpInsert || o == OpDelete
}

// Watched collections.
const (
	CollectionPosts      = "posts"
	CollectionNotes      = "notes"
	CollectionPages      = "pages"
	CollectionCategories = "categories"
)

// Collections lists the subscribed collections.
var Collections = []string{CollectionPosts, CollectionNotes, CollectionPages, CollectionCategories}

// Event is one change notification.
//
// Slug and NID come from the full document and are empty for deletes, where
// the document is gone.
type Event struct {
	Operation  Operation `json:"operation"`
	Collection string    `json:"collection"`
	DocumentID string    `json:"documentId"`
	Slug       string    `json:"slug,omitempty"`
	NID        int       `json:"nid,omitempty"`
}

// RoutingKey is the broker routing key for e: "<collection>.<operation>".
func (e Event) RoutingKey() string {
	return e.Collection + "." + string(e.Operation)
}

// Validate rejects events outside the subscribed collections and operations.
func (e Event) Validate() error {
	if !knownCollection(e.Collection) {
		return fmt.Errorf("changefeed: unknown collection %q", e.Collection)
	}
	if _, err := ParseOperation(string(e.Operation)); err != nil {
		return err
	}
	return nil
}

func (e Event) String() string {
	var b strings.Builder
	b.WriteString(e.RoutingKey())
	if e.DocumentID != "" {
		b.WriteString(" id=" + e.DocumentID)
	}
	if e.Slug != "" {
		b.WriteString(" slug=" + e.Slug)
	}
	if e.NID != 0 {
		b.WriteString(" nid=" + strconv.Itoa(e.NID))
	}
	return b.String()
}

// ParseOperation converts s to an Operation.
func ParseOperation(s string) (Operation, error) {
	for _, op := range Operations {
		if string(op) == s {
			return op, nil
		}
	}
	return "", fmt.Errorf("changefeed: unknown operation %q", s)
}

func knownCollection(name string) bool {
	for _, c := range Collections {
		if c == name {
			return true
		}
	}
	return false
}

// Bindings returns one routing key per subscribed collection and operation.
func Bindings() []string {
	keys := make([]string, 0, len(Collections)*len(Operations))
	for _, c := range Collections {
		for _, op := range Operations {
			keys = append(keys, c+"."+string(op))
		}
	}
	return keys
}
