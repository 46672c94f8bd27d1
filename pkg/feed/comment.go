// Package feed keeps an ordered, deduplicated view of the community comment
// feed in sync with the backend, merging periodic poll snapshots with push
// frames delivered over the live stream.
package feed

import (
	"sort"
	"time"
)

// FrameTypeComment is the push frame type that carries a comment. Frames of
// any other type are dropped.
const FrameTypeComment = "entity_comment"

// Comment is one community comment, optionally scoped to a catalog entity.
// DisplayName and EntityLabel are server-filled presentation fields and may
// be empty.
type Comment struct {
	ID          string    `json:"id"`
	EntityID    string    `json:"entity_id,omitempty"`
	EntityLabel string    `json:"entity_label,omitempty"`
	Author      string    `json:"author"`
	DisplayName string    `json:"display_name,omitempty"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
}

// Frame is one decoded message from the push stream.
type Frame struct {
	Type    string   `json:"type"`
	Comment *Comment `json:"comment,omitempty"`
}

// collection holds comments sorted by CreatedAt ascending, unique by ID.
// Comments sharing a timestamp keep their arrival order.
type collection struct {
	items []Comment
	index map[string]struct{}
}

func newCollection() collection {
	return collection{index: make(map[string]struct{})}
}

// replace swaps in a fresh snapshot, dropping whatever was held before.
func (c *collection) replace(comments []Comment) {
	c.items = c.items[:0]
	c.index = make(map[string]struct{}, len(comments))
	for _, cm := range comments {
		if _, dup := c.index[cm.ID]; dup {
			continue
		}
		c.index[cm.ID] = struct{}{}
		c.items = append(c.items, cm)
	}
	c.sort()
}

// upsert inserts cm unless a comment with the same ID is already held.
// It reports whether the collection changed.
func (c *collection) upsert(cm Comment) bool {
	if _, dup := c.index[cm.ID]; dup {
		return false
	}
	c.index[cm.ID] = struct{}{}
	c.items = append(c.items, cm)
	c.sort()
	return true
}

func (c *collection) sort() {
	sort.SliceStable(c.items, func(i, j int) bool {
		return c.items[i].CreatedAt.Before(c.items[j].CreatedAt)
	})
}

// window returns a copy of the most recent k comments, still ascending.
func (c *collection) window(k int) []Comment {
	if k <= 0 || k >= len(c.items) {
		return append([]Comment(nil), c.items...)
	}
	return append([]Comment(nil), c.items[len(c.items)-k:]...)
}

func (c *collection) len() int {
	return len(c.items)
}
