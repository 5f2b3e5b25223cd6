// Package board provides the item model and merge engine for the corkboard
// whiteboard. A board is a per-document collection of freely positioned items
// kept consistent across sessions by last-writer-wins merging on logical
// millisecond timestamps. Deletion is a soft tombstone flag so that later
// merges can still compare timestamps; capacity is reclaimed by pruning, not
// by removing tombstones eagerly.
package board

import (
	"fmt"
	"sync"
	"time"
)

// Kind identifies the type of object placed on a board.
type Kind string

const (
	// KindNote is a sticky note.
	KindNote Kind = "note"

	// KindImage is an image placed by URL or data reference.
	KindImage Kind = "image"

	// KindText is a free-floating text label.
	KindText Kind = "text"
)

// Validate checks if the Kind is a known enum value.
func (k Kind) Validate() error {
	switch k {
	case KindNote, KindImage, KindText:
		return nil
	default:
		return fmt.Errorf("unknown item kind: %q", k)
	}
}

// Item is one placed object within a document. The id is stable and
// caller-generated; UpdatedAt is a logical millisecond timestamp set by the
// local session on every mutation, including soft deletion.
type Item struct {
	ID        string  `json:"id"`
	Kind      Kind    `json:"kind"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Content   string  `json:"content"`
	Color     string  `json:"color,omitempty"`
	Rotation  float64 `json:"rotation,omitempty"`
	Author    string  `json:"author,omitempty"`
	UpdatedAt int64   `json:"updated_at"`
	Deleted   bool    `json:"deleted,omitempty"`
}

// Snapshot is the remote store's view of a document: the full item set plus
// the store-assigned version. Versions strictly increase on every accepted
// write; a client never invents one, it only echoes back the last version it
// observed.
type Snapshot struct {
	DocumentID string `json:"document_id"`
	Items      []Item `json:"items"`
	Version    int64  `json:"version"`
}

// Clock produces logical millisecond timestamps for local mutations. It is
// monotonic within a session: if the wall clock has not advanced since the
// previous call, the returned value is bumped by one so that two successive
// mutations never share a timestamp.
type Clock struct {
	mu   sync.Mutex
	last int64
	now  func() int64
}

// NewClock creates a Clock backed by the system wall clock.
func NewClock() *Clock {
	return &Clock{now: func() int64 { return time.Now().UnixMilli() }}
}

// NewClockFunc creates a Clock backed by a custom time source.
func NewClockFunc(now func() int64) *Clock {
	return &Clock{now: now}
}

// Now returns the next logical timestamp.
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now()
	if ts <= c.last {
		ts = c.last + 1
	}
	c.last = ts
	return ts
}
