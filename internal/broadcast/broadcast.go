// Package broadcast provides best-effort fan-out of accepted document writes
// to sibling sessions, so that other open views of the same board can adopt a
// fresh version without each round-tripping to the remote store.
//
// This channel is an optimization, never a correctness dependency: delivery
// is at-most-once and message loss is tolerated, because the sync engine's
// periodic pull provides the same convergence on a longer horizon. Receivers
// must filter by document id and ignore announcements at or below their
// current version.
package broadcast

import (
	"context"
	"fmt"
	"sync"

	"github.com/nwhit/corkboard/pkg/board"
)

// Announcement is the payload published after every successful push or
// adopted pull/merge: the document's new authoritative state.
type Announcement struct {
	DocumentID string       `json:"document_id"`
	Version    int64        `json:"version"`
	Items      []board.Item `json:"items"`
}

// Broadcaster is the cross-session channel contract.
type Broadcaster interface {
	// Publish announces an accepted write. Failures are reported but callers
	// treat them as non-fatal.
	Publish(ctx context.Context, ann Announcement) error

	// Subscribe delivers announcements for one document until the returned
	// subscription or ctx is closed.
	Subscribe(ctx context.Context, documentID string) (*Subscription, error)

	// Close releases the underlying transport.
	Close() error
}

// Subscription is an active feed of announcements for a single document.
// Caller must call Close() when done to clean up resources.
type Subscription struct {
	events <-chan Announcement
	errors <-chan error
	cancel func()
	once   sync.Once
}

// Events returns the channel of announcements. It is closed when the
// subscription is closed or its context is cancelled.
func (s *Subscription) Events() <-chan Announcement {
	return s.events
}

// Errors returns the channel of non-fatal subscription errors, such as
// undecodable payloads. The subscription continues after an error; the
// offending message is skipped.
func (s *Subscription) Errors() <-chan error {
	return s.errors
}

// Close stops the subscription. Safe to call multiple times.
func (s *Subscription) Close() error {
	s.once.Do(s.cancel)
	return nil
}

// DocumentChannel returns the pub/sub channel name for a document's
// announcements. Namespacing lets multiple corkboard deployments share one
// Redis server.
// Pattern: corkboard:{namespace}:doc:{document_id}:events
func DocumentChannel(namespace, documentID string) string {
	return fmt.Sprintf("corkboard:%s:doc:%s:events", namespace, documentID)
}
