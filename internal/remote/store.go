// Package remote defines the authoritative document store contract consumed
// by the sync engine, plus the HTTP client, the in-memory implementation, and
// the reference HTTP server built on top of it.
//
// The store assigns every accepted write a strictly increasing version.
// Clients echo back the last version they observed as base_version; a
// mismatch is a conflict, reported together with the store's current snapshot
// so the caller can merge and retry without a second round-trip.
package remote

import (
	"context"
	"errors"
	"fmt"

	"github.com/nwhit/corkboard/pkg/board"
)

// WriteRequest is a client write: the full (pruned) item set and the document
// version the client believes is current.
type WriteRequest struct {
	Items       []board.Item `json:"items"`
	BaseVersion int64        `json:"base_version"`
}

// Store is the remote collaborator contract. Documents are created implicitly
// on first write; fetching an unknown document yields the empty snapshot at
// version 0.
type Store interface {
	// Fetch returns the current snapshot of a document. It fails on any
	// transport or protocol error.
	Fetch(ctx context.Context, documentID string) (board.Snapshot, error)

	// Write stores a new item set if req.BaseVersion matches the document's
	// current version, returning the accepted snapshot with its new version.
	// On a version mismatch it returns a ConflictError carrying the store's
	// current snapshot.
	Write(ctx context.Context, documentID string, req WriteRequest) (board.Snapshot, error)
}

// ErrUnavailable signals a transport-level failure reaching the store.
var ErrUnavailable = errors.New("remote store unavailable")

// ConflictError reports a rejected write whose base_version no longer matches
// the store. Current is the store's present snapshot, handed back so the
// client can merge its pending items in and retry.
type ConflictError struct {
	Current board.Snapshot
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("version conflict: remote is at version %d", e.Current.Version)
}

// IsConflict returns true if the error is a write rejected on base_version.
func IsConflict(err error) bool {
	var conflict *ConflictError
	return errors.As(err, &conflict)
}

// AsConflict extracts the ConflictError from an error chain, if present.
func AsConflict(err error) (*ConflictError, bool) {
	var conflict *ConflictError
	if errors.As(err, &conflict) {
		return conflict, true
	}
	return nil, false
}
