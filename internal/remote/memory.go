package remote

import (
	"context"
	"sync"

	"github.com/nwhit/corkboard/pkg/board"
)

// MemoryStore is an in-memory Store with the same versioning semantics as the
// reference server. It backs the server and stands in for the network in
// engine tests, so it also counts calls.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]board.Snapshot

	fetchCalls int
	writeCalls int

	failFetches bool
	failWrites  bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]board.Snapshot)}
}

// Fetch implements Store. Unknown documents yield the empty snapshot at
// version 0.
func (s *MemoryStore) Fetch(ctx context.Context, documentID string) (board.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return board.Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.fetchCalls++
	if s.failFetches {
		return board.Snapshot{}, ErrUnavailable
	}

	doc, ok := s.docs[documentID]
	if !ok {
		return board.Snapshot{DocumentID: documentID, Items: []board.Item{}, Version: 0}, nil
	}
	return copySnapshot(doc), nil
}

// Write implements Store. The version check and increment happen under one
// lock so concurrent writers serialize correctly.
func (s *MemoryStore) Write(ctx context.Context, documentID string, req WriteRequest) (board.Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return board.Snapshot{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.writeCalls++
	if s.failWrites {
		return board.Snapshot{}, ErrUnavailable
	}

	current, ok := s.docs[documentID]
	if !ok {
		current = board.Snapshot{DocumentID: documentID, Items: []board.Item{}, Version: 0}
	}

	if req.BaseVersion != current.Version {
		return board.Snapshot{}, &ConflictError{Current: copySnapshot(current)}
	}

	accepted := board.Snapshot{
		DocumentID: documentID,
		Items:      copyItems(req.Items),
		Version:    current.Version + 1,
	}
	s.docs[documentID] = accepted
	return copySnapshot(accepted), nil
}

// Seed installs a snapshot directly, bypassing the version check. Test and
// server-bootstrap helper.
func (s *MemoryStore) Seed(doc board.Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[doc.DocumentID] = copySnapshot(doc)
}

// SetFailFetches toggles simulated connectivity loss on fetches. Safe to flip
// while the store is in use.
func (s *MemoryStore) SetFailFetches(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failFetches = fail
}

// SetFailWrites toggles simulated connectivity loss on writes.
func (s *MemoryStore) SetFailWrites(fail bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWrites = fail
}

// FetchCalls returns how many fetches have been issued.
func (s *MemoryStore) FetchCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fetchCalls
}

// WriteCalls returns how many writes have been issued, accepted or not.
func (s *MemoryStore) WriteCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeCalls
}

func copySnapshot(doc board.Snapshot) board.Snapshot {
	doc.Items = copyItems(doc.Items)
	return doc
}

func copyItems(items []board.Item) []board.Item {
	copied := make([]board.Item, len(items))
	copy(copied, items)
	return copied
}
