package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwhit/corkboard/internal/remote"
	"github.com/nwhit/corkboard/pkg/board"
)

func TestSessionOpenAssignsIncreasingEpochs(t *testing.T) {
	s := NewSession(Deps{}, testConfig())
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	a, err := s.Open(ctx, "board-a")
	require.NoError(t, err)
	assert.Equal(t, int64(1), a.Epoch())

	b, err := s.Open(ctx, "board-b")
	require.NoError(t, err)
	assert.Equal(t, int64(2), b.Epoch())
	assert.Equal(t, int64(2), s.Epoch())
	assert.Same(t, b, s.Current())
}

func TestSessionOpenClosesPreviousDocument(t *testing.T) {
	c := newTestCache(t)
	s := NewSession(Deps{Cache: c}, testConfig())
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	a, err := s.Open(ctx, "board-a")
	require.NoError(t, err)
	require.NoError(t, a.Upsert(ctx, note("x", "written on a", 0)))

	_, err = s.Open(ctx, "board-b")
	require.NoError(t, err)

	// The old engine is dead and its pending save was flushed on the way out.
	_, err = a.State(ctx)
	assert.ErrorIs(t, err, ErrClosed)

	loaded := c.Load(ctx, "board-a")
	require.Len(t, loaded, 1)
	assert.Equal(t, "written on a", loaded[0].Content)
}

func TestSessionOpenRejectsEmptyDocumentID(t *testing.T) {
	s := NewSession(Deps{}, testConfig())
	t.Cleanup(func() { s.Close() })

	_, err := s.Open(context.Background(), "")
	assert.Error(t, err)
}

func TestSessionHideAndResumeWithoutDocument(t *testing.T) {
	s := NewSession(Deps{}, testConfig())
	t.Cleanup(func() { s.Close() })

	assert.NoError(t, s.Hide(context.Background()))
	s.Resume() // must not panic with nothing open
}

func TestSessionHideFlushesOpenDocument(t *testing.T) {
	c := newTestCache(t)
	cfg := testConfig()
	cfg.SaveDebounce = time.Hour

	s := NewSession(Deps{Cache: c}, cfg)
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()
	e, err := s.Open(ctx, "board-a")
	require.NoError(t, err)
	require.NoError(t, e.Upsert(ctx, note("x", "hidden mid-edit", 0)))

	require.NoError(t, s.Hide(ctx))

	loaded := c.Load(ctx, "board-a")
	require.Len(t, loaded, 1)
	assert.Equal(t, "hidden mid-edit", loaded[0].Content)
}

// blockingStore parks every fetch until released, standing in for a slow
// network while the user has already moved on to another document.
type blockingStore struct {
	*remote.MemoryStore
	release chan struct{}
}

func (s *blockingStore) Fetch(ctx context.Context, documentID string) (board.Snapshot, error) {
	select {
	case <-s.release:
	case <-ctx.Done():
		return board.Snapshot{}, ctx.Err()
	}
	return s.MemoryStore.Fetch(ctx, documentID)
}

func TestSessionSwitchAbandonsSlowResponse(t *testing.T) {
	store := &blockingStore{
		MemoryStore: remote.NewMemoryStore(),
		release:     make(chan struct{}),
	}
	store.Seed(board.Snapshot{
		DocumentID: "board-a",
		Items:      []board.Item{note("a", "slow to arrive", 10)},
		Version:    7,
	})

	s := NewSession(Deps{Store: store}, testConfig())
	t.Cleanup(func() { s.Close() })

	ctx := context.Background()

	// Open board-a; its hydrate fetch parks on the blocked store. Switching
	// to board-b cancels it, and releasing the store afterwards must not
	// leak board-a's snapshot anywhere.
	_, err := s.Open(ctx, "board-a")
	require.NoError(t, err)

	b, err := s.Open(ctx, "board-b")
	require.NoError(t, err)
	close(store.release)

	assert.Eventually(t, func() bool {
		st, stateErr := b.State(ctx)
		return stateErr == nil && st.Status == StatusSynced
	}, waitFor, tick)

	st, err := b.State(ctx)
	require.NoError(t, err)
	assert.Empty(t, st.Items, "board-b must never see board-a's items")
	assert.Equal(t, int64(0), st.Version)
}

func TestSessionCloseIsTerminal(t *testing.T) {
	s := NewSession(Deps{}, testConfig())

	_, err := s.Open(context.Background(), "board-a")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Open(context.Background(), "board-b")
	assert.ErrorIs(t, err, ErrClosed)
	assert.Nil(t, s.Current())
}
