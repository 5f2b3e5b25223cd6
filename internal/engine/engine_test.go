package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nwhit/corkboard/internal/broadcast"
	"github.com/nwhit/corkboard/internal/cache"
	"github.com/nwhit/corkboard/internal/remote"
	"github.com/nwhit/corkboard/pkg/board"
)

const (
	waitFor = 3 * time.Second
	tick    = 5 * time.Millisecond
)

// testConfig returns timings small enough that debounces and polls settle
// quickly, with polling effectively disabled unless a test opts in.
func testConfig() Config {
	return Config{
		SaveDebounce: 5 * time.Millisecond,
		PushDebounce: 10 * time.Millisecond,
		PollInterval: time.Hour,
	}
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	db, err := cache.Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return cache.New(db, nil)
}

func startEngine(t *testing.T, documentID string, deps Deps, cfg Config) *Engine {
	t.Helper()
	e := New(documentID, 0, deps, cfg)
	require.NoError(t, e.Start(context.Background()))
	t.Cleanup(func() { e.Close() })
	return e
}

func engineState(t *testing.T, e *Engine) State {
	t.Helper()
	st, err := e.State(context.Background())
	require.NoError(t, err)
	return st
}

func note(id, content string, updatedAt int64) board.Item {
	return board.Item{ID: id, Kind: board.KindNote, Content: content, UpdatedAt: updatedAt}
}

func TestEngineOfflineWithoutStore(t *testing.T) {
	c := newTestCache(t)
	e := startEngine(t, "board-1", Deps{Cache: c}, testConfig())

	st := engineState(t, e)
	assert.Equal(t, StatusOffline, st.Status)

	require.NoError(t, e.Upsert(context.Background(), note("a", "offline note", 0)))
	require.NoError(t, e.Close())

	// A later session on the same cache sees the edit.
	again := startEngine(t, "board-1", Deps{Cache: c}, testConfig())
	st = engineState(t, again)
	require.Len(t, st.Items, 1)
	assert.Equal(t, "offline note", st.Items[0].Content)
	assert.Equal(t, StatusOffline, st.Status)
}

func TestEngineHydrateMergesAndPushesBack(t *testing.T) {
	// An edit made offline must reach the remote on the next open: hydrate
	// merges cache and remote, sees the divergence, and pushes straight back.
	store := remote.NewMemoryStore()
	store.Seed(board.Snapshot{
		DocumentID: "board-1",
		Items:      []board.Item{note("remote-note", "from the server", 100)},
		Version:    1,
	})

	c := newTestCache(t)
	c.Save(context.Background(), "board-1", []board.Item{note("local-note", "made offline", 200)})

	e := startEngine(t, "board-1", Deps{Cache: c, Store: store}, testConfig())

	assert.Eventually(t, func() bool {
		snap, err := store.Fetch(context.Background(), "board-1")
		return err == nil && snap.Version == 2 && len(snap.Items) == 2
	}, waitFor, tick, "merged result should be written back at the fetched base version")

	st := engineState(t, e)
	assert.Equal(t, StatusSynced, st.Status)
	assert.Equal(t, int64(2), st.Version)
	assert.Len(t, st.Items, 2)
}

func TestEngineHydrateCleanSkipsWriteBack(t *testing.T) {
	store := remote.NewMemoryStore()
	store.Seed(board.Snapshot{
		DocumentID: "board-1",
		Items:      []board.Item{note("a", "server", 100)},
		Version:    1,
	})

	e := startEngine(t, "board-1", Deps{Store: store}, testConfig())

	assert.Eventually(t, func() bool {
		return engineState(t, e).Status == StatusSynced
	}, waitFor, tick)
	assert.Equal(t, 0, store.WriteCalls(), "no divergence, no round-trip")
}

func TestEngineHydrateFetchFailureKeepsLocalState(t *testing.T) {
	store := remote.NewMemoryStore()
	store.SetFailFetches(true)

	c := newTestCache(t)
	c.Save(context.Background(), "board-1", []board.Item{note("a", "cached", 10)})

	e := startEngine(t, "board-1", Deps{Cache: c, Store: store}, testConfig())

	st := engineState(t, e)
	assert.Equal(t, StatusOffline, st.Status)
	require.Len(t, st.Items, 1)
	assert.Equal(t, "cached", st.Items[0].Content)
}

func TestEngineCoalescesMutationsIntoOnePush(t *testing.T) {
	// Three rapid mutations, one request: the push debounce coalesces them
	// and the payload carries the latest state of all three.
	store := remote.NewMemoryStore()
	e := startEngine(t, "board-1", Deps{Store: store}, testConfig())

	ctx := context.Background()
	require.NoError(t, e.Upsert(ctx, note("a", "one", 0)))
	require.NoError(t, e.Upsert(ctx, note("b", "two", 0)))
	require.NoError(t, e.Upsert(ctx, note("c", "three", 0)))

	assert.Eventually(t, func() bool {
		snap, err := store.Fetch(ctx, "board-1")
		return err == nil && snap.Version == 1 && len(snap.Items) == 3
	}, waitFor, tick)

	assert.Equal(t, 1, store.WriteCalls(), "mutations must coalesce into a single push")
}

func TestEngineConflictMergeRetry(t *testing.T) {
	// Push against a stale base version: rejected, merged with the remote's
	// current state, retried exactly once at the remote's version.
	store := remote.NewMemoryStore()
	store.Seed(board.Snapshot{
		DocumentID: "board-1",
		Items:      []board.Item{note("x", "original", 100)},
		Version:    1,
	})

	e := startEngine(t, "board-1", Deps{Store: store}, testConfig())
	assert.Eventually(t, func() bool {
		return engineState(t, e).Version == 1
	}, waitFor, tick)

	// A concurrent session writes version 2 behind this engine's back.
	ctx := context.Background()
	_, err := store.Write(ctx, "board-1", remote.WriteRequest{
		Items:       []board.Item{note("x", "original", 100), note("y", "from sibling", 150)},
		BaseVersion: 1,
	})
	require.NoError(t, err)

	require.NoError(t, e.Upsert(ctx, note("z", "local edit", 0)))

	assert.Eventually(t, func() bool {
		snap, fetchErr := store.Fetch(ctx, "board-1")
		return fetchErr == nil && snap.Version == 3 && len(snap.Items) == 3
	}, waitFor, tick, "retry must land at the remote's version")

	st := engineState(t, e)
	assert.Equal(t, int64(3), st.Version)
	assert.Equal(t, StatusSynced, st.Status)
	assert.Len(t, st.Items, 3)
}

// alwaysConflictStore rejects every write with an ever-advancing version,
// simulating a document under constant contention.
type alwaysConflictStore struct {
	*remote.MemoryStore
	version int64
}

func (s *alwaysConflictStore) Write(ctx context.Context, documentID string, req remote.WriteRequest) (board.Snapshot, error) {
	s.version++
	return board.Snapshot{}, &remote.ConflictError{Current: board.Snapshot{
		DocumentID: documentID,
		Items:      []board.Item{},
		Version:    s.version,
	}}
}

func TestEngineSecondConflictGoesOffline(t *testing.T) {
	store := &alwaysConflictStore{MemoryStore: remote.NewMemoryStore()}
	e := startEngine(t, "board-1", Deps{Store: store}, testConfig())

	require.NoError(t, e.Upsert(context.Background(), note("a", "doomed push", 0)))

	assert.Eventually(t, func() bool {
		return engineState(t, e).Status == StatusOffline
	}, waitFor, tick, "one retry only, then offline, no conflict loop")

	// Local state is kept for a later reconnect.
	st := engineState(t, e)
	require.Len(t, st.Items, 1)
	assert.Equal(t, "doomed push", st.Items[0].Content)
}

func TestEngineTransportFailureGoesOfflineAndResumeRecovers(t *testing.T) {
	store := remote.NewMemoryStore()
	store.SetFailWrites(true)
	e := startEngine(t, "board-1", Deps{Store: store}, testConfig())

	require.NoError(t, e.Upsert(context.Background(), note("a", "written offline", 0)))

	assert.Eventually(t, func() bool {
		return engineState(t, e).Status == StatusOffline
	}, waitFor, tick)

	// Connectivity returns; Resume must proactively flush rather than wait
	// for another mutation or poll tick.
	store.SetFailWrites(false)
	e.Resume()

	assert.Eventually(t, func() bool {
		snap, err := store.Fetch(context.Background(), "board-1")
		return err == nil && snap.Version == 1 && len(snap.Items) == 1
	}, waitFor, tick)
	assert.Eventually(t, func() bool {
		return engineState(t, e).Status == StatusSynced
	}, waitFor, tick)
}

func TestEnginePeriodicPullAdoptsNewerVersion(t *testing.T) {
	store := remote.NewMemoryStore()
	cfg := testConfig()
	cfg.PollInterval = 20 * time.Millisecond
	e := startEngine(t, "board-1", Deps{Store: store}, cfg)

	// A sibling writes after this engine hydrated.
	_, err := store.Write(context.Background(), "board-1", remote.WriteRequest{
		Items:       []board.Item{note("a", "from sibling", 50)},
		BaseVersion: 0,
	})
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		st := engineState(t, e)
		return st.Version == 1 && len(st.Items) == 1
	}, waitFor, tick)

	// The pull adopted; it must not have pushed as a side effect.
	assert.Equal(t, 1, store.WriteCalls())
}

func TestEngineBroadcastAdoptionSkipsFetch(t *testing.T) {
	store := remote.NewMemoryStore()
	bus := broadcast.NewMemoryBus()
	cfg := testConfig()

	a := startEngine(t, "board-1", Deps{Store: store, Bus: bus}, cfg)
	b := startEngine(t, "board-1", Deps{Store: store, Bus: bus}, cfg)

	assert.Eventually(t, func() bool {
		return engineState(t, a).Status == StatusSynced &&
			engineState(t, b).Status == StatusSynced
	}, waitFor, tick)
	fetchesBeforePush := store.FetchCalls()

	require.NoError(t, a.Upsert(context.Background(), note("a", "hello sibling", 0)))

	assert.Eventually(t, func() bool {
		st := engineState(t, b)
		return st.Version == 1 && len(st.Items) == 1
	}, waitFor, tick, "sibling should adopt the broadcast version")

	assert.Equal(t, fetchesBeforePush, store.FetchCalls(),
		"broadcast adoption must not trigger an extra fetch")
}

func TestEngineIgnoresStaleBroadcast(t *testing.T) {
	store := remote.NewMemoryStore()
	store.Seed(board.Snapshot{
		DocumentID: "board-1",
		Items:      []board.Item{note("a", "current", 100)},
		Version:    5,
	})
	bus := broadcast.NewMemoryBus()

	e := startEngine(t, "board-1", Deps{Store: store, Bus: bus}, testConfig())
	assert.Eventually(t, func() bool {
		return engineState(t, e).Version == 5
	}, waitFor, tick)

	// A stale sibling announces an older version with different content.
	require.NoError(t, bus.Publish(context.Background(), broadcast.Announcement{
		DocumentID: "board-1",
		Version:    4,
		Items:      []board.Item{note("a", "stale", 999)},
	}))

	time.Sleep(50 * time.Millisecond)
	st := engineState(t, e)
	assert.Equal(t, int64(5), st.Version)
	require.Len(t, st.Items, 1)
	assert.Equal(t, "current", st.Items[0].Content)
}

func TestEngineTombstoneResurrectedByLaterEdit(t *testing.T) {
	// Session A deleted note x at t=10; this session's remote has an edit at
	// t=12 that never saw the delete. The later edit wins: x lives.
	store := remote.NewMemoryStore()
	edited := note("x", "edited at twelve", 12)
	store.Seed(board.Snapshot{DocumentID: "board-1", Items: []board.Item{edited}, Version: 2})

	c := newTestCache(t)
	tombstone := note("x", "deleted at ten", 10)
	tombstone.Deleted = true
	c.Save(context.Background(), "board-1", []board.Item{tombstone})

	e := startEngine(t, "board-1", Deps{Cache: c, Store: store}, testConfig())

	assert.Eventually(t, func() bool {
		st := engineState(t, e)
		return len(st.Items) == 1 && !st.Items[0].Deleted && st.Items[0].Content == "edited at twelve"
	}, waitFor, tick)
}

func TestEngineDeleteIsSoft(t *testing.T) {
	store := remote.NewMemoryStore()
	e := startEngine(t, "board-1", Deps{Store: store}, testConfig())

	ctx := context.Background()
	require.NoError(t, e.Upsert(ctx, note("a", "to be deleted", 0)))
	require.NoError(t, e.Delete(ctx, "a"))

	assert.Eventually(t, func() bool {
		snap, err := store.Fetch(ctx, "board-1")
		return err == nil && len(snap.Items) == 1 && snap.Items[0].Deleted
	}, waitFor, tick, "the tombstone must be pushed, not dropped")

	st := engineState(t, e)
	require.Len(t, st.Items, 1)
	assert.True(t, st.Items[0].Deleted)
}

func TestEngineFlushWritesPendingSave(t *testing.T) {
	c := newTestCache(t)
	cfg := testConfig()
	cfg.SaveDebounce = time.Hour // the debounce alone would never fire

	e := startEngine(t, "board-1", Deps{Cache: c}, cfg)

	ctx := context.Background()
	require.NoError(t, e.Upsert(ctx, note("a", "must survive hide", 0)))
	require.NoError(t, e.Flush(ctx))

	loaded := c.Load(ctx, "board-1")
	require.Len(t, loaded, 1)
	assert.Equal(t, "must survive hide", loaded[0].Content)
}

func TestEngineCloseFlushesCache(t *testing.T) {
	c := newTestCache(t)
	cfg := testConfig()
	cfg.SaveDebounce = time.Hour

	e := startEngine(t, "board-1", Deps{Cache: c}, cfg)

	ctx := context.Background()
	require.NoError(t, e.Upsert(ctx, note("a", "teardown flush", 0)))
	require.NoError(t, e.Close())

	loaded := c.Load(ctx, "board-1")
	require.Len(t, loaded, 1)
	assert.Equal(t, "teardown flush", loaded[0].Content)
}

func TestEngineMethodsAfterClose(t *testing.T) {
	e := startEngine(t, "board-1", Deps{}, testConfig())
	require.NoError(t, e.Close())

	ctx := context.Background()
	assert.ErrorIs(t, e.Upsert(ctx, note("a", "too late", 0)), ErrClosed)
	assert.ErrorIs(t, e.Delete(ctx, "a"), ErrClosed)
	_, err := e.State(ctx)
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, e.Flush(ctx), ErrClosed)
}

func TestEnginePrunesAfterMutation(t *testing.T) {
	e := startEngine(t, "board-1", Deps{}, testConfig())

	ctx := context.Background()
	for i := 0; i < board.MaxItems+20; i++ {
		require.NoError(t, e.Upsert(ctx, note(noteID(i), "bulk", 0)))
	}

	assert.Eventually(t, func() bool {
		return len(engineState(t, e).Items) == board.MaxItems
	}, waitFor, tick)

	// The logical clock makes later upserts strictly newer, so the earliest
	// notes are the ones pruned.
	st := engineState(t, e)
	ids := make(map[string]bool, len(st.Items))
	for _, it := range st.Items {
		ids[it.ID] = true
	}
	assert.False(t, ids[noteID(0)])
	assert.True(t, ids[noteID(board.MaxItems+19)])
}

func noteID(i int) string {
	return fmt.Sprintf("note-%04d", i)
}
