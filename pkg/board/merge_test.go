package board

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func item(id string, updatedAt int64) Item {
	return Item{ID: id, Kind: KindNote, Content: "content-" + id, UpdatedAt: updatedAt}
}

func TestMerge(t *testing.T) {
	t.Run("disjoint sets union unchanged", func(t *testing.T) {
		remote := []Item{item("r1", 5), item("r2", 7)}
		local := []Item{item("l1", 3), item("l2", 9)}

		merged := Merge(remote, local)

		require.Len(t, merged, 4)
		byID := indexByID(merged)
		assert.Equal(t, remote[0], byID["r1"])
		assert.Equal(t, remote[1], byID["r2"])
		assert.Equal(t, local[0], byID["l1"])
		assert.Equal(t, local[1], byID["l2"])
	})

	t.Run("newer side wins including deleted flag", func(t *testing.T) {
		// Session A soft-deletes at t=10, session B edits at t=12 without
		// having seen the delete. The edit resurrects the item.
		deleted := item("x", 10)
		deleted.Deleted = true
		edited := item("x", 12)
		edited.Content = "edited later"

		merged := Merge([]Item{deleted}, []Item{edited})
		require.Len(t, merged, 1)
		assert.False(t, merged[0].Deleted)
		assert.Equal(t, "edited later", merged[0].Content)

		// Flip the sides: the delete is newer, so the tombstone wins.
		deleted.UpdatedAt = 15
		merged = Merge([]Item{edited}, []Item{deleted})
		require.Len(t, merged, 1)
		assert.True(t, merged[0].Deleted)
	})

	t.Run("remote wins ties", func(t *testing.T) {
		remote := item("x", 10)
		remote.Content = "remote"
		local := item("x", 10)
		local.Content = "local"

		merged := Merge([]Item{remote}, []Item{local})
		require.Len(t, merged, 1)
		assert.Equal(t, "remote", merged[0].Content)
	})

	t.Run("older remote does not clobber newer local", func(t *testing.T) {
		remote := item("x", 5)
		local := item("x", 20)
		local.Content = "newer local"

		merged := Merge([]Item{remote}, []Item{local})
		require.Len(t, merged, 1)
		assert.Equal(t, "newer local", merged[0].Content)
	})

	t.Run("re-merge is idempotent", func(t *testing.T) {
		a := []Item{item("1", 4), item("2", 9), item("3", 1)}
		b := []Item{item("2", 11), item("4", 6)}

		once := Merge(a, b)
		twice := Merge(a, once)
		assert.True(t, EqualLoose(once, twice))
	})

	t.Run("two offline sessions converge on union", func(t *testing.T) {
		// Each session created a distinct note while offline. Whichever
		// reconnects first merges, the other merges its result: both notes
		// survive either way.
		sessionA := []Item{item("note-a", 100)}
		sessionB := []Item{item("note-b", 101)}

		afterA := Merge(sessionA, sessionB)
		afterB := Merge(afterA, sessionB)
		require.Len(t, afterB, 2)
		byID := indexByID(afterB)
		assert.Contains(t, byID, "note-a")
		assert.Contains(t, byID, "note-b")
	})
}

func TestPrune(t *testing.T) {
	t.Run("under cap unchanged", func(t *testing.T) {
		items := []Item{item("a", 1), item("b", 2)}
		assert.Equal(t, items, Prune(items))
	})

	t.Run("at cap unchanged", func(t *testing.T) {
		items := makeItems(MaxItems)
		assert.Len(t, Prune(items), MaxItems)
		assert.Equal(t, items, Prune(items))
	})

	t.Run("over cap keeps most recently touched", func(t *testing.T) {
		// 900 items accumulate over a long session; the prune keeps exactly
		// the 500 with the highest timestamps.
		items := makeItems(900)

		pruned := Prune(items)
		require.Len(t, pruned, MaxItems)
		for _, it := range pruned {
			// makeItems assigns UpdatedAt == index+1, so the survivors are
			// exactly those above 900-500.
			assert.Greater(t, it.UpdatedAt, int64(900-MaxItems))
		}
	})

	t.Run("tombstones count against the cap", func(t *testing.T) {
		items := makeItems(MaxItems + 1)
		items[len(items)-1].Deleted = true

		pruned := Prune(items)
		require.Len(t, pruned, MaxItems)
		byID := indexByID(pruned)
		// The newest item survives even though it is a tombstone.
		assert.Contains(t, byID, items[len(items)-1].ID)
		// The oldest is the one dropped.
		assert.NotContains(t, byID, items[0].ID)
	})

	t.Run("does not mutate input", func(t *testing.T) {
		items := makeItems(MaxItems + 10)
		first := items[0]
		Prune(items)
		assert.Equal(t, first, items[0])
	})
}

func TestEqualLoose(t *testing.T) {
	a := []Item{item("1", 1), item("2", 2)}
	b := []Item{item("2", 2), item("1", 1)}

	assert.True(t, EqualLoose(a, b))
	assert.True(t, EqualLoose(nil, nil))
	assert.False(t, EqualLoose(a, a[:1]))

	changed := []Item{item("1", 1), item("2", 3)}
	assert.False(t, EqualLoose(a, changed))
}

func TestClock(t *testing.T) {
	t.Run("monotonic under a frozen wall clock", func(t *testing.T) {
		clock := NewClockFunc(func() int64 { return 1000 })

		first := clock.Now()
		second := clock.Now()
		assert.Equal(t, int64(1000), first)
		assert.Equal(t, int64(1001), second)
	})

	t.Run("follows an advancing wall clock", func(t *testing.T) {
		now := int64(1000)
		clock := NewClockFunc(func() int64 { return now })

		assert.Equal(t, int64(1000), clock.Now())
		now = 2000
		assert.Equal(t, int64(2000), clock.Now())
	})
}

func indexByID(items []Item) map[string]Item {
	byID := make(map[string]Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}
	return byID
}

func makeItems(n int) []Item {
	items := make([]Item, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, item(fmt.Sprintf("item-%04d", i), int64(i+1)))
	}
	return items
}
