package board

import "sort"

// MaxItems is the soft capacity cap on a document's item set, live items and
// tombstones counted together. Enforced by Prune after every local mutation
// and every merge.
const MaxItems = 500

// Merge deterministically combines two item sets keyed by id. For items
// present on both sides the later UpdatedAt wins, with the remote side
// winning ties. The deleted flag is an ordinary field subject to the same
// comparison: a later edit un-deletes, a later delete removes, regardless of
// which side performed which operation.
//
// Callers must be consistent about which argument is "remote": ties favor the
// first argument, so Merge is not associative in general. Re-merging the same
// snapshot is a no-op (Merge(X, Merge(X, Y)) == Merge(X, Y)).
func Merge(remote, local []Item) []Item {
	byID := make(map[string]Item, len(local)+len(remote))
	order := make([]string, 0, len(local)+len(remote))

	for _, it := range local {
		if _, seen := byID[it.ID]; !seen {
			order = append(order, it.ID)
		}
		byID[it.ID] = it
	}

	for _, it := range remote {
		existing, seen := byID[it.ID]
		if !seen {
			order = append(order, it.ID)
			byID[it.ID] = it
			continue
		}
		if it.UpdatedAt >= existing.UpdatedAt {
			byID[it.ID] = it
		}
	}

	merged := make([]Item, 0, len(order))
	for _, id := range order {
		merged = append(merged, byID[id])
	}
	return merged
}

// Prune enforces the MaxItems capacity cap. Sets at or under the cap are
// returned unchanged. Larger sets keep the MaxItems most recently touched
// items, live or tombstoned; the least recently touched are silently dropped.
func Prune(items []Item) []Item {
	if len(items) <= MaxItems {
		return items
	}

	pruned := make([]Item, len(items))
	copy(pruned, items)
	sort.Slice(pruned, func(i, j int) bool {
		if pruned[i].UpdatedAt != pruned[j].UpdatedAt {
			return pruned[i].UpdatedAt > pruned[j].UpdatedAt
		}
		return pruned[i].ID < pruned[j].ID
	})
	return pruned[:MaxItems]
}

// EqualLoose reports order-independent structural equality of two item sets.
// Used to skip an unnecessary write-back after hydration when the merged
// result is already identical to the remote snapshot.
func EqualLoose(a, b []Item) bool {
	if len(a) != len(b) {
		return false
	}

	byID := make(map[string]Item, len(a))
	for _, it := range a {
		byID[it.ID] = it
	}
	for _, it := range b {
		other, ok := byID[it.ID]
		if !ok || other != it {
			return false
		}
	}
	return true
}
