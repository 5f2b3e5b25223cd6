package board

import (
	"encoding/json"
	"strconv"
)

// MaxParseItems is the hard ceiling on how many raw entries the sanitizer
// will even look at. Input beyond this is discarded before validation.
const MaxParseItems = 800

// ParseItems sanitizes arbitrary structured input into a usable item list.
// It is the trust boundary for data arriving from the local cache or the
// remote store: entries missing a string id or carrying an unknown kind are
// dropped, numeric fields are coerced with missing x/y defaulting to 0, and
// malformed input of any shape yields an empty or partial list. It never
// fails.
//
// Every other package in this module assumes its []Item inputs have already
// passed through this function.
func ParseItems(data []byte) []Item {
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return []Item{}
	}

	if len(raw) > MaxParseItems {
		raw = raw[:MaxParseItems]
	}

	items := make([]Item, 0, len(raw))
	for _, entry := range raw {
		if entry == nil {
			continue
		}

		id, ok := entry["id"].(string)
		if !ok || id == "" {
			continue
		}

		kindStr, ok := entry["kind"].(string)
		if !ok {
			continue
		}
		kind := Kind(kindStr)
		if err := kind.Validate(); err != nil {
			continue
		}

		item := Item{
			ID:        id,
			Kind:      kind,
			X:         coerceFloat(entry["x"]),
			Y:         coerceFloat(entry["y"]),
			Content:   coerceString(entry["content"]),
			Color:     coerceString(entry["color"]),
			Rotation:  coerceFloat(entry["rotation"]),
			Author:    coerceString(entry["author"]),
			UpdatedAt: int64(coerceFloat(entry["updated_at"])),
			Deleted:   coerceBool(entry["deleted"]),
		}
		items = append(items, item)
	}

	return items
}

// coerceFloat converts JSON scalar values to float64, defaulting to 0.
func coerceFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0
		}
		return f
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0
		}
		return f
	default:
		return 0
	}
}

func coerceString(v any) string {
	s, _ := v.(string)
	return s
}

func coerceBool(v any) bool {
	b, _ := v.(bool)
	return b
}
