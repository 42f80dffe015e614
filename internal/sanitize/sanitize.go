// Package sanitize bounds arbitrary caller-supplied data before it is
// admitted into an event record. Values are reduced to a strict
// string | number | bool | list | map shape; anything else is dropped and
// oversized values are truncated rather than trusted.
package sanitize

import (
	"encoding/json"
	"sort"
	"strings"
)

const (
	// MaxDepth is the deepest level of nesting metadata may carry.
	MaxDepth = 3
	// MaxKeys caps the number of keys kept per object.
	MaxKeys = 32
	// MaxItems caps the number of elements kept per list.
	MaxItems = 16
	// MaxString caps every sanitized string, in runes.
	MaxString = 256
)

// Map sanitizes a metadata object. Unsupported or over-deep values are
// dropped; strings, lists, and key sets are capped. Returns nil for an empty
// result so the field marshals away.
func Map(in map[string]any) map[string]any {
	v, ok := clean(in, 1)
	if !ok {
		return nil
	}
	m, _ := v.(map[string]any)
	if len(m) == 0 {
		return nil
	}
	return m
}

func clean(v any, depth int) (any, bool) {
	switch t := v.(type) {
	case string:
		return Truncate(t, MaxString), true
	case bool:
		return t, true
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case uint:
		return int64(t), true
	case uint32:
		return int64(t), true
	case uint64:
		return int64(t), true
	case json.Number:
		return Truncate(t.String(), MaxString), true
	case []any:
		if depth > MaxDepth {
			return nil, false
		}
		out := make([]any, 0, min(len(t), MaxItems))
		for _, item := range t {
			if len(out) == MaxItems {
				break
			}
			if c, ok := clean(item, depth+1); ok {
				out = append(out, c)
			}
		}
		return out, true
	case map[string]any:
		if depth > MaxDepth {
			return nil, false
		}
		// Sorted keys so breadth truncation is deterministic.
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, min(len(keys), MaxKeys))
		for _, k := range keys {
			if len(out) == MaxKeys {
				break
			}
			if c, ok := clean(t[k], depth+1); ok {
				out[Truncate(k, MaxString)] = c
			}
		}
		return out, true
	default:
		return nil, false
	}
}

// Truncate trims surrounding whitespace and cuts s to at most max runes.
func Truncate(s string, max int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max])
}

// Strings sanitizes a bounded list of free-text items: trim, truncate,
// drop empties, de-duplicate preserving first-seen order, cap the length.
func Strings(in []string, maxItems, maxLen int) []string {
	if len(in) == 0 {
		return nil
	}
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, min(len(in), maxItems))
	for _, s := range in {
		if len(out) == maxItems {
			break
		}
		s = Truncate(s, maxLen)
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
