package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// SplitPath breaks a slash separated path into its non-empty segments.
func SplitPath(path string) []string {
	raw := strings.Split(path, "/")
	parts := make([]string, 0, len(raw))
	for _, p := range raw {
		if p = strings.TrimSpace(p); p != "" {
			parts = append(parts, p)
		}
	}
	return parts
}

// JoinPath builds a normalized path from segments.
func JoinPath(parts ...string) string {
	var all []string
	for _, p := range parts {
		all = append(all, SplitPath(p)...)
	}
	return strings.Join(all, "/")
}

// IsAbsent reports whether raw encodes a missing node.
func IsAbsent(raw json.RawMessage) bool {
	s := strings.TrimSpace(string(raw))
	return s == "" || s == "null"
}

// normalize converts v into a generic JSON tree and prunes it.
func normalize(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	var data []byte
	switch raw := v.(type) {
	case json.RawMessage:
		data = raw
	case []byte:
		data = raw
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("store: encode value: %w", err)
		}
		data = encoded
	}
	var tree any
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("store: decode value: %w", err)
	}
	return prune(tree), nil
}

// prune removes nulls, empty objects and empty arrays recursively. The hosted
// store cannot represent them, so every driver behaves as if it could not.
func prune(v any) any {
	switch node := v.(type) {
	case map[string]any:
		for k, child := range node {
			if pruned := prune(child); pruned == nil {
				delete(node, k)
			} else {
				node[k] = pruned
			}
		}
		if len(node) == 0 {
			return nil
		}
		return node
	case []any:
		out := node[:0]
		for _, child := range node {
			if pruned := prune(child); pruned != nil {
				out = append(out, pruned)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return v
	}
}

// lookup returns the subtree at parts, or nil.
func lookup(root any, parts []string) any {
	node := root
	for _, p := range parts {
		obj, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node, ok = obj[p]
		if !ok {
			return nil
		}
	}
	return node
}

// assign places value at parts inside root and returns the new root. A nil
// value removes the node and any ancestors left empty.
func assign(root any, parts []string, value any) any {
	if len(parts) == 0 {
		return prune(value)
	}
	obj, ok := root.(map[string]any)
	if !ok {
		if value == nil {
			return root
		}
		obj = map[string]any{}
	}
	head := parts[0]
	child := assign(obj[head], parts[1:], value)
	if child == nil {
		delete(obj, head)
	} else {
		obj[head] = child
	}
	if len(obj) == 0 {
		return nil
	}
	return obj
}

// overlaps reports whether a change at one path can affect the other: one is
// an ancestor of, or equal to, the other.
func overlaps(a, b []string) bool {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func encode(v any) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("store: encode node: %w", err)
	}
	return data, nil
}

func sortedKeys(v any) []string {
	obj, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
