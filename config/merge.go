package config

import (
	"github.com/mohae/deepcopy"
)

// Merge deep-merges override onto base and returns the result. Neither input
// is modified. Mappings merge recursively, every other value (lists
// included) replaces the base value wholesale.
func Merge(base, override map[string]any) map[string]any {
	out := Copy(base)
	mergeInto(out, Copy(override))
	return out
}

func mergeInto(dst, src map[string]any) {
	for key, srcVal := range src {
		srcMap, srcIsMap := asMap(srcVal)
		dstMap, dstIsMap := asMap(dst[key])
		if srcIsMap && dstIsMap {
			mergeInto(dstMap, srcMap)
			dst[key] = dstMap
			continue
		}
		if srcIsMap {
			dst[key] = srcMap
			continue
		}
		dst[key] = srcVal
	}
}

// Copy returns a deep copy of a configuration tree. Nested
// map[any]any values produced by some YAML decoders are normalized to
// map[string]any.
func Copy(tree map[string]any) map[string]any {
	if tree == nil {
		return map[string]any{}
	}
	copied, _ := deepcopy.Copy(tree).(map[string]any)
	return normalize(copied)
}

func normalize(tree map[string]any) map[string]any {
	for k, v := range tree {
		if m, ok := asMap(v); ok {
			tree[k] = normalize(m)
		}
	}
	return tree
}

// AsMap returns v as a string-keyed mapping. YAML mappings with string
// keys are converted.
func AsMap(v any) (map[string]any, bool) {
	return asMap(v)
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, val := range m {
			ks, ok := k.(string)
			if !ok {
				return nil, false
			}
			out[ks] = val
		}
		return out, true
	default:
		return nil, false
	}
}

// section returns the mapping stored under key, creating it when absent.
func section(tree map[string]any, key string) map[string]any {
	if m, ok := asMap(tree[key]); ok {
		tree[key] = m
		return m
	}
	m := map[string]any{}
	tree[key] = m
	return m
}

// Lookup returns the value at a path of nested mapping keys.
func Lookup(tree map[string]any, path ...string) (any, bool) {
	var cur any = tree
	for _, p := range path {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[p]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}
