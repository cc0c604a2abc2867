package peer

import "strings"

// Response is a controller response after validation and unwrapping.
type Response map[string]any

// Auth returns the auth block, nil if absent.
func (r Response) Auth() map[string]any {
	m, _ := r["auth"].(map[string]any)
	return m
}

// Data returns the data block, nil if absent.
func (r Response) Data() map[string]any {
	m, _ := r["data"].(map[string]any)
	return m
}

// splitPath splits nested key paths such as "auth:token" or "auth.token".
func splitPath(path string) []string {
	return strings.FieldsFunc(path, func(r rune) bool { return r == ':' || r == '.' })
}

func traverse(m map[string]any, path string) (any, bool) {
	var cur any = m
	for _, key := range splitPath(path) {
		node, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		if cur, ok = node[key]; !ok {
			return nil, false
		}
	}
	return cur, true
}

func setPath(m map[string]any, path string, val any) {
	keys := splitPath(path)
	if len(keys) == 0 {
		return
	}
	node := m
	for _, key := range keys[:len(keys)-1] {
		next, ok := node[key].(map[string]any)
		if !ok {
			next = map[string]any{}
			node[key] = next
		}
		node = next
	}
	node[keys[len(keys)-1]] = val
}

func truthy(v any) bool {
	switch val := v.(type) {
	case nil:
		return false
	case bool:
		return val
	case string:
		return val != ""
	case float64:
		return val != 0
	case int:
		return val != 0
	case map[string]any:
		return len(val) > 0
	case []any:
		return len(val) > 0
	default:
		return true
	}
}
