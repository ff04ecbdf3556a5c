package filter

import (
	"fmt"
	"strings"
)

// stringField returns a trimmed string value for key, or "" when the key is
// missing or not a scalar.
func stringField(f map[string]any, key string) string {
	switch v := f[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case fmt.Stringer:
		return strings.TrimSpace(v.String())
	default:
		return ""
	}
}

// boolField accepts JSON booleans and the strings "true"/"1" (query-string
// style clients send those).
func boolField(f map[string]any, key string) bool {
	switch v := f[key].(type) {
	case bool:
		return v
	case string:
		s := strings.ToLower(strings.TrimSpace(v))
		return s == "true" || s == "1" || s == "yes"
	default:
		return false
	}
}

// stringListField accepts an array of strings or a comma-separated string.
// Returns nil when the key is absent or holds nothing usable.
func stringListField(f map[string]any, key string) []string {
	var raw []string
	switch v := f[key].(type) {
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	default:
		return nil
	}

	var out []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s)
		}
	}
	return out
}

func containsFold(haystack, needle string) bool {
	if haystack == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), needle)
}
