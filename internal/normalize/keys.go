package normalize

import (
	"sort"
	"strings"
)

// CamelKey merges "-" and "_" separated segments into camelCase.
// A run of separators followed by a letter collapses into the upper-cased
// letter; separators before anything else are kept.
func CamelKey(key string) string {
	if !strings.ContainsAny(key, "-_") {
		return key
	}

	var b strings.Builder
	b.Grow(len(key))
	for i := 0; i < len(key); i++ {
		c := key[i]
		if !isSeparator(c) {
			b.WriteByte(c)
			continue
		}
		j := i
		for j < len(key) && isSeparator(key[j]) {
			j++
		}
		if j < len(key) && isLetter(key[j]) {
			b.WriteByte(upper(key[j]))
			i = j
			continue
		}
		b.WriteString(key[i:j])
		i = j - 1
	}
	return b.String()
}

// CamelCaseKeys rewrites every object key in a decoded JSON value.
// The input is not modified.
func CamelCaseKeys(v any) any {
	switch t := v.(type) {
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CamelCaseKeys(e)
		}
		return out
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(map[string]any, len(t))
		// Keys already in canonical form win over keys that collapse onto them.
		for _, k := range keys {
			if CamelKey(k) == k {
				out[k] = CamelCaseKeys(t[k])
			}
		}
		for _, k := range keys {
			ck := CamelKey(k)
			if ck == k {
				continue
			}
			if _, exists := out[ck]; !exists {
				out[ck] = CamelCaseKeys(t[k])
			}
		}
		return out
	default:
		return v
	}
}

func isSeparator(c byte) bool { return c == '-' || c == '_' }

func isLetter(c byte) bool { return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') }

func upper(c byte) byte {
	if 'a' <= c && c <= 'z' {
		return c - ('a' - 'A')
	}
	return c
}
