// Package normalize turns free-form model output into canonical JSON values.
package normalize

import (
	"encoding/json"
	"regexp"
	"strings"
)

// scriptBeforeQuiz matches a stray "]" emitted directly after the script
// string and before the quiz key. The script value must be a single JSON
// string so the match cannot run across other fields.
var scriptBeforeQuiz = regexp.MustCompile(`("script"\s*:\s*"(?:[^"\\]|\\.)*"\s*)\],(\s*"quiz"\s*:)`)

// Sanitize cuts the JSON payload out of a model response and applies the
// one known structural repair. Input without any brace or bracket is
// returned unchanged so that parsing fails downstream.
func Sanitize(raw string) string {
	start := earliest(strings.IndexByte(raw, '{'), strings.IndexByte(raw, '['))
	if start < 0 {
		return raw
	}
	end := max(strings.LastIndexByte(raw, '}'), strings.LastIndexByte(raw, ']'))
	if end < start {
		return raw
	}

	out := strings.TrimSpace(raw[start : end+1])
	return repairScriptBeforeQuiz(out)
}

func repairScriptBeforeQuiz(s string) string {
	if json.Valid([]byte(s)) {
		return s
	}
	m := scriptBeforeQuiz.FindStringSubmatchIndex(s)
	if m == nil {
		return s
	}
	return s[:m[0]] + s[m[2]:m[3]] + "," + s[m[4]:m[5]] + s[m[1]:]
}

func earliest(a, b int) int {
	switch {
	case a < 0:
		return b
	case b < 0:
		return a
	default:
		return min(a, b)
	}
}
