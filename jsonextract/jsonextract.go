// Package jsonextract pulls a JSON object out of free-form model output.
package jsonextract

import (
	"encoding/json"
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoJSON is returned when the text contains no well-formed JSON object.
var ErrNoJSON = errors.New("no JSON object found")

// Object extracts a JSON object from text. It first tries the whole trimmed
// text (after removing a Markdown code fence, if any), then the span from
// the first '{' to the last '}'.
func Object(text string) (json.RawMessage, error) {
	trimmed := stripFence(strings.TrimSpace(text))
	if isObject(trimmed) {
		return json.RawMessage(trimmed), nil
	}

	start := strings.Index(trimmed, "{")
	end := strings.LastIndex(trimmed, "}")
	if start >= 0 && end > start {
		candidate := trimmed[start : end+1]
		if isObject(candidate) {
			return json.RawMessage(candidate), nil
		}
	}
	return nil, ErrNoJSON
}

func isObject(s string) bool {
	return strings.HasPrefix(s, "{") && gjson.Valid(s) && gjson.Parse(s).IsObject()
}

func stripFence(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
