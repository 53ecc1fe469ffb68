// Package jsonx decodes JSON out of free-text model output. Models wrap
// their answers in markdown fences, preambles, and trailing prose; callers
// here never let a decode failure escape past a phase boundary — every call
// site supplies its own fallback value.
package jsonx

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON is returned when no balanced JSON object or array can be
// located in the text.
var ErrNoJSON = errors.New("no JSON value found in text")

// Decode locates the first balanced JSON object or array in the text and
// unmarshals it into out. The text may carry markdown code fences and
// surrounding prose.
func Decode(text string, out any) error {
	raw, err := Extract(text)
	if err != nil {
		return err
	}
	return json.Unmarshal([]byte(raw), out)
}

// Extract strips markdown fences and returns the first balanced JSON
// object/array substring.
func Extract(text string) (string, error) {
	cleaned := StripFences(text)

	start := strings.IndexAny(cleaned, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}

	open := cleaned[start]
	var closing byte = '}'
	if open == '[' {
		closing = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(cleaned); i++ {
		c := cleaned[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			depth++
		case c == closing:
			depth--
			if depth == 0 {
				return cleaned[start : i+1], nil
			}
		}
	}
	return "", ErrNoJSON
}

// StripFences removes a wrapping markdown code fence (``` or ```json) when
// present.
func StripFences(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	return strings.TrimSpace(cleaned)
}
