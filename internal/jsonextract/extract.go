// Package jsonextract implements the tolerant JSON extractor of
// spec.md §4.8: finds the first top-level JSON object or array inside
// arbitrary prose by bracket matching, ignoring brackets inside
// strings and honoring backslash escapes.
package jsonextract

import (
	"encoding/json"
	"errors"
)

// ErrNotFound is returned when no balanced top-level JSON value exists
// in the input; callers use this to fall back to a declared default
// and append a parse issue (spec.md §4.8).
var ErrNotFound = errors.New("no json value found")

// Find locates the first top-level JSON object or array in s, decodes
// it into v, and returns nil. It returns ErrNotFound if no balanced
// value is present, or a json.Unmarshal error if the located text is
// not valid JSON despite being bracket-balanced (e.g. a trailing
// comma) — both cases mean the stage should fall back to its declared
// default.
func Find(s string, v any) error {
	raw, ok := extract(s)
	if !ok {
		return ErrNotFound
	}
	return json.Unmarshal([]byte(raw), v)
}

// extract returns the substring of s spanning the first balanced
// top-level '{...}' or '[...]', whichever opens first.
func extract(s string) (string, bool) {
	start := -1
	var open, close byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			start, open, close = i, '{', '}'
		case '[':
			start, open, close = i, '[', ']'
		default:
			continue
		}
		if start != -1 {
			break
		}
	}
	if start == -1 {
		return "", false
	}

	depth := 0
	inString = false
	escaped = false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case close:
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
