// Package extract recovers JSON values from free-form model output.
//
// Model responses are not guaranteed to be pure JSON: they may be wrapped in
// prose, fenced in markdown code blocks, or truncated. Each entry point runs
// an ordered chain of strategies and returns the first value that parses.
package extract

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Kind classifies an extraction failure.
type Kind int

const (
	// NoMatch means no JSON value could be recovered from the text.
	NoMatch Kind = iota
	// NotAnArray means a JSON value was recovered but it is not an array.
	NotAnArray
)

func (k Kind) String() string {
	switch k {
	case NoMatch:
		return "no match"
	case NotAnArray:
		return "not an array"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is returned when extraction fails. Compare with errors.Is against
// ErrNoMatch or ErrNotAnArray.
type Error struct {
	Kind Kind
}

func (e *Error) Error() string {
	return "extract: " + e.Kind.String()
}

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

var (
	ErrNoMatch    = &Error{Kind: NoMatch}
	ErrNotAnArray = &Error{Kind: NotAnArray}
)

var (
	fencedBlock = regexp.MustCompile("```(?:[A-Za-z0-9_+-]*)[ \t]*\n?([\\s\\S]*?)```")
	flatObject  = regexp.MustCompile(`\{[^{}]*\}`)
)

// JSON recovers the first JSON value found in raw. Strategies, first success
// wins: the whole text, the first fenced code block, then the first
// balanced {...} or [...] span that parses.
func JSON(raw string) (any, error) {
	if v, ok := parse(raw); ok {
		return unwrapString(v), nil
	}
	if v, ok := fenced(raw); ok {
		return v, nil
	}
	if v, ok := firstSpan(raw, "[{"); ok {
		return v, nil
	}
	return nil, &Error{Kind: NoMatch}
}

// JSONArray recovers a JSON array from raw. It uses the same strategies as
// JSON restricted to arrays, then falls back to collecting flat objects that
// appear one after another and wrapping them in an array.
//
// If the only value found is a non-array, the error kind is NotAnArray.
func JSONArray(raw string) ([]any, error) {
	if v, ok := parse(raw); ok {
		return asArray(unwrapString(v))
	}
	if v, ok := fenced(raw); ok {
		return asArray(v)
	}
	if v, ok := firstSpan(raw, "["); ok {
		return asArray(v)
	}
	if items := flatObjects(raw); len(items) > 0 {
		return items, nil
	}
	if _, ok := firstSpan(raw, "{"); ok {
		return nil, &Error{Kind: NotAnArray}
	}
	return nil, &Error{Kind: NoMatch}
}

func parse(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, false
	}
	return v, true
}

// unwrapString handles models that return JSON encoded as a JSON string.
func unwrapString(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	if inner, ok := parse(s); ok {
		switch inner.(type) {
		case map[string]any, []any:
			return inner
		}
	}
	return v
}

func fenced(raw string) (any, bool) {
	m := fencedBlock.FindStringSubmatch(raw)
	if m == nil {
		return nil, false
	}
	return parse(m[1])
}

func asArray(v any) ([]any, error) {
	arr, ok := v.([]any)
	if !ok {
		return nil, &Error{Kind: NotAnArray}
	}
	return arr, nil
}

// firstSpan tries every opening bracket in raw, in order, and returns the
// first balanced span that parses.
func firstSpan(raw, openers string) (any, bool) {
	for i := 0; i < len(raw); i++ {
		if !strings.ContainsRune(openers, rune(raw[i])) {
			continue
		}
		end := matchBracket(raw, i)
		if end < 0 {
			continue
		}
		if v, ok := parse(raw[i : end+1]); ok {
			return v, true
		}
	}
	return nil, false
}

// matchBracket returns the index of the bracket closing raw[start], or -1.
// Brackets inside JSON strings are ignored.
func matchBracket(raw string, start int) int {
	open := raw[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(raw); i++ {
		c := raw[i]
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
		case closer:
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}

// flatObjects collects every top-level brace-delimited object without
// nested braces that parses as a JSON object.
func flatObjects(raw string) []any {
	depth := braceDepths(raw)

	var items []any
	for _, loc := range flatObject.FindAllStringIndex(raw, -1) {
		if depth[loc[0]] != 0 {
			continue
		}
		v, ok := parse(raw[loc[0]:loc[1]])
		if !ok {
			continue
		}
		if obj, ok := v.(map[string]any); ok {
			items = append(items, obj)
		}
	}
	return items
}

// braceDepths reports the brace nesting depth in front of each byte of raw.
// Quotes only open strings inside braces; outside them they are prose.
func braceDepths(raw string) []int {
	depths := make([]int, len(raw))
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(raw); i++ {
		depths[i] = depth
		c := raw[i]
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
			inString = depth > 0
		case '{':
			depth++
		case '}':
			if depth > 0 {
				depth--
			}
		}
	}
	return depths
}

// Items converts recovered array elements into T, dropping elements that do
// not decode or that keep is false for. keep may be nil.
func Items[T any](values []any, keep func(T) bool) []T {
	out := make([]T, 0, len(values))
	for _, v := range values {
		data, err := json.Marshal(v)
		if err != nil {
			continue
		}
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			continue
		}
		if keep != nil && !keep(item) {
			continue
		}
		out = append(out, item)
	}
	return out
}
