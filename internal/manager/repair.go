package manager

import (
	"encoding/json"

	"modelhost/internal/errs"
)

// ExtractJSON returns the first valid JSON object or array embedded in s.
// Markdown fences and surrounding prose are skipped, and trailing commas
// before a closing bracket are dropped.
func ExtractJSON(s string) (string, error) {
	for i := 0; i < len(s); i++ {
		if s[i] != '{' && s[i] != '[' {
			continue
		}
		end, ok := balancedEnd(s, i)
		if !ok {
			continue
		}
		cand := s[i:end]
		if json.Valid([]byte(cand)) {
			return cand, nil
		}
		if fixed := dropTrailingCommas(cand); json.Valid([]byte(fixed)) {
			return fixed, nil
		}
	}
	return "", errs.New(errs.InvalidResponse, "response contains no valid JSON document")
}

// balancedEnd returns the index just past the bracket closing s[start].
func balancedEnd(s string, start int) (int, bool) {
	var stack []byte
	inStr, esc := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			continue
		}
		switch c {
		case '"':
			inStr = true
		case '{':
			stack = append(stack, '}')
		case '[':
			stack = append(stack, ']')
		case '}', ']':
			if len(stack) == 0 || stack[len(stack)-1] != c {
				return 0, false
			}
			stack = stack[:len(stack)-1]
			if len(stack) == 0 {
				return i + 1, true
			}
		}
	}
	return 0, false
}

func dropTrailingCommas(s string) string {
	out := make([]byte, 0, len(s))
	inStr, esc := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inStr {
			switch {
			case esc:
				esc = false
			case c == '\\':
				esc = true
			case c == '"':
				inStr = false
			}
			out = append(out, c)
			continue
		}
		if c == '"' {
			inStr = true
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && (s[j] == ' ' || s[j] == '\n' || s[j] == '\r' || s[j] == '\t') {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		out = append(out, c)
	}
	return string(out)
}
