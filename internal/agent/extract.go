package agent

import (
	"encoding/json"
	"strings"
)

// ExtractJSON finds the first well-formed JSON object or array in free
// text. Model output is adversarial-shaped input: the payload may be
// fenced in a code block, embedded in prose, or absent entirely. A false
// return means "no actionable output", never an error.
func ExtractJSON(text string) (json.RawMessage, bool) {
	// Prefer a fenced block when present; models that fence usually put
	// the whole payload there.
	if fenced := extractFenced(text); fenced != "" {
		if candidate := scanBalanced(fenced); candidate != "" && json.Valid([]byte(candidate)) {
			return json.RawMessage(candidate), true
		}
	}

	candidate := scanBalanced(text)
	if candidate == "" || !json.Valid([]byte(candidate)) {
		return nil, false
	}
	return json.RawMessage(candidate), true
}

// extractFenced returns the body of the first ``` code fence, if any.
func extractFenced(text string) string {
	start := strings.Index(text, "```")
	if start == -1 {
		return ""
	}
	body := text[start+3:]
	// Skip a language tag on the fence line.
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		body = body[nl+1:]
	}
	end := strings.Index(body, "```")
	if end == -1 {
		return body
	}
	return body[:end]
}

// scanBalanced returns the first balanced {...} or [...] substring,
// tracking string literals and escapes so braces inside strings do not
// miscount depth.
func scanBalanced(text string) string {
	start := strings.IndexByte(text, '{')
	if alt := strings.IndexByte(text, '['); start == -1 || (alt != -1 && alt < start) {
		start = alt
	}
	if start == -1 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false

	for i := start; i < len(text); i++ {
		ch := text[i]

		if escaped {
			escaped = false
			continue
		}
		if ch == '\\' {
			escaped = true
			continue
		}
		if ch == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}

		switch ch {
		case '{', '[':
			depth++
		case '}', ']':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
