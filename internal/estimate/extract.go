package estimate

import (
	"strings"

	"github.com/tidwall/gjson"
)

const codeFence = "```"

// extractJSONObject pulls the JSON object out of model output that may wrap
// it in a markdown fence or surrounding prose. Braces inside strings are
// ignored while matching, and a balanced span that is not valid JSON (such as
// "{approx}" in prose) is skipped in favour of the next opening brace.
func extractJSONObject(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if block, ok := fencedBlock(raw); ok {
		raw = block
	}
	for offset := 0; offset < len(raw); {
		idx := strings.Index(raw[offset:], "{")
		if idx == -1 {
			return "", false
		}
		start := offset + idx
		candidate, ok := balancedObject(raw, start)
		if ok && gjson.Valid(candidate) {
			return candidate, true
		}
		offset = start + 1
	}
	return "", false
}

// balancedObject returns the span from the brace at start to its matching
// closing brace.
func balancedObject(raw string, start int) (string, bool) {
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(raw); i++ {
		ch := raw[i]
		if inString {
			if escape {
				escape = false
				continue
			}
			if ch == '\\' {
				escape = true
				continue
			}
			if ch == '"' {
				inString = false
			}
			continue
		}
		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return strings.TrimSpace(raw[start : i+1]), true
			}
		}
	}
	return "", false
}

// fencedBlock returns the body of the first ``` fence, without its language
// tag line.
func fencedBlock(raw string) (string, bool) {
	start := strings.Index(raw, codeFence)
	if start == -1 {
		return "", false
	}
	rest := raw[start+len(codeFence):]
	end := strings.Index(rest, codeFence)
	if end == -1 {
		return "", false
	}
	block := strings.TrimLeft(rest[:end], "\r\n")
	if idx := strings.Index(block, "\n"); idx != -1 {
		first := strings.TrimSpace(block[:idx])
		if first != "" && !strings.ContainsAny(first, "{") {
			block = block[idx+1:]
		}
	} else {
		// single line: "```json {...}```"
		block = strings.TrimPrefix(strings.TrimSpace(block), "json")
	}
	block = strings.TrimSpace(block)
	if block == "" {
		return "", false
	}
	return block, true
}
