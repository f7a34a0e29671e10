package analysis

import "strings"

const codeFence = "```"

// extractJSONObject returns the first top-level JSON object in text, ignoring
// markdown code fences and any prose around it. balanced is false when the
// text ends before the object closes, which usually means truncated output.
func extractJSONObject(text string) (object string, balanced bool, ok bool) {
	body := stripCodeFence(text)

	start := strings.IndexByte(body, '{')
	if start < 0 {
		return "", false, false
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(body); i++ {
		ch := body[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
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
				return body[start : i+1], true, true
			}
		}
	}
	return strings.TrimSpace(body[start:]), false, true
}

// stripCodeFence returns the contents of the first fenced block, or text
// unchanged when it has no fence. A missing closing fence keeps the rest.
func stripCodeFence(text string) string {
	open := strings.Index(text, codeFence)
	if open < 0 {
		return text
	}
	rest := text[open+len(codeFence):]
	if newline := strings.IndexByte(rest, '\n'); newline >= 0 && !strings.Contains(rest[:newline], "{") {
		// Drop the info string, e.g. ```json.
		rest = rest[newline+1:]
	}
	if end := strings.Index(rest, codeFence); end >= 0 {
		rest = rest[:end]
	}
	if strings.IndexByte(rest, '{') < 0 {
		return text
	}
	return rest
}
