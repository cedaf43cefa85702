package model

import "strings"

// ExtractJSON pulls a JSON document out of a model reply.
//
// Markdown code fences are stripped first. If the remaining text still does
// not start with a JSON object or array, the outermost '{...}' or '[...]'
// span is extracted, which tolerates replies that wrap the payload in prose.
// Returns the cleaned text; callers detect actual syntax errors at
// unmarshal time.
func ExtractJSON(text string) string {
	s := strings.TrimSpace(text)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if strings.HasPrefix(s, "{") || strings.HasPrefix(s, "[") {
		return s
	}

	objStart := strings.Index(s, "{")
	arrStart := strings.Index(s, "[")
	start, closer := objStart, "}"
	if arrStart != -1 && (objStart == -1 || arrStart < objStart) {
		start, closer = arrStart, "]"
	}
	if start == -1 {
		return s
	}
	end := strings.LastIndex(s, closer)
	if end <= start {
		return s
	}
	return s[start : end+1]
}
