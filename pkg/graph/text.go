package graph

import "strings"

// Normalize trims s and flattens embedded line breaks: CRLF becomes ", "
// and a bare LF becomes two spaces. It returns false when nothing is left.
func Normalize(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", false
	}
	s = strings.ReplaceAll(s, "\r\n", ", ")
	s = strings.ReplaceAll(s, "\n", "  ")
	return s, true
}

func setText(props map[string]any, key, raw string) {
	if v, ok := Normalize(raw); ok {
		props[key] = v
	}
}

// parseFlag reads "true"/"false" case-insensitively. Anything else is false.
func parseFlag(raw string) bool {
	return strings.EqualFold(strings.TrimSpace(raw), "true")
}
