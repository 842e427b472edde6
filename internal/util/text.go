package util

import "strings"

// SanitizePostgresText drops invalid UTF-8 and NUL bytes, which PostgreSQL
// rejects in text and jsonb values.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}

	sanitized := strings.ToValidUTF8(value, "")
	return strings.ReplaceAll(sanitized, "\x00", "")
}

// SanitizePostgresProps applies SanitizePostgresText to every string value
// of a property map. The input map is not modified.
func SanitizePostgresProps(props map[string]any) map[string]any {
	if len(props) == 0 {
		return props
	}
	out := make(map[string]any, len(props))
	for k, v := range props {
		if s, ok := v.(string); ok {
			out[k] = SanitizePostgresText(s)
			continue
		}
		out[k] = v
	}
	return out
}
