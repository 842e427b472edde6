package store

// CloneProps returns a shallow copy of props without nil values. Backends
// store the copy so callers may reuse their maps.
func CloneProps(props map[string]any) map[string]any {
	out := make(map[string]any, len(props))
	for k, v := range props {
		if v == nil {
			continue
		}
		out[k] = v
	}
	return out
}

// Matches reports whether props contains every key/value pair of match.
func Matches(props, match map[string]any) bool {
	for k, want := range match {
		got, ok := props[k]
		if !ok || !equalValue(got, want) {
			return false
		}
	}
	return true
}

// equalValue compares scalar property values. Integer kinds are compared
// numerically so an int64 key matches an int stored by another caller.
func equalValue(a, b any) bool {
	if ai, ok := toInt64(a); ok {
		if bi, ok := toInt64(b); ok {
			return ai == bi
		}
		return false
	}
	return a == b
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	default:
		return 0, false
	}
}
