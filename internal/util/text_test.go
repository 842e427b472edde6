package util

import "testing"

func TestSanitizePostgresText(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "plain utf8",
			input: "hello world",
			want:  "hello world",
		},
		{
			name:  "contains null byte",
			input: "hel\x00lo",
			want:  "hello",
		},
		{
			name:  "contains invalid utf8",
			input: string([]byte{'a', 0xff, 'b'}),
			want:  "ab",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := SanitizePostgresText(tt.input)
			if got != tt.want {
				t.Fatalf("unexpected sanitized value: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSanitizePostgresProps(t *testing.T) {
	in := map[string]any{
		"name":   "Acme\x00 Co",
		"amount": int64(5000),
	}
	got := SanitizePostgresProps(in)
	if got["name"] != "Acme Co" {
		t.Fatalf("unexpected sanitized name: %q", got["name"])
	}
	if got["amount"] != int64(5000) {
		t.Fatalf("non-string value changed: %v", got["amount"])
	}
	if in["name"] != "Acme\x00 Co" {
		t.Fatal("input map was modified")
	}
}
