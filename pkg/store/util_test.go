package store

import "testing"

func TestMatches(t *testing.T) {
	props := map[string]any{"registrantId": int64(100), "name": "Lobby LLC"}
	tests := []struct {
		name  string
		match map[string]any
		want  bool
	}{
		{name: "empty match", match: map[string]any{}, want: true},
		{name: "int kinds compare numerically", match: map[string]any{"registrantId": 100}, want: true},
		{name: "string equal", match: map[string]any{"name": "Lobby LLC"}, want: true},
		{name: "string differs", match: map[string]any{"name": "lobby llc"}, want: false},
		{name: "missing key", match: map[string]any{"code": "TAX"}, want: false},
		{name: "type mismatch", match: map[string]any{"registrantId": "100"}, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Matches(props, tt.match); got != tt.want {
				t.Fatalf("expected %v, got %v", tt.want, got)
			}
		})
	}
}

func TestCloneProps(t *testing.T) {
	in := map[string]any{"name": "Acme Co", "desc": nil}
	out := CloneProps(in)
	if _, ok := out["desc"]; ok {
		t.Fatal("expected nil value to be dropped")
	}
	out["name"] = "changed"
	if in["name"] != "Acme Co" {
		t.Fatal("expected input map to be untouched")
	}
}
