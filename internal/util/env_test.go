package util

import (
	"testing"
	"time"
)

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("LG_INT", "12")
	t.Setenv("LG_BAD_INT", "twelve")
	t.Setenv("LG_BOOL", "true")
	t.Setenv("LG_DUR", "1500ms")
	t.Setenv("LG_DUR_SECS", "3")

	if got := GetEnvInt("LG_INT", 1); got != 12 {
		t.Fatalf("GetEnvInt = %d, want 12", got)
	}
	if got := GetEnvInt("LG_BAD_INT", 7); got != 7 {
		t.Fatalf("GetEnvInt with bad value = %d, want default 7", got)
	}
	if got := GetEnvInt("LG_MISSING", 5); got != 5 {
		t.Fatalf("GetEnvInt missing = %d, want 5", got)
	}
	if !GetEnvBool("LG_BOOL", false) {
		t.Fatal("GetEnvBool = false, want true")
	}
	if got := GetEnvDuration("LG_DUR", time.Second); got != 1500*time.Millisecond {
		t.Fatalf("GetEnvDuration = %v, want 1.5s", got)
	}
	if got := GetEnvDuration("LG_DUR_SECS", time.Second); got != 3*time.Second {
		t.Fatalf("GetEnvDuration bare seconds = %v, want 3s", got)
	}
	if got := GetEnvString("LG_MISSING", "fallback"); got != "fallback" {
		t.Fatalf("GetEnvString = %q, want fallback", got)
	}
}
