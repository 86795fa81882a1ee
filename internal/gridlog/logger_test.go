package gridlog

import (
	"testing"
)

func TestSanitizeKVsRedactsSensitiveKeys(t *testing.T) {
	in := []interface{}{"password", "hunter2", "api_token", "abc123", "note", "fine"}
	out := sanitizeKVs(in)

	want := map[string]interface{}{
		"password":  "[REDACTED]",
		"api_token": "[REDACTED]",
		"note":      "fine",
	}
	got := map[string]interface{}{}
	for i := 0; i < len(out); i += 2 {
		got[out[i].(string)] = out[i+1]
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("sanitizeKVs()[%q] = %v, want %v", k, got[k], v)
		}
	}
}

func TestSanitizeKVsHashesSessionAndOwnerKeys(t *testing.T) {
	out := sanitizeKVs([]interface{}{"session_id", "abc", "owner_user_id", "abc"})
	if out[1] == "abc" || out[3] == "abc" {
		t.Error("session_id/owner_user_id values should be hashed, not passed through")
	}
	if out[1] != out[3] {
		t.Error("hashing the same raw value should be deterministic")
	}
}

func TestSanitizeKVsLeavesOddTrailingKeyAlone(t *testing.T) {
	out := sanitizeKVs([]interface{}{"password", "secret", "dangling"})
	if len(out) != 3 {
		t.Fatalf("sanitizeKVs() length = %d, want 3", len(out))
	}
	if out[2] != "dangling" {
		t.Errorf("trailing unpaired key = %v, want dangling", out[2])
	}
}

func TestSanitizeKVsEmptyInputPassesThrough(t *testing.T) {
	if out := sanitizeKVs(nil); out != nil {
		t.Errorf("sanitizeKVs(nil) = %v, want nil", out)
	}
}

func TestNopLoggerMethodsDoNotPanic(t *testing.T) {
	l := Nop()
	l.Debug("msg", "key", "value")
	l.Info("msg")
	l.Warn("msg", "password", "x")
	l.Error("msg")
	l.With("component", "test").Info("msg")
	l.Sync()
}

func TestNilLoggerSyncAndWithAreSafe(t *testing.T) {
	var l *Logger
	l.Sync()
	if got := l.With("k", "v"); got != nil {
		t.Errorf("With() on a nil Logger = %v, want nil", got)
	}
}

func TestNewSelectsConfigByMode(t *testing.T) {
	for _, mode := range []string{"prod", "production", "dev", "", "anything"} {
		l, err := New(mode)
		if err != nil {
			t.Fatalf("New(%q): %v", mode, err)
		}
		if l == nil || l.SugaredLogger == nil {
			t.Fatalf("New(%q) returned an unusable Logger", mode)
		}
		l.Sync()
	}
}
