package gridcfg

import (
	"testing"
	"time"
)

func TestEnvStringFallsBackToDefault(t *testing.T) {
	if got := EnvString("GRIDFORGE_TEST_UNSET_STRING", "fallback"); got != "fallback" {
		t.Errorf("EnvString() = %q, want fallback", got)
	}
	t.Setenv("GRIDFORGE_TEST_STRING", "  set  ")
	if got := EnvString("GRIDFORGE_TEST_STRING", "fallback"); got != "set" {
		t.Errorf("EnvString() = %q, want set (trimmed)", got)
	}
}

func TestEnvIntFallsBackOnUnparseable(t *testing.T) {
	t.Setenv("GRIDFORGE_TEST_INT", "not-a-number")
	if got := EnvInt("GRIDFORGE_TEST_INT", 7); got != 7 {
		t.Errorf("EnvInt() = %d, want the default on unparseable input", got)
	}
	t.Setenv("GRIDFORGE_TEST_INT", "42")
	if got := EnvInt("GRIDFORGE_TEST_INT", 7); got != 42 {
		t.Errorf("EnvInt() = %d, want 42", got)
	}
}

func TestEnvBoolRecognizesTruthyStrings(t *testing.T) {
	for _, v := range []string{"1", "true", "TRUE", "yes", "on"} {
		t.Setenv("GRIDFORGE_TEST_BOOL", v)
		if !EnvBool("GRIDFORGE_TEST_BOOL", false) {
			t.Errorf("EnvBool(%q) = false, want true", v)
		}
	}
	t.Setenv("GRIDFORGE_TEST_BOOL", "nope")
	if EnvBool("GRIDFORGE_TEST_BOOL", true) {
		t.Error("EnvBool(\"nope\") should be false regardless of default")
	}
}

func TestEnvDurationFallsBackOnUnparseable(t *testing.T) {
	t.Setenv("GRIDFORGE_TEST_DURATION", "banana")
	if got := EnvDuration("GRIDFORGE_TEST_DURATION", time.Minute); got != time.Minute {
		t.Errorf("EnvDuration() = %v, want the default on unparseable input", got)
	}
	t.Setenv("GRIDFORGE_TEST_DURATION", "90s")
	if got := EnvDuration("GRIDFORGE_TEST_DURATION", time.Minute); got != 90*time.Second {
		t.Errorf("EnvDuration() = %v, want 90s", got)
	}
}
