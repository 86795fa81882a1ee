package griderr

import (
	"errors"
	"strings"
	"testing"
)

func TestRecoverableClassifiesSentinels(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{ErrResourceNotReady, true},
		{ErrAuthError, true},
		{ErrTransient, true},
		{ErrDataStaging, true},
		{ErrUnrecoverable, false},
		{ErrNotFound, false},
		{errors.New("unrelated"), false},
	}
	for _, c := range cases {
		if got := Recoverable(c.err); got != c.want {
			t.Errorf("Recoverable(%v) = %v, want %v", c.err, got, c.want)
		}
	}
}

func TestBackendErrorUnwrapsToKind(t *testing.T) {
	be := NewBackendError("local", ErrTransient, errors.New("dial timeout"))
	if !errors.Is(be, ErrTransient) {
		t.Error("errors.Is should match the wrapped Kind")
	}
	if errors.Is(be, ErrAuthError) {
		t.Error("errors.Is should not match an unrelated sentinel")
	}
	if Recoverable(be) != true {
		t.Error("Recoverable should see through BackendError to its Kind")
	}
}

func TestBackendErrorMessageIncludesBackendAndKind(t *testing.T) {
	be := NewBackendError("ssh-cluster", ErrAuthError, nil)
	msg := be.Error()
	if msg == "" {
		t.Fatal("Error() should not be empty")
	}
	wantSubstrings := []string{"ssh-cluster", "authentication"}
	for _, sub := range wantSubstrings {
		if !strings.Contains(msg, sub) {
			t.Errorf("Error() = %q, want it to contain %q", msg, sub)
		}
	}
}

func TestNilBackendErrorIsSafe(t *testing.T) {
	var be *BackendError
	if be.Error() != "" {
		t.Errorf("nil *BackendError.Error() = %q, want empty", be.Error())
	}
	if be.Unwrap() != nil {
		t.Error("nil *BackendError.Unwrap() should be nil")
	}
	if be.Is(ErrTransient) {
		t.Error("nil *BackendError.Is() should be false")
	}
}
